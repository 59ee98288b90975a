/*
# Module: handlers/payments.go
Payer-facing endpoints: PayPal order creation and capture, and the fee-free
subscriber alert.

## Linked Modules
- [clients/paypal](../clients/paypal.go) - Payment provider
- [clients/twitch](../clients/twitch.go) - Identity provider
- [services/worker](../services/worker.go) - Durable ingestion jobs
- [services/bans](../services/bans.go) - Payer ban list

## Tags
http, payments, paypal, twitch

## Exports
(None - handlers registered by NewRouter)

<!-- LinkedDoc RDF -->
@prefix code: <https://schema.codedoc.org/> .
<this> a code:Module ;
    code:name "handlers/payments.go" ;
    code:description "Payer-facing endpoints: PayPal order creation and capture, and the fee-free subscriber alert" ;
    code:linksTo [
        code:name "clients/paypal" ;
        code:path "../clients/paypal.go" ;
        code:relationship "Payment provider"
    ], [
        code:name "clients/twitch" ;
        code:path "../clients/twitch.go" ;
        code:relationship "Identity provider"
    ], [
        code:name "services/worker" ;
        code:path "../services/worker.go" ;
        code:relationship "Durable ingestion jobs"
    ], [
        code:name "services/bans" ;
        code:path "../services/bans.go" ;
        code:relationship "Payer ban list"
    ] ;
    code:tags "http", "payments", "paypal", "twitch" .
<!-- End LinkedDoc RDF -->
*/
package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"donation-alerts/clients"
	"donation-alerts/services"
	"donation-alerts/storage"
	"donation-alerts/types"
)

const (
	maxNameLength    = 50
	maxMessageLength = 500
	draftTTL         = 24 * time.Hour
)

type donationRequest struct {
	Name       string       `json:"name"`
	Message    string       `json:"message"`
	Amount     types.Amount `json:"amount"`
	MediaURL   string       `json:"media_url"`
	MediaStart int          `json:"media_start"`
}

// validate trims the free-text fields and returns a client-facing problem
func (req *donationRequest) validate(requireAmount bool) string {
	req.Name = strings.TrimSpace(req.Name)
	req.Message = strings.TrimSpace(req.Message)
	req.MediaURL = strings.TrimSpace(req.MediaURL)

	if requireAmount && !req.Amount.IsPositive() {
		return "amount must be greater than zero"
	}
	if utf8.RuneCountInString(req.Name) > maxNameLength {
		return "name is too long"
	}
	if utf8.RuneCountInString(req.Message) > maxMessageLength {
		return "message is too long"
	}
	if req.MediaURL != "" && services.ExtractVideoID(req.MediaURL) == "" {
		return "invalid media url"
	}
	if req.MediaStart < 0 {
		return "media start must not be negative"
	}
	return ""
}

func (s *server) providerError(w http.ResponseWriter, r *http.Request, op string, err error) {
	if errors.Is(err, clients.ErrNotConfigured) {
		s.writeError(w, r, err)
		return
	}
	s.logger.Error().Err(err).Str("op", op).Msg("❌ payment provider call failed")
	writeMessage(w, http.StatusBadGateway, "payment failed, please try again")
}

// donationsClosed writes 400 DONATIONS_DISABLED when the operator has turned
// donations off
func (s *server) donationsClosed(w http.ResponseWriter, r *http.Request) bool {
	settings, err := s.deps.Settings.LoadChannelSettings(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return true
	}
	if settings.DonationsEnabled {
		return false
	}
	writeJSON(w, http.StatusBadRequest, map[string]string{
		"error": "donations are currently disabled",
		"code":  "DONATIONS_DISABLED",
	})
	return true
}

// handleCreateOrder handles POST /api/paypal/create-order
func (s *server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req donationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if problem := req.validate(true); problem != "" {
		writeMessage(w, http.StatusBadRequest, problem)
		return
	}
	if s.donationsClosed(w, r) {
		return
	}

	order, err := s.deps.Payments.CreateOrder(r.Context(), req.Amount.Display(), s.cfg.Currency)
	if err != nil {
		s.providerError(w, r, "create_order", err)
		return
	}

	now := time.Now().UTC()
	draft := types.DonationDraft{
		OrderID:        order.ID,
		Name:           req.Name,
		Message:        req.Message,
		Amount:         req.Amount,
		Currency:       s.cfg.Currency,
		MediaURL:       req.MediaURL,
		MediaStartSecs: req.MediaStart,
		CreatedAt:      now,
		ExpiresAtUnix:  now.Add(draftTTL).Unix(),
	}
	if err := s.deps.Drafts.SaveDraft(r.Context(), draft); err != nil {
		s.writeError(w, r, err)
		return
	}

	s.logger.Info().Str("order_id", order.ID).Str("amount", req.Amount.Display()).Msg("🧾 order created")
	writeJSON(w, http.StatusOK, map[string]string{"id": order.ID, "status": order.Status})
}

// alreadyProcessed reports whether the order reached a queue or a job
func (s *server) alreadyProcessed(r *http.Request, orderID string) (bool, error) {
	exists, err := s.deps.Donations.ExistsOrder(r.Context(), orderID)
	if err != nil || exists {
		return exists, err
	}
	_, err = s.deps.JobStore.GetJob(r.Context(), orderID)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	return false, err
}

// handleCaptureOrder handles POST /api/paypal/capture-order
func (s *server) handleCaptureOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OrderID string `json:"order_id"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	req.OrderID = strings.TrimSpace(req.OrderID)
	if req.OrderID == "" {
		writeMessage(w, http.StatusBadRequest, "order_id is required")
		return
	}
	ctx := r.Context()

	done, err := s.alreadyProcessed(r, req.OrderID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if done {
		writeJSON(w, http.StatusOK, map[string]string{"status": "already_processed", "order_id": req.OrderID})
		return
	}

	draft, err := s.deps.Drafts.GetDraft(ctx, req.OrderID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	details, err := s.deps.Payments.GetOrderDetails(ctx, req.OrderID)
	if err != nil {
		s.providerError(w, r, "get_order", err)
		return
	}
	if details.Status != clients.OrderApproved && details.Status != clients.OrderCompleted {
		writeMessage(w, http.StatusBadRequest, "order is not approved")
		return
	}

	if banned, _ := s.deps.Bans.IsBanned(types.BanPayer, details.PayerToken); banned {
		s.logger.Warn().Str("order_id", req.OrderID).Msg("🚫 capture refused for banned payer")
		forbidden(w)
		return
	}

	captured := details
	if details.Status != clients.OrderCompleted {
		captured, err = s.deps.Payments.CaptureOrder(ctx, req.OrderID)
		if err != nil {
			s.providerError(w, r, "capture_order", err)
			return
		}
		if captured.Status != clients.OrderCompleted {
			s.logger.Warn().Str("order_id", req.OrderID).Str("status", captured.Status).Msg("⚠️  capture did not complete")
			writeMessage(w, http.StatusBadGateway, "payment failed, please try again")
			return
		}
	}

	amount := draft.Amount
	if captured.Amount != "" {
		if parsed, err := types.NewAmount(captured.Amount); err == nil && parsed.IsPositive() {
			amount = parsed
		}
	}
	currency := draft.Currency
	if captured.Currency != "" {
		currency = captured.Currency
	}
	payer := captured.PayerToken
	if payer == "" {
		payer = details.PayerToken
	}

	conf := types.PaymentConfirmation{
		OrderID:        req.OrderID,
		PayerToken:     payer,
		Source:         "paypal",
		Name:           draft.Name,
		Message:        draft.Message,
		Amount:         amount,
		Currency:       currency,
		MediaURL:       draft.MediaURL,
		MediaStartSecs: draft.MediaStartSecs,
		CapturedAt:     time.Now().UTC(),
	}
	if _, err := s.deps.Jobs.Submit(ctx, conf); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.deps.Drafts.DeleteDraft(ctx, req.OrderID); err != nil {
		s.logger.Warn().Err(err).Str("order_id", req.OrderID).Msg("⚠️  failed to delete draft")
	}

	s.logger.Info().Str("order_id", req.OrderID).Str("amount", amount.Display()).Msg("💰 payment captured")
	writeJSON(w, http.StatusOK, map[string]string{"status": "captured", "order_id": req.OrderID})
}

// handleFreeAlert handles POST /api/twitch/free-alert
func (s *server) handleFreeAlert(w http.ResponseWriter, r *http.Request) {
	bearer := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
	if bearer == "" {
		forbidden(w)
		return
	}

	var req donationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if problem := req.validate(false); problem != "" {
		writeMessage(w, http.StatusBadRequest, problem)
		return
	}
	if s.donationsClosed(w, r) {
		return
	}
	ctx := r.Context()

	identity, err := s.deps.Identity.Resolve(ctx, bearer)
	if err != nil {
		if errors.Is(err, clients.ErrNotConfigured) {
			s.writeError(w, r, err)
			return
		}
		s.logger.Error().Err(err).Msg("❌ identity lookup failed")
		writeMessage(w, http.StatusBadGateway, "identity provider unavailable")
		return
	}
	if identity == nil || identity.Tier < 1 {
		forbidden(w)
		return
	}

	payer := "twitch:" + identity.UserID
	if banned, _ := s.deps.Bans.IsBanned(types.BanPayer, payer); banned {
		s.logger.Warn().Str("user_id", identity.UserID).Msg("🚫 free alert refused for banned payer")
		forbidden(w)
		return
	}

	name := req.Name
	if name == "" {
		name = identity.Login
	}
	conf := types.PaymentConfirmation{
		OrderID:        "twitch-" + uuid.New().String(),
		PayerToken:     payer,
		Source:         "twitch",
		Name:           name,
		Message:        req.Message,
		Amount:         s.cfg.TwitchCredit,
		Currency:       s.cfg.Currency,
		MediaURL:       req.MediaURL,
		MediaStartSecs: req.MediaStart,
		CapturedAt:     time.Now().UTC(),
	}
	if _, err := s.deps.Jobs.Submit(ctx, conf); err != nil {
		s.writeError(w, r, err)
		return
	}

	s.logger.Info().Str("order_id", conf.OrderID).Str("user_id", identity.UserID).Int("tier", identity.Tier).Msg("🎁 subscriber alert queued")
	writeJSON(w, http.StatusOK, map[string]string{"status": "queued", "order_id": conf.OrderID})
}
