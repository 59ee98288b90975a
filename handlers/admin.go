/*
# Module: handlers/admin.go
Operator endpoints: channel settings, banned terms, ban lists, filter tools,
operator donations, manual media, replay and the ingestion job list.

## Linked Modules
- [moderation/filter](../moderation/filter.go) - Content filter
- [services/bans](../services/bans.go) - Ban lists
- [services/ingestion](../services/ingestion.go) - Manual media and replay

## Tags
http, admin, moderation, settings

## Exports
(None - handlers registered by NewRouter)

<!-- LinkedDoc RDF -->
@prefix code: <https://schema.codedoc.org/> .
<this> a code:Module ;
    code:name "handlers/admin.go" ;
    code:description "Operator endpoints: channel settings, banned terms, ban lists, filter tools, operator donations, manual media, replay and the ingestion job list" ;
    code:linksTo [
        code:name "moderation/filter" ;
        code:path "../moderation/filter.go" ;
        code:relationship "Content filter"
    ], [
        code:name "services/bans" ;
        code:path "../services/bans.go" ;
        code:relationship "Ban lists"
    ], [
        code:name "services/ingestion" ;
        code:path "../services/ingestion.go" ;
        code:relationship "Manual media and replay"
    ] ;
    code:tags "http", "admin", "moderation", "settings" .
<!-- End LinkedDoc RDF -->
*/
package handlers

import (
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"donation-alerts/services"
	"donation-alerts/types"
)

const (
	adminActor = "admin"
	adminPayer = "ADMIN"
)

// handleGetSettings handles GET /api/admin/settings
func (s *server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.deps.Settings.LoadChannelSettings(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

// handlePutSettings handles PUT /api/admin/settings
func (s *server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.deps.Settings.LoadChannelSettings(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	// fields absent from the body keep their saved values
	if !decodeJSON(w, r, &settings) {
		return
	}
	if settings.FilterStrictness < 0 || settings.FilterStrictness > 100 {
		writeMessage(w, http.StatusBadRequest, "filter_strictness must be between 0 and 100")
		return
	}
	settings.UpdatedAt = time.Now().UTC()
	if err := s.deps.Settings.SaveChannelSettings(r.Context(), settings); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.Info().
		Bool("donations", settings.DonationsEnabled).
		Bool("filter", settings.FilterEnabled).
		Bool("ai", settings.AIFilterEnabled).
		Int("strictness", settings.FilterStrictness).
		Bool("media", settings.MediaRequestsEnabled).
		Msg("⚙️  channel settings updated")
	writeJSON(w, http.StatusOK, settings)
}

type termRequest struct {
	Term string `json:"term"`
}

// handleListTerms handles GET /api/admin/terms
func (s *server) handleListTerms(w http.ResponseWriter, r *http.Request) {
	terms, err := s.deps.Terms.ListTerms(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"terms": terms})
}

// handleAddTerm handles POST /api/admin/terms
func (s *server) handleAddTerm(w http.ResponseWriter, r *http.Request) {
	var req termRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	term := strings.ToLower(strings.TrimSpace(req.Term))
	if term == "" || utf8.RuneCountInString(term) > 100 {
		writeMessage(w, http.StatusBadRequest, "term must be 1-100 characters")
		return
	}
	entry := types.BannedTerm{Term: term, AddedAt: time.Now().UTC(), AddedBy: adminActor}
	if err := s.deps.Terms.AddTerm(r.Context(), entry); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.Info().Str("term", term).Msg("🚫 banned term added")
	writeJSON(w, http.StatusCreated, entry)
}

// handleRemoveTerm handles DELETE /api/admin/terms
func (s *server) handleRemoveTerm(w http.ResponseWriter, r *http.Request) {
	var req termRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	term := strings.ToLower(strings.TrimSpace(req.Term))
	if term == "" {
		writeMessage(w, http.StatusBadRequest, "term is required")
		return
	}
	if err := s.deps.Terms.RemoveTerm(r.Context(), term); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.Info().Str("term", term).Msg("✅ banned term removed")
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

func banKind(w http.ResponseWriter, r *http.Request) (types.BanKind, bool) {
	switch kind := types.BanKind(chi.URLParam(r, "kind")); kind {
	case types.BanPayer, types.BanVideo:
		return kind, true
	}
	writeMessage(w, http.StatusNotFound, "not found")
	return "", false
}

// banValue accepts a full video URL for video bans
func banValue(kind types.BanKind, raw string) string {
	value := strings.TrimSpace(raw)
	if kind == types.BanVideo {
		if id := services.ExtractVideoID(value); id != "" {
			return id
		}
	}
	return value
}

// handleListBans handles GET /api/admin/bans/{kind}
func (s *server) handleListBans(w http.ResponseWriter, r *http.Request) {
	kind, ok := banKind(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"bans": s.deps.Bans.List(kind)})
}

// handleBan handles POST /api/admin/bans/{kind}
func (s *server) handleBan(w http.ResponseWriter, r *http.Request) {
	kind, ok := banKind(w, r)
	if !ok {
		return
	}
	var req struct {
		Value         string  `json:"value"`
		Reason        string  `json:"reason"`
		DurationHours float64 `json:"duration_hours"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	value := banValue(kind, req.Value)
	if value == "" || req.DurationHours < 0 {
		writeMessage(w, http.StatusBadRequest, "value is required and duration must not be negative")
		return
	}

	duration := time.Duration(req.DurationHours * float64(time.Hour))
	ban, err := s.deps.Bans.Ban(r.Context(), kind, value, duration, strings.TrimSpace(req.Reason), adminActor)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ban)
}

// handleUnban handles DELETE /api/admin/bans/{kind}
func (s *server) handleUnban(w http.ResponseWriter, r *http.Request) {
	kind, ok := banKind(w, r)
	if !ok {
		return
	}
	var req struct {
		Value string `json:"value"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	value := banValue(kind, req.Value)
	if value == "" {
		writeMessage(w, http.StatusBadRequest, "value is required")
		return
	}
	if err := s.deps.Bans.Unban(r.Context(), kind, value); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

// handleFilterTest handles POST /api/admin/filter/test
func (s *server) handleFilterTest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	ctx := r.Context()

	settings, err := s.deps.Settings.LoadChannelSettings(ctx)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	terms, err := s.deps.Ingestor.TermList(ctx)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	result := s.deps.Filter.Check(ctx, req.Text, terms, s.deps.Ingestor.FilterOptions(settings))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"result":         result,
		"filter_enabled": settings.FilterEnabled,
		"term_count":     len(terms),
	})
}

// handleFilterStats handles GET /api/admin/filter/stats
func (s *server) handleFilterStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Filter.Stats())
}

// handleFilterCacheClear handles POST /api/admin/filter/cache/clear
func (s *server) handleFilterCacheClear(w http.ResponseWriter, r *http.Request) {
	s.deps.Filter.ClearCache()
	s.logger.Info().Msg("🧹 moderation cache cleared")
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// handleManualMedia handles POST /api/admin/media
func (s *server) handleManualMedia(w http.ResponseWriter, r *http.Request) {
	var req services.ManualMedia
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.StartSeconds < 0 {
		writeMessage(w, http.StatusBadRequest, "start_seconds must not be negative")
		return
	}
	item, err := s.deps.Ingestor.EnqueueMedia(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

type adminDonationRequest struct {
	donationRequest
	BypassFilter bool `json:"bypass_filter"`
}

// handleAdminDonation handles POST /api/admin/donations. The donation goes
// through the same background job as a captured payment.
func (s *server) handleAdminDonation(w http.ResponseWriter, r *http.Request) {
	var req adminDonationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if problem := req.validate(true); problem != "" {
		writeMessage(w, http.StatusBadRequest, problem)
		return
	}
	if req.Name == "" {
		writeMessage(w, http.StatusBadRequest, "name is required")
		return
	}

	conf := types.PaymentConfirmation{
		OrderID:        "ADMIN-" + uuid.New().String(),
		PayerToken:     adminPayer,
		Source:         "admin",
		Name:           req.Name,
		Message:        req.Message,
		Amount:         req.Amount,
		Currency:       s.cfg.Currency,
		MediaURL:       req.MediaURL,
		MediaStartSecs: req.MediaStart,
		BypassFilter:   req.BypassFilter,
		CapturedAt:     time.Now().UTC(),
	}
	if _, err := s.deps.Jobs.Submit(r.Context(), conf); err != nil {
		s.writeError(w, r, err)
		return
	}

	s.logger.Info().
		Str("order_id", conf.OrderID).
		Str("amount", req.Amount.Display()).
		Bool("bypass_filter", req.BypassFilter).
		Msg("🎁 operator donation queued")
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued", "order_id": conf.OrderID})
}

// handleReplay handles POST /api/admin/{queue}/history/{id}/replay
func (s *server) handleReplay(w http.ResponseWriter, r *http.Request) {
	item, err := s.deps.Ingestor.Replay(r.Context(), kindFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

// handleListJobs handles GET /api/admin/jobs?status=
func (s *server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.deps.JobStore.ListJobs(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": jobs})
}
