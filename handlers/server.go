/*
# Module: handlers/server.go
HTTP router wiring every endpoint, plus shared JSON and error helpers.

## Linked Modules
- [handlers/middleware](./middleware.go) - Access log, rate limiting, roles
- [handlers/auth](./auth.go) - Admin session
- [services/processing](../services/processing.go) - Processing state machine
- [services/ingestion](../services/ingestion.go) - Ingestion pipeline
- [alerts/hub](../alerts/hub.go) - Websocket hub

## Tags
http, router, api

## Exports
Deps, Config, NewRouter, PaymentProvider, IdentityProvider, JobSubmitter

<!-- LinkedDoc RDF -->
@prefix code: <https://schema.codedoc.org/> .
<this> a code:Module ;
    code:name "handlers/server.go" ;
    code:description "HTTP router wiring every endpoint, plus shared JSON and error helpers" ;
    code:linksTo [
        code:name "handlers/middleware" ;
        code:path "./middleware.go" ;
        code:relationship "Access log, rate limiting, roles"
    ], [
        code:name "handlers/auth" ;
        code:path "./auth.go" ;
        code:relationship "Admin session"
    ], [
        code:name "services/processing" ;
        code:path "../services/processing.go" ;
        code:relationship "Processing state machine"
    ], [
        code:name "services/ingestion" ;
        code:path "../services/ingestion.go" ;
        code:relationship "Ingestion pipeline"
    ], [
        code:name "alerts/hub" ;
        code:path "../alerts/hub.go" ;
        code:relationship "Websocket hub"
    ] ;
    code:exports :Deps, :Config, :NewRouter, :PaymentProvider, :IdentityProvider, :JobSubmitter ;
    code:tags "http", "router", "api" .
<!-- End LinkedDoc RDF -->
*/
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"donation-alerts/alerts"
	"donation-alerts/clients"
	"donation-alerts/moderation"
	"donation-alerts/services"
	"donation-alerts/storage"
	"donation-alerts/types"
)

// PaymentProvider creates and captures orders
type PaymentProvider interface {
	CreateOrder(ctx context.Context, amount, currency string) (*clients.Order, error)
	CaptureOrder(ctx context.Context, orderID string) (*clients.Order, error)
	GetOrderDetails(ctx context.Context, orderID string) (*clients.Order, error)
}

// IdentityProvider resolves a viewer credential; nil means invalid
type IdentityProvider interface {
	Resolve(ctx context.Context, bearer string) (*clients.TwitchIdentity, error)
}

// JobSubmitter hands a confirmation to the background ingestion worker
type JobSubmitter interface {
	Submit(ctx context.Context, conf types.PaymentConfirmation) (bool, error)
}

// Config holds the HTTP-facing settings
type Config struct {
	Currency       string
	TwitchCredit   types.Amount
	RateRPS        float64
	RateBurst      int
	StorageBackend string
}

// Deps are the collaborators of the HTTP layer
type Deps struct {
	Processor *services.Processor
	Ingestor  *services.Ingestor
	Jobs      JobSubmitter
	Bans      *services.BanManager
	Filter    *moderation.Filter
	Hub       *alerts.Hub
	Auth      *AdminAuth
	Payments  PaymentProvider
	Identity  IdentityProvider

	Donations storage.QueueRepository[types.DonationItem]
	Settings  storage.SettingsRepository
	Terms     storage.TermRepository
	Drafts    storage.DraftRepository
	JobStore  storage.JobRepository
}

type server struct {
	deps   Deps
	cfg    Config
	logger zerolog.Logger
}

// NewRouter builds the chi router for the whole API
func NewRouter(deps Deps, cfg Config, logger zerolog.Logger) http.Handler {
	s := &server{
		deps:   deps,
		cfg:    cfg,
		logger: logger.With().Str("component", "http").Logger(),
	}
	limiter := newIPRateLimiter(cfg.RateRPS, cfg.RateBurst)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(accessLog(s.logger))

	r.Get("/api/health", HandleHealth(cfg.StorageBackend, deps.Hub))
	r.Handle("/ws", deps.Hub)

	// payer-facing
	r.Group(func(r chi.Router) {
		r.Use(limiter.middleware)
		r.Post("/api/paypal/create-order", s.handleCreateOrder)
		r.Post("/api/paypal/capture-order", s.handleCaptureOrder)
		r.Post("/api/twitch/free-alert", s.handleFreeAlert)
	})

	r.With(requireRole(deps.Hub, deps.Auth, alerts.RoleOverlay, alerts.RoleAdmin)).Get("/api/status", s.handleStatus)

	r.Route("/api/{queue}", func(r chi.Router) {
		r.Use(queueKind)

		r.Group(func(r chi.Router) {
			r.Use(requireRole(deps.Hub, deps.Auth, alerts.RoleOverlay))
			r.Get("/next", s.handleNext)
			r.Post("/start", s.handleStart)
			r.Post("/finish", s.handleFinish)
		})

		r.Group(func(r chi.Router) {
			r.Use(requireRole(deps.Hub, deps.Auth, alerts.RoleAdmin))
			r.Post("/skip", s.handleSkip)
			r.Post("/pause", s.handlePause)
			r.Post("/resume", s.handleResume)
			r.Post("/recover", s.handleRecover)
			r.Get("/items", s.handleItems)
			r.Get("/history", s.handleHistory)
		})

		r.With(requireRole(deps.Hub, deps.Auth, alerts.RoleOverlay, alerts.RoleAdmin)).Get("/{id}/card.png", s.handleCard)
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(requireOrigin(deps.Hub, alerts.RoleAdmin))
		r.With(limiter.middleware).Post("/login", deps.Auth.HandleLogin)
		r.Post("/logout", deps.Auth.HandleLogout)

		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.requireSession)

			r.Get("/settings", s.handleGetSettings)
			r.Put("/settings", s.handlePutSettings)

			r.Get("/terms", s.handleListTerms)
			r.Post("/terms", s.handleAddTerm)
			r.Delete("/terms", s.handleRemoveTerm)

			r.Get("/bans/{kind}", s.handleListBans)
			r.Post("/bans/{kind}", s.handleBan)
			r.Delete("/bans/{kind}", s.handleUnban)

			r.Post("/filter/test", s.handleFilterTest)
			r.Get("/filter/stats", s.handleFilterStats)
			r.Post("/filter/cache/clear", s.handleFilterCacheClear)

			r.Post("/donations", s.handleAdminDonation)
			r.Post("/media", s.handleManualMedia)
			r.Get("/jobs", s.handleListJobs)
			r.With(queueKind).Post("/{queue}/history/{id}/replay", s.handleReplay)
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func forbidden(w http.ResponseWriter) {
	writeMessage(w, http.StatusForbidden, "forbidden")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 64<<10)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// writeError maps service and storage errors onto HTTP responses
func (s *server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var conflict *services.ConflictError
	switch {
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, map[string]string{
			"error":           "conflict",
			"current_item_id": conflict.CurrentItemID,
		})
	case errors.Is(err, services.ErrPaused):
		writeMessage(w, http.StatusConflict, "paused")
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, services.ErrUnknownQueue):
		writeMessage(w, http.StatusNotFound, "not found")
	case errors.Is(err, services.ErrBanned):
		forbidden(w)
	case errors.Is(err, services.ErrInvalidMedia):
		writeMessage(w, http.StatusBadRequest, "invalid media url")
	case errors.Is(err, clients.ErrNotConfigured):
		s.logger.Error().Err(err).Str("path", r.URL.Path).Msg("❌ required integration is not configured")
		writeMessage(w, http.StatusServiceUnavailable, "service not configured")
	default:
		s.logger.Error().Err(err).Str("path", r.URL.Path).Msg("❌ request failed")
		writeMessage(w, http.StatusInternalServerError, "internal error")
	}
}
