/*
# Module: handlers/queue.go
Overlay pull and processing endpoints plus operator queue controls.

## Linked Modules
- [services/processing](../services/processing.go) - Processing state machine
- [services/alertcard](../services/alertcard.go) - PNG alert cards

## Tags
http, queue, overlay, processing

## Exports
(None - handlers registered by NewRouter)

<!-- LinkedDoc RDF -->
@prefix code: <https://schema.codedoc.org/> .
<this> a code:Module ;
    code:name "handlers/queue.go" ;
    code:description "Overlay pull and processing endpoints plus operator queue controls" ;
    code:linksTo [
        code:name "services/processing" ;
        code:path "../services/processing.go" ;
        code:relationship "Processing state machine"
    ], [
        code:name "services/alertcard" ;
        code:path "../services/alertcard.go" ;
        code:relationship "PNG alert cards"
    ] ;
    code:tags "http", "queue", "overlay", "processing" .
<!-- End LinkedDoc RDF -->
*/
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"donation-alerts/services"
	"donation-alerts/storage"
	"donation-alerts/types"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

type itemRequest struct {
	ItemID string `json:"item_id"`
}

// decodeItem reads {item_id}; an empty body is allowed when optional is set
func decodeItem(w http.ResponseWriter, r *http.Request, optional bool) (string, bool) {
	var req itemRequest
	r.Body = http.MaxBytesReader(w, r.Body, 64<<10)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request body")
		return "", false
	}
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeMessage(w, http.StatusBadRequest, "invalid request body")
			return "", false
		}
	}
	req.ItemID = strings.TrimSpace(req.ItemID)
	if req.ItemID == "" && !optional {
		writeMessage(w, http.StatusBadRequest, "item_id is required")
		return "", false
	}
	return req.ItemID, true
}

func listLimit(r *http.Request) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

// handleStatus handles GET /api/status
func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	statuses, err := s.deps.Processor.StatusAll(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	for i := range statuses {
		statuses[i].Head = types.ForOverlay(statuses[i].Head)
		statuses[i].Current = types.ForOverlay(statuses[i].Current)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"queues": statuses})
}

// handleNext handles GET /api/{queue}/next
func (s *server) handleNext(w http.ResponseWriter, r *http.Request) {
	item, err := s.deps.Processor.Next(r.Context(), kindFrom(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"item": types.ForOverlay(item)})
}

// handleStart handles POST /api/{queue}/start
func (s *server) handleStart(w http.ResponseWriter, r *http.Request) {
	id, ok := decodeItem(w, r, false)
	if !ok {
		return
	}
	state, err := s.deps.Processor.Start(r.Context(), kindFrom(r), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "started", "state": state})
}

// handleFinish handles POST /api/{queue}/finish
func (s *server) handleFinish(w http.ResponseWriter, r *http.Request) {
	id, ok := decodeItem(w, r, false)
	if !ok {
		return
	}
	moved, err := s.deps.Processor.Finish(r.Context(), kindFrom(r), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "finished", "moved": moved})
}

// handleSkip handles POST /api/{queue}/skip
func (s *server) handleSkip(w http.ResponseWriter, r *http.Request) {
	id, ok := decodeItem(w, r, true)
	if !ok {
		return
	}
	skipped, err := s.deps.Processor.Skip(r.Context(), kindFrom(r), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "skipped", "item_id": skipped})
}

// handlePause handles POST /api/{queue}/pause
func (s *server) handlePause(w http.ResponseWriter, r *http.Request) {
	state, err := s.deps.Processor.Pause(r.Context(), kindFrom(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// handleResume handles POST /api/{queue}/resume
func (s *server) handleResume(w http.ResponseWriter, r *http.Request) {
	state, err := s.deps.Processor.Resume(r.Context(), kindFrom(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// handleRecover handles POST /api/{queue}/recover
func (s *server) handleRecover(w http.ResponseWriter, r *http.Request) {
	state, err := s.deps.Processor.Recover(r.Context(), kindFrom(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// handleItems handles GET /api/{queue}/items
func (s *server) handleItems(w http.ResponseWriter, r *http.Request) {
	q, err := s.deps.Processor.Queue(kindFrom(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	items, err := q.Pending(r.Context(), listLimit(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

// handleHistory handles GET /api/{queue}/history
func (s *server) handleHistory(w http.ResponseWriter, r *http.Request) {
	q, err := s.deps.Processor.Queue(kindFrom(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	items, err := q.History(r.Context(), listLimit(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

// handleCard handles GET /api/donations/{id}/card.png
func (s *server) handleCard(w http.ResponseWriter, r *http.Request) {
	if kindFrom(r) != types.QueueDonation {
		writeMessage(w, http.StatusNotFound, "not found")
		return
	}
	id := chi.URLParam(r, "id")
	ctx := r.Context()

	item, err := s.deps.Donations.Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		item, err = s.deps.Donations.GetHistory(ctx, id)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	png, err := services.RenderAlertCard(*item)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}
