/*
# Module: handlers/health.go
Health check endpoint handler.

## Linked Modules
- [alerts/hub](../alerts/hub.go) - Connected client counts

## Tags
http, health, api

## Exports
HandleHealth

<!-- LinkedDoc RDF -->
@prefix code: <https://schema.codedoc.org/> .
<this> a code:Module ;
    code:name "handlers/health.go" ;
    code:description "Health check endpoint handler" ;
    code:linksTo [
        code:name "alerts/hub" ;
        code:path "../alerts/hub.go" ;
        code:relationship "Connected client counts"
    ] ;
    code:exports :HandleHealth ;
    code:tags "http", "health", "api" .
<!-- End LinkedDoc RDF -->
*/
package handlers

import (
	"net/http"

	"donation-alerts/alerts"
)

// HandleHealth handles GET /api/health
// Reports the storage backend and connected websocket clients
func HandleHealth(backend string, hub *alerts.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clients := map[alerts.Role]int{}
		if hub != nil {
			clients = hub.Counts()
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":            "ok",
			"storage":           backend,
			"websocket_clients": clients,
		})
	}
}
