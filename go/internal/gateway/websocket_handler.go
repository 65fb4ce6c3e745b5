package gateway

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
)

// WebSocketHandler handles WebSocket upgrade requests for document subscriptions
type WebSocketHandler struct {
	connectionManager *ConnectionManager
	stats             func(ctx context.Context) ConnectionStats
}

func NewWebSocketHandler(cm *ConnectionManager, stats func(ctx context.Context) ConnectionStats) *WebSocketHandler {
	return &WebSocketHandler{
		connectionManager: cm,
		stats:             stats,
	}
}

// HandleDocsConnection upgrades the request; topics are chosen afterwards
// with subscribe messages
func (h *WebSocketHandler) HandleDocsConnection(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("client_id")
	if clientID == "" {
		clientID = "anonymous"
	}

	if err := h.connectionManager.UpgradeConnection(w, r, clientID); err != nil {
		// the upgrader has already written the HTTP error
		log.Error().
			Err(err).
			Str("client_id", clientID).
			Msg("failed to upgrade WebSocket connection")
	}
}

// HandleConnectionStats returns statistics about active connections
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.stats(r.Context())); err != nil {
		log.Error().Err(err).Msg("failed to write connection stats")
	}
}

// RegisterRoutes registers WebSocket routes with an HTTP mux
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/docs", h.HandleDocsConnection)
	mux.HandleFunc("/ws/stats", h.HandleConnectionStats)
}
