package handlers

import (
	"net/http"

	"golang.org/x/net/websocket"

	"sitter-points-backend/pkg/broadcast"
)

// WebsocketHandler upgrades an authenticated request and streams the
// member's broadcast events until the client disconnects.
type WebsocketHandler struct {
	hub *broadcast.Hub
}

// NewWebsocketHandler creates a WebsocketHandler over hub.
func NewWebsocketHandler(hub *broadcast.Hub) *WebsocketHandler {
	return &WebsocketHandler{hub: hub}
}

func (h *WebsocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	member, ok := requireMember(w, r)
	if !ok {
		return
	}
	server := websocket.Server{
		// The access token already authenticated the request; origin is
		// recorded but not enforced.
		Handshake: func(cfg *websocket.Config, req *http.Request) error {
			cfg.Origin, _ = websocket.Origin(cfg, req)
			return nil
		},
		Handler: func(conn *websocket.Conn) {
			h.hub.Serve(conn, member.ID)
		},
	}
	server.ServeHTTP(w, r)
}
