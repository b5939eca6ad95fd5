package handler

import (
	"net/http"

	"github.com/gorilla/websocket"

	"roomcast/internal/app/chat"
	"roomcast/internal/pkg/auth/jwt"
	"roomcast/internal/pkg/limiter"
	"roomcast/internal/pkg/logx"
)

// HandleWebSocket upgrades the request and hands the socket to the chat Manager.
// Authentication happens after the upgrade so a rejected client receives close code
// 4401 instead of an HTTP error.
func HandleWebSocket(manager *chat.Manager, upgrader *websocket.Upgrader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := jwt.TokenFromRequest(r)

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logx.Error(err, "Failed to upgrade connection to WebSocket", "ip", logx.AnonymizeIP(limiter.ClientIP(r)))
			return
		}

		manager.ServeWS(r.Context(), conn, token)
	}
}
