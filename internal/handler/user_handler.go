package handler

import (
	"net/http"

	"roomcast/internal/app/user"
	"roomcast/internal/pkg/resp"
)

// HandleOnlineUsers lists distinct connected users. A user with several open
// connections appears once.
func HandleOnlineUsers(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		users := deps.Manager.Gateway().OnlineUsers()
		if users == nil {
			users = []user.User{}
		}

		resp.RespondSuccess(w, r, map[string]any{
			"users": users,
			"count": len(users),
		})
	}
}
