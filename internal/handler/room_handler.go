package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"roomcast/internal/app/chat"
	"roomcast/internal/pkg/auth/jwt"
	"roomcast/internal/pkg/errs"
	"roomcast/internal/pkg/req"
	"roomcast/internal/pkg/resp"
)

type CreateRoomInput struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	IsPrivate   bool   `json:"isPrivate,omitempty"`
}

// HandleListRooms returns every room with its current member count.
func HandleListRooms(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp.RespondSuccess(w, r, map[string]any{
			"rooms": deps.Manager.Gateway().Rooms(),
		})
	}
}

// HandleCreateRoom creates a room owned by the caller. Every open connection is told
// about it through a roomCreated event.
func HandleCreateRoom(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := jwt.GetPayloadFromContext(r)
		if identity == nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrUnauthorized))
			return
		}

		var input CreateRoomInput
		if customErr := req.BindJSON(w, r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		room, err := deps.Manager.Gateway().CreateRoom(r.Context(), identity.User(), input.Name, input.Description, input.IsPrivate)
		if err != nil {
			resp.RespondErr(w, r, err)
			return
		}

		resp.RespondSuccessStatus(w, r, http.StatusCreated, map[string]any{
			"room": room,
		})
	}
}

// HandleRoomMessages returns the most recent messages of a room, oldest first.
func HandleRoomMessages(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := chi.URLParam(r, "id")

		limit, customErr := req.QueryInt(r, "limit", deps.Config.HistoryLimit)
		if customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		msgs, err := deps.Manager.Gateway().History(r.Context(), roomID, limit)
		if err != nil {
			resp.RespondErr(w, r, err)
			return
		}

		if msgs == nil {
			msgs = []chat.Message{}
		}

		resp.RespondSuccess(w, r, map[string]any{
			"roomId":   roomID,
			"messages": msgs,
		})
	}
}
