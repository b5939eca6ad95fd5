/*
Package handler provides the HTTP handlers and routing setup for the roomcast server.

This file defines the main Router, applying middleware like logging, CORS, identity
extraction and IP-based rate limiting before delegating to the REST and WebSocket handlers.
*/
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"golang.org/x/time/rate"

	"roomcast/internal/pkg/auth/jwt"
	"roomcast/internal/pkg/limiter"
	"roomcast/internal/pkg/logx"
	"roomcast/internal/pkg/resp"
)

const (
	CreateRate   = 0.05
	CreateBurst  = 2
	ConnectRate  = 0.5
	ConnectBurst = 10

	healthCheckTimeout = 2 * time.Second
)

// Router builds the chi routing table. Limiter cleanup goroutines stop when ctx is done.
func Router(ctx context.Context, deps *AppDeps) http.Handler {
	createLimiter := limiter.NewIPRateLimiter(ctx, rate.Limit(CreateRate), CreateBurst)
	connectLimiter := limiter.NewIPRateLimiter(ctx, rate.Limit(ConnectRate), ConnectBurst)

	r := chi.NewRouter()

	corsAllowedOrigins := []string{}
	if deps.Config.IsDevelopment() {
		corsAllowedOrigins = []string{"*"}
	} else if len(deps.Config.AllowedOrigins) > 0 {
		corsAllowedOrigins = deps.Config.AllowedOrigins
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   corsAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-PoW-Token"},
		AllowCredentials: true,
		MaxAge:           300,
	})
	r.Use(c.Handler)

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logx.RequestLogger())
	r.Use(middleware.Recoverer)

	r.Get("/health", HandleHealth(deps))

	r.Route("/api", func(api chi.Router) {
		api.Use(jwt.IdentityExtractorMiddleware(deps.Config.JWTSecret))

		api.Route("/rooms", func(rooms chi.Router) {
			rooms.Get("/", HandleListRooms(deps))
			rooms.With(createLimiter.Middleware, jwt.RequireIdentity, deps.Pow.Middleware).
				Post("/", HandleCreateRoom(deps))
			rooms.Get("/{id}/messages", HandleRoomMessages(deps))
		})

		api.Get("/users/online", HandleOnlineUsers(deps))

		api.Route("/pow", func(p chi.Router) {
			p.Get("/challenge", HandlePowChallenge(deps))
			p.Post("/verify", HandlePowVerify(deps))
		})

		api.Get("/file/download", HandlePresignDownloadURL(deps))
	})

	r.With(connectLimiter.Middleware).Get("/ws", HandleWebSocket(deps.Manager, newUpgrader(deps)))

	return r
}

// HandleHealth reports service status and runs every configured health check.
func HandleHealth(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		status := "ok"
		checks := make(map[string]string, len(deps.HealthChecks))
		for name, check := range deps.HealthChecks {
			if err := check(ctx); err != nil {
				logx.Warn("Health check failed", "service", name, "error", err)
				checks[name] = "down"
				status = "degraded"
				continue
			}
			checks[name] = "ok"
		}

		connections, rooms := deps.Manager.Stats()

		data := map[string]any{
			"status":      status,
			"service":     "roomcast",
			"checks":      checks,
			"connections": connections,
			"rooms":       rooms,
		}

		if status != "ok" {
			resp.RespondSuccessStatus(w, r, http.StatusServiceUnavailable, data)
			return
		}
		resp.RespondSuccess(w, r, data)
	}
}

func newUpgrader(deps *AppDeps) *websocket.Upgrader {
	allowedOrigins := make(map[string]struct{})
	for _, origin := range deps.Config.AllowedOrigins {
		allowedOrigins[origin] = struct{}{}
	}

	return &websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if deps.Config.IsDevelopment() {
				return true
			}

			origin := r.Header.Get("Origin")
			if _, ok := allowedOrigins[origin]; ok {
				return true
			}

			logx.Warn("WebSocket connection rejected: Origin not allowed.", "origin", origin)
			return false
		},
	}
}
