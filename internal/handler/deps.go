package handler

import (
	"context"

	"roomcast/internal/app/chat"
	"roomcast/internal/app/storage"
	"roomcast/internal/configs"
	"roomcast/internal/pkg/pow"
)

// HealthCheck probes one backing service.
type HealthCheck func(ctx context.Context) error

// AppDeps carries everything the HTTP layer needs.
type AppDeps struct {
	Manager *chat.Manager
	Config  *configs.AppConfig

	// Storage is nil when S3 is not configured.
	Storage storage.StorageService

	Pow *pow.Manager

	// HealthChecks are reported by /health, keyed by service name.
	HealthChecks map[string]HealthCheck
}
