/*
Package storage resolves message attachments against S3-compatible object storage.

Clients reference an already uploaded object by key; the server checks the object
exists, describes it for the room, and later redirects downloads to short-lived
presigned URLs.
*/
package storage

import (
	"context"
	"errors"
	"time"

	"roomcast/internal/app/chat"
)

// ServiceConfig holds the S3 connection settings.
type ServiceConfig struct {
	S3BucketName      string
	S3Endpoint        string
	S3AccessKeyID     string
	S3SecretAccessKey string
}

// Enabled reports whether every setting is present.
func (c ServiceConfig) Enabled() bool {
	return c.S3BucketName != "" && c.S3Endpoint != "" && c.S3AccessKeyID != "" && c.S3SecretAccessKey != ""
}

// StorageService resolves attachments and signs download URLs. It implements
// chat.AttachmentResolver.
type StorageService interface {
	chat.AttachmentResolver

	// PresignDownload returns a URL granting read access to key for duration.
	PresignDownload(ctx context.Context, key string, duration time.Duration) (string, error)
}

// ErrNotConfigured is returned by NewStorageService when S3 settings are incomplete.
var ErrNotConfigured = errors.New("object storage is not configured")

// NewStorageService builds the S3-backed StorageService.
func NewStorageService(ctx context.Context, cfg ServiceConfig) (StorageService, error) {
	if !cfg.Enabled() {
		return nil, ErrNotConfigured
	}

	return newS3Client(ctx, cfg)
}
