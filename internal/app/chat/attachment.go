package chat

import (
	"context"
	"net/url"
	"path"
	"strings"
	"time"

	"roomcast/internal/pkg/errs"
)

const (
	// MaxFileKeyLength bounds the object key accepted in a message.
	MaxFileKeyLength = 256

	// PresignedURLDuration is how long a download redirect stays valid.
	PresignedURLDuration = 5 * time.Minute

	// DownloadPath is the REST route that redirects to a fresh presigned URL.
	DownloadPath = "/api/file/download"
)

// ExtToMIME maps permitted file extensions to their MIME types.
var ExtToMIME = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
	".gif":  "image/gif",
	".pdf":  "application/pdf",
	".txt":  "text/plain",
}

// FileRef describes a stored file attached to a message.
type FileRef struct {
	Key          string `json:"key"`
	URL          string `json:"url"`
	OriginalName string `json:"originalName"`
	Size         int64  `json:"size"`
	MimeType     string `json:"mimetype"`
}

// AttachmentResolver turns a file id sent by a client into a FileRef.
type AttachmentResolver interface {
	Resolve(ctx context.Context, key string) (FileRef, error)
}

// ValidateFileKey checks that key is a relative object key with a permitted extension
// and returns the MIME type implied by that extension.
func ValidateFileKey(key string) (string, *errs.CustomError) {
	if key == "" || len(key) > MaxFileKeyLength {
		return "", errs.NewError(errs.ErrAttachmentKeyInvalid)
	}

	if strings.HasPrefix(key, "/") || strings.Contains(key, "..") || strings.ContainsAny(key, "\\?#") {
		return "", errs.NewError(errs.ErrAttachmentKeyInvalid)
	}

	mime, ok := ExtToMIME[strings.ToLower(path.Ext(key))]
	if !ok {
		return "", errs.NewError(errs.ErrAttachmentKeyInvalid)
	}

	return mime, nil
}

// DownloadURL returns the stable server URL for key.
func DownloadURL(key string) string {
	return DownloadPath + "?k=" + url.QueryEscape(key)
}

// FileRefFromKey rebuilds the reference of a stored attachment from its key alone.
// Size is unknown and left zero.
func FileRefFromKey(key string) FileRef {
	mime, _ := ValidateFileKey(key)

	return FileRef{
		Key:          key,
		URL:          DownloadURL(key),
		OriginalName: path.Base(key),
		MimeType:     mime,
	}
}
