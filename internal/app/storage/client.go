package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"

	"roomcast/internal/app/chat"
	"roomcast/internal/pkg/errs"
	"roomcast/internal/pkg/logx"
)

// originalNameMetaKey is the object metadata entry holding the uploader's file name.
const originalNameMetaKey = "original-name"

// s3API is the subset of *s3.Client used here.
type s3API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// s3Client implements StorageService against an S3-compatible endpoint.
type s3Client struct {
	bucket  string
	api     s3API
	presign *s3.PresignClient
	logger  zerolog.Logger
}

func newS3Client(ctx context.Context, cfg ServiceConfig) (*s3Client, error) {
	sdkCfg, err := config.LoadDefaultConfig(ctx,
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.S3AccessKeyID,
			cfg.S3SecretAccessKey,
			"",
		)),
		config.WithRegion("auto"),
	)
	if err != nil {
		return nil, fmt.Errorf("load S3 client configuration: %w", err)
	}

	client := s3.NewFromConfig(sdkCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		o.UsePathStyle = true
	})

	return &s3Client{
		bucket:  cfg.S3BucketName,
		api:     client,
		presign: s3.NewPresignClient(client),
		logger:  logx.Component("Storage"),
	}, nil
}

// Resolve checks that key names a stored object of a permitted type and describes it.
func (c *s3Client) Resolve(ctx context.Context, key string) (chat.FileRef, error) {
	if _, verr := chat.ValidateFileKey(key); verr != nil {
		return chat.FileRef{}, verr
	}

	out, err := c.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nf *types.NotFound
		if errors.As(err, &nf) {
			return chat.FileRef{}, errs.NewError(errs.ErrAttachmentKeyInvalid)
		}

		c.logger.Error().Err(err).Str("key", key).Msg("Failed to head S3 object")
		return chat.FileRef{}, errs.NewError(errs.ErrFileStorageFailed)
	}

	return fileRefFromHead(key, out), nil
}

// fileRefFromHead builds the attachment description from object metadata, preferring
// the extension's MIME type when the object carries none.
func fileRefFromHead(key string, out *s3.HeadObjectOutput) chat.FileRef {
	ref := chat.FileRefFromKey(key)

	if out.ContentLength != nil {
		ref.Size = *out.ContentLength
	}
	if ct := aws.ToString(out.ContentType); ct != "" && ct != "application/octet-stream" {
		ref.MimeType = strings.TrimSpace(strings.SplitN(ct, ";", 2)[0])
	}
	if name := out.Metadata[originalNameMetaKey]; name != "" {
		ref.OriginalName = path.Base(name)
	}

	return ref
}

// PresignDownload returns a presigned GET URL for key.
func (c *s3Client) PresignDownload(ctx context.Context, key string, duration time.Duration) (string, error) {
	req, err := c.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(duration))
	if err != nil {
		c.logger.Error().Err(err).Str("key", key).Msg("Failed to presign download")
		return "", errs.NewError(errs.ErrFileStorageFailed)
	}

	return req.URL, nil
}
