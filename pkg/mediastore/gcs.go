package mediastore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ContentSource resolves an opaque media reference into readable binary
// content, e.g. by fetching it from the chat platform's content endpoint.
type ContentSource interface {
	Fetch(ctx context.Context, ref string) (body io.ReadCloser, contentType string, err error)
}

// GCSStoreConfig holds configuration for the GCS-backed media store.
type GCSStoreConfig struct {
	BucketName   string
	ObjectPrefix string
}

// GCSStore pulls referenced binary content from a ContentSource and streams
// it to a Cloud Storage bucket, returning the object's public URL. The
// bucket is expected to allow public reads so the published article can
// embed the URLs directly.
type GCSStore struct {
	client GCSClient
	source ContentSource
	cfg    GCSStoreConfig
	logger zerolog.Logger
}

// NewGCSStore creates a media store for the configured bucket.
func NewGCSStore(cfg GCSStoreConfig, client GCSClient, source ContentSource, logger zerolog.Logger) (*GCSStore, error) {
	if client == nil {
		return nil, errors.New("GCS client cannot be nil")
	}
	if source == nil {
		return nil, errors.New("content source cannot be nil")
	}
	if cfg.BucketName == "" {
		return nil, errors.New("GCS bucket name is required")
	}
	return &GCSStore{
		client: client,
		source: source,
		cfg:    cfg,
		logger: logger.With().Str("component", "GCSStore").Logger(),
	}, nil
}

// Upload fetches the referenced content and writes it to a new object,
// returning the object's public URL.
func (s *GCSStore) Upload(ctx context.Context, ref string) (string, error) {
	body, contentType, err := s.source.Fetch(ctx, ref)
	if err != nil {
		return "", fmt.Errorf("failed to fetch content for %s: %w", ref, err)
	}
	defer func() { _ = body.Close() }()

	objectName := path.Join(s.cfg.ObjectPrefix, fmt.Sprintf("%s-%s%s", ref, uuid.New().String(), extensionFor(contentType)))
	writer := s.client.Bucket(s.cfg.BucketName).Object(objectName).NewWriter(ctx)
	writer.SetContentType(contentType)

	bytesWritten, copyErr := io.Copy(writer, body)
	closeErr := writer.Close()
	if copyErr != nil {
		return "", fmt.Errorf("failed to stream content for object %s: %w", objectName, copyErr)
	}
	if closeErr != nil {
		return "", fmt.Errorf("failed to finalize object %s: %w", objectName, closeErr)
	}

	url := fmt.Sprintf("https://storage.googleapis.com/%s/%s", s.cfg.BucketName, objectName)
	s.logger.Info().
		Str("object_name", objectName).
		Int64("bytes_written", bytesWritten).
		Str("url", url).
		Msg("Media uploaded.")
	return url, nil
}

func extensionFor(contentType string) string {
	switch contentType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "video/mp4":
		return ".mp4"
	default:
		return ""
	}
}
