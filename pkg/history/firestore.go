package history

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/illmade-knight/go-blogflow/pkg/publish"
	"github.com/rs/zerolog"
)

// FirestoreConfig holds configuration for the Firestore recorder.
type FirestoreConfig struct {
	ProjectID      string
	CollectionName string
}

// FirestoreRecorder persists article history as one document per article id.
// Suitable for low-volume deployments; use the BigQuery recorder where the
// history feeds analytics.
type FirestoreRecorder struct {
	client         *firestore.Client
	collectionName string
	logger         zerolog.Logger
}

// NewFirestoreRecorder creates a recorder for the configured collection.
func NewFirestoreRecorder(cfg *FirestoreConfig, client *firestore.Client, logger zerolog.Logger) (*FirestoreRecorder, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client cannot be nil")
	}
	logger.Info().Str("project_id", cfg.ProjectID).Str("collection", cfg.CollectionName).Msg("FirestoreRecorder initialized.")
	return &FirestoreRecorder{
		client:         client,
		collectionName: cfg.CollectionName,
		logger:         logger.With().Str("component", "FirestoreRecorder").Logger(),
	}, nil
}

// RecordArticle writes the record under its article id.
func (r *FirestoreRecorder) RecordArticle(ctx context.Context, record *publish.ArticleRecord) error {
	_, err := r.client.Collection(r.collectionName).Doc(record.ID).Set(ctx, record)
	if err != nil {
		r.logger.Error().Err(err).Str("article_id", record.ID).Msg("Failed to write article record to Firestore.")
		return fmt.Errorf("firestore set for %s: %w", record.ID, err)
	}
	r.logger.Debug().Str("article_id", record.ID).Msg("Article record written to Firestore.")
	return nil
}

// Close is a no-op; the Firestore client's lifecycle is managed externally.
func (r *FirestoreRecorder) Close() error { return nil }
