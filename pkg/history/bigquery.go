package history

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/bigquery"
	"github.com/illmade-knight/go-blogflow/pkg/publish"
	"github.com/rs/zerolog"
)

// BigQueryConfig holds configuration for the BigQuery recorder.
type BigQueryConfig struct {
	DatasetID string
	TableID   string
}

// BigQueryRecorder streams article history rows into a BigQuery table. If the
// table does not exist it is created with a schema inferred from the record
// type, so new deployments need no manual table setup.
type BigQueryRecorder struct {
	client   *bigquery.Client
	inserter *bigquery.Inserter
	logger   zerolog.Logger
}

// NewBigQueryRecorder creates a recorder for the configured table, creating
// the table on first use.
func NewBigQueryRecorder(ctx context.Context, client *bigquery.Client, cfg *BigQueryConfig, logger zerolog.Logger) (*BigQueryRecorder, error) {
	if client == nil {
		return nil, errors.New("bigquery client cannot be nil")
	}
	if cfg == nil {
		return nil, errors.New("BigQueryConfig cannot be nil")
	}

	logger = logger.With().
		Str("component", "BigQueryRecorder").
		Str("dataset_id", cfg.DatasetID).
		Str("table_id", cfg.TableID).
		Logger()

	tableRef := client.Dataset(cfg.DatasetID).Table(cfg.TableID)
	_, err := tableRef.Metadata(ctx)
	if err != nil {
		if strings.Contains(err.Error(), "notFound") {
			logger.Warn().Msg("BigQuery table not found. Attempting to create with inferred schema.")
			inferredSchema, inferErr := bigquery.InferSchema(publish.ArticleRecord{})
			if inferErr != nil {
				return nil, fmt.Errorf("failed to infer article record schema: %w", inferErr)
			}
			if createErr := tableRef.Create(ctx, &bigquery.TableMetadata{Schema: inferredSchema}); createErr != nil {
				return nil, fmt.Errorf("failed to create BigQuery table %s.%s: %w", cfg.DatasetID, cfg.TableID, createErr)
			}
			logger.Info().Msg("BigQuery table created successfully.")
		} else {
			return nil, fmt.Errorf("failed to get BigQuery table metadata: %w", err)
		}
	}

	return &BigQueryRecorder{
		client:   client,
		inserter: tableRef.Inserter(),
		logger:   logger,
	}, nil
}

// RecordArticle streams one history row.
func (r *BigQueryRecorder) RecordArticle(ctx context.Context, record *publish.ArticleRecord) error {
	if err := r.inserter.Put(ctx, record); err != nil {
		var multiErr bigquery.PutMultiError
		if errors.As(err, &multiErr) {
			for _, rowErr := range multiErr {
				r.logger.Error().Err(&rowErr).Str("article_id", record.ID).Msg("BigQuery row insertion failed.")
			}
		}
		return fmt.Errorf("bigquery insert for %s: %w", record.ID, err)
	}
	r.logger.Debug().Str("article_id", record.ID).Msg("Article record streamed to BigQuery.")
	return nil
}

// Close is a no-op; the BigQuery client's lifecycle is managed externally.
func (r *BigQueryRecorder) Close() error { return nil }
