// Package search implements the web-search collaborator on Google Custom
// Search.
package search

import (
	"context"
	"fmt"

	"github.com/illmade-knight/go-blogflow/pkg/pipeline"
	"github.com/rs/zerolog"
	"google.golang.org/api/customsearch/v1"
	"google.golang.org/api/option"
)

// GoogleConfig holds configuration for the Custom Search client.
type GoogleConfig struct {
	APIKey string
	// EngineID is the Custom Search Engine id (cx).
	EngineID string
}

// GoogleSearcher queries the Google Custom Search API.
type GoogleSearcher struct {
	service  *customsearch.Service
	engineID string
	logger   zerolog.Logger
}

// NewGoogleSearcher creates a searcher. Extra client options (e.g. a custom
// endpoint) are appended after the API key, which lets tests point the
// service at a local server.
func NewGoogleSearcher(ctx context.Context, cfg GoogleConfig, logger zerolog.Logger, opts ...option.ClientOption) (*GoogleSearcher, error) {
	if cfg.APIKey == "" || cfg.EngineID == "" {
		return nil, fmt.Errorf("search API key and engine id are required")
	}
	clientOpts := append([]option.ClientOption{option.WithAPIKey(cfg.APIKey)}, opts...)
	service, err := customsearch.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create custom search service: %w", err)
	}
	return &GoogleSearcher{
		service:  service,
		engineID: cfg.EngineID,
		logger:   logger.With().Str("component", "GoogleSearcher").Logger(),
	}, nil
}

// Search runs one query and returns up to limit results.
func (s *GoogleSearcher) Search(ctx context.Context, query string, limit int) ([]pipeline.Result, error) {
	if limit <= 0 || limit > 10 {
		limit = 10
	}
	response, err := s.service.Cse.List().
		Q(query).
		Cx(s.engineID).
		Num(int64(limit)).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("custom search for %q: %w", query, err)
	}

	results := make([]pipeline.Result, 0, len(response.Items))
	for _, item := range response.Items {
		results = append(results, pipeline.Result{
			Title:   item.Title,
			URL:     item.Link,
			Snippet: item.Snippet,
		})
	}
	s.logger.Debug().Str("query", query).Int("result_count", len(results)).Msg("Search completed.")
	return results, nil
}
