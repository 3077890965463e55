package publish

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/illmade-knight/go-blogflow/pkg/batching"
	"github.com/illmade-knight/go-blogflow/pkg/pipeline"
	"github.com/rs/zerolog"
)

// Article status values.
const (
	StatusPublished = "published"
	StatusFailed    = "failed"
)

// ArticleRecord is the append-only history entry for one flushed batch,
// keyed by the item ids that contributed to it.
type ArticleRecord struct {
	ID            string    `json:"id" firestore:"id"`
	Key           string    `json:"key" firestore:"key"`
	Title         string    `json:"title" firestore:"title"`
	Body          string    `json:"body" firestore:"body"`
	URL           string    `json:"url" firestore:"url"`
	Status        string    `json:"status" firestore:"status"`
	SourceItemIDs []string  `json:"sourceItemIds" firestore:"sourceItemIds"`
	MediaPaths    []string  `json:"mediaPaths" firestore:"mediaPaths"`
	PublishedAt   time.Time `json:"publishedAt" firestore:"publishedAt"`
}

// Publisher is the external publishing collaborator.
type Publisher interface {
	Publish(ctx context.Context, title, body string) (url string, err error)
}

// Notifier sends a message back to the origin key's channel.
type Notifier interface {
	Notify(ctx context.Context, key, message string) error
}

// Recorder persists article history.
type Recorder interface {
	RecordArticle(ctx context.Context, record *ArticleRecord) error
}

// PublishError is terminal for the batch: the article was not published, the
// contributing items are left unprocessed for inspection, and no retry is
// attempted.
type PublishError struct {
	Err error
}

func (e *PublishError) Error() string { return fmt.Sprintf("publish: %v", e.Err) }

func (e *PublishError) Unwrap() error { return e.Err }

// CoordinatorConfig holds configuration for the Coordinator.
type CoordinatorConfig struct {
	PublishTimeout time.Duration
	NotifyTimeout  time.Duration
}

// Coordinator publishes a synthesized draft, persists the history record,
// marks the contributing items processed, and notifies the origin channel.
type Coordinator struct {
	cfg       CoordinatorConfig
	publisher Publisher
	recorder  Recorder
	notifier  Notifier
	logger    zerolog.Logger
}

// NewCoordinator creates a publish coordinator.
func NewCoordinator(
	cfg CoordinatorConfig,
	publisher Publisher,
	recorder Recorder,
	notifier Notifier,
	logger zerolog.Logger,
) (*Coordinator, error) {
	if publisher == nil || recorder == nil || notifier == nil {
		return nil, fmt.Errorf("publisher, recorder and notifier cannot be nil")
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 30 * time.Second
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = 10 * time.Second
	}
	return &Coordinator{
		cfg:       cfg,
		publisher: publisher,
		recorder:  recorder,
		notifier:  notifier,
		logger:    logger.With().Str("component", "Coordinator").Logger(),
	}, nil
}

// Publish delivers the draft to the publishing collaborator. On success it
// persists a published history record, marks every contributing item
// processed, and notifies the origin with the article URL. On failure it
// persists a failed record, leaves the items untouched, notifies the origin,
// and returns a *PublishError.
func (c *Coordinator) Publish(ctx context.Context, key string, draft *pipeline.Draft, items []*batching.PendingItem) (*ArticleRecord, error) {
	record := &ArticleRecord{
		ID:            uuid.New().String(),
		Key:           key,
		Title:         draft.Title,
		Body:          draft.Body,
		SourceItemIDs: itemIDs(items),
		MediaPaths:    draft.MediaURLs,
		PublishedAt:   time.Now().UTC(),
	}

	publishCtx, cancel := context.WithTimeout(ctx, c.cfg.PublishTimeout)
	url, err := c.publisher.Publish(publishCtx, draft.Title, draft.Body)
	cancel()
	if err != nil {
		c.logger.Error().Err(err).Str("key", key).Str("title", draft.Title).Msg("Publish failed, items left unprocessed.")
		record.Status = StatusFailed
		c.record(ctx, record)
		c.notify(ctx, key, "Publishing your article failed. Your messages were kept and can be reviewed.")
		return nil, &PublishError{Err: err}
	}

	record.URL = url
	record.Status = StatusPublished
	c.record(ctx, record)

	for _, item := range items {
		item.Processed = true
	}

	c.notify(ctx, key, successMessage(url, items))
	c.logger.Info().
		Str("key", key).
		Str("article_id", record.ID).
		Str("url", url).
		Int("item_count", len(items)).
		Msg("Article published.")
	return record, nil
}

// record persists the history entry. A recorder failure is logged but does
// not change the publish outcome.
func (c *Coordinator) record(ctx context.Context, record *ArticleRecord) {
	if err := c.recorder.RecordArticle(ctx, record); err != nil {
		c.logger.Error().Err(err).Str("article_id", record.ID).Msg("Failed to persist article history record.")
	}
}

func (c *Coordinator) notify(ctx context.Context, key, message string) {
	notifyCtx, cancel := context.WithTimeout(ctx, c.cfg.NotifyTimeout)
	defer cancel()
	if err := c.notifier.Notify(notifyCtx, key, message); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("Failed to notify origin channel.")
	}
}

func successMessage(url string, items []*batching.PendingItem) string {
	var texts, images, videos int
	for _, item := range items {
		switch item.Kind {
		case batching.KindText:
			texts++
		case batching.KindImage:
			images++
		case batching.KindVideo:
			videos++
		}
	}
	return fmt.Sprintf("Published a new article combining %d notes, %d images and %d videos.\n%s",
		texts, images, videos, url)
}

func itemIDs(items []*batching.PendingItem) []string {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
	}
	return ids
}
