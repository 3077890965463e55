package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/rs/zerolog"
)

// PubsubIngestorConfig holds configuration for the Pub/Sub event source.
type PubsubIngestorConfig struct {
	SubscriptionID         string
	MaxOutstandingMessages int
	NumGoroutines          int
}

// PubsubIngestor consumes webhook-shaped events from a Pub/Sub subscription.
// Platform bridges publish one Event per message; signature validation has
// already happened at the bridge, so the ingestor only deduplicates and
// enqueues. Messages are acked on enqueue or duplicate and nacked when the
// scheduler refuses them.
type PubsubIngestor struct {
	subscription *pubsub.Subscription
	handler      *WebhookHandler
	logger       zerolog.Logger
	stopOnce     sync.Once
	cancelRecv   context.CancelFunc
	doneChan     chan struct{}
}

// NewPubsubIngestor creates an ingestor for the configured subscription,
// verifying that the subscription exists.
func NewPubsubIngestor(cfg *PubsubIngestorConfig, client *pubsub.Client, handler *WebhookHandler, logger zerolog.Logger) (*PubsubIngestor, error) {
	sub := client.Subscription(cfg.SubscriptionID)

	existsCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	exists, err := sub.Exists(existsCtx)
	if !exists || err != nil {
		return nil, fmt.Errorf("subscription %s does not exist: %w", cfg.SubscriptionID, err)
	}

	if cfg.MaxOutstandingMessages > 0 {
		sub.ReceiveSettings.MaxOutstandingMessages = cfg.MaxOutstandingMessages
	}
	if cfg.NumGoroutines > 0 {
		sub.ReceiveSettings.NumGoroutines = cfg.NumGoroutines
	}

	return &PubsubIngestor{
		subscription: sub,
		handler:      handler,
		logger:       logger.With().Str("component", "PubsubIngestor").Str("subscription_id", cfg.SubscriptionID).Logger(),
		doneChan:     make(chan struct{}),
	}, nil
}

// Start begins receiving events in a background goroutine.
func (i *PubsubIngestor) Start(ctx context.Context) error {
	receiveCtx, cancel := context.WithCancel(ctx)
	i.cancelRecv = cancel

	go func() {
		defer close(i.doneChan)
		i.logger.Info().Msg("Pub/Sub ingestion started.")
		err := i.subscription.Receive(receiveCtx, func(ctx context.Context, msg *pubsub.Message) {
			var event Event
			if err := json.Unmarshal(msg.Data, &event); err != nil {
				i.logger.Warn().Err(err).Str("msg_id", msg.ID).Msg("Dropping undecodable event message.")
				msg.Ack()
				return
			}
			if i.ingest(ctx, event) {
				msg.Ack()
			} else {
				msg.Nack()
			}
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			i.logger.Error().Err(err).Msg("Pub/Sub Receive call exited with error")
		}
		i.logger.Info().Msg("Pub/Sub ingestion stopped.")
	}()
	return nil
}

// ingest mirrors the webhook event path. It reports false only when the item
// was valid but could not be enqueued, so the message is redelivered.
func (i *PubsubIngestor) ingest(ctx context.Context, event Event) bool {
	if event.Type != "message" || event.Source.UserID == "" || event.Message.ID == "" {
		return true
	}
	item, ok := itemFromEvent(event, time.Now())
	if !ok {
		return true
	}

	seen, err := i.handler.deduper.Seen(ctx, item.ID)
	if err != nil {
		i.logger.Warn().Err(err).Str("item_id", item.ID).Msg("Dedup check failed, treating event as new.")
	} else if seen {
		return true
	}

	if err := i.handler.enqueuer.Enqueue(item); err != nil {
		i.logger.Error().Err(err).Str("item_id", item.ID).Msg("Failed to enqueue item, nacking.")
		// Release the dedup claim, otherwise the nacked redelivery would be
		// dropped as a duplicate and the event lost.
		if forgetErr := i.handler.deduper.Forget(ctx, item.ID); forgetErr != nil {
			i.logger.Warn().Err(forgetErr).Str("item_id", item.ID).Msg("Failed to release dedup claim after enqueue failure.")
		}
		return false
	}
	return true
}

// Stop cancels the receive loop and waits for it to drain.
func (i *PubsubIngestor) Stop() error {
	i.stopOnce.Do(func() {
		if i.cancelRecv != nil {
			i.cancelRecv()
		}
		select {
		case <-i.doneChan:
		case <-time.After(30 * time.Second):
			i.logger.Error().Msg("Timeout waiting for Pub/Sub receive goroutine to stop.")
		}
	})
	return nil
}

// Done returns a channel closed when the ingestor has fully stopped.
func (i *PubsubIngestor) Done() <-chan struct{} { return i.doneChan }
