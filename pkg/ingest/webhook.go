package ingest

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/illmade-knight/go-blogflow/pkg/batching"
	"github.com/illmade-knight/go-blogflow/pkg/dedup"
	"github.com/rs/zerolog"
)

// SignatureHeader carries the base64 HMAC-SHA256 of the raw request body,
// computed with the channel secret.
const SignatureHeader = "X-Line-Signature"

const maxBodyBytes = 1 << 20

// Envelope is the inbound webhook payload.
type Envelope struct {
	Events []Event `json:"events"`
}

// Event is one entry of the webhook envelope.
type Event struct {
	Type   string `json:"type"`
	Source struct {
		UserID string `json:"userId"`
	} `json:"source"`
	Message struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Text string `json:"text,omitempty"`
	} `json:"message"`
}

// Enqueuer accepts pending items for aggregation.
type Enqueuer interface {
	Enqueue(item *batching.PendingItem) error
}

// WebhookHandler validates and decodes inbound chat events, converts each
// message event into exactly one PendingItem, and hands it to the scheduler.
// Malformed or unsigned requests are rejected with no state change.
type WebhookHandler struct {
	secret   []byte
	enqueuer Enqueuer
	deduper  dedup.Deduper
	logger   zerolog.Logger
	now      func() time.Time
}

// NewWebhookHandler creates the webhook adapter.
func NewWebhookHandler(channelSecret string, enqueuer Enqueuer, deduper dedup.Deduper, logger zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{
		secret:   []byte(channelSecret),
		enqueuer: enqueuer,
		deduper:  deduper,
		logger:   logger.With().Str("component", "WebhookHandler").Logger(),
		now:      time.Now,
	}
}

// ServeHTTP implements http.Handler for the webhook route.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil || len(body) == 0 {
		h.logger.Warn().Err(err).Msg("Rejecting webhook with empty or unreadable body.")
		http.Error(w, "empty body", http.StatusBadRequest)
		return
	}

	signature := r.Header.Get(SignatureHeader)
	if signature == "" {
		h.logger.Warn().Msg("Rejecting webhook without signature header.")
		http.Error(w, "missing signature", http.StatusBadRequest)
		return
	}
	if !h.validSignature(body, signature) {
		h.logger.Warn().Msg("Rejecting webhook with invalid signature.")
		http.Error(w, "invalid signature", http.StatusForbidden)
		return
	}

	var envelope Envelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		h.logger.Warn().Err(err).Msg("Rejecting webhook with malformed envelope.")
		http.Error(w, "malformed envelope", http.StatusBadRequest)
		return
	}

	for _, event := range envelope.Events {
		h.handleEvent(r.Context(), event)
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (h *WebhookHandler) validSignature(body []byte, signature string) bool {
	mac := hmac.New(sha256.New, h.secret)
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// handleEvent converts one message event into a PendingItem and enqueues it.
// Duplicate event ids are dropped before enqueue.
func (h *WebhookHandler) handleEvent(ctx context.Context, event Event) {
	if event.Type != "message" || event.Source.UserID == "" || event.Message.ID == "" {
		h.logger.Debug().Str("event_type", event.Type).Msg("Skipping non-message or incomplete event.")
		return
	}

	item, ok := itemFromEvent(event, h.now())
	if !ok {
		h.logger.Debug().Str("message_type", event.Message.Type).Msg("Skipping unsupported message type.")
		return
	}

	seen, err := h.deduper.Seen(ctx, item.ID)
	if err != nil {
		// Fail open: a dedup store outage should not drop events, a rare
		// duplicate article is the lesser harm.
		h.logger.Warn().Err(err).Str("item_id", item.ID).Msg("Dedup check failed, treating event as new.")
	} else if seen {
		h.logger.Info().Str("item_id", item.ID).Msg("Dropping duplicate event.")
		return
	}

	if err := h.enqueuer.Enqueue(item); err != nil {
		h.logger.Error().Err(err).Str("item_id", item.ID).Msg("Failed to enqueue item.")
		// Release the dedup claim so an upstream retry of this event is not
		// mistaken for a duplicate and dropped.
		if forgetErr := h.deduper.Forget(ctx, item.ID); forgetErr != nil {
			h.logger.Warn().Err(forgetErr).Str("item_id", item.ID).Msg("Failed to release dedup claim after enqueue failure.")
		}
		return
	}
	h.logger.Info().
		Str("key", item.Key).
		Str("item_id", item.ID).
		Str("kind", string(item.Kind)).
		Msg("Event accepted.")
}

func itemFromEvent(event Event, arrivedAt time.Time) (*batching.PendingItem, bool) {
	item := &batching.PendingItem{
		Key:       event.Source.UserID,
		ID:        event.Message.ID,
		ArrivedAt: arrivedAt,
	}
	switch event.Message.Type {
	case "text":
		item.Kind = batching.KindText
		item.Text = event.Message.Text
	case "image":
		item.Kind = batching.KindImage
		item.MediaRef = event.Message.ID
	case "video":
		item.Kind = batching.KindVideo
		item.MediaRef = event.Message.ID
	default:
		return nil, false
	}
	return item, true
}
