package batching

import (
	"time"
)

// ItemKind identifies the content type of an inbound event.
type ItemKind string

const (
	KindText  ItemKind = "text"
	KindImage ItemKind = "image"
	KindVideo ItemKind = "video"
)

// PendingItem is the in-memory record of one inbound event awaiting
// aggregation. The ingest adapter creates it, the enrichment pipeline fills
// Description and MediaURL, and the publish coordinator sets Processed after
// the item has contributed to a successfully published article.
type PendingItem struct {
	// Key is the identity of the origin (e.g. a chat-channel user). Items
	// sharing a Key are aggregated into the same batch window.
	Key string

	// ID is the unique event id from the source platform, used for
	// idempotent ingestion.
	ID string

	Kind ItemKind

	// Text holds the raw content for text items.
	Text string

	// MediaRef is an opaque reference to the stored binary content for
	// image and video items, resolvable by the media store.
	MediaRef string

	// Description is the enrichment output for media items (e.g. a
	// generated caption), or a sentinel when enrichment failed.
	Description string

	// MediaURL is the stable public location of the uploaded media.
	MediaURL string

	// ArrivedAt defines intra-key ordering.
	ArrivedAt time.Time

	// Processed is set only after a successful publish included this item.
	Processed bool
}
