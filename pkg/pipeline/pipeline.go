package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/illmade-knight/go-blogflow/pkg/batching"
	"github.com/rs/zerolog"
)

// SentinelDescription replaces a media item's content when per-item
// enrichment fails, so the batch can still proceed.
const SentinelDescription = "content unavailable"

// Describer produces a textual description of a piece of media.
type Describer interface {
	Describe(ctx context.Context, mediaURL, instruction string) (string, error)
}

// MediaStore uploads referenced binary content and returns a stable URL.
type MediaStore interface {
	Upload(ctx context.Context, ref string) (string, error)
}

// Generator is the text-generation collaborator. GenerateArticle returns a
// structured (title, body) pair; GenerateText returns free-form text.
type Generator interface {
	GenerateArticle(ctx context.Context, prompt string) (title string, body string, err error)
	GenerateText(ctx context.Context, prompt string) (string, error)
}

// Result is a single search hit used for augmentation.
type Result struct {
	Title   string
	URL     string
	Snippet string
}

// Searcher is the web-search collaborator.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]Result, error)
}

// Draft is the synthesized output for one batch, ready for publishing.
type Draft struct {
	Title     string
	Body      string
	MediaURLs []string
}

// Config holds per-stage timeouts and bounds for the Pipeline.
type Config struct {
	EnrichTimeout    time.Duration
	SynthesisTimeout time.Duration
	SynthesisRetries int
	SearchTimeout    time.Duration
	MaxSearchQueries int
	MaxSearchResults int
}

// Pipeline turns an ordered batch of pending items into a single Draft via
// per-item enrichment, batch synthesis, and optional search augmentation.
type Pipeline struct {
	cfg       Config
	describer Describer
	media     MediaStore
	generator Generator
	searcher  Searcher
	logger    zerolog.Logger
}

// NewPipeline creates an enrichment pipeline. The searcher may be nil, in
// which case augmentation is skipped entirely.
func NewPipeline(
	cfg Config,
	describer Describer,
	media MediaStore,
	generator Generator,
	searcher Searcher,
	logger zerolog.Logger,
) (*Pipeline, error) {
	if generator == nil {
		return nil, fmt.Errorf("generator cannot be nil")
	}
	if describer == nil || media == nil {
		return nil, fmt.Errorf("describer and media store cannot be nil")
	}
	if cfg.EnrichTimeout <= 0 {
		cfg.EnrichTimeout = 90 * time.Second
	}
	if cfg.SynthesisTimeout <= 0 {
		cfg.SynthesisTimeout = 2 * time.Minute
	}
	if cfg.SynthesisRetries <= 0 {
		cfg.SynthesisRetries = 2
	}
	if cfg.SearchTimeout <= 0 {
		cfg.SearchTimeout = 15 * time.Second
	}
	if cfg.MaxSearchQueries <= 0 {
		cfg.MaxSearchQueries = 3
	}
	if cfg.MaxSearchResults <= 0 {
		cfg.MaxSearchResults = 3
	}
	return &Pipeline{
		cfg:       cfg,
		describer: describer,
		media:     media,
		generator: generator,
		searcher:  searcher,
		logger:    logger.With().Str("component", "Pipeline").Logger(),
	}, nil
}

// Run executes all stages for one batch. Items arrive in arrival order and
// that order is preserved through synthesis and media placement. The only
// error returned is a *SynthesisError; every other failure degrades the
// output instead of aborting the batch.
func (p *Pipeline) Run(ctx context.Context, key string, items []*batching.PendingItem) (*Draft, error) {
	p.enrichItems(ctx, items)

	title, body, err := p.synthesize(ctx, items)
	if err != nil {
		return nil, &SynthesisError{Err: err}
	}

	body = p.augment(ctx, body, items)
	body, mediaURLs := appendMediaMarkers(body, items)

	p.logger.Info().
		Str("key", key).
		Str("title", title).
		Int("item_count", len(items)).
		Int("media_count", len(mediaURLs)).
		Msg("Batch synthesized.")

	return &Draft{Title: title, Body: body, MediaURLs: mediaURLs}, nil
}

// enrichItems runs kind-specific enrichment for each item concurrently. A
// failed upload or description leaves the item in place with the sentinel
// description; the batch always proceeds.
func (p *Pipeline) enrichItems(ctx context.Context, items []*batching.PendingItem) {
	var wg sync.WaitGroup
	for _, item := range items {
		if item.Kind == batching.KindText {
			continue
		}
		wg.Add(1)
		go func(item *batching.PendingItem) {
			defer wg.Done()
			p.enrichOne(ctx, item)
		}(item)
	}
	wg.Wait()
}

func (p *Pipeline) enrichOne(ctx context.Context, item *batching.PendingItem) {
	enrichCtx, cancel := context.WithTimeout(ctx, p.cfg.EnrichTimeout)
	defer cancel()

	url, err := p.media.Upload(enrichCtx, item.MediaRef)
	if err != nil {
		p.logger.Error().Err(err).Str("item_id", item.ID).Msg("Media upload failed, retaining item with sentinel content.")
		item.Description = SentinelDescription
		return
	}
	item.MediaURL = url

	if item.Kind != batching.KindImage {
		return
	}
	desc, err := p.describer.Describe(enrichCtx, url, imageDescribeInstruction)
	if err != nil || strings.TrimSpace(desc) == "" {
		p.logger.Error().Err(err).Str("item_id", item.ID).Msg("Image description failed, retaining item with sentinel content.")
		item.Description = SentinelDescription
		return
	}
	item.Description = strings.TrimSpace(desc)
}

// synthesize concatenates the enriched items into one prompt and requests a
// structured article, retrying a bounded number of times.
func (p *Pipeline) synthesize(ctx context.Context, items []*batching.PendingItem) (string, string, error) {
	prompt := buildSynthesisPrompt(items)

	var lastErr error
	for attempt := 1; attempt <= p.cfg.SynthesisRetries; attempt++ {
		genCtx, cancel := context.WithTimeout(ctx, p.cfg.SynthesisTimeout)
		title, body, err := p.generator.GenerateArticle(genCtx, prompt)
		cancel()
		if err == nil && strings.TrimSpace(title) != "" && strings.TrimSpace(body) != "" {
			return strings.TrimSpace(title), strings.TrimSpace(body), nil
		}
		if err == nil {
			err = fmt.Errorf("generator returned an empty title or body")
		}
		lastErr = err
		p.logger.Warn().Err(err).Int("attempt", attempt).Msg("Article synthesis attempt failed.")
	}
	return "", "", fmt.Errorf("synthesis failed after %d attempts: %w", p.cfg.SynthesisRetries, lastErr)
}

// augment derives search queries from the batch content, runs them, and
// appends a related-information section. Every failure here is absorbed and
// the un-augmented body returned.
func (p *Pipeline) augment(ctx context.Context, body string, items []*batching.PendingItem) string {
	if p.searcher == nil {
		return body
	}

	queries := p.extractQueries(ctx, items)
	if len(queries) == 0 {
		return body
	}

	var results []Result
	for _, query := range queries {
		searchCtx, cancel := context.WithTimeout(ctx, p.cfg.SearchTimeout)
		found, err := p.searcher.Search(searchCtx, query, p.cfg.MaxSearchResults)
		cancel()
		if err != nil {
			p.logger.Warn().Err(err).Str("query", query).Msg("Search failed, skipping augmentation for query.")
			continue
		}
		results = append(results, found...)
	}
	if len(results) == 0 {
		return body
	}

	var b strings.Builder
	b.WriteString(body)
	b.WriteString("\n\n---\n\nRelated information:\n")
	seen := make(map[string]bool)
	for _, r := range results {
		if r.URL == "" || seen[r.URL] {
			continue
		}
		seen[r.URL] = true
		fmt.Fprintf(&b, "- [%s](%s)\n", r.Title, r.URL)
	}
	return b.String()
}

func (p *Pipeline) extractQueries(ctx context.Context, items []*batching.PendingItem) []string {
	extractCtx, cancel := context.WithTimeout(ctx, p.cfg.SearchTimeout)
	defer cancel()

	raw, err := p.generator.GenerateText(extractCtx, buildQueryExtractionPrompt(items))
	if err != nil {
		p.logger.Warn().Err(err).Msg("Query extraction failed, skipping augmentation.")
		return nil
	}

	var queries []string
	for _, line := range strings.Split(raw, "\n") {
		q := strings.TrimSpace(line)
		q = strings.TrimLeft(q, "-*0123456789. ")
		if len(q) < 3 || len(q) > 80 {
			continue
		}
		queries = append(queries, q)
		if len(queries) == p.cfg.MaxSearchQueries {
			break
		}
	}
	return queries
}

// appendMediaMarkers adds the uploaded media references to the body in
// arrival order, each in a stable HTML marker. Placement happens after
// synthesis so generation can never corrupt the markers.
func appendMediaMarkers(body string, items []*batching.PendingItem) (string, []string) {
	var markers []string
	var urls []string
	imageIndex := 0
	for _, item := range items {
		if item.MediaURL == "" {
			continue
		}
		urls = append(urls, item.MediaURL)
		switch item.Kind {
		case batching.KindImage:
			imageIndex++
			markers = append(markers, fmt.Sprintf(`<p><img src=%q alt="image %d" /></p>`, item.MediaURL, imageIndex))
		case batching.KindVideo:
			markers = append(markers, fmt.Sprintf(`<p><video src=%q controls></video></p>`, item.MediaURL))
		}
	}
	if len(markers) == 0 {
		return body, urls
	}
	return body + "\n\n" + strings.Join(markers, "\n"), urls
}
