// Package blog implements the publishing collaborator against the Hatena
// Blog AtomPub API.
package blog

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// HatenaConfig holds configuration for the publisher.
type HatenaConfig struct {
	HatenaID   string
	BlogDomain string
	APIKey     string
	// Draft publishes entries as drafts instead of live posts.
	Draft bool
	// Endpoint overrides the AtomPub base URL, used in tests.
	Endpoint   string
	HTTPClient *http.Client
}

// HatenaPublisher posts Atom entries to a Hatena blog using WSSE
// authentication and returns the published entry's URL.
type HatenaPublisher struct {
	cfg        HatenaConfig
	endpoint   string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewHatenaPublisher creates a publisher for the configured blog.
func NewHatenaPublisher(cfg HatenaConfig, logger zerolog.Logger) (*HatenaPublisher, error) {
	if cfg.HatenaID == "" || cfg.BlogDomain == "" || cfg.APIKey == "" {
		return nil, fmt.Errorf("hatena id, blog domain and API key are required")
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://blog.hatena.ne.jp"
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &HatenaPublisher{
		cfg:        cfg,
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		httpClient: cfg.HTTPClient,
		logger:     logger.With().Str("component", "HatenaPublisher").Str("blog", cfg.BlogDomain).Logger(),
	}, nil
}

type atomEntry struct {
	XMLName xml.Name    `xml:"entry"`
	Xmlns   string      `xml:"xmlns,attr"`
	App     string      `xml:"xmlns:app,attr"`
	Title   string      `xml:"title"`
	Content atomContent `xml:"content"`
	Control atomControl `xml:"app:control"`
}

type atomContent struct {
	Type string `xml:"type,attr"`
	Body string `xml:",chardata"`
}

type atomControl struct {
	Draft string `xml:"app:draft"`
}

type atomEntryResponse struct {
	Links []struct {
		Rel  string `xml:"rel,attr"`
		Href string `xml:"href,attr"`
	} `xml:"link"`
}

// Publish posts a new entry and returns its public URL.
func (p *HatenaPublisher) Publish(ctx context.Context, title, body string) (string, error) {
	draft := "no"
	if p.cfg.Draft {
		draft = "yes"
	}
	entry := atomEntry{
		Xmlns:   "http://www.w3.org/2005/Atom",
		App:     "http://www.w3.org/2007/app",
		Title:   title,
		Content: atomContent{Type: "text/html", Body: body},
		Control: atomControl{Draft: draft},
	}
	payload, err := xml.Marshal(entry)
	if err != nil {
		return "", fmt.Errorf("failed to encode atom entry: %w", err)
	}
	payload = append([]byte(xml.Header), payload...)

	url := fmt.Sprintf("%s/%s/%s/atom/entry", p.endpoint, p.cfg.HatenaID, p.cfg.BlogDomain)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to build atom request: %w", err)
	}
	req.Header.Set("Content-Type", "application/atom+xml; charset=utf-8")
	wsse, err := wsseHeader(p.cfg.HatenaID, p.cfg.APIKey)
	if err != nil {
		return "", err
	}
	req.Header.Set("X-WSSE", wsse)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("atom request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	responseBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read atom response: %w", err)
	}
	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("atom endpoint returned status %d: %s", resp.StatusCode, truncate(string(responseBody), 200))
	}

	entryURL := alternateLink(responseBody)
	if entryURL == "" {
		entryURL = resp.Header.Get("Location")
	}
	if entryURL == "" {
		return "", fmt.Errorf("atom response carried no entry URL")
	}

	p.logger.Info().Str("title", title).Str("url", entryURL).Msg("Entry published.")
	return entryURL, nil
}

// alternateLink extracts the public entry URL from the response entry.
func alternateLink(responseBody []byte) string {
	var parsed atomEntryResponse
	if err := xml.Unmarshal(responseBody, &parsed); err != nil {
		return ""
	}
	for _, link := range parsed.Links {
		if link.Rel == "alternate" {
			return link.Href
		}
	}
	return ""
}

// wsseHeader builds the X-WSSE UsernameToken: a random nonce, the creation
// time, and base64(sha1(nonce + created + apiKey)).
func wsseHeader(username, apiKey string) (string, error) {
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate wsse nonce: %w", err)
	}
	created := time.Now().UTC().Format("2006-01-02T15:04:05Z")

	digestInput := append(append([]byte{}, nonce...), []byte(created+apiKey)...)
	digest := sha1.Sum(digestInput)

	return fmt.Sprintf(`UsernameToken Username="%s", PasswordDigest="%s", Nonce="%s", Created="%s"`,
		username,
		base64.StdEncoding.EncodeToString(digest[:]),
		base64.StdEncoding.EncodeToString(nonce),
		created,
	), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
