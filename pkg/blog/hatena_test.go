package blog

import (
	"context"
	"crypto/sha1"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const entryResponse = `<?xml version="1.0" encoding="utf-8"?>
<entry xmlns="http://www.w3.org/2005/Atom">
  <link rel="edit" href="https://blog.hatena.ne.jp/alice/alice.example.com/atom/entry/1"/>
  <link rel="alternate" type="text/html" href="https://alice.example.com/entry/2026/08/23/000000"/>
  <title>A Day Out</title>
</entry>`

func newTestPublisher(t *testing.T, handler http.HandlerFunc) *HatenaPublisher {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	publisher, err := NewHatenaPublisher(HatenaConfig{
		HatenaID:   "alice",
		BlogDomain: "alice.example.com",
		APIKey:     "api-key",
		Endpoint:   server.URL,
	}, zerolog.Nop())
	require.NoError(t, err)
	return publisher
}

func TestHatenaPublisher_PublishPostsAtomEntry(t *testing.T) {
	var capturedBody string
	var capturedWSSE string
	publisher := newTestPublisher(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/alice/alice.example.com/atom/entry", r.URL.Path)
		assert.Contains(t, r.Header.Get("Content-Type"), "application/atom+xml")
		capturedWSSE = r.Header.Get("X-WSSE")
		body, _ := io.ReadAll(r.Body)
		capturedBody = string(body)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(entryResponse))
	})

	url, err := publisher.Publish(context.Background(), "A Day Out", "<p>We went hiking.</p>")
	require.NoError(t, err)
	assert.Equal(t, "https://alice.example.com/entry/2026/08/23/000000", url)

	assert.Contains(t, capturedBody, "<title>A Day Out</title>")
	assert.Contains(t, capturedBody, "We went hiking.")
	assert.Contains(t, capturedBody, `xmlns="http://www.w3.org/2005/Atom"`)
	assert.Contains(t, capturedBody, "<app:draft>no</app:draft>")
	assert.NotEmpty(t, capturedWSSE)
}

func TestHatenaPublisher_DraftModeMarksEntryDraft(t *testing.T) {
	var capturedBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		capturedBody = string(body)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(entryResponse))
	}))
	defer server.Close()

	publisher, err := NewHatenaPublisher(HatenaConfig{
		HatenaID:   "alice",
		BlogDomain: "alice.example.com",
		APIKey:     "api-key",
		Draft:      true,
		Endpoint:   server.URL,
	}, zerolog.Nop())
	require.NoError(t, err)

	_, err = publisher.Publish(context.Background(), "Draft", "body")
	require.NoError(t, err)
	assert.Contains(t, capturedBody, "<app:draft>yes</app:draft>")
}

func TestHatenaPublisher_WSSEDigestIsConsistent(t *testing.T) {
	var wsse string
	publisher := newTestPublisher(t, func(w http.ResponseWriter, r *http.Request) {
		wsse = r.Header.Get("X-WSSE")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(entryResponse))
	})

	_, err := publisher.Publish(context.Background(), "t", "b")
	require.NoError(t, err)

	pattern := regexp.MustCompile(`UsernameToken Username="alice", PasswordDigest="([^"]+)", Nonce="([^"]+)", Created="([^"]+)"`)
	match := pattern.FindStringSubmatch(wsse)
	require.NotNil(t, match, "wsse header must carry all four token fields")

	nonce, err := base64.StdEncoding.DecodeString(match[2])
	require.NoError(t, err)
	expected := sha1.Sum(append(nonce, []byte(match[3]+"api-key")...))
	assert.Equal(t, base64.StdEncoding.EncodeToString(expected[:]), match[1],
		"digest must be sha1(nonce + created + api key)")
}

func TestHatenaPublisher_FallsBackToLocationHeader(t *testing.T) {
	publisher := newTestPublisher(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Location", "https://alice.example.com/entry/fallback")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`<?xml version="1.0"?><entry xmlns="http://www.w3.org/2005/Atom"></entry>`))
	})

	url, err := publisher.Publish(context.Background(), "t", "b")
	require.NoError(t, err)
	assert.Equal(t, "https://alice.example.com/entry/fallback", url)
}

func TestHatenaPublisher_NonCreatedStatusFails(t *testing.T) {
	publisher := newTestPublisher(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	})

	_, err := publisher.Publish(context.Background(), "t", "b")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
}

func TestNewHatenaPublisher_RequiresCredentials(t *testing.T) {
	_, err := NewHatenaPublisher(HatenaConfig{HatenaID: "alice"}, zerolog.Nop())
	require.Error(t, err)
}
