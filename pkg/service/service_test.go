package service

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/illmade-knight/go-blogflow/pkg/dedup"
	"github.com/illmade-knight/go-blogflow/pkg/history"
	"github.com/illmade-knight/go-blogflow/pkg/ingest"
	"github.com/illmade-knight/go-blogflow/pkg/publish"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "channel-secret"

// --- Mocks ---

type mockDescriber struct{}

func (m *mockDescriber) Describe(_ context.Context, mediaURL, _ string) (string, error) {
	return "a photo at " + mediaURL, nil
}

type mockMediaStore struct{}

func (m *mockMediaStore) Upload(_ context.Context, ref string) (string, error) {
	return "https://media.example.com/" + ref + ".jpg", nil
}

type mockGenerator struct {
	GenerateArticleFn func(ctx context.Context, prompt string) (string, string, error)
}

func (m *mockGenerator) GenerateArticle(ctx context.Context, prompt string) (string, string, error) {
	if m.GenerateArticleFn != nil {
		return m.GenerateArticleFn(ctx, prompt)
	}
	return "Generated Title", "Generated body.", nil
}

func (m *mockGenerator) GenerateText(_ context.Context, _ string) (string, error) {
	return "", errors.New("not configured")
}

type mockPublisher struct {
	sync.Mutex
	published []publishedEntry
}

type publishedEntry struct {
	title string
	body  string
}

func (m *mockPublisher) Publish(ctx context.Context, title, body string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.Lock()
	defer m.Unlock()
	m.published = append(m.published, publishedEntry{title: title, body: body})
	return fmt.Sprintf("https://blog.example.com/entry/%d", len(m.published)), nil
}

func (m *mockPublisher) Published() []publishedEntry {
	m.Lock()
	defer m.Unlock()
	out := make([]publishedEntry, len(m.published))
	copy(out, m.published)
	return out
}

type mockNotifier struct {
	sync.Mutex
	messages []string
}

func (m *mockNotifier) Notify(_ context.Context, _ string, message string) error {
	m.Lock()
	defer m.Unlock()
	m.messages = append(m.messages, message)
	return nil
}

func (m *mockNotifier) Messages() []string {
	m.Lock()
	defer m.Unlock()
	out := make([]string, len(m.messages))
	copy(out, m.messages)
	return out
}

// --- Helpers ---

func newTestService(t *testing.T, window time.Duration, generator *mockGenerator) (*Service, *mockPublisher, *mockNotifier, *history.InMemoryRecorder) {
	t.Helper()
	publisher := &mockPublisher{}
	notifier := &mockNotifier{}
	recorder := history.NewInMemoryRecorder()

	cfg := &Config{
		HTTPAddr:      "127.0.0.1:0",
		BatchWindow:   window,
		ChannelSecret: testSecret,
	}
	svc, err := New(cfg, Collaborators{
		Describer: &mockDescriber{},
		Media:     &mockMediaStore{},
		Generator: generator,
		Publisher: publisher,
		Recorder:  recorder,
		Notifier:  notifier,
		Deduper:   dedup.NewInMemoryDeduper(),
	}, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, svc.Start(ctx))
	t.Cleanup(func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = svc.Shutdown(shutdownCtx)
		cancel()
	})
	return svc, publisher, notifier, recorder
}

func postWebhook(t *testing.T, svc *Service, body string) {
	t.Helper()
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write([]byte(body))
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	req, err := http.NewRequest(http.MethodPost, "http://"+svc.Addr()+"/webhook", bytes.NewReader([]byte(body)))
	require.NoError(t, err)
	req.Header.Set(ingest.SignatureHeader, signature)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func textEventBody(userID, messageID, content string) string {
	return fmt.Sprintf(`{"events":[{"type":"message","source":{"userId":%q},"message":{"id":%q,"type":"text","text":%q}}]}`, userID, messageID, content)
}

func imageEventBody(userID, messageID string) string {
	return fmt.Sprintf(`{"events":[{"type":"message","source":{"userId":%q},"message":{"id":%q,"type":"image"}}]}`, userID, messageID)
}

// --- Tests ---

// A text event followed by an image event inside the window collapses into
// one published article whose body ends with the image marker.
func TestService_BurstCollapsesIntoOneArticle(t *testing.T) {
	generator := &mockGenerator{}
	svc, publisher, notifier, recorder := newTestService(t, 400*time.Millisecond, generator)

	postWebhook(t, svc, textEventBody("user-1", "m1", "A"))
	time.Sleep(100 * time.Millisecond)
	postWebhook(t, svc, imageEventBody("user-1", "m2"))

	require.Eventually(t, func() bool {
		return len(publisher.Published()) == 1
	}, 5*time.Second, 20*time.Millisecond, "the burst must collapse into one publish")

	entry := publisher.Published()[0]
	assert.Equal(t, "Generated Title", entry.title)
	assert.True(t, strings.HasPrefix(entry.body, "Generated body."))
	assert.True(t, strings.HasSuffix(entry.body, `<p><img src="https://media.example.com/m2.jpg" alt="image 1" /></p>`),
		"the image marker must trail the synthesized text")

	records := recorder.Records()
	require.Len(t, records, 1)
	assert.Equal(t, publish.StatusPublished, records[0].Status)
	assert.Equal(t, []string{"m1", "m2"}, records[0].SourceItemIDs)

	messages := notifier.Messages()
	require.Len(t, messages, 1)
	assert.Contains(t, messages[0], "1 notes, 1 images and 0 videos")
	assert.Contains(t, messages[0], "https://blog.example.com/entry/1")
}

func TestService_SeparateUsersPublishSeparately(t *testing.T) {
	generator := &mockGenerator{}
	svc, publisher, _, recorder := newTestService(t, 200*time.Millisecond, generator)

	postWebhook(t, svc, textEventBody("user-1", "m1", "alpha"))
	postWebhook(t, svc, textEventBody("user-2", "m2", "beta"))

	require.Eventually(t, func() bool {
		return len(publisher.Published()) == 2
	}, 5*time.Second, 20*time.Millisecond)

	keys := map[string]bool{}
	for _, record := range recorder.Records() {
		keys[record.Key] = true
	}
	assert.Equal(t, map[string]bool{"user-1": true, "user-2": true}, keys)
}

func TestService_SynthesisFailureNotifiesWithoutPublishing(t *testing.T) {
	generator := &mockGenerator{
		GenerateArticleFn: func(_ context.Context, _ string) (string, string, error) {
			return "", "", errors.New("model overloaded")
		},
	}
	svc, publisher, notifier, recorder := newTestService(t, 200*time.Millisecond, generator)

	postWebhook(t, svc, textEventBody("user-1", "m1", "hello"))

	require.Eventually(t, func() bool {
		return len(notifier.Messages()) == 1
	}, 5*time.Second, 20*time.Millisecond)

	assert.Contains(t, notifier.Messages()[0], "failed")
	assert.Empty(t, publisher.Published(), "a failed synthesis must publish nothing")
	assert.Empty(t, recorder.Records(), "synthesis failures precede publishing, so no history row is written")
}

func TestService_DuplicateDeliveriesProduceOneItem(t *testing.T) {
	generator := &mockGenerator{}
	svc, publisher, notifier, _ := newTestService(t, 200*time.Millisecond, generator)

	body := textEventBody("user-1", "m1", "only once")
	postWebhook(t, svc, body)
	postWebhook(t, svc, body)

	require.Eventually(t, func() bool {
		return len(publisher.Published()) == 1
	}, 5*time.Second, 20*time.Millisecond)

	messages := notifier.Messages()
	require.Len(t, messages, 1)
	assert.Contains(t, messages[0], "combining 1 notes", "the retried delivery must not add a second item")
}

func TestService_HealthEndpoint(t *testing.T) {
	svc, _, _, _ := newTestService(t, time.Minute, &mockGenerator{})

	resp, err := http.Get("http://" + svc.Addr() + "/healthz")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestService_ShutdownDrainsPendingBatch(t *testing.T) {
	generator := &mockGenerator{}
	publisher := &mockPublisher{}
	notifier := &mockNotifier{}
	recorder := history.NewInMemoryRecorder()

	cfg := &Config{HTTPAddr: "127.0.0.1:0", BatchWindow: time.Hour, ChannelSecret: testSecret}
	svc, err := New(cfg, Collaborators{
		Describer: &mockDescriber{},
		Media:     &mockMediaStore{},
		Generator: generator,
		Publisher: publisher,
		Recorder:  recorder,
		Notifier:  notifier,
		Deduper:   dedup.NewInMemoryDeduper(),
	}, zerolog.Nop())
	require.NoError(t, err)

	runCtx, cancelRun := context.WithCancel(context.Background())
	require.NoError(t, svc.Start(runCtx))

	postWebhook(t, svc, textEventBody("user-1", "m1", "pending at shutdown"))

	// The signal-bound runtime context is already canceled by the time
	// Shutdown runs; the drain must publish under the shutdown deadline anyway.
	cancelRun()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, svc.Shutdown(shutdownCtx))

	assert.Len(t, publisher.Published(), 1, "shutdown must flush the pending window instead of dropping it")
	require.Len(t, recorder.Records(), 1)
	assert.Equal(t, publish.StatusPublished, recorder.Records()[0].Status)
}
