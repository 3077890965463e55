package ingest

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/illmade-knight/go-blogflow/pkg/batching"
	"github.com/illmade-knight/go-blogflow/pkg/dedup"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "channel-secret"

type mockEnqueuer struct {
	sync.Mutex
	EnqueueFn func(item *batching.PendingItem) error
	items     []*batching.PendingItem
}

func (m *mockEnqueuer) Enqueue(item *batching.PendingItem) error {
	m.Lock()
	defer m.Unlock()
	if m.EnqueueFn != nil {
		if err := m.EnqueueFn(item); err != nil {
			return err
		}
	}
	m.items = append(m.items, item)
	return nil
}

func (m *mockEnqueuer) Items() []*batching.PendingItem {
	m.Lock()
	defer m.Unlock()
	out := make([]*batching.PendingItem, len(m.items))
	copy(out, m.items)
	return out
}

func sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func newTestHandler(t *testing.T) (*WebhookHandler, *mockEnqueuer) {
	t.Helper()
	enqueuer := &mockEnqueuer{}
	handler := NewWebhookHandler(testSecret, enqueuer, dedup.NewInMemoryDeduper(), zerolog.Nop())
	return handler, enqueuer
}

func post(handler http.Handler, body []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	if signature != "" {
		req.Header.Set(SignatureHeader, signature)
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)
	return recorder
}

const textEventBody = `{"events":[{"type":"message","source":{"userId":"user-1"},"message":{"id":"m1","type":"text","text":"hello"}}]}`

func TestWebhook_AcceptsSignedTextEvent(t *testing.T) {
	handler, enqueuer := newTestHandler(t)
	body := []byte(textEventBody)

	recorder := post(handler, body, sign(body))
	assert.Equal(t, http.StatusOK, recorder.Code)

	items := enqueuer.Items()
	require.Len(t, items, 1)
	assert.Equal(t, "user-1", items[0].Key)
	assert.Equal(t, "m1", items[0].ID)
	assert.Equal(t, batching.KindText, items[0].Kind)
	assert.Equal(t, "hello", items[0].Text)
	assert.False(t, items[0].ArrivedAt.IsZero())
}

func TestWebhook_RejectsMissingSignature(t *testing.T) {
	handler, enqueuer := newTestHandler(t)

	recorder := post(handler, []byte(textEventBody), "")
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Empty(t, enqueuer.Items())
}

func TestWebhook_RejectsInvalidSignature(t *testing.T) {
	handler, enqueuer := newTestHandler(t)

	recorder := post(handler, []byte(textEventBody), "bm90LWEtc2lnbmF0dXJl")
	assert.Equal(t, http.StatusForbidden, recorder.Code)
	assert.Empty(t, enqueuer.Items())
}

func TestWebhook_RejectsMalformedEnvelope(t *testing.T) {
	handler, enqueuer := newTestHandler(t)
	body := []byte(`{"events": not-json`)

	recorder := post(handler, body, sign(body))
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Empty(t, enqueuer.Items())
}

func TestWebhook_RejectsEmptyBody(t *testing.T) {
	handler, enqueuer := newTestHandler(t)

	recorder := post(handler, nil, sign(nil))
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Empty(t, enqueuer.Items())
}

func TestWebhook_DropsDuplicateEventIDs(t *testing.T) {
	handler, enqueuer := newTestHandler(t)
	body := []byte(textEventBody)

	first := post(handler, body, sign(body))
	second := post(handler, body, sign(body))

	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, http.StatusOK, second.Code, "an upstream retry is acknowledged, not errored")
	assert.Len(t, enqueuer.Items(), 1, "the same id must produce exactly one pending item")
}

func TestWebhook_EnqueueFailureAllowsRetry(t *testing.T) {
	handler, enqueuer := newTestHandler(t)
	failures := 0
	enqueuer.EnqueueFn = func(_ *batching.PendingItem) error {
		failures++
		if failures == 1 {
			return batching.ErrSchedulerStopped
		}
		return nil
	}
	body := []byte(textEventBody)

	first := post(handler, body, sign(body))
	assert.Equal(t, http.StatusOK, first.Code)
	assert.Empty(t, enqueuer.Items())

	// The failed enqueue must have released the dedup claim, so the upstream
	// retry is treated as new, not dropped as a duplicate.
	second := post(handler, body, sign(body))
	assert.Equal(t, http.StatusOK, second.Code)
	require.Len(t, enqueuer.Items(), 1, "the retried event must reach the scheduler")
	assert.Equal(t, "m1", enqueuer.Items()[0].ID)
}

func TestWebhook_MapsMediaEvents(t *testing.T) {
	handler, enqueuer := newTestHandler(t)
	body := []byte(`{"events":[
		{"type":"message","source":{"userId":"user-1"},"message":{"id":"m1","type":"image"}},
		{"type":"message","source":{"userId":"user-1"},"message":{"id":"m2","type":"video"}}
	]}`)

	recorder := post(handler, body, sign(body))
	assert.Equal(t, http.StatusOK, recorder.Code)

	items := enqueuer.Items()
	require.Len(t, items, 2)
	assert.Equal(t, batching.KindImage, items[0].Kind)
	assert.Equal(t, "m1", items[0].MediaRef)
	assert.Equal(t, batching.KindVideo, items[1].Kind)
	assert.Equal(t, "m2", items[1].MediaRef)
}

func TestWebhook_SkipsUnsupportedAndNonMessageEvents(t *testing.T) {
	handler, enqueuer := newTestHandler(t)
	body := []byte(`{"events":[
		{"type":"follow","source":{"userId":"user-1"}},
		{"type":"message","source":{"userId":"user-1"},"message":{"id":"m1","type":"sticker"}},
		{"type":"message","source":{"userId":"user-1"},"message":{"id":"m2","type":"text","text":"kept"}}
	]}`)

	recorder := post(handler, body, sign(body))
	assert.Equal(t, http.StatusOK, recorder.Code)

	items := enqueuer.Items()
	require.Len(t, items, 1)
	assert.Equal(t, "m2", items[0].ID)
}
