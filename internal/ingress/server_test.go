// internal/ingress/server_test.go
package ingress

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/orchestrd/internal/events"
	"github.com/fyrsmithlabs/orchestrd/internal/logging"
)

const testSecret = "webhook-secret"

type fakeDispatcher struct {
	mu     sync.Mutex
	events []events.Event
	fail   bool
}

func (f *fakeDispatcher) Dispatch(_ context.Context, event events.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("dispatch failed")
	}
	f.events = append(f.events, event)
	return nil
}

func (f *fakeDispatcher) dispatched() []events.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]events.Event(nil), f.events...)
}

func newTestServer(t *testing.T) (*Server, *fakeDispatcher) {
	t.Helper()
	dispatcher := &fakeDispatcher{}
	srv := NewServer(dispatcher, NewMapper("quality", "qa"), testSecret, logging.NewTestLogger().Logger)
	return srv, dispatcher
}

func sign(payload []byte) string {
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func webhookRequest(t *testing.T, eventType string, payload []byte, signature string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-GitHub-Event", eventType)
	req.Header.Set("X-GitHub-Delivery", "delivery-123")
	req.Header.Set("X-Hub-Signature-256", signature)
	req.RemoteAddr = "192.0.2.1:52100"
	return req
}

var prOpenedPayload = []byte(`{
	"action": "opened",
	"pull_request": {
		"number": 42,
		"merged": false,
		"head": {"ref": "task-abc123-feature"}
	}
}`)

func TestWebhookDispatchesMappedEvent(t *testing.T) {
	srv, dispatcher := newTestServer(t)
	handler := srv.Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, webhookRequest(t, "pull_request", prOpenedPayload, sign(prOpenedPayload)))

	assert.Equal(t, http.StatusOK, rec.Code)
	dispatched := dispatcher.dispatched()
	require.Len(t, dispatched, 1)
	assert.Equal(t, events.TypePROpened, dispatched[0].Type)
	assert.Equal(t, "task-abc123", dispatched[0].Correlation.TaskID)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	srv, dispatcher := newTestServer(t)
	handler := srv.Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, webhookRequest(t, "pull_request", prOpenedPayload, "sha256=0000"))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, dispatcher.dispatched())
}

func TestWebhookRejectsMissingSignature(t *testing.T) {
	srv, dispatcher := newTestServer(t)
	handler := srv.Handler()

	req := webhookRequest(t, "pull_request", prOpenedPayload, "")
	req.Header.Del("X-Hub-Signature-256")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, dispatcher.dispatched())
}

func TestWebhookRejectsMalformedPayload(t *testing.T) {
	srv, dispatcher := newTestServer(t)
	handler := srv.Handler()

	payload := []byte(`{"action": "opened", "pull_request"`)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, webhookRequest(t, "pull_request", payload, sign(payload)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, dispatcher.dispatched())
}

func TestWebhookAcksUnmappedEvent(t *testing.T) {
	srv, dispatcher := newTestServer(t)
	handler := srv.Handler()

	// Pushes are not part of the pipeline but GitHub should not retry.
	payload := []byte(`{"ref": "refs/heads/main"}`)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, webhookRequest(t, "push", payload, sign(payload)))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, dispatcher.dispatched())
}

func TestWebhookAcksNonTaskBranch(t *testing.T) {
	srv, dispatcher := newTestServer(t)
	handler := srv.Handler()

	payload := []byte(`{
		"action": "opened",
		"pull_request": {"number": 7, "head": {"ref": "feature/login"}}
	}`)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, webhookRequest(t, "pull_request", payload, sign(payload)))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, dispatcher.dispatched())
}

func TestWebhookDispatchFailure(t *testing.T) {
	srv, dispatcher := newTestServer(t)
	dispatcher.fail = true
	handler := srv.Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, webhookRequest(t, "pull_request", prOpenedPayload, sign(prOpenedPayload)))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestWebhookRateLimitsPerIP(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.Handler()

	var limited bool
	for i := 0; i < 20; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, webhookRequest(t, "pull_request", prOpenedPayload, sign(prOpenedPayload)))
		if rec.Code == http.StatusTooManyRequests {
			limited = true
			break
		}
	}
	assert.True(t, limited, "burst of 20 requests from one IP should trip the limiter")

	// A different client keeps its own budget.
	req := webhookRequest(t, "pull_request", prOpenedPayload, sign(prOpenedPayload))
	req.RemoteAddr = "198.51.100.7:40000"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{"remote addr", "192.0.2.1:52100", nil, "192.0.2.1"},
		{"x-forwarded-for single", "10.0.0.1:80", map[string]string{"X-Forwarded-For": "203.0.113.5"}, "203.0.113.5"},
		{"x-forwarded-for chain", "10.0.0.1:80", map[string]string{"X-Forwarded-For": "203.0.113.5, 10.0.0.2"}, "203.0.113.5"},
		{"x-real-ip", "10.0.0.1:80", map[string]string{"X-Real-IP": "203.0.113.9"}, "203.0.113.9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, clientIP(req))
		})
	}
}
