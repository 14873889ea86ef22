package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/engagement-webhooks/internal/domain"
	"github.com/ignite/engagement-webhooks/internal/service/webhook"
	"github.com/ignite/engagement-webhooks/internal/signature"
)

const testSecret = "whsec_test_secret"

type fakeProcessor struct {
	calls  int
	source string
	events []domain.Event
	result webhook.BatchResult
}

func (p *fakeProcessor) ProcessBatch(_ context.Context, source string, events []domain.Event) webhook.BatchResult {
	p.calls++
	p.source = source
	p.events = events
	res := p.result
	res.Received = len(events)
	return res
}

const twoEvents = `[
	{"event":"delivered","sg_event_id":"e1","sg_message_id":"m1.filter","email":"a@example.com","timestamp":1714836600},
	{"event":"bounce","sg_event_id":"e2","sg_message_id":"m2","email":"b@example.com","timestamp":1714836600,"type":"bounce"}
]`

func signedRequest(t *testing.T, body string, ts time.Time) *http.Request {
	t.Helper()
	stamp := strconv.FormatInt(ts.Unix(), 10)
	sig := signature.NewHMACScheme(testSecret).Sign([]byte(stamp + body))

	req := httptest.NewRequest(http.MethodPost, "/webhooks/sendgrid", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(defaultSignatureHeader, sig)
	req.Header.Set(defaultTimestampHeader, stamp)
	return req
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestWebhook_MethodNotAllowed(t *testing.T) {
	proc := &fakeProcessor{}
	h := NewWebhookHandler(signature.New("", 0), proc, WebhookOptions{})

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/webhooks/sendgrid", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, http.MethodPost, rec.Header().Get("Allow"))
	assert.Zero(t, proc.calls)
}

func TestWebhook_NoSecretAcceptsUnsigned(t *testing.T) {
	proc := &fakeProcessor{result: webhook.BatchResult{Processed: 1, Skipped: 1}}
	h := NewWebhookHandler(signature.New("", 0), proc, WebhookOptions{})

	req := httptest.NewRequest(http.MethodPost, "/webhooks/sendgrid", strings.NewReader(twoEvents))
	rec := serve(h, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp WebhookResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, WebhookResponse{Status: "ok", Received: 2, Processed: 1, Skipped: 1}, resp)
	assert.Equal(t, "sendgrid", proc.source)
	require.Len(t, proc.events, 2)
}

func TestWebhook_ValidSignatureAccepted(t *testing.T) {
	proc := &fakeProcessor{result: webhook.BatchResult{Processed: 2}}
	h := NewWebhookHandler(signature.New(testSecret, 0), proc, WebhookOptions{})

	rec := serve(h, signedRequest(t, twoEvents, time.Now()))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"status":"ok","received":2,"processed":2,"skipped":0,"errors":0}`, rec.Body.String())
	assert.Equal(t, 1, proc.calls)
}

func TestWebhook_PartialFailureStillAcknowledged(t *testing.T) {
	proc := &fakeProcessor{result: webhook.BatchResult{Processed: 1, Errors: 1}}
	h := NewWebhookHandler(signature.New(testSecret, 0), proc, WebhookOptions{})

	rec := serve(h, signedRequest(t, twoEvents, time.Now()))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","received":2,"processed":1,"skipped":0,"errors":1}`, rec.Body.String())
}

func TestWebhook_RejectsBadSignature(t *testing.T) {
	proc := &fakeProcessor{}
	h := NewWebhookHandler(signature.New(testSecret, 0), proc, WebhookOptions{})

	req := signedRequest(t, twoEvents, time.Now())
	req.Header.Set(defaultSignatureHeader, strings.Repeat("0", 64))
	rec := serve(h, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Zero(t, proc.calls)
}

func TestWebhook_RejectsMissingHeaders(t *testing.T) {
	proc := &fakeProcessor{}
	h := NewWebhookHandler(signature.New(testSecret, 0), proc, WebhookOptions{})

	req := httptest.NewRequest(http.MethodPost, "/webhooks/sendgrid", strings.NewReader(twoEvents))
	rec := serve(h, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Zero(t, proc.calls)
}

func TestWebhook_RejectsStaleTimestamp(t *testing.T) {
	proc := &fakeProcessor{}
	h := NewWebhookHandler(signature.New(testSecret, 10*time.Minute), proc, WebhookOptions{})

	rec := serve(h, signedRequest(t, twoEvents, time.Now().Add(-11*time.Minute)))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Zero(t, proc.calls)
}

func TestWebhook_CustomHeaders(t *testing.T) {
	proc := &fakeProcessor{}
	h := NewWebhookHandler(signature.New(testSecret, 0), proc, WebhookOptions{
		Source:          "sendgrid-eu",
		SignatureHeader: "X-Sig",
		TimestampHeader: "X-Ts",
	})

	stamp := strconv.FormatInt(time.Now().Unix(), 10)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/sendgrid", strings.NewReader(twoEvents))
	req.Header.Set("X-Sig", signature.NewHMACScheme(testSecret).Sign([]byte(stamp+twoEvents)))
	req.Header.Set("X-Ts", stamp)
	rec := serve(h, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "sendgrid-eu", proc.source)
}

func TestWebhook_MalformedJSON(t *testing.T) {
	proc := &fakeProcessor{}
	h := NewWebhookHandler(signature.New(testSecret, 0), proc, WebhookOptions{})

	rec := serve(h, signedRequest(t, `[{"event":"delivered"`, time.Now()))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, proc.calls)
}

func TestWebhook_BodyTooLarge(t *testing.T) {
	proc := &fakeProcessor{}
	h := NewWebhookHandler(signature.New("", 0), proc, WebhookOptions{MaxBodyBytes: 16})

	req := httptest.NewRequest(http.MethodPost, "/webhooks/sendgrid", bytes.NewReader([]byte(twoEvents)))
	rec := serve(h, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Zero(t, proc.calls)
}
