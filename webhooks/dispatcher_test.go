package webhooks

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/auth9/auth9core/core"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWebhookStore struct {
	byEvent      map[string][]*core.Webhook
	successCalls []string
	failureCalls []string
	failAt       int
}

func (f *fakeWebhookStore) Create(ctx context.Context, w *core.Webhook) error { return nil }
func (f *fakeWebhookStore) GetByID(ctx context.Context, tenantID, id string) (*core.Webhook, error) {
	for _, hooks := range f.byEvent {
		for _, h := range hooks {
			if h.ID == id {
				return h, nil
			}
		}
	}
	return nil, assert.AnError
}
func (f *fakeWebhookStore) Update(ctx context.Context, w *core.Webhook) error { return nil }
func (f *fakeWebhookStore) Delete(ctx context.Context, tenantID, id string) error { return nil }
func (f *fakeWebhookStore) ListEnabledForEvent(ctx context.Context, tenantID, eventType string) ([]*core.Webhook, error) {
	return f.byEvent[eventType], nil
}
func (f *fakeWebhookStore) List(ctx context.Context, tenantID string) ([]*core.Webhook, error) {
	return nil, nil
}
func (f *fakeWebhookStore) RecordSuccess(ctx context.Context, id string, at time.Time) error {
	f.successCalls = append(f.successCalls, id)
	return nil
}
func (f *fakeWebhookStore) RecordFailure(ctx context.Context, id string) (int, bool, error) {
	f.failureCalls = append(f.failureCalls, id)
	f.failAt++
	return f.failAt, f.failAt >= 10, nil
}

type fakeClock struct{ now time.Time }

func (c fakeClock) Now() time.Time { return c.now }

func newTestDispatcher(store *fakeWebhookStore) *Dispatcher {
	d := NewDispatcher(store, fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}, zerolog.Nop())
	d.sleep = func(time.Duration) {}
	d.skipHostGuard = true
	return d
}

func TestDispatcher_Dispatch_SignsPayloadAndSucceeds(t *testing.T) {
	var gotSignature, gotEvent string
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSignature = r.Header.Get("X-Webhook-Signature")
		gotEvent = r.Header.Get("X-Webhook-Event")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	secret := "whsec_testsecret"
	store := &fakeWebhookStore{byEvent: map[string][]*core.Webhook{
		"user.created": {{ID: "hook-1", TenantID: "tenant-1", URL: server.URL, Secret: &secret, Enabled: true}},
	}}
	d := newTestDispatcher(store)

	err := d.Dispatch(context.Background(), "tenant-1", "user.created", map[string]interface{}{"user_id": "u1"})
	require.NoError(t, err)

	assert.Equal(t, "user.created", gotEvent)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(gotBody)
	assert.Equal(t, "sha256="+hex.EncodeToString(mac.Sum(nil)), gotSignature)
	assert.Equal(t, []string{"hook-1"}, store.successCalls)
	assert.Empty(t, store.failureCalls)
}

func TestDispatcher_Dispatch_RetriesThenRecordsFailure(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	store := &fakeWebhookStore{byEvent: map[string][]*core.Webhook{
		"user.created": {{ID: "hook-1", TenantID: "tenant-1", URL: server.URL, Enabled: true}},
	}}
	d := newTestDispatcher(store)

	err := d.Dispatch(context.Background(), "tenant-1", "user.created", map[string]interface{}{})
	require.NoError(t, err)
	assert.Equal(t, maxAttempts, attempts)
	assert.Equal(t, []string{"hook-1"}, store.failureCalls)
	assert.Empty(t, store.successCalls)
}

func TestDispatcher_Dispatch_NoSubscribersIsNoop(t *testing.T) {
	store := &fakeWebhookStore{byEvent: map[string][]*core.Webhook{}}
	d := newTestDispatcher(store)

	err := d.Dispatch(context.Background(), "tenant-1", "user.created", map[string]interface{}{})
	require.NoError(t, err)
}

func TestDispatcher_GuardHost_RejectsLoopbackAndMetadataIP(t *testing.T) {
	assert.Error(t, guardHost("127.0.0.1"))
	assert.Error(t, guardHost("169.254.169.254"))
	assert.Error(t, guardHost("10.0.0.5"))
	assert.Error(t, guardHost("0.0.0.0"))
}

func TestDispatcher_GuardHost_AllowsPublicIP(t *testing.T) {
	assert.NoError(t, guardHost("93.184.216.34"))
}

func TestDispatcher_Test_ReportsResponseDetails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	store := &fakeWebhookStore{byEvent: map[string][]*core.Webhook{
		"user.created": {{ID: "hook-1", TenantID: "tenant-1", URL: server.URL, Enabled: true}},
	}}
	d := newTestDispatcher(store)

	result, err := d.Test(context.Background(), "hook-1")
	require.NoError(t, err)
	assert.True(t, result.Success)
	require.NotNil(t, result.StatusCode)
	assert.Equal(t, http.StatusOK, *result.StatusCode)
	assert.Equal(t, []string{"hook-1"}, store.successCalls)
	assert.Empty(t, store.failureCalls)
}

func TestDispatcher_Test_RecordsFailureOnNonSuccessStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	store := &fakeWebhookStore{byEvent: map[string][]*core.Webhook{
		"user.created": {{ID: "hook-1", TenantID: "tenant-1", URL: server.URL, Enabled: true}},
	}}
	d := newTestDispatcher(store)

	result, err := d.Test(context.Background(), "hook-1")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, []string{"hook-1"}, store.failureCalls)
	assert.Empty(t, store.successCalls)
}

func TestGenerateSecret_HasExpectedPrefixAndLength(t *testing.T) {
	secret, err := GenerateSecret()
	require.NoError(t, err)
	assert.Contains(t, secret, "whsec_")
	assert.Len(t, secret, len("whsec_")+32)
}

func TestBackoff_DoublesPerAttempt(t *testing.T) {
	assert.Equal(t, 2*time.Second, backoff(1))
	assert.Equal(t, 4*time.Second, backoff(2))
	assert.Equal(t, 8*time.Second, backoff(3))
}
