package security

import (
	"context"
	"testing"
	"time"

	"github.com/auth9/auth9core/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLoginEventStore struct {
	byIP         []*core.LoginEvent
	byUser       []*core.LoginEvent
	lastSuccess  *core.LoginEvent
	created      []*core.LoginEvent
}

func (f *fakeLoginEventStore) Create(ctx context.Context, e *core.LoginEvent) error {
	f.created = append(f.created, e)
	return nil
}
func (f *fakeLoginEventStore) ListRecentByIP(ctx context.Context, ip string, since time.Time) ([]*core.LoginEvent, error) {
	return f.byIP, nil
}
func (f *fakeLoginEventStore) ListRecentByUser(ctx context.Context, userID string, limit int) ([]*core.LoginEvent, error) {
	return f.byUser, nil
}
func (f *fakeLoginEventStore) LastSuccessByUser(ctx context.Context, userID string) (*core.LoginEvent, error) {
	return f.lastSuccess, nil
}

type fakeSecurityAlertStore struct {
	created []*core.SecurityAlert
}

func (f *fakeSecurityAlertStore) Create(ctx context.Context, a *core.SecurityAlert) error {
	a.ID = "alert-" + string(rune('a'+len(f.created)))
	f.created = append(f.created, a)
	return nil
}
func (f *fakeSecurityAlertStore) GetByID(ctx context.Context, id string) (*core.SecurityAlert, error) {
	for _, a := range f.created {
		if a.ID == id {
			return a, nil
		}
	}
	return nil, assert.AnError
}
func (f *fakeSecurityAlertStore) List(ctx context.Context, tenantID string, limit int, cursor string) ([]*core.SecurityAlert, string, error) {
	return f.created, "", nil
}

type fakeWebhookDispatcher struct {
	dispatched []string
}

func (f *fakeWebhookDispatcher) Dispatch(ctx context.Context, tenantID, eventType string, data map[string]interface{}) error {
	f.dispatched = append(f.dispatched, eventType)
	return nil
}
func (f *fakeWebhookDispatcher) Test(ctx context.Context, webhookID string) (core.WebhookTestResult, error) {
	return core.WebhookTestResult{}, nil
}

type fakeClock struct{ now time.Time }

func (c fakeClock) Now() time.Time { return c.now }

func strPtr(s string) *string { return &s }

func newTestDetector(events *fakeLoginEventStore, alerts *fakeSecurityAlertStore, webhooks *fakeWebhookDispatcher) *Detector {
	return NewDetector(events, alerts, webhooks, fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)})
}

func TestDetector_BruteForce_FiresAtThreshold(t *testing.T) {
	ip := "203.0.113.5"
	var history []*core.LoginEvent
	for i := 0; i < 5; i++ {
		history = append(history, &core.LoginEvent{ID: "e" + string(rune('a'+i)), Type: "failed_password", IP: &ip, CreatedAt: time.Now()})
	}
	events := &fakeLoginEventStore{byIP: history}
	alerts := &fakeSecurityAlertStore{}
	webhooks := &fakeWebhookDispatcher{}
	d := newTestDetector(events, alerts, webhooks)

	found, err := d.Analyze(context.Background(), &core.LoginEvent{ID: "current", Type: "failed_password", IP: &ip})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "brute_force", found[0].Type)
	assert.Equal(t, "high", found[0].Severity)
	assert.Contains(t, webhooks.dispatched, "security.alert")
}

func TestDetector_BruteForce_NoAlertBelowThreshold(t *testing.T) {
	ip := "203.0.113.5"
	events := &fakeLoginEventStore{byIP: []*core.LoginEvent{{Type: "failed_password", IP: &ip}}}
	d := newTestDetector(events, &fakeSecurityAlertStore{}, &fakeWebhookDispatcher{})

	found, err := d.Analyze(context.Background(), &core.LoginEvent{Type: "failed_password", IP: &ip})
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestDetector_PasswordSpray_FiresOnDistinctAccounts(t *testing.T) {
	ip := "203.0.113.9"
	var history []*core.LoginEvent
	for i := 0; i < 5; i++ {
		email := "user" + string(rune('a'+i)) + "@example.com"
		history = append(history, &core.LoginEvent{ID: "e" + string(rune('a'+i)), Type: "failed_password", IP: &ip, Email: &email})
	}
	events := &fakeLoginEventStore{byIP: history}
	d := newTestDetector(events, &fakeSecurityAlertStore{}, &fakeWebhookDispatcher{})

	found, err := d.Analyze(context.Background(), &core.LoginEvent{ID: "current", Type: "failed_password", IP: &ip, Email: strPtr("victim@example.com")})
	require.NoError(t, err)
	var types []string
	for _, a := range found {
		types = append(types, a.Type)
	}
	assert.Contains(t, types, "suspicious_ip")
}

func TestDetector_NewDevice_FiresForUnseenUserAgent(t *testing.T) {
	userID := "user-1"
	history := []*core.LoginEvent{
		{ID: "old-1", Type: "success", UserAgent: strPtr("OldAgent/1.0")},
	}
	events := &fakeLoginEventStore{byUser: history}
	d := newTestDetector(events, &fakeSecurityAlertStore{}, &fakeWebhookDispatcher{})

	found, err := d.Analyze(context.Background(), &core.LoginEvent{ID: "current", Type: "success", UserID: &userID, UserAgent: strPtr("NewAgent/2.0")})
	require.NoError(t, err)
	var types []string
	for _, a := range found {
		types = append(types, a.Type)
	}
	assert.Contains(t, types, "new_device")
}

func TestDetector_NewDevice_NoAlertForKnownUserAgent(t *testing.T) {
	userID := "user-1"
	history := []*core.LoginEvent{
		{ID: "old-1", Type: "success", UserAgent: strPtr("KnownAgent/1.0")},
	}
	events := &fakeLoginEventStore{byUser: history}
	d := newTestDetector(events, &fakeSecurityAlertStore{}, &fakeWebhookDispatcher{})

	found, err := d.Analyze(context.Background(), &core.LoginEvent{ID: "current", Type: "success", UserID: &userID, UserAgent: strPtr("KnownAgent/1.0")})
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestDetector_ImpossibleTravel_FiresWithinWindowAndDifferentLocation(t *testing.T) {
	userID := "user-1"
	events := &fakeLoginEventStore{
		lastSuccess: &core.LoginEvent{ID: "prev", Type: "success", Location: strPtr("New York, US"), CreatedAt: time.Date(2026, 1, 1, 11, 30, 0, 0, time.UTC)},
	}
	d := newTestDetector(events, &fakeSecurityAlertStore{}, &fakeWebhookDispatcher{})

	found, err := d.Analyze(context.Background(), &core.LoginEvent{ID: "current", Type: "success", UserID: &userID, Location: strPtr("Tokyo, JP")})
	require.NoError(t, err)
	var types []string
	for _, a := range found {
		types = append(types, a.Type)
	}
	assert.Contains(t, types, "impossible_travel")
}

func TestDetector_ImpossibleTravel_NoAlertOutsideWindow(t *testing.T) {
	userID := "user-1"
	events := &fakeLoginEventStore{
		lastSuccess: &core.LoginEvent{ID: "prev", Type: "success", Location: strPtr("New York, US"), CreatedAt: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)},
	}
	d := newTestDetector(events, &fakeSecurityAlertStore{}, &fakeWebhookDispatcher{})

	found, err := d.Analyze(context.Background(), &core.LoginEvent{ID: "current", Type: "success", UserID: &userID, Location: strPtr("Tokyo, JP")})
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestDetector_OrderingIsBruteForceThenSpray_OnFailedLogin(t *testing.T) {
	ip := "203.0.113.42"
	var byIP []*core.LoginEvent
	for i := 0; i < 5; i++ {
		email := "acct" + string(rune('a'+i)) + "@example.com"
		byIP = append(byIP, &core.LoginEvent{ID: "e" + string(rune('a'+i)), Type: "failed_password", IP: &ip, Email: &email})
	}
	events := &fakeLoginEventStore{byIP: byIP}
	d := newTestDetector(events, &fakeSecurityAlertStore{}, &fakeWebhookDispatcher{})

	found, err := d.Analyze(context.Background(), &core.LoginEvent{ID: "current", Type: "failed_password", IP: &ip})
	require.NoError(t, err)

	var types []string
	for _, a := range found {
		types = append(types, a.Type)
	}
	assert.Equal(t, []string{"brute_force", "suspicious_ip"}, types)
}

func TestDetector_OrderingIsNewDeviceThenImpossibleTravel_OnSuccessfulLogin(t *testing.T) {
	userID := "user-1"
	events := &fakeLoginEventStore{
		byUser:      []*core.LoginEvent{{ID: "old", Type: "success", UserAgent: strPtr("OldAgent")}},
		lastSuccess: &core.LoginEvent{ID: "prev", Type: "success", Location: strPtr("Paris, FR"), CreatedAt: time.Date(2026, 1, 1, 11, 45, 0, 0, time.UTC)},
	}
	d := newTestDetector(events, &fakeSecurityAlertStore{}, &fakeWebhookDispatcher{})

	found, err := d.Analyze(context.Background(), &core.LoginEvent{
		ID: "current", Type: "success", UserID: &userID,
		UserAgent: strPtr("NewAgent"), Location: strPtr("Berlin, DE"),
	})
	require.NoError(t, err)

	var types []string
	for _, a := range found {
		types = append(types, a.Type)
	}
	assert.Equal(t, []string{"new_device", "impossible_travel"}, types)
}
