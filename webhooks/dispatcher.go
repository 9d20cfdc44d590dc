// Package webhooks implements the Webhook Dispatcher of spec.md §4.6:
// signed, SSRF-guarded, retrying HTTP delivery of tenant lifecycle events.
package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/auth9/auth9core/core"
	"github.com/rs/zerolog"
)

const (
	maxAttempts    = 3
	attemptTimeout = 30 * time.Second
)

// payload is the JSON body delivered to every webhook endpoint.
type payload struct {
	EventType string                 `json:"event_type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Dispatcher implements core.WebhookDispatcher.
type Dispatcher struct {
	webhooks core.WebhookStore
	clock    core.Clock
	log      zerolog.Logger
	client   *http.Client
	sleep    func(time.Duration)

	// skipHostGuard disables the SSRF dial guard. It only exists so this
	// package's own tests can point the dispatcher at an httptest server,
	// which always binds to loopback; production code never sets it.
	skipHostGuard bool
}

func NewDispatcher(webhooks core.WebhookStore, clock core.Clock, log zerolog.Logger) *Dispatcher {
	d := &Dispatcher{
		webhooks: webhooks,
		clock:    clock,
		log:      log,
		sleep:    time.Sleep,
	}
	d.client = newGuardedClient(d)
	return d
}

// newGuardedClient builds an http.Client that refuses to follow redirects
// and refuses to dial loopback/private/link-local/unspecified addresses
// (including the 169.254.169.254 cloud metadata endpoint), per spec.md
// §4.6's SSRF protection requirement.
func newGuardedClient(d *Dispatcher) *http.Client {
	dialer := &net.Dialer{Timeout: attemptTimeout}
	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			if !d.skipHostGuard {
				host, _, err := net.SplitHostPort(addr)
				if err != nil {
					host = addr
				}
				if err := guardHost(host); err != nil {
					return nil, err
				}
			}
			return dialer.DialContext(ctx, network, addr)
		},
	}
	return &http.Client{
		Transport: transport,
		Timeout:   attemptTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return fmt.Errorf("webhook delivery does not follow redirects")
		},
	}
}

func guardHost(host string) error {
	ips, err := net.LookupIP(host)
	if err != nil {
		// host is already a literal IP in most dial paths
		if ip := net.ParseIP(host); ip != nil {
			ips = []net.IP{ip}
		} else {
			return fmt.Errorf("resolve webhook host: %w", err)
		}
	}
	for _, ip := range ips {
		if isForbiddenTarget(ip) {
			return fmt.Errorf("refusing to dial disallowed address %s", ip)
		}
	}
	return nil
}

func isForbiddenTarget(ip net.IP) bool {
	if ip.Equal(net.IPv4(169, 254, 169, 254)) {
		return true
	}
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified()
}

// Dispatch implements core.WebhookDispatcher.Dispatch: fans out eventType
// to every enabled webhook subscribed to it. Deliveries across webhooks are
// unordered (they are delivered one after another); retries within a single webhook's
// delivery are always sequential.
func (d *Dispatcher) Dispatch(ctx context.Context, tenantID, eventType string, data map[string]interface{}) error {
	hooks, err := d.webhooks.ListEnabledForEvent(ctx, tenantID, eventType)
	if err != nil {
		return fmt.Errorf("list webhooks for event %q: %w", eventType, err)
	}

	body, err := json.Marshal(payload{EventType: eventType, Timestamp: d.clock.Now(), Data: data})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	for _, hook := range hooks {
		d.deliverWithRetry(ctx, hook, eventType, body)
	}
	return nil
}

func (d *Dispatcher) deliverWithRetry(ctx context.Context, hook *core.Webhook, eventType string, body []byte) {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := d.deliverOnce(ctx, hook, eventType, body, d.clock.Now())
		if err == nil {
			_ = d.webhooks.RecordSuccess(ctx, hook.ID, d.clock.Now())
			return
		}
		lastErr = err
		if attempt < maxAttempts {
			d.sleep(backoff(attempt))
		}
	}

	failureCount, disabled, recErr := d.webhooks.RecordFailure(ctx, hook.ID)
	d.log.Warn().Str("webhook", hook.ID).Err(lastErr).Int("failure_count", failureCount).Bool("disabled", disabled).Msg("webhook delivery failed")
	if recErr != nil {
		d.log.Error().Str("webhook", hook.ID).Err(recErr).Msg("failed to record webhook failure")
	}
}

func backoff(attempt int) time.Duration {
	return time.Duration(1<<uint(attempt)) * time.Second
}

func (d *Dispatcher) deliverOnce(ctx context.Context, hook *core.Webhook, eventType string, body []byte, now time.Time) error {
	reqCtx, cancel := context.WithTimeout(ctx, attemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, hook.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Event", eventType)
	req.Header.Set("X-Webhook-Timestamp", strconv.FormatInt(now.Unix(), 10))
	if hook.Secret != nil {
		req.Header.Set("X-Webhook-Signature", "sha256="+signBody(*hook.Secret, body))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

func signBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Test implements core.WebhookDispatcher.Test: a single, non-retrying
// delivery of a synthetic test event, reporting timing and status back to
// the caller and recording the outcome against the webhook through the same
// RecordSuccess/RecordFailure calls deliverWithRetry uses (spec.md §4.6), so
// a test ping participates in the same consecutive-failure disable count as
// a live delivery.
func (d *Dispatcher) Test(ctx context.Context, webhookID string) (core.WebhookTestResult, error) {
	hook, err := d.webhooks.GetByID(ctx, "", webhookID)
	if err != nil {
		return core.WebhookTestResult{}, fmt.Errorf("load webhook: %w", err)
	}

	body, err := json.Marshal(payload{EventType: "test", Timestamp: d.clock.Now(), Data: map[string]interface{}{"ping": true}})
	if err != nil {
		return core.WebhookTestResult{}, fmt.Errorf("marshal test payload: %w", err)
	}

	start := d.clock.Now()
	reqCtx, cancel := context.WithTimeout(ctx, attemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, hook.URL, bytes.NewReader(body))
	if err != nil {
		errMsg := err.Error()
		d.recordTestFailure(ctx, hook.ID, err)
		return core.WebhookTestResult{Success: false, Error: &errMsg}, nil
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Event", "test")
	if hook.Secret != nil {
		req.Header.Set("X-Webhook-Signature", "sha256="+signBody(*hook.Secret, body))
	}

	resp, err := d.client.Do(req)
	elapsed := d.clock.Now().Sub(start).Milliseconds()
	if err != nil {
		errMsg := err.Error()
		d.recordTestFailure(ctx, hook.ID, err)
		return core.WebhookTestResult{Success: false, Error: &errMsg, ResponseTimeMs: &elapsed}, nil
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	status := resp.StatusCode
	bodyStr := string(respBody)
	success := status >= 200 && status < 300
	if success {
		_ = d.webhooks.RecordSuccess(ctx, hook.ID, d.clock.Now())
	} else {
		d.recordTestFailure(ctx, hook.ID, fmt.Errorf("webhook endpoint returned status %d", status))
	}
	return core.WebhookTestResult{Success: success, StatusCode: &status, ResponseBody: &bodyStr, ResponseTimeMs: &elapsed}, nil
}

func (d *Dispatcher) recordTestFailure(ctx context.Context, webhookID string, cause error) {
	failureCount, disabled, recErr := d.webhooks.RecordFailure(ctx, webhookID)
	d.log.Warn().Str("webhook", webhookID).Err(cause).Int("failure_count", failureCount).Bool("disabled", disabled).Msg("webhook test delivery failed")
	if recErr != nil {
		d.log.Error().Str("webhook", webhookID).Err(recErr).Msg("failed to record webhook test failure")
	}
}

// GenerateSecret produces a whsec_<32 hex chars> secret for webhook creation
// and rotation, per spec.md §4.6.
func GenerateSecret() (string, error) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate webhook secret: %w", err)
	}
	return "whsec_" + hex.EncodeToString(raw), nil
}
