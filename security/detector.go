// Package security implements the login-event pattern detectors of
// spec.md §4.7: brute force, password spray, new device, and impossible
// travel, each firing a security.alert webhook event.
package security

import (
	"context"
	"fmt"
	"time"

	"github.com/auth9/auth9core/core"
)

const (
	bruteForceWindow    = 10 * time.Minute
	bruteForceThreshold = 5

	spraySameWindow    = 10 * time.Minute
	sprayAccountCount  = 5

	newDeviceLookback = 100

	impossibleTravelWindow = 1 * time.Hour
)

var failureTypes = map[string]bool{
	"failed_password": true,
	"failed_mfa":      true,
	"locked":          true,
}

// Detector implements core.SecurityDetector.
type Detector struct {
	loginEvents    core.LoginEventStore
	alerts         core.SecurityAlertStore
	webhooks       core.WebhookDispatcher
	clock          core.Clock
}

func NewDetector(loginEvents core.LoginEventStore, alerts core.SecurityAlertStore, webhooks core.WebhookDispatcher, clock core.Clock) *Detector {
	return &Detector{loginEvents: loginEvents, alerts: alerts, webhooks: webhooks, clock: clock}
}

// Analyze implements core.SecurityDetector.Analyze, running the four
// detectors in a fixed order (brute force, password spray, new device,
// impossible travel) and persisting + dispatching every alert raised.
func (d *Detector) Analyze(ctx context.Context, event *core.LoginEvent) ([]*core.SecurityAlert, error) {
	var found []*core.SecurityAlert

	if alert, err := d.detectBruteForce(ctx, event); err != nil {
		return nil, err
	} else if alert != nil {
		found = append(found, alert)
	}

	if alert, err := d.detectPasswordSpray(ctx, event); err != nil {
		return nil, err
	} else if alert != nil {
		found = append(found, alert)
	}

	if event.Type == "success" {
		if alert, err := d.detectNewDevice(ctx, event); err != nil {
			return nil, err
		} else if alert != nil {
			found = append(found, alert)
		}

		if alert, err := d.detectImpossibleTravel(ctx, event); err != nil {
			return nil, err
		} else if alert != nil {
			found = append(found, alert)
		}
	}

	for _, alert := range found {
		if err := d.alerts.Create(ctx, alert); err != nil {
			return found, fmt.Errorf("persist security alert: %w", err)
		}
		d.dispatchAlert(ctx, alert)
	}
	return found, nil
}

func (d *Detector) dispatchAlert(ctx context.Context, alert *core.SecurityAlert) {
	if d.webhooks == nil {
		return
	}
	tenantID := ""
	if alert.TenantID != nil {
		tenantID = *alert.TenantID
	}
	data := map[string]interface{}{
		"alert_id": alert.ID,
		"type":     alert.Type,
		"severity": alert.Severity,
		"details":  alert.Details,
	}
	_ = d.webhooks.Dispatch(ctx, tenantID, "security.alert", data)
}

func (d *Detector) detectBruteForce(ctx context.Context, event *core.LoginEvent) (*core.SecurityAlert, error) {
	if event.IP == nil || !failureTypes[event.Type] {
		return nil, nil
	}
	events, err := d.loginEvents.ListRecentByIP(ctx, *event.IP, d.clock.Now().Add(-bruteForceWindow))
	if err != nil {
		return nil, fmt.Errorf("list recent logins by ip: %w", err)
	}

	count := 0
	for _, e := range events {
		if failureTypes[e.Type] {
			count++
		}
	}
	if count < bruteForceThreshold {
		return nil, nil
	}

	return &core.SecurityAlert{
		UserID:    event.UserID,
		TenantID:  event.TenantID,
		Type:      "brute_force",
		Severity:  "high",
		Details:   map[string]interface{}{"ip": *event.IP, "failed_attempts": count, "window_minutes": int(bruteForceWindow.Minutes())},
		CreatedAt: d.clock.Now(),
	}, nil
}

func (d *Detector) detectPasswordSpray(ctx context.Context, event *core.LoginEvent) (*core.SecurityAlert, error) {
	if event.IP == nil || !failureTypes[event.Type] {
		return nil, nil
	}
	events, err := d.loginEvents.ListRecentByIP(ctx, *event.IP, d.clock.Now().Add(-spraySameWindow))
	if err != nil {
		return nil, fmt.Errorf("list recent logins by ip: %w", err)
	}

	accounts := map[string]bool{}
	for _, e := range events {
		if !failureTypes[e.Type] {
			continue
		}
		if e.Email != nil {
			accounts[*e.Email] = true
		} else if e.UserID != nil {
			accounts[*e.UserID] = true
		}
	}
	if len(accounts) < sprayAccountCount {
		return nil, nil
	}

	return &core.SecurityAlert{
		UserID:    event.UserID,
		TenantID:  event.TenantID,
		Type:      "suspicious_ip",
		Severity:  "critical",
		Details:   map[string]interface{}{"ip": *event.IP, "distinct_accounts": len(accounts), "window_minutes": int(spraySameWindow.Minutes())},
		CreatedAt: d.clock.Now(),
	}, nil
}

func (d *Detector) detectNewDevice(ctx context.Context, event *core.LoginEvent) (*core.SecurityAlert, error) {
	if event.UserID == nil || event.UserAgent == nil || *event.UserAgent == "" {
		return nil, nil
	}
	history, err := d.loginEvents.ListRecentByUser(ctx, *event.UserID, newDeviceLookback)
	if err != nil {
		return nil, fmt.Errorf("list recent logins by user: %w", err)
	}

	seen := false
	for _, e := range history {
		if e.Type != "success" || e.ID == event.ID {
			continue
		}
		if e.UserAgent != nil && *e.UserAgent == *event.UserAgent {
			seen = true
			break
		}
	}
	if seen {
		return nil, nil
	}

	return &core.SecurityAlert{
		UserID:    event.UserID,
		TenantID:  event.TenantID,
		Type:      "new_device",
		Severity:  "medium",
		Details:   map[string]interface{}{"user_agent": *event.UserAgent},
		CreatedAt: d.clock.Now(),
	}, nil
}

func (d *Detector) detectImpossibleTravel(ctx context.Context, event *core.LoginEvent) (*core.SecurityAlert, error) {
	if event.UserID == nil {
		return nil, nil
	}
	last, err := d.loginEvents.LastSuccessByUser(ctx, *event.UserID)
	if err != nil || last == nil || last.ID == event.ID {
		return nil, nil
	}
	if d.clock.Now().Sub(last.CreatedAt) >= impossibleTravelWindow {
		return nil, nil
	}
	if event.Location == nil || last.Location == nil || *event.Location == *last.Location {
		return nil, nil
	}

	return &core.SecurityAlert{
		UserID:   event.UserID,
		TenantID: event.TenantID,
		Type:     "impossible_travel",
		Severity: "high",
		Details: map[string]interface{}{
			"previous_location": *last.Location,
			"current_location":  *event.Location,
			"minutes_since_last": int(d.clock.Now().Sub(last.CreatedAt).Minutes()),
		},
		CreatedAt: d.clock.Now(),
	}, nil
}
