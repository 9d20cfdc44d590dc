// Package invitations implements the invitation create/accept/revoke
// workflow of spec.md §3/§4 and the password-reset enumeration-resistance
// proxy described in SPEC_FULL.md EXP-3.
package invitations

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/auth9/auth9core/core"
	"github.com/auth9/auth9core/crypto"
)

// Service implements core.InvitationService.
type Service struct {
	invitations core.InvitationStore
	tenants     core.TenantStore
	clock       core.Clock
	ttl         time.Duration
}

func NewService(invitations core.InvitationStore, tenants core.TenantStore, clock core.Clock, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &Service{invitations: invitations, tenants: tenants, clock: clock, ttl: ttl}
}

// Create implements core.InvitationService.Create: generates a random
// clear token, stores only its SHA256 digest (per crypto.HashString's
// lookup-by-hash convention, the same one refresh tokens use), and returns
// the clear token to the caller exactly once — it is never recoverable
// from storage afterward.
func (s *Service) Create(ctx context.Context, tenantID, email string, roleIDs []string, invitedBy string) (*core.Invitation, string, error) {
	if _, err := s.tenants.GetByID(ctx, tenantID); err != nil {
		return nil, "", fmt.Errorf("tenant not found: %w", err)
	}

	if _, err := s.invitations.GetPendingByEmail(ctx, tenantID, email); err == nil {
		return nil, "", fmt.Errorf("a pending invitation already exists for %s", email)
	}

	clearToken, err := generateToken()
	if err != nil {
		return nil, "", fmt.Errorf("generate invitation token: %w", err)
	}

	inv := &core.Invitation{
		TenantID:  tenantID,
		Email:     email,
		RoleIDs:   roleIDs,
		InvitedBy: invitedBy,
		TokenHash: crypto.HashString(clearToken),
		Status:    "pending",
		ExpiresAt: s.clock.Now().Add(s.ttl),
		CreatedAt: s.clock.Now(),
	}
	if err := s.invitations.Create(ctx, inv); err != nil {
		return nil, "", fmt.Errorf("create invitation: %w", err)
	}
	return inv, clearToken, nil
}

// Accept implements core.InvitationService.Accept. Acceptance is
// idempotent against replay: GetAndConsumeByTokenHash atomically claims the
// row, so a repeated call with the same (already-consumed) token surfaces
// as not-found rather than double-accepting.
func (s *Service) Accept(ctx context.Context, clearToken string) (*core.Invitation, error) {
	inv, err := s.invitations.GetAndConsumeByTokenHash(ctx, crypto.HashString(clearToken))
	if err != nil {
		return nil, fmt.Errorf("invitation not found or already consumed: %w", err)
	}

	if inv.Status == "revoked" {
		return nil, fmt.Errorf("invitation has been revoked")
	}
	if inv.Status == "accepted" {
		return inv, nil
	}
	if s.clock.Now().After(inv.ExpiresAt) {
		inv.Status = "expired"
		_ = s.invitations.Update(ctx, inv)
		return nil, fmt.Errorf("invitation expired")
	}

	now := s.clock.Now()
	inv.Status = "accepted"
	inv.AcceptedAt = &now
	if err := s.invitations.Update(ctx, inv); err != nil {
		return nil, fmt.Errorf("mark invitation accepted: %w", err)
	}
	return inv, nil
}

// Revoke implements core.InvitationService.Revoke.
func (s *Service) Revoke(ctx context.Context, tenantID, id string) error {
	inv, err := s.invitations.GetByID(ctx, tenantID, id)
	if err != nil {
		return fmt.Errorf("invitation not found: %w", err)
	}
	if inv.Status != "pending" {
		return fmt.Errorf("cannot revoke invitation in status %q", inv.Status)
	}
	inv.Status = "revoked"
	return s.invitations.Update(ctx, inv)
}

func generateToken() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}
