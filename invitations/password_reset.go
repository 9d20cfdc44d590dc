package invitations

import (
	"context"
	"time"

	"github.com/auth9/auth9core/core"
	"github.com/rs/zerolog"
)

// minResponseTime is the floor every PasswordResetBroker.Request call
// pads out to, so that the email-exists and email-does-not-exist code
// paths take observably the same amount of wall-clock time.
const minResponseTime = 250 * time.Millisecond

// IdpPasswordResetClient abstracts the upstream IdP's password-reset
// trigger (e.g. Keycloak's admin "execute-actions-email" endpoint).
type IdpPasswordResetClient interface {
	TriggerReset(ctx context.Context, idpSub string) error
}

// PasswordResetBroker implements the enumeration-resistant password-reset
// proxy described in SPEC_FULL.md: it always reports success to the
// caller, regardless of whether the email belongs to a known user, and
// normalizes response timing so a timing side-channel can't distinguish
// the two cases.
type PasswordResetBroker struct {
	users core.UserStore
	idp   IdpPasswordResetClient
	clock core.Clock
	log   zerolog.Logger
	sleep func(time.Duration)
}

func NewPasswordResetBroker(users core.UserStore, idp IdpPasswordResetClient, clock core.Clock, log zerolog.Logger) *PasswordResetBroker {
	return &PasswordResetBroker{
		users: users,
		idp:   idp,
		clock: clock,
		log:   log,
		sleep: time.Sleep,
	}
}

// Request always returns nil: the caller-visible contract is "success",
// whether or not the email matches a user, and whether or not the
// upstream trigger itself succeeds.
func (b *PasswordResetBroker) Request(ctx context.Context, tenantID, email string) error {
	start := b.clock.Now()

	user, err := b.users.GetByEmail(ctx, email)
	if err == nil && user != nil && user.ExternalIdpID != "" {
		if triggerErr := b.idp.TriggerReset(ctx, user.ExternalIdpID); triggerErr != nil {
			b.log.Warn().Err(triggerErr).Str("tenant_id", tenantID).Msg("password reset trigger failed")
		}
	}

	b.normalizeTiming(start)
	return nil
}

func (b *PasswordResetBroker) normalizeTiming(start time.Time) {
	elapsed := b.clock.Now().Sub(start)
	if elapsed < minResponseTime {
		b.sleep(minResponseTime - elapsed)
	}
}
