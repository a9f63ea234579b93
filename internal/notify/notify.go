package notify

import (
	"context"
	"log/slog"
	"time"

	"hearth/internal/models"
)

// Notifier delivers a one-time code to a user over a single channel.
type Notifier interface {
	SendCode(ctx context.Context, user *models.User, code string, ttl time.Duration) error
}

// Dispatcher picks the channel once per dispatch. Login codes always go to
// the email address that names the account; challenge and setup codes follow
// the user's enrolled method.
type Dispatcher struct {
	email Notifier
	sms   Notifier
}

func NewDispatcher(email, sms Notifier) *Dispatcher {
	return &Dispatcher{email: email, sms: sms}
}

func (d *Dispatcher) SendCode(ctx context.Context, user *models.User, purpose models.CredentialPurpose, code string, ttl time.Duration) error {
	notifier := d.email
	if purpose != models.PurposeLogin && user.TwoFactorMethod == models.TwoFactorSMS && d.sms != nil {
		notifier = d.sms
	}

	return notifier.SendCode(ctx, user, code, ttl)
}

// SendCodeQuietly logs delivery failures instead of returning them, so a
// transport error never discloses whether the account exists.
func (d *Dispatcher) SendCodeQuietly(ctx context.Context, user *models.User, purpose models.CredentialPurpose, code string, ttl time.Duration) {
	if err := d.SendCode(ctx, user, purpose, code, ttl); err != nil {
		slog.Error("error delivering one-time code", "component", "notify", "purpose", purpose, "error", err)
	}
}
