// Package notify carries out the side effects of a finished reset: clearing
// the second factor, flagging compromised devices and telling the user.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/hostedid/devicereset/internal/email"
	"github.com/hostedid/devicereset/internal/logger"
	"github.com/hostedid/devicereset/internal/model"
)

// UserLookup finds the account a notification goes to
type UserLookup interface {
	GetByID(ctx context.Context, id string) (*model.User, error)
}

// DeviceStore changes device and second-factor rows
type DeviceStore interface {
	ClearSecondFactor(ctx context.Context, userID string) (int64, error)
	MarkCompromised(ctx context.Context, userID string, at time.Time) (int64, error)
}

// Notifier implements the device-resetter, fraud-notifier and link-sender
// collaborators of the reset-device service.
type Notifier struct {
	users   UserLookup
	devices DeviceStore
	sender  email.Sender
	appName string
	now     func() time.Time
	log     *logger.Logger
}

// New creates a Notifier
func New(users UserLookup, devices DeviceStore, sender email.Sender, appName string, log *logger.Logger) *Notifier {
	return &Notifier{
		users:   users,
		devices: devices,
		sender:  sender,
		appName: appName,
		now:     time.Now,
		log:     log.WithComponent("notify"),
	}
}

// SendResetLink mails the challenge link to the address on the KBA profile
func (n *Notifier) SendResetLink(ctx context.Context, profile *model.KBAProfile, link string, expiresAt time.Time) error {
	if link == "" {
		return nil
	}
	if profile.Email == "" {
		return fmt.Errorf("no email address for user %s", profile.UserID)
	}
	if err := n.sender.Send(ctx, email.ResetLinkEmail(profile.Email, n.appName, link, expiresAt)); err != nil {
		return fmt.Errorf("failed to send reset link: %w", err)
	}
	return nil
}

// ResetDeviceBinding removes the user's second factor and confirms it by email
func (n *Notifier) ResetDeviceBinding(ctx context.Context, userID string) error {
	removed, err := n.devices.ClearSecondFactor(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to clear second factor: %w", err)
	}
	n.log.Info().Str("user_id", userID).Int64("removed_methods", removed).Msg("second factor cleared")

	n.mailUser(ctx, userID, func(to string) email.Message {
		return email.DeviceResetEmail(to, n.appName)
	})
	return nil
}

// ReportCompromisedDevices flags the user's devices and acknowledges the report
func (n *Notifier) ReportCompromisedDevices(ctx context.Context, userID string) error {
	flagged, err := n.devices.MarkCompromised(ctx, userID, n.now())
	if err != nil {
		return fmt.Errorf("failed to flag devices: %w", err)
	}
	n.log.Warn().Str("user_id", userID).Int64("devices", flagged).Msg("devices flagged as compromised after fraud report")

	n.mailUser(ctx, userID, func(to string) email.Message {
		return email.FraudReportEmail(to, n.appName)
	})
	return nil
}

// mailUser sends a best-effort notice; delivery failures are logged only
func (n *Notifier) mailUser(ctx context.Context, userID string, build func(to string) email.Message) {
	user, err := n.users.GetByID(ctx, userID)
	if err != nil {
		n.log.Error().Err(err).Str("user_id", userID).Msg("failed to look up user for notification")
		return
	}
	msg := build(user.Email)
	if err := n.sender.Send(ctx, msg); err != nil {
		n.log.Error().Err(err).Str("user_id", userID).Str("subject", msg.Subject).Msg("failed to send notification")
	}
}
