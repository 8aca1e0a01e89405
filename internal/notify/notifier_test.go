package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hostedid/devicereset/internal/email"
	"github.com/hostedid/devicereset/internal/logger"
	"github.com/hostedid/devicereset/internal/model"
	"github.com/hostedid/devicereset/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeUsers map[string]*model.User

func (f fakeUsers) GetByID(_ context.Context, id string) (*model.User, error) {
	if u, ok := f[id]; ok {
		return u, nil
	}
	return nil, repository.ErrNotFound
}

type fakeDevices struct {
	cleared     []string
	compromised []string
	err         error
}

func (f *fakeDevices) ClearSecondFactor(_ context.Context, userID string) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.cleared = append(f.cleared, userID)
	return 1, nil
}

func (f *fakeDevices) MarkCompromised(_ context.Context, userID string, _ time.Time) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.compromised = append(f.compromised, userID)
	return 2, nil
}

func newTestNotifier() (*Notifier, *fakeDevices, *email.LogSender) {
	users := fakeUsers{"usr_1": {ID: "usr_1", Email: "owner@example.com"}}
	devices := &fakeDevices{}
	sender := email.NewLogSender(logger.Nop())
	return New(users, devices, sender, "HostedID", logger.Nop()), devices, sender
}

func TestSendResetLink(t *testing.T) {
	n, _, sender := newTestNotifier()
	ctx := context.Background()
	profile := &model.KBAProfile{UserID: "usr_1", Email: "owner@example.com"}

	require.NoError(t, n.SendResetLink(ctx, profile, "https://id.example.com/reset?token=x", time.Now().Add(time.Hour)))
	sent := sender.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "owner@example.com", sent[0].To)

	// no link configured
	require.NoError(t, n.SendResetLink(ctx, profile, "", time.Now()))
	assert.Len(t, sender.Sent(), 1)

	err := n.SendResetLink(ctx, &model.KBAProfile{UserID: "usr_2"}, "https://x", time.Now())
	assert.Error(t, err)
}

func TestResetDeviceBinding(t *testing.T) {
	n, devices, sender := newTestNotifier()

	require.NoError(t, n.ResetDeviceBinding(context.Background(), "usr_1"))
	assert.Equal(t, []string{"usr_1"}, devices.cleared)
	require.Len(t, sender.Sent(), 1)
	assert.Contains(t, sender.Sent()[0].Subject, "device reset")
}

func TestReportCompromisedDevices(t *testing.T) {
	n, devices, sender := newTestNotifier()

	require.NoError(t, n.ReportCompromisedDevices(context.Background(), "usr_1"))
	assert.Equal(t, []string{"usr_1"}, devices.compromised)
	require.Len(t, sender.Sent(), 1)
	assert.Contains(t, sender.Sent()[0].Subject, "blocked")
}

func TestNotificationToUnknownUserIsBestEffort(t *testing.T) {
	n, devices, sender := newTestNotifier()

	require.NoError(t, n.ReportCompromisedDevices(context.Background(), "usr_unknown"))
	assert.Equal(t, []string{"usr_unknown"}, devices.compromised)
	assert.Empty(t, sender.Sent())
}

func TestDeviceStoreFailure(t *testing.T) {
	n, devices, sender := newTestNotifier()
	devices.err = errors.New("connection refused")

	assert.Error(t, n.ResetDeviceBinding(context.Background(), "usr_1"))
	assert.Error(t, n.ReportCompromisedDevices(context.Background(), "usr_1"))
	assert.Empty(t, sender.Sent())
}
