package service

import (
	"context"
	"time"

	"github.com/hostedid/devicereset/internal/model"
	"github.com/hostedid/devicereset/internal/repository"
)

// ResetTokenStore persists reset-device requests. Every mutation is
// conditioned on the state observed at write time, so concurrent callers
// holding the same token see exactly one winner.
type ResetTokenStore interface {
	Open(ctx context.Context, userID string) (*model.ResetDeviceRequest, bool, error)
	// Issue copies the question, options and answer digests of profile onto the granted request.
	Issue(ctx context.Context, userID string, profile *model.KBAProfile, ttl time.Duration) (*repository.IssueResult, error)
	// Resolve returns nil, nil when the token is unknown, consumed or expired.
	Resolve(ctx context.Context, token string) (*model.ResetDeviceRequest, error)
	// Consume and IncrementFailure write only while the request still holds
	// observedAttempts failed attempts (repository.AnyAttempts skips that check)
	// and return repository.ErrTokenAlreadyConsumed otherwise.
	Consume(ctx context.Context, token string, observedAttempts int, next model.ResetDeviceState, reason model.CloseReason) (*model.ResetDeviceRequest, error)
	IncrementFailure(ctx context.Context, token string, observedAttempts, maxAttempts int) (*model.ResetDeviceRequest, error)
	ExpireGranted(ctx context.Context) ([]model.ResetDeviceRequest, error)
}

// AccountDirectory reads a user's KBA enrollment
type AccountDirectory interface {
	GetKBAProfile(ctx context.Context, userID string) (*model.KBAProfile, error)
}

// DeviceResetter clears the user's second-factor binding after a successful challenge
type DeviceResetter interface {
	ResetDeviceBinding(ctx context.Context, userID string) error
}

// FraudNotifier is told when the owner reports a reset request as fraudulent
type FraudNotifier interface {
	ReportCompromisedDevices(ctx context.Context, userID string) error
}

// ResetLinkSender delivers the challenge link to the user. Optional.
type ResetLinkSender interface {
	SendResetLink(ctx context.Context, profile *model.KBAProfile, link string, expiresAt time.Time) error
}

// AuditSink receives one entry per transition
type AuditSink interface {
	Record(ctx context.Context, entry *model.AuditLog) error
}
