package model

import "time"

// ResetDeviceState is the lifecycle state of a device-reset request
type ResetDeviceState string

const (
	ResetDeviceRequested     ResetDeviceState = "requested"
	ResetDeviceGranted       ResetDeviceState = "granted"
	ResetDeviceCancelled     ResetDeviceState = "cancelled"
	ResetDeviceFraudReported ResetDeviceState = "fraud_reported"
	ResetDeviceCompleted     ResetDeviceState = "completed"
)

// IsTerminal reports whether no further transition is allowed out of s
func (s ResetDeviceState) IsTerminal() bool {
	switch s {
	case ResetDeviceCancelled, ResetDeviceFraudReported, ResetDeviceCompleted:
		return true
	}
	return false
}

// CloseReason records why a request left the granted state
type CloseReason string

const (
	CloseReasonNone          CloseReason = ""
	CloseReasonCompleted     CloseReason = "completed"
	CloseReasonOwnerCancel   CloseReason = "cancelled_by_owner"
	CloseReasonFraudReported CloseReason = "fraud_reported"
	CloseReasonAttemptCap    CloseReason = "attempt_cap"
	CloseReasonSuperseded    CloseReason = "superseded"
	CloseReasonExpired       CloseReason = "expired"
)

// ResetDeviceRequest is one attempt by a user to recover from a lost second factor.
// TokenHash is set if and only if State is ResetDeviceGranted. Question, Options
// and AnswerDigests are copied from the KBA profile when the token is issued.
type ResetDeviceRequest struct {
	ID             string           `json:"id"`
	UserID         string           `json:"userId"`
	State          ResetDeviceState `json:"state"`
	TokenHash      *string          `json:"-"`
	TokenIssuedAt  *time.Time       `json:"tokenIssuedAt,omitempty"`
	TokenExpiresAt *time.Time       `json:"tokenExpiresAt,omitempty"`
	FailedAttempts int              `json:"failedAttempts"`
	Question       string           `json:"question,omitempty"`
	Options        []string         `json:"options,omitempty"`
	AnswerDigests  []string         `json:"-"`
	CloseReason    CloseReason      `json:"closeReason,omitempty"`
	CreatedAt      time.Time        `json:"createdAt"`
	UpdatedAt      time.Time        `json:"updatedAt"`
	ClosedAt       *time.Time       `json:"closedAt,omitempty"`
}

// IsLive reports whether the request holds a token that can still be used at now
func (r *ResetDeviceRequest) IsLive(now time.Time) bool {
	if r.State != ResetDeviceGranted || r.TokenHash == nil || r.TokenExpiresAt == nil {
		return false
	}
	return now.Before(*r.TokenExpiresAt)
}

// IsLocked reports whether the request was closed by the wrong-answer cap
func (r *ResetDeviceRequest) IsLocked() bool {
	return r.State == ResetDeviceCancelled && r.CloseReason == CloseReasonAttemptCap
}
