package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/hostedid/devicereset/internal/auth"
	"github.com/hostedid/devicereset/internal/config"
	"github.com/hostedid/devicereset/internal/logger"
	"github.com/hostedid/devicereset/internal/model"
	"github.com/hostedid/devicereset/internal/repository"
)

// Outcome is the result of an answer submission
type Outcome string

const (
	OutcomeSuccess          Outcome = "success"
	OutcomeWrongAnswer      Outcome = "wrong_answer"
	OutcomeNoOptionSelected Outcome = "no_option_selected"
	OutcomeNotFound         Outcome = "not_found"
)

// Err maps an outcome to its sentinel error, nil for success
func (o Outcome) Err() error {
	switch o {
	case OutcomeSuccess:
		return nil
	case OutcomeWrongAnswer:
		return ErrWrongAnswer
	case OutcomeNoOptionSelected:
		return ErrNoOptionSelected
	default:
		return ErrTokenNotFound
	}
}

// ResetDeviceService drives the reset-device request lifecycle:
//
//	requested -> granted -> completed | cancelled | fraud_reported
//
// It holds no locks of its own; every transition is a single conditional
// store write and emits exactly one audit entry when it commits.
type ResetDeviceService struct {
	store       ResetTokenStore
	accounts    AccountDirectory
	devices     DeviceResetter
	fraud       FraudNotifier
	links       ResetLinkSender
	audit       AuditSink
	tokenTTL    time.Duration
	maxAttempts int
	linkBase    string
	now         func() time.Time
	log         *logger.Logger
}

// NewResetDeviceService creates a new ResetDeviceService
func NewResetDeviceService(
	store ResetTokenStore,
	accounts AccountDirectory,
	devices DeviceResetter,
	fraud FraudNotifier,
	audit AuditSink,
	cfg config.ResetConfig,
	log *logger.Logger,
) *ResetDeviceService {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 3
	}
	tokenTTL := cfg.TokenTTL
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	return &ResetDeviceService{
		store:       store,
		accounts:    accounts,
		devices:     devices,
		fraud:       fraud,
		audit:       audit,
		tokenTTL:    tokenTTL,
		maxAttempts: maxAttempts,
		linkBase:    cfg.LinkBaseURL,
		now:         time.Now,
		log:         log.WithComponent("reset_device_service"),
	}
}

// SetLinkSender enables delivery of the challenge link on grant
func (s *ResetDeviceService) SetLinkSender(links ResetLinkSender) {
	s.links = links
}

// SetClock overrides the time source used for audit timestamps
func (s *ResetDeviceService) SetClock(now func() time.Time) {
	s.now = now
}

// MaxAttempts returns the wrong-answer cap
func (s *ResetDeviceService) MaxAttempts() int {
	return s.maxAttempts
}

// OpenRequest records that userID asked for a device reset
func (s *ResetDeviceService) OpenRequest(ctx context.Context, userID string) (*model.ResetDeviceRequest, error) {
	if userID == "" {
		return nil, ErrInvalidUser
	}

	req, created, err := s.store.Open(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to open reset request: %w", err)
	}
	if created {
		s.logAudit(ctx, req, model.AuditActionResetDeviceRequested, nil)
	}
	return req, nil
}

// GrantRequest issues a fresh token for userID. A previously granted request
// of the same user is superseded and its token stops resolving.
func (s *ResetDeviceService) GrantRequest(ctx context.Context, userID string) (string, error) {
	if userID == "" {
		return "", ErrInvalidUser
	}

	profile, err := s.accounts.GetKBAProfile(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", ErrKBANotEnrolled
		}
		return "", fmt.Errorf("failed to load kba profile: %w", err)
	}
	if len(profile.AnswerDigests) == 0 {
		return "", ErrKBANotEnrolled
	}

	result, err := s.store.Issue(ctx, userID, profile, s.tokenTTL)
	if err != nil {
		return "", fmt.Errorf("failed to issue reset token: %w", err)
	}

	if result.Superseded != nil {
		s.logAudit(ctx, result.Superseded, model.AuditActionResetDeviceSuperseded, map[string]interface{}{
			"superseded_by": result.Request.ID,
		})
	}

	var expiresAt time.Time
	if result.Request.TokenExpiresAt != nil {
		expiresAt = *result.Request.TokenExpiresAt
	}
	s.logAudit(ctx, result.Request, model.AuditActionResetDeviceGranted, map[string]interface{}{
		"expires_at": expiresAt.UTC().Format(time.RFC3339),
	})

	if s.links != nil {
		if err := s.links.SendResetLink(ctx, profile, s.ResetLink(result.Token), expiresAt); err != nil {
			s.log.Error().Err(err).Str("request_id", result.Request.ID).Msg("failed to send reset link")
		}
	}

	return result.Token, nil
}

// ResetLink builds the URL of the challenge page for token
func (s *ResetDeviceService) ResetLink(token string) string {
	if s.linkBase == "" {
		return ""
	}
	return s.linkBase + "?token=" + url.QueryEscape(token)
}

// Lookup returns the live request for token, or nil when the token does not resolve
func (s *ResetDeviceService) Lookup(ctx context.Context, token string) (*model.ResetDeviceRequest, error) {
	if !auth.LooksLikeResetToken(token) {
		return nil, nil
	}
	req, err := s.store.Resolve(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve reset token: %w", err)
	}
	return req, nil
}

// CancelRequest closes the request as cancelled by its owner.
// It returns false when the token does not resolve.
func (s *ResetDeviceService) CancelRequest(ctx context.Context, token string) (bool, error) {
	req, err := s.consume(ctx, token, repository.AnyAttempts, model.ResetDeviceCancelled, model.CloseReasonOwnerCancel)
	if err != nil || req == nil {
		return false, err
	}

	s.logAudit(ctx, req, model.AuditActionResetDeviceCancelled, nil)
	return true, nil
}

// ReportFraud closes the request as fraudulent and signals that the user's
// devices may be compromised. It returns false when the token does not resolve.
func (s *ResetDeviceService) ReportFraud(ctx context.Context, token string) (bool, error) {
	req, err := s.consume(ctx, token, repository.AnyAttempts, model.ResetDeviceFraudReported, model.CloseReasonFraudReported)
	if err != nil || req == nil {
		return false, err
	}

	s.logAudit(ctx, req, model.AuditActionResetDeviceReportedFraud, nil)

	if s.fraud != nil {
		if err := s.fraud.ReportCompromisedDevices(ctx, req.UserID); err != nil {
			s.log.Error().Err(err).Str("user_id", req.UserID).Msg("failed to report compromised devices")
		}
	}
	return true, nil
}

// SubmitCorrectAnswer completes the request after verifying answer against the
// stored digests. A mismatch is counted as a wrong answer.
func (s *ResetDeviceService) SubmitCorrectAnswer(ctx context.Context, userID, token, answer string) (Outcome, error) {
	req, err := s.lookupOwned(ctx, userID, token)
	if err != nil || req == nil {
		return OutcomeNotFound, err
	}
	return s.submitCorrect(ctx, req, token, answer)
}

// SubmitWrongAnswer counts a failed attempt. The request is closed as locked
// when the count reaches the cap.
func (s *ResetDeviceService) SubmitWrongAnswer(ctx context.Context, userID, token string) (Outcome, error) {
	req, err := s.lookupOwned(ctx, userID, token)
	if err != nil || req == nil {
		return OutcomeNotFound, err
	}
	return s.submitWrong(ctx, req, token)
}

// submitCorrect writes only if req is still the version the caller resolved:
// a wrong answer counted in between makes this submission lose.
func (s *ResetDeviceService) submitCorrect(ctx context.Context, req *model.ResetDeviceRequest, token, answer string) (Outcome, error) {
	if !auth.VerifySecurityAnswer(answer, req.AnswerDigests) {
		return s.submitWrong(ctx, req, token)
	}

	closed, err := s.consume(ctx, token, req.FailedAttempts, model.ResetDeviceCompleted, model.CloseReasonCompleted)
	if err != nil {
		return OutcomeNotFound, err
	}
	if closed == nil {
		return OutcomeNotFound, nil
	}

	s.logAudit(ctx, closed, model.AuditActionResetDeviceCorrectAnswer, nil)

	if s.devices != nil {
		if err := s.devices.ResetDeviceBinding(ctx, closed.UserID); err != nil {
			s.log.Error().Err(err).Str("user_id", closed.UserID).Msg("failed to reset device binding")
		}
	}
	return OutcomeSuccess, nil
}

func (s *ResetDeviceService) submitWrong(ctx context.Context, req *model.ResetDeviceRequest, token string) (Outcome, error) {
	updated, err := s.store.IncrementFailure(ctx, token, req.FailedAttempts, s.maxAttempts)
	if errors.Is(err, repository.ErrTokenAlreadyConsumed) {
		s.log.Debug().Str("request_id", req.ID).Msg("request changed before failed attempt was recorded")
		return OutcomeNotFound, nil
	}
	if err != nil {
		return OutcomeNotFound, fmt.Errorf("failed to record failed attempt: %w", err)
	}

	locked := updated.IsLocked()
	s.logAudit(ctx, updated, model.AuditActionResetDeviceWrongAnswer, map[string]interface{}{
		"failed_attempts": updated.FailedAttempts,
		"locked":          locked,
	})
	if locked {
		s.log.Warn().Str("request_id", updated.ID).Str("user_id", updated.UserID).Msg("reset device request locked after too many wrong answers")
	}
	return OutcomeWrongAnswer, nil
}

// ExpireStale closes granted requests whose token has expired and returns how many were closed
func (s *ResetDeviceService) ExpireStale(ctx context.Context) (int, error) {
	expired, err := s.store.ExpireGranted(ctx)
	for i := range expired {
		s.logAudit(ctx, &expired[i], model.AuditActionResetDeviceExpired, nil)
	}
	if err != nil {
		return len(expired), fmt.Errorf("failed to expire granted requests: %w", err)
	}
	return len(expired), nil
}

// consume performs a terminal transition; a token that no longer resolves, or
// whose request moved past observedAttempts, yields nil, nil.
func (s *ResetDeviceService) consume(ctx context.Context, token string, observedAttempts int, next model.ResetDeviceState, reason model.CloseReason) (*model.ResetDeviceRequest, error) {
	if !auth.LooksLikeResetToken(token) {
		return nil, nil
	}
	req, err := s.store.Consume(ctx, token, observedAttempts, next, reason)
	if errors.Is(err, repository.ErrTokenAlreadyConsumed) {
		s.log.Warn().Err(ErrInvalidStateTransition).Str("to", string(next)).Msg("reset token did not resolve")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to close reset request: %w", err)
	}
	return req, nil
}

// lookupOwned resolves token and treats a request owned by another user as absent
func (s *ResetDeviceService) lookupOwned(ctx context.Context, userID, token string) (*model.ResetDeviceRequest, error) {
	req, err := s.Lookup(ctx, token)
	if err != nil || req == nil {
		return nil, err
	}
	if req.UserID != userID {
		s.log.Warn().Str("request_id", req.ID).Msg("reset token presented for a different user")
		return nil, nil
	}
	return req, nil
}

func (s *ResetDeviceService) logAudit(ctx context.Context, req *model.ResetDeviceRequest, action string, metadata map[string]interface{}) {
	if s.audit == nil {
		return
	}
	userID := req.UserID
	resourceType := model.AuditResourceResetDevice
	resourceID := req.ID
	client := clientInfoFrom(ctx)

	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	metadata["state"] = string(req.State)
	if req.CloseReason != model.CloseReasonNone {
		metadata["close_reason"] = string(req.CloseReason)
	}

	entry := &model.AuditLog{
		ID:           generateID("aud"),
		UserID:       &userID,
		Action:       action,
		ResourceType: &resourceType,
		ResourceID:   &resourceID,
		IPAddress:    optionalString(client.IPAddress),
		UserAgent:    optionalString(client.UserAgent),
		Metadata:     metadata,
		CreatedAt:    s.now(),
	}

	if err := s.audit.Record(ctx, entry); err != nil {
		s.log.Error().Err(err).Str("action", action).Msg("failed to create audit log")
	}
}
