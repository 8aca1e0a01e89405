package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hostedid/devicereset/internal/auth"
	"github.com/hostedid/devicereset/internal/logger"
	"github.com/hostedid/devicereset/internal/repository"
)

const (
	// optionNone is what the form posts when the placeholder entry is left selected
	optionNone = "-1"
	// OptionOther selects the free-text answer field
	OptionOther = "other"
)

// Challenge is what the user sees when opening a reset link
type Challenge struct {
	Question  string    `json:"question"`
	Options   []string  `json:"options"`
	UserRef   string    `json:"userRef"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// SubmitResult is the tagged result of an answer submission
type SubmitResult struct {
	Outcome Outcome `json:"outcome"`
}

// KBAService is the token-facing entry point of the reset-device flow
type KBAService struct {
	resets   *ResetDeviceService
	accounts AccountDirectory
	log      *logger.Logger
}

// NewKBAService creates a new KBAService
func NewKBAService(resets *ResetDeviceService, accounts AccountDirectory, log *logger.Logger) *KBAService {
	return &KBAService{
		resets:   resets,
		accounts: accounts,
		log:      log.WithComponent("kba_service"),
	}
}

// LoadChallenge returns the security question for a live token, or
// ErrTokenNotFound. The question is the one fixed when the token was issued,
// matching the answer digests the submission is checked against.
func (s *KBAService) LoadChallenge(ctx context.Context, token string) (*Challenge, error) {
	req, err := s.resets.Lookup(ctx, token)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, ErrTokenNotFound
	}

	question, options := req.Question, req.Options
	if question == "" {
		// granted before the challenge was stored on the request
		profile, err := s.accounts.GetKBAProfile(ctx, req.UserID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				s.log.Warn().Str("request_id", req.ID).Msg("granted request without kba enrollment")
				return nil, ErrTokenNotFound
			}
			return nil, fmt.Errorf("failed to load kba profile: %w", err)
		}
		question, options = profile.Question, profile.Options
	}

	challenge := &Challenge{
		Question: question,
		Options:  append([]string(nil), options...),
		UserRef:  req.UserID,
	}
	if req.TokenExpiresAt != nil {
		challenge.ExpiresAt = *req.TokenExpiresAt
	}
	return challenge, nil
}

// SubmitAnswer checks the answer picked on the challenge form. selectedOption
// is the chosen option value, OptionOther for the free-text field, or empty /
// "-1" when nothing was chosen.
func (s *KBAService) SubmitAnswer(ctx context.Context, token, selectedOption, answerText string) (*SubmitResult, error) {
	answer, ok := chosenAnswer(selectedOption, answerText)
	if !ok {
		return &SubmitResult{Outcome: OutcomeNoOptionSelected}, nil
	}

	req, err := s.resets.Lookup(ctx, token)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return &SubmitResult{Outcome: OutcomeNotFound}, nil
	}

	// Both branches write against the request resolved above, so of two
	// submissions that resolved the same version only one commits.
	var outcome Outcome
	if auth.VerifySecurityAnswer(answer, req.AnswerDigests) {
		outcome, err = s.resets.submitCorrect(ctx, req, token, answer)
	} else {
		outcome, err = s.resets.submitWrong(ctx, req, token)
	}
	if err != nil {
		return nil, err
	}
	return &SubmitResult{Outcome: outcome}, nil
}

func chosenAnswer(selectedOption, answerText string) (string, bool) {
	selected := strings.TrimSpace(selectedOption)
	switch selected {
	case "", optionNone:
		return "", false
	case OptionOther:
		if strings.TrimSpace(answerText) == "" {
			return "", false
		}
		return answerText, true
	default:
		return selected, true
	}
}
