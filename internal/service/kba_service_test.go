package service

import (
	"context"
	"testing"
	"time"

	"github.com/hostedid/devicereset/internal/auth"
	"github.com/hostedid/devicereset/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadChallenge(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()
	token := f.grant(t)

	challenge, err := f.kba.LoadChallenge(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, testQuestion, challenge.Question)
	assert.Equal(t, []string{"Rex", "Fluffy", "Max"}, challenge.Options)
	assert.Equal(t, testUserID, challenge.UserRef)
	assert.True(t, f.clock.Now().Add(15*time.Minute).Equal(challenge.ExpiresAt))

	_, err = f.kba.LoadChallenge(ctx, "not-a-token")
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestChallengeFixedAtGrant(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()
	token := f.grant(t)

	newDigest, err := auth.HashSecurityAnswer("Paris", auth.NewParams(1024, 1, 1))
	require.NoError(t, err)
	f.accounts.mu.Lock()
	f.accounts.profiles[testUserID] = &model.KBAProfile{
		UserID:        testUserID,
		Question:      "In which city were you born?",
		Options:       []string{"Paris", "Rome"},
		AnswerDigests: []string{newDigest},
	}
	f.accounts.mu.Unlock()

	challenge, err := f.kba.LoadChallenge(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, testQuestion, challenge.Question)
	assert.Equal(t, []string{"Rex", "Fluffy", "Max"}, challenge.Options)

	res, err := f.kba.SubmitAnswer(ctx, token, testAnswer, "")
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, res.Outcome)
}

func TestSubmitAnswerNoOptionSelected(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()
	token := f.grant(t)

	for _, tt := range []struct{ option, text string }{
		{"", ""},
		{"-1", "Fluffy"},
		{"  ", ""},
		{OptionOther, "   "},
	} {
		res, err := f.kba.SubmitAnswer(ctx, token, tt.option, tt.text)
		require.NoError(t, err)
		assert.Equal(t, OutcomeNoOptionSelected, res.Outcome, "option %q", tt.option)
	}

	// validation failures are not attempts
	req, err := f.resets.Lookup(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, 0, req.FailedAttempts)

	// and are reported even for a dead token, before any lookup
	res, err := f.kba.SubmitAnswer(ctx, "dead", "", "")
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoOptionSelected, res.Outcome)
}

func TestSubmitAnswerWithOtherText(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()
	token := f.grant(t)

	res, err := f.kba.SubmitAnswer(ctx, token, OptionOther, "FLUFFY")
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, res.Outcome)
	assert.Equal(t, []string{testUserID}, f.devices.calls())
}

func TestSubmitAnswerUnknownToken(t *testing.T) {
	f := newFixture(t, 3)

	res, err := f.kba.SubmitAnswer(context.Background(), "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA", "Fluffy", "")
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotFound, res.Outcome)
	assert.Empty(t, f.audit.actions())
}

func TestThreeWrongAnswersLockTheChallenge(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()
	token := f.grant(t)

	for i := 0; i < 3; i++ {
		res, err := f.kba.SubmitAnswer(ctx, token, "Rex", "")
		require.NoError(t, err)
		assert.Equal(t, OutcomeWrongAnswer, res.Outcome)
	}

	_, err := f.kba.LoadChallenge(ctx, token)
	assert.ErrorIs(t, err, ErrTokenNotFound)

	res, err := f.kba.SubmitAnswer(ctx, token, "Fluffy", "")
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotFound, res.Outcome)
}

func TestWrongAnswerKeepsRequestGranted(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()
	token := f.grant(t)

	res, err := f.kba.SubmitAnswer(ctx, token, "Max", "")
	require.NoError(t, err)
	assert.Equal(t, OutcomeWrongAnswer, res.Outcome)

	_, err = f.kba.LoadChallenge(ctx, token)
	require.NoError(t, err)

	res, err = f.kba.SubmitAnswer(ctx, token, "Fluffy", "")
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, res.Outcome)
}

func TestChallengeRoundTripAndExpiry(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()
	token := f.grant(t)

	_, err := f.kba.LoadChallenge(ctx, token)
	require.NoError(t, err)

	f.clock.Advance(16 * time.Minute)
	_, err = f.kba.LoadChallenge(ctx, token)
	assert.ErrorIs(t, err, ErrTokenNotFound)

	res, err := f.kba.SubmitAnswer(ctx, token, "Fluffy", "")
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotFound, res.Outcome)
	assert.Empty(t, f.devices.calls())
}
