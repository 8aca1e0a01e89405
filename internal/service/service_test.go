package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hostedid/devicereset/internal/auth"
	"github.com/hostedid/devicereset/internal/config"
	"github.com/hostedid/devicereset/internal/database"
	"github.com/hostedid/devicereset/internal/logger"
	"github.com/hostedid/devicereset/internal/model"
	"github.com/hostedid/devicereset/internal/repository"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

const (
	testUserID   = "usr_owner"
	testQuestion = "What was the name of your first pet?"
	testAnswer   = "Fluffy"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeAccounts struct {
	mu       sync.Mutex
	profiles map[string]*model.KBAProfile
}

func (f *fakeAccounts) GetKBAProfile(_ context.Context, userID string) (*model.KBAProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *p
	return &copied, nil
}

type fakeAudit struct {
	mu      sync.Mutex
	entries []*model.AuditLog
}

func (f *fakeAudit) Record(_ context.Context, entry *model.AuditLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeAudit) actions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, e := range f.entries {
		out = append(out, e.Action)
	}
	return out
}

func (f *fakeAudit) last() *model.AuditLog {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.entries) == 0 {
		return nil
	}
	return f.entries[len(f.entries)-1]
}

func (f *fakeAudit) all() []*model.AuditLog {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*model.AuditLog(nil), f.entries...)
}

// fakeCollaborator records the users passed to the device and fraud hooks
type fakeCollaborator struct {
	mu    sync.Mutex
	users []string
}

func (f *fakeCollaborator) ResetDeviceBinding(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users = append(f.users, userID)
	return nil
}

func (f *fakeCollaborator) ReportCompromisedDevices(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users = append(f.users, userID)
	return nil
}

func (f *fakeCollaborator) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.users...)
}

type fakeLinks struct {
	mu    sync.Mutex
	links []string
}

func (f *fakeLinks) SendResetLink(_ context.Context, _ *model.KBAProfile, link string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.links = append(f.links, link)
	return nil
}

type fixture struct {
	resets   *ResetDeviceService
	kba      *KBAService
	store    *repository.RedisResetDeviceStore
	clock    *testClock
	audit    *fakeAudit
	devices  *fakeCollaborator
	fraud    *fakeCollaborator
	accounts *fakeAccounts
}

func newFixture(t *testing.T, maxAttempts int) *fixture {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})

	digest, err := auth.HashSecurityAnswer(testAnswer, auth.NewParams(1024, 1, 1))
	require.NoError(t, err)

	clock := &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	store := repository.NewRedisResetDeviceStore(database.WrapRedis(client), time.Hour)
	store.SetClock(clock.Now)

	accounts := &fakeAccounts{profiles: map[string]*model.KBAProfile{
		testUserID: {
			UserID:        testUserID,
			Email:         "owner@example.com",
			Question:      testQuestion,
			Options:       []string{"Rex", "Fluffy", "Max"},
			AnswerDigests: []string{digest},
		},
	}}

	f := &fixture{
		store:    store,
		clock:    clock,
		audit:    &fakeAudit{},
		devices:  &fakeCollaborator{},
		fraud:    &fakeCollaborator{},
		accounts: accounts,
	}
	cfg := config.ResetConfig{
		TokenTTL:    15 * time.Minute,
		MaxAttempts: maxAttempts,
		LinkBaseURL: "https://id.example.com/reset-device",
	}
	f.resets = NewResetDeviceService(store, accounts, f.devices, f.fraud, f.audit, cfg, logger.Nop())
	f.resets.SetClock(clock.Now)
	f.kba = NewKBAService(f.resets, accounts, logger.Nop())
	return f
}

func (f *fixture) grant(t *testing.T) string {
	t.Helper()
	token, err := f.resets.GrantRequest(context.Background(), testUserID)
	require.NoError(t, err)
	require.True(t, auth.LooksLikeResetToken(token))
	return token
}
