package audit

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hostedid/devicereset/internal/database"
	"github.com/hostedid/devicereset/internal/logger"
	"github.com/hostedid/devicereset/internal/model"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu      sync.Mutex
	entries []*model.AuditLog
	err     error
	block   chan struct{}
}

func (s *recordingSink) Record(_ context.Context, entry *model.AuditLog) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.entries = append(s.entries, entry)
	return nil
}

func (s *recordingSink) actions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, e := range s.entries {
		out = append(out, e.Action)
	}
	return out
}

func entry(action string) *model.AuditLog {
	return &model.AuditLog{ID: "aud_" + action, Action: action, CreatedAt: time.Now()}
}

func TestMultiRecordsToEverySink(t *testing.T) {
	first := &recordingSink{err: errors.New("db down")}
	second := &recordingSink{}

	err := Multi{first, nil, second}.Record(context.Background(), entry(model.AuditActionResetDeviceGranted))
	assert.Error(t, err)
	assert.Equal(t, []string{model.AuditActionResetDeviceGranted}, second.actions())
}

func TestDispatcherDeliversInOrder(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(DispatcherConfig{BufferSize: 16}, sink, logger.Nop())

	actions := []string{
		model.AuditActionResetDeviceGranted,
		model.AuditActionResetDeviceWrongAnswer,
		model.AuditActionResetDeviceCorrectAnswer,
	}
	for _, a := range actions {
		require.NoError(t, d.Record(context.Background(), entry(a)))
	}
	d.Close()

	assert.Equal(t, actions, sink.actions())
	assert.Zero(t, d.Dropped())
	assert.Zero(t, d.Failed())

	// closed dispatchers count new entries as dropped
	require.NoError(t, d.Record(context.Background(), entry(model.AuditActionResetDeviceExpired)))
	d.Close()
	assert.Len(t, sink.actions(), 3)
	assert.Equal(t, uint64(1), d.Dropped())
}

func TestDispatcherCloseRacingRecordLosesNothing(t *testing.T) {
	for round := 0; round < 20; round++ {
		sink := &recordingSink{}
		d := NewDispatcher(DispatcherConfig{BufferSize: 4}, sink, logger.Nop())

		const senders = 8
		const perSender = 25
		var wg sync.WaitGroup
		for i := 0; i < senders; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < perSender; j++ {
					assert.NoError(t, d.Record(context.Background(), entry(model.AuditActionResetDeviceWrongAnswer)))
				}
			}()
		}
		go d.Close()
		wg.Wait()
		d.Close()

		// every entry is either written or counted as dropped after close
		assert.Equal(t, uint64(senders*perSender), d.Dropped()+uint64(len(sink.actions())), "round %d", round)
	}
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	sink := &recordingSink{block: make(chan struct{})}
	d := NewDispatcher(DispatcherConfig{BufferSize: 1, DropIfFull: true}, sink, logger.Nop())

	for i := 0; i < 10; i++ {
		require.NoError(t, d.Record(context.Background(), entry(model.AuditActionResetDeviceWrongAnswer)))
	}
	close(sink.block)
	d.Close()

	// at most one entry in the worker and one in the buffer
	assert.GreaterOrEqual(t, d.Dropped(), uint64(8))
	assert.Equal(t, uint64(10), d.Dropped()+uint64(len(sink.actions())))
}

func TestDispatcherCountsFailures(t *testing.T) {
	sink := &recordingSink{err: errors.New("insert failed")}
	d := NewDispatcher(DispatcherConfig{BufferSize: 4}, sink, logger.Nop())

	require.NoError(t, d.Record(context.Background(), entry(model.AuditActionResetDeviceCancelled)))
	require.NoError(t, d.Record(context.Background(), entry(model.AuditActionResetDeviceReportedFraud)))
	d.Close()

	assert.Equal(t, uint64(2), d.Failed())
}

func TestNilDispatcherIsSafe(t *testing.T) {
	var d *Dispatcher
	assert.NoError(t, d.Record(context.Background(), entry(model.AuditActionResetDeviceGranted)))
	d.Close()
	assert.Zero(t, d.Dropped())
}

func TestStreamSinkPublishes(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	sub := client.Subscribe(ctx, "audit")
	defer sub.Close()
	_, err = sub.Receive(ctx)
	require.NoError(t, err)

	userID := "usr_1"
	sent := entry(model.AuditActionResetDeviceGranted)
	sent.UserID = &userID
	require.NoError(t, NewStreamSink(database.WrapRedis(client), "audit").Record(ctx, sent))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)

	var got model.AuditLog
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
	assert.Equal(t, model.AuditActionResetDeviceGranted, got.Action)
	require.NotNil(t, got.UserID)
	assert.Equal(t, "usr_1", *got.UserID)
}
