package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hostedid/devicereset/internal/logger"
	"github.com/hostedid/devicereset/internal/model"
)

// DispatcherConfig controls the async dispatcher
type DispatcherConfig struct {
	BufferSize int
	// DropIfFull drops entries instead of blocking the caller when the buffer is full
	DropIfFull bool
	// WriteTimeout bounds a single sink write
	WriteTimeout time.Duration
}

// Dispatcher moves sink writes off the request path. Entries are delivered in
// order by a single worker; Close drains what is buffered.
type Dispatcher struct {
	cfg     DispatcherConfig
	sink    Sink
	log     *logger.Logger
	ch      chan *model.AuditLog
	done    chan struct{}
	wg      sync.WaitGroup
	dropped atomic.Uint64
	failed  atomic.Uint64

	// mu is held shared by senders and exclusively by Close, so done is never
	// closed while an entry is on its way into ch.
	mu     sync.RWMutex
	closed bool
}

// NewDispatcher starts a dispatcher writing to sink
func NewDispatcher(cfg DispatcherConfig, sink Sink, log *logger.Logger) *Dispatcher {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if sink == nil {
		sink = NopSink{}
	}
	if log == nil {
		log = logger.Nop()
	}

	d := &Dispatcher{
		cfg:  cfg,
		sink: sink,
		log:  log.WithComponent("audit_dispatcher"),
		ch:   make(chan *model.AuditLog, cfg.BufferSize),
		done: make(chan struct{}),
	}

	d.wg.Add(1)
	go d.run()

	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case entry := <-d.ch:
			d.write(entry)
		case <-d.done:
			for {
				select {
				case entry := <-d.ch:
					d.write(entry)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) write(entry *model.AuditLog) {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.WriteTimeout)
	defer cancel()

	if err := d.sink.Record(ctx, entry); err != nil {
		d.failed.Add(1)
		d.log.Error().Err(err).Str("action", entry.Action).Str("audit_id", entry.ID).Msg("failed to write audit entry")
	}
}

// Record enqueues entry. It returns nil once the entry is buffered, or when it
// was dropped because the buffer is full and DropIfFull is set or the
// dispatcher is closed. Buffered entries are always written before Close returns.
func (d *Dispatcher) Record(ctx context.Context, entry *model.AuditLog) error {
	if d == nil {
		return nil
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.dropped.Add(1)
		d.log.Warn().Str("action", entry.Action).Msg("audit dispatcher closed, entry dropped")
		return nil
	}

	if d.cfg.DropIfFull {
		select {
		case d.ch <- entry:
		default:
			d.dropped.Add(1)
			d.log.Warn().Str("action", entry.Action).Msg("audit buffer full, entry dropped")
		}
		return nil
	}

	select {
	case d.ch <- entry:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting entries and waits until the buffer is drained
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.done)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

// Dropped returns the number of entries dropped on a full buffer
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// Failed returns the number of entries the sink rejected
func (d *Dispatcher) Failed() uint64 {
	if d == nil {
		return 0
	}
	return d.failed.Load()
}
