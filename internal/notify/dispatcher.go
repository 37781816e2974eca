package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"authify/internal/models"

	"golang.org/x/time/rate"
)

var (
	// ErrQueueFull is returned when a message is dropped because every queue
	// slot is taken.
	ErrQueueFull = errors.New("notification queue full")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("notification dispatcher closed")
)

// Delivery outcomes reported to a Recorder.
const (
	OutcomeSent    = "sent"
	OutcomeFailed  = "failed"
	OutcomeDropped = "dropped"
)

// Recorder receives one call per message outcome.
type Recorder interface {
	RecordNotification(ctx context.Context, kind string, outcome string)
}

// Config controls the worker pool.
type Config struct {
	Workers      int
	QueueSize    int
	SendTimeout  time.Duration
	MaxPerSecond float64
}

// ConfigFromModel maps the notification section of the service config.
func ConfigFromModel(nc models.NotificationConfig) Config {
	return Config{
		Workers:      nc.Workers,
		QueueSize:    nc.QueueSize,
		SendTimeout:  nc.SendTimeout,
		MaxPerSecond: nc.MaxPerSecond,
	}
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithRecorder reports every send, failure and drop to r.
func WithRecorder(r Recorder) DispatcherOption {
	return func(d *Dispatcher) {
		d.recorder = r
	}
}

// Dispatcher is a Notifier backed by a bounded queue and a worker pool.
type Dispatcher struct {
	cfg      Config
	sender   Sender
	limiter  *rate.Limiter
	recorder Recorder

	queue chan Message
	done  chan struct{}
	wg    sync.WaitGroup

	// mu orders Enqueue against Close so nothing lands in the queue after
	// the workers have drained it.
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
	dropped   atomic.Uint64
}

// NewDispatcher starts cfg.Workers goroutines draining a queue of
// cfg.QueueSize messages into sender.
func NewDispatcher(cfg Config, sender Sender, opts ...DispatcherOption) *Dispatcher {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 1
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 5 * time.Second
	}

	d := &Dispatcher{
		cfg:    cfg,
		sender: sender,
		queue:  make(chan Message, cfg.QueueSize),
		done:   make(chan struct{}),
	}
	if cfg.MaxPerSecond > 0 {
		burst := int(cfg.MaxPerSecond)
		if burst < 1 {
			burst = 1
		}
		d.limiter = rate.NewLimiter(rate.Limit(cfg.MaxPerSecond), burst)
	}
	for _, opt := range opts {
		opt(d)
	}

	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}

	return d
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()

	for {
		select {
		case msg := <-d.queue:
			d.deliverQueued(msg)
		case <-d.done:
			for {
				select {
				case msg := <-d.queue:
					d.deliverQueued(msg)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliverQueued(msg Message) {
	if err := d.send(context.Background(), msg); err != nil {
		slog.Error("Notification delivery failed",
			"kind", msg.Kind,
			"to", msg.To,
			"error", err,
		)
	}
}

// send paces and transmits one message under the configured timeout.
func (d *Dispatcher) send(ctx context.Context, msg Message) error {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
	defer cancel()

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			d.record(ctx, msg.Kind, OutcomeFailed)
			return fmt.Errorf("waiting for send slot: %w", err)
		}
	}

	if err := d.sender.Send(ctx, msg); err != nil {
		d.record(ctx, msg.Kind, OutcomeFailed)
		return fmt.Errorf("sending %s to %s: %w", msg.Kind, msg.To, err)
	}

	d.record(ctx, msg.Kind, OutcomeSent)
	slog.Debug("Notification sent", "kind", msg.Kind, "to", msg.To)
	return nil
}

func (d *Dispatcher) record(ctx context.Context, kind Kind, outcome string) {
	if d.recorder != nil {
		d.recorder.RecordNotification(context.WithoutCancel(ctx), string(kind), outcome)
	}
}

// Enqueue hands msg to the worker pool without blocking. A full queue drops
// the message and returns ErrQueueFull.
func (d *Dispatcher) Enqueue(msg Message) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return ErrClosed
	}

	select {
	case d.queue <- msg:
		return nil
	default:
		d.dropped.Add(1)
		d.record(context.Background(), msg.Kind, OutcomeDropped)
		slog.Warn("Notification dropped, queue full",
			"kind", msg.Kind,
			"to", msg.To,
			"queue_size", d.cfg.QueueSize,
		)
		return ErrQueueFull
	}
}

// Deliver sends msg on the caller's goroutine, bounded by the send timeout.
func (d *Dispatcher) Deliver(ctx context.Context, msg Message) error {
	d.mu.RLock()
	closed := d.closed
	d.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	return d.send(ctx, msg)
}

func (d *Dispatcher) SendOTP(_ context.Context, to, code string, purpose models.OTPPurpose) error {
	return d.Enqueue(OTPMessage(to, code, purpose))
}

func (d *Dispatcher) DeliverOTP(ctx context.Context, to, code string, purpose models.OTPPurpose) error {
	return d.Deliver(ctx, OTPMessage(to, code, purpose))
}

func (d *Dispatcher) SendResetConfirmation(_ context.Context, to, name string) error {
	return d.Enqueue(ResetConfirmationMessage(to, name))
}

func (d *Dispatcher) SendWelcome(_ context.Context, to, name string) error {
	return d.Enqueue(WelcomeMessage(to, name))
}

// Dropped returns how many messages were discarded on a full queue.
func (d *Dispatcher) Dropped() uint64 {
	return d.dropped.Load()
}

// Close stops accepting messages, waits for queued ones to be sent and then
// closes the sender if it holds resources.
func (d *Dispatcher) Close() error {
	var err error
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()

		close(d.done)
		d.wg.Wait()

		if c, ok := d.sender.(io.Closer); ok {
			err = c.Close()
		}
	})
	return err
}
