package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"authify/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSender stores every message it is asked to send. When gate is
// non-nil each Send announces itself on started and waits for the gate.
type recordingSender struct {
	mu      sync.Mutex
	sent    []Message
	err     error
	started chan struct{}
	gate    chan struct{}
	closed  bool
}

func (s *recordingSender) Send(ctx context.Context, msg Message) error {
	if s.gate != nil {
		s.started <- struct{}{}
		select {
		case <-s.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, msg)
	return nil
}

func (s *recordingSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *recordingSender) messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.sent...)
}

type countingRecorder struct {
	mu     sync.Mutex
	counts map[string]int
}

func (r *countingRecorder) RecordNotification(_ context.Context, kind string, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counts == nil {
		r.counts = make(map[string]int)
	}
	r.counts[kind+"/"+outcome]++
}

func (r *countingRecorder) get(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[key]
}

func testConfig() Config {
	return Config{Workers: 2, QueueSize: 16, SendTimeout: time.Second}
}

func TestDispatcher_DeliversQueuedMessages(t *testing.T) {
	sender := &recordingSender{}
	d := NewDispatcher(testConfig(), sender)

	ctx := context.Background()
	require.NoError(t, d.SendOTP(ctx, "ada@example.com", "123456", models.PurposeReset))
	require.NoError(t, d.SendWelcome(ctx, "ada@example.com", "Ada"))
	require.NoError(t, d.SendResetConfirmation(ctx, "ada@example.com", "Ada"))
	require.NoError(t, d.Close())

	msgs := sender.messages()
	require.Len(t, msgs, 3)
	kinds := map[Kind]bool{}
	for _, m := range msgs {
		kinds[m.Kind] = true
		assert.Equal(t, "ada@example.com", m.To)
	}
	assert.True(t, kinds[KindResetOTP])
	assert.True(t, kinds[KindWelcome])
	assert.True(t, kinds[KindResetConfirmation])
	assert.True(t, sender.closed, "sender closed with the dispatcher")
}

func TestDispatcher_CloseDrainsQueue(t *testing.T) {
	sender := &recordingSender{}
	d := NewDispatcher(Config{Workers: 1, QueueSize: 50, SendTimeout: time.Second}, sender)

	for i := 0; i < 50; i++ {
		require.NoError(t, d.Enqueue(WelcomeMessage("user@example.com", "User")))
	}
	require.NoError(t, d.Close())

	assert.Len(t, sender.messages(), 50)
}

func TestDispatcher_DropsWhenFull(t *testing.T) {
	sender := &recordingSender{
		started: make(chan struct{}, 4),
		gate:    make(chan struct{}),
	}
	rec := &countingRecorder{}
	d := NewDispatcher(Config{Workers: 1, QueueSize: 1, SendTimeout: 5 * time.Second}, sender, WithRecorder(rec))

	require.NoError(t, d.Enqueue(WelcomeMessage("a@example.com", "A")))
	<-sender.started // the only worker is now busy

	require.NoError(t, d.Enqueue(WelcomeMessage("b@example.com", "B")))
	err := d.Enqueue(WelcomeMessage("c@example.com", "C"))
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, uint64(1), d.Dropped())
	assert.Equal(t, 1, rec.get("welcome/dropped"))

	close(sender.gate)
	require.NoError(t, d.Close())

	msgs := sender.messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, 2, rec.get("welcome/sent"))
}

func TestDispatcher_RejectsAfterClose(t *testing.T) {
	d := NewDispatcher(testConfig(), &recordingSender{})
	require.NoError(t, d.Close())
	require.NoError(t, d.Close(), "second close is a no-op")

	assert.ErrorIs(t, d.Enqueue(WelcomeMessage("a@example.com", "A")), ErrClosed)
	assert.ErrorIs(t, d.DeliverOTP(context.Background(), "a@example.com", "123456", models.PurposeVerify), ErrClosed)
}

func TestDispatcher_DeliverIsSynchronous(t *testing.T) {
	sender := &recordingSender{}
	d := NewDispatcher(testConfig(), sender)
	defer d.Close()

	require.NoError(t, d.DeliverOTP(context.Background(), "ada@example.com", "654321", models.PurposeVerify))

	msgs := sender.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, KindVerifyOTP, msgs[0].Kind)
	assert.Contains(t, msgs[0].Body, "654321")
}

func TestDispatcher_DeliverReportsFailure(t *testing.T) {
	sender := &recordingSender{err: errors.New("provider down")}
	rec := &countingRecorder{}
	d := NewDispatcher(testConfig(), sender, WithRecorder(rec))
	defer d.Close()

	err := d.DeliverOTP(context.Background(), "ada@example.com", "123456", models.PurposeReset)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider down")
	assert.Equal(t, 1, rec.get("reset_otp/failed"))
}

func TestDispatcher_DeliverTimesOut(t *testing.T) {
	sender := &recordingSender{
		started: make(chan struct{}, 1),
		gate:    make(chan struct{}),
	}
	d := NewDispatcher(Config{Workers: 1, QueueSize: 1, SendTimeout: 20 * time.Millisecond}, sender)
	defer d.Close()

	err := d.Deliver(context.Background(), WelcomeMessage("a@example.com", "A"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDispatcher_Pacing(t *testing.T) {
	sender := &recordingSender{}
	d := NewDispatcher(Config{Workers: 1, QueueSize: 4, SendTimeout: time.Second, MaxPerSecond: 1000}, sender)
	defer d.Close()

	require.NotNil(t, d.limiter)
	for i := 0; i < 3; i++ {
		require.NoError(t, d.Deliver(context.Background(), WelcomeMessage("a@example.com", "A")))
	}
	assert.Len(t, sender.messages(), 3)
}

func TestNewDispatcher_Defaults(t *testing.T) {
	d := NewDispatcher(Config{}, &recordingSender{})
	defer d.Close()

	assert.Equal(t, 1, d.cfg.Workers)
	assert.Equal(t, 1, d.cfg.QueueSize)
	assert.Equal(t, 5*time.Second, d.cfg.SendTimeout)
	assert.Nil(t, d.limiter)
}

func TestConfigFromModel(t *testing.T) {
	nc := models.NewDefaultConfig().Notification
	cfg := ConfigFromModel(nc)

	assert.Equal(t, nc.Workers, cfg.Workers)
	assert.Equal(t, nc.QueueSize, cfg.QueueSize)
	assert.Equal(t, nc.SendTimeout, cfg.SendTimeout)
	assert.Equal(t, nc.MaxPerSecond, cfg.MaxPerSecond)
}

func TestOTPMessage(t *testing.T) {
	reset := OTPMessage("a@example.com", "111222", models.PurposeReset)
	assert.Equal(t, KindResetOTP, reset.Kind)
	assert.Equal(t, "Reset Password", reset.Subject)
	assert.Contains(t, reset.Body, "111222")

	verify := OTPMessage("a@example.com", "333444", models.PurposeVerify)
	assert.Equal(t, KindVerifyOTP, verify.Kind)
	assert.Equal(t, "Verify Your Email", verify.Subject)
	assert.Contains(t, verify.Body, "333444")
}
