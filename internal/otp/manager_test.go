package otp

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"authify/internal/models"
	"authify/internal/storage"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentOTP struct {
	to, code string
	purpose  models.OTPPurpose
	sync     bool
}

type fakeNotifier struct {
	mu            sync.Mutex
	otps          []sentOTP
	confirmations []string
	welcomes      []string
	deliverErr    error
	sendErr       error
}

func (f *fakeNotifier) SendOTP(_ context.Context, to, code string, purpose models.OTPPurpose) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.otps = append(f.otps, sentOTP{to: to, code: code, purpose: purpose})
	return nil
}

func (f *fakeNotifier) DeliverOTP(_ context.Context, to, code string, purpose models.OTPPurpose) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deliverErr != nil {
		return f.deliverErr
	}
	f.otps = append(f.otps, sentOTP{to: to, code: code, purpose: purpose, sync: true})
	return nil
}

func (f *fakeNotifier) SendResetConfirmation(_ context.Context, to, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirmations = append(f.confirmations, to)
	return nil
}

func (f *fakeNotifier) SendWelcome(_ context.Context, to, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.welcomes = append(f.welcomes, to)
	return nil
}

func (f *fakeNotifier) lastOTP(t *testing.T) sentOTP {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.otps)
	return f.otps[len(f.otps)-1]
}

type prefixHasher struct{}

func (prefixHasher) Hash(password string) (string, error) {
	if len(password) > models.MaxPasswordBytes {
		return "", models.ErrPasswordTooLong
	}
	return "hashed:" + password, nil
}

type fixture struct {
	store    *storage.MemoryStorage
	notifier *fakeNotifier
	manager  *Manager
	now      time.Time
}

func (f *fixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

var testConfig = Config{ResetTTL: 15 * time.Minute, VerifyTTL: 24 * time.Hour}

func newFixture(t *testing.T, cfg Config, opts ...Option) *fixture {
	t.Helper()
	store, err := storage.NewMemoryStorage(storage.Config{})
	require.NoError(t, err)

	f := &fixture{
		store:    store,
		notifier: &fakeNotifier{},
		now:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	opts = append([]Option{WithClock(func() time.Time { return f.now })}, opts...)
	f.manager = NewManager(store, f.notifier, prefixHasher{}, cfg, opts...)

	require.NoError(t, store.CreateUser(context.Background(), &models.User{
		ID:           uuid.NewString(),
		Name:         "Ada",
		Email:        "ada@example.com",
		PasswordHash: "hashed:old",
		CreatedAt:    f.now,
		UpdatedAt:    f.now,
	}))
	return f
}

func (f *fixture) user(t *testing.T) *models.User {
	t.Helper()
	u, err := f.store.GetUserByEmail(context.Background(), "ada@example.com")
	require.NoError(t, err)
	return u
}

func assertServiceError(t *testing.T, err error, code string) {
	t.Helper()
	se, ok := models.AsServiceError(err)
	require.True(t, ok, "expected ServiceError, got %v", err)
	assert.Equal(t, code, se.Code)
}

func TestGenerateCode(t *testing.T) {
	for i := 0; i < 1000; i++ {
		code, err := GenerateCode()
		require.NoError(t, err)
		require.Len(t, code, 6)
		n, err := strconv.Atoi(code)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, n, 100000)
		assert.LessOrEqual(t, n, 999999)
	}
}

func TestIssueOTP_StoresAndSends(t *testing.T) {
	f := newFixture(t, testConfig)
	ctx := context.Background()

	require.NoError(t, f.manager.SendResetOTP(ctx, "  ADA@example.com "))

	sent := f.notifier.lastOTP(t)
	assert.Equal(t, "ada@example.com", sent.to)
	assert.Equal(t, models.PurposeReset, sent.purpose)
	assert.False(t, sent.sync)

	u := f.user(t)
	assert.Equal(t, sent.code, u.ResetOTP)
	assert.Equal(t, f.now.Add(15*time.Minute).UnixMilli(), u.ResetOTPExpireAt)
	assert.Empty(t, u.VerifyOTP)
}

func TestIssueOTP_VerifyTTL(t *testing.T) {
	f := newFixture(t, testConfig)
	require.NoError(t, f.manager.SendVerifyOTP(context.Background(), "ada@example.com"))

	u := f.user(t)
	assert.NotEmpty(t, u.VerifyOTP)
	assert.Equal(t, f.now.Add(24*time.Hour).UnixMilli(), u.VerifyOTPExpireAt)
}

func TestIssueOTP_UnknownUser(t *testing.T) {
	f := newFixture(t, testConfig)
	err := f.manager.SendResetOTP(context.Background(), "nobody@example.com")
	assertServiceError(t, err, models.ErrorCodeUserNotFound)
	assert.Empty(t, f.notifier.otps)
}

func TestIssueOTP_ReissueInvalidatesPrevious(t *testing.T) {
	codes := []string{"111111", "222222"}
	next := 0
	gen := func() (string, error) {
		c := codes[next]
		next++
		return c, nil
	}
	f := newFixture(t, testConfig, WithCodeGenerator(gen))
	ctx := context.Background()

	require.NoError(t, f.manager.SendResetOTP(ctx, "ada@example.com"))
	require.NoError(t, f.manager.SendResetOTP(ctx, "ada@example.com"))

	err := f.manager.ResetPassword(ctx, "ada@example.com", "111111", "newpass")
	assertServiceError(t, err, models.ErrorCodeInvalidOTP)

	require.NoError(t, f.manager.ResetPassword(ctx, "ada@example.com", "222222", "newpass"))
}

func TestIssueOTP_GeneratorFailure(t *testing.T) {
	f := newFixture(t, testConfig, WithCodeGenerator(func() (string, error) {
		return "", errors.New("entropy exhausted")
	}))
	err := f.manager.SendResetOTP(context.Background(), "ada@example.com")
	assertServiceError(t, err, models.ErrorCodeInternalError)
	assert.Empty(t, f.user(t).ResetOTP)
}

func TestSendVerifyOTP_AlreadyVerified(t *testing.T) {
	f := newFixture(t, testConfig)
	u := f.user(t)
	u.AccountVerified = true
	require.NoError(t, f.store.SaveUser(context.Background(), u))

	require.NoError(t, f.manager.SendVerifyOTP(context.Background(), "ada@example.com"))
	assert.Empty(t, f.notifier.otps)
	assert.Empty(t, f.user(t).VerifyOTP)
}

func TestDeliveryPolicy(t *testing.T) {
	t.Run("fire and forget ignores queue failure", func(t *testing.T) {
		f := newFixture(t, testConfig)
		f.notifier.sendErr = errors.New("queue full")

		require.NoError(t, f.manager.SendResetOTP(context.Background(), "ada@example.com"))
		assert.NotEmpty(t, f.user(t).ResetOTP)
	})

	t.Run("required delivery succeeds synchronously", func(t *testing.T) {
		cfg := testConfig
		cfg.RequireDelivery = true
		f := newFixture(t, cfg)

		require.NoError(t, f.manager.SendResetOTP(context.Background(), "ada@example.com"))
		assert.True(t, f.notifier.lastOTP(t).sync)
	})

	t.Run("required delivery failure keeps code valid", func(t *testing.T) {
		cfg := testConfig
		cfg.RequireDelivery = true
		f := newFixture(t, cfg, WithCodeGenerator(func() (string, error) { return "424242", nil }))
		f.notifier.deliverErr = errors.New("provider down")

		err := f.manager.SendResetOTP(context.Background(), "ada@example.com")
		assertServiceError(t, err, models.ErrorCodeDispatchFailure)
		se, _ := models.AsServiceError(err)
		assert.Equal(t, "Unable to send mail", se.Message)

		assert.Equal(t, "424242", f.user(t).ResetOTP)
		require.NoError(t, f.manager.ResetPassword(context.Background(), "ada@example.com", "424242", "newpass"))
	})
}

func TestResetPassword(t *testing.T) {
	f := newFixture(t, testConfig)
	ctx := context.Background()
	require.NoError(t, f.manager.SendResetOTP(ctx, "ada@example.com"))
	code := f.notifier.lastOTP(t).code

	require.NoError(t, f.manager.ResetPassword(ctx, "ada@example.com", code, "s3cret!"))

	u := f.user(t)
	assert.Equal(t, "hashed:s3cret!", u.PasswordHash)
	assert.Empty(t, u.ResetOTP)
	assert.Zero(t, u.ResetOTPExpireAt)
	assert.Equal(t, []string{"ada@example.com"}, f.notifier.confirmations)

	err := f.manager.ResetPassword(ctx, "ada@example.com", code, "again")
	assertServiceError(t, err, models.ErrorCodeInvalidOTP)
	assert.Equal(t, "hashed:s3cret!", f.user(t).PasswordHash)
}

func TestResetPassword_Errors(t *testing.T) {
	f := newFixture(t, testConfig, WithCodeGenerator(func() (string, error) { return "123456", nil }))
	ctx := context.Background()

	err := f.manager.ResetPassword(ctx, "nobody@example.com", "123456", "pw")
	assertServiceError(t, err, models.ErrorCodeUserNotFound)

	err = f.manager.ResetPassword(ctx, "ada@example.com", "123456", "pw")
	assertServiceError(t, err, models.ErrorCodeInvalidOTP)

	require.NoError(t, f.manager.SendResetOTP(ctx, "ada@example.com"))
	err = f.manager.ResetPassword(ctx, "ada@example.com", "654321", "pw")
	assertServiceError(t, err, models.ErrorCodeInvalidOTP)
	assert.Equal(t, "123456", f.user(t).ResetOTP, "mismatch leaves the slot")
	assert.Equal(t, "hashed:old", f.user(t).PasswordHash)
}

func TestResetPassword_PasswordTooLong(t *testing.T) {
	f := newFixture(t, testConfig, WithCodeGenerator(func() (string, error) { return "123456", nil }))
	ctx := context.Background()
	require.NoError(t, f.manager.SendResetOTP(ctx, "ada@example.com"))

	err := f.manager.ResetPassword(ctx, "ada@example.com", "123456", strings.Repeat("é", 40))
	assertServiceError(t, err, models.ErrorCodeValidation)
	assert.Equal(t, "123456", f.user(t).ResetOTP, "code stays redeemable")
	assert.Equal(t, "hashed:old", f.user(t).PasswordHash)

	require.NoError(t, f.manager.ResetPassword(ctx, "ada@example.com", "123456", strings.Repeat("é", 36)))
	assert.Empty(t, f.user(t).ResetOTP)
}

func TestExpiryBoundary(t *testing.T) {
	gen := WithCodeGenerator(func() (string, error) { return "123456", nil })

	t.Run("valid at exactly expiresAt", func(t *testing.T) {
		f := newFixture(t, testConfig, gen)
		require.NoError(t, f.manager.SendResetOTP(context.Background(), "ada@example.com"))
		f.advance(15 * time.Minute)

		require.NoError(t, f.manager.ResetPassword(context.Background(), "ada@example.com", "123456", "pw"))
	})

	t.Run("expired one millisecond later and cleared", func(t *testing.T) {
		f := newFixture(t, testConfig, gen)
		require.NoError(t, f.manager.SendResetOTP(context.Background(), "ada@example.com"))
		f.advance(15*time.Minute + time.Millisecond)

		err := f.manager.ResetPassword(context.Background(), "ada@example.com", "123456", "pw")
		assertServiceError(t, err, models.ErrorCodeOTPExpired)

		u := f.user(t)
		assert.Empty(t, u.ResetOTP)
		assert.Zero(t, u.ResetOTPExpireAt)
		assert.Equal(t, "hashed:old", u.PasswordHash)

		err = f.manager.ResetPassword(context.Background(), "ada@example.com", "123456", "pw")
		assertServiceError(t, err, models.ErrorCodeInvalidOTP)
	})
}

func TestPurposeIsolation(t *testing.T) {
	codes := []string{"111111", "222222"}
	next := 0
	f := newFixture(t, testConfig, WithCodeGenerator(func() (string, error) {
		c := codes[next]
		next++
		return c, nil
	}))
	ctx := context.Background()

	require.NoError(t, f.manager.SendResetOTP(ctx, "ada@example.com"))
	require.NoError(t, f.manager.SendVerifyOTP(ctx, "ada@example.com"))

	assertServiceError(t, f.manager.VerifyAccount(ctx, "ada@example.com", "111111"), models.ErrorCodeInvalidOTP)
	assertServiceError(t, f.manager.ResetPassword(ctx, "ada@example.com", "222222", "pw"), models.ErrorCodeInvalidOTP)

	require.NoError(t, f.manager.VerifyAccount(ctx, "ada@example.com", "222222"))
	u := f.user(t)
	assert.True(t, u.AccountVerified)
	assert.Empty(t, u.VerifyOTP)
	assert.Equal(t, "111111", u.ResetOTP, "reset slot untouched by verification")
}

func TestVerifyAccount_Expired(t *testing.T) {
	f := newFixture(t, testConfig, WithCodeGenerator(func() (string, error) { return "999999", nil }))
	require.NoError(t, f.manager.SendVerifyOTP(context.Background(), "ada@example.com"))
	f.advance(25 * time.Hour)

	err := f.manager.VerifyAccount(context.Background(), "ada@example.com", "999999")
	assertServiceError(t, err, models.ErrorCodeOTPExpired)
	assert.False(t, f.user(t).AccountVerified)
	assert.Empty(t, f.user(t).VerifyOTP)
}

func TestConcurrentRedeemSucceedsOnce(t *testing.T) {
	f := newFixture(t, testConfig, WithCodeGenerator(func() (string, error) { return "123456", nil }))
	ctx := context.Background()
	require.NoError(t, f.manager.SendVerifyOTP(ctx, "ada@example.com"))

	const workers = 16
	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- f.manager.VerifyAccount(ctx, "ada@example.com", "123456")
		}()
	}
	wg.Wait()
	close(results)

	successes := 0
	for err := range results {
		if err == nil {
			successes++
			continue
		}
		assertServiceError(t, err, models.ErrorCodeInvalidOTP)
	}
	assert.Equal(t, 1, successes)
}

func TestConfigFromModel(t *testing.T) {
	cfg := ConfigFromModel(models.NewDefaultConfig().OTP)
	assert.Equal(t, 15*time.Minute, cfg.ResetTTL)
	assert.Equal(t, 24*time.Hour, cfg.VerifyTTL)
	assert.False(t, cfg.RequireDelivery)
}
