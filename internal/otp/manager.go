// Package otp issues and redeems the one-time codes used for password reset
// and account verification.
//
// Each user has one slot per purpose. Issuing overwrites the slot, so only
// the most recent code is redeemable. Redeeming clears the slot and applies
// its effect in a single conditional storage write, which makes every code
// single-use even under concurrent requests.
package otp

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"time"

	"authify/internal/models"
	"authify/internal/notify"
	"authify/internal/storage"
)

const (
	codeMin   = 100000
	codeRange = 900000
)

// PasswordHasher turns a plaintext password into a stored hash.
type PasswordHasher interface {
	Hash(password string) (string, error)
}

// Config holds code lifetimes and the delivery policy.
type Config struct {
	ResetTTL  time.Duration
	VerifyTTL time.Duration
	// RequireDelivery makes issuance wait for the mail transport and fail
	// when it does. The code stays valid either way.
	RequireDelivery bool
}

func ConfigFromModel(oc models.OTPConfig) Config {
	return Config{
		ResetTTL:        oc.ResetTTL(),
		VerifyTTL:       oc.VerifyTTL(),
		RequireDelivery: oc.RequireDelivery,
	}
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithCodeGenerator replaces the random code source.
func WithCodeGenerator(gen func() (string, error)) Option {
	return func(m *Manager) {
		m.generate = gen
	}
}

// Manager runs the OTP lifecycle against a user store.
type Manager struct {
	store    storage.Storage
	notifier notify.Notifier
	hasher   PasswordHasher
	cfg      Config
	now      func() time.Time
	generate func() (string, error)
}

func NewManager(store storage.Storage, notifier notify.Notifier, hasher PasswordHasher, cfg Config, opts ...Option) *Manager {
	m := &Manager{
		store:    store,
		notifier: notifier,
		hasher:   hasher,
		cfg:      cfg,
		now:      time.Now,
		generate: GenerateCode,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// GenerateCode returns a uniformly random six digit code.
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(codeRange))
	if err != nil {
		return "", fmt.Errorf("failed to read random code: %w", err)
	}
	return strconv.FormatInt(n.Int64()+codeMin, 10), nil
}

func (m *Manager) ttl(purpose models.OTPPurpose) time.Duration {
	if purpose == models.PurposeVerify {
		return m.cfg.VerifyTTL
	}
	return m.cfg.ResetTTL
}

func (m *Manager) SendResetOTP(ctx context.Context, email string) error {
	return m.IssueOTP(ctx, email, models.PurposeReset)
}

// SendVerifyOTP issues a verification code. It does nothing for an account
// that is already verified.
func (m *Manager) SendVerifyOTP(ctx context.Context, email string) error {
	return m.IssueOTP(ctx, email, models.PurposeVerify)
}

// IssueOTP stores a fresh code in the purpose slot and then hands it to the
// notifier.
func (m *Manager) IssueOTP(ctx context.Context, email string, purpose models.OTPPurpose) error {
	if !purpose.Valid() {
		return models.NewInternalError("unknown OTP purpose", fmt.Errorf("purpose %q", purpose))
	}
	email = models.NormalizeEmail(email)

	user, err := m.lookup(ctx, email)
	if err != nil {
		return err
	}
	if purpose == models.PurposeVerify && user.AccountVerified {
		slog.Info("Verification OTP skipped, account already verified", "email", email)
		return nil
	}

	code, err := m.generate()
	if err != nil {
		return models.NewInternalError("failed to generate OTP", err)
	}
	expiresAt := m.now().Add(m.ttl(purpose)).UnixMilli()

	if err := m.store.SetOTP(ctx, email, purpose, code, expiresAt); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return models.NewUserNotFoundError(email)
		}
		return models.NewInternalError("failed to store OTP", err)
	}

	slog.Info("OTP issued",
		"email", email,
		"purpose", purpose,
		"expires_at", time.UnixMilli(expiresAt).UTC(),
	)

	if m.cfg.RequireDelivery {
		if err := m.notifier.DeliverOTP(ctx, email, code, purpose); err != nil {
			slog.Error("OTP delivery failed", "email", email, "purpose", purpose, "error", err)
			return models.NewDispatchFailureError(err)
		}
		return nil
	}

	if err := m.notifier.SendOTP(ctx, email, code, purpose); err != nil {
		slog.Warn("OTP notification not queued", "email", email, "purpose", purpose, "error", err)
	}
	return nil
}

// ResetPassword redeems a reset code and stores the hash of newPassword in
// the same write.
func (m *Manager) ResetPassword(ctx context.Context, email, code, newPassword string) error {
	email = models.NormalizeEmail(email)

	if err := m.check(ctx, email, models.PurposeReset, code); err != nil {
		return err
	}

	hash, err := m.hasher.Hash(newPassword)
	if errors.Is(err, models.ErrPasswordTooLong) {
		return models.NewPasswordTooLongError()
	}
	if err != nil {
		return models.NewInternalError("failed to hash password", err)
	}

	user, err := m.consume(ctx, email, models.PurposeReset, code, models.UserUpdate{PasswordHash: &hash})
	if err != nil {
		return err
	}

	slog.Info("Password reset", "email", email)
	if err := m.notifier.SendResetConfirmation(ctx, user.Email, user.Name); err != nil {
		slog.Warn("Reset confirmation not queued", "email", email, "error", err)
	}
	return nil
}

// VerifyAccount redeems a verification code and marks the account verified.
func (m *Manager) VerifyAccount(ctx context.Context, email, code string) error {
	email = models.NormalizeEmail(email)

	if err := m.check(ctx, email, models.PurposeVerify, code); err != nil {
		return err
	}

	verified := true
	if _, err := m.consume(ctx, email, models.PurposeVerify, code, models.UserUpdate{AccountVerified: &verified}); err != nil {
		return err
	}

	slog.Info("Account verified", "email", email)
	return nil
}

func (m *Manager) lookup(ctx context.Context, email string) (*models.User, error) {
	user, err := m.store.GetUserByEmail(ctx, email)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, models.NewUserNotFoundError(email)
	}
	if err != nil {
		return nil, models.NewInternalError("failed to load user", err)
	}
	return user, nil
}

// check rejects an unknown user, a wrong or absent code, and an expired code.
// An expired code is cleared, unless the slot changed in the meantime.
func (m *Manager) check(ctx context.Context, email string, purpose models.OTPPurpose, code string) error {
	user, err := m.lookup(ctx, email)
	if err != nil {
		return err
	}

	stored, expiresAt := user.Slot(purpose)
	if stored == "" || subtle.ConstantTimeCompare([]byte(stored), []byte(code)) != 1 {
		slog.Warn("OTP rejected", "email", email, "purpose", purpose, "reason", "mismatch")
		return models.NewInvalidOTPError()
	}

	if m.now().UnixMilli() > expiresAt {
		_, err := m.store.ConsumeOTP(ctx, email, purpose, stored, models.UserUpdate{})
		if err != nil && !errors.Is(err, storage.ErrOTPMismatch) && !errors.Is(err, storage.ErrNotFound) {
			slog.Error("Failed to clear expired OTP", "email", email, "purpose", purpose, "error", err)
		}
		slog.Warn("OTP rejected", "email", email, "purpose", purpose, "reason", "expired")
		return models.NewOTPExpiredError()
	}

	return nil
}

func (m *Manager) consume(ctx context.Context, email string, purpose models.OTPPurpose, code string, update models.UserUpdate) (*models.User, error) {
	user, err := m.store.ConsumeOTP(ctx, email, purpose, code, update)
	switch {
	case err == nil:
		return user, nil
	case errors.Is(err, storage.ErrOTPMismatch):
		// Another request redeemed or replaced the code after check.
		return nil, models.NewInvalidOTPError()
	case errors.Is(err, storage.ErrNotFound):
		return nil, models.NewUserNotFoundError(email)
	default:
		return nil, models.NewInternalError("failed to redeem OTP", err)
	}
}
