// Package account handles registration, login and profile lookups.
package account

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"authify/internal/models"
	"authify/internal/notify"
	"authify/internal/storage"

	"github.com/google/uuid"
)

// TokenIssuer signs a login token for a subject.
type TokenIssuer interface {
	Issue(subject string) (string, time.Time, error)
}

// Service handles account business logic on top of a user store
type Service struct {
	store    storage.Storage
	hasher   *BcryptHasher
	tokens   TokenIssuer
	notifier notify.Notifier
	now      func() time.Time
}

func NewService(store storage.Storage, hasher *BcryptHasher, tokens TokenIssuer, notifier notify.Notifier) *Service {
	return &Service{
		store:    store,
		hasher:   hasher,
		tokens:   tokens,
		notifier: notifier,
		now:      time.Now,
	}
}

// Register creates an unverified account and queues a welcome email.
func (s *Service) Register(ctx context.Context, name, email, password string) (*models.User, error) {
	email = models.NormalizeEmail(email)

	exists, err := s.store.ExistsByEmail(ctx, email)
	if err != nil {
		return nil, models.NewInternalError("failed to check email", err)
	}
	if exists {
		return nil, models.NewConflictError("Email already exists")
	}

	hash, err := s.hasher.Hash(password)
	if errors.Is(err, models.ErrPasswordTooLong) {
		return nil, models.NewPasswordTooLongError()
	}
	if err != nil {
		return nil, models.NewInternalError("failed to hash password", err)
	}

	now := s.now().UTC()
	user := &models.User{
		ID:           uuid.NewString(),
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.store.CreateUser(ctx, user); err != nil {
		// Lost a race with a concurrent registration of the same address.
		if errors.Is(err, storage.ErrAlreadyExists) {
			return nil, models.NewConflictError("Email already exists")
		}
		return nil, models.NewInternalError("failed to create user", err)
	}

	slog.Info("Account registered", "user_id", user.ID, "email", email)
	if err := s.notifier.SendWelcome(ctx, email, name); err != nil {
		slog.Warn("Welcome email not queued", "email", email, "error", err)
	}
	return user, nil
}

// Login checks credentials and returns a signed token. Unknown addresses
// and wrong passwords produce the same error.
func (s *Service) Login(ctx context.Context, email, password string) (string, error) {
	email = models.NormalizeEmail(email)

	user, err := s.store.GetUserByEmail(ctx, email)
	if errors.Is(err, storage.ErrNotFound) {
		slog.Warn("Login failed", "email", email, "reason", "unknown_email")
		return "", models.NewInvalidCredentialsError()
	}
	if err != nil {
		return "", models.NewInternalError("failed to load user", err)
	}

	ok, err := s.hasher.Compare(user.PasswordHash, password)
	if err != nil {
		return "", models.NewInternalError("failed to check password", err)
	}
	if !ok {
		slog.Warn("Login failed", "email", email, "reason", "bad_password")
		return "", models.NewInvalidCredentialsError()
	}

	token, _, err := s.tokens.Issue(user.Email)
	if err != nil {
		return "", models.NewInternalError("failed to issue token", err)
	}

	slog.Info("Login succeeded", "user_id", user.ID, "email", email)
	return token, nil
}

func (s *Service) Profile(ctx context.Context, email string) (*models.ProfileResponse, error) {
	email = models.NormalizeEmail(email)

	user, err := s.store.GetUserByEmail(ctx, email)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, models.NewUserNotFoundError(email)
	}
	if err != nil {
		return nil, models.NewInternalError("failed to load user", err)
	}

	profile := &models.ProfileResponse{}
	profile.FromUser(user)
	return profile, nil
}
