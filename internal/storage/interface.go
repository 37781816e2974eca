package storage

import (
	"context"
	"time"

	"authify/internal/models"
)

// Storage defines the persistence contract for user accounts and their OTP
// slots. Implementations must be safe for concurrent use and must hand out
// copies, never shared records.
type Storage interface {
	// GetUserByEmail returns the user with the given address or ErrNotFound.
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)

	// ExistsByEmail reports whether an account uses the address.
	ExistsByEmail(ctx context.Context, email string) (bool, error)

	// CreateUser inserts a new user. Returns ErrAlreadyExists if the email is taken.
	CreateUser(ctx context.Context, user *models.User) error

	// SaveUser overwrites an existing user. Returns ErrNotFound if absent.
	SaveUser(ctx context.Context, user *models.User) error

	// SetOTP overwrites one OTP slot. Any code previously in the slot stops
	// being redeemable.
	SetOTP(ctx context.Context, email string, purpose models.OTPPurpose, code string, expiresAt int64) error

	// ConsumeOTP clears the slot only if it still holds code, applying update
	// in the same atomic write, and returns the updated user. Returns
	// ErrOTPMismatch if the slot is empty or holds another code.
	ConsumeOTP(ctx context.Context, email string, purpose models.OTPPurpose, code string, update models.UserUpdate) (*models.User, error)

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases connections and file handles.
	Close() error
}

// Config holds configuration for storage backends
type Config struct {
	Type string

	// Path is used by the JSON file backend.
	Path string

	// ConnectionString is used by the SQL backends.
	ConnectionString string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration

	Redis models.RedisConfig
}
