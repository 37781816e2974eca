package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"authify/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestUser(email string) *models.User {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &models.User{
		ID:           uuid.NewString(),
		Name:         "Test User",
		Email:        email,
		PasswordHash: "$2a$04$hash",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func ptr[T any](v T) *T { return &v }

// runStorageContract exercises the behavior every backend must share.
func runStorageContract(t *testing.T, newStore func(t *testing.T) Storage) {
	ctx := context.Background()

	t.Run("CreateAndGet", func(t *testing.T) {
		s := newStore(t)
		u := newTestUser("ada@example.com")
		require.NoError(t, s.CreateUser(ctx, u))

		got, err := s.GetUserByEmail(ctx, "ada@example.com")
		require.NoError(t, err)
		assert.Equal(t, u.ID, got.ID)
		assert.Equal(t, u.Name, got.Name)
		assert.Equal(t, u.PasswordHash, got.PasswordHash)
		assert.False(t, got.AccountVerified)
		assert.Empty(t, got.ResetOTP)
		assert.Empty(t, got.VerifyOTP)
		assert.True(t, u.CreatedAt.Equal(got.CreatedAt), "created_at round trip: %v vs %v", u.CreatedAt, got.CreatedAt)
	})

	t.Run("LookupIsCaseInsensitive", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.CreateUser(ctx, newTestUser("grace@example.com")))

		got, err := s.GetUserByEmail(ctx, "  Grace@Example.COM")
		require.NoError(t, err)
		assert.Equal(t, "grace@example.com", got.Email)
	})

	t.Run("GetMissing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetUserByEmail(ctx, "nobody@example.com")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("ExistsByEmail", func(t *testing.T) {
		s := newStore(t)
		exists, err := s.ExistsByEmail(ctx, "ada@example.com")
		require.NoError(t, err)
		assert.False(t, exists)

		require.NoError(t, s.CreateUser(ctx, newTestUser("ada@example.com")))
		exists, err = s.ExistsByEmail(ctx, "ada@example.com")
		require.NoError(t, err)
		assert.True(t, exists)
	})

	t.Run("CreateDuplicate", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.CreateUser(ctx, newTestUser("ada@example.com")))
		err := s.CreateUser(ctx, newTestUser("ada@example.com"))
		assert.ErrorIs(t, err, ErrAlreadyExists)
	})

	t.Run("CreateInvalid", func(t *testing.T) {
		s := newStore(t)
		u := newTestUser("ada@example.com")
		u.PasswordHash = ""
		assert.Error(t, s.CreateUser(ctx, u))
	})

	t.Run("ReturnsCopies", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.CreateUser(ctx, newTestUser("ada@example.com")))

		got, err := s.GetUserByEmail(ctx, "ada@example.com")
		require.NoError(t, err)
		got.Name = "Mutated"

		again, err := s.GetUserByEmail(ctx, "ada@example.com")
		require.NoError(t, err)
		assert.Equal(t, "Test User", again.Name)
	})

	t.Run("SaveUser", func(t *testing.T) {
		s := newStore(t)
		u := newTestUser("ada@example.com")
		require.NoError(t, s.CreateUser(ctx, u))

		u.Name = "Ada Lovelace"
		u.AccountVerified = true
		require.NoError(t, s.SaveUser(ctx, u))

		got, err := s.GetUserByEmail(ctx, "ada@example.com")
		require.NoError(t, err)
		assert.Equal(t, "Ada Lovelace", got.Name)
		assert.True(t, got.AccountVerified)

		assert.ErrorIs(t, s.SaveUser(ctx, newTestUser("missing@example.com")), ErrNotFound)
	})

	t.Run("SetOTPOverwritesOneSlot", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.CreateUser(ctx, newTestUser("ada@example.com")))

		require.NoError(t, s.SetOTP(ctx, "ada@example.com", models.PurposeReset, "111111", 1000))
		require.NoError(t, s.SetOTP(ctx, "ada@example.com", models.PurposeVerify, "222222", 2000))
		require.NoError(t, s.SetOTP(ctx, "ada@example.com", models.PurposeReset, "333333", 3000))

		got, err := s.GetUserByEmail(ctx, "ada@example.com")
		require.NoError(t, err)
		assert.Equal(t, "333333", got.ResetOTP)
		assert.Equal(t, int64(3000), got.ResetOTPExpireAt)
		assert.Equal(t, "222222", got.VerifyOTP)
		assert.Equal(t, int64(2000), got.VerifyOTPExpireAt)

		assert.ErrorIs(t, s.SetOTP(ctx, "missing@example.com", models.PurposeReset, "1", 1), ErrNotFound)
	})

	t.Run("ConsumeOTPAppliesUpdate", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.CreateUser(ctx, newTestUser("ada@example.com")))
		require.NoError(t, s.SetOTP(ctx, "ada@example.com", models.PurposeReset, "123456", 5000))
		require.NoError(t, s.SetOTP(ctx, "ada@example.com", models.PurposeVerify, "654321", 6000))

		updated, err := s.ConsumeOTP(ctx, "ada@example.com", models.PurposeReset, "123456",
			models.UserUpdate{PasswordHash: ptr("$2a$04$newhash")})
		require.NoError(t, err)
		assert.Equal(t, "$2a$04$newhash", updated.PasswordHash)
		assert.Empty(t, updated.ResetOTP)
		assert.Zero(t, updated.ResetOTPExpireAt)
		assert.Equal(t, "654321", updated.VerifyOTP, "other slot untouched")

		got, err := s.GetUserByEmail(ctx, "ada@example.com")
		require.NoError(t, err)
		assert.Equal(t, "$2a$04$newhash", got.PasswordHash)
		assert.Empty(t, got.ResetOTP)
		assert.False(t, got.AccountVerified)
	})

	t.Run("ConsumeOTPVerify", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.CreateUser(ctx, newTestUser("ada@example.com")))
		require.NoError(t, s.SetOTP(ctx, "ada@example.com", models.PurposeVerify, "654321", 6000))

		updated, err := s.ConsumeOTP(ctx, "ada@example.com", models.PurposeVerify, "654321",
			models.UserUpdate{AccountVerified: ptr(true)})
		require.NoError(t, err)
		assert.True(t, updated.AccountVerified)
		assert.Equal(t, "$2a$04$hash", updated.PasswordHash)
	})

	t.Run("ConsumeOTPIsSingleUse", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.CreateUser(ctx, newTestUser("ada@example.com")))
		require.NoError(t, s.SetOTP(ctx, "ada@example.com", models.PurposeReset, "123456", 5000))

		_, err := s.ConsumeOTP(ctx, "ada@example.com", models.PurposeReset, "123456", models.UserUpdate{})
		require.NoError(t, err)
		_, err = s.ConsumeOTP(ctx, "ada@example.com", models.PurposeReset, "123456", models.UserUpdate{})
		assert.ErrorIs(t, err, ErrOTPMismatch)
	})

	t.Run("ConsumeOTPMismatchLeavesSlot", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.CreateUser(ctx, newTestUser("ada@example.com")))
		require.NoError(t, s.SetOTP(ctx, "ada@example.com", models.PurposeReset, "123456", 5000))

		_, err := s.ConsumeOTP(ctx, "ada@example.com", models.PurposeReset, "999999",
			models.UserUpdate{PasswordHash: ptr("nope")})
		assert.ErrorIs(t, err, ErrOTPMismatch)

		// The verify slot is empty; an empty code must never match it.
		_, err = s.ConsumeOTP(ctx, "ada@example.com", models.PurposeVerify, "",
			models.UserUpdate{AccountVerified: ptr(true)})
		assert.ErrorIs(t, err, ErrOTPMismatch)

		got, err := s.GetUserByEmail(ctx, "ada@example.com")
		require.NoError(t, err)
		assert.Equal(t, "123456", got.ResetOTP)
		assert.Equal(t, "$2a$04$hash", got.PasswordHash)
		assert.False(t, got.AccountVerified)
	})

	t.Run("ConsumeOTPMissingUser", func(t *testing.T) {
		s := newStore(t)
		_, err := s.ConsumeOTP(ctx, "missing@example.com", models.PurposeReset, "123456", models.UserUpdate{})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("ConcurrentConsumeSucceedsOnce", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.CreateUser(ctx, newTestUser("ada@example.com")))
		require.NoError(t, s.SetOTP(ctx, "ada@example.com", models.PurposeReset, "123456", 5000))

		const workers = 8
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			successes int
			failures  []error
		)
		start := make(chan struct{})
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				_, err := s.ConsumeOTP(ctx, "ada@example.com", models.PurposeReset, "123456",
					models.UserUpdate{PasswordHash: ptr("$2a$04$winner")})
				mu.Lock()
				defer mu.Unlock()
				if err == nil {
					successes++
				} else {
					failures = append(failures, err)
				}
			}()
		}
		close(start)
		wg.Wait()

		assert.Equal(t, 1, successes)
		for _, err := range failures {
			assert.ErrorIs(t, err, ErrOTPMismatch)
		}
	})

	t.Run("Ping", func(t *testing.T) {
		s := newStore(t)
		assert.NoError(t, s.Ping(ctx))
	})
}
