package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"authify/internal/models"

	"github.com/redis/go-redis/v9"
)

// maxTxRetries bounds optimistic retries when a watched key changes
// under a transaction.
const maxTxRetries = 8

// RedisStorage keeps each user as a JSON document under prefix:user:<email>.
// Read-modify-write operations run in WATCH transactions so a concurrent
// writer aborts the transaction instead of being overwritten.
type RedisStorage struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStorage connects to the configured server and verifies it.
func NewRedisStorage(config Config) (*RedisStorage, error) {
	if config.Redis.Addr == "" {
		return nil, fmt.Errorf("address is required for redis storage")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.Redis.Addr,
		Password: config.Redis.Password,
		DB:       config.Redis.DB,
		PoolSize: config.Redis.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return NewRedisStorageWithClient(client, config.Redis.KeyPrefix), nil
}

// NewRedisStorageWithClient wraps an existing client.
func NewRedisStorageWithClient(client redis.UniversalClient, prefix string) *RedisStorage {
	if prefix == "" {
		prefix = "authify"
	}
	return &RedisStorage{client: client, prefix: prefix}
}

func (rs *RedisStorage) key(email string) string {
	return rs.prefix + ":user:" + models.NormalizeEmail(email)
}

func decodeUser(data []byte) (*models.User, error) {
	var u models.User
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("failed to decode user: %w", err)
	}
	return &u, nil
}

func (rs *RedisStorage) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	data, err := rs.client.Get(ctx, rs.key(email)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return decodeUser(data)
}

func (rs *RedisStorage) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	n, err := rs.client.Exists(ctx, rs.key(email)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check user: %w", err)
	}
	return n > 0, nil
}

func (rs *RedisStorage) CreateUser(ctx context.Context, user *models.User) error {
	if err := user.Validate(); err != nil {
		return fmt.Errorf("invalid user: %w", err)
	}
	stored := user.Clone()
	stored.Email = models.NormalizeEmail(user.Email)
	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("failed to encode user: %w", err)
	}

	created, err := rs.client.SetNX(ctx, rs.key(user.Email), data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	if !created {
		return ErrAlreadyExists
	}
	return nil
}

func (rs *RedisStorage) SaveUser(ctx context.Context, user *models.User) error {
	stored := user.Clone()
	stored.Email = models.NormalizeEmail(user.Email)
	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("failed to encode user: %w", err)
	}

	// SET XX replies nil when the key is absent.
	err = rs.client.SetArgs(ctx, rs.key(user.Email), data, redis.SetArgs{Mode: "XX"}).Err()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	return nil
}

// mutate runs fn against the current document inside a WATCH transaction and
// writes the result back. fn may return an error to abort without writing.
func (rs *RedisStorage) mutate(ctx context.Context, email string, fn func(u *models.User) error) (*models.User, error) {
	key := rs.key(email)

	for i := 0; i < maxTxRetries; i++ {
		var result *models.User

		err := rs.client.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				return ErrNotFound
			}
			if err != nil {
				return err
			}

			u, err := decodeUser(data)
			if err != nil {
				return err
			}
			if err := fn(u); err != nil {
				return err
			}

			encoded, err := json.Marshal(u)
			if err != nil {
				return fmt.Errorf("failed to encode user: %w", err)
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, encoded, 0)
				return nil
			})
			if err != nil {
				return err
			}
			result = u
			return nil
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			switch {
			case errors.Is(err, ErrNotFound), errors.Is(err, ErrOTPMismatch):
				return nil, err
			default:
				return nil, fmt.Errorf("redis transaction failed: %w", err)
			}
		}
		return result, nil
	}

	return nil, fmt.Errorf("redis transaction on %s: too much contention", key)
}

func (rs *RedisStorage) SetOTP(ctx context.Context, email string, purpose models.OTPPurpose, code string, expiresAt int64) error {
	_, err := rs.mutate(ctx, email, func(u *models.User) error {
		u.SetSlot(purpose, code, expiresAt)
		u.UpdatedAt = time.Now()
		return nil
	})
	return err
}

func (rs *RedisStorage) ConsumeOTP(ctx context.Context, email string, purpose models.OTPPurpose, code string, update models.UserUpdate) (*models.User, error) {
	return rs.mutate(ctx, email, func(u *models.User) error {
		current, _ := u.Slot(purpose)
		if current == "" || current != code {
			return ErrOTPMismatch
		}
		u.SetSlot(purpose, "", 0)
		u.Apply(update)
		u.UpdatedAt = time.Now()
		return nil
	})
}

func (rs *RedisStorage) Ping(ctx context.Context) error {
	return rs.client.Ping(ctx).Err()
}

func (rs *RedisStorage) Close() error {
	return rs.client.Close()
}
