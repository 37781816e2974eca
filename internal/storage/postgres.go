package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"authify/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS users (
	id                   TEXT PRIMARY KEY,
	name                 TEXT NOT NULL,
	email                TEXT NOT NULL UNIQUE,
	password_hash        TEXT NOT NULL,
	account_verified     BOOLEAN NOT NULL DEFAULT FALSE,
	reset_otp            TEXT NOT NULL DEFAULT '',
	reset_otp_expire_at  BIGINT NOT NULL DEFAULT 0,
	verify_otp           TEXT NOT NULL DEFAULT '',
	verify_otp_expire_at BIGINT NOT NULL DEFAULT 0,
	created_at           TIMESTAMPTZ NOT NULL,
	updated_at           TIMESTAMPTZ NOT NULL
)`

// PostgresStorage implements Storage on a pgx connection pool.
type PostgresStorage struct {
	pool *pgxpool.Pool
}

// NewPostgresStorage connects, verifies the connection and ensures the schema.
func NewPostgresStorage(config Config) (*PostgresStorage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required for PostgreSQL storage")
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if config.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(min(config.MaxIdleConns, config.MaxOpenConns))
	}
	if config.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = config.ConnMaxLifetime
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &PostgresStorage{pool: pool}, nil
}

func scanPostgresUser(row pgx.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.AccountVerified,
		&u.ResetOTP, &u.ResetOTPExpireAt, &u.VerifyOTP, &u.VerifyOTPExpireAt, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (ps *PostgresStorage) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	row := ps.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, models.NormalizeEmail(email))
	u, err := scanPostgresUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

func (ps *PostgresStorage) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := ps.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE email = $1)`, models.NormalizeEmail(email)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check user: %w", err)
	}
	return exists, nil
}

func (ps *PostgresStorage) CreateUser(ctx context.Context, user *models.User) error {
	if err := user.Validate(); err != nil {
		return fmt.Errorf("invalid user: %w", err)
	}
	tag, err := ps.pool.Exec(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (email) DO NOTHING`,
		user.ID, user.Name, models.NormalizeEmail(user.Email), user.PasswordHash, user.AccountVerified,
		user.ResetOTP, user.ResetOTPExpireAt, user.VerifyOTP, user.VerifyOTPExpireAt,
		user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyExists
	}
	return nil
}

func (ps *PostgresStorage) SaveUser(ctx context.Context, user *models.User) error {
	tag, err := ps.pool.Exec(ctx, `
		UPDATE users SET name = $1, password_hash = $2, account_verified = $3,
			reset_otp = $4, reset_otp_expire_at = $5, verify_otp = $6, verify_otp_expire_at = $7,
			updated_at = $8
		WHERE email = $9`,
		user.Name, user.PasswordHash, user.AccountVerified,
		user.ResetOTP, user.ResetOTPExpireAt, user.VerifyOTP, user.VerifyOTPExpireAt,
		user.UpdatedAt, models.NormalizeEmail(user.Email),
	)
	if err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (ps *PostgresStorage) SetOTP(ctx context.Context, email string, purpose models.OTPPurpose, code string, expiresAt int64) error {
	codeCol, expCol := slotColumns(purpose)
	tag, err := ps.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE users SET %s = $1, %s = $2, updated_at = $3 WHERE email = $4`, codeCol, expCol),
		code, expiresAt, time.Now(), models.NormalizeEmail(email),
	)
	if err != nil {
		return fmt.Errorf("failed to set otp: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (ps *PostgresStorage) ConsumeOTP(ctx context.Context, email string, purpose models.OTPPurpose, code string, update models.UserUpdate) (*models.User, error) {
	codeCol, expCol := slotColumns(purpose)
	query := fmt.Sprintf(`
		UPDATE users SET %[1]s = '', %[2]s = 0,
			password_hash = COALESCE($1::text, password_hash),
			account_verified = COALESCE($2::boolean, account_verified),
			updated_at = $3
		WHERE email = $4 AND %[1]s <> '' AND %[1]s = $5
		RETURNING `+userColumns, codeCol, expCol)

	row := ps.pool.QueryRow(ctx, query,
		update.PasswordHash, update.AccountVerified, time.Now(),
		models.NormalizeEmail(email), code,
	)
	u, err := scanPostgresUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		exists, existsErr := ps.ExistsByEmail(ctx, email)
		if existsErr != nil {
			return nil, existsErr
		}
		if !exists {
			return nil, ErrNotFound
		}
		return nil, ErrOTPMismatch
	}
	if err != nil {
		return nil, fmt.Errorf("failed to consume otp: %w", err)
	}
	return u, nil
}

func (ps *PostgresStorage) Ping(ctx context.Context) error {
	return ps.pool.Ping(ctx)
}

// Close closes the connection pool.
func (ps *PostgresStorage) Close() error {
	ps.pool.Close()
	return nil
}
