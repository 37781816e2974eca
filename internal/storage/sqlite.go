package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"authify/internal/models"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS users (
	id                   TEXT PRIMARY KEY,
	name                 TEXT NOT NULL,
	email                TEXT NOT NULL UNIQUE,
	password_hash        TEXT NOT NULL,
	account_verified     INTEGER NOT NULL DEFAULT 0,
	reset_otp            TEXT NOT NULL DEFAULT '',
	reset_otp_expire_at  INTEGER NOT NULL DEFAULT 0,
	verify_otp           TEXT NOT NULL DEFAULT '',
	verify_otp_expire_at INTEGER NOT NULL DEFAULT 0,
	created_at           INTEGER NOT NULL,
	updated_at           INTEGER NOT NULL
)`

// Timestamps are stored as epoch milliseconds.
const userColumns = `id, name, email, password_hash, account_verified,
	reset_otp, reset_otp_expire_at, verify_otp, verify_otp_expire_at, created_at, updated_at`

// slotColumns returns the code and expiry column names for purpose. The
// result only ever comes from this fixed table, so it is safe to format into
// SQL.
func slotColumns(purpose models.OTPPurpose) (code, expireAt string) {
	if purpose == models.PurposeVerify {
		return "verify_otp", "verify_otp_expire_at"
	}
	return "reset_otp", "reset_otp_expire_at"
}

// SQLiteStorage stores users in an embedded SQLite database.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens the database and creates the schema if needed.
func NewSQLiteStorage(config Config) (*SQLiteStorage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required for SQLite storage")
	}

	db, err := sql.Open("sqlite", config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite serializes writers; one connection avoids SQLITE_BUSY between
	// pooled connections and keeps :memory: databases coherent.
	db.SetMaxOpenConns(1)
	if config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
	}

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteUser(row rowScanner) (*models.User, error) {
	var (
		u                models.User
		created, updated int64
	)
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.AccountVerified,
		&u.ResetOTP, &u.ResetOTPExpireAt, &u.VerifyOTP, &u.VerifyOTPExpireAt, &created, &updated)
	if err != nil {
		return nil, err
	}
	u.CreatedAt = time.UnixMilli(created).UTC()
	u.UpdatedAt = time.UnixMilli(updated).UTC()
	return &u, nil
}

func (ss *SQLiteStorage) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	row := ss.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, models.NormalizeEmail(email))
	u, err := scanSQLiteUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

func (ss *SQLiteStorage) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := ss.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE email = ?)`, models.NormalizeEmail(email)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check user: %w", err)
	}
	return exists, nil
}

func (ss *SQLiteStorage) CreateUser(ctx context.Context, user *models.User) error {
	if err := user.Validate(); err != nil {
		return fmt.Errorf("invalid user: %w", err)
	}
	res, err := ss.db.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (email) DO NOTHING`,
		user.ID, user.Name, models.NormalizeEmail(user.Email), user.PasswordHash, user.AccountVerified,
		user.ResetOTP, user.ResetOTPExpireAt, user.VerifyOTP, user.VerifyOTPExpireAt,
		user.CreatedAt.UnixMilli(), user.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAlreadyExists
	}
	return nil
}

func (ss *SQLiteStorage) SaveUser(ctx context.Context, user *models.User) error {
	res, err := ss.db.ExecContext(ctx, `
		UPDATE users SET name = ?, password_hash = ?, account_verified = ?,
			reset_otp = ?, reset_otp_expire_at = ?, verify_otp = ?, verify_otp_expire_at = ?,
			updated_at = ?
		WHERE email = ?`,
		user.Name, user.PasswordHash, user.AccountVerified,
		user.ResetOTP, user.ResetOTPExpireAt, user.VerifyOTP, user.VerifyOTPExpireAt,
		user.UpdatedAt.UnixMilli(), models.NormalizeEmail(user.Email),
	)
	if err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (ss *SQLiteStorage) SetOTP(ctx context.Context, email string, purpose models.OTPPurpose, code string, expiresAt int64) error {
	codeCol, expCol := slotColumns(purpose)
	res, err := ss.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE users SET %s = ?, %s = ?, updated_at = ? WHERE email = ?`, codeCol, expCol),
		code, expiresAt, time.Now().UnixMilli(), models.NormalizeEmail(email),
	)
	if err != nil {
		return fmt.Errorf("failed to set otp: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (ss *SQLiteStorage) ConsumeOTP(ctx context.Context, email string, purpose models.OTPPurpose, code string, update models.UserUpdate) (*models.User, error) {
	codeCol, expCol := slotColumns(purpose)
	query := fmt.Sprintf(`
		UPDATE users SET %[1]s = '', %[2]s = 0,
			password_hash = COALESCE(?, password_hash),
			account_verified = COALESCE(?, account_verified),
			updated_at = ?
		WHERE email = ? AND %[1]s <> '' AND %[1]s = ?
		RETURNING `+userColumns, codeCol, expCol)

	row := ss.db.QueryRowContext(ctx, query,
		nullString(update.PasswordHash), nullBool(update.AccountVerified), time.Now().UnixMilli(),
		models.NormalizeEmail(email), code,
	)
	u, err := scanSQLiteUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ss.missReason(ctx, email)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to consume otp: %w", err)
	}
	return u, nil
}

// missReason distinguishes an absent user from a stale code after a
// conditional update matched no row.
func (ss *SQLiteStorage) missReason(ctx context.Context, email string) error {
	exists, err := ss.ExistsByEmail(ctx, email)
	if err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return ErrOTPMismatch
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullBool(b *bool) sql.NullBool {
	if b == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *b, Valid: true}
}

func (ss *SQLiteStorage) Ping(ctx context.Context) error {
	return ss.db.PingContext(ctx)
}

// Close closes the storage connection
func (ss *SQLiteStorage) Close() error {
	return ss.db.Close()
}
