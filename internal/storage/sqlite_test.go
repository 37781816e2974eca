package storage

import (
	"context"
	"path/filepath"
	"testing"

	"authify/internal/models"
)

func newSQLiteTestStorage(t *testing.T, path string) *SQLiteStorage {
	t.Helper()
	s, err := NewSQLiteStorage(Config{Type: "sqlite", ConnectionString: path})
	if err != nil {
		t.Fatalf("failed to create SQLite storage: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStorage(t *testing.T) {
	runStorageContract(t, func(t *testing.T) Storage {
		return newSQLiteTestStorage(t, filepath.Join(t.TempDir(), "authify.db"))
	})
}

func TestSQLiteStorage_RequiresConnectionString(t *testing.T) {
	if _, err := NewSQLiteStorage(Config{}); err == nil {
		t.Error("expected error for empty connection string")
	}
}

func TestSQLiteStorage_SchemaIsIdempotent(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "authify.db")

	first := newSQLiteTestStorage(t, path)
	if err := first.CreateUser(ctx, newTestUser("ada@example.com")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := first.SetOTP(ctx, "ada@example.com", models.PurposeReset, "123456", 42); err != nil {
		t.Fatalf("set otp: %v", err)
	}
	first.Close()

	second := newSQLiteTestStorage(t, path)
	got, err := second.GetUserByEmail(ctx, "ada@example.com")
	if err != nil {
		t.Fatalf("get after reopen: %v", err)
	}
	if got.ResetOTP != "123456" || got.ResetOTPExpireAt != 42 {
		t.Errorf("reset slot not persisted: %q %d", got.ResetOTP, got.ResetOTPExpireAt)
	}
}
