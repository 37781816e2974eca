package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"authify/internal/models"
)

// userTable is the map shared by the in-process backends. Callers hold the
// owning store's lock for every method.
type userTable map[string]*models.User

func (t userTable) get(email string) (*models.User, error) {
	u, ok := t[models.NormalizeEmail(email)]
	if !ok {
		return nil, ErrNotFound
	}
	return u.Clone(), nil
}

func (t userTable) create(user *models.User) error {
	if err := user.Validate(); err != nil {
		return fmt.Errorf("invalid user: %w", err)
	}
	key := models.NormalizeEmail(user.Email)
	if _, exists := t[key]; exists {
		return ErrAlreadyExists
	}
	t[key] = user.Clone()
	return nil
}

// replace stores user over an existing record and returns the previous one.
func (t userTable) replace(user *models.User) (*models.User, error) {
	key := models.NormalizeEmail(user.Email)
	prev, exists := t[key]
	if !exists {
		return nil, ErrNotFound
	}
	t[key] = user.Clone()
	return prev, nil
}

func (t userTable) setOTP(email string, purpose models.OTPPurpose, code string, expiresAt int64, now time.Time) (*models.User, error) {
	key := models.NormalizeEmail(email)
	prev, exists := t[key]
	if !exists {
		return nil, ErrNotFound
	}
	next := prev.Clone()
	next.SetSlot(purpose, code, expiresAt)
	next.UpdatedAt = now
	t[key] = next
	return prev, nil
}

// consume returns the previous record so callers that persist can roll back.
func (t userTable) consume(email string, purpose models.OTPPurpose, code string, update models.UserUpdate, now time.Time) (prev, next *models.User, err error) {
	key := models.NormalizeEmail(email)
	prev, exists := t[key]
	if !exists {
		return nil, nil, ErrNotFound
	}
	current, _ := prev.Slot(purpose)
	if current == "" || current != code {
		return nil, nil, ErrOTPMismatch
	}
	next = prev.Clone()
	next.SetSlot(purpose, "", 0)
	next.Apply(update)
	next.UpdatedAt = now
	t[key] = next
	return prev, next.Clone(), nil
}

// MemoryStorage keeps users in process memory. Data is lost on restart.
type MemoryStorage struct {
	mu    sync.RWMutex
	users userTable
}

// NewMemoryStorage creates a new memory-based storage instance
func NewMemoryStorage(config Config) (*MemoryStorage, error) {
	return &MemoryStorage{users: make(userTable)}, nil
}

func (m *MemoryStorage) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.users.get(email)
}

func (m *MemoryStorage) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.users[models.NormalizeEmail(email)]
	return ok, nil
}

func (m *MemoryStorage) CreateUser(ctx context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.users.create(user)
}

func (m *MemoryStorage) SaveUser(ctx context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, err := m.users.replace(user)
	return err
}

func (m *MemoryStorage) SetOTP(ctx context.Context, email string, purpose models.OTPPurpose, code string, expiresAt int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, err := m.users.setOTP(email, purpose, code, expiresAt, time.Now())
	return err
}

func (m *MemoryStorage) ConsumeOTP(ctx context.Context, email string, purpose models.OTPPurpose, code string, update models.UserUpdate) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, next, err := m.users.consume(email, purpose, code, update, time.Now())
	return next, err
}

func (m *MemoryStorage) Ping(ctx context.Context) error {
	return nil
}

func (m *MemoryStorage) Close() error {
	return nil
}
