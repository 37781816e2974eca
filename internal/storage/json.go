package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"authify/internal/models"
)

// JSONStorage keeps users in memory and rewrites a JSON file after every
// change. The file is replaced by rename, so a crash leaves either the old or
// the new contents. A single process must own the file.
type JSONStorage struct {
	filePath string
	mu       sync.RWMutex
	users    userTable
}

// JSONData represents the structure of data stored in JSON format
type JSONData struct {
	Users       []*models.User `json:"users"`
	LastUpdated time.Time      `json:"last_updated"`
}

// NewJSONStorage opens or creates the file at config.Path.
func NewJSONStorage(config Config) (*JSONStorage, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("path is required for JSON storage")
	}

	j := &JSONStorage{
		filePath: config.Path,
		users:    make(userTable),
	}

	if err := os.MkdirAll(filepath.Dir(j.filePath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	if err := j.load(); err != nil {
		return nil, fmt.Errorf("failed to load initial data: %w", err)
	}

	return j, nil
}

func (j *JSONStorage) load() error {
	fileData, err := os.ReadFile(j.filePath)
	if errors.Is(err, fs.ErrNotExist) {
		return j.save()
	}
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	var data JSONData
	if err := json.Unmarshal(fileData, &data); err != nil {
		return fmt.Errorf("failed to unmarshal JSON: %w", err)
	}

	for _, u := range data.Users {
		if err := j.users.create(u); err != nil {
			return fmt.Errorf("user %s: %w", u.Email, err)
		}
	}
	return nil
}

// save writes the table to a temp file and renames it over the data file.
// Caller holds j.mu for writing (or is the constructor).
func (j *JSONStorage) save() error {
	data := JSONData{
		Users:       make([]*models.User, 0, len(j.users)),
		LastUpdated: time.Now(),
	}
	for _, u := range j.users {
		data.Users = append(data.Users, u)
	}
	sort.Slice(data.Users, func(a, b int) bool { return data.Users[a].Email < data.Users[b].Email })

	fileData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(j.filePath), ".users-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(fileData); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0600); err != nil {
		return fmt.Errorf("failed to chmod temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), j.filePath); err != nil {
		return fmt.Errorf("failed to replace data file: %w", err)
	}
	return nil
}

// restore puts prev back after a failed save. A nil prev removes key.
func (j *JSONStorage) restore(key string, prev *models.User) {
	if prev == nil {
		delete(j.users, key)
		return
	}
	j.users[key] = prev
}

func (j *JSONStorage) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.users.get(email)
}

func (j *JSONStorage) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	_, ok := j.users[models.NormalizeEmail(email)]
	return ok, nil
}

func (j *JSONStorage) CreateUser(ctx context.Context, user *models.User) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.users.create(user); err != nil {
		return err
	}
	if err := j.save(); err != nil {
		j.restore(models.NormalizeEmail(user.Email), nil)
		return err
	}
	return nil
}

func (j *JSONStorage) SaveUser(ctx context.Context, user *models.User) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	prev, err := j.users.replace(user)
	if err != nil {
		return err
	}
	if err := j.save(); err != nil {
		j.restore(models.NormalizeEmail(user.Email), prev)
		return err
	}
	return nil
}

func (j *JSONStorage) SetOTP(ctx context.Context, email string, purpose models.OTPPurpose, code string, expiresAt int64) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	prev, err := j.users.setOTP(email, purpose, code, expiresAt, time.Now())
	if err != nil {
		return err
	}
	if err := j.save(); err != nil {
		j.restore(models.NormalizeEmail(email), prev)
		return err
	}
	return nil
}

func (j *JSONStorage) ConsumeOTP(ctx context.Context, email string, purpose models.OTPPurpose, code string, update models.UserUpdate) (*models.User, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	prev, next, err := j.users.consume(email, purpose, code, update, time.Now())
	if err != nil {
		return nil, err
	}
	if err := j.save(); err != nil {
		j.restore(models.NormalizeEmail(email), prev)
		return nil, err
	}
	return next, nil
}

// Ping checks the data file is still present.
func (j *JSONStorage) Ping(_ context.Context) error {
	if _, err := os.Stat(j.filePath); err != nil {
		return fmt.Errorf("data file unavailable: %w", err)
	}
	return nil
}

func (j *JSONStorage) Close() error {
	return nil
}
