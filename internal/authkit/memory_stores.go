package authkit

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// MemoryUserStore is an in-memory user store intended for tests and dev.
type MemoryUserStore struct {
	mutex      sync.Mutex
	byID       map[int64]User
	byEmail    map[string]int64
	sequenceID int64
}

// NewMemoryUserStore creates an empty user store.
func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{
		byID:    make(map[int64]User),
		byEmail: make(map[string]int64),
	}
}

// FindByID returns the user with the given identity.
func (store *MemoryUserStore) FindByID(ctx context.Context, userID int64) (User, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	user, ok := store.byID[userID]
	if !ok {
		return User{}, fmt.Errorf("user_store.find_by_id: %w", ErrUserNotFound)
	}
	return user, nil
}

// FindByEmail returns the user registered under the email.
func (store *MemoryUserStore) FindByEmail(ctx context.Context, email string) (User, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	userID, ok := store.byEmail[normalizeEmail(email)]
	if !ok {
		return User{}, fmt.Errorf("user_store.find_by_email: %w", ErrUserNotFound)
	}
	return store.byID[userID], nil
}

// Save creates the user when ID is zero, otherwise replaces the stored record.
func (store *MemoryUserStore) Save(ctx context.Context, user User) (User, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	emailKey := normalizeEmail(user.Email)
	if emailKey == "" {
		return User{}, fmt.Errorf("user_store.save: %w", ErrMissingEmailAttribute)
	}
	if user.ID == 0 {
		if existingID, ok := store.byEmail[emailKey]; ok {
			user.ID = existingID
		} else {
			store.sequenceID++
			user.ID = store.sequenceID
		}
	} else if _, ok := store.byID[user.ID]; !ok {
		return User{}, fmt.Errorf("user_store.save: %w", ErrUserNotFound)
	}
	if previous, ok := store.byID[user.ID]; ok {
		delete(store.byEmail, normalizeEmail(previous.Email))
	}
	user.Email = emailKey
	store.byID[user.ID] = user
	store.byEmail[emailKey] = user.ID
	return user, nil
}

// MemoryRefreshTokenStore is an in-memory refresh token store keyed by user identity.
type MemoryRefreshTokenStore struct {
	mutex      sync.Mutex
	byUserID   map[int64]RefreshTokenRecord
	sequenceID int64
}

// NewMemoryRefreshTokenStore creates an empty refresh token store.
func NewMemoryRefreshTokenStore() *MemoryRefreshTokenStore {
	return &MemoryRefreshTokenStore{byUserID: make(map[int64]RefreshTokenRecord)}
}

// FindByUserID returns the record owned by the user.
func (store *MemoryRefreshTokenStore) FindByUserID(ctx context.Context, userID int64) (RefreshTokenRecord, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	record, ok := store.byUserID[userID]
	if !ok {
		return RefreshTokenRecord{}, fmt.Errorf("refresh_store.find_by_user_id: %w", ErrRefreshTokenNotFound)
	}
	return record, nil
}

// FindByRefreshToken returns the record whose current value equals the token.
func (store *MemoryRefreshTokenStore) FindByRefreshToken(ctx context.Context, refreshToken string) (RefreshTokenRecord, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return RefreshTokenRecord{}, fmt.Errorf("refresh_store.find_by_token: %w", ErrRefreshTokenEmpty)
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()

	for _, record := range store.byUserID {
		if record.RefreshToken == refreshToken {
			return record, nil
		}
	}
	return RefreshTokenRecord{}, fmt.Errorf("refresh_store.find_by_token: %w", ErrRefreshTokenNotFound)
}

// Save upserts on user identity; the last writer wins.
func (store *MemoryRefreshTokenStore) Save(ctx context.Context, record RefreshTokenRecord) (RefreshTokenRecord, error) {
	if record.UserID <= 0 {
		return RefreshTokenRecord{}, fmt.Errorf("refresh_store.save: %w", ErrUserNotFound)
	}
	if strings.TrimSpace(record.RefreshToken) == "" {
		return RefreshTokenRecord{}, fmt.Errorf("refresh_store.save: %w", ErrRefreshTokenEmpty)
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()

	if existing, ok := store.byUserID[record.UserID]; ok {
		record.ID = existing.ID
	} else {
		store.sequenceID++
		record.ID = store.sequenceID
	}
	store.byUserID[record.UserID] = record
	return record, nil
}

// DeleteByUserID drops the user's record; it is a no-op when none exists.
func (store *MemoryRefreshTokenStore) DeleteByUserID(ctx context.Context, userID int64) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	delete(store.byUserID, userID)
	return nil
}

func normalizeEmail(email string) string {
	return strings.TrimSpace(email)
}
