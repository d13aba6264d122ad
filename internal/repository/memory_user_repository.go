package repository

import (
	"context"
	"sync"
	"time"

	"github.com/spec-kit/auth-backend/internal/domain"
)

// memoryUserRepository keeps users in process memory with the same
// uniqueness semantics as the Postgres implementation. Used when no DSN is
// configured and by tests.
type memoryUserRepository struct {
	mu         sync.RWMutex
	byID       map[string]*domain.User
	byUsername map[string]string
	byEmail    map[string]string
}

// NewMemoryUserRepository returns an in-memory implementation.
func NewMemoryUserRepository() UserRepository {
	return &memoryUserRepository{
		byID:       make(map[string]*domain.User),
		byUsername: make(map[string]string),
		byEmail:    make(map[string]string),
	}
}

func (r *memoryUserRepository) Create(_ context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byUsername[user.Username]; exists {
		return ErrDuplicateUsername
	}
	if _, exists := r.byEmail[user.Email]; exists {
		return ErrDuplicateEmail
	}

	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now

	stored := *user
	r.byID[user.ID] = &stored
	r.byUsername[user.Username] = user.ID
	r.byEmail[user.Email] = user.ID
	return nil
}

func (r *memoryUserRepository) ExistsByUsername(_ context.Context, username string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.byUsername[username]
	return exists, nil
}

func (r *memoryUserRepository) ExistsByEmail(_ context.Context, email string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.byEmail[email]
	return exists, nil
}

func (r *memoryUserRepository) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.get(id)
}

func (r *memoryUserRepository) GetByUsername(_ context.Context, username string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byUsername[username]
	if !ok {
		return nil, ErrNotFound
	}
	return r.get(id)
}

func (r *memoryUserRepository) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byEmail[email]
	if !ok {
		return nil, ErrNotFound
	}
	return r.get(id)
}

func (r *memoryUserRepository) get(id string) (*domain.User, error) {
	stored, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	user := *stored
	return &user, nil
}
