package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/auth-backend/internal/domain"
)

func newTestUser(id, username, email string) *domain.User {
	return &domain.User{
		ID:           id,
		Username:     username,
		Email:        email,
		PasswordHash: "$2a$04$fakehash",
		Role:         domain.RoleUser,
	}
}

func TestMemoryRepositoryCreateAndGet(t *testing.T) {
	repo := NewMemoryUserRepository()
	ctx := context.Background()

	user := newTestUser("id-1", "alice", "alice@x.com")
	require.NoError(t, repo.Create(ctx, user))
	assert.False(t, user.CreatedAt.IsZero())

	got, err := repo.GetByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice@x.com", got.Email)

	got, err = repo.GetByEmail(ctx, "alice@x.com")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Username)

	got, err = repo.GetByID(ctx, "id-1")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Username)
}

func TestMemoryRepositoryUniqueness(t *testing.T) {
	repo := NewMemoryUserRepository()
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newTestUser("id-1", "alice", "alice@x.com")))

	err := repo.Create(ctx, newTestUser("id-2", "alice", "other@x.com"))
	assert.ErrorIs(t, err, ErrDuplicateUsername)

	err = repo.Create(ctx, newTestUser("id-3", "bob", "alice@x.com"))
	assert.ErrorIs(t, err, ErrDuplicateEmail)

	taken, err := repo.ExistsByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, taken)

	taken, err = repo.ExistsByEmail(ctx, "other@x.com")
	require.NoError(t, err)
	assert.False(t, taken)
}

func TestMemoryRepositoryNotFound(t *testing.T) {
	repo := NewMemoryUserRepository()
	ctx := context.Background()

	_, err := repo.GetByUsername(ctx, "ghost")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = repo.GetByEmail(ctx, "ghost@x.com")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = repo.GetByID(ctx, "ghost-id")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryRepositoryReturnsCopies(t *testing.T) {
	repo := NewMemoryUserRepository()
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newTestUser("id-1", "alice", "alice@x.com")))

	got, err := repo.GetByUsername(ctx, "alice")
	require.NoError(t, err)
	got.Email = "mutated@x.com"

	again, err := repo.GetByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice@x.com", again.Email)
}
