package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/spec-kit/auth-backend/internal/config"
	"github.com/spec-kit/auth-backend/internal/domain"
	"github.com/spec-kit/auth-backend/internal/events"
	"github.com/spec-kit/auth-backend/internal/ratelimit"
	"github.com/spec-kit/auth-backend/internal/repository"
	apperrors "github.com/spec-kit/auth-backend/pkg/util"
)

// recordingDispatcher captures published events for assertions.
type recordingDispatcher struct {
	mu     sync.Mutex
	events []events.Event
}

func (d *recordingDispatcher) Publish(_ context.Context, event events.Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, event)
	return nil
}

func (d *recordingDispatcher) Subscribe(events.EventType, events.EventHandler) {}

func (d *recordingDispatcher) types() []events.EventType {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]events.EventType, 0, len(d.events))
	for _, e := range d.events {
		out = append(out, e.Type)
	}
	return out
}

func newTestService(t *testing.T) (*AuthService, repository.UserRepository, *recordingDispatcher) {
	t.Helper()
	cfg := config.Config{
		Auth: config.AuthConfig{
			JWTSecret:             "test-secret",
			AccessTokenTTLMinutes: 60,
			BcryptCost:            bcrypt.MinCost,
		},
	}
	repo := repository.NewMemoryUserRepository()
	dispatcher := &recordingDispatcher{}
	svc := NewAuthService(cfg, AuthDependencies{
		UserRepo:   repo,
		Dispatcher: dispatcher,
	})
	return svc, repo, dispatcher
}

func domainCode(t *testing.T, err error) string {
	t.Helper()
	var domainErr *apperrors.DomainError
	require.ErrorAs(t, err, &domainErr)
	return domainErr.Code
}

func TestRegisterSuccess(t *testing.T) {
	svc, repo, dispatcher := newTestService(t)
	ctx := context.Background()

	user, token, exp, err := svc.Register(ctx, "alice", "alice@x.com", "Secret123", "10.0.0.1")
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.NotEmpty(t, token)
	assert.True(t, exp.After(time.Now()))

	assert.NotEmpty(t, user.ID)
	assert.NotEqual(t, "Secret123", user.PasswordHash)

	claims, err := svc.TokenManager().ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)

	stored, err := repo.GetByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice@x.com", stored.Email)

	assert.Equal(t, []events.EventType{events.EventUserRegistered}, dispatcher.types())
}

func TestRegisterThenLogin(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, _, _, err := svc.Register(ctx, "alice", "alice@x.com", "Secret123", "")
	require.NoError(t, err)

	user, token, _, err := svc.Login(ctx, "alice", "Secret123", "")
	require.NoError(t, err)
	assert.Equal(t, "alice@x.com", user.Email)
	assert.NotEmpty(t, token)
}

func TestRegisterDuplicateUsername(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()

	_, _, _, err := svc.Register(ctx, "alice", "alice@x.com", "Secret123", "")
	require.NoError(t, err)

	_, _, _, err = svc.Register(ctx, "alice", "different@x.com", "Secret123", "")
	assert.Equal(t, "DUPLICATE_USERNAME", domainCode(t, err))

	exists, err := repo.ExistsByEmail(ctx, "different@x.com")
	require.NoError(t, err)
	assert.False(t, exists, "failed registration must not persist")
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()

	_, _, _, err := svc.Register(ctx, "alice", "alice@x.com", "Secret123", "")
	require.NoError(t, err)

	_, _, _, err = svc.Register(ctx, "bob", "alice@x.com", "Secret123", "")
	assert.Equal(t, "DUPLICATE_EMAIL", domainCode(t, err))

	exists, err := repo.ExistsByUsername(ctx, "bob")
	require.NoError(t, err)
	assert.False(t, exists, "failed registration must not persist")
}

func TestRegisterValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, _, _, err := svc.Register(ctx, "", "alice@x.com", "Secret123", "")
	assert.Equal(t, "VALIDATION_FAILED", domainCode(t, err))

	_, _, _, err = svc.Register(ctx, "alice", "not-an-email", "Secret123", "")
	assert.Equal(t, "VALIDATION_FAILED", domainCode(t, err))

	_, _, _, err = svc.Register(ctx, "alice", "alice@x.com", "", "")
	assert.Equal(t, "VALIDATION_FAILED", domainCode(t, err))
}

func TestLoginWrongPassword(t *testing.T) {
	svc, repo, dispatcher := newTestService(t)
	ctx := context.Background()

	_, _, _, err := svc.Register(ctx, "alice", "alice@x.com", "Secret123", "")
	require.NoError(t, err)

	before, err := repo.GetByUsername(ctx, "alice")
	require.NoError(t, err)

	_, _, _, err = svc.Login(ctx, "alice", "wrong", "")
	assert.Equal(t, "INVALID_CREDENTIALS", domainCode(t, err))

	after, err := repo.GetByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, before.PasswordHash, after.PasswordHash, "stored hash must be unchanged")

	assert.Contains(t, dispatcher.types(), events.EventLoginFailed)
}

func TestLoginUnknownUsername(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, _, _, err := svc.Login(context.Background(), "ghost", "Secret123", "")
	assert.Equal(t, "INVALID_CREDENTIALS", domainCode(t, err))
}

func TestSamePasswordDifferentHashes(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()

	_, _, _, err := svc.Register(ctx, "alice", "alice@x.com", "Secret123", "")
	require.NoError(t, err)
	_, _, _, err = svc.Register(ctx, "bob", "bob@x.com", "Secret123", "")
	require.NoError(t, err)

	alice, err := repo.GetByUsername(ctx, "alice")
	require.NoError(t, err)
	bob, err := repo.GetByUsername(ctx, "bob")
	require.NoError(t, err)

	assert.NotEqual(t, alice.PasswordHash, bob.PasswordHash)
}

func TestGetUserByUsername(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, _, _, err := svc.Register(ctx, "alice", "alice@x.com", "Secret123", "")
	require.NoError(t, err)

	user, err := svc.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice@x.com", user.Email)

	_, err = svc.GetUserByUsername(ctx, "ghost")
	assert.Equal(t, "NOT_FOUND", domainCode(t, err))
}

func TestLoginEventOrder(t *testing.T) {
	svc, _, dispatcher := newTestService(t)
	ctx := context.Background()

	_, _, _, err := svc.Register(ctx, "alice", "alice@x.com", "Secret123", "")
	require.NoError(t, err)
	_, _, _, err = svc.Login(ctx, "alice", "Secret123", "")
	require.NoError(t, err)

	assert.Equal(t, []events.EventType{
		events.EventUserRegistered,
		events.EventLoginSucceeded,
	}, dispatcher.types())
}

func TestRegisterStorageConflictMapped(t *testing.T) {
	// A concurrent insert can slip between the pre-checks and Create; the
	// repository's duplicate errors must still map to the taxonomy.
	cfg := config.Config{
		Auth: config.AuthConfig{JWTSecret: "s", AccessTokenTTLMinutes: 60, BcryptCost: bcrypt.MinCost},
	}
	svc := NewAuthService(cfg, AuthDependencies{
		UserRepo: &conflictingRepo{UserRepository: repository.NewMemoryUserRepository()},
	})

	_, _, _, err := svc.Register(context.Background(), "alice", "alice@x.com", "Secret123", "")
	assert.Equal(t, "DUPLICATE_USERNAME", domainCode(t, err))
}

// conflictingRepo reports no duplicates on pre-checks but fails the insert,
// simulating the check-then-insert race.
type conflictingRepo struct {
	repository.UserRepository
}

func (r *conflictingRepo) ExistsByUsername(context.Context, string) (bool, error) {
	return false, nil
}

func (r *conflictingRepo) ExistsByEmail(context.Context, string) (bool, error) {
	return false, nil
}

func (r *conflictingRepo) Create(context.Context, *domain.User) error {
	return repository.ErrDuplicateUsername
}

func TestRegisterRateLimited(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	limiter := ratelimit.NewAttemptLimiter(client, config.RateLimitConfig{
		Enabled:         true,
		MaxAttempts:     1,
		CooldownSeconds: 60,
	}, zap.NewNop())
	require.NotNil(t, limiter)

	cfg := config.Config{
		Auth: config.AuthConfig{JWTSecret: "s", AccessTokenTTLMinutes: 60, BcryptCost: bcrypt.MinCost},
	}
	svc := NewAuthService(cfg, AuthDependencies{
		UserRepo: repository.NewMemoryUserRepository(),
		Limiter:  limiter,
	})
	ctx := context.Background()

	_, _, _, err := svc.Register(ctx, "alice", "alice@x.com", "Secret123", "10.0.0.1")
	require.NoError(t, err)

	_, _, _, err = svc.Register(ctx, "alice", "other@x.com", "Secret123", "10.0.0.1")
	assert.Equal(t, "RATE_LIMITED", domainCode(t, err))
}
