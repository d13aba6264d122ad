package service

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/auth-backend/internal/auth"
	"github.com/spec-kit/auth-backend/internal/config"
	"github.com/spec-kit/auth-backend/internal/domain"
	"github.com/spec-kit/auth-backend/internal/events"
	"github.com/spec-kit/auth-backend/internal/ratelimit"
	"github.com/spec-kit/auth-backend/internal/repository"
	apperrors "github.com/spec-kit/auth-backend/pkg/util"
)

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// AuthService coordinates registration, login, and identity lookup.
type AuthService struct {
	users      repository.UserRepository
	tokenMgr   *auth.TokenManager
	limiter    *ratelimit.AttemptLimiter
	dispatcher events.Dispatcher
	bcryptCost int
}

// AuthDependencies encapsulates collaborator requirements for auth service.
type AuthDependencies struct {
	UserRepo   repository.UserRepository
	Limiter    *ratelimit.AttemptLimiter
	Dispatcher events.Dispatcher
}

// NewAuthService builds the service.
func NewAuthService(cfg config.Config, deps AuthDependencies) *AuthService {
	return &AuthService{
		users:      deps.UserRepo,
		tokenMgr:   auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes),
		limiter:    deps.Limiter,
		dispatcher: deps.Dispatcher,
		bcryptCost: cfg.Auth.BcryptCost,
	}
}

// Register creates a new account. Uniqueness pre-checks fail fast before
// hashing; the storage constraint remains authoritative, so a concurrent
// duplicate insert still surfaces as the matching duplicate error.
func (s *AuthService) Register(ctx context.Context, username, email, password, clientIP string) (*domain.User, string, time.Time, error) {
	if username == "" || email == "" || password == "" {
		return nil, "", time.Time{}, apperrors.NewValidationError("username, email, password required", nil)
	}
	if !emailPattern.MatchString(email) {
		return nil, "", time.Time{}, apperrors.NewValidationError("email is not valid", nil)
	}

	if err := s.limiter.Enforce(ctx, "register", username, clientIP); err != nil {
		return nil, "", time.Time{}, apperrors.NewRateLimited()
	}

	if taken, err := s.users.ExistsByUsername(ctx, username); err != nil {
		return nil, "", time.Time{}, err
	} else if taken {
		return nil, "", time.Time{}, apperrors.NewDuplicateUsername()
	}
	if taken, err := s.users.ExistsByEmail(ctx, email); err != nil {
		return nil, "", time.Time{}, err
	} else if taken {
		return nil, "", time.Time{}, apperrors.NewDuplicateEmail()
	}

	hash, err := auth.HashPassword(password, s.bcryptCost)
	if err != nil {
		return nil, "", time.Time{}, err
	}

	user := &domain.User{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Role:         domain.RoleUser,
	}
	if err := s.users.Create(ctx, user); err != nil {
		switch {
		case errors.Is(err, repository.ErrDuplicateUsername):
			return nil, "", time.Time{}, apperrors.NewDuplicateUsername()
		case errors.Is(err, repository.ErrDuplicateEmail):
			return nil, "", time.Time{}, apperrors.NewDuplicateEmail()
		}
		return nil, "", time.Time{}, err
	}

	token, exp, err := s.tokenMgr.GenerateToken(user)
	if err != nil {
		return nil, "", time.Time{}, err
	}

	s.publish(ctx, events.EventUserRegistered, username, events.UserRegisteredPayload{
		UserID: user.ID,
		Email:  user.Email,
	})
	return user, token, exp, nil
}

// Login authenticates a user by username and password. Unknown usernames and
// wrong passwords are indistinguishable to the caller.
func (s *AuthService) Login(ctx context.Context, username, password, clientIP string) (*domain.User, string, time.Time, error) {
	if username == "" || password == "" {
		return nil, "", time.Time{}, apperrors.NewValidationError("username and password required", nil)
	}

	if err := s.limiter.Enforce(ctx, "login", username, clientIP); err != nil {
		return nil, "", time.Time{}, apperrors.NewRateLimited()
	}

	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.publish(ctx, events.EventLoginFailed, username, events.LoginFailedPayload{Reason: "unknown username"})
			return nil, "", time.Time{}, apperrors.NewInvalidCredentials()
		}
		return nil, "", time.Time{}, err
	}
	if err := auth.ComparePassword(user.PasswordHash, password); err != nil {
		s.publish(ctx, events.EventLoginFailed, username, events.LoginFailedPayload{Reason: "wrong password"})
		return nil, "", time.Time{}, apperrors.NewInvalidCredentials()
	}

	token, exp, err := s.tokenMgr.GenerateToken(user)
	if err != nil {
		return nil, "", time.Time{}, err
	}

	s.publish(ctx, events.EventLoginSucceeded, username, events.LoginSucceededPayload{UserID: user.ID})
	return user, token, exp, nil
}

// GetUserByUsername resolves the identity behind an established session.
func (s *AuthService) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewNotFound("user")
		}
		return nil, err
	}
	return user, nil
}

// TokenManager exposes the underlying token manager for middleware usage.
func (s *AuthService) TokenManager() *auth.TokenManager {
	return s.tokenMgr
}

func (s *AuthService) publish(ctx context.Context, eventType events.EventType, username string, payload interface{}) {
	if s.dispatcher == nil {
		return
	}
	_ = s.dispatcher.Publish(ctx, events.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Username:  username,
		Timestamp: time.Now(),
		Payload:   payload,
	})
}
