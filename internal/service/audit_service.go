package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/auth-backend/internal/config"
	"github.com/spec-kit/auth-backend/internal/events"
)

// AuditService records auth events as structured log entries. Payloads never
// include credentials.
type AuditService struct {
	dispatcher events.Dispatcher
	logger     *zap.Logger
	cfg        config.AuditConfig
}

// NewAuditService creates the service.
func NewAuditService(dispatcher events.Dispatcher, logger *zap.Logger, cfg config.AuditConfig) *AuditService {
	return &AuditService{
		dispatcher: dispatcher,
		logger:     logger,
		cfg:        cfg,
	}
}

// RegisterHandlers subscribes to auth events.
func (a *AuditService) RegisterHandlers() {
	if a.dispatcher == nil || !a.cfg.Enabled {
		return
	}
	a.dispatcher.Subscribe(events.EventUserRegistered, a.handleUserRegistered)
	a.dispatcher.Subscribe(events.EventLoginSucceeded, a.handleLoginSucceeded)
	a.dispatcher.Subscribe(events.EventLoginFailed, a.handleLoginFailed)
}

func (a *AuditService) handleUserRegistered(_ context.Context, event events.Event) error {
	a.logger.Info("UserRegistered",
		zap.String("event_id", event.ID),
		zap.String("username", event.Username),
		zap.Any("payload", event.Payload))
	return nil
}

func (a *AuditService) handleLoginSucceeded(_ context.Context, event events.Event) error {
	a.logger.Info("LoginSucceeded",
		zap.String("event_id", event.ID),
		zap.String("username", event.Username))
	return nil
}

func (a *AuditService) handleLoginFailed(_ context.Context, event events.Event) error {
	a.logger.Warn("LoginFailed",
		zap.String("event_id", event.ID),
		zap.String("username", event.Username),
		zap.Any("payload", event.Payload))
	return nil
}
