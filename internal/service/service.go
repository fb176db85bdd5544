// Package service implements chat turns, conversation management and accounts.
package service

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/xiaot623/gogo/chatrelay/internal/adapter/mailer"
	"github.com/xiaot623/gogo/chatrelay/internal/auth"
	"github.com/xiaot623/gogo/chatrelay/internal/config"
	"github.com/xiaot623/gogo/chatrelay/internal/domain"
	"github.com/xiaot623/gogo/chatrelay/internal/policy"
	store "github.com/xiaot623/gogo/chatrelay/internal/repository"
)

type Service struct {
	store        store.Store
	gateway      Gateway
	tokens       *auth.TokenManager
	mailer       mailer.Mailer
	policyEngine *policy.Engine
	config       *config.Config
	logger       *slog.Logger

	now          func() time.Time
	passwordCost int
}

func New(store store.Store, gateway Gateway, tokens *auth.TokenManager, m mailer.Mailer, policyEngine *policy.Engine, cfg *config.Config, logger *slog.Logger) *Service {
	return &Service{
		store:        store,
		gateway:      gateway,
		tokens:       tokens,
		mailer:       m,
		policyEngine: policyEngine,
		config:       cfg,
		logger:       logger,
		now:          time.Now,
		passwordCost: bcrypt.DefaultCost,
	}
}

// Authorize checks action against the access policy. Without a policy
// engine everything is allowed.
func (s *Service) Authorize(ctx context.Context, action string, id domain.Identity) error {
	if s.policyEngine == nil {
		return nil
	}
	d, err := s.policyEngine.Evaluate(ctx, action, id)
	if err != nil {
		s.logger.ErrorContext(ctx, "policy evaluation failed", "action", action, "error", err)
		return &domain.ForbiddenError{Message: domain.MsgForbidden}
	}
	if !d.Allow {
		s.logger.DebugContext(ctx, "policy denied", "action", action, "identity", id.String(), "reason", d.Reason)
		return &domain.ForbiddenError{Message: domain.MsgForbidden}
	}
	return nil
}

// Ping checks the backing store.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// CheckModel confirms the model gateway can serve the configured model.
// Gateways that cannot tell report no error.
func (s *Service) CheckModel(ctx context.Context) error {
	checker, ok := s.gateway.(ModelChecker)
	if !ok {
		return nil
	}
	return checker.CheckModel(ctx)
}
