package services

import (
	"context"
	"fmt"

	"rolechat/internal/core/domain"
	"rolechat/internal/core/ports"
	"rolechat/pkg/tracing"

	"go.uber.org/zap"
)

// ChannelAuthService issues realtime credentials scoped to the caller's
// current roles. Nothing is cached between calls.
type ChannelAuthService struct {
	roles   ports.RoleStore
	minter  ports.TokenMinter
	metrics ports.MetricsRecorder
	logger  *zap.SugaredLogger
}

func NewChannelAuthService(roles ports.RoleStore, minter ports.TokenMinter, metrics ports.MetricsRecorder, logger *zap.SugaredLogger) *ChannelAuthService {
	return &ChannelAuthService{
		roles:   roles,
		minter:  minter,
		metrics: metricsOrNop(metrics),
		logger:  logger,
	}
}

// IssueToken returns a signed credential for identity, or an empty string
// when there is no authenticated caller.
func (s *ChannelAuthService) IssueToken(ctx context.Context, identity *domain.Identity) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "realtime.issue_token")
	defer span.End()

	if identity == nil || identity.Key == "" {
		s.metrics.RecordTokenRefused("anonymous")
		return "", nil
	}
	tracing.AddSpanAttributes(ctx, tracing.ClientIDKey.String(identity.Key))

	assignments, err := s.roles.GetAssignedRoles(ctx, identity.Key)
	if err != nil {
		s.metrics.RecordTokenRefused("roles")
		tracing.RecordError(ctx, err)
		s.logger.Warnw("Failed to fetch roles for token", "user", identity.Key, "error", err)
		return "", fmt.Errorf("%w: fetch roles: %v", domain.ErrUpstream, err)
	}

	capability, claim := ResolveCapability(assignments)
	token, err := s.minter.Mint(identity.Key, claim, capability)
	if err != nil {
		s.metrics.RecordTokenRefused("mint")
		tracing.RecordError(ctx, err)
		return "", fmt.Errorf("mint token: %w", err)
	}

	s.metrics.RecordTokenIssued(claim.IsMod)
	s.logger.Debugw("Realtime token issued",
		"user", identity.Key,
		"is_mod", claim.IsMod,
		"channels", len(capability),
	)
	return token, nil
}
