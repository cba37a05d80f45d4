package ports

import (
	"context"

	"rolechat/internal/core/domain"
)

// TokenMinter signs and verifies realtime credentials.
type TokenMinter interface {
	Mint(clientID string, claim domain.RoleClaim, capability domain.Capability) (string, error)
	Verify(token string) (*domain.RealtimeGrant, error)
}

// IdentityProvider resolves the ambient session of a request.
type IdentityProvider interface {
	Authenticate(ctx context.Context, token string) (*domain.Identity, error)
}

// MessageBus fans channel messages out across gateway instances.
type MessageBus interface {
	Publish(ctx context.Context, msg *domain.Message) error
	Subscribe(ctx context.Context, handler func(*domain.Message) error) error
	Close() error
}

// MetricsRecorder receives domain metrics. Implementations must be safe for
// concurrent use.
type MetricsRecorder interface {
	RecordTokenIssued(isMod bool)
	RecordTokenRefused(reason string)
	RecordRoleStep(workflow, step string, ok bool)
	RecordRealtimeConnection(delta int)
	RecordRealtimeMessage(name string)
}
