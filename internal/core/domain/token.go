package domain

import "time"

// RealtimeGrant is the typed view of a verified realtime credential.
type RealtimeGrant struct {
	ClientID   string
	KeyID      string
	Capability Capability
	Claim      RoleClaim
	IssuedAt   time.Time
	ExpiresAt  time.Time
}

func (g *RealtimeGrant) Expired(now time.Time) bool {
	return !now.Before(g.ExpiresAt)
}
