package memory

import (
	"context"
	"sort"
	"sync"
)

// Presence is an in-process presence registry.
type Presence struct {
	mu       sync.RWMutex
	channels map[string]map[string]string // channel -> connection -> client
}

func NewPresence() *Presence {
	return &Presence{channels: make(map[string]map[string]string)}
}

func (p *Presence) Enter(ctx context.Context, channel, clientID, connectionID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	conns, ok := p.channels[channel]
	if !ok {
		conns = make(map[string]string)
		p.channels[channel] = conns
	}
	conns[connectionID] = clientID
	return nil
}

func (p *Presence) Leave(ctx context.Context, channel, connectionID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	conns := p.channels[channel]
	delete(conns, connectionID)
	if len(conns) == 0 {
		delete(p.channels, channel)
	}
	return nil
}

// Members returns the distinct client ids present on channel, sorted.
func (p *Presence) Members(ctx context.Context, channel string) ([]string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	seen := make(map[string]bool)
	members := make([]string, 0, len(p.channels[channel]))
	for _, client := range p.channels[channel] {
		if !seen[client] {
			seen[client] = true
			members = append(members, client)
		}
	}
	sort.Strings(members)
	return members, nil
}
