package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"rolechat/internal/core/domain"
)

// ChannelLog is a bounded per-channel message log. Timeserials use the
// "<unix-ms>-<seq>" form so they sort in append order.
type ChannelLog struct {
	maxPerChannel int

	mu       sync.RWMutex
	channels map[string][]*domain.Message
	lastMs   int64
	seq      int64

	now func() time.Time
}

func NewChannelLog(maxPerChannel int) *ChannelLog {
	if maxPerChannel <= 0 {
		maxPerChannel = 1000
	}
	return &ChannelLog{
		maxPerChannel: maxPerChannel,
		channels:      make(map[string][]*domain.Message),
		now:           time.Now,
	}
}

func (l *ChannelLog) Append(ctx context.Context, msg *domain.Message) (*domain.Message, error) {
	if msg.Channel == "" {
		return nil, fmt.Errorf("%w: channel is required", domain.ErrInvalidMessage)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	ms := l.now().UnixMilli()
	if ms <= l.lastMs {
		ms = l.lastMs
		l.seq++
	} else {
		l.lastMs = ms
		l.seq = 0
	}

	stored := *msg
	stored.Timeserial = fmt.Sprintf("%d-%d", ms, l.seq)
	if stored.Timestamp == 0 {
		stored.Timestamp = ms
	}

	entries := append(l.channels[msg.Channel], &stored)
	if len(entries) > l.maxPerChannel {
		entries = entries[len(entries)-l.maxPerChannel:]
	}
	l.channels[msg.Channel] = entries

	out := stored
	return &out, nil
}

// History returns at most q.Limit of the most recent entries, oldest first
// for forwards and newest first for backwards.
func (l *ChannelLog) History(ctx context.Context, channel string, q domain.HistoryQuery) ([]*domain.Message, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	entries := l.channels[channel]
	if q.Limit > 0 && len(entries) > q.Limit {
		entries = entries[len(entries)-q.Limit:]
	}

	out := make([]*domain.Message, len(entries))
	for i, m := range entries {
		cp := *m
		if q.Direction == domain.HistoryBackwards {
			out[len(entries)-1-i] = &cp
		} else {
			out[i] = &cp
		}
	}
	return out, nil
}

func (l *ChannelLog) FindByID(ctx context.Context, channel, id string) (*domain.Message, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	entries := l.channels[channel]
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].ID == id {
			cp := *entries[i]
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: message %s", domain.ErrResourceNotFound, id)
}
