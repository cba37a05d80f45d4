package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"rolechat/internal/core/domain"
	"rolechat/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

const messageField = "msg"

// ChannelLog stores channel messages in Redis Streams, one stream per
// channel. The stream entry id is the message timeserial.
type ChannelLog struct {
	client        *redis.Client
	prefix        string
	maxPerChannel int64
	now           func() time.Time
}

var _ ports.ChannelLog = (*ChannelLog)(nil)

func NewChannelLog(client *redis.Client, maxPerChannel int) *ChannelLog {
	if maxPerChannel <= 0 {
		maxPerChannel = 1000
	}
	return &ChannelLog{
		client:        client,
		prefix:        "rolechat:channel:",
		maxPerChannel: int64(maxPerChannel),
		now:           time.Now,
	}
}

func (l *ChannelLog) streamKey(channel string) string {
	return l.prefix + channel
}

func (l *ChannelLog) Append(ctx context.Context, msg *domain.Message) (*domain.Message, error) {
	if msg.Channel == "" {
		return nil, fmt.Errorf("%w: channel is required", domain.ErrInvalidMessage)
	}

	stored := *msg
	stored.Timeserial = ""
	if stored.Timestamp == 0 {
		stored.Timestamp = l.now().UnixMilli()
	}
	data, err := json.Marshal(&stored)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}

	id, err := l.client.XAdd(ctx, &redis.XAddArgs{
		Stream: l.streamKey(msg.Channel),
		MaxLen: l.maxPerChannel,
		Approx: true,
		Values: map[string]interface{}{messageField: data},
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to append message: %w", err)
	}

	stored.Timeserial = id
	return &stored, nil
}

// History returns at most q.Limit of the most recent entries, oldest first
// for forwards and newest first for backwards.
func (l *ChannelLog) History(ctx context.Context, channel string, q domain.HistoryQuery) ([]*domain.Message, error) {
	limit := int64(q.Limit)
	if limit <= 0 {
		limit = l.maxPerChannel
	}

	entries, err := l.client.XRevRangeN(ctx, l.streamKey(channel), "+", "-", limit).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}

	out := make([]*domain.Message, 0, len(entries))
	for _, e := range entries {
		msg, err := decodeEntry(e)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}

	if q.Direction != domain.HistoryBackwards {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out, nil
}

func (l *ChannelLog) FindByID(ctx context.Context, channel, id string) (*domain.Message, error) {
	entries, err := l.client.XRevRangeN(ctx, l.streamKey(channel), "+", "-", l.maxPerChannel).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to scan channel: %w", err)
	}

	for _, e := range entries {
		msg, err := decodeEntry(e)
		if err != nil {
			return nil, err
		}
		if msg.ID == id {
			return msg, nil
		}
	}
	return nil, fmt.Errorf("%w: message %s", domain.ErrResourceNotFound, id)
}

func decodeEntry(e redis.XMessage) (*domain.Message, error) {
	raw, ok := e.Values[messageField].(string)
	if !ok {
		return nil, fmt.Errorf("stream entry %s has no message", e.ID)
	}
	var msg domain.Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message %s: %w", e.ID, err)
	}
	msg.Timeserial = e.ID
	return &msg, nil
}
