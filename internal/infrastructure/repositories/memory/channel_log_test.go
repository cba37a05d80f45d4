package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"rolechat/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelLog_TimeserialsAreMonotonic(t *testing.T) {
	ctx := context.Background()
	log := NewChannelLog(10)
	fixed := time.UnixMilli(1700000000000)
	log.now = func() time.Time { return fixed }

	a, err := log.Append(ctx, &domain.Message{ID: "a", Channel: "chat:general", Name: domain.MessageAdd})
	require.NoError(t, err)
	b, err := log.Append(ctx, &domain.Message{ID: "b", Channel: "chat:general", Name: domain.MessageAdd})
	require.NoError(t, err)

	assert.Equal(t, "1700000000000-0", a.Timeserial)
	assert.Equal(t, "1700000000000-1", b.Timeserial)
	assert.Equal(t, int64(1700000000000), a.Timestamp)
}

func TestChannelLog_HistoryDirectionAndLimit(t *testing.T) {
	ctx := context.Background()
	log := NewChannelLog(3)

	for i := 0; i < 5; i++ {
		_, err := log.Append(ctx, &domain.Message{ID: fmt.Sprint(i), Channel: "chat:general", Name: domain.MessageAdd})
		require.NoError(t, err)
	}

	ids := func(msgs []*domain.Message) []string {
		out := make([]string, len(msgs))
		for i, m := range msgs {
			out[i] = m.ID
		}
		return out
	}

	forwards, err := log.History(ctx, "chat:general", domain.HistoryQuery{Limit: 100, Direction: domain.HistoryForwards})
	require.NoError(t, err)
	assert.Equal(t, []string{"2", "3", "4"}, ids(forwards))

	backwards, err := log.History(ctx, "chat:general", domain.HistoryQuery{Limit: 2, Direction: domain.HistoryBackwards})
	require.NoError(t, err)
	assert.Equal(t, []string{"4", "3"}, ids(backwards))

	empty, err := log.History(ctx, "chat:random", domain.HistoryQuery{Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestChannelLog_FindByID(t *testing.T) {
	ctx := context.Background()
	log := NewChannelLog(10)

	stored, err := log.Append(ctx, &domain.Message{ID: "m1", Channel: "chat:general", ClientID: "alice"})
	require.NoError(t, err)

	found, err := log.FindByID(ctx, "chat:general", "m1")
	require.NoError(t, err)
	assert.Equal(t, stored.Timeserial, found.Timeserial)

	_, err = log.FindByID(ctx, "chat:general", "missing")
	assert.ErrorIs(t, err, domain.ErrResourceNotFound)

	_, err = log.Append(ctx, &domain.Message{ID: "x"})
	assert.ErrorIs(t, err, domain.ErrInvalidMessage)
}
