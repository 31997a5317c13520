package session

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remnashop-bot/internal/pricing"
)

func TestStore(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	s := NewStore(rdb, time.Hour)
	ctx := t.Context()

	st, err := s.Get(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, pricing.DefaultSelection(), st.Selection)

	st.Selection.Duration = "12"
	st.LastOrderID = "order-1"
	require.NoError(t, s.Save(ctx, 10, st))
	assert.Equal(t, time.Hour, mr.TTL("session:10"))

	got, err := s.Get(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, st, got)

	other, err := s.Get(ctx, 11)
	require.NoError(t, err)
	assert.Equal(t, "1", other.Selection.Duration, "chats do not share state")

	mr.FastForward(2 * time.Hour)
	expired, err := s.Get(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, expired.LastOrderID)

	require.NoError(t, s.Save(ctx, 10, st))
	require.NoError(t, s.Clear(ctx, 10))
	assert.False(t, mr.Exists("session:10"))
}
