package database

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remnashop-bot/internal/config"
)

func TestConnectRedis(t *testing.T) {
	mr := miniredis.RunT(t)

	rdb, err := ConnectRedis(&config.Config{
		RedisHost: mr.Host(),
		RedisPort: mr.Port(),
		DBTimeout: time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })

	require.NoError(t, rdb.Set(t.Context(), "k", "v", 0).Err())
	got, err := mr.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)
}

func TestConnectRedisFailsWhenUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	host, port := mr.Host(), mr.Port()
	mr.Close()

	_, err := ConnectRedis(&config.Config{
		RedisHost: host,
		RedisPort: port,
		DBTimeout: time.Second,
	})
	assert.ErrorContains(t, err, "failed to connect to redis at "+host+":"+port)
}
