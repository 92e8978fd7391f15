package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/BioAnnotator/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/BioAnnotator/pkg/errors"
)

func newMiniClient(t *testing.T) (*miniredis.Miniredis, *Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := NewClient(Config{Mode: "standalone", Addr: mr.Addr(), KeyPrefix: "bioannot:"}, logging.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestNewClient_Standalone_Success(t *testing.T) {
	_, client := newMiniClient(t)
	assert.NoError(t, client.Ping(context.Background()))
	assert.Equal(t, "bioannot:organism:ACE2", client.Key("organism", "ACE2"))
}

func TestNewClient_Standalone_ConnectionFailed(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	client, err := NewClient(Config{Addr: addr}, logging.NewNopLogger())
	assert.Nil(t, client)
	assert.True(t, errors.IsCode(err, errors.ErrCodeCacheError))
}

func TestClient_Operations(t *testing.T) {
	mr, client := newMiniClient(t)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, "k", "v", 0).Err())
	val, err := client.Get(ctx, "k").Result()
	require.NoError(t, err)
	assert.Equal(t, "v", val)

	ok, err := client.SetNX(ctx, "k", "w", 0).Result()
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := client.Del(ctx, "k").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.False(t, mr.Exists("k"))
}

func TestClient_Close(t *testing.T) {
	_, client := newMiniClient(t)

	assert.NoError(t, client.Close())
	assert.NoError(t, client.Close(), "second close is a no-op")

	assert.Equal(t, ErrClientClosed, client.Get(context.Background(), "k").Err())
	assert.Equal(t, ErrClientClosed, client.Ping(context.Background()))
}
