package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/turtacn/BioAnnotator/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/BioAnnotator/pkg/errors"
)

type CacheTestSuite struct {
	suite.Suite
	mock  redismock.ClientMock
	cache *Cache
}

func (s *CacheTestSuite) SetupTest() {
	db, mock := redismock.NewClientMock()
	s.mock = mock
	s.cache = NewCache(NewClientFromUniversal(db, "test:", nil), logging.NewNopLogger(), WithNamespace("organism"))
}

func (s *CacheTestSuite) TearDownTest() {
	s.NoError(s.mock.ExpectationsWereMet())
}

func TestCacheTestSuite(t *testing.T) {
	suite.Run(t, new(CacheTestSuite))
}

type byOrganism map[string]string

func (s *CacheTestSuite) TestGet_CacheHit() {
	val := byOrganism{"9606": "59272"}
	raw, _ := json.Marshal(val)
	s.mock.ExpectGet("test:organism:ACE2").SetVal(string(raw))

	var dest byOrganism
	s.Require().NoError(s.cache.Get(context.Background(), "ACE2", &dest))
	s.Equal(val, dest)
}

func (s *CacheTestSuite) TestGet_CacheMiss() {
	s.mock.ExpectGet("test:organism:ACE2").RedisNil()

	var dest byOrganism
	s.Equal(ErrCacheMiss, s.cache.Get(context.Background(), "ACE2", &dest))
}

func (s *CacheTestSuite) TestGet_NullMarkerIsMiss() {
	s.mock.ExpectGet("test:organism:ACE2").SetVal(nullMarker)

	var dest byOrganism
	s.Equal(ErrCacheMiss, s.cache.Get(context.Background(), "ACE2", &dest))
}

func (s *CacheTestSuite) TestGet_BackendError() {
	s.mock.ExpectGet("test:organism:ACE2").SetErr(fmt.Errorf("connection reset"))

	var dest byOrganism
	err := s.cache.Get(context.Background(), "ACE2", &dest)
	s.True(errors.IsCode(err, errors.ErrCodeCacheError))
}

func (s *CacheTestSuite) TestGet_CorruptValue() {
	s.mock.ExpectGet("test:organism:ACE2").SetVal("{not json")

	var dest byOrganism
	err := s.cache.Get(context.Background(), "ACE2", &dest)
	s.True(errors.IsCode(err, errors.ErrCodeSerialization))
}

func (s *CacheTestSuite) TestDelete() {
	s.mock.ExpectDel("test:organism:a", "test:organism:b").SetVal(2)
	s.NoError(s.cache.Delete(context.Background(), "a", "b"))
	s.NoError(s.cache.Delete(context.Background()))
}

// The remaining tests need real TTL and SCAN semantics.

func newMiniCache(t *testing.T) (*miniredis.Miniredis, *Cache) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, NewCache(NewClientFromUniversal(rdb, "bioannot:", nil), nil,
		WithNamespace("exclusions"), WithDefaultTTL(time.Minute), WithNullCacheTTL(5*time.Second))
}

func TestCache_SetAppliesJitteredTTL(t *testing.T) {
	mr, cache := newMiniCache(t)
	require.NoError(t, cache.Set(context.Background(), "global", []string{"ACE2"}, 0))

	ttl := mr.TTL("bioannot:exclusions:global")
	assert.InDelta(t, float64(time.Minute), float64(ttl), float64(6*time.Second))
}

func TestCache_GetOrSet_LoadsOnce(t *testing.T) {
	_, cache := newMiniCache(t)
	var calls int32
	loader := func(context.Context) (interface{}, error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(20 * time.Millisecond)
		return []string{"ACE2", "TP53"}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var got []string
			assert.NoError(t, cache.GetOrSet(context.Background(), "global", &got, 0, loader))
			assert.Equal(t, []string{"ACE2", "TP53"}, got)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, atomic.LoadInt32(&calls), int32(2))

	var got []string
	require.NoError(t, cache.GetOrSet(context.Background(), "global", &got, 0, func(context.Context) (interface{}, error) {
		t.Fatal("loader must not run on a hit")
		return nil, nil
	}))
}

func TestCache_GetOrSet_NilIsNegativelyCached(t *testing.T) {
	mr, cache := newMiniCache(t)
	var got []string
	err := cache.GetOrSet(context.Background(), "doc-1", &got, 0, func(context.Context) (interface{}, error) {
		return nil, nil
	})
	assert.Equal(t, ErrCacheMiss, err)
	v, _ := mr.Get("bioannot:exclusions:doc-1")
	assert.Equal(t, nullMarker, v)
}

func TestCache_GetOrSet_LoaderError(t *testing.T) {
	_, cache := newMiniCache(t)
	boom := fmt.Errorf("postgres down")
	var got []string
	err := cache.GetOrSet(context.Background(), "doc-1", &got, 0, func(context.Context) (interface{}, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestCache_DeleteByPrefix(t *testing.T) {
	mr, cache := newMiniCache(t)
	ctx := context.Background()
	for _, k := range []string{"doc-1", "doc-2", "global"} {
		require.NoError(t, cache.Set(ctx, k, true, 0))
	}
	mr.Set("bioannot:organism:doc-9", "x")

	n, err := cache.DeleteByPrefix(ctx, "doc-")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.True(t, mr.Exists("bioannot:exclusions:global"))
	assert.True(t, mr.Exists("bioannot:organism:doc-9"))
}
