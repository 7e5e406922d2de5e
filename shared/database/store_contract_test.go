package database_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"worldvote/shared/database"
	"worldvote/shared/interfaces"
	"worldvote/shared/models"

	"github.com/docker/docker/client"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
)

// runStoreContract проверяет поведение, общее для всех реализаций Store.
func runStoreContract(t *testing.T, store interfaces.Store) {
	ctx := context.Background()

	t.Run("get missing", func(t *testing.T) {
		_, err := store.Get(ctx, "contract:missing")
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("set get del", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, "contract:a", []byte("one"), 0))
		got, err := store.Get(ctx, "contract:a")
		require.NoError(t, err)
		assert.Equal(t, []byte("one"), got)

		require.NoError(t, store.Del(ctx, "contract:a", "contract:never"))
		_, err = store.Get(ctx, "contract:a")
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("setnx", func(t *testing.T) {
		created, err := store.SetNX(ctx, "contract:nx", []byte("first"), time.Minute)
		require.NoError(t, err)
		assert.True(t, created)

		created, err = store.SetNX(ctx, "contract:nx", []byte("second"), time.Minute)
		require.NoError(t, err)
		assert.False(t, created)

		got, err := store.Get(ctx, "contract:nx")
		require.NoError(t, err)
		assert.Equal(t, []byte("first"), got)
	})

	t.Run("incrby", func(t *testing.T) {
		n, err := store.IncrBy(ctx, "contract:counter", 1)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		n, err = store.IncrBy(ctx, "contract:counter", 4)
		require.NoError(t, err)
		assert.Equal(t, int64(5), n)
		n, err = store.IncrBy(ctx, "contract:counter", -5)
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)
	})

	t.Run("expire missing", func(t *testing.T) {
		ok, err := store.Expire(ctx, "contract:ghost", time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("concurrent setnx has one winner", func(t *testing.T) {
		const n = 16
		results := make(chan bool, n)
		for i := 0; i < n; i++ {
			go func(i int) {
				created, err := store.SetNX(ctx, "contract:race", []byte(fmt.Sprint(i)), time.Minute)
				assert.NoError(t, err)
				results <- created
			}(i)
		}
		winners := 0
		for i := 0; i < n; i++ {
			if <-results {
				winners++
			}
		}
		assert.Equal(t, 1, winners)
	})

	t.Run("ping", func(t *testing.T) {
		assert.NoError(t, store.Ping(ctx))
	})
}

func TestMemoryStoreContract(t *testing.T) {
	runStoreContract(t, database.NewMemoryStore())
}

func TestMemoryStoreTTL(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	mem := database.NewMemoryStore().WithClock(func() time.Time { return now })

	require.NoError(t, mem.Set(ctx, "k", []byte("v"), time.Minute))
	now = now.Add(59 * time.Second)
	_, err := mem.Get(ctx, "k")
	require.NoError(t, err)

	now = now.Add(2 * time.Second)
	_, err = mem.Get(ctx, "k")
	assert.ErrorIs(t, err, models.ErrNotFound)

	// истекший ключ можно снова занять через SetNX
	created, err := mem.SetNX(ctx, "k", []byte("again"), 0)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, 1, mem.Len())
}

// RedisStoreSuite runs the contract against a real Redis.
type RedisStoreSuite struct {
	suite.Suite
	ctx       context.Context
	container *tcredis.RedisContainer
	client    *redis.Client
	store     interfaces.Store
}

func (s *RedisStoreSuite) SetupSuite() {
	s.ctx = context.Background()
	var err error

	s.container, err = tcredis.Run(s.ctx,
		"docker.io/redis:7-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("* Ready to accept connections").
				WithOccurrence(1).
				WithStartupTimeout(1*time.Minute),
		),
	)
	require.NoError(s.T(), err, "Failed to start redis container")

	uri, err := s.container.ConnectionString(s.ctx)
	require.NoError(s.T(), err)
	opts, err := redis.ParseURL(uri)
	require.NoError(s.T(), err)

	s.client = redis.NewClient(opts)
	s.store = database.NewRedisStore(s.client, 2*time.Second, zap.NewNop())
}

func (s *RedisStoreSuite) TearDownSuite() {
	if s.client != nil {
		_ = s.client.Close()
	}
	if s.container != nil {
		_ = s.container.Terminate(s.ctx)
	}
}

func (s *RedisStoreSuite) TestContract() {
	runStoreContract(s.T(), s.store)
}

func (s *RedisStoreSuite) TestExpireSetsTTL() {
	require.NoError(s.T(), s.store.Set(s.ctx, "ttl:key", []byte("v"), 0))
	ok, err := s.store.Expire(s.ctx, "ttl:key", time.Hour)
	require.NoError(s.T(), err)
	s.True(ok)

	ttl, err := s.client.TTL(s.ctx, "ttl:key").Result()
	require.NoError(s.T(), err)
	s.InDelta(time.Hour.Seconds(), ttl.Seconds(), 5)
}

func (s *RedisStoreSuite) TestRecordsRoundTripThroughRedis() {
	keys := database.NewKeys("it")
	state := models.WorldState{Version: 3, Attributes: models.WorldAttributes{Stability: 2, Harmony: -1}}
	require.NoError(s.T(), database.SaveRecord(s.ctx, s.store, keys.WorldState(), database.KindWorldState, state, 0))

	var got models.WorldState
	require.NoError(s.T(), database.LoadRecord(s.ctx, s.store, keys.WorldState(), database.KindWorldState, &got))
	s.Equal(state.Version, got.Version)
	s.Equal(state.Attributes, got.Attributes)
}

func (s *RedisStoreSuite) TestClosedClientIsUnavailable() {
	c := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	defer c.Close()
	store := database.NewRedisStore(c, 200*time.Millisecond, zap.NewNop())

	_, err := store.Get(s.ctx, "any")
	s.ErrorIs(err, models.ErrStoreUnavailable)
	s.True(models.IsRetryable(err))
}

func TestRedisStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration tests in short mode")
	}
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		t.Skipf("Docker client init error: %v", err)
	}
	defer cli.Close()
	if _, err := cli.Ping(context.Background()); err != nil {
		t.Skipf("Docker daemon is not accessible: %v", err)
	}

	suite.Run(t, new(RedisStoreSuite))
}
