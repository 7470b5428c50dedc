package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]Cache {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return map[string]Cache{
		"memory": NewMemory(),
		"redis":  NewRedisWithClient(client, "test:"),
	}
}

func TestPutIsIdempotent(t *testing.T) {
	for name, c := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
			rec, err := Encode("biz-1", KindDetails, map[string]string{"phone": "555"}, at)
			require.NoError(t, err)

			require.NoError(t, c.Put(ctx, rec))
			first, ok, err := c.Get(ctx, "biz-1", KindDetails)
			require.NoError(t, err)
			require.True(t, ok)

			require.NoError(t, c.Put(ctx, rec))
			second, ok, err := c.Get(ctx, "biz-1", KindDetails)
			require.NoError(t, err)
			require.True(t, ok)

			assert.JSONEq(t, string(first.Payload), string(second.Payload))
			assert.True(t, first.FetchedAt.Equal(second.FetchedAt))

			known, err := c.ListKnown(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"biz-1"}, known)
		})
	}
}

func TestAbsentVersusEmpty(t *testing.T) {
	for name, c := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, ok, err := c.Get(ctx, "ghost", KindCore)
			require.NoError(t, err)
			assert.False(t, ok, "never fetched")

			empty, err := Encode("ghost", KindSentiment, nil, time.Now())
			require.NoError(t, err)
			require.NoError(t, c.Put(ctx, empty))

			rec, ok, err := c.Get(ctx, "ghost", KindSentiment)
			require.NoError(t, err)
			assert.True(t, ok, "fetched")
			assert.True(t, rec.Empty(), "nothing found")

			_, ok, err = c.Get(ctx, "ghost", KindCore)
			require.NoError(t, err)
			assert.False(t, ok, "kinds are independent")
		})
	}
}

func TestKindsStoredSeparately(t *testing.T) {
	for name, c := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, kind := range []Kind{KindCore, KindDetails, KindSentiment} {
				rec, err := Encode("biz", kind, map[string]string{"kind": string(kind)}, time.Now())
				require.NoError(t, err)
				require.NoError(t, c.Put(ctx, rec))
			}
			for _, kind := range []Kind{KindCore, KindDetails, KindSentiment} {
				rec, ok, err := c.Get(ctx, "biz", kind)
				require.NoError(t, err)
				require.True(t, ok)
				var out map[string]string
				found, err := Decode(rec, &out)
				require.NoError(t, err)
				require.True(t, found)
				assert.Equal(t, string(kind), out["kind"])
			}
		})
	}
}

func TestConcurrentWriters(t *testing.T) {
	for name, c := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					rec, _ := Encode(fmt.Sprintf("biz-%d", i%5), KindCore, map[string]int{"n": i}, time.Now())
					assert.NoError(t, c.Put(ctx, rec))
				}(i)
			}
			wg.Wait()

			known, err := c.ListKnown(ctx)
			require.NoError(t, err)
			assert.Len(t, known, 5)
		})
	}
}

func TestPutRejectsInvalidRecord(t *testing.T) {
	for name, c := range backends(t) {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, c.Put(context.Background(), Record{Kind: KindCore}))
			assert.Error(t, c.Put(context.Background(), Record{BusinessID: "x", Kind: "bogus"}))
		})
	}
}

func TestFreshnessPolicies(t *testing.T) {
	now := time.Now()
	old := Record{FetchedAt: now.Add(-2 * time.Hour)}

	assert.True(t, AlwaysFresh{}.Fresh(old, now))
	assert.False(t, MaxAge(time.Hour).Fresh(old, now))
	assert.True(t, MaxAge(3*time.Hour).Fresh(old, now))
	assert.True(t, MaxAge(0).Fresh(old, now))
}
