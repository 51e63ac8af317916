package ratelimit

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeWindowStore implements the handful of commands the limiter issues
// over an in-memory counter map. The embedded interface panics on anything
// unexpected, which is exactly what a test wants.
type fakeWindowStore struct {
	redis.Cmdable
	counts  map[string]int64
	ttls    map[string]time.Duration
	expires map[string]time.Duration
}

func newFakeWindowStore() *fakeWindowStore {
	return &fakeWindowStore{
		counts:  map[string]int64{},
		ttls:    map[string]time.Duration{},
		expires: map[string]time.Duration{},
	}
}

func (s *fakeWindowStore) Get(ctx context.Context, key string) *redis.StringCmd {
	cmd := redis.NewStringCmd(ctx)
	count, ok := s.counts[key]
	if !ok {
		cmd.SetErr(redis.Nil)
		return cmd
	}
	cmd.SetVal(strconv.FormatInt(count, 10))
	return cmd
}

func (s *fakeWindowStore) TTL(ctx context.Context, key string) *redis.DurationCmd {
	cmd := redis.NewDurationCmd(ctx, time.Second)
	cmd.SetVal(s.ttls[key])
	return cmd
}

func (s *fakeWindowStore) TxPipelined(ctx context.Context, fn func(redis.Pipeliner) error) ([]redis.Cmder, error) {
	p := &fakePipeliner{expires: map[string]time.Duration{}}
	if err := fn(p); err != nil {
		return nil, err
	}
	for _, key := range p.incremented {
		s.counts[key]++
	}
	for key, ttl := range p.expires {
		s.expires[key] = ttl
	}
	return nil, nil
}

type fakePipeliner struct {
	redis.Pipeliner
	incremented []string
	expires     map[string]time.Duration
}

func (p *fakePipeliner) Incr(ctx context.Context, key string) *redis.IntCmd {
	p.incremented = append(p.incremented, key)
	return redis.NewIntCmd(ctx)
}

func (p *fakePipeliner) Expire(ctx context.Context, key string, ttl time.Duration) *redis.BoolCmd {
	p.expires[key] = ttl
	return redis.NewBoolCmd(ctx)
}

func TestTrustedSourcesRequiresBothLists(t *testing.T) {
	teamID := uuid.New()
	otherTeam := uuid.New()
	key := "ABCDE-ABCDE-ABCDE-ABCDE-ABCDE"

	trusted := NewTrustedSources([]string{key}, []string{teamID.String()})

	assert.True(t, trusted.IsTrusted(key, teamID))
	assert.False(t, trusted.IsTrusted(key, otherTeam))
	assert.False(t, trusted.IsTrusted("ZZZZZ-ZZZZZ-ZZZZZ-ZZZZZ-ZZZZZ", teamID))

	empty := NewTrustedSources(nil, nil)
	assert.False(t, empty.IsTrusted(key, teamID))
}

func TestLimiterFixedWindow(t *testing.T) {
	store := newFakeWindowStore()
	limiter := NewLimiter(store, false, testLogger())
	ctx := context.Background()
	key := "ratelimit:verify:team:frag"

	// Pre-increment compare: with max 2, the first two requests pass and
	// the third trips.
	assert.False(t, limiter.Limited(ctx, key, 2, time.Minute))
	assert.Equal(t, int64(1), store.counts[key])
	assert.Equal(t, time.Minute, store.expires[key])

	store.ttls[key] = 40 * time.Second
	assert.False(t, limiter.Limited(ctx, key, 2, time.Minute))
	assert.True(t, limiter.Limited(ctx, key, 2, time.Minute))

	// Tripped requests are still counted.
	assert.Equal(t, int64(3), store.counts[key])
}

func TestLimiterReusesRemainingWindow(t *testing.T) {
	store := newFakeWindowStore()
	store.counts["k"] = 1
	store.ttls["k"] = 10 * time.Second

	limiter := NewLimiter(store, false, testLogger())
	limiter.Limited(context.Background(), "k", 5, time.Minute)

	// The live counter keeps its remaining window; callers cannot extend
	// their own window by re-requesting.
	assert.Equal(t, 10*time.Second, store.expires["k"])
}

func TestLimiterSingleRequestWindow(t *testing.T) {
	store := newFakeWindowStore()
	limiter := NewLimiter(store, false, testLogger())
	ctx := context.Background()

	// A max of one admits exactly one request per window.
	assert.False(t, limiter.Limited(ctx, "session", 1, 15*time.Minute))
	store.ttls["session"] = 14 * time.Minute
	assert.True(t, limiter.Limited(ctx, "session", 1, 15*time.Minute))
}

func TestLimiterDevelopmentModeAllows(t *testing.T) {
	store := newFakeWindowStore()
	store.counts["k"] = 5
	store.ttls["k"] = time.Minute

	limiter := NewLimiter(store, true, testLogger())
	assert.False(t, limiter.Limited(context.Background(), "k", 1, time.Minute))
}

func TestLimiterFailsOpenWhenStoreUnreachable(t *testing.T) {
	// Nothing listens here; every command errors and the limiter must
	// allow the request rather than reject it.
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	limiter := NewLimiter(client, false, testLogger())
	assert.False(t, limiter.Limited(context.Background(), "ratelimit:verify:x", 1, time.Minute))
}
