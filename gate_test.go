package imagegate_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ineyio/imagegate"
	"github.com/ineyio/imagegate/provider/mock"
)

// testConfig disables interval throttling so tests can issue requests
// back to back; individual tests override what they exercise.
func testConfig() imagegate.Config {
	cfg := imagegate.DefaultConfig()
	cfg.MinInterval = time.Nanosecond
	cfg.DailyCapFree = 100
	return cfg
}

func newTestGateway(t *testing.T, cfg imagegate.Config, p imagegate.Provider, opts ...imagegate.Option) *imagegate.Gateway {
	t.Helper()
	g, err := imagegate.New(cfg, p, opts...)
	require.NoError(t, err)
	return g
}

// Test 1: fresh prompt goes upstream once and settles the expected counters
func TestGenerate_FreshPrompt(t *testing.T) {
	prov := mock.New()
	g := newTestGateway(t, testConfig(), prov)

	res, err := g.Generate(context.Background(), imagegate.GenerateRequest{
		ClientKey: "client-1",
		Prompt:    "sunset over mountains",
	})
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.False(t, res.Deduped)
	assert.False(t, res.Edited)
	assert.NotEmpty(t, res.Image)
	assert.EqualValues(t, 1, prov.GenerateCalls())

	snap := g.Metrics().Snapshot()
	assert.EqualValues(t, 1, snap.TotalRequests)
	assert.EqualValues(t, 1, snap.TotalSuccess)
	assert.EqualValues(t, 1, snap.CacheMisses)
	assert.EqualValues(t, 0, snap.CacheHits)
}

// Test 2: repeat within the TTL is served from cache with no upstream call
func TestGenerate_CacheHit(t *testing.T) {
	prov := mock.New()
	g := newTestGateway(t, testConfig(), prov)

	_, err := g.Generate(context.Background(), imagegate.GenerateRequest{
		ClientKey: "client-1",
		Prompt:    "sunset over mountains",
	})
	require.NoError(t, err)

	res, err := g.Generate(context.Background(), imagegate.GenerateRequest{
		ClientKey: "client-2",
		Prompt:    "sunset over mountains",
	})
	require.NoError(t, err)
	assert.True(t, res.Cached)
	assert.EqualValues(t, 1, prov.GenerateCalls())
	assert.EqualValues(t, 1, g.Metrics().Snapshot().CacheHits)
}

// Test 3: concurrent identical prompts trigger exactly one upstream call
func TestGenerate_DedupsConcurrentIdenticalPrompts(t *testing.T) {
	release := make(chan struct{})
	prov := mock.New(mock.WithBlock(release))
	g := newTestGateway(t, testConfig(), prov)

	var wg sync.WaitGroup
	results := make([]imagegate.GenerateResult, 2)
	errs := make([]error, 2)
	for i, client := range []string{"client-1", "client-2"} {
		wg.Add(1)
		go func(idx int, key string) {
			defer wg.Done()
			results[idx], errs[idx] = g.Generate(context.Background(), imagegate.GenerateRequest{
				ClientKey: key,
				Prompt:    "a fox in the snow",
			})
		}(i, client)
	}

	// Both requests have passed the cache before either can reach the
	// provider; give the follower a beat to join the flight.
	require.Eventually(t, func() bool {
		return g.Metrics().Snapshot().CacheMisses == 2
	}, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.EqualValues(t, 1, prov.GenerateCalls())

	deduped := 0
	for _, res := range results {
		if res.Deduped {
			deduped++
		}
	}
	assert.Equal(t, 1, deduped)
	assert.EqualValues(t, 1, g.Metrics().Snapshot().DedupedHits)
}

// Test 4: followers of a failed flight receive the producer's error
func TestGenerate_FollowersShareProducerError(t *testing.T) {
	boom := errors.New("upstream exploded")
	release := make(chan struct{})
	prov := mock.New(mock.WithBlock(release), mock.WithError(boom))
	g := newTestGateway(t, testConfig(), prov)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, client := range []string{"client-1", "client-2"} {
		wg.Add(1)
		go func(idx int, key string) {
			defer wg.Done()
			_, errs[idx] = g.Generate(context.Background(), imagegate.GenerateRequest{
				ClientKey: key,
				Prompt:    "a fox in the snow",
			})
		}(i, client)
	}

	require.Eventually(t, func() bool {
		return g.Metrics().Snapshot().CacheMisses == 2
	}, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.ErrorIs(t, errs[0], boom)
	assert.ErrorIs(t, errs[1], boom)
	assert.EqualValues(t, 1, prov.GenerateCalls())
	assert.EqualValues(t, 2, g.Metrics().Snapshot().TotalErrors)
}

// Test 5: a saturated admission controller rejects fail-fast with Busy
func TestGenerate_BusyWhenAdmissionSaturated(t *testing.T) {
	release := make(chan struct{})
	prov := mock.New(mock.WithBlock(release))
	cfg := testConfig()
	cfg.MaxInFlight = 1
	g := newTestGateway(t, cfg, prov)

	done := make(chan error, 1)
	go func() {
		_, err := g.Generate(context.Background(), imagegate.GenerateRequest{
			ClientKey: "client-1",
			Prompt:    "first prompt",
		})
		done <- err
	}()

	require.Eventually(t, func() bool {
		return g.Metrics().Snapshot().InFlightCount == 1
	}, time.Second, time.Millisecond)

	_, err := g.Generate(context.Background(), imagegate.GenerateRequest{
		ClientKey: "client-2",
		Prompt:    "second prompt",
	})
	assert.ErrorIs(t, err, imagegate.ErrBusy)

	snap := g.Metrics().Snapshot()
	assert.EqualValues(t, 1, snap.BusyRejects)
	assert.EqualValues(t, 1, snap.InFlightCount)

	close(release)
	require.NoError(t, <-done)
	assert.EqualValues(t, 0, g.Metrics().Snapshot().InFlightCount)
}

// Test 6: interval throttling rejects the second back-to-back request
func TestGenerate_MinIntervalEnforced(t *testing.T) {
	prov := mock.New()
	cfg := testConfig()
	cfg.MinInterval = 10 * time.Second
	g := newTestGateway(t, cfg, prov)

	_, err := g.Generate(context.Background(), imagegate.GenerateRequest{
		ClientKey: "client-1", Prompt: "prompt one",
	})
	require.NoError(t, err)

	_, err = g.Generate(context.Background(), imagegate.GenerateRequest{
		ClientKey: "client-1", Prompt: "prompt two",
	})
	require.ErrorIs(t, err, imagegate.ErrTooFrequent)

	var throttle *imagegate.ThrottleError
	require.ErrorAs(t, err, &throttle)
	assert.InDelta(t, 10, throttle.WaitSeconds(), 1)
}

// Test 7: daily cap rejects once exhausted
func TestGenerate_DailyCapEnforced(t *testing.T) {
	prov := mock.New()
	cfg := testConfig()
	cfg.DailyCapFree = 2
	g := newTestGateway(t, cfg, prov)

	for i, prompt := range []string{"one", "two"} {
		_, err := g.Generate(context.Background(), imagegate.GenerateRequest{
			ClientKey: "client-1", Prompt: prompt,
		})
		require.NoError(t, err, "request %d", i+1)
	}

	_, err := g.Generate(context.Background(), imagegate.GenerateRequest{
		ClientKey: "client-1", Prompt: "three",
	})
	require.ErrorIs(t, err, imagegate.ErrDailyLimit)

	var throttle *imagegate.ThrottleError
	require.ErrorAs(t, err, &throttle)
	assert.Equal(t, 2, throttle.Cap)
}

// Test 8: a content-blocked prompt does not consume quota
func TestGenerate_BlockedPromptDoesNotConsumeQuota(t *testing.T) {
	prov := mock.New()
	cfg := testConfig()
	cfg.DailyCapFree = 1
	g := newTestGateway(t, cfg, prov)

	_, err := g.Generate(context.Background(), imagegate.GenerateRequest{
		ClientKey: "client-1", Prompt: "extremely Explicit artwork",
	})
	require.ErrorIs(t, err, imagegate.ErrBlockedContent)
	assert.EqualValues(t, 0, prov.GenerateCalls())

	// The single daily slot is still available.
	_, err = g.Generate(context.Background(), imagegate.GenerateRequest{
		ClientKey: "client-1", Prompt: "a friendly robot",
	})
	require.NoError(t, err)
}

// Test 9: photo edits skip the cache and dedup path entirely
func TestGenerate_EditSkipsCache(t *testing.T) {
	prov := mock.New()
	g := newTestGateway(t, testConfig(), prov)
	png := []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 1, 2, 3}

	for _, client := range []string{"client-1", "client-2"} {
		res, err := g.Generate(context.Background(), imagegate.GenerateRequest{
			ClientKey:   client,
			Prompt:      "put this cat on the moon",
			SourceImage: png,
		})
		require.NoError(t, err)
		assert.True(t, res.Edited)
		assert.False(t, res.Cached)
	}

	assert.EqualValues(t, 2, prov.EditCalls())
	assert.EqualValues(t, 0, prov.GenerateCalls())
	snap := g.Metrics().Snapshot()
	assert.EqualValues(t, 0, snap.CacheHits)
	assert.EqualValues(t, 0, snap.CacheMisses)
}

// Test 10: a malformed source image fails fast without upstream or quota cost
func TestGenerate_InvalidSourceImage(t *testing.T) {
	prov := mock.New()
	cfg := testConfig()
	cfg.DailyCapFree = 1
	g := newTestGateway(t, cfg, prov)

	_, err := g.Generate(context.Background(), imagegate.GenerateRequest{
		ClientKey:   "client-1",
		Prompt:      "put this cat on the moon",
		SourceImage: []byte("definitely not an image"),
	})
	require.ErrorIs(t, err, imagegate.ErrInvalidImage)
	assert.EqualValues(t, 0, prov.EditCalls())

	_, err = g.Generate(context.Background(), imagegate.GenerateRequest{
		ClientKey: "client-1", Prompt: "a friendly robot",
	})
	require.NoError(t, err)
}

// Test 11: no provider configured fails before consuming quota
func TestGenerate_NoProvider(t *testing.T) {
	cfg := testConfig()
	cfg.DailyCapFree = 1
	g := newTestGateway(t, cfg, nil)

	_, err := g.Generate(context.Background(), imagegate.GenerateRequest{
		ClientKey: "client-1", Prompt: "a friendly robot",
	})
	require.ErrorIs(t, err, imagegate.ErrNoProvider)
	assert.EqualValues(t, 1, g.Metrics().Snapshot().TotalErrors)
}

type fakeUsageStore struct {
	mu         sync.Mutex
	tier       imagegate.Tier
	hasTier    bool
	allowErr   error
	allowCalls int
	lastTier   imagegate.Tier
}

func (f *fakeUsageStore) Allow(_ context.Context, _ string, tier imagegate.Tier, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.allowCalls++
	f.lastTier = tier
	return f.allowErr
}

func (f *fakeUsageStore) Tier(context.Context, string) (imagegate.Tier, bool, error) {
	return f.tier, f.hasTier, nil
}

// Test 12: a stored paid profile upgrades the caller's free hint
func TestGenerate_DurableStoreUpgradesTier(t *testing.T) {
	store := &fakeUsageStore{tier: imagegate.TierPaid, hasTier: true}
	g := newTestGateway(t, testConfig(), mock.New(), imagegate.WithUsageStore(store))

	_, err := g.Generate(context.Background(), imagegate.GenerateRequest{
		ClientKey: "client-1",
		TierHint:  imagegate.TierFree,
		Prompt:    "a friendly robot",
	})
	require.NoError(t, err)
	assert.Equal(t, imagegate.TierPaid, store.lastTier)
	assert.Equal(t, 1, store.allowCalls)
}

// Test 13: a failing durable store falls back to in-process enforcement
func TestGenerate_DurableStoreFallback(t *testing.T) {
	store := &fakeUsageStore{allowErr: errors.New("connection refused")}
	g := newTestGateway(t, testConfig(), mock.New(), imagegate.WithUsageStore(store))

	res, err := g.Generate(context.Background(), imagegate.GenerateRequest{
		ClientKey: "client-1", Prompt: "a friendly robot",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Image)
}

// Test 14: a durable-store throttle rejection is surfaced, not retried locally
func TestGenerate_DurableStoreThrottle(t *testing.T) {
	store := &fakeUsageStore{allowErr: &imagegate.ThrottleError{Err: imagegate.ErrDailyLimit, Cap: 3}}
	prov := mock.New()
	g := newTestGateway(t, testConfig(), prov, imagegate.WithUsageStore(store))

	_, err := g.Generate(context.Background(), imagegate.GenerateRequest{
		ClientKey: "client-1", Prompt: "a friendly robot",
	})
	require.ErrorIs(t, err, imagegate.ErrDailyLimit)
	assert.EqualValues(t, 0, prov.GenerateCalls())
}

// Test 15: a cancelled caller lets the in-flight call finish and fill the cache
func TestGenerate_CancelledCallerStillPopulatesCache(t *testing.T) {
	release := make(chan struct{})
	prov := mock.New(mock.WithBlock(release))
	g := newTestGateway(t, testConfig(), prov)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := g.Generate(ctx, imagegate.GenerateRequest{
			ClientKey: "client-1", Prompt: "sunset over mountains",
		})
		done <- err
	}()

	require.Eventually(t, func() bool {
		return g.Metrics().Snapshot().InFlightCount == 1
	}, time.Second, time.Millisecond)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	close(release)
	require.Eventually(t, func() bool {
		return g.Metrics().Snapshot().InFlightCount == 0
	}, time.Second, time.Millisecond)

	res, err := g.Generate(context.Background(), imagegate.GenerateRequest{
		ClientKey: "client-2", Prompt: "sunset over mountains",
	})
	require.NoError(t, err)
	assert.True(t, res.Cached)
	assert.EqualValues(t, 1, prov.GenerateCalls())
}
