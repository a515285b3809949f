package imagegate

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
)

// Gateway sits between the public endpoint and the paid, slow, rate-limited
// upstream image provider. It owns all shared gatekeeper state: the usage
// table, response cache, in-flight dedup registry, admission semaphore, and
// metrics. Callers never receive a mutable reference to any of it.
type Gateway struct {
	cfg      Config
	provider Provider
	cache    *Cache
	flights  singleflight.Group
	sem      *semaphore.Weighted
	metrics  *Metrics
	local    *MemoryUsage
	durable  UsageStore
	health   *UpstreamHealth
	meter    Meter
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithUsageStore sets a durable usage store. It is authoritative when
// reachable; the in-process guard takes over when it errors.
func WithUsageStore(s UsageStore) Option {
	return func(g *Gateway) { g.durable = s }
}

// WithMeter sets the meter.
func WithMeter(m Meter) Option {
	return func(g *Gateway) { g.meter = m }
}

// New creates a Gateway. provider may be nil when no upstream credentials
// are configured; requests then fail with ErrNoProvider before consuming
// any quota.
func New(cfg Config, provider Provider, opts ...Option) (*Gateway, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	g := &Gateway{
		cfg:      cfg,
		provider: provider,
		cache:    NewCache(cfg.CacheTTL, cfg.CacheCapacity),
		sem:      semaphore.NewWeighted(int64(cfg.MaxInFlight)),
		metrics:  NewMetrics(),
		local:    NewMemoryUsage(cfg.MinInterval, cfg.caps()),
		health:   NewUpstreamHealth(),
		meter:    noopMeter{},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Metrics returns the gateway's metrics sink.
func (g *Gateway) Metrics() *Metrics { return g.metrics }

// Health returns the upstream health tracker.
func (g *Gateway) Health() *UpstreamHealth { return g.health }

// Config returns the effective configuration.
func (g *Gateway) Config() Config { return g.cfg }

// Generate runs a request through the full gatekeeper flow: validation,
// usage enforcement, cache lookup, in-flight dedup, admission, upstream
// call. Exactly one terminal counter fires per request, plus one of
// total-success/total-errors.
func (g *Gateway) Generate(ctx context.Context, req GenerateRequest) (GenerateResult, error) {
	g.metrics.Request()
	start := time.Now()

	res, tier, err := g.handle(ctx, req)

	latency := time.Since(start)
	g.metrics.RecordLatency(latency)
	if err != nil {
		g.metrics.Failure()
	} else {
		g.metrics.Success()
		res.Latency = latency
	}

	g.meter.OnResult(ResultEvent{
		RequestID: req.RequestID,
		ClientKey: req.ClientKey,
		Tier:      tier,
		Success:   err == nil,
		Cached:    res.Cached,
		Deduped:   res.Deduped,
		Edited:    res.Edited,
		Duration:  latency,
		Error:     err,
	})
	return res, err
}

func (g *Gateway) handle(ctx context.Context, req GenerateRequest) (GenerateResult, Tier, error) {
	if g.provider == nil {
		return GenerateResult{}, req.TierHint, ErrNoProvider
	}

	// Validation first: cheapest, no side effects, and rejected prompts
	// must not count against the daily cap.
	prompt, err := SanitizePrompt(req.Prompt)
	if err != nil {
		return GenerateResult{}, req.TierHint, err
	}
	edited := len(req.SourceImage) > 0
	if edited {
		if err := ValidateSourceImage(req.SourceImage); err != nil {
			return GenerateResult{}, req.TierHint, err
		}
	}

	tier := g.resolveTier(ctx, req)
	if err := g.allow(ctx, req.ClientKey, tier); err != nil {
		return GenerateResult{}, tier, err
	}

	// Edits combine a user photo with a prompt and are not expected to
	// repeat, so they skip the cache and dedup entirely.
	if edited {
		img, err := g.callUpstream(ctx, req, tier, prompt, "", req.SourceImage)
		if err != nil {
			return GenerateResult{}, tier, err
		}
		return GenerateResult{Image: img, Edited: true}, tier, nil
	}

	fp := Fingerprint(prompt)
	if img, ok := g.cache.Lookup(fp); ok {
		g.metrics.CacheHit()
		return GenerateResult{Image: img, Cached: true}, tier, nil
	}
	g.metrics.CacheMiss()

	// The producer runs detached from the caller's cancellation so that
	// followers still receive the result if the initiating client goes
	// away; the provider's per-attempt timeouts bound its lifetime. The
	// admission slot is released inside the flight when it settles.
	owner := false
	pctx := context.WithoutCancel(ctx)
	ch := g.flights.DoChan(fp, func() (any, error) {
		owner = true
		img, err := g.callUpstream(pctx, req, tier, prompt, fp, nil)
		if err != nil {
			return nil, err
		}
		g.cache.Store(fp, img)
		return img, nil
	})

	select {
	case <-ctx.Done():
		return GenerateResult{}, tier, ctx.Err()
	case r := <-ch:
		if !owner {
			g.metrics.DedupedHit()
		}
		if r.Err != nil {
			return GenerateResult{}, tier, r.Err
		}
		return GenerateResult{Image: r.Val.([]byte), Deduped: !owner}, tier, nil
	}
}

// resolveTier starts from the caller's hint and lets a stored paid profile
// upgrade it. Store errors keep the hint; a missing store must never
// block requests.
func (g *Gateway) resolveTier(ctx context.Context, req GenerateRequest) Tier {
	tier := req.TierHint
	if tier == "" {
		tier = TierFree
	}
	if g.durable == nil {
		return tier
	}
	stored, ok, err := g.durable.Tier(ctx, req.ClientKey)
	if err == nil && ok && stored == TierPaid {
		return TierPaid
	}
	return tier
}

func (g *Gateway) allow(ctx context.Context, clientKey string, tier Tier) error {
	now := time.Now()
	if g.durable != nil {
		err := g.durable.Allow(ctx, clientKey, tier, now)
		if err == nil || IsThrottle(err) {
			return err
		}
		// Store unreachable: fall through to in-process enforcement.
	}
	return g.local.Allow(ctx, clientKey, tier, now)
}

// callUpstream acquires an admission slot (fail-fast, never queued) and
// issues the provider call. The slot and in-flight gauge are released on
// every exit path.
func (g *Gateway) callUpstream(ctx context.Context, req GenerateRequest, tier Tier, prompt, fp string, source []byte) ([]byte, error) {
	if !g.sem.TryAcquire(1) {
		g.metrics.BusyReject()
		return nil, ErrBusy
	}
	g.metrics.EnterFlight()
	defer func() {
		g.sem.Release(1)
		g.metrics.ExitFlight()
	}()

	g.meter.OnGenerate(GenerateEvent{
		RequestID:   req.RequestID,
		ClientKey:   req.ClientKey,
		Tier:        tier,
		Fingerprint: fp,
		Edited:      source != nil,
	})

	var img []byte
	var err error
	if source != nil {
		img, err = g.provider.Edit(ctx, prompt, source)
	} else {
		img, err = g.provider.Generate(ctx, prompt)
	}
	if err != nil {
		g.health.RecordFailure()
		return nil, err
	}
	g.health.RecordSuccess()
	return img, nil
}
