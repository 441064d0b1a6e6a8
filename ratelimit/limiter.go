package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"habitquest/core"
)

// QuotaStore admits one call against an aligned-window counter. Implementations
// must perform the check and the increment atomically.
type QuotaStore interface {
	AdmitQuota(ctx context.Context, req core.QuotaRequest) (core.QuotaResult, error)
}

// Result is the outcome of a Check.
type Result struct {
	Allowed  bool
	Endpoint string
	Tier     Tier
	Reason   string
	Limit    int64
	Current  int64
	ResetAt  time.Time
	Now      time.Time
	// StoreErr is set when the quota store failed and the store error policy decided.
	StoreErr error
}

// Remaining is the number of calls left in the reported window.
func (r Result) Remaining() int64 {
	if r.Current >= r.Limit {
		return 0
	}
	return r.Limit - r.Current
}

// Err converts a rejection into an error; nil when allowed.
func (r Result) Err() error {
	if r.Allowed {
		return nil
	}
	if r.Reason == ReasonStoreError {
		return core.Wrap(core.KindDownstream, "rate limiter unavailable, please retry", r.StoreErr)
	}
	return &core.RateLimitError{
		Endpoint: r.Endpoint,
		Reason:   r.Reason,
		Limit:    r.Limit,
		Current:  r.Current,
		ResetAt:  r.ResetAt,
		Now:      r.Now,
	}
}

// Limiter applies a main per-tier limit and a burst limit to each call.
type Limiter struct {
	store        QuotaStore
	tiers        *TierResolver
	policies     map[string]Policy
	onStoreError StoreErrorPolicy
	onTierError  TierErrorPolicy
	logger       *slog.Logger
	now          func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

func WithPolicies(p map[string]Policy) Option { return func(l *Limiter) { l.policies = p } }

func WithStoreErrorPolicy(p StoreErrorPolicy) Option {
	return func(l *Limiter) { l.onStoreError = p }
}

func WithTierErrorPolicy(p TierErrorPolicy) Option {
	return func(l *Limiter) { l.onTierError = p }
}

func WithLogger(logger *slog.Logger) Option { return func(l *Limiter) { l.logger = logger } }

func WithClock(now func() time.Time) Option { return func(l *Limiter) { l.now = now } }

// New builds a Limiter. tiers may be nil, in which case every actor is free tier.
func New(store QuotaStore, tiers *TierResolver, opts ...Option) *Limiter {
	l := &Limiter{
		store:        store,
		tiers:        tiers,
		policies:     DefaultPolicies(),
		onStoreError: StoreErrorAllow,
		onTierError:  TierErrorAssumeFree,
		logger:       slog.Default(),
		now:          time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Check admits one call to endpoint for actor. The returned error is non-nil
// only for misconfiguration; rejections are reported through Result.
func (l *Limiter) Check(ctx context.Context, actor core.ActorID, endpoint string) (Result, error) {
	policy, ok := l.policies[endpoint]
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", core.ErrUnknownEndpoint, endpoint)
	}
	now := l.now()
	tier := l.resolveTier(ctx, actor)
	main := policy.ForTier(tier)

	if main.Blocked {
		req := core.QuotaRequest{ActorID: actor, Key: endpoint, Window: main.Window, At: now}
		return Result{Endpoint: endpoint, Tier: tier, Reason: ReasonTierLimit, ResetAt: req.ResetAt(), Now: now}, nil
	}

	res, done := l.admit(ctx, actor, endpoint, endpoint, tier, main, ReasonTierLimit, now)
	if done {
		return res, nil
	}
	if policy.Burst.Max <= 0 {
		return res, nil
	}
	burst, _ := l.admit(ctx, actor, endpoint, endpoint+":burst", tier, policy.Burst, ReasonBurstLimit, now)
	if !burst.Allowed {
		return burst, nil
	}
	// report the main window to the caller
	if burst.StoreErr != nil && res.StoreErr == nil {
		res.StoreErr = burst.StoreErr
	}
	return res, nil
}

// admit runs one quota check. done is true when the check decided the call
// (rejected), so later checks are skipped.
func (l *Limiter) admit(ctx context.Context, actor core.ActorID, endpoint, key string, tier Tier, lim Limit, reason string, now time.Time) (Result, bool) {
	req := core.QuotaRequest{ActorID: actor, Key: key, Limit: lim.Max, Window: lim.Window, At: now}
	out := Result{Endpoint: endpoint, Tier: tier, Limit: lim.Max, ResetAt: req.ResetAt(), Now: now}

	qr, err := l.store.AdmitQuota(ctx, req)
	if err != nil {
		out.StoreErr = err
		l.logger.Warn("quota store error",
			"actor_id", actor, "endpoint", endpoint, "key", key,
			"policy", string(l.onStoreError), "error", err)
		if l.onStoreError == StoreErrorDeny {
			out.Reason = ReasonStoreError
			return out, true
		}
		out.Allowed = true
		return out, false
	}

	out.Allowed = qr.Allowed
	out.Current = qr.Current
	if !qr.ResetAt.IsZero() {
		out.ResetAt = qr.ResetAt
	}
	if !qr.Allowed {
		out.Reason = reason
		return out, true
	}
	return out, false
}

func (l *Limiter) resolveTier(ctx context.Context, actor core.ActorID) Tier {
	if l.tiers == nil {
		return TierFree
	}
	tier, err := l.tiers.Resolve(ctx, actor)
	if err == nil {
		return tier
	}
	fallback := TierFree
	if l.onTierError == TierErrorAssumePremium {
		fallback = TierPremium
	}
	l.logger.Warn("tier lookup failed",
		"actor_id", actor, "policy", string(l.onTierError), "assumed", string(fallback), "error", err)
	return fallback
}
