package ratelimit

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/sync/singleflight"

	"habitquest/core"
)

// TierSource reports whether an actor currently has a premium subscription.
type TierSource interface {
	IsPremium(ctx context.Context, actor core.ActorID) (bool, error)
}

type tierEntry struct {
	tier      Tier
	fetchedAt time.Time
}

// TierResolver is a read-through cache of actor tiers with bounded staleness.
// Entries older than the TTL are refetched; failed lookups are not cached.
type TierResolver struct {
	source TierSource
	cache  *lru.Cache
	ttl    time.Duration
	now    func() time.Time
	group  singleflight.Group
	// lookupTimeout bounds a shared lookup independently of any caller.
	lookupTimeout time.Duration
}

const (
	DefaultTierTTL       = 5 * time.Minute
	DefaultTierCacheSize = 10000
	DefaultTierLookup    = 2 * time.Second
)

// NewTierResolver builds a resolver. Zero size or ttl select the defaults and a
// nil clock uses time.Now.
func NewTierResolver(source TierSource, size int, ttl time.Duration, now func() time.Time) (*TierResolver, error) {
	if size <= 0 {
		size = DefaultTierCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultTierTTL
	}
	if now == nil {
		now = time.Now
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("tier cache: %w", err)
	}
	return &TierResolver{source: source, cache: cache, ttl: ttl, now: now, lookupTimeout: DefaultTierLookup}, nil
}

// Resolve returns the actor's tier, serving fresh cache entries without a lookup.
// Concurrent misses for the same actor share one lookup. The shared lookup
// runs detached from the caller that started it, so one caller giving up does
// not fail the others; each caller still stops waiting when its own ctx ends.
func (r *TierResolver) Resolve(ctx context.Context, actor core.ActorID) (Tier, error) {
	if v, ok := r.cache.Get(actor); ok {
		e := v.(tierEntry)
		if r.now().Sub(e.fetchedAt) < r.ttl {
			return e.tier, nil
		}
	}
	ch := r.group.DoChan(string(actor), func() (any, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.lookupTimeout)
		defer cancel()
		premium, err := r.source.IsPremium(lctx, actor)
		if err != nil {
			return nil, err
		}
		tier := TierFree
		if premium {
			tier = TierPremium
		}
		r.cache.Add(actor, tierEntry{tier: tier, fetchedAt: r.now()})
		return tier, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return "", fmt.Errorf("resolve tier: %w", res.Err)
		}
		return res.Val.(Tier), nil
	case <-ctx.Done():
		return "", fmt.Errorf("resolve tier: %w", ctx.Err())
	}
}

// Invalidate drops the cached tier, e.g. after a subscription change.
func (r *TierResolver) Invalidate(actor core.ActorID) {
	r.cache.Remove(actor)
}
