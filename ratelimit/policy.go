// Package ratelimit gates expensive endpoints with per-tier and burst quotas.
package ratelimit

import (
	"fmt"
	"time"
)

// Rate-limited endpoints.
const (
	EndpointQuestTransform   = "quest_transform"
	EndpointJournalTransform = "journal_transform"
	EndpointQuestComplete    = "quest_complete"
	EndpointWeeklySummary    = "weekly_summary"
	EndpointCheckoutSession  = "checkout_session"
)

// Rejection reasons reported on Result.
const (
	ReasonTierLimit  = "tier_limit_exceeded"
	ReasonBurstLimit = "burst_limit_exceeded"
	ReasonStoreError = "quota_store_unavailable"
)

// Tier is the subscription level used to select a limit.
type Tier string

const (
	TierFree    Tier = "free"
	TierPremium Tier = "premium"
)

// Limit is a count per aligned window. A Blocked limit rejects every call.
type Limit struct {
	Max     int64
	Window  time.Duration
	Blocked bool
}

// Policy holds the per-tier limits and the tier-independent burst limit of one endpoint.
type Policy struct {
	Free    Limit
	Premium Limit
	Burst   Limit
}

// ForTier selects the main limit for a tier.
func (p Policy) ForTier(t Tier) Limit {
	if t == TierPremium {
		return p.Premium
	}
	return p.Free
}

// DefaultPolicies returns the shipped limits.
func DefaultPolicies() map[string]Policy {
	day := 24 * time.Hour
	return map[string]Policy{
		EndpointQuestTransform: {
			Free:    Limit{Max: 20, Window: day},
			Premium: Limit{Max: 200, Window: day},
			Burst:   Limit{Max: 5, Window: time.Minute},
		},
		EndpointJournalTransform: {
			Free:    Limit{Max: 5, Window: day},
			Premium: Limit{Max: 20, Window: day},
			Burst:   Limit{Max: 3, Window: time.Minute},
		},
		EndpointQuestComplete: {
			Free:    Limit{Max: 100, Window: time.Hour},
			Premium: Limit{Max: 500, Window: time.Hour},
			Burst:   Limit{Max: 10, Window: time.Minute},
		},
		EndpointWeeklySummary: {
			Free:    Limit{Max: 1, Window: 7 * day},
			Premium: Limit{Max: 2, Window: 7 * day},
			Burst:   Limit{Max: 1, Window: time.Hour},
		},
		EndpointCheckoutSession: {
			Free:    Limit{Max: 3, Window: time.Hour},
			Premium: Limit{Window: time.Hour, Blocked: true},
			Burst:   Limit{Max: 1, Window: 5 * time.Minute},
		},
	}
}

// StoreErrorPolicy decides the outcome when the quota store fails.
type StoreErrorPolicy string

const (
	StoreErrorAllow StoreErrorPolicy = "allow"
	StoreErrorDeny  StoreErrorPolicy = "deny"
)

// TierErrorPolicy decides which tier to assume when the tier lookup fails.
type TierErrorPolicy string

const (
	TierErrorAssumeFree    TierErrorPolicy = "assume_free"
	TierErrorAssumePremium TierErrorPolicy = "assume_premium"
)

// ParseStoreErrorPolicy validates a configured policy name; empty means allow.
func ParseStoreErrorPolicy(s string) (StoreErrorPolicy, error) {
	switch StoreErrorPolicy(s) {
	case "", StoreErrorAllow:
		return StoreErrorAllow, nil
	case StoreErrorDeny:
		return StoreErrorDeny, nil
	}
	return "", fmt.Errorf("invalid quota store error policy %q (want allow or deny)", s)
}

// ParseTierErrorPolicy validates a configured policy name; empty means assume_free.
func ParseTierErrorPolicy(s string) (TierErrorPolicy, error) {
	switch TierErrorPolicy(s) {
	case "", TierErrorAssumeFree:
		return TierErrorAssumeFree, nil
	case TierErrorAssumePremium:
		return TierErrorAssumePremium, nil
	}
	return "", fmt.Errorf("invalid tier lookup error policy %q (want assume_free or assume_premium)", s)
}
