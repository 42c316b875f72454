package ratelimit

// Tier names the subscription tier an API key's owner belongs to, used only
// to select a token bucket capacity (§4.C2).
type Tier string

const (
	TierFree Tier = "free"
	TierPro  Tier = "pro"
	TierEnt  Tier = "enterprise"
)

// Limits holds the three configured capacities, loaded from
// HERALD_RATE_LIMIT_{FREE,PRO,ENT} (§6.6).
type Limits struct {
	Free int
	Pro  int
	Ent  int
}

// CapacityFor returns the bucket capacity for a tier, defaulting to Free for
// any unrecognized value.
func (l Limits) CapacityFor(tier Tier) int {
	switch tier {
	case TierPro:
		return l.Pro
	case TierEnt:
		return l.Ent
	default:
		return l.Free
	}
}
