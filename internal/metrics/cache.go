package metrics

import (
	"strings"
	"time"
)

// CacheResult classifies a cache access.
type CacheResult int

const (
	CacheUnknown CacheResult = iota
	CacheHit
	CacheMiss
)

// String returns the canonical name of the result.
func (r CacheResult) String() string {
	switch r {
	case CacheHit:
		return "hit"
	case CacheMiss:
		return "miss"
	default:
		return "unknown"
	}
}

// ParseCacheResult maps the result strings produced by cache layers onto a CacheResult.
// "hit" and "<tier>_hit" are hits, "miss" and "<tier>_miss" are misses.
func ParseCacheResult(s string) CacheResult {
	switch {
	case s == "hit" || strings.HasSuffix(s, "_hit"):
		return CacheHit
	case s == "miss" || strings.HasSuffix(s, "_miss"):
		return CacheMiss
	default:
		return CacheUnknown
	}
}

// TierStats holds hit and miss counts for one cache tier.
type TierStats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
}

// HitRate returns hits/(hits+misses), or 0 without accesses.
func (t TierStats) HitRate() float64 {
	return hitRate(t.Hits, t.Misses)
}

// CacheAccess is one entry of the rolling access log.
type CacheAccess struct {
	Timestamp float64 `json:"timestamp"`
	Result    string  `json:"result"`
	Tier      string  `json:"tier,omitempty"`
}

// CacheSummary is a consistent copy of the cache counters.
type CacheSummary struct {
	Hits      int64                `json:"hits"`
	Misses    int64                `json:"misses"`
	HitRate   float64              `json:"hit_rate"`
	TierStats map[string]TierStats `json:"tier_stats"`
}

// CacheAccounting tracks global and per-tier hit/miss counters plus a bounded access log.
type CacheAccounting struct {
	hits    int64
	misses  int64
	hitRate float64
	tiers   map[string]*TierStats
	log     *RingBuffer[CacheAccess]
}

// NewCacheAccounting creates accounting whose access log retains capacity entries.
func NewCacheAccounting(capacity int) *CacheAccounting {
	return &CacheAccounting{
		tiers: make(map[string]*TierStats),
		log:   NewRingBuffer[CacheAccess](capacity),
	}
}

// Record counts one access and returns its classification. Unknown results are
// logged in the access log but counted as neither hit nor miss.
func (c *CacheAccounting) Record(result, tier string, at time.Time) CacheResult {
	kind := ParseCacheResult(result)

	var ts *TierStats
	if tier != "" {
		ts = c.tiers[tier]
		if ts == nil {
			ts = &TierStats{}
			c.tiers[tier] = ts
		}
	}

	switch kind {
	case CacheHit:
		c.hits++
		if ts != nil {
			ts.Hits++
		}
	case CacheMiss:
		c.misses++
		if ts != nil {
			ts.Misses++
		}
	}
	c.hitRate = hitRate(c.hits, c.misses)

	c.log.Push(CacheAccess{Timestamp: unixSeconds(at), Result: result, Tier: tier})
	return kind
}

// Summary returns a copy of the counters.
func (c *CacheAccounting) Summary() CacheSummary {
	tiers := make(map[string]TierStats, len(c.tiers))
	for name, ts := range c.tiers {
		tiers[name] = *ts
	}
	return CacheSummary{
		Hits:      c.hits,
		Misses:    c.misses,
		HitRate:   c.hitRate,
		TierStats: tiers,
	}
}

// Accesses returns the retained access log, oldest first.
func (c *CacheAccounting) Accesses() []CacheAccess {
	return c.log.Values()
}

// Reset clears all counters and the access log.
func (c *CacheAccounting) Reset() {
	c.hits, c.misses, c.hitRate = 0, 0, 0
	c.tiers = make(map[string]*TierStats)
	c.log.Reset()
}

func hitRate(hits, misses int64) float64 {
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}
