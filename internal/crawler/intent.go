package crawler

import "go.uber.org/zap"

// VisitIntent describes why a URL is being visited and how the cache should
// be consulted. It replaces the older set of independent booleans
// (allowRevisit / forceCache / processCacheResult / seedFromCache) whose
// combinations were easy to get wrong.
type VisitIntent int

// Visit intents.
const (
	// FreshFetch always goes to the network and stores the result.
	FreshFetch VisitIntent = iota
	// CacheOnly serves from the cache and never touches the network.
	CacheOnly
	// CacheThenDiscover serves a cached copy when present and runs the full
	// discovery pass over it. Items carrying this intent bypass frontier
	// dedup: a cache-derived seed is never silently dropped.
	CacheThenDiscover
)

// String implements fmt.Stringer.
func (i VisitIntent) String() string {
	switch i {
	case CacheOnly:
		return "cache-only"
	case CacheThenDiscover:
		return "cache-then-discover"
	default:
		return "fresh-fetch"
	}
}

// CacheSeeded reports whether the intent originates from the cache-seeding
// path and therefore overrides frontier dedup.
func (i VisitIntent) CacheSeeded() bool {
	return i == CacheThenDiscover
}

// AllowsCache reports whether a cached copy may satisfy the visit.
func (i VisitIntent) AllowsCache() bool {
	return i == CacheOnly || i == CacheThenDiscover
}

// IntentFromFlags maps the legacy flag combination onto a VisitIntent.
// Cache seeding dominates: seedFromCache or processCacheResult yields
// CacheThenDiscover even when allowRevisit asks for a network revisit, and
// the conflict is logged rather than silently resolved.
func IntentFromFlags(logger *zap.Logger, allowRevisit, forceCache, processCacheResult, seedFromCache bool) VisitIntent {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch {
	case seedFromCache || processCacheResult:
		if allowRevisit {
			logger.Warn("conflicting visit flags, cache seeding takes precedence",
				zap.Bool("allow_revisit", allowRevisit),
				zap.Bool("seed_from_cache", seedFromCache),
				zap.Bool("process_cache_result", processCacheResult),
			)
		}
		return CacheThenDiscover
	case forceCache:
		return CacheOnly
	default:
		return FreshFetch
	}
}
