package scanner

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// ignoreCacheSize bounds the number of (path, isDir) verdicts memoized per
// wrapped matcher.
const ignoreCacheSize = 4096

type ignoreCacheKey struct {
	path  string
	isDir bool
}

// cachingMatcher memoizes Match results behind an LRU cache. Scan wraps its
// matcher afresh on every call, so verdicts are reused only within one scan
// and are not carried from one scan to the next.
type cachingMatcher struct {
	underlying IgnoreMatcher
	cache      *lru.Cache[ignoreCacheKey, bool]
}

// newCachingMatcher wraps underlying, or returns it unwrapped if nil or if
// the cache fails to allocate.
func newCachingMatcher(underlying IgnoreMatcher) IgnoreMatcher {
	if underlying == nil {
		return nil
	}
	cache, err := lru.New[ignoreCacheKey, bool](ignoreCacheSize)
	if err != nil {
		return underlying
	}
	return &cachingMatcher{underlying: underlying, cache: cache}
}

func (c *cachingMatcher) Match(path string, isDir bool) bool {
	key := ignoreCacheKey{path: path, isDir: isDir}
	if v, ok := c.cache.Get(key); ok {
		return v
	}
	v := c.underlying.Match(path, isDir)
	c.cache.Add(key, v)
	return v
}
