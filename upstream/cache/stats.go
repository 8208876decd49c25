package cache

import "sync/atomic"

// Stats é uma fotografia dos contadores do cache.
type Stats struct {
	Hits          uint64 `json:"hits"`
	Productions   uint64 `json:"productions"`
	Coalesced     uint64 `json:"coalesced"`
	Failures      uint64 `json:"failures"`
	Invalidations uint64 `json:"invalidations"`
	Entries       int    `json:"entries"`
}

type counters struct {
	hits          atomic.Uint64
	productions   atomic.Uint64
	coalesced     atomic.Uint64
	failures      atomic.Uint64
	invalidations atomic.Uint64
}
