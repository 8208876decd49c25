package infra

import (
	"context"
	"sync"

	"github.com/louiswin03/crypto-platform-sub003/middleware/ratelimit/domain"
)

type Counters struct {
	Allowed int64 `json:"allowed"`
	Denied  int64 `json:"denied"`
}

func (c *Counters) add(allowed bool) {
	if allowed {
		c.Allowed++
		return
	}
	c.Denied++
}

// MemoryStatsStore guarda contadores de admissão em memória.
// É o que alimenta GET /debug/stats no gateway.
//
// Não faz expiração. Cada mapa guarda no máximo maxEntries chaves; eventos de
// chaves novas além disso vão para OverflowKey.
type MemoryStatsStore struct {
	mu       sync.Mutex
	total    Counters
	byPolicy map[string]Counters
	byRoute  map[string]Counters
	byKey    map[string]Counters

	trackKeys  bool
	maxEntries int
}

// OverflowKey agrupa rotas e identidades que não couberam nos mapas.
const OverflowKey = "_other"

// DefaultMaxEntries é o limite padrão de chaves por mapa.
const DefaultMaxEntries = 1000

type MemoryStatsOption func(*MemoryStatsStore)

func WithTrackKeys(track bool) MemoryStatsOption {
	return func(s *MemoryStatsStore) { s.trackKeys = track }
}

// WithMaxEntries limita quantas chaves cada mapa guarda. n <= 0 usa DefaultMaxEntries.
func WithMaxEntries(n int) MemoryStatsOption {
	return func(s *MemoryStatsStore) { s.maxEntries = n }
}

func NewMemoryStatsStore(opts ...MemoryStatsOption) *MemoryStatsStore {
	s := &MemoryStatsStore{
		byPolicy: make(map[string]Counters),
		byRoute:  make(map[string]Counters),
		byKey:    make(map[string]Counters),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.maxEntries <= 0 {
		s.maxEntries = DefaultMaxEntries
	}
	return s
}

func (s *MemoryStatsStore) Record(_ context.Context, ev domain.StatsEvent) error {
	route := ev.Method + " " + ev.Path

	s.mu.Lock()
	defer s.mu.Unlock()

	s.total.add(ev.Allowed)
	s.bump(s.byPolicy, ev.Policy, ev.Allowed)
	s.bump(s.byRoute, route, ev.Allowed)
	if s.trackKeys {
		s.bump(s.byKey, string(ev.Key), ev.Allowed)
	}
	return nil
}

func (s *MemoryStatsStore) bump(m map[string]Counters, k string, allowed bool) {
	if _, ok := m[k]; !ok && len(m) >= s.maxEntries {
		k = OverflowKey
	}
	c := m[k]
	c.add(allowed)
	m[k] = c
}

func (s *MemoryStatsStore) Total() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

func (s *MemoryStatsStore) ByPolicy() map[string]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyCounters(s.byPolicy)
}

func (s *MemoryStatsStore) ByRoute() map[string]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyCounters(s.byRoute)
}

func (s *MemoryStatsStore) ByKey() map[string]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyCounters(s.byKey)
}

func copyCounters(in map[string]Counters) map[string]Counters {
	out := make(map[string]Counters, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// MultiStats envia o mesmo evento para vários stores (ex.: memória + Redis).
// Retorna o primeiro erro, mas sempre tenta todos.
type MultiStats []domain.StatsStore

func (m MultiStats) Record(ctx context.Context, ev domain.StatsEvent) error {
	var first error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Record(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}
