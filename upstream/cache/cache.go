package cache

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Producer faz a chamada real ao provedor. Não recebe argumentos: prazo,
// credenciais e parâmetros ficam capturados na closure.
type Producer[V any] func() (V, error)

// Outcome diz como um Fetch foi atendido.
type Outcome int

const (
	// Hit veio de uma entrada válida.
	Hit Outcome = iota
	// Produced chamou o producer.
	Produced
	// Coalesced esperou a produção de outro chamador.
	Coalesced
)

func (o Outcome) String() string {
	switch o {
	case Hit:
		return "HIT"
	case Produced:
		return "MISS"
	case Coalesced:
		return "COALESCED"
	default:
		return "UNKNOWN"
	}
}

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

type shard[V any] struct {
	mu      sync.RWMutex
	entries map[string]entry[V]
}

// Cache é uma instância por processo, criada explicitamente com New e
// compartilhada por referência entre os handlers.
type Cache[V any] struct {
	shards []*shard[V]
	group  singleflight.Group
	stats  counters

	now          func() time.Time
	cleanupEvery time.Duration
	log          zerolog.Logger
}

type config struct {
	shards       int
	now          func() time.Time
	cleanupEvery time.Duration
	log          zerolog.Logger
}

type Option func(*config)

// WithShards define quantos shards dividem as entradas. Valores < 1 viram 1.
func WithShards(n int) Option {
	return func(c *config) { c.shards = n }
}

// WithClock troca o relógio (testes).
func WithClock(now func() time.Time) Option {
	return func(c *config) { c.now = now }
}

// WithCleanupEvery define o intervalo do janitor. Zero desliga.
func WithCleanupEvery(d time.Duration) Option {
	return func(c *config) { c.cleanupEvery = d }
}

func WithLogger(log zerolog.Logger) Option {
	return func(c *config) { c.log = log }
}

func New[V any](opts ...Option) *Cache[V] {
	cfg := config{
		shards:       16,
		now:          time.Now,
		cleanupEvery: time.Minute,
		log:          zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.shards < 1 {
		cfg.shards = 1
	}

	shards := make([]*shard[V], cfg.shards)
	for i := range shards {
		shards[i] = &shard[V]{entries: make(map[string]entry[V])}
	}
	return &Cache[V]{
		shards:       shards,
		now:          cfg.now,
		cleanupEvery: cfg.cleanupEvery,
		log:          cfg.log,
	}
}

func (c *Cache[V]) shardFor(key string) *shard[V] {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return c.shards[h.Sum32()%uint32(len(c.shards))]
}

// Get devolve o valor se houver entrada válida. Não altera nada, nem contadores.
func (c *Cache[V]) Get(key string) (V, bool) {
	sh := c.shardFor(key)
	sh.mu.RLock()
	e, ok := sh.entries[key]
	sh.mu.RUnlock()

	if !ok || !c.now().Before(e.expiresAt) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Fetch é FetchOutcome sem o Outcome.
func (c *Cache[V]) Fetch(key string, ttl time.Duration, produce Producer[V]) (V, error) {
	v, _, err := c.FetchOutcome(key, ttl, produce)
	return v, err
}

// FetchOutcome devolve o valor da chave, produzindo-o no máximo uma vez por vez.
//
// Todos os chamadores que chegam enquanto uma produção está em andamento recebem
// o mesmo resultado dela. O erro do producer é devolvido sem embrulho e nunca
// fica no cache: a próxima chamada depois dele produz de novo.
// Com ttl <= 0 o valor é entregue mas não é guardado.
func (c *Cache[V]) FetchOutcome(key string, ttl time.Duration, produce Producer[V]) (V, Outcome, error) {
	if v, ok := c.Get(key); ok {
		c.stats.hits.Add(1)
		return v, Hit, nil
	}

	leader, hit := false, false
	res, err, _ := c.group.Do(key, func() (any, error) {
		leader = true
		// uma produção pode ter terminado entre o Get acima e o Do.
		if v, ok := c.Get(key); ok {
			hit = true
			return v, nil
		}

		c.stats.productions.Add(1)
		v, err := produce()
		if err != nil {
			c.stats.failures.Add(1)
			c.log.Debug().Err(err).Str("key", key).Msg("upstream production failed")
			return nil, err
		}
		c.store(key, v, ttl)
		return v, nil
	})

	outcome := Produced
	switch {
	case !leader:
		outcome = Coalesced
		c.stats.coalesced.Add(1)
	case hit:
		outcome = Hit
		c.stats.hits.Add(1)
	}

	if err != nil {
		var zero V
		return zero, outcome, err
	}
	v, _ := res.(V)
	return v, outcome, nil
}

func (c *Cache[V]) store(key string, v V, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	sh := c.shardFor(key)
	sh.mu.Lock()
	sh.entries[key] = entry[V]{value: v, expiresAt: c.now().Add(ttl)}
	sh.mu.Unlock()
}

// Delete remove a entrada e esquece a produção em andamento da chave, forçando
// a próxima chamada a produzir de novo. Uma produção que já estava rodando não é
// cancelada: quando terminar, ainda grava a entrada dela.
func (c *Cache[V]) Delete(key string) {
	sh := c.shardFor(key)
	sh.mu.Lock()
	delete(sh.entries, key)
	sh.mu.Unlock()

	c.group.Forget(key)
	c.stats.invalidations.Add(1)
}

// Len conta entradas em memória, inclusive as vencidas que o janitor ainda não removeu.
func (c *Cache[V]) Len() int {
	n := 0
	for _, sh := range c.shards {
		sh.mu.RLock()
		n += len(sh.entries)
		sh.mu.RUnlock()
	}
	return n
}

// Cleanup remove entradas vencidas. Retorna quantas removeu.
func (c *Cache[V]) Cleanup() int {
	now := c.now()
	removed := 0
	for _, sh := range c.shards {
		sh.mu.Lock()
		for k, e := range sh.entries {
			if !now.Before(e.expiresAt) {
				delete(sh.entries, k)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

// StartJanitor inicia uma goroutine que chama Cleanup periodicamente.
// Pare cancelando o contexto.
func (c *Cache[V]) StartJanitor(ctx context.Context) {
	if c.cleanupEvery <= 0 {
		return
	}

	t := time.NewTicker(c.cleanupEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if n := c.Cleanup(); n > 0 {
					c.log.Debug().Int("removed", n).Msg("expired cache entries removed")
				}
			}
		}
	}()
}

func (c *Cache[V]) Stats() Stats {
	return Stats{
		Hits:          c.stats.hits.Load(),
		Productions:   c.stats.productions.Load(),
		Coalesced:     c.stats.coalesced.Load(),
		Failures:      c.stats.failures.Load(),
		Invalidations: c.stats.invalidations.Load(),
		Entries:       c.Len(),
	}
}
