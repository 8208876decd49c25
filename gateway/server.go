package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/louiswin03/crypto-platform-sub003/middleware/ratelimit"
	"github.com/louiswin03/crypto-platform-sub003/middleware/ratelimit/domain"
	"github.com/louiswin03/crypto-platform-sub003/middleware/ratelimit/infra"
	"github.com/louiswin03/crypto-platform-sub003/upstream/cache"
	"github.com/louiswin03/crypto-platform-sub003/upstream/provider"
)

// DefaultUpstreamTimeout é o prazo de cada produção no provedor.
const DefaultUpstreamTimeout = 10 * time.Second

// MarketSource é o provedor de dados de mercado (provider.Client em produção).
type MarketSource interface {
	Endpoint(name string) (provider.Endpoint, bool)
	Get(ctx context.Context, name string, params url.Values) (json.RawMessage, error)
}

type Server struct {
	cache  *cache.Cache[json.RawMessage]
	market MarketSource

	limiter    domain.Limiter
	authPolicy func() domain.Policy
	apiPolicy  func() domain.Policy
	stats      *infra.MemoryStatsStore
	extraStats domain.StatsStore
	totals     func(ctx context.Context) (infra.Counters, error)
	keyHeader  string
	trustXFF   bool

	concurrencyMax     int
	concurrencyTimeout time.Duration

	adminToken      string
	backend         http.Handler
	upstreamTimeout time.Duration
	ttls            map[string]time.Duration

	log zerolog.Logger
}

type Option func(*Server)

// WithLimiter define o limitador de admissão. Sem limitador, as rotas ficam abertas.
func WithLimiter(l domain.Limiter) Option {
	return func(s *Server) { s.limiter = l }
}

// WithPolicies define as fontes das políticas estrita (auth e invalidação) e de API.
// São funções para permitir recarga sem reconstruir o roteador.
func WithPolicies(auth, api func() domain.Policy) Option {
	return func(s *Server) {
		if auth != nil {
			s.authPolicy = auth
		}
		if api != nil {
			s.apiPolicy = api
		}
	}
}

// WithStatsStore adiciona um destino extra para os eventos de admissão (ex.: Redis).
func WithStatsStore(st domain.StatsStore) Option {
	return func(s *Server) { s.extraStats = st }
}

// WithStatsTotals expõe totais externos em /debug/stats.
func WithStatsTotals(fn func(ctx context.Context) (infra.Counters, error)) Option {
	return func(s *Server) { s.totals = fn }
}

func WithKeyHeader(header string, trustXFF bool) Option {
	return func(s *Server) {
		s.keyHeader = header
		s.trustXFF = trustXFF
	}
}

// WithConcurrency limita as requisições em andamento. max <= 0 desativa.
func WithConcurrency(max int, acquireTimeout time.Duration) Option {
	return func(s *Server) {
		s.concurrencyMax = max
		s.concurrencyTimeout = acquireTimeout
	}
}

// WithAdminToken habilita DELETE /api/market/{endpoint}. Vazio desabilita.
func WithAdminToken(token string) Option {
	return func(s *Server) { s.adminToken = token }
}

// WithBackend define o handler das demais rotas /api/* (normalmente o proxy reverso).
func WithBackend(h http.Handler) Option {
	return func(s *Server) { s.backend = h }
}

func WithUpstreamTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.upstreamTimeout = d
		}
	}
}

// WithTTLs sobrescreve o TTL por endpoint; endpoints ausentes usam DefaultTTLs.
func WithTTLs(ttls map[string]time.Duration) Option {
	return func(s *Server) {
		for k, v := range ttls {
			s.ttls[k] = v
		}
	}
}

func WithLogger(log zerolog.Logger) Option {
	return func(s *Server) { s.log = log }
}

func NewServer(c *cache.Cache[json.RawMessage], market MarketSource, opts ...Option) *Server {
	s := &Server{
		cache:           c,
		market:          market,
		authPolicy:      func() domain.Policy { return domain.AuthPolicy },
		apiPolicy:       func() domain.Policy { return domain.APIPolicy },
		stats:           infra.NewMemoryStatsStore(),
		backend:         http.NotFoundHandler(),
		upstreamTimeout: DefaultUpstreamTimeout,
		ttls:            make(map[string]time.Duration, len(DefaultTTLs)),
		log:             zerolog.Nop(),
	}
	for k, v := range DefaultTTLs {
		s.ttls[k] = v
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AdmissionStats devolve o contador em memória usado por /debug/stats.
func (s *Server) AdmissionStats() *infra.MemoryStatsStore { return s.stats }

func (s *Server) admission(policy func() domain.Policy) func(http.Handler) http.Handler {
	var st domain.StatsStore = s.stats
	if s.extraStats != nil {
		st = infra.MultiStats{s.stats, s.extraStats}
	}
	return ratelimit.Middleware(ratelimit.Options{
		Limiter:             s.limiter,
		PolicyFn:            policy,
		Stats:               st,
		RouteFn:             routePattern,
		KeyHeader:           s.keyHeader,
		TrustXForwardedFor:  s.trustXFF,
		AddRateLimitHeaders: true,
		Logger:              &s.log,
	})
}

// routePattern devolve o padrão chi da rota ("/api/market/{endpoint}"), não o path.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

// Handler monta o roteador.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(AccessLog(s.log))
	if s.concurrencyMax > 0 {
		r.Use(ratelimit.ConcurrencyMiddleware(ratelimit.ConcurrencyOptions{
			Max:            s.concurrencyMax,
			RejectStatus:   http.StatusServiceUnavailable,
			AcquireTimeout: s.concurrencyTimeout,
			Logger:         &s.log,
		}))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/debug/stats", s.handleStats)

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(s.admission(s.authPolicy))
			r.Delete("/market/{endpoint}", s.handleInvalidate)
			r.Delete("/market/{endpoint}/{id}", s.handleInvalidate)
			r.Handle("/auth/*", s.backend)
		})
		r.Group(func(r chi.Router) {
			r.Use(s.admission(s.apiPolicy))
			r.Get("/market/{endpoint}", s.handleMarket)
			r.Get("/market/{endpoint}/{id}", s.handleMarket)
			r.Handle("/*", s.backend)
		})
	})
	return r
}
