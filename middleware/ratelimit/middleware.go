package ratelimit

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/louiswin03/crypto-platform-sub003/middleware/ratelimit/application"
	"github.com/louiswin03/crypto-platform-sub003/middleware/ratelimit/domain"
)

type KeyFunc func(r *http.Request) string

type Options struct {
	Limiter domain.Limiter
	// Policy é a política fixa do grupo de rotas; PolicyFn, quando definida, tem precedência.
	Policy              domain.Policy
	PolicyFn            func() domain.Policy
	Stats               domain.StatsStore
	KeyFn               KeyFunc
	KeyHeader           string
	TrustXForwardedFor  bool
	RejectStatus        int
	AddRateLimitHeaders bool
	Logger              *zerolog.Logger
	// RouteFn dá a rota registrada nas estatísticas. O padrão é o path da
	// requisição; roteadores com padrões (ex.: chi) devem devolver o padrão,
	// senão cada path distinto vira uma chave nova.
	RouteFn func(r *http.Request) string
}

func DefaultKeyFunc(keyHeader string, trustXFF bool) KeyFunc {
	return func(r *http.Request) string {
		if keyHeader != "" {
			if v := strings.TrimSpace(r.Header.Get(keyHeader)); v != "" {
				return v
			}
		}

		if trustXFF {
			// pega o primeiro IP do X-Forwarded-For (cliente original)
			if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
				first, _, _ := strings.Cut(xff, ",")
				if ip := strings.TrimSpace(first); ip != "" {
					return ip
				}
			}
			if ip := strings.TrimSpace(r.Header.Get("X-Real-Ip")); ip != "" {
				return ip
			}
		}

		// fallback: RemoteAddr
		host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
		if err == nil && host != "" {
			return host
		}
		if r.RemoteAddr != "" {
			return r.RemoteAddr
		}
		return "unknown"
	}
}

// Middleware aplica o controle de admissão antes do handler.
// Bloqueado => RejectStatus (429 por padrão) com Retry-After em segundos.
func Middleware(opts Options) func(next http.Handler) http.Handler {
	if opts.RejectStatus == 0 {
		opts.RejectStatus = http.StatusTooManyRequests
	}
	if opts.KeyFn == nil {
		opts.KeyFn = DefaultKeyFunc(opts.KeyHeader, opts.TrustXForwardedFor)
	}
	if opts.RouteFn == nil {
		opts.RouteFn = func(r *http.Request) string { return r.URL.Path }
	}
	log := zerolog.Nop()
	if opts.Logger != nil {
		log = *opts.Logger
	}

	svc := application.Service{
		Limiter:  opts.Limiter,
		Policy:   opts.Policy,
		PolicyFn: opts.PolicyFn,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := opts.KeyFn(r)
			policy := svc.CurrentPolicy()

			dec := svc.Decide(domain.Key(key))
			if opts.Stats != nil {
				err := opts.Stats.Record(r.Context(), domain.StatsEvent{
					Key:     domain.Key(key),
					Policy:  policy.Name,
					Allowed: dec.Allowed,
					Method:  r.Method,
					Path:    opts.RouteFn(r),
					At:      time.Now(),
				})
				if err != nil {
					log.Debug().Err(err).Msg("admission stats record failed")
				}
			}

			if opts.AddRateLimitHeaders && dec.Limit > 0 {
				h := w.Header()
				h.Set("X-RateLimit-Limit", formatInt(dec.Limit))
				h.Set("X-RateLimit-Remaining", formatInt(dec.Remaining))
				h.Set("X-RateLimit-Reset", formatUnix(dec.ResetTime))
				if policy.Name != "" {
					h.Set("X-RateLimit-Policy", policy.Name)
				}
			}

			if !dec.Allowed {
				log.Warn().
					Str("key", key).
					Str("policy", policy.Name).
					Str("path", r.URL.Path).
					Dur("retry_after", dec.RetryAfter).
					Msg("admission denied")
				w.Header().Set("Retry-After", formatRetryAfter(dec.RetryAfter))
				http.Error(w, http.StatusText(opts.RejectStatus), opts.RejectStatus)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
