package ratelimit

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/louiswin03/crypto-platform-sub003/middleware/ratelimit/application"
	"github.com/louiswin03/crypto-platform-sub003/middleware/ratelimit/domain"
	"github.com/louiswin03/crypto-platform-sub003/middleware/ratelimit/infra"
)

type ConcurrencyOptions struct {
	Max            int
	RejectStatus   int
	AcquireTimeout time.Duration
	// Pool substitui o semáforo padrão (NewChanPool(Max)), ex.: para compartilhar vagas entre grupos de rotas.
	Pool   domain.SlotPool
	Logger *zerolog.Logger
}

// ConcurrencyMiddleware limita quantas requisições de entrada ficam em andamento ao mesmo tempo.
// Sem vaga dentro de AcquireTimeout => RejectStatus (503 por padrão).
func ConcurrencyMiddleware(opts ConcurrencyOptions) func(next http.Handler) http.Handler {
	if opts.Max <= 0 && opts.Pool == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	if opts.RejectStatus == 0 {
		opts.RejectStatus = http.StatusServiceUnavailable
	}
	if opts.Pool == nil {
		opts.Pool = infra.NewChanPool(opts.Max)
	}
	log := zerolog.Nop()
	if opts.Logger != nil {
		log = *opts.Logger
	}

	svc := application.ConcurrencyService{
		Pool:           opts.Pool,
		AcquireTimeout: opts.AcquireTimeout,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			release, ok := svc.Acquire(r.Context())
			if !ok {
				log.Warn().Str("path", r.URL.Path).Int("max", opts.Max).Msg("no concurrency slot available")
				http.Error(w, http.StatusText(opts.RejectStatus), opts.RejectStatus)
				return
			}
			defer release()

			next.ServeHTTP(w, r)
		})
	}
}
