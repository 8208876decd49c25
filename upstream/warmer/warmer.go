// Package warmer pré-carrega o cache de mercado na subida do gateway, pelo mesmo
// caminho de leitura usado pelos handlers.
package warmer

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"
)

// Target é um endpoint de mercado com seus parâmetros.
type Target struct {
	Endpoint string
	Params   url.Values
}

func (t Target) String() string {
	if len(t.Params) == 0 {
		return t.Endpoint
	}
	return t.Endpoint + "?" + t.Params.Encode()
}

// ParseTarget lê "endpoint?query" (ex.: "markets?vs_currency=usd&per_page=50").
func ParseTarget(s string) (Target, error) {
	s = strings.TrimSpace(s)
	name, query, _ := strings.Cut(s, "?")
	if name == "" {
		return Target{}, fmt.Errorf("warmer: empty endpoint in %q", s)
	}
	params, err := url.ParseQuery(query)
	if err != nil {
		return Target{}, fmt.Errorf("warmer: target %q: %w", s, err)
	}
	return Target{Endpoint: name, Params: params}, nil
}

// LoadFunc carrega um alvo (normalmente passando pelo cache).
type LoadFunc func(ctx context.Context, t Target) error

type Warmer struct {
	Targets []Target
	Load    LoadFunc
	// MaxGoroutines limita o paralelismo. <= 0 usa 4.
	MaxGoroutines int
	Logger        zerolog.Logger
}

// Run carrega todos os alvos e devolve os erros agregados.
// Um alvo com falha não interrompe os outros.
func (w Warmer) Run(ctx context.Context) error {
	if w.Load == nil || len(w.Targets) == 0 {
		return nil
	}
	n := w.MaxGoroutines
	if n <= 0 {
		n = 4
	}

	p := pool.New().WithMaxGoroutines(n).WithContext(ctx)
	for _, t := range w.Targets {
		p.Go(func(ctx context.Context) error {
			start := time.Now()
			if err := w.Load(ctx, t); err != nil {
				w.Logger.Warn().Err(err).Str("target", t.String()).Msg("cache warm-up failed")
				return fmt.Errorf("warm %s: %w", t, err)
			}
			w.Logger.Debug().Str("target", t.String()).Dur("took", time.Since(start)).Msg("cache warmed")
			return nil
		})
	}
	return p.Wait()
}
