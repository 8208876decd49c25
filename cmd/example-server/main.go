package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/louiswin03/crypto-platform-sub003/middleware/ratelimit"
	"github.com/louiswin03/crypto-platform-sub003/middleware/ratelimit/domain"
	"github.com/louiswin03/crypto-platform-sub003/middleware/ratelimit/infra"
	"github.com/louiswin03/crypto-platform-sub003/upstream/cache"
	"github.com/louiswin03/crypto-platform-sub003/upstream/provider"
)

func main() {
	// Exemplo: cache e controle de admissão embutidos no seu webserver (sem o gateway)
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Timestamp().Logger()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	windows := infra.NewWindowStore()
	windows.StartJanitor(ctx)

	prices := cache.New[json.RawMessage](cache.WithLogger(log))
	prices.StartJanitor(ctx)

	market, err := provider.New(os.Getenv("PROVIDER_BASE_URL"), provider.WithRate(0.5, 3))
	if err != nil {
		log.Fatal().Err(err).Msg("provider client error")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/price", func(w http.ResponseWriter, r *http.Request) {
		ids := r.URL.Query().Get("ids")
		if ids == "" {
			ids = "bitcoin"
		}
		params := url.Values{"ids": {ids}, "vs_currencies": {"usd"}}

		body, outcome, err := prices.FetchOutcome(cache.BuildKey("example", "price", ids), cache.Short, func() (json.RawMessage, error) {
			pctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return market.Get(pctx, "simple-price", params)
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Cache", outcome.String())
		_, _ = w.Write(body)
	})

	h := http.Handler(mux)
	h = ratelimit.ConcurrencyMiddleware(ratelimit.ConcurrencyOptions{Max: 50, Logger: &log})(h)
	h = ratelimit.Middleware(ratelimit.Options{
		Limiter:             windows,
		Policy:              domain.Policy{Name: "example", MaxRequests: 20, Window: time.Minute},
		KeyHeader:           "X-Api-Key", // ou vazio para usar IP
		TrustXForwardedFor:  true,
		AddRateLimitHeaders: true,
		Logger:              &log,
	})(h)

	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", addr).Msg("example server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server error")
	}
}
