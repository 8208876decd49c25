package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/louiswin03/crypto-platform-sub003/gateway"
	"github.com/louiswin03/crypto-platform-sub003/middleware/ratelimit/domain"
	"github.com/louiswin03/crypto-platform-sub003/middleware/ratelimit/infra"
	"github.com/louiswin03/crypto-platform-sub003/upstream/cache"
	"github.com/louiswin03/crypto-platform-sub003/upstream/provider"
	"github.com/louiswin03/crypto-platform-sub003/upstream/warmer"
)

func main() {
	boot := zerolog.New(os.Stderr).With().Timestamp().Logger()

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		boot.Warn().Err(err).Msg(".env file not loaded")
	}

	configPath := flag.String("config", os.Getenv("GATEWAY_CONFIG"), "path to the YAML config file")
	flag.Parse()

	v, err := newViper(*configPath)
	if err != nil {
		boot.Fatal().Err(err).Msg("config error")
	}
	cfg, err := readConfig(v)
	if err != nil {
		boot.Fatal().Err(err).Msg("config error")
	}
	log, err := newLogger(cfg.logLevel, cfg.logFormat, os.Stdout)
	if err != nil {
		boot.Fatal().Err(err).Msg("config error")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	policies := newPolicyHolder(cfg.authPolicy, cfg.apiPolicy)

	opts := []gateway.Option{
		gateway.WithLogger(log),
		gateway.WithPolicies(policies.Auth, policies.API),
		gateway.WithKeyHeader(cfg.rateKeyHeader, cfg.trustXFF),
		gateway.WithConcurrency(cfg.concurrencyMax, cfg.concurrencyTimeout),
		gateway.WithAdminToken(cfg.adminToken),
		gateway.WithUpstreamTimeout(cfg.providerTimeout),
		gateway.WithTTLs(cfg.cacheTTLs),
	}

	if cfg.rateEnabled {
		windows := infra.NewWindowStore(
			infra.WithIdleTTL(cfg.rateIdleTTL),
			infra.WithCleanupEvery(cfg.rateCleanupEvery),
		)
		windows.StartJanitor(ctx)
		policies.onReload = windows.Observe
		opts = append(opts, gateway.WithLimiter(windows))
	}
	watchPolicies(v, policies, log)

	if cfg.rateStatsEnabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.rateStatsRedisAddr,
			Password: cfg.rateStatsRedisPassword,
			DB:       cfg.rateStatsRedisDB,
		})
		defer func() { _ = rdb.Close() }()

		pingCtx, cancelPing := context.WithTimeout(ctx, 2*time.Second)
		_, err := rdb.Ping(pingCtx).Result()
		cancelPing()
		if err != nil {
			log.Fatal().Err(err).Msg("redis stats ping error")
		}

		redisStats := infra.NewRedisStatsStore(
			rdb,
			infra.WithStatsPrefix(cfg.rateStatsPrefix),
			infra.WithStatsTTL(cfg.rateStatsTTL),
			infra.WithStatsBucket(cfg.rateStatsBucket),
			infra.WithStatsTrackKeys(cfg.rateStatsTrackKeys),
		)
		opts = append(opts, gateway.WithStatsStore(redisStats), gateway.WithStatsTotals(redisStats.Total))
	}

	if cfg.upstreamURL != "" {
		target, err := url.Parse(cfg.upstreamURL)
		if err != nil {
			log.Fatal().Err(err).Msg("invalid UPSTREAM_URL")
		}
		opts = append(opts, gateway.WithBackend(gateway.NewProxy(target, log)))
	}

	providerOpts := []provider.Option{
		provider.WithRate(cfg.providerRPS, cfg.providerBurst),
		provider.WithLogger(log),
	}
	if cfg.providerMaxInflight > 0 {
		providerOpts = append(providerOpts, provider.WithSlots(infra.NewChanPool(cfg.providerMaxInflight), cfg.providerSlotTimeout))
	}
	if cfg.providerAPIKey != "" {
		providerOpts = append(providerOpts, provider.WithAPIKey(cfg.providerAPIKeyHdr, cfg.providerAPIKey))
	}
	market, err := provider.New(cfg.providerBaseURL, providerOpts...)
	if err != nil {
		log.Fatal().Err(err).Msg("provider client error")
	}

	marketCache := cache.New[json.RawMessage](
		cache.WithShards(cfg.cacheShards),
		cache.WithCleanupEvery(cfg.cacheCleanupEvery),
		cache.WithLogger(log),
	)
	marketCache.StartJanitor(ctx)

	server := gateway.NewServer(marketCache, market, opts...)

	srv := &http.Server{
		Addr:              cfg.listenAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if len(cfg.warmTargets) > 0 {
		w := warmer.Warmer{
			Targets:       cfg.warmTargets,
			MaxGoroutines: cfg.warmParallel,
			Logger:        log,
			Load: func(ctx context.Context, t warmer.Target) error {
				_, _, err := server.Fetch(ctx, t.Endpoint, t.Params)
				return err
			},
		}
		go func() {
			if err := w.Run(ctx); err != nil {
				log.Warn().Err(err).Msg("cache warm-up finished with errors")
				return
			}
			log.Info().Int("targets", len(cfg.warmTargets)).Msg("cache warm-up finished")
		}()
	}

	logStartup(log, cfg)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server error")
	}
}

func logStartup(log zerolog.Logger, cfg config) {
	log.Info().Str("addr", cfg.listenAddr).Str("backend", cfg.upstreamURL).Str("provider", cfg.providerBaseURL).Msg("gateway listening")
	log.Info().
		Bool("enabled", cfg.rateEnabled).
		Str("key_header", cfg.rateKeyHeader).
		Bool("trust_xff", cfg.trustXFF).
		Dict("auth", policyDict(cfg.authPolicy)).
		Dict("api", policyDict(cfg.apiPolicy)).
		Msg("admission")
	log.Info().
		Bool("enabled", cfg.rateStatsEnabled).
		Str("redis_addr", cfg.rateStatsRedisAddr).
		Str("bucket", cfg.rateStatsBucket).
		Dur("ttl", cfg.rateStatsTTL).
		Bool("track_keys", cfg.rateStatsTrackKeys).
		Msg("admission stats")
	log.Info().
		Float64("rps", cfg.providerRPS).
		Int("burst", cfg.providerBurst).
		Int("max_inflight", cfg.providerMaxInflight).
		Dur("timeout", cfg.providerTimeout).
		Int("cache_shards", cfg.cacheShards).
		Int("warm_targets", len(cfg.warmTargets)).
		Msg("upstream")
	log.Info().Int("max", cfg.concurrencyMax).Dur("acquire_timeout", cfg.concurrencyTimeout).Msg("concurrency")
}

func policyDict(p domain.Policy) *zerolog.Event {
	return zerolog.Dict().Int("max", p.MaxRequests).Dur("window", p.Window)
}
