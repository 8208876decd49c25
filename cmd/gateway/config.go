package main

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/louiswin03/crypto-platform-sub003/gateway"
	"github.com/louiswin03/crypto-platform-sub003/middleware/ratelimit/domain"
	"github.com/louiswin03/crypto-platform-sub003/upstream/warmer"
)

// As chaves seguem o formato "grupo.nome"; com o replacer "." -> "_" a variável
// de ambiente correspondente é GRUPO_NOME (ex.: rate.stats.redis_addr -> RATE_STATS_REDIS_ADDR).
func setDefaults(v *viper.Viper) {
	v.SetDefault("listen.addr", ":8080")
	v.SetDefault("upstream.url", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("rate.enabled", true)
	v.SetDefault("rate.key_header", "")
	v.SetDefault("rate.trust_xff", false)
	v.SetDefault("rate.idle_ttl", 15*time.Minute)
	v.SetDefault("rate.cleanup_every", 2*time.Minute)

	v.SetDefault("policy.auth.max", domain.AuthPolicy.MaxRequests)
	v.SetDefault("policy.auth.window", domain.AuthPolicy.Window)
	v.SetDefault("policy.api.max", domain.APIPolicy.MaxRequests)
	v.SetDefault("policy.api.window", domain.APIPolicy.Window)

	v.SetDefault("rate.stats.enabled", false)
	v.SetDefault("rate.stats.redis_addr", "")
	v.SetDefault("rate.stats.redis_password", "")
	v.SetDefault("rate.stats.redis_db", 0)
	v.SetDefault("rate.stats.prefix", "admission:stats")
	v.SetDefault("rate.stats.ttl", 24*time.Hour)
	v.SetDefault("rate.stats.bucket", "minute")
	v.SetDefault("rate.stats.track_keys", false)

	v.SetDefault("concurrency.max", 100)
	v.SetDefault("concurrency.timeout", time.Duration(0))

	v.SetDefault("provider.base_url", "https://api.coingecko.com/api/v3")
	v.SetDefault("provider.api_key", "")
	v.SetDefault("provider.api_key_header", "x-cg-demo-api-key")
	v.SetDefault("provider.rps", 0.5)
	v.SetDefault("provider.burst", 5)
	v.SetDefault("provider.max_inflight", 4)
	v.SetDefault("provider.slot_timeout", 2*time.Second)
	v.SetDefault("provider.timeout", 10*time.Second)

	v.SetDefault("cache.shards", 16)
	v.SetDefault("cache.cleanup_every", time.Minute)

	v.SetDefault("admin.token", "")

	v.SetDefault("warm.targets", []string{})
	v.SetDefault("warm.parallel", 4)
}

type config struct {
	listenAddr  string
	upstreamURL string
	logLevel    string
	logFormat   string

	rateEnabled      bool
	rateKeyHeader    string
	trustXFF         bool
	rateIdleTTL      time.Duration
	rateCleanupEvery time.Duration
	authPolicy       domain.Policy
	apiPolicy        domain.Policy

	rateStatsEnabled       bool
	rateStatsRedisAddr     string
	rateStatsRedisPassword string
	rateStatsRedisDB       int
	rateStatsPrefix        string
	rateStatsTTL           time.Duration
	rateStatsBucket        string
	rateStatsTrackKeys     bool

	concurrencyMax     int
	concurrencyTimeout time.Duration

	providerBaseURL     string
	providerAPIKey      string
	providerAPIKeyHdr   string
	providerRPS         float64
	providerBurst       int
	providerMaxInflight int
	providerSlotTimeout time.Duration
	providerTimeout     time.Duration

	cacheShards       int
	cacheCleanupEvery time.Duration
	cacheTTLs         map[string]time.Duration

	adminToken string

	warmTargets  []warmer.Target
	warmParallel int
}

// newViper monta a configuração: padrões, arquivo opcional e variáveis de ambiente.
// Sem path explícito procura gateway.yaml no diretório atual e em ./config; a ausência não é erro.
func newViper(path string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("gateway")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("config")
	}
	// AutomaticEnv só enxerga chaves conhecidas; os TTLs por endpoint são ligados um a um
	// (cache.ttl.simple-price -> CACHE_TTL_SIMPLE_PRICE).
	for name := range gateway.DefaultTTLs {
		if err := v.BindEnv(ttlKey(name), envName(ttlKey(name))); err != nil {
			return nil, fmt.Errorf("bind %s: %w", ttlKey(name), err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return v, nil
}

func ttlKey(endpoint string) string { return "cache.ttl." + endpoint }

func envName(key string) string {
	return strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(key))
}

func readConfig(v *viper.Viper) (config, error) {
	cfg := config{
		listenAddr:  v.GetString("listen.addr"),
		upstreamURL: strings.TrimSpace(v.GetString("upstream.url")),
		logLevel:    v.GetString("log.level"),
		logFormat:   v.GetString("log.format"),

		rateEnabled:      v.GetBool("rate.enabled"),
		rateKeyHeader:    v.GetString("rate.key_header"),
		trustXFF:         v.GetBool("rate.trust_xff"),
		rateIdleTTL:      v.GetDuration("rate.idle_ttl"),
		rateCleanupEvery: v.GetDuration("rate.cleanup_every"),

		rateStatsEnabled:       v.GetBool("rate.stats.enabled"),
		rateStatsRedisAddr:     v.GetString("rate.stats.redis_addr"),
		rateStatsRedisPassword: v.GetString("rate.stats.redis_password"),
		rateStatsRedisDB:       v.GetInt("rate.stats.redis_db"),
		rateStatsPrefix:        v.GetString("rate.stats.prefix"),
		rateStatsTTL:           v.GetDuration("rate.stats.ttl"),
		rateStatsBucket:        v.GetString("rate.stats.bucket"),
		rateStatsTrackKeys:     v.GetBool("rate.stats.track_keys"),

		concurrencyMax:     v.GetInt("concurrency.max"),
		concurrencyTimeout: v.GetDuration("concurrency.timeout"),

		providerBaseURL:     v.GetString("provider.base_url"),
		providerAPIKey:      v.GetString("provider.api_key"),
		providerAPIKeyHdr:   v.GetString("provider.api_key_header"),
		providerRPS:         v.GetFloat64("provider.rps"),
		providerBurst:       v.GetInt("provider.burst"),
		providerMaxInflight: v.GetInt("provider.max_inflight"),
		providerSlotTimeout: v.GetDuration("provider.slot_timeout"),
		providerTimeout:     v.GetDuration("provider.timeout"),

		cacheShards:       v.GetInt("cache.shards"),
		cacheCleanupEvery: v.GetDuration("cache.cleanup_every"),

		adminToken:   v.GetString("admin.token"),
		warmParallel: v.GetInt("warm.parallel"),
	}

	var err error
	cfg.authPolicy, cfg.apiPolicy, err = readPolicies(v)
	if err != nil {
		return config{}, err
	}

	names := make(map[string]struct{})
	for name := range v.GetStringMapString("cache.ttl") {
		names[name] = struct{}{}
	}
	for name := range gateway.DefaultTTLs {
		names[name] = struct{}{}
	}
	for name := range names {
		raw := strings.TrimSpace(v.GetString(ttlKey(name)))
		if raw == "" {
			continue
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			return config{}, fmt.Errorf("%s: %w", ttlKey(name), err)
		}
		if cfg.cacheTTLs == nil {
			cfg.cacheTTLs = make(map[string]time.Duration)
		}
		cfg.cacheTTLs[name] = d
	}

	for _, raw := range v.GetStringSlice("warm.targets") {
		t, err := warmer.ParseTarget(raw)
		if err != nil {
			return config{}, err
		}
		cfg.warmTargets = append(cfg.warmTargets, t)
	}

	if cfg.rateStatsEnabled && strings.TrimSpace(cfg.rateStatsRedisAddr) == "" {
		return config{}, errors.New("RATE_STATS_REDIS_ADDR is required when RATE_STATS_ENABLED=true")
	}
	if cfg.concurrencyMax < 0 {
		return config{}, errors.New("CONCURRENCY_MAX must be >= 0")
	}
	if cfg.providerRPS < 0 {
		return config{}, errors.New("PROVIDER_RPS must be >= 0")
	}
	if cfg.providerTimeout <= 0 {
		return config{}, errors.New("PROVIDER_TIMEOUT must be > 0")
	}
	if cfg.cacheShards <= 0 {
		return config{}, errors.New("CACHE_SHARDS must be > 0")
	}
	switch cfg.logFormat {
	case "json", "console":
	default:
		return config{}, fmt.Errorf("LOG_FORMAT must be json or console, got %q", cfg.logFormat)
	}
	return cfg, nil
}

func readPolicies(v *viper.Viper) (auth, api domain.Policy, err error) {
	auth = domain.Policy{
		Name:        domain.AuthPolicy.Name,
		MaxRequests: v.GetInt("policy.auth.max"),
		Window:      v.GetDuration("policy.auth.window"),
	}
	api = domain.Policy{
		Name:        domain.APIPolicy.Name,
		MaxRequests: v.GetInt("policy.api.max"),
		Window:      v.GetDuration("policy.api.window"),
	}
	if err := auth.Validate(); err != nil {
		return auth, api, fmt.Errorf("policy.auth: %w", err)
	}
	if err := api.Validate(); err != nil {
		return auth, api, fmt.Errorf("policy.api: %w", err)
	}
	return auth, api, nil
}

// policyHolder guarda as políticas vigentes; o watcher troca os valores sem travar as requisições.
type policyHolder struct {
	auth atomic.Pointer[domain.Policy]
	api  atomic.Pointer[domain.Policy]
	// onReload recebe cada política nova antes de ela entrar em vigor.
	onReload func(domain.Policy)
}

func newPolicyHolder(auth, api domain.Policy) *policyHolder {
	h := &policyHolder{}
	h.set(auth, api)
	return h
}

func (h *policyHolder) set(auth, api domain.Policy) {
	h.auth.Store(&auth)
	h.api.Store(&api)
}

func (h *policyHolder) Auth() domain.Policy { return *h.auth.Load() }
func (h *policyHolder) API() domain.Policy  { return *h.api.Load() }

// reload relê as políticas; uma configuração inválida mantém as anteriores.
func (h *policyHolder) reload(v *viper.Viper, log zerolog.Logger) {
	auth, api, err := readPolicies(v)
	if err != nil {
		log.Warn().Err(err).Msg("config reload rejected, keeping previous policies")
		return
	}
	if h.onReload != nil {
		h.onReload(auth)
		h.onReload(api)
	}
	h.set(auth, api)
	log.Info().
		Int("auth_max", auth.MaxRequests).
		Dur("auth_window", auth.Window).
		Int("api_max", api.MaxRequests).
		Dur("api_window", api.Window).
		Msg("admission policies reloaded")
}

// watchPolicies recarrega as políticas quando o arquivo de configuração muda.
// Sem arquivo carregado não há o que observar.
func watchPolicies(v *viper.Viper, h *policyHolder, log zerolog.Logger) {
	if v.ConfigFileUsed() == "" {
		return
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		log.Debug().Str("file", e.Name).Str("op", e.Op.String()).Msg("config file changed")
		h.reload(v, log)
	})
	v.WatchConfig()
}
