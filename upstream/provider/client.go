package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"
	"golang.org/x/time/rate"

	"github.com/louiswin03/crypto-platform-sub003/middleware/ratelimit/application"
	"github.com/louiswin03/crypto-platform-sub003/middleware/ratelimit/domain"
)

const (
	DefaultBaseURL = "https://api.coingecko.com/api/v3"
	defaultMaxBody = 4 << 20
)

type compiledEndpoint struct {
	Endpoint
	schema *gojsonschema.Schema
}

// Client fala com o provedor de mercado. Seguro para uso concorrente.
type Client struct {
	base      *url.URL
	http      *http.Client
	limiter   *rate.Limiter
	slots     application.ConcurrencyService
	apiKeyHdr string
	apiKey    string
	userAgent string
	maxBody   int64
	defs      []Endpoint
	endpoints map[string]compiledEndpoint
	log       zerolog.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRate limita as chamadas de saída a rps por segundo com rajada burst.
// rps <= 0 desliga o limite.
func WithRate(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithSlots limita quantas chamadas ao provedor ficam abertas ao mesmo tempo.
func WithSlots(pool domain.SlotPool, acquireTimeout time.Duration) Option {
	return func(c *Client) {
		c.slots = application.ConcurrencyService{Pool: pool, AcquireTimeout: acquireTimeout}
	}
}

func WithAPIKey(header, key string) Option {
	return func(c *Client) {
		c.apiKeyHdr = header
		c.apiKey = key
	}
}

func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

func WithMaxBody(n int64) Option {
	return func(c *Client) { c.maxBody = n }
}

func WithEndpoints(eps []Endpoint) Option {
	return func(c *Client) { c.defs = eps }
}

func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) { c.log = log }
}

func New(baseURL string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("provider: invalid base url: %w", err)
	}

	c := &Client{
		base:      base,
		http:      &http.Client{Timeout: 30 * time.Second},
		userAgent: "crypto-platform-gateway",
		maxBody:   defaultMaxBody,
		defs:      MarketEndpoints,
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.endpoints = make(map[string]compiledEndpoint, len(c.defs))
	for _, ep := range c.defs {
		ce := compiledEndpoint{Endpoint: ep}
		if ep.Schema != "" {
			ce.schema, err = gojsonschema.NewSchema(gojsonschema.NewStringLoader(ep.Schema))
			if err != nil {
				return nil, fmt.Errorf("provider: schema for %q: %w", ep.Name, err)
			}
		}
		c.endpoints[ep.Name] = ce
	}
	return c, nil
}

// Endpoint devolve a definição de um endpoint conhecido.
func (c *Client) Endpoint(name string) (Endpoint, bool) {
	ce, ok := c.endpoints[name]
	return ce.Endpoint, ok
}

// Get chama o endpoint `name` com os parâmetros permitidos de `params`.
//
// O prazo da chamada é o do ctx. Qualquer erro aqui (rede, status, payload)
// é a falha que o cache repassa a todos que esperavam pela mesma chave.
func (c *Client) Get(ctx context.Context, name string, params url.Values) (json.RawMessage, error) {
	ep, ok := c.endpoints[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEndpoint, name)
	}
	target, err := c.resolve(ep.Endpoint, params)
	if err != nil {
		return nil, err
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %s: waiting for outbound rate: %w", ErrThrottled, name, err)
		}
	}
	release, ok := c.slots.Acquire(ctx)
	if !ok {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrThrottled, name, err)
		}
		return nil, fmt.Errorf("%w: %s", ErrThrottled, name)
	}
	defer release()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("provider: %s: %w", name, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if c.apiKey != "" && c.apiKeyHdr != "" {
		req.Header.Set(c.apiKeyHdr, c.apiKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provider: %s: %w", name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("provider: %s: reading body: %w", name, err)
	}
	c.log.Debug().
		Str("endpoint", name).
		Int("status", resp.StatusCode).
		Dur("took", time.Since(start)).
		Msg("provider call")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{
			Endpoint:   name,
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
			Body:       truncate(string(body), 512),
		}
	}
	if int64(len(body)) > c.maxBody {
		return nil, fmt.Errorf("provider: %s: response larger than %d bytes", name, c.maxBody)
	}

	if err := ep.validate(body); err != nil {
		return nil, err
	}
	return json.RawMessage(body), nil
}

func (c *Client) resolve(ep Endpoint, params url.Values) (string, error) {
	path := ep.Path
	if ep.NeedsID() {
		id := strings.TrimSpace(params.Get("id"))
		if id == "" {
			return "", fmt.Errorf("%w: %s", ErrMissingID, ep.Name)
		}
		path = strings.ReplaceAll(path, "{id}", url.PathEscape(id))
	}

	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	q := ep.Filter(params)
	q.Del("id")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (ce compiledEndpoint) validate(body []byte) error {
	if ce.schema == nil {
		return nil
	}
	res, err := ce.schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidPayload, ce.Name, err)
	}
	if !res.Valid() {
		msgs := make([]string, 0, len(res.Errors()))
		for _, e := range res.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("%w: %s: %s", ErrInvalidPayload, ce.Name, strings.Join(msgs, "; "))
	}
	return nil
}

// Filter devolve só os parâmetros aceitos pelo endpoint (mais "id" quando o path usa).
// Valores vazios são descartados.
func (e Endpoint) Filter(params url.Values) url.Values {
	out := url.Values{}
	keep := func(k string) {
		for _, v := range params[k] {
			if v = strings.TrimSpace(v); v != "" {
				out.Add(k, v)
			}
		}
	}
	if e.NeedsID() {
		keep("id")
	}
	for _, k := range e.Params {
		keep(k)
	}
	return out
}

func containsID(path string) bool { return strings.Contains(path, "{id}") }

func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil && t.After(now) {
		return t.Sub(now)
	}
	return 0
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// IsRateLimited indica se err é um 429 do provedor.
func IsRateLimited(err error) (*StatusError, bool) {
	var se *StatusError
	if errors.As(err, &se) && se.RateLimited() {
		return se, true
	}
	return nil, false
}
