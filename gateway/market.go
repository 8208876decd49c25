package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/louiswin03/crypto-platform-sub003/upstream/cache"
	"github.com/louiswin03/crypto-platform-sub003/upstream/provider"
)

// Namespace é o prefixo das chaves de cache do provedor de mercado.
const Namespace = "coingecko"

// DefaultTTLs por endpoint do provedor.
var DefaultTTLs = map[string]time.Duration{
	"markets":      cache.Short,
	"simple-price": cache.Short,
	"trending":     cache.Medium,
	"global":       cache.Medium,
	"market-chart": cache.Long,
	"coin":         cache.Long,
}

var errForbidden = errors.New("invalid admin token")

// MarketKey monta a chave de cache de um endpoint com os parâmetros já filtrados.
// Os parâmetros entram ordenados pelo nome, então a ordem da query string não importa.
func MarketKey(endpoint string, params url.Values) string {
	names := make([]string, 0, len(params))
	for k := range params {
		names = append(names, k)
	}
	sort.Strings(names)

	parts := make([]any, 0, len(names))
	for _, k := range names {
		parts = append(parts, k+"="+strings.Join(params[k], ","))
	}
	return cache.BuildKey(Namespace, endpoint, parts...)
}

func (s *Server) ttlFor(endpoint string) time.Duration {
	if d, ok := s.ttls[endpoint]; ok {
		return d
	}
	return cache.Short
}

// marketParams resolve o endpoint e filtra os parâmetros da requisição.
func (s *Server) marketParams(name string, query url.Values, id string) (url.Values, error) {
	ep, ok := s.market.Endpoint(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", provider.ErrUnknownEndpoint, name)
	}
	if id != "" {
		query = cloneValues(query)
		query.Set("id", id)
	}
	params := ep.Filter(query)
	if ep.NeedsID() && params.Get("id") == "" {
		return nil, fmt.Errorf("%w: %s", provider.ErrMissingID, name)
	}
	return params, nil
}

// Fetch lê um endpoint de mercado pelo cache. A produção roda com prazo próprio,
// desligado do cancelamento de ctx, porque o resultado é compartilhado com
// todos os que esperam pela mesma chave.
func (s *Server) Fetch(ctx context.Context, name string, query url.Values) (json.RawMessage, cache.Outcome, error) {
	params, err := s.marketParams(name, query, "")
	if err != nil {
		return nil, 0, err
	}
	return s.fetch(ctx, name, params)
}

func (s *Server) fetch(ctx context.Context, name string, params url.Values) (json.RawMessage, cache.Outcome, error) {
	key := MarketKey(name, params)
	base := context.WithoutCancel(ctx)
	return s.cache.FetchOutcome(key, s.ttlFor(name), func() (json.RawMessage, error) {
		pctx, cancel := context.WithTimeout(base, s.upstreamTimeout)
		defer cancel()
		return s.market.Get(pctx, name, params)
	})
}

func (s *Server) handleMarket(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "endpoint")
	params, err := s.marketParams(name, r.URL.Query(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeUpstreamError(w, r, err)
		return
	}

	body, outcome, err := s.fetch(r.Context(), name, params)
	if err != nil {
		s.writeUpstreamError(w, r, err)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "application/json")
	h.Set("X-Cache", outcome.String())
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		writeError(w, s.log, http.StatusForbidden, errForbidden)
		return
	}
	name := chi.URLParam(r, "endpoint")
	params, err := s.marketParams(name, r.URL.Query(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeUpstreamError(w, r, err)
		return
	}

	key := MarketKey(name, params)
	s.cache.Delete(key)
	s.log.Info().
		Str("key", key).
		Str("request_id", RequestIDFrom(r.Context())).
		Msg("cache entry invalidated")
	w.WriteHeader(http.StatusNoContent)
}

// authorized aceita "Authorization: Bearer <token>" ou "X-Admin-Token".
func (s *Server) authorized(r *http.Request) bool {
	if s.adminToken == "" {
		return false
	}
	got := r.Header.Get("X-Admin-Token")
	if v, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		got = strings.TrimSpace(v)
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(s.adminToken)) == 1
}

// writeUpstreamError traduz falhas de resolução e de produção em status HTTP.
func (s *Server) writeUpstreamError(w http.ResponseWriter, r *http.Request, err error) {
	var se *provider.StatusError
	status := http.StatusBadGateway
	switch {
	case errors.Is(err, provider.ErrUnknownEndpoint):
		status = http.StatusNotFound
	case errors.Is(err, provider.ErrMissingID):
		status = http.StatusBadRequest
	case errors.As(err, &se) && se.RateLimited():
		status = http.StatusServiceUnavailable
		if se.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int((se.RetryAfter+time.Second-1)/time.Second)))
		}
	case errors.Is(err, provider.ErrThrottled):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	s.log.Debug().Err(err).Str("path", r.URL.Path).Int("status", status).Msg("market request failed")
	writeError(w, s.log, status, err)
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v)+1)
	for k, vs := range v {
		out[k] = append([]string(nil), vs...)
	}
	return out
}
