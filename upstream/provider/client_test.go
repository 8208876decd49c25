package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/louiswin03/crypto-platform-sub003/middleware/ratelimit/infra"
)

func newTestClient(t *testing.T, h http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c, err := New(srv.URL+"/api/v3", opts...)
	require.NoError(t, err)
	return c
}

func TestClient_GetMarkets(t *testing.T) {
	var gotPath, gotQuery, gotKey string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotKey = r.Header.Get("x-cg-demo-api-key")
		_, _ = w.Write([]byte(`[{"id":"bitcoin","current_price":64000}]`))
	}, WithAPIKey("x-cg-demo-api-key", "secret"))

	params := url.Values{"vs_currency": {"usd"}, "ids": {"bitcoin"}, "evil": {"1"}}
	raw, err := c.Get(context.Background(), "markets", params)
	require.NoError(t, err)

	var coins []map[string]any
	require.NoError(t, json.Unmarshal(raw, &coins))
	assert.Equal(t, "bitcoin", coins[0]["id"])

	assert.Equal(t, "/api/v3/coins/markets", gotPath)
	assert.Equal(t, "ids=bitcoin&vs_currency=usd", gotQuery)
	assert.Equal(t, "secret", gotKey)
}

func TestClient_PathID(t *testing.T) {
	var gotPath, gotQuery string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		_, _ = w.Write([]byte(`{"prices":[[1,2]]}`))
	})

	_, err := c.Get(context.Background(), "market-chart", url.Values{"id": {"ethereum"}, "vs_currency": {"usd"}, "days": {"7"}})
	require.NoError(t, err)
	assert.Equal(t, "/api/v3/coins/ethereum/market_chart", gotPath)
	assert.Equal(t, "days=7&vs_currency=usd", gotQuery)

	_, err = c.Get(context.Background(), "market-chart", url.Values{"vs_currency": {"usd"}})
	assert.ErrorIs(t, err, ErrMissingID)
}

func TestClient_UnknownEndpoint(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("no request expected")
	})
	_, err := c.Get(context.Background(), "nope", nil)
	assert.ErrorIs(t, err, ErrUnknownEndpoint)
}

func TestClient_StatusErrorCarriesRetryAfter(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"status":{"error_code":429}}`))
	})

	_, err := c.Get(context.Background(), "global", nil)
	require.Error(t, err)

	se, ok := IsRateLimited(err)
	require.True(t, ok)
	assert.Equal(t, 429, se.StatusCode)
	assert.Equal(t, 30*time.Second, se.RetryAfter)
	assert.Contains(t, se.Body, "error_code")
}

func TestClient_InvalidPayload(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"not":"an array"}`))
	})

	_, err := c.Get(context.Background(), "markets", url.Values{"vs_currency": {"usd"}})
	assert.ErrorIs(t, err, ErrInvalidPayload)

	c = newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>maintenance</html>`))
	})
	_, err = c.Get(context.Background(), "global", nil)
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestClient_BodyLimit(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":"0123456789012345678901234567890123456789"}`))
	}, WithMaxBody(16))

	_, err := c.Get(context.Background(), "global", nil)
	assert.ErrorContains(t, err, "larger than 16 bytes")
}

func TestClient_DeadlineFromContext(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := c.Get(ctx, "global", nil)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestClient_OutboundRateIsThrottled(t *testing.T) {
	var hits atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`{"data":{}}`))
	}, WithRate(20, 1))

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := c.Get(context.Background(), "global", nil)
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
	assert.Equal(t, int32(3), hits.Load())
}

func TestClient_RateWaitBeyondDeadlineIsThrottled(t *testing.T) {
	var hits atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`{"data":{}}`))
	}, WithRate(0.1, 1))

	_, err := c.Get(context.Background(), "global", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err = c.Get(ctx, "global", nil)
	assert.ErrorIs(t, err, ErrThrottled)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, int32(1), hits.Load())
}

func TestEndpoint_Filter(t *testing.T) {
	ep := MarketEndpoints[0]
	got := ep.Filter(url.Values{"vs_currency": {"usd"}, "page": {" "}, "id": {"x"}, "foo": {"bar"}})
	assert.Equal(t, url.Values{"vs_currency": {"usd"}}, got)
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, 5*time.Second, parseRetryAfter("5", now))
	assert.Equal(t, time.Duration(0), parseRetryAfter("", now))
	assert.Equal(t, time.Duration(0), parseRetryAfter("soon", now))
	assert.Equal(t, 90*time.Second, parseRetryAfter(now.Add(90*time.Second).Format(http.TimeFormat), now))
}

func TestNew_RejectsBrokenSchema(t *testing.T) {
	_, err := New("http://example", WithEndpoints([]Endpoint{{Name: "x", Path: "/x", Schema: `{not json`}}))
	assert.Error(t, err)
}

func TestClient_SlotsBoundOutboundCalls(t *testing.T) {
	pool := infra.NewChanPool(1)
	release, ok := pool.Acquire(context.Background())
	require.True(t, ok)
	defer release()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("no request expected while the only slot is held")
	}, WithSlots(pool, 10*time.Millisecond))

	_, err := c.Get(context.Background(), "global", nil)
	assert.ErrorIs(t, err, ErrThrottled)
}
