package warmer

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTarget(t *testing.T) {
	tg, err := ParseTarget(" markets?vs_currency=usd&per_page=50 ")
	require.NoError(t, err)
	assert.Equal(t, "markets", tg.Endpoint)
	assert.Equal(t, url.Values{"vs_currency": {"usd"}, "per_page": {"50"}}, tg.Params)
	assert.Equal(t, "markets?per_page=50&vs_currency=usd", tg.String())

	tg, err = ParseTarget("global")
	require.NoError(t, err)
	assert.Equal(t, "global", tg.String())

	_, err = ParseTarget("?x=1")
	assert.Error(t, err)
}

func TestWarmer_LoadsAllTargetsAndAggregatesErrors(t *testing.T) {
	var (
		mu     sync.Mutex
		loaded []string
	)
	boom := errors.New("boom")

	w := Warmer{
		Targets: []Target{{Endpoint: "global"}, {Endpoint: "trending"}, {Endpoint: "broken"}},
		Load: func(_ context.Context, t Target) error {
			mu.Lock()
			loaded = append(loaded, t.Endpoint)
			mu.Unlock()
			if t.Endpoint == "broken" {
				return boom
			}
			return nil
		},
		MaxGoroutines: 2,
	}

	err := w.Run(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.ElementsMatch(t, []string{"global", "trending", "broken"}, loaded)
}

func TestWarmer_NoTargets(t *testing.T) {
	assert.NoError(t, Warmer{}.Run(context.Background()))
}
