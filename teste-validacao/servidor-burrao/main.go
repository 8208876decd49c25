// Provedor de mercado falso e lento, para validar a coalescência à mão:
//
//	PROVIDER_BASE_URL=http://localhost:8082 go run ./cmd/gateway
//	for i in $(seq 20); do curl -s -o /dev/null -D - localhost:8080/api/market/global & done
//
// O log mostra uma única chamada ao provedor por janela de cache.
package main

import (
	"fmt"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()

	delay := 2 * time.Second
	if v := os.Getenv("DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			delay = d
		}
	}

	var hits atomic.Int64
	slow := func(body string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			n := hits.Add(1)
			log.Info().Int64("hit", n).Str("path", r.URL.Path).Str("query", r.URL.RawQuery).Msg("provider called")
			time.Sleep(delay)
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, body)
		}
	}

	http.HandleFunc("/global", slow(`{"data":{"active_cryptocurrencies":1}}`))
	http.HandleFunc("/search/trending", slow(`{"coins":[]}`))
	http.HandleFunc("/coins/markets", slow(`[{"id":"bitcoin","current_price":64000}]`))
	http.HandleFunc("/simple/price", slow(`{"bitcoin":{"usd":64000}}`))

	log.Info().Str("addr", ":8082").Dur("delay", delay).Msg("slow provider running")
	if err := http.ListenAndServe(":8082", nil); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
}
