package cache

import "time"

// Presets de TTL para quem chama. O cache em si não usa nenhum deles.
const (
	// Short serve preços e listas de mercado, que mudam a cada poucos segundos no provedor.
	Short = 30 * time.Second
	// Medium serve agregados (trending, global).
	Medium = 5 * time.Minute
	// Long serve metadados de moedas e séries históricas.
	Long = 30 * time.Minute
)
