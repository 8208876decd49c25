// Package provider é o cliente HTTP do provedor de dados de mercado (API no
// formato CoinGecko v3).
//
// O cliente limita a própria taxa de saída (golang.org/x/time/rate) e, opcionalmente,
// quantas chamadas ficam abertas ao mesmo tempo, para que misses do cache nunca
// martelem o provedor. As respostas são devolvidas como JSON cru; só a forma geral
// de cada endpoint é conferida contra um JSON Schema antes de virar valor de cache.
package provider
