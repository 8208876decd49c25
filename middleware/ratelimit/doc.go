// Package ratelimit fornece adapters HTTP (net/http) para o controle de admissão
// por identidade e para limite de concorrência.
//
// Visão geral (camadas):
//
//   - domain: contratos e tipos (Policy, Decision, Limiter) sem dependência de net/http
//   - application: casos de uso (decisão allow/deny, acquire/timeout) sem net/http
//   - infra: implementações concretas (janela fixa em memória, semáforo, estatísticas)
//   - ratelimit (este pacote): middlewares HTTP + extração de chave + tradução para status/headers
//
// Fluxo no gateway:
//
//  1. Extrai a identidade do cliente (header/XFF/RemoteAddr)
//  2. Chama a camada application com a política do grupo de rotas (ex.: "auth")
//  3. Se bloqueado, responde 429 com Retry-After (ou 503 no limite de concorrência)
//  4. Se permitido, chama o próximo handler (ex.: reverse proxy para o backend)
package ratelimit
