package domain

// Camada de domínio do controle de admissão (janela fixa por identidade).
//
// Regras e contratos (interfaces/tipos) sem dependência de net/http.

import (
	"errors"
	"time"
)

type Key string

// Policy define quantas requisições uma identidade pode fazer dentro de uma janela.
//
// Name separa os contadores: a mesma identidade tem janelas independentes
// em políticas diferentes (ex.: "auth" e "api").
type Policy struct {
	Name        string
	MaxRequests int
	Window      time.Duration
}

var (
	ErrInvalidMaxRequests = errors.New("policy: max requests must be > 0")
	ErrInvalidWindow      = errors.New("policy: window must be > 0")
)

func (p Policy) Validate() error {
	if p.MaxRequests <= 0 {
		return ErrInvalidMaxRequests
	}
	if p.Window <= 0 {
		return ErrInvalidWindow
	}
	return nil
}

// Presets usados pelo gateway. São valores de configuração, não estado do limiter.
var (
	// AuthPolicy é a política restrita dos endpoints de autenticação (login/registro).
	AuthPolicy = Policy{Name: "auth", MaxRequests: 5, Window: 15 * time.Minute}
	// APIPolicy é a política geral da API.
	APIPolicy = Policy{Name: "api", MaxRequests: 100, Window: time.Minute}
)

// Limiter decide se a identidade `key` pode prosseguir sob a política `p`.
//
// Esgotar a janela não é erro: a resposta vem em Decision.Allowed=false.
type Limiter interface {
	Check(key Key, p Policy) Decision
}

type Decision struct {
	Allowed bool
	// Limit é o MaxRequests da política aplicada.
	Limit     int
	Remaining int
	// ResetTime é o fim da janela corrente (windowStart + window).
	ResetTime time.Time
	// RetryAfter é o tempo até ResetTime quando bloqueado. Zero quando permitido.
	RetryAfter time.Duration
}
