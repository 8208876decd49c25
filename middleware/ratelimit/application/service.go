package application

import (
	"github.com/louiswin03/crypto-platform-sub003/middleware/ratelimit/domain"
)

// Service concentra a regra de aplicação do controle de admissão.
//
// Ele não sabe nada sobre HTTP (headers/status), apenas retorna uma decisão.
// A política vem de PolicyFn quando definida (permite recarregar configuração
// sem recriar o middleware); senão, de Policy.
type Service struct {
	Limiter  domain.Limiter
	Policy   domain.Policy
	PolicyFn func() domain.Policy
}

func (s Service) CurrentPolicy() domain.Policy {
	if s.PolicyFn != nil {
		return s.PolicyFn()
	}
	return s.Policy
}

// Decide nunca falha. Sem limiter, ou com política inválida, a requisição passa.
func (s Service) Decide(key domain.Key) domain.Decision {
	if s.Limiter == nil {
		return domain.Decision{Allowed: true}
	}
	p := s.CurrentPolicy()
	if p.Validate() != nil {
		return domain.Decision{Allowed: true}
	}
	return s.Limiter.Check(key, p)
}
