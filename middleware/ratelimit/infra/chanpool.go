package infra

import (
	"context"

	"github.com/louiswin03/crypto-platform-sub003/middleware/ratelimit/domain"
)

type chanPool struct {
	sem chan struct{}
}

// NewChanPool cria um semáforo baseado em channel com capacidade `max`.
// Com max <= 0 não há limite: Acquire sempre consegue vaga.
func NewChanPool(max int) domain.SlotPool {
	if max <= 0 {
		return unboundedPool{}
	}
	return &chanPool{sem: make(chan struct{}, max)}
}

func (p *chanPool) Acquire(ctx context.Context) (func(), bool) {
	select {
	case p.sem <- struct{}{}:
		return func() { <-p.sem }, true
	case <-ctx.Done():
		return nil, false
	}
}

type unboundedPool struct{}

func (unboundedPool) Acquire(context.Context) (func(), bool) { return func() {}, true }
