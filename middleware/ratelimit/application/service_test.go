package application

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/louiswin03/crypto-platform-sub003/middleware/ratelimit/domain"
)

type fakeLimiter struct {
	dec    domain.Decision
	calls  int
	policy domain.Policy
}

func (f *fakeLimiter) Check(_ domain.Key, p domain.Policy) domain.Decision {
	f.calls++
	f.policy = p
	return f.dec
}

func TestService_Decide_AllowsWhenNoLimiter(t *testing.T) {
	svc := Service{Policy: domain.AuthPolicy}
	dec := svc.Decide("k")
	assert.True(t, dec.Allowed)
	assert.Zero(t, dec.RetryAfter)
}

func TestService_Decide_AllowsWhenPolicyInvalid(t *testing.T) {
	lim := &fakeLimiter{dec: domain.Decision{Allowed: false}}
	svc := Service{Limiter: lim, Policy: domain.Policy{Name: "broken"}}

	assert.True(t, svc.Decide("k").Allowed)
	assert.Equal(t, 0, lim.calls)
}

func TestService_Decide_DelegatesToLimiter(t *testing.T) {
	want := domain.Decision{Allowed: false, Limit: 5, RetryAfter: 30 * time.Second}
	lim := &fakeLimiter{dec: want}
	svc := Service{Limiter: lim, Policy: domain.AuthPolicy}

	assert.Equal(t, want, svc.Decide("k"))
	assert.Equal(t, domain.AuthPolicy, lim.policy)
}

func TestService_Decide_PolicyFnWins(t *testing.T) {
	lim := &fakeLimiter{dec: domain.Decision{Allowed: true}}
	live := domain.Policy{Name: "auth", MaxRequests: 2, Window: time.Minute}
	svc := Service{
		Limiter:  lim,
		Policy:   domain.AuthPolicy,
		PolicyFn: func() domain.Policy { return live },
	}

	svc.Decide("k")
	assert.Equal(t, live, lim.policy)
}
