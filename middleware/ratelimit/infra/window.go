package infra

import (
	"context"
	"sync"
	"time"

	"github.com/louiswin03/crypto-platform-sub003/middleware/ratelimit/domain"
)

// WindowStore é o controle de admissão em memória: uma janela fixa por
// (política, identidade), com limpeza periódica de janelas vencidas há muito tempo.
//
// Todo o ciclo verificar/incrementar/resetar acontece sob `mu`, então duas
// requisições concorrentes da mesma identidade nunca ocupam a mesma última vaga.
type WindowStore struct {
	mu      sync.Mutex
	windows map[string]*window
	// longest é a maior janela já vista por política; a limpeza nunca usa menos que isso.
	longest      map[string]time.Duration
	now          func() time.Time
	idleTTL      time.Duration
	cleanupEvery time.Duration
}

type window struct {
	policy string
	start  time.Time
	count  int
	// span é a duração da janela na última verificação.
	span time.Duration
}

type WindowOption func(*WindowStore)

// WithIdleTTL define por quanto tempo uma janela já encerrada continua em memória.
func WithIdleTTL(d time.Duration) WindowOption {
	return func(s *WindowStore) { s.idleTTL = d }
}

func WithCleanupEvery(d time.Duration) WindowOption {
	return func(s *WindowStore) { s.cleanupEvery = d }
}

// WithClock troca o relógio (testes).
func WithClock(now func() time.Time) WindowOption {
	return func(s *WindowStore) { s.now = now }
}

func NewWindowStore(opts ...WindowOption) *WindowStore {
	s := &WindowStore{
		windows:      make(map[string]*window),
		longest:      make(map[string]time.Duration),
		now:          time.Now,
		idleTTL:      15 * time.Minute,
		cleanupEvery: 2 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *WindowStore) CleanupEvery() time.Duration { return s.cleanupEvery }

// Check implementa domain.Limiter.
//
// A política deve ser válida (domain.Policy.Validate); quem garante isso é a
// camada application.
func (s *WindowStore) Check(key domain.Key, p domain.Policy) domain.Decision {
	id := windowKey(p.Name, key)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.observe(p)
	now := s.now()
	w, ok := s.windows[id]
	if !ok || now.Sub(w.start) >= p.Window {
		w = &window{policy: p.Name, start: now, count: 1, span: p.Window}
		s.windows[id] = w
		return domain.Decision{
			Allowed:   true,
			Limit:     p.MaxRequests,
			Remaining: p.MaxRequests - 1,
			ResetTime: now.Add(p.Window),
		}
	}

	w.span = p.Window
	reset := w.start.Add(p.Window)
	if w.count < p.MaxRequests {
		w.count++
		return domain.Decision{
			Allowed:   true,
			Limit:     p.MaxRequests,
			Remaining: p.MaxRequests - w.count,
			ResetTime: reset,
		}
	}

	return domain.Decision{
		Allowed:    false,
		Limit:      p.MaxRequests,
		Remaining:  0,
		ResetTime:  reset,
		RetryAfter: reset.Sub(now),
	}
}

// Observe registra a janela de uma política antes de qualquer Check com ela.
// Chamado na recarga de configuração, protege da limpeza as janelas abertas
// com a política antiga que ainda valem pela nova.
func (s *WindowStore) Observe(p domain.Policy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observe(p)
}

func (s *WindowStore) observe(p domain.Policy) {
	if p.Window > s.longest[p.Name] {
		s.longest[p.Name] = p.Window
	}
}

// Len devolve quantas janelas estão em memória.
func (s *WindowStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}

// Cleanup remove janelas encerradas há mais de idleTTL. O fim de cada janela usa
// a maior duração já vista para a política dela. Retorna quantas removeu.
func (s *WindowStore) Cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.idleTTL)
	removed := 0
	for k, w := range s.windows {
		span := max(w.span, s.longest[w.policy])
		if w.start.Add(span).Before(cutoff) {
			delete(s.windows, k)
			removed++
		}
	}
	return removed
}

// StartJanitor inicia uma goroutine que limpa janelas inativas periodicamente.
// Pare cancelando o contexto.
func (s *WindowStore) StartJanitor(ctx context.Context) {
	if s.cleanupEvery <= 0 {
		return
	}

	t := time.NewTicker(s.cleanupEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.Cleanup()
			}
		}
	}()
}

func windowKey(policy string, key domain.Key) string {
	return policy + "|" + string(key)
}

var _ domain.Limiter = (*WindowStore)(nil)
