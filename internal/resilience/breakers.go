package resilience

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/shaiso/dagflow/internal/clock"
	"github.com/shaiso/dagflow/internal/telemetry"
)

// Breakers — реестр circuit breaker по имени операции.
type Breakers struct {
	config BreakerConfig
	clock  clock.Clock
	logger *slog.Logger

	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
}

// NewBreakers создаёт пустой реестр.
func NewBreakers(config BreakerConfig, clk clock.Clock, logger *slog.Logger) *Breakers {
	return &Breakers{
		config:   config,
		clock:    clock.OrReal(clk),
		logger:   telemetry.OrDefault(logger),
		breakers: make(map[string]*CircuitBreaker),
	}
}

// Get возвращает breaker операции, создавая его при первом обращении.
func (p *Breakers) Get(name string) *CircuitBreaker {
	p.mu.RLock()
	b, ok := p.breakers[name]
	p.mu.RUnlock()
	if ok {
		return b
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if b, ok := p.breakers[name]; ok {
		return b
	}
	b = NewCircuitBreaker(name, p.config, p.clock, p.logger)
	p.breakers[name] = b
	return b
}

// Remove удаляет breaker операции (например, после снятия исполнителя).
func (p *Breakers) Remove(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.breakers, name)
	telemetry.CircuitBreakerState.DeleteLabelValues(name)
}

// Snapshot возвращает состояния всех breaker.
func (p *Breakers) Snapshot() map[string]State {
	p.mu.RLock()
	names := make([]string, 0, len(p.breakers))
	list := make([]*CircuitBreaker, 0, len(p.breakers))
	for name, b := range p.breakers {
		names = append(names, name)
		list = append(list, b)
	}
	p.mu.RUnlock()

	out := make(map[string]State, len(list))
	for i, b := range list {
		out[names[i]] = b.State()
	}
	return out
}

// Names возвращает имена операций по алфавиту.
func (p *Breakers) Names() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	names := make([]string, 0, len(p.breakers))
	for name := range p.breakers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
