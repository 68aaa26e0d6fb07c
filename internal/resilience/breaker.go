package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shaiso/dagflow/internal/clock"
	"github.com/shaiso/dagflow/internal/telemetry"
)

// State — состояние circuit breaker.
//
// Переходы:
//
//	CLOSED → OPEN       после FailureThreshold подряд неудачных вызовов
//	OPEN → HALF_OPEN    после Cooldown
//	HALF_OPEN → CLOSED  при успехе пробного вызова
//	HALF_OPEN → OPEN    при неудаче пробного вызова
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// String возвращает строковое представление State.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// BreakerConfig — настройки circuit breaker.
type BreakerConfig struct {
	// FailureThreshold — число подряд неудачных вызовов до открытия.
	// По умолчанию: 5
	FailureThreshold int

	// Cooldown — время в OPEN до пробного вызова.
	// По умолчанию: 30s
	Cooldown time.Duration

	// OnStateChange вызывается после каждой смены состояния.
	OnStateChange func(name string, from, to State)
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Second
	}
	return c
}

// CircuitBreaker — breaker одной операции.
//
// Всё состояние защищено мьютексом: переходы атомарны для конкурентных вызовов.
// В HALF_OPEN пропускается ровно один пробный вызов.
type CircuitBreaker struct {
	name   string
	config BreakerConfig
	clock  clock.Clock
	logger *slog.Logger

	mu            sync.Mutex
	state         State
	failures      int
	openedAt      time.Time
	trialInFlight bool
}

// NewCircuitBreaker создаёт breaker в состоянии CLOSED.
func NewCircuitBreaker(name string, config BreakerConfig, clk clock.Clock, logger *slog.Logger) *CircuitBreaker {
	return &CircuitBreaker{
		name:   name,
		config: config.withDefaults(),
		clock:  clock.OrReal(clk),
		logger: telemetry.OrDefault(logger).With("component", "circuit-breaker", "name", name),
		state:  StateClosed,
	}
}

// Name возвращает имя операции.
func (b *CircuitBreaker) Name() string {
	return b.name
}

// Execute выполняет fn, если breaker пропускает вызов.
//
// Отмена контекста вызывающим не считается ни успехом, ни отказом.
// Permanent-ошибки означают, что удалённая сторона ответила, и считаются успехом.
func (b *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := b.Allow(); err != nil {
		return err
	}

	err := fn(ctx)

	switch {
	case err == nil, IsPermanent(err):
		b.OnSuccess()
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		b.release()
	default:
		b.OnFailure()
	}
	return err
}

// Allow решает, можно ли выполнить вызов.
// Возвращает ErrCircuitOpen, если вызов отклонён.
func (b *CircuitBreaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.currentState() {
	case StateClosed:
		return nil
	case StateHalfOpen:
		if b.trialInFlight {
			return fmt.Errorf("%w: %s: trial call in progress", ErrCircuitOpen, b.name)
		}
		b.trialInFlight = true
		return nil
	default:
		retryAt := b.openedAt.Add(b.config.Cooldown)
		return fmt.Errorf("%w: %s: retry after %s", ErrCircuitOpen, b.name, retryAt.Format(time.RFC3339))
	}
}

// OnSuccess фиксирует успешный вызов.
func (b *CircuitBreaker) OnSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	if b.currentState() == StateHalfOpen {
		b.trialInFlight = false
		b.setState(StateClosed)
	}
}

// OnFailure фиксирует неудачный вызов.
func (b *CircuitBreaker) OnFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.currentState() {
	case StateHalfOpen:
		b.trialInFlight = false
		b.openedAt = b.clock.Now()
		b.setState(StateOpen)
	case StateClosed:
		b.failures++
		if b.failures >= b.config.FailureThreshold {
			b.openedAt = b.clock.Now()
			b.setState(StateOpen)
		}
	}
}

// release снимает резерв пробного вызова без изменения состояния.
func (b *CircuitBreaker) release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trialInFlight = false
}

// State возвращает текущее состояние.
func (b *CircuitBreaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentState()
}

// Failures возвращает число подряд неудачных вызовов.
func (b *CircuitBreaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Reset возвращает breaker в CLOSED.
func (b *CircuitBreaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.trialInFlight = false
	b.setState(StateClosed)
}

// currentState переводит OPEN в HALF_OPEN по истечении cooldown.
// Вызывается под мьютексом.
func (b *CircuitBreaker) currentState() State {
	if b.state == StateOpen && !b.clock.Now().Before(b.openedAt.Add(b.config.Cooldown)) {
		b.trialInFlight = false
		b.setState(StateHalfOpen)
	}
	return b.state
}

// setState меняет состояние. Вызывается под мьютексом.
func (b *CircuitBreaker) setState(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to

	b.logger.Info("circuit breaker state change",
		"from", from.String(),
		"to", to.String(),
		"failures", b.failures,
	)
	telemetry.CircuitBreakerState.WithLabelValues(b.name).Set(float64(to))

	if b.config.OnStateChange != nil {
		go b.config.OnStateChange(b.name, from, to)
	}
}
