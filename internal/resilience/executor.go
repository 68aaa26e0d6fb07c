package resilience

import (
	"context"
	"log/slog"
	"time"

	"github.com/shaiso/dagflow/internal/clock"
	"github.com/shaiso/dagflow/internal/domain"
	"github.com/shaiso/dagflow/internal/telemetry"
)

// Config — настройки Executor.
type Config struct {
	// Retry — локальные повторы одного удалённого вызова.
	// По умолчанию: 3 попытки, 100ms..2s, множитель 2.
	Retry domain.RetryPolicy

	// Timeout — таймаут одной попытки.
	// По умолчанию: 10s
	Timeout time.Duration

	// Breaker — настройки breaker для каждой операции.
	Breaker BreakerConfig

	Clock  clock.Clock
	Logger *slog.Logger

	// Sleep — ожидание между попытками (подменяется в тестах).
	Sleep Sleeper
}

// DefaultRetry — локальная политика повторов по умолчанию.
var DefaultRetry = domain.RetryPolicy{
	MaxAttempts:       3,
	InitialDelayMs:    100,
	MaxDelayMs:        2000,
	BackoffMultiplier: 2,
}

// Executor применяет retry, breaker и таймаут к именованной операции.
type Executor struct {
	config   Config
	breakers *Breakers
	logger   *slog.Logger
}

// New создаёт Executor.
func New(cfg Config) *Executor {
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = DefaultRetry
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Sleep == nil {
		cfg.Sleep = SleepContext
	}
	logger := telemetry.OrDefault(cfg.Logger)

	return &Executor{
		config:   cfg,
		breakers: NewBreakers(cfg.Breaker, cfg.Clock, logger),
		logger:   logger.With("component", "resilience"),
	}
}

// Execute выполняет fn под именем name.
func (e *Executor) Execute(ctx context.Context, name string, fn func(context.Context) error) error {
	breaker := e.breakers.Get(name)

	attempt := 0
	err := Retry(ctx, e.config.Retry, e.config.Sleep, func(ctx context.Context) error {
		attempt++
		return breaker.Execute(ctx, func(ctx context.Context) error {
			return WithTimeout(ctx, e.config.Timeout, fn)
		})
	})

	if err != nil {
		e.logger.Debug("resilient call failed",
			"operation", name,
			"attempts", attempt,
			"breaker", breaker.State().String(),
			"error", err,
		)
	}
	return err
}

// Breakers возвращает реестр breaker.
func (e *Executor) Breakers() *Breakers {
	return e.breakers
}
