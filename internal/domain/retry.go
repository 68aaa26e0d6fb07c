package domain

import (
	"math"
	"time"
)

// RetryPolicy — политика повторных попыток узла.
//
// Попытки нумеруются с 1. Задержка перед следующей попыткой:
//
//	min(InitialDelayMs * BackoffMultiplier^attempt, MaxDelayMs)
type RetryPolicy struct {
	// MaxAttempts — максимальное число попыток (включая первую).
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts"`

	// InitialDelayMs — базовая задержка в миллисекундах.
	InitialDelayMs int64 `json:"initial_delay_ms" yaml:"initial_delay_ms"`

	// MaxDelayMs — верхняя граница задержки. 0 — без ограничения.
	MaxDelayMs int64 `json:"max_delay_ms" yaml:"max_delay_ms"`

	// BackoffMultiplier — множитель экспоненциального роста.
	BackoffMultiplier float64 `json:"backoff_multiplier" yaml:"backoff_multiplier"`
}

// DefaultRetryPolicy — политика по умолчанию, если ни узел, ни определение её не задают.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:       3,
	InitialDelayMs:    1000,
	MaxDelayMs:        60000,
	BackoffMultiplier: 2,
}

// ShouldRetry возвращает true, если после попытки attempt разрешена ещё одна.
func (p RetryPolicy) ShouldRetry(attempt int) bool {
	return attempt < p.MaxAttempts
}

// CalculateDelay возвращает задержку перед повтором после попытки attempt.
//
// Неубывает по attempt и не превышает MaxDelayMs.
func (p RetryPolicy) CalculateDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	mult := p.BackoffMultiplier
	if mult < 1 {
		mult = 1
	}
	initial := float64(p.InitialDelayMs)
	if initial < 0 {
		initial = 0
	}

	delay := initial * math.Pow(mult, float64(attempt))
	if p.MaxDelayMs > 0 && delay > float64(p.MaxDelayMs) {
		delay = float64(p.MaxDelayMs)
	}

	// Насыщение, чтобы не переполнить time.Duration.
	maxMs := float64(math.MaxInt64 / int64(time.Millisecond))
	if math.IsInf(delay, 0) || math.IsNaN(delay) || delay > maxMs {
		delay = maxMs
	}
	return time.Duration(delay) * time.Millisecond
}
