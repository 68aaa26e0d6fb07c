package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/shaiso/dagflow/internal/domain"
)

// Sleeper ждёт d или отмены контекста.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext — Sleeper на основе таймера.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Retry выполняет fn до policy.MaxAttempts раз.
//
// Не повторяет ErrCircuitOpen, Permanent-ошибки и отмену контекста.
// Пауза перед попыткой n+1 равна policy.CalculateDelay(n-1).
func Retry(ctx context.Context, policy domain.RetryPolicy, sleep Sleeper, fn func(context.Context) error) error {
	if sleep == nil {
		sleep = SleepContext
	}
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}

	var err error
	for attempt := 1; ; attempt++ {
		err = fn(ctx)
		if err == nil || !retryable(ctx, err) || !policy.ShouldRetry(attempt) {
			return err
		}
		if serr := sleep(ctx, policy.CalculateDelay(attempt-1)); serr != nil {
			return err
		}
	}
}

func retryable(ctx context.Context, err error) bool {
	switch {
	case errors.Is(err, ErrCircuitOpen):
		return false
	case IsPermanent(err):
		return false
	case ctx.Err() != nil:
		return false
	case errors.Is(err, context.Canceled):
		return false
	default:
		return true
	}
}
