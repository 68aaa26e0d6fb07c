package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// WithTimeout выполняет fn с ограничением времени d.
//
// По истечении d возвращает ErrTimeout, не дожидаясь fn: горутина получает
// отменённый контекст и должна завершиться сама. d <= 0 — без ограничения.
func WithTimeout(ctx context.Context, d time.Duration, fn func(context.Context) error) error {
	if d <= 0 {
		return fn(ctx)
	}

	tctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- fn(tctx)
	}()

	select {
	case err := <-done:
		if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return fmt.Errorf("%w after %s: %v", ErrTimeout, d, err)
		}
		return err
	case <-tctx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w after %s", ErrTimeout, d)
	}
}
