package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/shaiso/dagflow/internal/domain"
)

const defaultDelay = time.Second

// DelayExecutor — executor для узла типа "delay": ждёт и завершается успехом.
//
// Config (из task.Payload), первое заданное:
//   - duration (string): длительность в формате time.ParseDuration ("1m30s")
//   - duration_sec (number): длительность в секундах
//
// Без конфигурации или с неположительным значением ждёт 1s.
// Отмена ctx прерывает ожидание.
type DelayExecutor struct{}

// Execute выполняет задержку.
func (e *DelayExecutor) Execute(ctx context.Context, task *domain.ScheduledTask) (*ExecutionResult, error) {
	d, err := delayOf(task.Payload)
	if err != nil {
		return nil, err
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
	}
	return &ExecutionResult{Outputs: map[string]any{"delayed_sec": d.Seconds()}}, nil
}

func delayOf(config map[string]any) (time.Duration, error) {
	var d time.Duration
	if s := getString(config, "duration", ""); s != "" {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return 0, fmt.Errorf("%w: duration: %v", ErrInvalidConfig, err)
		}
		d = parsed
	} else if sec := getFloat(config, "duration_sec", 0); sec > 0 {
		d = time.Duration(sec * float64(time.Second))
	}

	if d <= 0 {
		return defaultDelay, nil
	}
	return d, nil
}
