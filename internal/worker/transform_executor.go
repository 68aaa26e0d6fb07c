package worker

import (
	"context"

	"github.com/shaiso/dagflow/internal/domain"
)

// TransformExecutor — executor для узла типа "transform".
//
// Движок уже отрендерил config через engine.RenderConfig() перед
// отправкой задачи, поэтому task.Payload содержит готовые значения.
// Transform возвращает payload как outputs.
type TransformExecutor struct{}

// Execute возвращает payload как outputs.
func (e *TransformExecutor) Execute(_ context.Context, task *domain.ScheduledTask) (*ExecutionResult, error) {
	outputs := make(map[string]any, len(task.Payload))
	for k, v := range task.Payload {
		outputs[k] = v
	}

	return &ExecutionResult{
		Outputs: outputs,
	}, nil
}

// NoopExecutor — executor для узла типа "noop". Ничего не делает.
type NoopExecutor struct{}

// Execute возвращает пустой результат.
func (e *NoopExecutor) Execute(_ context.Context, _ *domain.ScheduledTask) (*ExecutionResult, error) {
	return &ExecutionResult{Outputs: map[string]any{}}, nil
}
