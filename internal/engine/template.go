package engine

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/shaiso/dagflow/internal/domain"
	"github.com/shaiso/dagflow/internal/xjson"
)

// Context — контекст для рендеринга шаблонов.
//
// Используется в Go templates для доступа к данным:
//   - {{ .Vars.param_name }}
//   - {{ .Nodes.node_id.Output.field }}
//   - {{ .Env.VAR_NAME }}
type Context struct {
	// Vars — переменные run (входы и объединённые выходы узлов).
	Vars map[string]any `json:"vars"`

	// Nodes — результаты выполненных узлов.
	Nodes map[string]*NodeContext `json:"nodes"`

	// Env — переменные окружения.
	Env map[string]string `json:"env"`
}

// NodeContext — результат узла для использования в шаблонах.
type NodeContext struct {
	// Output — выходные данные узла.
	Output map[string]any `json:"output"`

	// Status — статус выполнения: "COMPLETED", "FAILED".
	Status string `json:"status"`
}

// NewContext создаёт новый контекст с переменными.
func NewContext(vars map[string]any) *Context {
	if vars == nil {
		vars = make(map[string]any)
	}
	return &Context{
		Vars:  vars,
		Nodes: make(map[string]*NodeContext),
		Env:   make(map[string]string),
	}
}

// NewContextFromRun собирает контекст из текущего состояния run.
func NewContextFromRun(run *domain.WorkflowRun) *Context {
	ctx := NewContext(run.Variables)
	for id, exec := range run.NodeExecutions {
		if exec.Status == domain.NodeStatusCompleted || exec.Status == domain.NodeStatusFailed {
			ctx.AddNodeResult(id, exec.Output, string(exec.Status))
		}
	}
	return ctx
}

// AddNodeResult добавляет результат узла в контекст.
func (c *Context) AddNodeResult(nodeID string, output map[string]any, status string) {
	if output == nil {
		output = make(map[string]any)
	}
	c.Nodes[nodeID] = &NodeContext{
		Output: output,
		Status: status,
	}
}

// SetEnv устанавливает переменную окружения.
func (c *Context) SetEnv(key, value string) {
	c.Env[key] = value
}

// templateFuncs — дополнительные функции для шаблонов.
var templateFuncs = template.FuncMap{
	// json — сериализует значение в JSON строку
	"json": func(v any) string {
		b, err := xjson.Marshal(v)
		if err != nil {
			return fmt.Sprintf("error: %v", err)
		}
		return string(b)
	},

	// default — возвращает значение по умолчанию, если первый аргумент пустой
	"default": func(def, val any) any {
		if val == nil {
			return def
		}
		if s, ok := val.(string); ok && s == "" {
			return def
		}
		return val
	},

	// coalesce — возвращает первое непустое значение
	"coalesce": func(values ...any) any {
		for _, v := range values {
			if v == nil {
				continue
			}
			if s, ok := v.(string); ok && s == "" {
				continue
			}
			return v
		}
		return nil
	},

	// fromJSON — парсит JSON строку
	"fromJSON": func(s string) any {
		var result any
		if err := xjson.Unmarshal([]byte(s), &result); err != nil {
			return nil
		}
		return result
	},

	"join": func(sep string, items []string) string {
		return strings.Join(items, sep)
	},
	"split": func(sep, s string) []string {
		return strings.Split(s, sep)
	},
	"contains":  strings.Contains,
	"hasPrefix": strings.HasPrefix,
	"hasSuffix": strings.HasSuffix,
	"lower":     strings.ToLower,
	"upper":     strings.ToUpper,
	"trim":      strings.TrimSpace,
	"replace":   strings.ReplaceAll,
}

// Render рендерит строковый шаблон с контекстом.
//
// Шаблон может содержать Go template выражения:
//
//	{{ .Vars.order_id }}
//	{{ .Nodes.fetch.Output.data }}
//	{{ if .Nodes.validate.Output.is_valid }}...{{ end }}
func Render(tmpl string, ctx *Context) (string, error) {
	if !strings.Contains(tmpl, "{{") {
		return tmpl, nil
	}

	t, err := template.New("").Funcs(templateFuncs).Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTemplateParse, err)
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, ctx); err != nil {
		return "", fmt.Errorf("%w: %v", ErrTemplateRender, err)
	}

	return buf.String(), nil
}

// RenderValue рендерит произвольное значение.
// Рекурсивно обрабатывает map и slice.
func RenderValue(value any, ctx *Context) (any, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil

	case string:
		return Render(v, ctx)

	case map[string]any:
		result := make(map[string]any, len(v))
		for key, val := range v {
			rendered, err := RenderValue(val, ctx)
			if err != nil {
				return nil, err
			}
			result[key] = rendered
		}
		return result, nil

	case []any:
		result := make([]any, len(v))
		for i, val := range v {
			rendered, err := RenderValue(val, ctx)
			if err != nil {
				return nil, err
			}
			result[i] = rendered
		}
		return result, nil

	case []string:
		result := make([]string, len(v))
		for i, val := range v {
			rendered, err := Render(val, ctx)
			if err != nil {
				return nil, err
			}
			result[i] = rendered
		}
		return result, nil

	default:
		return value, nil
	}
}

// RenderConfig рендерит конфигурацию узла.
func RenderConfig(config map[string]any, ctx *Context) (map[string]any, error) {
	if config == nil {
		return make(map[string]any), nil
	}

	rendered, err := RenderValue(config, ctx)
	if err != nil {
		return nil, err
	}

	result, ok := rendered.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: expected map, got %T", ErrTemplateRender, rendered)
	}
	return result, nil
}

// RenderCondition рендерит и вычисляет условие.
// Пустое условие всегда истинно.
func RenderCondition(condition string, ctx *Context) (bool, error) {
	if condition == "" {
		return true, nil
	}

	result, err := Render(conditionTemplate(condition), ctx)
	if err != nil {
		return false, err
	}
	return result == "true", nil
}

// conditionTemplate оборачивает условие в if, чтобы получить bool.
// Допускаются как "eq .Vars.x 1", так и "{{ eq .Vars.x 1 }}".
func conditionTemplate(condition string) string {
	c := strings.TrimSpace(condition)
	if strings.HasPrefix(c, "{{") && strings.HasSuffix(c, "}}") {
		c = strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(c, "{{"), "}}"))
	}
	return fmt.Sprintf(`{{if %s}}true{{else}}false{{end}}`, c)
}
