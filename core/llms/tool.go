package llms

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/invopop/jsonschema"
)

// Tool is a locally executed function tool.
type Tool struct {
	Name        string
	Description string
	Parameters  *jsonschema.Schema

	execute func(ctx context.Context, arguments string) (string, error)
}

// NewTool creates a function tool whose parameter schema is reflected from T.
// Arguments are decoded into T before fn is called.
func NewTool[T any](name, description string, fn func(ctx context.Context, parameters T) (string, error)) Tool {
	reflector := jsonschema.Reflector{DoNotReference: true}
	var zero T
	schema := reflector.ReflectFromType(reflect.TypeOf(zero))
	schema.Version = ""

	return Tool{
		Name:        name,
		Description: description,
		Parameters:  schema,
		execute: func(ctx context.Context, arguments string) (string, error) {
			var parameters T
			if arguments != "" {
				if err := json.Unmarshal([]byte(arguments), &parameters); err != nil {
					return "", fmt.Errorf("failed to decode arguments for %q: %w", name, err)
				}
			}
			return fn(ctx, parameters)
		},
	}
}

func (t Tool) Execute(ctx context.Context, arguments string) (string, error) {
	if t.execute == nil {
		return "", fmt.Errorf("tool %q has no implementation", t.Name)
	}
	return t.execute(ctx, arguments)
}

func (t Tool) Spec() ToolSpec {
	return ToolSpec{
		Type:        "function",
		Name:        t.Name,
		Description: t.Description,
		Parameters:  t.Parameters,
	}
}
