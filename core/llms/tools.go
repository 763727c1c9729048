package llms

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/invopop/jsonschema"
)

// Tool is a function the model may call, described by a JSON schema
// derived from the handler's parameter type.
type Tool struct {
	Name        string
	Description string
	Parameters  *jsonschema.Schema

	execute func(arguments string) (string, error)
}

// NewTool builds a tool whose parameter schema is reflected from T. The
// handler receives the model's arguments already unmarshalled.
func NewTool[T any](name, description string, handler func(parameters T) (string, error)) Tool {
	reflector := jsonschema.Reflector{DoNotReference: true}

	var parameters T
	var schema *jsonschema.Schema
	if t := reflect.TypeOf(parameters); t != nil && t.Kind() == reflect.Ptr {
		schema = reflector.ReflectFromType(t.Elem())
	} else {
		schema = reflector.Reflect(parameters)
	}

	return Tool{
		Name:        name,
		Description: description,
		Parameters:  schema,
		execute: func(arguments string) (string, error) {
			var parameters T
			if err := json.Unmarshal([]byte(arguments), &parameters); err != nil {
				return "", fmt.Errorf("failed to unmarshal tool arguments: %w", err)
			}
			return handler(parameters)
		},
	}
}

// Execute runs the tool with the model's raw argument JSON.
func (t Tool) Execute(arguments string) (string, error) {
	if t.execute == nil {
		return "", fmt.Errorf("tool %q has no handler", t.Name)
	}
	return t.execute(arguments)
}
