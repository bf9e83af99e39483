package tools

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/haasonsaas/sidekick/pkg/models"
)

// ValidateArgs checks call arguments against the tool's parameter schema.
// Tools without a schema accept anything; empty arguments validate as an
// empty object.
func ValidateArgs(def models.ToolDefinition, argsJSON string) error {
	schema := bytes.TrimSpace(def.ParametersSchema)
	if len(schema) == 0 || bytes.Equal(schema, []byte("null")) {
		return nil
	}

	compiled, err := compileSchema(schema)
	if err != nil {
		return fmt.Errorf("compile %s parameter schema: %w", def.Name, err)
	}

	args := strings.TrimSpace(argsJSON)
	if args == "" {
		args = "{}"
	}
	var decoded any
	if err := json.Unmarshal([]byte(args), &decoded); err != nil {
		return fmt.Errorf("decode %s arguments: %w", def.Name, err)
	}

	if err := compiled.Validate(decoded); err != nil {
		return fmt.Errorf("arguments for %s invalid: %w", def.Name, err)
	}
	return nil
}

var schemaCache sync.Map

func compileSchema(schema []byte) (*jsonschema.Schema, error) {
	key := string(schema)
	if cached, ok := schemaCache.Load(key); ok {
		if compiled, ok := cached.(*jsonschema.Schema); ok {
			return compiled, nil
		}
	}

	compiled, err := jsonschema.CompileString("tool.schema.json", key)
	if err != nil {
		return nil, err
	}
	schemaCache.Store(key, compiled)
	return compiled, nil
}
