package compdb

import (
	"bytes"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const schemaURL = "compile_commands.schema.json"

// schemaJSON describes the clang JSON compilation database format. Each
// entry needs a directory, a file and either a command or arguments.
const schemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "array",
  "items": {
    "type": "object",
    "required": ["directory", "file"],
    "properties": {
      "directory": {"type": "string", "minLength": 1},
      "file": {"type": "string", "minLength": 1},
      "command": {"type": "string"},
      "arguments": {"type": "array", "items": {"type": "string"}},
      "output": {"type": "string"}
    },
    "anyOf": [
      {"required": ["command"]},
      {"required": ["arguments"], "properties": {"arguments": {"minItems": 1}}}
    ]
  }
}`

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiled() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(schemaJSON))
		if err != nil {
			schemaErr = err
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(schemaURL, doc); err != nil {
			schemaErr = err
			return
		}
		schema, schemaErr = c.Compile(schemaURL)
	})
	return schema, schemaErr
}

// Validate checks raw database JSON against the compilation database schema.
func Validate(data []byte) error {
	sch, err := compiled()
	if err != nil {
		return fmt.Errorf("failed to compile schema: %w", err)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if err := sch.Validate(inst); err != nil {
		return fmt.Errorf("invalid compilation database: %w", err)
	}
	return nil
}
