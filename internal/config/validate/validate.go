package validate

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema/config.schema.json
var configSchema []byte

const configSchemaName = "config.schema.json"

// ValidateConfigJSON validates the JSON form of the charm configuration file.
func ValidateConfigJSON(data []byte) error {
	return ValidateAgainstSchema(configSchemaName, configSchema, data, "")
}

// ValidateAgainstSchema compiles schema under name and validates data
// against it, or against the sub-schema at ref when ref is set.
func ValidateAgainstSchema(name string, schema []byte, data []byte, ref string) error {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, bytes.NewReader(schema)); err != nil {
		return fmt.Errorf("loading schema %s: %w", name, err)
	}

	target := name
	if ref != "" {
		target = name + "#" + strings.TrimPrefix(ref, "#")
	}
	sch, err := compiler.Compile(target)
	if err != nil {
		return fmt.Errorf("compiling schema %s: %w", target, err)
	}

	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if err := sch.Validate(doc); err != nil {
		return fmt.Errorf("schema validation against %s failed: %w", name, err)
	}
	return nil
}
