// Package planfile loads execution plans from YAML or JSON documents and
// validates them against the embedded plan schema before they reach the
// orchestrator.
package planfile

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"agentroute/internal/domain"
)

//go:embed plan.schema.json
var schemaJSON []byte

const maxPlanSize = 1 << 20

var planSchema = mustCompile(schemaJSON)

func mustCompile(raw []byte) *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("plan.schema.json", bytes.NewReader(raw)); err != nil {
		panic(fmt.Sprintf("planfile: add schema: %v", err))
	}
	s, err := compiler.Compile("plan.schema.json")
	if err != nil {
		panic(fmt.Sprintf("planfile: compile schema: %v", err))
	}
	return s
}

// Schema returns the raw plan schema document.
func Schema() []byte {
	return bytes.Clone(schemaJSON)
}

// Load reads a plan from path. Files ending in .json are parsed as JSON,
// anything else as YAML.
func Load(path string) (domain.Plan, error) {
	info, err := os.Stat(path)
	if err != nil {
		return domain.Plan{}, fmt.Errorf("plan %s: %w", path, err)
	}
	if info.Size() > maxPlanSize {
		return domain.Plan{}, fmt.Errorf("plan %s: %d bytes exceeds %d: %w", path, info.Size(), maxPlanSize, domain.ErrInvalidInput)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Plan{}, fmt.Errorf("plan %s: %w", path, err)
	}

	var doc interface{}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = json.Unmarshal(data, &doc)
	} else {
		err = yaml.Unmarshal(data, &doc)
	}
	if err != nil {
		return domain.Plan{}, fmt.Errorf("plan %s: parse: %w: %w", path, domain.ErrInvalidInput, err)
	}
	// Round-trip through JSON so YAML scalars validate like JSON ones.
	raw, err := json.Marshal(doc)
	if err != nil {
		return domain.Plan{}, fmt.Errorf("plan %s: %w: %w", path, domain.ErrInvalidInput, err)
	}
	plan, err := Decode(raw)
	if err != nil {
		return domain.Plan{}, fmt.Errorf("plan %s: %w", path, err)
	}
	return plan, nil
}

// Decode validates a JSON plan document and decodes it.
func Decode(raw []byte) (domain.Plan, error) {
	if err := ValidateJSON(raw); err != nil {
		return domain.Plan{}, err
	}
	var plan domain.Plan
	if err := json.Unmarshal(raw, &plan); err != nil {
		return domain.Plan{}, fmt.Errorf("decode plan: %w: %w", domain.ErrInvalidInput, err)
	}
	return plan, nil
}

// ValidateJSON checks raw against the plan schema. Violations are reported as
// a *domain.ValidationError naming the first offending field.
func ValidateJSON(raw []byte) error {
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return &domain.ValidationError{Field: "plan", Reason: "invalid JSON: " + err.Error()}
	}
	err := planSchema.Validate(doc)
	if err == nil {
		return nil
	}
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return fmt.Errorf("validate plan: %w", err)
	}
	leaf := firstLeaf(ve)
	return &domain.ValidationError{Field: fieldPath(leaf.InstanceLocation), Reason: leaf.Message}
}

func firstLeaf(ve *jsonschema.ValidationError) *jsonschema.ValidationError {
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	return ve
}

// fieldPath turns a JSON pointer such as /phases/0/name into phases[0].name.
func fieldPath(pointer string) string {
	pointer = strings.TrimPrefix(pointer, "/")
	if pointer == "" {
		return "plan"
	}
	var b strings.Builder
	for i, tok := range strings.Split(pointer, "/") {
		tok = strings.NewReplacer("~1", "/", "~0", "~").Replace(tok)
		if isIndex(tok) {
			b.WriteString("[" + tok + "]")
			continue
		}
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(tok)
	}
	return b.String()
}

func isIndex(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
