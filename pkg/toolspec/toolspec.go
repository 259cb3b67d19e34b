// Package toolspec decodes and validates tool invocation payloads.
//
// The markup layer treats payloads as opaque strings; this package gives
// them meaning. Two payload styles are accepted, matching what models
// actually emit: a JSON object, or comma-separated key=value pairs.
// Validation runs the payload against a per-tool JSON Schema, coercing
// simple type mismatches (quoted numbers, stringified bools) before
// failing.
package toolspec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ---------------------------------------------------------------------------
// Payload decoding
// ---------------------------------------------------------------------------

// DecodePayload parses a raw payload string into a key/value map. A payload
// starting with "{" is decoded as a JSON object; anything else is parsed as
// key=value pairs separated by top-level commas. Pair values that parse as
// JSON scalars keep their type; everything else stays a string.
func DecodePayload(raw string) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]any{}, nil
	}

	if strings.HasPrefix(raw, "{") {
		var m map[string]any
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			return nil, fmt.Errorf("toolspec: decode json payload: %w", err)
		}
		return m, nil
	}

	out := map[string]any{}
	for _, pair := range splitTopLevel(raw) {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		eq := strings.IndexByte(pair, '=')
		if eq < 0 {
			return nil, fmt.Errorf("toolspec: pair %q has no '='", pair)
		}
		key := strings.TrimSpace(pair[:eq])
		if key == "" {
			return nil, fmt.Errorf("toolspec: pair %q has empty key", pair)
		}
		out[key] = decodeScalar(strings.TrimSpace(pair[eq+1:]))
	}
	return out, nil
}

// splitTopLevel splits on commas outside quotes, braces, and brackets.
func splitTopLevel(s string) []string {
	var parts []string
	depth := 0
	inQuote := byte(0)
	start := 0

	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case inQuote != 0:
			if c == inQuote && (i == 0 || s[i-1] != '\\') {
				inQuote = 0
			}
		case c == '"' || c == '\'':
			inQuote = c
		case c == '{' || c == '[' || c == '(':
			depth++
		case c == '}' || c == ']' || c == ')':
			depth--
		case c == ',' && depth == 0:
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	return append(parts, s[start:])
}

// decodeScalar keeps JSON scalar types and strips matched quotes; anything
// else passes through as a raw string.
func decodeScalar(s string) any {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	var v any
	if err := json.Unmarshal([]byte(s), &v); err == nil {
		switch v.(type) {
		case float64, bool, nil:
			return v
		}
	}
	return s
}

// ---------------------------------------------------------------------------
// Registry + validation
// ---------------------------------------------------------------------------

// Spec declares one tool's payload schema.
type Spec struct {
	Name        string
	Description string
	Schema      json.RawMessage // JSON Schema for the decoded payload
}

// Registry holds tool specs by name. Safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	specs map[string]Spec
}

func NewRegistry() *Registry {
	return &Registry{specs: make(map[string]Spec)}
}

func (r *Registry) Register(s Spec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.specs[s.Name] = s
}

func (r *Registry) Lookup(name string) (Spec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.specs[name]
	return s, ok
}

// Validate decodes a raw payload and checks it against the named tool's
// schema. Unknown tools and tools without a schema pass with just the
// decode step. When plain validation fails, simple coercions are applied
// and validation retried before reporting the error.
func (r *Registry) Validate(name, raw string) (map[string]any, error) {
	args, err := DecodePayload(raw)
	if err != nil {
		return nil, err
	}

	spec, ok := r.Lookup(name)
	if !ok || len(spec.Schema) == 0 {
		return args, nil
	}

	schema, err := compileSchema(spec.Schema)
	if err != nil {
		// Unparseable schema: fail open rather than block every call.
		return args, nil
	}

	if err := validateMap(schema, args); err == nil {
		return args, nil
	}

	coerced := coerceArgs(args, spec.Schema)
	if err := validateMap(schema, coerced); err != nil {
		return nil, formatValidationError(name, args, err)
	}
	return coerced, nil
}

// compileSchema compiles schema bytes with a fresh compiler each time to
// avoid resource-collision errors.
func compileSchema(schemaBytes []byte) (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaBytes))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	const url = "mem://tool/schema"
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	return c.Compile(url)
}

func validateMap(schema *jsonschema.Schema, args map[string]any) error {
	b, err := json.Marshal(args)
	if err != nil {
		return err
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(b))
	if err != nil {
		return err
	}
	return schema.Validate(inst)
}

// coerceArgs applies simple type coercions on top-level properties.
func coerceArgs(args map[string]any, schemaBytes []byte) map[string]any {
	var schemaDef struct {
		Properties map[string]struct {
			Type string `json:"type"`
		} `json:"properties"`
	}
	_ = json.Unmarshal(schemaBytes, &schemaDef)

	out := make(map[string]any, len(args))
	for k, v := range args {
		prop, ok := schemaDef.Properties[k]
		if !ok {
			out[k] = v
			continue
		}
		out[k] = coerceValue(v, prop.Type)
	}
	return out
}

func coerceValue(v any, targetType string) any {
	switch targetType {
	case "number", "integer":
		if s, ok := v.(string); ok {
			var n float64
			if err := json.Unmarshal([]byte(s), &n); err == nil {
				if targetType == "integer" {
					return int64(n)
				}
				return n
			}
		}
	case "string":
		switch n := v.(type) {
		case float64:
			return fmt.Sprintf("%g", n)
		case int64:
			return fmt.Sprintf("%d", n)
		case bool:
			return fmt.Sprintf("%t", n)
		}
	case "boolean":
		if s, ok := v.(string); ok {
			switch strings.ToLower(s) {
			case "true":
				return true
			case "false":
				return false
			}
		}
	}
	return v
}

func formatValidationError(toolName string, args map[string]any, err error) error {
	argsJSON, _ := json.MarshalIndent(args, "", "  ")
	return fmt.Errorf("toolspec: %q payload validation failed:\n%v\n\nReceived:\n%s",
		toolName, err, argsJSON)
}
