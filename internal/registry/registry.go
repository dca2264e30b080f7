// Package registry holds the static set of tool definitions and validates
// call arguments against their schemas. The registry is populated once at
// startup and read-only afterwards.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/santhosh-tekuri/jsonschema/v6/kind"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var (
	// ErrDuplicateTool is returned when a definition name collides.
	ErrDuplicateTool = errors.New("duplicate tool")
	// ErrUnknownTool is returned when no definition matches the name.
	ErrUnknownTool = errors.New("unknown tool")
)

// FieldViolation names one violated schema constraint.
type FieldViolation struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// SchemaViolationError reports every constraint the arguments violated,
// not just the first, so callers can emit a complete diagnostic.
type SchemaViolationError struct {
	Tool       string
	Violations []FieldViolation
}

func (e *SchemaViolationError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		field := v.Field
		if field == "" {
			field = "(root)"
		}
		parts[i] = field + ": " + v.Reason
	}
	return fmt.Sprintf("arguments for %q violate schema: %s", e.Tool, strings.Join(parts, "; "))
}

var reasonPrinter = message.NewPrinter(language.English)

// Registry maps tool names to their definitions and compiled schemas.
// Register is not safe for concurrent use; it runs at startup only.
// Lookup, List, and Validate are safe for concurrent use once loaded.
type Registry struct {
	tools   map[string]*ToolDefinition
	schemas map[string]*jsonschema.Schema
	order   []string
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		tools:   make(map[string]*ToolDefinition),
		schemas: make(map[string]*jsonschema.Schema),
	}
}

// Register adds a definition, compiling its input schema.
// Fails with ErrDuplicateTool on a name collision.
func (r *Registry) Register(def *ToolDefinition) error {
	if def.Name == "" {
		return errors.New("tool definition has no name")
	}
	if _, exists := r.tools[def.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, def.Name)
	}

	sch, err := compileSchema(def.Name, def.InputSchema)
	if err != nil {
		return fmt.Errorf("tool %q: %w", def.Name, err)
	}

	r.tools[def.Name] = def
	r.schemas[def.Name] = sch
	r.order = append(r.order, def.Name)
	return nil
}

// Lookup returns the definition for name, or ErrUnknownTool.
func (r *Registry) Lookup(name string) (*ToolDefinition, error) {
	def, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	return def, nil
}

// List returns all definitions in registration order.
func (r *Registry) List() []*ToolDefinition {
	out := make([]*ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// Validate checks arguments against the stored input schema. It is pure:
// no state is touched and the arguments are not modified. On failure it
// returns a SchemaViolationError listing every violated constraint.
func (r *Registry) Validate(name string, args map[string]any) error {
	sch, ok := r.schemas[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	if args == nil {
		args = map[string]any{}
	}

	err := sch.Validate(normalizeArgs(args))
	if err == nil {
		return nil
	}

	ve := &jsonschema.ValidationError{}
	if !errors.As(err, &ve) {
		return &SchemaViolationError{
			Tool:       name,
			Violations: []FieldViolation{{Reason: err.Error()}},
		}
	}

	var violations []FieldViolation
	collectViolations(ve, &violations)
	return &SchemaViolationError{Tool: name, Violations: violations}
}

// compileSchema round-trips the schema map through JSON so nested Go values
// (string slices, ints) are normalized to what the compiler expects.
func compileSchema(name string, schema map[string]any) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("marshal input schema: %w", err)
	}
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("unmarshal input schema: %w", err)
	}

	c := jsonschema.NewCompiler()
	url := name + ".schema.json"
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	sch, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile input schema: %w", err)
	}
	return sch, nil
}

// normalizeArgs round-trips arguments through JSON for the same reason as
// compileSchema. Arguments decoded from the wire are already normalized,
// but handlers and tests pass Go literals.
func normalizeArgs(args map[string]any) any {
	raw, err := json.Marshal(args)
	if err != nil {
		return args
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return args
	}
	return out
}

// collectViolations walks the validation error tree and flattens every leaf
// into a field+reason pair. Missing required properties are reported one
// entry per missing field.
func collectViolations(ve *jsonschema.ValidationError, out *[]FieldViolation) {
	if len(ve.Causes) > 0 {
		for _, cause := range ve.Causes {
			collectViolations(cause, out)
		}
		return
	}

	switch k := ve.ErrorKind.(type) {
	case *kind.Schema, *kind.Group:
		// structural nodes carry no constraint of their own
	case *kind.Required:
		for _, missing := range k.Missing {
			loc := append(append([]string{}, ve.InstanceLocation...), missing)
			*out = append(*out, FieldViolation{
				Field:  joinLocation(loc),
				Reason: "required property is missing",
			})
		}
	default:
		*out = append(*out, FieldViolation{
			Field:  joinLocation(ve.InstanceLocation),
			Reason: ve.ErrorKind.LocalizedString(reasonPrinter),
		})
	}
}

func joinLocation(loc []string) string {
	return strings.Join(loc, ".")
}
