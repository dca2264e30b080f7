package registry

// Category groups tools for capability negotiation. A session enables a
// subset of categories on handshake; tools outside the enabled set are
// neither advertised nor callable.
type Category string

const (
	CategoryRead  Category = "read"
	CategoryWrite Category = "write"
)

// ToolDefinition describes a single tool exposed to agent clients.
// Definitions are immutable after registry load.
type ToolDefinition struct {
	Name         string
	Description  string
	Category     Category       // "read" or "write"
	InputSchema  map[string]any // JSON Schema for call arguments
	OutputSchema map[string]any // shape of the result payload, advisory
	// Paged marks tools whose results come from a paginated upstream
	// endpoint and flow through the result normalizer.
	Paged bool
	// MaxItems caps the normalized result for paged tools when the caller
	// passes no explicit limit. Zero means the builtin default.
	MaxItems int
}
