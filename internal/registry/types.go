package registry

import (
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ToolType selects the executor that handles a tool.
type ToolType string

const (
	ToolTypeHTTP     ToolType = "http"
	ToolTypeDatabase ToolType = "database"
)

// ParameterDirection distinguishes declared inputs from declared outputs.
type ParameterDirection string

const (
	ParameterInput  ParameterDirection = "input"
	ParameterOutput ParameterDirection = "output"
)

// Parameter is one declared tool parameter. Order is preserved as stored.
type Parameter struct {
	ID          string
	Name        string
	Type        string // "string", "number", "boolean", "object", ...
	Required    bool
	Description string
	Default     *string
	Direction   ParameterDirection
}

// ToolDescriptor is a tool's declarative record: identity, parameter
// schema, and the raw string-keyed configuration plus its typed form.
// Loaded from the tools / tool_parameters / tool_configs tables.
type ToolDescriptor struct {
	ID          string
	Name        string
	Description string
	Type        ToolType
	Version     string
	Active      bool
	Parameters  []Parameter
	Config      map[string]string

	// Typed views of Config, decoded once at load. Exactly one of
	// HTTP/Database is non-nil, matching Type.
	HTTP     *HTTPConfig
	Database *DatabaseConfig

	// InputSchema is compiled from the optional "input_schema" config
	// key and enforced before an execution record is created.
	InputSchema *jsonschema.Schema

	CreatedAt time.Time
	UpdatedAt time.Time
}

// InputParameters returns the declared input-direction parameters in order.
func (t *ToolDescriptor) InputParameters() []Parameter {
	params := make([]Parameter, 0, len(t.Parameters))
	for _, p := range t.Parameters {
		if p.Direction == ParameterInput {
			params = append(params, p)
		}
	}
	return params
}
