package registry

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Config keys recognized by the executors. Everything is stored as
// string values in tool_configs; structured values are JSON-in-string.
const (
	cfgBaseURL        = "base_url"
	cfgEndpoint       = "endpoint"
	cfgMethod         = "method"
	cfgHeaders        = "headers"
	cfgQueryParams    = "query_params"
	cfgAuthType       = "auth_type"
	cfgAPIKey         = "api_key"
	cfgAPIKeyHeader   = "api_key_header"
	cfgUsername       = "username"
	cfgPassword       = "password"
	cfgHeaderInputMap = "headers_input_map"
	cfgConnString     = "connection_string"
	cfgQueryTemplate  = "query_template"
	cfgInputSchema    = "input_schema"
)

// HeaderMapping routes one input field into a named request header.
// Template is rendered by substituting "{value}" with the field's value.
type HeaderMapping struct {
	Header   string
	Template string
}

// HTTPConfig is the typed form of an HTTP tool's configuration.
type HTTPConfig struct {
	BaseURL       string
	Endpoint      string
	Method        string
	Headers       map[string]string
	QueryDefaults map[string]any
	AuthType      string
	APIKey        string
	APIKeyHeader  string
	Username      string
	Password      string
	HeaderInputs  map[string]HeaderMapping
}

// DatabaseConfig is the typed form of a database tool's configuration.
// Missing fields are surfaced as configuration errors by the executor,
// not at load time, so management reads never fail on a half-built tool.
type DatabaseConfig struct {
	ConnString    string
	QueryTemplate string
}

// decodeConfig populates the typed config views on a descriptor from its
// raw Config map. Structured sub-values that fail to parse are treated as
// absent — existing tool configurations rely on that leniency — except
// input_schema, where a broken schema is a hard configuration fault.
func decodeConfig(t *ToolDescriptor) error {
	switch t.Type {
	case ToolTypeHTTP:
		t.HTTP = parseHTTPConfig(t.Config)
	case ToolTypeDatabase:
		t.Database = &DatabaseConfig{
			ConnString:    t.Config[cfgConnString],
			QueryTemplate: t.Config[cfgQueryTemplate],
		}
	}

	if raw, ok := t.Config[cfgInputSchema]; ok && raw != "" {
		sch, err := compileInputSchema(raw)
		if err != nil {
			return fmt.Errorf("decodeConfig: tool %q: %w", t.Name, err)
		}
		t.InputSchema = sch
	}
	return nil
}

func parseHTTPConfig(cfg map[string]string) *HTTPConfig {
	hc := &HTTPConfig{
		BaseURL:      cfg[cfgBaseURL],
		Endpoint:     cfg[cfgEndpoint],
		Method:       cfg[cfgMethod],
		AuthType:     cfg[cfgAuthType],
		APIKey:       cfg[cfgAPIKey],
		APIKeyHeader: cfg[cfgAPIKeyHeader],
		Username:     cfg[cfgUsername],
		Password:     cfg[cfgPassword],
	}

	hc.Headers = map[string]string{}
	if raw := cfg[cfgHeaders]; raw != "" {
		var parsed map[string]string
		if err := json.Unmarshal([]byte(raw), &parsed); err == nil {
			hc.Headers = parsed
		}
	}

	hc.QueryDefaults = map[string]any{}
	if raw := cfg[cfgQueryParams]; raw != "" {
		var parsed map[string]any
		if err := json.Unmarshal([]byte(raw), &parsed); err == nil {
			hc.QueryDefaults = parsed
		}
	}

	hc.HeaderInputs = parseHeaderInputMap(cfg[cfgHeaderInputMap])
	return hc
}

// parseHeaderInputMap decodes the headers_input_map config value. Each
// entry maps an input field to either a header name (string form) or an
// object with "header" and optional "template" keys. Entries that do not
// fit either shape are skipped.
func parseHeaderInputMap(raw string) map[string]HeaderMapping {
	out := map[string]HeaderMapping{}
	if raw == "" {
		return out
	}

	var parsed map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return out
	}

	for field, entry := range parsed {
		var name string
		if err := json.Unmarshal(entry, &name); err == nil {
			if name != "" {
				out[field] = HeaderMapping{Header: name, Template: "{value}"}
			}
			continue
		}

		var obj struct {
			Header   string `json:"header"`
			Template string `json:"template"`
		}
		if err := json.Unmarshal(entry, &obj); err != nil || obj.Header == "" {
			continue
		}
		if obj.Template == "" {
			obj.Template = "{value}"
		}
		out[field] = HeaderMapping{Header: obj.Header, Template: obj.Template}
	}
	return out
}

func compileInputSchema(raw string) (*jsonschema.Schema, error) {
	var schemaObj any
	if err := json.Unmarshal([]byte(raw), &schemaObj); err != nil {
		return nil, fmt.Errorf("input_schema is not valid JSON: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("input_schema.json", schemaObj); err != nil {
		return nil, fmt.Errorf("input_schema compile: %w", err)
	}
	sch, err := c.Compile("input_schema.json")
	if err != nil {
		return nil, fmt.Errorf("input_schema compile: %w", err)
	}
	return sch, nil
}
