package registry

import "testing"

func TestParseHeaderInputMap_StringForm(t *testing.T) {
	m := parseHeaderInputMap(`{"token":"Authorization"}`)
	got, ok := m["token"]
	if !ok {
		t.Fatal("expected token mapping")
	}
	if got.Header != "Authorization" {
		t.Fatalf("expected Authorization header, got %q", got.Header)
	}
	if got.Template != "{value}" {
		t.Fatalf("expected default template, got %q", got.Template)
	}
}

func TestParseHeaderInputMap_ObjectForm(t *testing.T) {
	m := parseHeaderInputMap(`{"token":{"header":"Authorization","template":"Bearer {value}"}}`)
	got := m["token"]
	if got.Header != "Authorization" || got.Template != "Bearer {value}" {
		t.Fatalf("unexpected mapping %+v", got)
	}
}

func TestParseHeaderInputMap_ObjectFormDefaultTemplate(t *testing.T) {
	m := parseHeaderInputMap(`{"key":{"header":"X-Custom"}}`)
	if got := m["key"]; got.Template != "{value}" {
		t.Fatalf("expected default template, got %q", got.Template)
	}
}

func TestParseHeaderInputMap_SkipsMalformedEntries(t *testing.T) {
	m := parseHeaderInputMap(`{"ok":"X-OK","bad":42,"empty":"","noheader":{"template":"x"}}`)
	if len(m) != 1 {
		t.Fatalf("expected 1 valid mapping, got %d: %v", len(m), m)
	}
	if m["ok"].Header != "X-OK" {
		t.Fatal("expected ok mapping kept")
	}
}

func TestParseHeaderInputMap_MalformedJSON(t *testing.T) {
	if m := parseHeaderInputMap(`not json`); len(m) != 0 {
		t.Fatalf("expected empty map, got %v", m)
	}
	if m := parseHeaderInputMap(""); len(m) != 0 {
		t.Fatalf("expected empty map, got %v", m)
	}
}

func TestParseHTTPConfig_MalformedStructuredValuesTreatedAsAbsent(t *testing.T) {
	hc := parseHTTPConfig(map[string]string{
		"base_url":     "https://api.example.com",
		"headers":      `{broken`,
		"query_params": `[1,2]`,
	})
	if len(hc.Headers) != 0 {
		t.Fatalf("expected empty headers, got %v", hc.Headers)
	}
	if len(hc.QueryDefaults) != 0 {
		t.Fatalf("expected empty query defaults, got %v", hc.QueryDefaults)
	}
}

func TestDecodeConfig_Database(t *testing.T) {
	td := &ToolDescriptor{
		Name: "run_report",
		Type: ToolTypeDatabase,
		Config: map[string]string{
			"connection_string": "postgres://localhost/app",
			"query_template":    "SELECT * FROM orders WHERE id = @id",
		},
	}
	if err := decodeConfig(td); err != nil {
		t.Fatal(err)
	}
	if td.Database == nil {
		t.Fatal("expected database config")
	}
	if td.Database.QueryTemplate != "SELECT * FROM orders WHERE id = @id" {
		t.Fatalf("unexpected template %q", td.Database.QueryTemplate)
	}
	if td.HTTP != nil {
		t.Fatal("http config should be nil for a database tool")
	}
}

func TestDecodeConfig_InputSchemaCompiled(t *testing.T) {
	td := &ToolDescriptor{
		Name: "get_user",
		Type: ToolTypeHTTP,
		Config: map[string]string{
			"base_url":     "https://api.example.com",
			"input_schema": `{"type":"object","required":["id"]}`,
		},
	}
	if err := decodeConfig(td); err != nil {
		t.Fatal(err)
	}
	if td.InputSchema == nil {
		t.Fatal("expected compiled input schema")
	}
	if err := td.InputSchema.Validate(map[string]any{"id": "7"}); err != nil {
		t.Fatalf("valid input rejected: %v", err)
	}
	if err := td.InputSchema.Validate(map[string]any{}); err == nil {
		t.Fatal("expected missing required field to fail validation")
	}
}
