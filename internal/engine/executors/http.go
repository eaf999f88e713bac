// Package executors implements the per-tool-type request synthesizers:
// the HTTP adapter and the database adapter.
package executors

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/Kwasi-itc/tools-module/internal/engine"
	"github.com/Kwasi-itc/tools-module/internal/registry"
)

// placeholderPattern matches {name} segments in endpoint templates.
var placeholderPattern = regexp.MustCompile(`\{([a-zA-Z0-9_]+)\}`)

// HTTPExecutor synthesizes and dispatches HTTP requests from a tool's
// declarative configuration. The derivation — placeholder substitution,
// URL assembly, auth injection, header-mapped inputs, body/query routing —
// must stay wire-compatible with existing tool configurations.
type HTTPExecutor struct {
	client *http.Client
}

// NewHTTPExecutor creates an HTTPExecutor. The default client follows
// redirects; per-call deadlines come from the execution context.
func NewHTTPExecutor() *HTTPExecutor {
	return &HTTPExecutor{client: &http.Client{}}
}

// newHTTPExecutorWithClient creates an executor with a custom client (for testing).
func newHTTPExecutorWithClient(client *http.Client) *HTTPExecutor {
	return &HTTPExecutor{client: client}
}

func (e *HTTPExecutor) Type() registry.ToolType {
	return registry.ToolTypeHTTP
}

// Validate checks that every {name} placeholder in the endpoint template
// has a matching input field. Runs before any record or network activity.
func (e *HTTPExecutor) Validate(tool *registry.ToolDescriptor, input map[string]any) error {
	cfg := tool.HTTP
	if cfg == nil {
		return engine.Errf(engine.KindConfiguration, "tool %q has no HTTP configuration", tool.Name)
	}

	for _, name := range pathParamNames(cfg.Endpoint) {
		if _, ok := input[name]; !ok {
			return engine.Errf(engine.KindValidation,
				"missing required path parameter %q for endpoint template %q", name, cfg.Endpoint)
		}
	}
	return nil
}

// Execute builds and dispatches the request. A non-success response
// status is ordinary output; only transport-level failures are errors.
func (e *HTTPExecutor) Execute(ctx context.Context, tool *registry.ToolDescriptor, input map[string]any, timeout time.Duration) (map[string]any, error) {
	cfg := tool.HTTP

	// 1. Path parameters
	pathParams := pathParamNames(cfg.Endpoint)
	endpoint := cfg.Endpoint
	for _, name := range pathParams {
		v, ok := input[name]
		if !ok {
			return nil, engine.Errf(engine.KindValidation,
				"missing required path parameter %q for endpoint template %q", name, cfg.Endpoint)
		}
		endpoint = strings.ReplaceAll(endpoint, "{"+name+"}", stringify(v))
	}

	// 2. URL assembly: an absolute substituted path wins over base_url.
	var fullURL string
	if strings.HasPrefix(endpoint, "http") {
		fullURL = endpoint
	} else {
		fullURL = strings.TrimRight(cfg.BaseURL, "/") + "/" + strings.TrimLeft(endpoint, "/")
	}

	// 3. Working header set from config defaults.
	headers := make(map[string]string, len(cfg.Headers)+2)
	for k, v := range cfg.Headers {
		headers[k] = v
	}

	// 4. Authentication injection — exactly one strategy.
	switch cfg.AuthType {
	case "bearer_token":
		if cfg.APIKey != "" {
			headers["Authorization"] = "Bearer " + cfg.APIKey
		}
	case "api_key":
		if cfg.APIKey != "" {
			headerName := cfg.APIKeyHeader
			if headerName == "" {
				headerName = "X-API-Key"
			}
			headers[headerName] = cfg.APIKey
		}
	case "basic_auth":
		if cfg.Username != "" && cfg.Password != "" {
			credentials := cfg.Username + ":" + cfg.Password
			headers["Authorization"] = "Basic " + base64.StdEncoding.EncodeToString([]byte(credentials))
		}
	}

	// 5. Sanitized input: drop path params, then move header-mapped
	// fields into headers so caller-supplied secrets never reach the
	// body or query string.
	sanitized := make(map[string]any, len(input))
	for k, v := range input {
		sanitized[k] = v
	}
	for _, name := range pathParams {
		delete(sanitized, name)
	}
	for field, mapping := range cfg.HeaderInputs {
		v, ok := sanitized[field]
		if !ok {
			continue
		}
		headers[mapping.Header] = strings.ReplaceAll(mapping.Template, "{value}", stringify(v))
		delete(sanitized, field)
	}

	// 6. Body/query routing by method.
	method := strings.ToUpper(cfg.Method)
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	query := url.Values{}

	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		contentType := headers["Content-Type"]
		if contentType == "" {
			contentType = "application/json"
		}
		if contentType == "application/json" {
			encoded, err := json.Marshal(sanitized)
			if err != nil {
				return nil, engine.Errf(engine.KindExecution, "request failed: encode body: %v", err)
			}
			body = strings.NewReader(string(encoded))
			headers["Content-Type"] = "application/json"
		} else {
			form := url.Values{}
			for k, v := range sanitized {
				form.Set(k, stringify(v))
			}
			body = strings.NewReader(form.Encode())
		}
	case http.MethodGet, http.MethodDelete:
		for k, v := range cfg.QueryDefaults {
			query.Set(k, stringify(v))
		}
		for k, v := range sanitized {
			query.Set(k, stringify(v))
		}
	default:
		for k, v := range cfg.QueryDefaults {
			query.Set(k, stringify(v))
		}
	}

	// 7. Dispatch.
	req, err := http.NewRequestWithContext(ctx, method, fullURL, body)
	if err != nil {
		return nil, engine.Errf(engine.KindExecution, "request failed: %v", err)
	}
	if len(query) > 0 {
		req.URL.RawQuery = query.Encode()
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, engine.Errf(engine.KindExecution,
				"request timeout after %d seconds", int(timeout.Seconds()))
		}
		return nil, engine.Errf(engine.KindExecution, "request failed: %v", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		if isTimeout(err) {
			return nil, engine.Errf(engine.KindExecution,
				"request timeout after %d seconds", int(timeout.Seconds()))
		}
		return nil, engine.Errf(engine.KindExecution, "request failed: %v", err)
	}

	// Structured body parsing with raw-text fallback.
	var data any
	if err := json.Unmarshal(rawBody, &data); err != nil {
		data = map[string]any{"text": string(rawBody)}
	}

	respHeaders := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		respHeaders[k] = resp.Header.Get(k)
	}

	return map[string]any{
		"status_code": resp.StatusCode,
		"data":        data,
		"headers":     respHeaders,
	}, nil
}

// pathParamNames extracts placeholder names from an endpoint template in
// order of appearance, deduplicated.
func pathParamNames(endpoint string) []string {
	matches := placeholderPattern.FindAllStringSubmatch(endpoint, -1)
	seen := map[string]struct{}{}
	var names []string
	for _, m := range matches {
		if _, dup := seen[m[1]]; dup {
			continue
		}
		seen[m[1]] = struct{}{}
		names = append(names, m[1])
	}
	return names
}

// stringify renders an input value for a path segment, header, or query
// parameter. JSON numbers print without exponent notation so numeric IDs
// survive the float64 decoding round trip.
func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case json.Number:
		return t.String()
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}
