package registry

import (
	"fmt"
	"strings"
)

// credentialTokens is the fixed set of credential-like parameter names,
// compared after normalization (lowercase, separators stripped) so the
// common spelling variants all match: api_key, apiKey, "API Key", etc.
var credentialTokens = map[string]struct{}{
	"apikey":        {},
	"apisecret":     {},
	"apitoken":      {},
	"token":         {},
	"secret":        {},
	"password":      {},
	"passwd":        {},
	"accesstoken":   {},
	"accesskey":     {},
	"bearertoken":   {},
	"authtoken":     {},
	"auth":          {},
	"authorization": {},
	"credential":    {},
	"credentials":   {},
	"clientsecret":  {},
	"privatekey":    {},
	"refreshtoken":  {},
	"sessionkey":    {},
}

func normalizeParamName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch r {
		case '_', '-', '.', ' ':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SensitiveParams derives the set of input-field names that must be
// omitted from agent-facing summaries: every key of headers_input_map
// (caller-supplied secrets routed into headers) plus any declared
// parameter whose name matches a credential-like token. The fields stay
// fully usable as real inputs; only the description hides them.
func SensitiveParams(t *ToolDescriptor) map[string]struct{} {
	sensitive := map[string]struct{}{}

	if t.HTTP != nil {
		for field := range t.HTTP.HeaderInputs {
			sensitive[field] = struct{}{}
		}
	} else {
		// Database tools carry the same config key shape even though the
		// executor ignores it; keep the derivation uniform.
		for field := range parseHeaderInputMap(t.Config[cfgHeaderInputMap]) {
			sensitive[field] = struct{}{}
		}
	}

	for _, p := range t.Parameters {
		if _, ok := credentialTokens[normalizeParamName(p.Name)]; ok {
			sensitive[p.Name] = struct{}{}
		}
	}
	return sensitive
}

// DescribeForAgents renders the tool description followed by an Args
// section listing the non-sensitive input parameters, the form consumed
// by agents/LLMs when choosing tools.
func DescribeForAgents(t *ToolDescriptor) string {
	sensitive := SensitiveParams(t)

	var args []string
	for _, p := range t.InputParameters() {
		if _, hidden := sensitive[p.Name]; hidden {
			continue
		}
		line := fmt.Sprintf("  %s (%s", p.Name, p.Type)
		if p.Required {
			line += ", required"
		}
		line += ")"
		if p.Description != "" {
			line += ": " + p.Description
		}
		args = append(args, line)
	}

	desc := strings.TrimSpace(t.Description)
	if len(args) == 0 {
		return desc
	}
	if desc != "" {
		desc += "\n\n"
	}
	return desc + "Args:\n" + strings.Join(args, "\n")
}
