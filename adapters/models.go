package adapters

import "strings"

// ModelInfo describes a model the API adapter knows by name.
type ModelInfo struct {
	ID       string   `json:"id"`
	Provider string   `json:"provider"`
	Aliases  []string `json:"aliases,omitempty"`
}

// Models is the built-in catalog. The first entry per provider is its default.
var Models = []ModelInfo{
	{ID: "claude-sonnet-4-5", Provider: "anthropic", Aliases: []string{"sonnet", "claude-sonnet"}},
	{ID: "claude-opus-4-6", Provider: "anthropic", Aliases: []string{"opus", "claude-opus"}},
	{ID: "gpt-5.2-mini", Provider: "openai", Aliases: []string{"gpt5-mini"}},
	{ID: "gpt-5.2", Provider: "openai", Aliases: []string{"gpt5"}},
	{ID: "gpt-5.2-codex", Provider: "openai", Aliases: []string{"codex"}},
	{ID: "gemini-3-flash-preview", Provider: "gemini", Aliases: []string{"gemini-flash", "gemini-3-flash"}},
	{ID: "gemini-3-pro-preview", Provider: "gemini", Aliases: []string{"gemini-pro", "gemini-3-pro"}},
	{ID: "llama3.1", Provider: "ollama"},
}

// LookupModel returns the catalog entry whose ID or alias is name.
func LookupModel(name string) (ModelInfo, bool) {
	name = strings.TrimSpace(name)
	for _, m := range Models {
		if m.ID == name {
			return m, true
		}
		for _, alias := range m.Aliases {
			if alias == name {
				return m, true
			}
		}
	}
	return ModelInfo{}, false
}

// ResolveModel expands an alias to a model ID. Unknown names are returned
// unchanged so new models work without a catalog update.
func ResolveModel(name string) string {
	if m, ok := LookupModel(name); ok {
		return m.ID
	}
	return name
}

// DefaultModel returns the default model for provider, or "" if the catalog
// has none.
func DefaultModel(provider string) string {
	for _, m := range Models {
		if m.Provider == provider {
			return m.ID
		}
	}
	return ""
}
