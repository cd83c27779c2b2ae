package adapters

import (
	"fmt"
	"strings"
	"time"
)

// Kinds of adapters Build knows how to construct.
const (
	KindClaude = "claude"
	KindGemini = "gemini"
	KindQChat  = "qchat"
	KindAPI    = "api"
)

// Spec declares one adapter. Settings that do not apply to a kind are
// ignored.
type Spec struct {
	Name       string        `yaml:"name" json:"name"`
	Kind       string        `yaml:"kind" json:"kind"`
	Binary     string        `yaml:"binary,omitempty" json:"binary,omitempty"`
	Args       []string      `yaml:"args,omitempty" json:"args,omitempty"`
	Model      string        `yaml:"model,omitempty" json:"model,omitempty"`
	Provider   string        `yaml:"provider,omitempty" json:"provider,omitempty"`
	APIKeyEnv  string        `yaml:"api_key_env,omitempty" json:"api_key_env,omitempty"`
	PassEnv    []string      `yaml:"pass_env,omitempty" json:"pass_env,omitempty"`
	WorkingDir string        `yaml:"working_dir,omitempty" json:"working_dir,omitempty"`
	Timeout    time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	Disabled   bool          `yaml:"disabled,omitempty" json:"disabled,omitempty"`
}

// DefaultSpecs returns the three command-line assistants with stock settings.
func DefaultSpecs() []Spec {
	return []Spec{
		{Name: "claude", Kind: KindClaude},
		{Name: "gemini", Kind: KindGemini},
		{Name: "qchat", Kind: KindQChat},
	}
}

// AdapterName returns the name Build gives the adapter described by s.
func (s Spec) AdapterName() string {
	if s.Name != "" {
		return s.Name
	}
	switch kind := s.kind(); kind {
	case "q":
		return KindQChat
	case KindAPI:
		if p := strings.ToLower(strings.TrimSpace(s.Provider)); p != "" {
			return p
		}
		return "openai"
	default:
		return kind
	}
}

func (s Spec) kind() string {
	kind := strings.ToLower(strings.TrimSpace(s.Kind))
	if kind == "" {
		kind = strings.ToLower(strings.TrimSpace(s.Name))
	}
	return kind
}

// Build constructs the adapter described by spec. It fails only for an
// unknown kind; an unreachable tool still yields an adapter.
func Build(spec Spec, runner CommandRunner) (ToolAdapter, error) {
	kind := spec.kind()
	cli := CLIOptions{
		Name:       spec.Name,
		Binary:     spec.Binary,
		ExtraArgs:  spec.Args,
		Model:      spec.Model,
		WorkingDir: spec.WorkingDir,
		Timeout:    spec.Timeout,
		PassEnv:    spec.PassEnv,
		Runner:     runner,
	}
	switch kind {
	case KindClaude:
		return NewClaudeAdapter(cli), nil
	case KindGemini:
		return NewGeminiAdapter(cli), nil
	case KindQChat, "q":
		return NewQChatAdapter(cli), nil
	case KindAPI:
		return NewAPIAdapter(APIOptions{
			Name:      spec.Name,
			Provider:  spec.Provider,
			Model:     spec.Model,
			APIKeyEnv: spec.APIKeyEnv,
			Timeout:   spec.Timeout,
		}), nil
	default:
		return nil, fmt.Errorf("unknown adapter kind %q for %q", spec.Kind, spec.Name)
	}
}
