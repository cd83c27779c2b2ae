package adapters

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/teilomillet/gollm"
)

// APIOptions configures an APIAdapter.
type APIOptions struct {
	// Name overrides the adapter name (defaults to the provider).
	Name string
	// Provider is the gollm provider id, e.g. "openai", "anthropic", "ollama".
	Provider string
	// Model selects the model; each provider has a fallback default.
	Model string
	// APIKey is used as-is; when empty APIKeyEnv is consulted.
	APIKey string
	// APIKeyEnv names the variable holding the key (default <PROVIDER>_API_KEY).
	APIKeyEnv string
	// SystemPrompt is sent with every request.
	SystemPrompt string
	MaxTokens    int
	Temperature  float64
	// Timeout bounds each request; zero means only ctx bounds it.
	Timeout time.Duration
}

// APIAdapter sends the prompt to a hosted model through gollm. Unlike the CLI
// adapters it cannot edit files itself; it suits planning or review loops.
type APIAdapter struct {
	BaseAdapter
	provider     string
	model        string
	systemPrompt string
	timeout      time.Duration
	llm          gollm.LLM
	initErr      error
}

// NewAPIAdapter creates an adapter for a hosted model. It never fails: a
// client that cannot be built (for example, a missing key) makes
// CheckAvailability report false and Execute return a failed response.
func NewAPIAdapter(opts APIOptions) *APIAdapter {
	provider := strings.ToLower(strings.TrimSpace(opts.Provider))
	if provider == "" {
		provider = "openai"
	}
	name := opts.Name
	if name == "" {
		name = provider
	}
	model := ResolveModel(opts.Model)
	if model == "" {
		model = DefaultModel(provider)
	}
	a := &APIAdapter{
		BaseAdapter:  NewBaseAdapter(name),
		provider:     provider,
		model:        model,
		systemPrompt: opts.SystemPrompt,
		timeout:      opts.Timeout,
	}

	apiKey := opts.APIKey
	if apiKey == "" {
		keyEnv := opts.APIKeyEnv
		if keyEnv == "" {
			keyEnv = strings.ToUpper(provider) + "_API_KEY"
		}
		apiKey = os.Getenv(keyEnv)
	}
	if apiKey == "" && provider != "ollama" {
		a.initErr = fmt.Errorf("no API key configured for provider %s", provider)
		return a
	}

	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	temperature := opts.Temperature
	if temperature == 0 {
		temperature = 0.7
	}

	gollmOpts := []gollm.ConfigOption{
		gollm.SetProvider(provider),
		gollm.SetModel(model),
		gollm.SetMaxTokens(maxTokens),
		gollm.SetTemperature(temperature),
		gollm.SetMaxRetries(0), // the orchestrator owns retries
		gollm.SetLogLevel(gollm.LogLevelWarn),
	}
	if apiKey != "" {
		gollmOpts = append(gollmOpts, gollm.SetAPIKey(apiKey))
	}

	llm, err := gollm.NewLLM(gollmOpts...)
	if err != nil {
		a.initErr = fmt.Errorf("failed to create gollm LLM for provider %s: %w", provider, err)
		return a
	}
	a.llm = llm
	return a
}

// NewAPIAdapterFromLLM wraps an existing gollm.LLM instance.
func NewAPIAdapterFromLLM(name, provider, model string, llm gollm.LLM) *APIAdapter {
	return &APIAdapter{
		BaseAdapter: NewBaseAdapter(name),
		provider:    provider,
		model:       model,
		llm:         llm,
	}
}

// Provider returns the gollm provider id.
func (a *APIAdapter) Provider() string { return a.provider }

// InitError returns why the client could not be built, if it could not.
func (a *APIAdapter) InitError() error { return a.initErr }

// CheckAvailability reports whether a client was built. It makes no request.
func (a *APIAdapter) CheckAvailability(ctx context.Context) bool {
	_ = ctx
	return a.llm != nil && a.initErr == nil
}

// Execute sends the enhanced prompt as a single generation request.
func (a *APIAdapter) Execute(ctx context.Context, prompt string, opts ExecuteOptions) ToolResponse {
	start := time.Now()
	if a.llm == nil {
		msg := fmt.Sprintf("%s adapter is not available", a.Name())
		if a.initErr != nil {
			msg = a.initErr.Error()
		}
		return failure(start, msg, map[string]any{
			MetaRetryable: false,
			MetaErrorKind: "unavailable",
		})
	}

	timeout := a.timeout
	if opts.Timeout > 0 && (timeout == 0 || opts.Timeout < timeout) {
		timeout = opts.Timeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	model := a.model
	if opts.Model != "" {
		model = ResolveModel(opts.Model)
		a.llm.SetOption("model", model)
	}

	var promptOpts []gollm.PromptOption
	if a.systemPrompt != "" {
		promptOpts = append(promptOpts, gollm.WithSystemPrompt(a.systemPrompt, gollm.CacheTypeEphemeral))
	}
	text, err := a.llm.Generate(ctx, gollm.NewPrompt(a.EnhancePrompt(prompt), promptOpts...))
	if err != nil {
		class := classifyAPIError(err)
		if ctx.Err() != nil {
			class = apiErrorClass{kind: "timeout", retryable: true}
		}
		resp := failure(start, fmt.Sprintf("[%s] %v", a.provider, err), map[string]any{
			MetaRetryable: class.retryable,
			MetaErrorKind: class.kind,
			MetaModel:     model,
		})
		resp.TimedOut = class.kind == "timeout"
		return resp
	}

	return ToolResponse{
		Success:    true,
		Output:     text,
		DurationMs: time.Since(start).Milliseconds(),
		Metadata:   map[string]any{MetaModel: model},
	}
}
