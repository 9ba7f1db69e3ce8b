package llm

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/hrygo/agentworld/internal/profile"
)

// Provider identifiers.
const (
	ProviderOpenAI           = "openai"
	ProviderAnthropic        = "anthropic"
	ProviderGoogle           = "google"
	ProviderXAI              = "xai"
	ProviderAzureOpenAI      = "azure-openai"
	ProviderOpenAICompatible = "openai-compatible"
	ProviderOllama           = "ollama"
)

// providerDefaults is the default model catalog, used when an agent names
// a provider without a model.
var providerDefaults = map[string]string{
	ProviderOpenAI:           "gpt-4o",
	ProviderAnthropic:        "claude-sonnet-4-5-20250929",
	ProviderGoogle:           "gemini-2.0-flash",
	ProviderXAI:              "grok-3",
	ProviderAzureOpenAI:      "gpt-4o",
	ProviderOpenAICompatible: "gpt-4o",
	ProviderOllama:           "llama3.1",
}

// DefaultModel returns the catalog default for a provider, empty when the
// provider is unknown.
func DefaultModel(provider string) string {
	return providerDefaults[provider]
}

// ProviderConfig carries the credentials and endpoint of one provider.
type ProviderConfig struct {
	APIKey  string
	BaseURL string

	// Azure specifics
	ResourceName string
	Deployment   string
	APIVersion   string
}

// Registry holds per-provider configuration. It is populated once at
// startup from the profile and read-only afterwards, except for explicit
// ConfigureProvider calls from the programmatic API.
type Registry struct {
	mu      sync.RWMutex
	configs map[string]ProviderConfig
}

// NewRegistry builds the provider registry from profile credentials.
func NewRegistry(p *profile.Profile) *Registry {
	r := &Registry{configs: make(map[string]ProviderConfig)}
	r.configs[ProviderOpenAI] = ProviderConfig{APIKey: p.OpenAIAPIKey}
	r.configs[ProviderAnthropic] = ProviderConfig{APIKey: p.AnthropicAPIKey}
	r.configs[ProviderGoogle] = ProviderConfig{APIKey: p.GoogleAPIKey}
	r.configs[ProviderXAI] = ProviderConfig{APIKey: p.XAIAPIKey, BaseURL: "https://api.x.ai/v1"}
	r.configs[ProviderAzureOpenAI] = ProviderConfig{
		APIKey:       p.AzureAPIKey,
		ResourceName: p.AzureResourceName,
		Deployment:   p.AzureDeployment,
		APIVersion:   p.AzureAPIVersion,
	}
	r.configs[ProviderOpenAICompatible] = ProviderConfig{APIKey: p.CompatAPIKey, BaseURL: p.CompatBaseURL}
	r.configs[ProviderOllama] = ProviderConfig{BaseURL: p.OllamaBaseURL}
	return r
}

// Configure overrides one provider's configuration at runtime.
func (r *Registry) Configure(provider string, cfg ProviderConfig) error {
	if _, ok := providerDefaults[provider]; !ok {
		return errors.Errorf("unknown provider %q", provider)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs[provider] = cfg
	return nil
}

// Config returns the configuration of a provider.
func (r *Registry) Config(provider string) (ProviderConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.configs[provider]
	return cfg, ok
}

// NewProvider builds the adapter for the named provider.
func (r *Registry) NewProvider(provider string) (Provider, error) {
	cfg, ok := r.Config(provider)
	if !ok {
		return nil, errors.Errorf("unknown provider %q", provider)
	}
	switch provider {
	case ProviderOpenAI, ProviderXAI, ProviderAzureOpenAI, ProviderOpenAICompatible, ProviderOllama:
		return newOpenAIProvider(provider, cfg), nil
	case ProviderAnthropic:
		if cfg.APIKey == "" {
			return nil, errors.New("anthropic api key not configured")
		}
		return newAnthropicProvider(cfg), nil
	case ProviderGoogle:
		if cfg.APIKey == "" {
			return nil, errors.New("google api key not configured")
		}
		return newGoogleProvider(cfg), nil
	default:
		return nil, errors.Errorf("unknown provider %q", provider)
	}
}
