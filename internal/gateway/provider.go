package gateway

import (
	"fmt"
	"strings"
)

// Provider identifies a model backend.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderHTTP      Provider = "http"
)

// ParseProvider normalises a provider name.
func ParseProvider(s string) (Provider, error) {
	switch p := Provider(strings.ToLower(strings.TrimSpace(s))); p {
	case ProviderOpenAI, ProviderAnthropic, ProviderHTTP:
		return p, nil
	case "":
		return ProviderOpenAI, nil
	default:
		return "", fmt.Errorf("unknown model provider %q", s)
	}
}

// BackendConfig selects and configures a backend.
type BackendConfig struct {
	Provider        Provider
	APIKey          string
	BaseURL         string
	MaxOutputTokens int64
}

// NewBackend builds the backend named by cfg.Provider.
func NewBackend(cfg BackendConfig) (Backend, error) {
	switch cfg.Provider {
	case ProviderOpenAI, "":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("openai backend requires an API key")
		}
		return NewOpenAIBackend(cfg.APIKey, cfg.BaseURL, cfg.MaxOutputTokens), nil
	case ProviderAnthropic:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("anthropic backend requires an API key")
		}
		return NewAnthropicBackend(cfg.APIKey, cfg.BaseURL, cfg.MaxOutputTokens), nil
	case ProviderHTTP:
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("http backend requires a base URL")
		}
		return NewHTTPBackend(cfg.BaseURL, cfg.APIKey, cfg.MaxOutputTokens), nil
	default:
		return nil, fmt.Errorf("unknown model provider %q", cfg.Provider)
	}
}
