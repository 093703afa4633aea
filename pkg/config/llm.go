package config

import (
	"fmt"
	"os"

	"github.com/entrhq/govdelegate/pkg/llm/openai"
)

// DefaultModel is the model used when none is configured.
const DefaultModel = openai.DefaultModel

// LLMConfig holds LLM provider settings.
type LLMConfig struct {
	Model   string `yaml:"model" json:"model"`
	BaseURL string `yaml:"base_url" json:"base_url"`
	APIKey  string `yaml:"api_key" json:"-"`
}

// ResolveLLM merges LLM settings by precedence:
// CLI flags > Environment variables > Config file > Defaults
func ResolveLLM(cli, file LLMConfig) LLMConfig {
	out := cli

	if out.APIKey == "" {
		out.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if out.BaseURL == "" {
		out.BaseURL = os.Getenv("OPENAI_BASE_URL")
	}

	if out.Model == "" {
		out.Model = file.Model
	}
	if out.BaseURL == "" {
		out.BaseURL = file.BaseURL
	}
	if out.APIKey == "" {
		out.APIKey = file.APIKey
	}

	if out.Model == "" {
		out.Model = DefaultModel
	}
	return out
}

// BuildProvider creates the OpenAI-compatible provider for resolved settings.
func BuildProvider(cfg LLMConfig) (*openai.Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required. Set OPENAI_API_KEY environment variable, use --api-key flag, or set llm.api_key in the config file")
	}

	providerOpts := []openai.ProviderOption{
		openai.WithModel(cfg.Model),
		openai.WithJSONMode(),
	}
	if cfg.BaseURL != "" {
		providerOpts = append(providerOpts, openai.WithBaseURL(cfg.BaseURL))
	}

	provider, err := openai.NewProvider(cfg.APIKey, providerOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM provider: %w", err)
	}
	return provider, nil
}
