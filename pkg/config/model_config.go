package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the model-routing configuration pkg/model's provider factory and
// Manager consume: which providers are enabled, their credentials, and the
// planning/execution/review model selection. It is a distinct concern from
// HarnessConfig (the per-run harness policy) and is loaded separately; the
// harness wires a *Config into model.NewManager the way it wires a
// HarnessConfig into the orchestrator.
type Config struct {
	Models      ModelConfig       `yaml:"models"`
	Providers   ProviderConfig    `yaml:"providers"`
	PromptCache PromptCacheConfig `yaml:"prompt_cache"`
	Diagnostics DiagnosticsConfig `yaml:"diagnostics"`
}

// ModelConfig defines model preferences for the three model tiers the
// harness drives: planning, execution (synthesis), and review.
type ModelConfig struct {
	Planning        string              `yaml:"planning"`
	Execution       string              `yaml:"execution"`
	Review          string              `yaml:"review"`
	Curated         []string            `yaml:"curated"`
	VisionFallback  []string            `yaml:"vision_fallback"`
	FallbackChains  map[string][]string `yaml:"fallback_chains"`
	DefaultProvider string              `yaml:"default_provider"`
	Reasoning       string              `yaml:"reasoning"`
}

// ProviderConfig defines provider settings, API keys, and model-prefix
// routing.
type ProviderConfig struct {
	OpenRouter   ProviderSettings  `yaml:"openrouter"`
	OpenAI       ProviderSettings  `yaml:"openai"`
	Anthropic    ProviderSettings  `yaml:"anthropic"`
	Google       ProviderSettings  `yaml:"google"`
	Ollama       ProviderSettings  `yaml:"ollama"`
	LiteLLM      LiteLLMConfig     `yaml:"litellm"`
	ModelRouting map[string]string `yaml:"model_routing"`
}

// ProviderSettings contains settings for a specific provider.
type ProviderSettings struct {
	Enabled bool   `yaml:"enabled"`
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// LiteLLMConfig configures the LiteLLM proxy provider.
type LiteLLMConfig struct {
	Enabled bool     `yaml:"enabled"`
	BaseURL string   `yaml:"base_url"`
	APIKey  string   `yaml:"api_key"`
	Models  []string `yaml:"models"`
}

// PromptCacheConfig controls provider prompt caching options.
type PromptCacheConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Providers      []string `yaml:"providers"`
	SystemMessages int      `yaml:"system_messages"`
	TailMessages   int      `yaml:"tail_messages"`
}

// DiagnosticsConfig controls ambient diagnostics unrelated to harness runs,
// such as whether raw provider network traffic is logged to disk.
type DiagnosticsConfig struct {
	NetworkLogsEnabled bool `yaml:"network_logs_enabled"`
}

// DefaultModelConfig returns the baseline model-routing configuration:
// OpenRouter enabled as the default provider, default planning, execution
// and review model ids, and prompt caching on for the anthropic and
// openrouter providers.
func DefaultModelConfig() *Config {
	return &Config{
		Models: ModelConfig{
			Planning:        "anthropic/claude-sonnet-4.5",
			Execution:       "anthropic/claude-sonnet-4.5",
			Review:          "anthropic/claude-opus-4.1",
			DefaultProvider: "openrouter",
		},
		Providers: ProviderConfig{
			OpenRouter: ProviderSettings{Enabled: true},
		},
		PromptCache: PromptCacheConfig{
			Enabled:        true,
			Providers:      []string{"anthropic", "openrouter"},
			SystemMessages: 1,
			TailMessages:   2,
		},
	}
}

// LoadModelConfig loads the model-routing configuration from path (if
// non-empty and present), overlaid onto DefaultModelConfig, then applies
// provider API key and model-tier environment variable overrides. A
// missing path is not an error: defaults plus environment variables are
// enough to run against a single provider with only an API key exported.
func LoadModelConfig(path string) (*Config, error) {
	cfg := DefaultModelConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read model config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse model config %s: %w", path, err)
		}
	}

	applyModelEnvOverrides(cfg)
	return cfg, nil
}

// applyModelEnvOverrides lets deployment environments supply provider
// credentials and model-tier choices without a config file on disk, the
// same override points the teacher's own config loader exposes for its
// provider keys and model selections.
func applyModelEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("APPLYHARNESS_MODEL_PLANNING")); v != "" {
		cfg.Models.Planning = v
	}
	if v := strings.TrimSpace(os.Getenv("APPLYHARNESS_MODEL_EXECUTION")); v != "" {
		cfg.Models.Execution = v
	}
	if v := strings.TrimSpace(os.Getenv("APPLYHARNESS_MODEL_REVIEW")); v != "" {
		cfg.Models.Review = v
	}

	if v := os.Getenv("OPENROUTER_API_KEY"); v != "" {
		cfg.Providers.OpenRouter.APIKey = v
		cfg.Providers.OpenRouter.Enabled = true
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Providers.OpenAI.APIKey = v
		cfg.Providers.OpenAI.Enabled = true
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.Providers.Anthropic.APIKey = v
		cfg.Providers.Anthropic.Enabled = true
	}
	if v := os.Getenv("GOOGLE_API_KEY"); v != "" {
		cfg.Providers.Google.APIKey = v
		cfg.Providers.Google.Enabled = true
	}
	if v := os.Getenv("APPLYHARNESS_OLLAMA_BASE_URL"); v != "" {
		cfg.Providers.Ollama.BaseURL = v
		cfg.Providers.Ollama.Enabled = true
	}
	if v := os.Getenv("APPLYHARNESS_LITELLM_BASE_URL"); v != "" {
		cfg.Providers.LiteLLM.BaseURL = v
		cfg.Providers.LiteLLM.Enabled = true
	}
	if v := os.Getenv("APPLYHARNESS_LITELLM_API_KEY"); v != "" {
		cfg.Providers.LiteLLM.APIKey = v
	}
}
