// Package config loads and manages bookline configuration.
// Configuration source priority (highest to lowest):
// 1. Environment variables (LLM_API_KEY, LLM_BASE_URL, LLM_MODEL, ANTHROPIC_API_KEY, etc.)
// 2. Config file path specified via --config flag
// 3. ~/.config/bookline/config.yaml
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// KnownProviderBaseURLs maps well-known provider names to their base URLs.
var KnownProviderBaseURLs = map[string]string{
	"deepseek": "https://api.deepseek.com/v1",
	"kimi":     "https://api.moonshot.cn/v1",
	"qwen":     "https://dashscope.aliyuncs.com/compatible-mode/v1",
	"groq":     "https://api.groq.com/openai/v1",
}

// KnownProviderModels maps well-known provider names to their default models.
var KnownProviderModels = map[string]string{
	"openai":    "gpt-4o-mini",
	"anthropic": "claude-sonnet-4-20250514",
	"deepseek":  "deepseek-chat",
	"kimi":      "moonshot-v1-8k",
	"qwen":      "qwen-plus",
	"groq":      "llama-3.3-70b-versatile",
}

// ProviderConfig holds configuration for a single provider.
type ProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// BudgetConfig splits the model's context window into named token reserves.
type BudgetConfig struct {
	// Total is the overall context-size limit in tokens.
	Total int `yaml:"total"`

	// SystemReserve is held back for the system prompt.
	SystemReserve int `yaml:"system_reserve"`

	// GenerationReserve is held back for the model's output.
	GenerationReserve int `yaml:"generation_reserve"`

	// ContextBudget caps the active conversational context.
	ContextBudget int `yaml:"context_budget"`

	// ReservedBuffer is extra safety headroom.
	ReservedBuffer int `yaml:"reserved_buffer"`

	// MaxSnapshots caps the recent-context store item count.
	MaxSnapshots int `yaml:"max_snapshots"`
}

// BookingConfig tunes the slot-filling dialogue.
type BookingConfig struct {
	// RequiredFields must all be collected before the conversation moves
	// to confirmation, as "<section>.<name>" keys.
	RequiredFields []string `yaml:"required_fields"`
}

// MemoryConfig configures the long-term memory store.
type MemoryConfig struct {
	// Disabled turns off cross-conversation memory entirely.
	Disabled bool `yaml:"disabled"`

	// DBPath overrides the default SQLite database location.
	DBPath string `yaml:"db_path"`
}

// Config is the complete configuration structure for bookline.
type Config struct {
	// Provider is the active provider name (e.g. "deepseek", "anthropic", "openai")
	Provider string `yaml:"provider"`

	// Model overrides the provider's default model.
	Model string `yaml:"model"`

	// Providers holds per-provider configuration.
	Providers map[string]*ProviderConfig `yaml:"providers"`

	// Budget holds the token budget split.
	Budget BudgetConfig `yaml:"budget"`

	// Booking holds slot-filling settings.
	Booking BookingConfig `yaml:"booking"`

	// Memory holds long-term memory settings.
	Memory MemoryConfig `yaml:"memory"`

	// SystemPrompt is a custom system prompt (empty uses default).
	SystemPrompt string `yaml:"system_prompt"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Provider:  "openai",
		Providers: make(map[string]*ProviderConfig),
		Budget: BudgetConfig{
			Total:             4096,
			SystemReserve:     820,
			GenerationReserve: 1230,
			ContextBudget:     2048,
			ReservedBuffer:    0,
			MaxSnapshots:      30,
		},
		Booking: BookingConfig{
			RequiredFields: []string{
				"customer.first_name",
				"customer.phone",
				"vehicle.brand",
				"appointment.date",
			},
		},
	}
}

// Load reads the config file and merges environment variable overrides.
// The returned Config is constructed once and passed down explicitly;
// nothing in this package holds mutable global state.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Determine config file path
	if configPath == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			configPath = filepath.Join(home, ".config", "bookline", "config.yaml")
		}
	}

	// Read config file (use defaults if not found)
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
		}
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Initialize providers map
	if cfg.Providers == nil {
		cfg.Providers = make(map[string]*ProviderConfig)
	}

	return cfg, nil
}

// GetProviderConfig returns the config for the named provider, or an empty config if not found.
func (c *Config) GetProviderConfig(name string) *ProviderConfig {
	if pc, ok := c.Providers[name]; ok {
		return pc
	}
	return &ProviderConfig{}
}

// SaveProviderToFile persists a single provider's config and the active provider
// name into ~/.config/bookline/config.yaml, preserving all other user settings.
func SaveProviderToFile(providerName string, pc ProviderConfig) error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("cannot determine home directory: %w", err)
	}
	cfgPath := filepath.Join(home, ".config", "bookline", "config.yaml")

	// Read existing file into a generic map to preserve unknown fields.
	raw := make(map[string]any)
	if data, err := os.ReadFile(cfgPath); err == nil {
		_ = yaml.Unmarshal(data, &raw) // ignore errors; start fresh if corrupt
	}

	// Ensure providers sub-map exists.
	providers, _ := raw["providers"].(map[string]any)
	if providers == nil {
		providers = make(map[string]any)
	}

	entry := map[string]any{
		"api_key": pc.APIKey,
	}
	if pc.BaseURL != "" {
		entry["base_url"] = pc.BaseURL
	}
	if pc.Model != "" {
		entry["model"] = pc.Model
	}
	providers[providerName] = entry
	raw["providers"] = providers

	// Set active provider and clear stale global model override.
	raw["provider"] = providerName
	delete(raw, "model")

	if err := os.MkdirAll(filepath.Dir(cfgPath), 0755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := yaml.Marshal(raw)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(cfgPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
func applyEnvOverrides(cfg *Config) {
	// Generic overrides
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		provider := cfg.Provider
		if cfg.Providers[provider] == nil {
			cfg.Providers[provider] = &ProviderConfig{}
		}
		cfg.Providers[provider].APIKey = v
	}
	if v := os.Getenv("LLM_BASE_URL"); v != "" {
		provider := cfg.Provider
		if cfg.Providers[provider] == nil {
			cfg.Providers[provider] = &ProviderConfig{}
		}
		cfg.Providers[provider].BaseURL = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		cfg.Model = v
	}

	// Anthropic-specific
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		if cfg.Providers["anthropic"] == nil {
			cfg.Providers["anthropic"] = &ProviderConfig{}
		}
		cfg.Providers["anthropic"].APIKey = v
	}

	// Provider selection
	if v := os.Getenv("BOOKLINE_PROVIDER"); v != "" {
		cfg.Provider = v
	}
	if v := os.Getenv("BOOKLINE_MODEL"); v != "" {
		cfg.Model = v
	}

	// Memory database
	if v := os.Getenv("BOOKLINE_DB_PATH"); v != "" {
		cfg.Memory.DBPath = v
	}
}
