package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

const (
	envDiscordBotToken   = "DISCORD_BOT_TOKEN"
	envDiscordAllowFrom  = "DISCORD_ALLOW_FROM"
	envTelegramBotToken  = "TELEGRAM_BOT_TOKEN"
	envTelegramAllowFrom = "TELEGRAM_ALLOW_FROM"
)

// Config is the root runtime configuration loaded from config.json.
type Config struct {
	Agents     AgentsConfig     `json:"agents"`
	Channels   ChannelsConfig   `json:"channels"`
	Providers  ProvidersConfig  `json:"providers"`
	Responders RespondersConfig `json:"responders"`
	History    HistoryConfig    `json:"history,omitempty"`
	Gateway    GatewayConfig    `json:"gateway"`
	Logging    LoggingConfig    `json:"logging,omitempty"`
}

// LoggingConfig controls structured log output format and verbosity.
type LoggingConfig struct {
	Format    string `json:"format,omitempty"`
	Level     string `json:"level,omitempty"`
	AddSource bool   `json:"add_source,omitempty"`
}

// AgentsConfig contains agent backend defaults.
type AgentsConfig struct {
	Defaults AgentDefaults `json:"defaults"`
}

// AgentDefaults describes default model/backend settings for new channel sessions.
type AgentDefaults struct {
	Provider    string  `json:"provider"`
	Model       string  `json:"model"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
	// Preamble overrides the embedded system profile when set.
	Preamble string `json:"preamble,omitempty"`
	// Home is the bridge home directory (responders, history, restart flag).
	Home string `json:"home,omitempty"`
}

// ProvidersConfig stores per-provider connection settings.
type ProvidersConfig struct {
	OpenCode OpenCodeProviderConfig `json:"opencode"`
	OpenAI   OpenAIProviderConfig   `json:"openai"`
}

// OpenCodeProviderConfig configures the OpenCode provider client.
type OpenCodeProviderConfig struct {
	BaseURL               string `json:"base_url"`
	Username              string `json:"username"`
	PasswordEnv           string `json:"password_env"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds"`
}

// OpenAIProviderConfig configures the OpenAI provider client.
type OpenAIProviderConfig struct {
	BaseURL               string `json:"base_url"`
	APIKeyEnv             string `json:"api_key_env"`
	Organization          string `json:"organization"`
	Project               string `json:"project"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds"`
}

// ChannelsConfig stores transport adapter settings.
type ChannelsConfig struct {
	Discord  DiscordConfig  `json:"discord"`
	Telegram TelegramConfig `json:"telegram"`
}

// DiscordConfig configures Discord channel integration.
type DiscordConfig struct {
	Enabled   bool     `json:"enabled"`
	Token     string   `json:"token"`
	AllowFrom []string `json:"allow_from"`
}

// TelegramConfig configures Telegram channel integration.
type TelegramConfig struct {
	Enabled   bool     `json:"enabled"`
	Token     string   `json:"token"`
	AllowFrom []string `json:"allow_from"`
}

// RespondersConfig controls auto-responder plugin discovery and hot reload.
type RespondersConfig struct {
	// Dir is the plugin directory scanned for responder .so files.
	// Empty means <home>/responders.
	Dir string `json:"dir,omitempty"`
	// ReloadCheckSeconds gates how often the directory is re-counted.
	ReloadCheckSeconds int `json:"reload_check_seconds,omitempty"`
}

// HistoryConfig controls the per-channel transcript store.
type HistoryConfig struct {
	// Path of the transcript file. Empty means <home>/history.json.
	Path string `json:"path,omitempty"`
	// MaxTurns caps the retained turns per channel. Zero means the default of 50.
	MaxTurns int `json:"max_turns,omitempty"`
}

// GatewayConfig configures HTTP status endpoint bind settings.
type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// LoadConfig resolves config.json, unmarshals it, and applies environment overrides.
func LoadConfig() (*Config, error) {
	configPath, err := findConfigPath()
	if err != nil {
		return nil, err
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides injects selected env-driven settings on top of file config.
func applyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}

	if token := strings.TrimSpace(os.Getenv(envDiscordBotToken)); token != "" {
		cfg.Channels.Discord.Token = token
	}
	if rawAllowFrom := strings.TrimSpace(os.Getenv(envDiscordAllowFrom)); rawAllowFrom != "" {
		cfg.Channels.Discord.AllowFrom = parseCSV(rawAllowFrom)
	}

	if token := strings.TrimSpace(os.Getenv(envTelegramBotToken)); token != "" {
		cfg.Channels.Telegram.Token = token
	}
	if rawAllowFrom := strings.TrimSpace(os.Getenv(envTelegramAllowFrom)); rawAllowFrom != "" {
		cfg.Channels.Telegram.AllowFrom = parseCSV(rawAllowFrom)
	}
}

// parseCSV splits comma-separated values and returns a trimmed compact slice.
func parseCSV(input string) []string {
	parts := strings.Split(input, ",")
	clean := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		clean = append(clean, trimmed)
	}

	return slices.Clip(clean)
}

// findConfigPath resolves the active config file location.
//
// Precedence is CLAWBRIDGE_CONFIG first, then cwd-local fallback paths.
func findConfigPath() (string, error) {
	if value := strings.TrimSpace(os.Getenv("CLAWBRIDGE_CONFIG")); value != "" {
		if info, err := os.Stat(value); err == nil && !info.IsDir() {
			return value, nil
		}
		return "", fmt.Errorf("CLAWBRIDGE_CONFIG does not point to a file: %s", value)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get current working directory: %w", err)
	}

	candidates := []string{
		filepath.Join(cwd, "config.json"),
		filepath.Join(cwd, "config", "config.json"),
	}

	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("config.json not found (checked %s and %s)", candidates[0], candidates[1])
}
