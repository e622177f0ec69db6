// Package config provides application settings loaded from environment variables.
//
// Settings are created via New() which handles:
// - Environment variable parsing with validation
// - Default value application
// - Provider-specific configuration lookup for the controller bridge

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Settings holds all application configuration.
type Settings struct {
	Engine EngineConfig
	Server ServerConfig
	Store  StoreConfig
	LLM    LLMConfig
}

// EngineConfig bounds the tool dispatch engine.
type EngineConfig struct {
	RegistryCapacity int
	MaxVariables     int
	MaxDepth         int
}

// ServerConfig holds the protocol dispatcher and transport configuration.
type ServerConfig struct {
	Name          string
	ListenAddr    string
	InvokeTimeout time.Duration
	IdleTimeout   time.Duration
	OpenAccess    bool
	LogLevel      string
}

// StoreConfig selects the persistence backend. An empty Path means the
// in-memory store.
type StoreConfig struct {
	Path string
}

// LLMConfig holds controller bridge provider configuration.
type LLMConfig struct {
	Provider    string
	Model       string
	MaxTokens   uint32
	Temperature float64
}

// providerInfo holds configuration for a specific LLM provider.
type providerInfo struct {
	modelEnv     string
	defaultModel string
	apiKeyEnv    string
}

// Supported providers and their configuration.
var providers = map[string]providerInfo{
	"openai":    {"OPENAI_MODEL", "gpt-4o", "OPENAI_API_KEY"},
	"anthropic": {"ANTHROPIC_MODEL", "claude-sonnet-4-20250514", "ANTHROPIC_API_KEY"},
	"gemini":    {"GEMINI_MODEL", "gemini-2.5-flash", "GEMINI_API_KEY"},
}

// Provider aliases map to canonical names.
var providerAliases = map[string]string{
	"claude": "anthropic",
	"google": "gemini",
	"gpt":    "openai",
}

// New loads settings from environment variables. The provider argument
// configures the controller bridge; pass "" when only the device side is
// needed.
func New(provider string) (Settings, error) {
	capacity, err := getEnvInt("AUTOSTUDIO_REGISTRY_CAPACITY", 128)
	if err != nil {
		return Settings{}, err
	}
	maxVars, err := getEnvInt("AUTOSTUDIO_MAX_VARIABLES", 64)
	if err != nil {
		return Settings{}, err
	}
	maxDepth, err := getEnvInt("AUTOSTUDIO_MAX_DEPTH", 8)
	if err != nil {
		return Settings{}, err
	}
	invokeTimeout, err := getEnvDuration("AUTOSTUDIO_INVOKE_TIMEOUT", 30*time.Second)
	if err != nil {
		return Settings{}, err
	}
	idleTimeout, err := getEnvDuration("AUTOSTUDIO_IDLE_TIMEOUT", 5*time.Minute)
	if err != nil {
		return Settings{}, err
	}
	openAccess, err := getEnvBool("AUTOSTUDIO_OPEN_ACCESS", true)
	if err != nil {
		return Settings{}, err
	}

	settings := Settings{
		Engine: EngineConfig{
			RegistryCapacity: capacity,
			MaxVariables:     maxVars,
			MaxDepth:         maxDepth,
		},
		Server: ServerConfig{
			Name:          getEnvString("AUTOSTUDIO_SERVER_NAME", "autostudio-embedded"),
			ListenAddr:    getEnvString("AUTOSTUDIO_LISTEN_ADDR", "127.0.0.1:8137"),
			InvokeTimeout: invokeTimeout,
			IdleTimeout:   idleTimeout,
			OpenAccess:    openAccess,
			LogLevel:      getEnvString("AUTOSTUDIO_LOG_LEVEL", "info"),
		},
		Store: StoreConfig{
			Path: os.Getenv("AUTOSTUDIO_STORE_PATH"),
		},
	}

	if provider == "" {
		return settings, nil
	}

	provider = normalizeProvider(provider)
	info, err := getProviderInfo(provider)
	if err != nil {
		return Settings{}, err
	}
	maxTokens, err := getEnvUint32("LLM_MAX_TOKENS", 4096)
	if err != nil {
		return Settings{}, err
	}
	temperature, err := getEnvFloat64("LLM_TEMPERATURE", 0.7)
	if err != nil {
		return Settings{}, err
	}
	model := os.Getenv(info.modelEnv)
	if model == "" {
		model = info.defaultModel
	}
	settings.LLM = LLMConfig{
		Provider:    provider,
		Model:       model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}
	return settings, nil
}

// MustNew creates settings, panicking on invalid environment values.
// Use this only when configuration errors should be fatal.
func MustNew(provider string) Settings {
	settings, err := New(provider)
	if err != nil {
		panic(fmt.Sprintf("config: %v", err))
	}
	return settings
}

// normalizeProvider converts provider aliases to canonical names.
func normalizeProvider(provider string) string {
	provider = strings.ToLower(provider)
	if canonical, ok := providerAliases[provider]; ok {
		return canonical
	}
	return provider
}

// getProviderInfo returns configuration for a provider.
func getProviderInfo(provider string) (providerInfo, error) {
	info, ok := providers[provider]
	if !ok {
		return providerInfo{}, fmt.Errorf("unknown provider: %q", provider)
	}
	return info, nil
}

// APIKeyFor returns the API key for a provider from environment variables.
func APIKeyFor(provider string) (string, error) {
	provider = normalizeProvider(provider)

	info, err := getProviderInfo(provider)
	if err != nil {
		return "", err
	}

	key := os.Getenv(info.apiKeyEnv)
	if key == "" {
		return "", fmt.Errorf("%s environment variable not set", info.apiKeyEnv)
	}
	return key, nil
}

// ModelFor returns the model for a provider, checking environment first.
func ModelFor(provider string) (string, error) {
	provider = normalizeProvider(provider)

	info, err := getProviderInfo(provider)
	if err != nil {
		return "", err
	}

	if val := os.Getenv(info.modelEnv); val != "" {
		return val, nil
	}
	return info.defaultModel, nil
}

// SupportedProviders returns the list of supported provider names.
func SupportedProviders() []string {
	result := make([]string, 0, len(providers))
	for name := range providers {
		result = append(result, name)
	}
	return result
}

// Environment variable helpers with proper error handling

func getEnvString(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return i, nil
}

func getEnvUint32(key string, defaultVal uint32) (uint32, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	i, err := strconv.ParseUint(val, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return uint32(i), nil
}

func getEnvFloat64(key string, defaultVal float64) (float64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return f, nil
}

func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return b, nil
}

func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return d, nil
}
