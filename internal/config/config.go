// Package config resolves the proxy's runtime configuration from flags,
// environment variables and an optional YAML router/provider file.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cruiseproxy/cruise/internal/adapter"
	"github.com/cruiseproxy/cruise/internal/db"
	"github.com/cruiseproxy/cruise/internal/router"
)

// AppConfig is the fully resolved configuration for one cruise process.
type AppConfig struct {
	Port int

	DatabaseDSN string

	AnthropicAPIKey  string
	OpenRouterAPIKey string
	OllamaEnabled    bool
	OllamaEndpoint   string

	RouterConfigPath string
	RouterMode       router.Mode
	RouterEnabled    bool

	LogLevel string
	LogFile  string

	ProjectPath string
}

// Parse resolves AppConfig from CLI flags layered over environment
// variables; flags win when both are set.
func Parse(args []string) (AppConfig, error) {
	fs := flag.NewFlagSet("cruise", flag.ContinueOnError)

	port := fs.Int("port", envInt("CRUISE_PORT", 8089), "listen port")
	dsn := fs.String("db", os.Getenv("CRUISE_DB_DSN"), "database DSN (sqlite path, postgres:// or mysql DSN); defaults to ~/.cruise/usage.db")
	routerConfigPath := fs.String("router-config", os.Getenv("CRUISE_ROUTER_CONFIG"), "optional YAML file describing routing providers")
	routerMode := fs.String("router-mode", envOr("CRUISE_ROUTER_MODE", string(router.ModeManual)), "manual, semi-auto or full-auto")
	logLevel := fs.String("log-level", envOr("CRUISE_LOG_LEVEL", "info"), "logrus level")
	logFile := fs.String("log-file", os.Getenv("CRUISE_LOG_FILE"), "rotated log file path; empty logs to stdout")
	projectPath := fs.String("project", os.Getenv("CRUISE_PROJECT_PATH"), "working directory tag recorded on the session")

	if err := fs.Parse(args); err != nil {
		return AppConfig{}, err
	}

	cfg := AppConfig{
		Port:             *port,
		DatabaseDSN:      strings.TrimSpace(*dsn),
		AnthropicAPIKey:  os.Getenv("ANTHROPIC_API_KEY"),
		OpenRouterAPIKey: os.Getenv("OPENROUTER_API_KEY"),
		OllamaEnabled:    envBool("OLLAMA_ENABLED", false),
		OllamaEndpoint:   envOr("OLLAMA_ENDPOINT", "http://localhost:11434"),
		RouterConfigPath: strings.TrimSpace(*routerConfigPath),
		RouterMode:       router.Mode(strings.TrimSpace(*routerMode)),
		RouterEnabled:    envBool("CRUISE_ROUTER_ENABLED", true),
		LogLevel:         strings.TrimSpace(*logLevel),
		LogFile:          strings.TrimSpace(*logFile),
		ProjectPath:      strings.TrimSpace(*projectPath),
	}
	if cfg.DatabaseDSN == "" {
		cfg.DatabaseDSN = db.DefaultDBPath()
	}
	if cfg.AnthropicAPIKey == "" {
		return AppConfig{}, fmt.Errorf("config: ANTHROPIC_API_KEY is required")
	}
	if cfg.ProjectPath == "" {
		if wd, err := os.Getwd(); err == nil {
			cfg.ProjectPath = wd
		}
	}
	return cfg, nil
}

// providerFile is the on-disk shape of an optional router config file.
type providerFile struct {
	Mode                      string  `yaml:"mode"`
	Enabled                   *bool   `yaml:"enabled"`
	SwitchToHaikuPercent      float64 `yaml:"switch_to_haiku_percent"`
	SwitchToOpenRouterPercent float64 `yaml:"switch_to_openrouter_percent"`
	SwitchToLocalPercent      float64 `yaml:"switch_to_local_percent"`
	Providers                 []struct {
		Name     string   `yaml:"name"`
		Type     string   `yaml:"type"`
		Endpoint string   `yaml:"endpoint"`
		APIKey   string   `yaml:"api_key"`
		Models   []string `yaml:"models"`
		Priority int      `yaml:"priority"`
		Enabled  bool     `yaml:"enabled"`
	} `yaml:"providers"`
}

// RouterConfig builds the router.Config for cfg, consulting the optional
// YAML file if one was supplied and otherwise falling back to the built-in
// primary/OpenRouter/local-chat provider set driven by the API keys and
// flags already resolved onto cfg.
func RouterConfig(cfg AppConfig) (router.Config, error) {
	if cfg.RouterConfigPath != "" {
		return loadRouterConfigFile(cfg.RouterConfigPath, cfg)
	}
	return defaultRouterConfig(cfg), nil
}

func defaultRouterConfig(cfg AppConfig) router.Config {
	providers := []router.Provider{
		{
			Name:     "primary",
			Type:     router.ProviderPrimary,
			Endpoint: "https://api.anthropic.com",
			APIKey:   cfg.AnthropicAPIKey,
			Models:   []string{"claude-sonnet-4", "claude-haiku-4", "claude-opus-4"},
			Priority: 1,
			Enabled:  true,
		},
	}
	if cfg.OpenRouterAPIKey != "" {
		providers = append(providers, router.Provider{
			Name:     "openrouter",
			Type:     router.ProviderOpenAICompatible,
			Endpoint: "https://openrouter.ai/api",
			APIKey:   cfg.OpenRouterAPIKey,
			Models:   []string{"anthropic/claude-sonnet-4"},
			Priority: 2,
			Enabled:  true,
		})
	}
	if cfg.OllamaEnabled {
		providers = append(providers, router.Provider{
			Name:     "local",
			Type:     router.ProviderLocalChat,
			Endpoint: cfg.OllamaEndpoint,
			Models:   []string{"llama3"},
			Priority: 3,
			Enabled:  true,
		})
	}
	return router.Config{
		Mode:      cfg.RouterMode,
		Enabled:   cfg.RouterEnabled,
		Providers: providers,
	}
}

func loadRouterConfigFile(path string, cfg AppConfig) (router.Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return router.Config{}, fmt.Errorf("config: read router config: %w", err)
	}
	var pf providerFile
	if err := yaml.Unmarshal(raw, &pf); err != nil {
		return router.Config{}, fmt.Errorf("config: parse router config: %w", err)
	}

	out := router.Config{
		Mode:                      router.Mode(strings.TrimSpace(pf.Mode)),
		Enabled:                   true,
		SwitchToHaikuPercent:      pf.SwitchToHaikuPercent,
		SwitchToOpenRouterPercent: pf.SwitchToOpenRouterPercent,
		SwitchToLocalPercent:      pf.SwitchToLocalPercent,
	}
	if out.Mode == "" {
		out.Mode = cfg.RouterMode
	}
	if pf.Enabled != nil {
		out.Enabled = *pf.Enabled
	}
	for _, p := range pf.Providers {
		out.Providers = append(out.Providers, router.Provider{
			Name:     p.Name,
			Type:     router.ProviderType(p.Type),
			Endpoint: p.Endpoint,
			APIKey:   p.APIKey,
			Models:   p.Models,
			Priority: p.Priority,
			Enabled:  p.Enabled,
		})
	}
	return out, nil
}

// ProviderTargets builds a ProviderTarget (the caller converts each one to a
// proxy.ProviderTarget) for every provider in rc, keyed by name, deriving each one's adapter Kind from its router type
// so the two packages' provider lists can never drift out of sync.
func ProviderTargets(rc router.Config) map[string]ProviderTarget {
	targets := make(map[string]ProviderTarget, len(rc.Providers))
	for _, p := range rc.Providers {
		targets[p.Name] = ProviderTarget{
			Name:    p.Name,
			Kind:    kindForProviderType(p.Type),
			BaseURL: p.Endpoint,
			APIKey:  p.APIKey,
		}
	}
	return targets
}

func kindForProviderType(t router.ProviderType) adapter.Kind {
	switch t {
	case router.ProviderOpenAICompatible:
		return adapter.KindOpenAI
	case router.ProviderLocalChat:
		return adapter.KindLocalChat
	default:
		return adapter.KindPrimary
	}
}

// ProviderTarget mirrors proxy.ProviderTarget; duplicated here (rather than
// imported) to keep this package independent of the HTTP surface package.
type ProviderTarget struct {
	Name    string
	Kind    adapter.Kind
	BaseURL string
	APIKey  string
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBool(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
