package config

import (
	"fmt"
	"strings"
)

type Config struct {
	Server      ServerConfig
	LLM         LLMConfig
	Storage     StorageConfig
	Cache       CacheConfig
	Index       IndexConfig
	Limits      LimitsConfig
	SearchProxy SearchProxyConfig
	Regulatory  RegulatoryConfig
	Log         LogConfig
	Agents      map[string]AgentConfig
}

type ServerConfig struct {
	Port    int
	MCPPort int
}

// LLMConfig describes the completion provider every agent shares.
type LLMConfig struct {
	Provider        string
	BaseURL         string
	Model           string
	EmbedModel      string
	APIKey          string
	ReasoningBudget int
}

type StorageConfig struct {
	DataDir string
}

type CacheConfig struct {
	Enabled bool
}

type IndexConfig struct {
	AutoOnSecondHit bool
}

type LimitsConfig struct {
	MaxToolRounds         int
	TurnTimeoutSeconds    int
	PersonalDocsMaxSizeMB int
	PersonalDocsMaxPerUse int
}

type SearchProxyConfig struct {
	URL          string
	Port         int
	SharedSecret string
}

// RegulatoryConfig holds per-upstream credentials and endpoints for the
// CFR/DRS/APS adapters.
type RegulatoryConfig struct {
	CFRBaseURL string
	DRSBaseURL string
	DRSAPIKey  string
	APSBaseURL string
	APSAPIKey  string
}

type LogConfig struct {
	Level string
}

// AgentConfig is the on-disk/env representation of an agent binding, before
// tool names are resolved against the tool catalog and citation patterns are
// compiled into regexps (internal/agent does that resolution).
type AgentConfig struct {
	Name             string
	SystemPrompt     string
	SearchIndex      string
	Tools            []string
	CitationPatterns []string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:    4000,
			MCPPort: 4001,
		},
		LLM: LLMConfig{
			Provider:        "openai",
			BaseURL:         "https://api.openai.com/v1",
			Model:           "gpt-4o",
			EmbedModel:      "text-embedding-3-large",
			ReasoningBudget: 0,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Cache: CacheConfig{
			Enabled: true,
		},
		Index: IndexConfig{
			AutoOnSecondHit: true,
		},
		Limits: LimitsConfig{
			MaxToolRounds:         8,
			TurnTimeoutSeconds:    120,
			PersonalDocsMaxSizeMB: 20,
			PersonalDocsMaxPerUse: 20,
		},
		SearchProxy: SearchProxyConfig{
			URL:  "http://localhost:4100",
			Port: 4100,
		},
		Log: LogConfig{
			Level: "info",
		},
		Agents: map[string]AgentConfig{},
	}
}

// Load reads configuration from the JSON file backend and environment
// variable overrides. Environment variables (REGASSIST_*) win over the file
// backend on every platform; there is no platform keychain fallback — every
// secret must arrive via the environment.
func Load() (Config, error) {
	return loadWith(newPlatformBackend())
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	agents, err := loadAgents(b)
	if err != nil {
		return Config{}, err
	}
	cfg.Agents = agents

	if cfg.LLM.APIKey == "" {
		return Config{}, fmt.Errorf("missing required config: LLM API key. " +
			"Set it via environment variable REGASSIST_LLM_API_KEY")
	}

	if len(cfg.Agents) == 0 {
		return Config{}, fmt.Errorf("missing required config: no agents configured. " +
			"Set REGASSIST_AGENTS to a comma-separated list of agent names")
	}

	return cfg, nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
