package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "REGASSIST_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.mcp_port", typ: kInt, env: "REGASSIST_SERVER_MCP_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.MCPPort = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.MCPPort },
	},
	{
		key: "llm.provider", typ: kString, env: "REGASSIST_LLM_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.LLM.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.Provider },
	},
	{
		key: "llm.base_url", typ: kString, env: "REGASSIST_LLM_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.LLM.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.BaseURL },
	},
	{
		key: "llm.model", typ: kString, env: "REGASSIST_LLM_MODEL",
		apply:   func(cfg *Config, v any) { cfg.LLM.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.Model },
	},
	{
		key: "llm.embed_model", typ: kString, env: "REGASSIST_LLM_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.LLM.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.EmbedModel },
	},
	{
		key: "llm.api_key", typ: kString, env: "REGASSIST_LLM_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.LLM.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.APIKey },
	},
	{
		key: "llm.reasoning_budget", typ: kInt, env: "REGASSIST_LLM_REASONING_BUDGET",
		apply:   func(cfg *Config, v any) { cfg.LLM.ReasoningBudget = v.(int) },
		extract: func(cfg Config) any { return cfg.LLM.ReasoningBudget },
	},
	{
		key: "storage.data_dir", typ: kString, env: "REGASSIST_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "cache.enabled", typ: kBool, env: "REGASSIST_CACHE_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.Cache.Enabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.Cache.Enabled },
	},
	{
		key: "index.auto_on_second_hit", typ: kBool, env: "REGASSIST_INDEX_AUTO_ON_SECOND_HIT",
		apply:   func(cfg *Config, v any) { cfg.Index.AutoOnSecondHit = v.(bool) },
		extract: func(cfg Config) any { return cfg.Index.AutoOnSecondHit },
	},
	{
		key: "limits.max_tool_rounds", typ: kInt, env: "REGASSIST_LIMITS_MAX_TOOL_ROUNDS",
		apply:   func(cfg *Config, v any) { cfg.Limits.MaxToolRounds = v.(int) },
		extract: func(cfg Config) any { return cfg.Limits.MaxToolRounds },
	},
	{
		key: "limits.turn_timeout_s", typ: kInt, env: "REGASSIST_LIMITS_TURN_TIMEOUT_S",
		apply:   func(cfg *Config, v any) { cfg.Limits.TurnTimeoutSeconds = v.(int) },
		extract: func(cfg Config) any { return cfg.Limits.TurnTimeoutSeconds },
	},
	{
		key: "limits.personal_docs.max_size_mb", typ: kInt, env: "REGASSIST_LIMITS_PERSONAL_DOCS_MAX_SIZE_MB",
		apply:   func(cfg *Config, v any) { cfg.Limits.PersonalDocsMaxSizeMB = v.(int) },
		extract: func(cfg Config) any { return cfg.Limits.PersonalDocsMaxSizeMB },
	},
	{
		key: "limits.personal_docs.max_per_user", typ: kInt, env: "REGASSIST_LIMITS_PERSONAL_DOCS_MAX_PER_USER",
		apply:   func(cfg *Config, v any) { cfg.Limits.PersonalDocsMaxPerUse = v.(int) },
		extract: func(cfg Config) any { return cfg.Limits.PersonalDocsMaxPerUse },
	},
	{
		key: "search_proxy.url", typ: kString, env: "REGASSIST_SEARCH_PROXY_URL",
		apply:   func(cfg *Config, v any) { cfg.SearchProxy.URL = v.(string) },
		extract: func(cfg Config) any { return cfg.SearchProxy.URL },
	},
	{
		key: "search_proxy.port", typ: kInt, env: "REGASSIST_SEARCH_PROXY_PORT",
		apply:   func(cfg *Config, v any) { cfg.SearchProxy.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.SearchProxy.Port },
	},
	{
		key: "search_proxy.shared_secret", typ: kString, env: "REGASSIST_SEARCH_PROXY_SHARED_SECRET",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.SearchProxy.SharedSecret = v.(string) },
		extract: func(cfg Config) any { return cfg.SearchProxy.SharedSecret },
	},
	{
		key: "regulatory.cfr_base_url", typ: kString, env: "REGASSIST_REGULATORY_CFR_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Regulatory.CFRBaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Regulatory.CFRBaseURL },
	},
	{
		key: "regulatory.drs_base_url", typ: kString, env: "REGASSIST_REGULATORY_DRS_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Regulatory.DRSBaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Regulatory.DRSBaseURL },
	},
	{
		key: "regulatory.drs_api_key", typ: kString, env: "REGASSIST_REGULATORY_DRS_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Regulatory.DRSAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Regulatory.DRSAPIKey },
	},
	{
		key: "regulatory.aps_base_url", typ: kString, env: "REGASSIST_REGULATORY_APS_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Regulatory.APSBaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Regulatory.APSBaseURL },
	},
	{
		key: "regulatory.aps_api_key", typ: kString, env: "REGASSIST_REGULATORY_APS_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Regulatory.APSAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Regulatory.APSAPIKey },
	},
	{
		key: "log.level", typ: kString, env: "REGASSIST_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if bv, err := strconv.ParseBool(v); err == nil {
					s.apply(cfg, bv)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
