package config

import (
	"fmt"
	"os"
)

// loadAgents resolves the `agents.<name>.*` family. The set of agent names
// itself comes from the `agents` key (comma-separated), since the table-driven
// keySpec registry in keys.go only covers keys with a fixed, known name.
func loadAgents(b ConfigBackend) (map[string]AgentConfig, error) {
	names, err := agentNames(b)
	if err != nil {
		return nil, err
	}

	agents := make(map[string]AgentConfig, len(names))
	for _, name := range names {
		ac := AgentConfig{Name: name}

		ac.SystemPrompt, err = stringKey(b, "agents."+name+".system_prompt", "REGASSIST_AGENTS_"+envSuffix(name)+"_SYSTEM_PROMPT")
		if err != nil {
			return nil, err
		}
		ac.SearchIndex, err = stringKey(b, "agents."+name+".index", "REGASSIST_AGENTS_"+envSuffix(name)+"_INDEX")
		if err != nil {
			return nil, err
		}
		if ac.SearchIndex == "" {
			return nil, fmt.Errorf("missing required config: agents.%s.index", name)
		}

		toolsRaw, err := stringKey(b, "agents."+name+".tools", "REGASSIST_AGENTS_"+envSuffix(name)+"_TOOLS")
		if err != nil {
			return nil, err
		}
		ac.Tools = splitList(toolsRaw)

		patternsRaw, err := stringKey(b, "agents."+name+".citation_patterns", "REGASSIST_AGENTS_"+envSuffix(name)+"_CITATION_PATTERNS")
		if err != nil {
			return nil, err
		}
		ac.CitationPatterns = splitList(patternsRaw)

		agents[name] = ac
	}
	return agents, nil
}

func agentNames(b ConfigBackend) ([]string, error) {
	if raw := os.Getenv("REGASSIST_AGENTS"); raw != "" {
		return splitList(raw), nil
	}
	v, ok, err := b.GetString("agents")
	if err != nil {
		return nil, fmt.Errorf("reading agents: %w", err)
	}
	if !ok {
		return nil, nil
	}
	return splitList(v), nil
}

func stringKey(b ConfigBackend, key, env string) (string, error) {
	if v := os.Getenv(env); v != "" {
		return v, nil
	}
	v, ok, err := b.GetString(key)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", key, err)
	}
	if !ok {
		return "", nil
	}
	return v, nil
}

// envSuffix upper-cases an agent name for embedding in an env var, e.g.
// "faa-agent" -> "FAA_AGENT".
func envSuffix(name string) string {
	out := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z':
			out[i] = c - 'a' + 'A'
		case c == '-':
			out[i] = '_'
		default:
			out[i] = c
		}
	}
	return string(out)
}
