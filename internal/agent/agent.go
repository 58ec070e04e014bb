// Package agent resolves the static agent configuration (name, prompt,
// tool names, citation patterns) into immutable runtime bindings: concrete
// Tool implementations and compiled regexps, built once at process start.
package agent

import (
	"fmt"
	"regexp"

	"github.com/openregs/regassist/internal/config"
	"github.com/openregs/regassist/internal/llm"
	"github.com/openregs/regassist/internal/tools"
)

// Agent is a static, read-only binding: name, system prompt, the concrete
// tools it exposes to the model, its vector index, and the patterns used
// to extract citations from the model's text for client-side highlighting.
type Agent struct {
	Name             string
	SystemPrompt     string
	SearchIndex      string
	Tools            []tools.Tool
	CitationPatterns []*regexp.Regexp
}

// ToolSet resolves a tool name to its shared, process-wide implementation.
// Built once from wired dependencies (cache, LLM client, regulatory
// adapters, search client, storage) and reused across every agent that
// names the tool.
type ToolSet map[string]tools.Tool

// Registry is the immutable, process-wide set of configured agents,
// resolved once at startup.
type Registry struct {
	agents map[string]*Agent
}

// Build resolves every agents.* entry in cfg against toolSet, compiling
// citation patterns and binding tool names to their shared implementations.
// An agent naming an unknown tool or an invalid citation pattern fails the
// whole build — agent configuration is read at startup, not from
// user input, so a bad entry is an operator error worth failing loudly on.
func Build(cfg config.Config, toolSet ToolSet) (*Registry, error) {
	agents := make(map[string]*Agent, len(cfg.Agents))
	for name, ac := range cfg.Agents {
		a := &Agent{
			Name:         ac.Name,
			SystemPrompt: ac.SystemPrompt,
			SearchIndex:  ac.SearchIndex,
		}

		for _, toolName := range ac.Tools {
			tool, ok := toolSet[toolName]
			if !ok {
				return nil, fmt.Errorf("agent %q names unknown tool %q", name, toolName)
			}
			a.Tools = append(a.Tools, tool)
		}

		for _, pattern := range ac.CitationPatterns {
			re, err := regexp.Compile(pattern)
			if err != nil {
				return nil, fmt.Errorf("agent %q has invalid citation pattern %q: %w", name, pattern, err)
			}
			a.CitationPatterns = append(a.CitationPatterns, re)
		}

		agents[name] = a
	}
	return &Registry{agents: agents}, nil
}

// Get returns the named agent, or false if no such agent is configured.
func (r *Registry) Get(name string) (*Agent, bool) {
	a, ok := r.agents[name]
	return a, ok
}

// Names returns every configured agent name.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.agents))
	for name := range r.agents {
		names = append(names, name)
	}
	return names
}

// ToolByName looks up a[gent]'s tool by name, for the orchestrator's
// tool-use dispatch.
func (a *Agent) ToolByName(name string) (tools.Tool, bool) {
	for _, t := range a.Tools {
		if t.Name() == name {
			return t, true
		}
	}
	return nil, false
}

// Definitions returns the tool definitions for the model's request, in the
// agent's configured order.
func (a *Agent) Definitions() []llm.ToolSpec {
	defs := make([]llm.ToolSpec, len(a.Tools))
	for i, t := range a.Tools {
		defs[i] = t.Definition()
	}
	return defs
}
