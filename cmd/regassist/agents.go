package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/openregs/regassist/internal/config"
)

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "Inspect configured agents",
}

var agentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured agent names and their tool bindings",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAgentsList()
	},
}

func init() {
	agentsCmd.AddCommand(agentsListCmd)
}

func runAgentsList() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	names := make([]string, 0, len(cfg.Agents))
	for name := range cfg.Agents {
		names = append(names, name)
	}
	sort.Strings(names)

	if len(names) == 0 {
		fmt.Println("No agents configured.")
		return nil
	}

	for _, name := range names {
		ac := cfg.Agents[name]
		fmt.Printf("%s\n", colorize(colorBold, name))
		printStatus("index", "%s", ac.SearchIndex)
		printStatus("tools", "%v", ac.Tools)
	}
	return nil
}
