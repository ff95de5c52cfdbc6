package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List the registered decision agents",
	RunE:  runAgents,
}

func runAgents(cmd *cobra.Command, args []string) error {
	rt, err := buildRuntime(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer rt.close()

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "AGENT\tKIND\tSTATUS")
	for _, reg := range rt.registry.Registrations() {
		fmt.Fprintf(w, "%s\t%s\t%s\n", reg.AgentID, reg.Kind, reg.Status)
	}
	return w.Flush()
}
