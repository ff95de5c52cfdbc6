package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"decisiond/internal/types"
)

var processCmd = &cobra.Command{
	Use:   "process [context.json]",
	Short: "Run decision cycles for one or more context snapshots",
	Long: `Reads context vectors from the given JSON file (or stdin with no
argument) and runs one decision cycle per context. The input is either a
single context object or an array of them; arrays are processed concurrently
up to the configured limit.

Example context:
  {
    "subject_id": "veh-42",
    "timestamp": "2026-08-23T10:00:00Z",
    "telemetry": {"battery_level": 25},
    "consent_level": "basic"
  }`,
	Args: cobra.MaximumNArgs(1),
	RunE: runProcess,
}

func runProcess(cmd *cobra.Command, args []string) error {
	data, err := readInput(args)
	if err != nil {
		return err
	}

	cvs, err := parseContexts(data)
	if err != nil {
		return err
	}

	rt, err := buildRuntime(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer rt.close()

	decisions, err := rt.engine.ProcessBatch(cmd.Context(), cvs)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	for i, d := range decisions {
		if d == nil {
			fmt.Fprintf(os.Stderr, "%s: no action taken\n", cvs[i].SubjectID)
			continue
		}
		if encErr := enc.Encode(d); encErr != nil {
			return encErr
		}
	}

	m := rt.engine.Metrics()
	fmt.Fprintf(os.Stderr, "cycles=%d decisions=%d no_decision=%d safety_violations=%d solver_fallbacks=%d faults=%d mean_latency=%s\n",
		m.Cycles, m.Decisions, m.NoDecision, m.SafetyViolations, m.SolverFallbacks, m.Faults, m.MeanLatency)

	return err
}

func readInput(args []string) ([]byte, error) {
	if len(args) == 0 {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(args[0])
}

// parseContexts accepts a single context object or an array of them.
func parseContexts(data []byte) ([]*types.ContextVector, error) {
	var many []*types.ContextVector
	if err := json.Unmarshal(data, &many); err == nil {
		return many, nil
	}
	var one types.ContextVector
	if err := json.Unmarshal(data, &one); err != nil {
		return nil, fmt.Errorf("parse context input: %w", err)
	}
	return []*types.ContextVector{&one}, nil
}
