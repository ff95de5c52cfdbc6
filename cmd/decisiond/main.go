// decisiond is the decision-orchestration CLI. It runs decision cycles over
// context snapshots, verifies the audit chain and inspects the agent roster.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"decisiond/internal/config"
	"decisiond/internal/logging"
)

var (
	// Global flags
	configPath string
	verbose    bool

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "decisiond",
	Short: "decisiond - autonomous decision orchestration engine",
	Long: `decisiond runs context snapshots through the full decision pipeline:

  1. Observe:  validate the incoming context vector
  2. Propose:  fan out to the registered decision agents in parallel
  3. Validate: apply the fail-closed safety arbiter to every proposal
  4. Decide:   optimize the surviving set (external solver, classical fallback)
  5. Act:      append the decision to the hash-chained audit trail

Every decision carries its solver version, policy version, rationale and a
canonical signature, and every cycle leaves a verifiable audit record.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if verbose {
			cfg.Logging.Level = "debug"
		}
		return logging.Init(logging.Config{
			Level:       cfg.Logging.Level,
			JSON:        cfg.Logging.JSON,
			Development: cfg.Logging.Development,
		})
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("%s %s\n", cfg.Name, cfg.Version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(processCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(agentsCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
