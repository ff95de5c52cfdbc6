package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"decisiond/internal/audit"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the audit chain from genesis",
	Long: `Replays the persisted audit chain, recomputing every entry hash from
the genesis entry, and reports the first tampered or out-of-order entry if
the chain does not hold.`,
	RunE: runVerify,
}

var verifyDBPath string

func init() {
	verifyCmd.Flags().StringVar(&verifyDBPath, "db", "", "audit database path (overrides config)")
}

func runVerify(cmd *cobra.Command, args []string) error {
	path := cfg.Audit.DatabasePath
	if verifyDBPath != "" {
		path = verifyDBPath
	}
	if path == "" {
		return fmt.Errorf("no audit database: set audit.database_path or pass --db")
	}

	store, err := audit.OpenSQLiteStore(path)
	if err != nil {
		return err
	}
	defer store.Close()

	trail, err := audit.LoadTrail(store, cfg.Audit.MaxConsecutiveFailures)
	if err != nil {
		return err
	}

	ok, broken := trail.VerifyChain()
	if !ok {
		return fmt.Errorf("audit chain broken at entry %s (decision %s, recorded %s)",
			broken.EntryID, broken.DecisionID, broken.Timestamp.Format("2006-01-02 15:04:05"))
	}

	fmt.Printf("audit chain intact: %d entries verified\n", trail.Len())
	return nil
}
