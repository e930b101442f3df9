package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ptrvsrg/crack-hash/internal/orchestrator"
)

var reconcileLimit int

func init() {
	reconcileCmd.Flags().IntVar(&reconcileLimit, "limit", 0, "сколько незавершённых задач пересчитать (по умолчанию sweeper.batch)")
	rootCmd.AddCommand(reconcileCmd)
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Однократно пересчитать статусы незавершённых задач",
	Args:  cobra.NoArgs,
	RunE:  runReconcile,
}

func runReconcile(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	limit := reconcileLimit
	if limit <= 0 {
		limit = cfg.Sweeper.Batch
	}

	st, err := openStore(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer closeStore(st)

	updated, err := orchestrator.New(st, serviceConfig(cfg)).Reconcile(cmd.Context(), limit)
	fmt.Fprintf(cmd.OutOrStdout(), "updated %d task(s)\n", updated)
	return err
}
