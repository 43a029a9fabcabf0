package main

import (
	"encoding/json"
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/pointsync/internal/reconcile"
	"github.com/sells-group/pointsync/internal/resilience"
	"github.com/sells-group/pointsync/internal/store"
	"github.com/sells-group/pointsync/pkg/pointstore"
)

var (
	deletionsRecovery string
	deletionsJob      string
	deletionsPending  bool
	deletionsLimit    int
	deletionsRestore  bool
)

var deletionsCmd = &cobra.Command{
	Use:   "deletions",
	Short: "List or restore points removed by duplicate replacement",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signalContext(cmd.Context())
		defer stop()

		recovery, err := store.NewSQLite(deletionsRecovery)
		if err != nil {
			return eris.Wrap(err, "deletions: open recovery log")
		}
		defer func() { _ = recovery.Close() }()
		if err := recovery.Migrate(ctx); err != nil {
			return eris.Wrap(err, "deletions: migrate recovery log")
		}

		out := cmd.OutOrStdout()
		if deletionsRestore {
			client := pointstore.NewClient(cfg.PointStore.BaseURL, cfg.PointStore.ClientOptions()...)
			engine := reconcile.New(client, cfg.Reconcile.Engine(), reconcile.WithRecoveryLog(recovery))
			res, err := engine.Restore(ctx, deletionsJob)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "restored: %d  failed: %d\n", len(res.Restored), len(res.Failed))
			for _, f := range res.Failed {
				fmt.Fprintf(out, "  %s: %s\n", f.ExternalID, f.Message)
			}
			return nil
		}

		entries, err := recovery.ListDeletions(ctx, resilience.DeletionFilter{
			JobID:       deletionsJob,
			OnlyPending: deletionsPending,
			Limit:       deletionsLimit,
		})
		if err != nil {
			return err
		}
		enc := json.NewEncoder(out)
		for _, e := range entries {
			if err := enc.Encode(e); err != nil {
				return eris.Wrap(err, "deletions: encode entry")
			}
		}
		return nil
	},
}

func init() {
	deletionsCmd.Flags().StringVar(&deletionsRecovery, "recovery", "pointsync-recovery.db", "SQLite file holding the deletion recovery log")
	deletionsCmd.Flags().StringVar(&deletionsJob, "job", "", "only entries of this job")
	deletionsCmd.Flags().BoolVar(&deletionsPending, "pending", false, "only points deleted and not yet recreated")
	deletionsCmd.Flags().IntVar(&deletionsLimit, "limit", 100, "maximum entries to list")
	deletionsCmd.Flags().BoolVar(&deletionsRestore, "restore", false, "write pending points back to the store")
	rootCmd.AddCommand(deletionsCmd)
}
