package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/pointsync/internal/export"
	"github.com/sells-group/pointsync/internal/model"
	"github.com/sells-group/pointsync/internal/reconcile"
	"github.com/sells-group/pointsync/internal/store"
	"github.com/sells-group/pointsync/pkg/pointstore"
)

var (
	importFile         string
	importSheet        string
	importRules        string
	importIn           string
	importOnDuplicate  string
	importAllowPartial bool
	importDryRun       bool
	importRecovery     string
	importUngeocoded   bool
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Reconcile resolved points with the store and commit them",
	Long: `Imports collection points into the store. Records come from a spreadsheet
(--file, geocoded first) or from a resolve output (--in). Points whose external
id already exists need --on-duplicate: abort, replace (delete and recreate,
logging every deletion to the recovery database first) or upsert.
--allow-ungeocoded imports rows that could not be geocoded without
coordinates, marked as awaiting geolocation.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if (importFile == "") == (importIn == "") {
			return eris.New("import: exactly one of --file or --in is required")
		}
		var action reconcile.Action
		if importOnDuplicate != "" {
			a, err := reconcile.ParseAction(importOnDuplicate)
			if err != nil {
				return err
			}
			action = a
		}

		ctx, stop := signalContext(cmd.Context())
		defer stop()

		jobID, recs, err := importRecords(ctx)
		if err != nil {
			return err
		}
		if importUngeocoded {
			n := reconcile.AwaitGeolocation(recs)
			zap.L().Info("import: records awaiting geolocation", zap.Int("count", n))
		}

		recovery, err := store.NewSQLite(importRecovery)
		if err != nil {
			return eris.Wrap(err, "import: open recovery log")
		}
		defer func() { _ = recovery.Close() }()
		if err := recovery.Migrate(ctx); err != nil {
			return eris.Wrap(err, "import: migrate recovery log")
		}

		progress := make(chan reconcile.Progress, 16)
		rendered := make(chan struct{})
		go func() {
			defer close(rendered)
			renderProgress(progress)
		}()
		defer func() {
			close(progress)
			<-rendered
		}()

		client := pointstore.NewClient(cfg.PointStore.BaseURL, cfg.PointStore.ClientOptions()...)
		engine := reconcile.New(client, cfg.Reconcile.Engine(),
			reconcile.WithProgress(progress),
			reconcile.WithRecoveryLog(recovery),
		)

		plan, err := engine.Reconcile(ctx, jobID, recs)
		if err != nil {
			return eris.Wrap(err, "import: reconcile")
		}
		out := cmd.OutOrStdout()
		printPlan(out, plan)

		if importDryRun {
			return nil
		}

		if plan.HasConflicts() {
			if action == "" {
				return eris.Errorf("import: %d external id(s) already exist; rerun with --on-duplicate abort|replace|upsert", len(plan.ToUpdate))
			}
			err := engine.ResolveDuplicates(ctx, plan, reconcile.Decision{Action: action, AllowPartial: importAllowPartial})
			var partial *reconcile.PartialDeleteError
			switch {
			case errors.Is(err, reconcile.ErrAborted):
				fmt.Fprintln(out, "import aborted: nothing was written")
				return nil
			case errors.As(err, &partial):
				return eris.Wrap(err, "import: rerun with --allow-partial to import without them")
			case err != nil:
				return eris.Wrap(err, "import: resolve duplicates")
			}
		}

		res, err := engine.Commit(ctx, plan)
		var timeout *reconcile.CommitTimeoutError
		if errors.As(err, &timeout) {
			printCommit(out, timeout.Partial)
			return err
		}
		if err != nil {
			return eris.Wrap(err, "import: commit")
		}
		printCommit(out, res)
		return nil
	},
}

// importRecords loads records from --in, or geocodes --file.
func importRecords(ctx context.Context) (string, []model.ImportRecord, error) {
	if importIn != "" {
		f, err := export.LoadRecords(importIn)
		if err != nil {
			return "", nil, err
		}
		return f.JobID, f.Records, nil
	}

	res, err := loadSheet(importFile, importSheet, importRules)
	if err != nil {
		return "", nil, eris.Wrap(err, "import: load sheet")
	}
	cache, release, err := geocodeCache(ctx)
	if err != nil {
		return "", nil, err
	}
	defer release()
	resolver, err := newResolver(cache)
	if err != nil {
		return "", nil, err
	}
	job, done := runBatch(ctx, resolver, res.Records)
	if done.Status == model.JobStatusCancelled {
		return "", nil, eris.Wrap(context.Canceled, "import: geocoding cancelled")
	}
	return job.ID, job.Records(), nil
}

func renderProgress(ch <-chan reconcile.Progress) {
	for p := range ch {
		zap.L().Info("reconcile progress",
			zap.String("phase", string(p.Phase)),
			zap.Int("processed", p.Processed),
			zap.Int("total", p.Total),
			zap.Int("success", p.Success),
			zap.Int("errors", p.Errors),
		)
	}
}

func printPlan(w io.Writer, p *reconcile.Plan) {
	fmt.Fprintf(w, "new: %d  existing: %d  invalid: %d  not resolved: %d\n",
		len(p.ToCreate), len(p.ToUpdate), len(p.ValidationErrors), p.Ineligible)
	if len(p.Unverified) > 0 {
		fmt.Fprintf(w, "could not verify %d id(s); treated as new\n", len(p.Unverified))
	}
	for i, c := range p.Conflicts {
		if i == 20 {
			fmt.Fprintf(w, "  ... and %d more\n", len(p.Conflicts)-i)
			break
		}
		fmt.Fprintf(w, "  exists: %s (row %d)\n", c.ExternalID, c.Index)
	}
}

func printCommit(w io.Writer, r *reconcile.CommitResult) {
	if r == nil {
		return
	}
	fmt.Fprintf(w, "created: %d  updated: %d  validation errors: %d  processing errors: %d  (%s)\n",
		r.Created, r.Updated, len(r.ValidationErrors()), len(r.ProcessingErrors()), r.Elapsed.Round(time.Millisecond))
	for i, e := range r.Errors {
		if i == 20 {
			fmt.Fprintf(w, "  ... and %d more\n", len(r.Errors)-i)
			break
		}
		fmt.Fprintf(w, "  [%s] %s\n", e.Kind, e.Error())
	}
}

func init() {
	importCmd.Flags().StringVar(&importFile, "file", "", "spreadsheet to geocode and import")
	importCmd.Flags().StringVar(&importSheet, "sheet", "", "worksheet name (default first sheet)")
	importCmd.Flags().StringVar(&importRules, "rules", "", "custom column/schedule rules YAML")
	importCmd.Flags().StringVar(&importIn, "in", "", "records JSON written by resolve")
	importCmd.Flags().StringVar(&importOnDuplicate, "on-duplicate", "", "what to do with existing ids: abort, replace or upsert")
	importCmd.Flags().BoolVar(&importAllowPartial, "allow-partial", false, "continue a replace when some deletions failed")
	importCmd.Flags().BoolVar(&importDryRun, "dry-run", false, "reconcile and print the plan without writing")
	importCmd.Flags().BoolVar(&importUngeocoded, "allow-ungeocoded", false, "import rows that failed geocoding without coordinates")
	importCmd.Flags().StringVar(&importRecovery, "recovery", "pointsync-recovery.db", "SQLite file holding the deletion recovery log")
	rootCmd.AddCommand(importCmd)
}
