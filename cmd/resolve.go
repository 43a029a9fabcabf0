package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/pointsync/internal/export"
	"github.com/sells-group/pointsync/internal/model"
)

var (
	resolveFile    string
	resolveSheet   string
	resolveRules   string
	resolveOut     string
	resolveGeoJSON string
)

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Geocode a spreadsheet of collection points",
	Long:  "Reads the spreadsheet, resolves coordinates for every row and writes the records with their outcome to a JSON file.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signalContext(cmd.Context())
		defer stop()

		res, err := loadSheet(resolveFile, resolveSheet, resolveRules)
		if err != nil {
			return eris.Wrap(err, "resolve: load sheet")
		}

		cache, release, err := geocodeCache(ctx)
		if err != nil {
			return err
		}
		defer release()

		resolver, err := newResolver(cache)
		if err != nil {
			return err
		}

		job, done := runBatch(ctx, resolver, res.Records)
		recs := job.Records()

		if err := export.SaveRecords(resolveOut, &export.RecordsFile{
			JobID:   job.ID,
			Source:  resolveFile,
			Records: recs,
		}); err != nil {
			return err
		}

		if resolveGeoJSON != "" {
			if err := writeGeoJSON(resolveGeoJSON, recs); err != nil {
				return err
			}
		}

		s := done.Summary
		zap.L().Info("resolve complete",
			zap.String("job_id", job.ID),
			zap.String("status", string(done.Status)),
			zap.String("out", resolveOut),
		)
		fmt.Fprintf(cmd.OutOrStdout(), "%d records: %d resolved, %d failed, %d skipped, %d pending (%s)\n",
			s.Total, s.Success, s.Failed, s.Skipped, s.Pending, s.Outcome())
		printFailures(cmd, recs, res.Line)
		return nil
	},
}

// printFailures lists records that ended in error with their spreadsheet
// line and reason.
func printFailures(cmd *cobra.Command, recs []model.ImportRecord, line func(int) int) {
	const maxShown = 20
	shown := 0
	for _, r := range recs {
		if r.Status != model.StatusError {
			continue
		}
		if shown == maxShown {
			fmt.Fprintln(cmd.OutOrStdout(), "  ...")
			return
		}
		fmt.Fprintf(cmd.OutOrStdout(), "  linha %d (%s): %s\n", line(r.Index), r.Key(), r.Reason)
		shown++
	}
}

func writeGeoJSON(path string, recs []model.ImportRecord) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "create %s", path)
	}
	n, err := export.GeoJSON(f, recs)
	if err != nil {
		_ = f.Close()
		return err
	}
	zap.L().Info("geojson written", zap.String("path", path), zap.Int("features", n))
	return eris.Wrapf(f.Close(), "close %s", path)
}

func init() {
	resolveCmd.Flags().StringVar(&resolveFile, "file", "", "spreadsheet to resolve (.xlsx or .csv, required)")
	resolveCmd.Flags().StringVar(&resolveSheet, "sheet", "", "worksheet name (default first sheet)")
	resolveCmd.Flags().StringVar(&resolveRules, "rules", "", "custom column/schedule rules YAML")
	resolveCmd.Flags().StringVar(&resolveOut, "out", "resolved.json", "output records JSON")
	resolveCmd.Flags().StringVar(&resolveGeoJSON, "geojson", "", "also write resolved points as GeoJSON")
	_ = resolveCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(resolveCmd)
}
