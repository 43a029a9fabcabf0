package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/rotisserie/eris"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"

	"github.com/sells-group/pointsync/internal/batch"
	"github.com/sells-group/pointsync/internal/model"
	"github.com/sells-group/pointsync/internal/resolve"
	"github.com/sells-group/pointsync/internal/sheet"
	"github.com/sells-group/pointsync/internal/store"
	"github.com/sells-group/pointsync/pkg/geocode"
)

// signalContext is cancelled on the first SIGINT/SIGTERM. The handler is
// released at that point so a second signal terminates the process.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	context.AfterFunc(ctx, stop)
	return ctx, stop
}

// newBar returns a progress bar on a terminal and nil otherwise; callers log
// progress instead when it is nil.
func newBar(total int, desc string) *progressbar.ProgressBar {
	if !isatty.IsTerminal(os.Stderr.Fd()) {
		return nil
	}
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(desc),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
}

// geocodeCache returns the Postgres-backed cache when the store is Postgres
// and an in-memory cache otherwise. The returned func releases the store.
func geocodeCache(ctx context.Context) (geocode.Cache, func(), error) {
	if cfg.Store.Driver != "postgres" || cfg.Store.DatabaseURL == "" {
		return geocode.NewMemoryCache(), func() {}, nil
	}
	pg, err := store.NewPostgres(ctx, cfg.Store.DatabaseURL, &cfg.Store.Pool)
	if err != nil {
		return nil, nil, eris.Wrap(err, "open geocode cache")
	}
	if err := pg.Migrate(ctx); err != nil {
		_ = pg.Close()
		return nil, nil, eris.Wrap(err, "migrate geocode cache")
	}
	return geocode.NewPoolCache(pg.Pool(), cfg.Geocode.CacheTTLDays), func() { _ = pg.Close() }, nil
}

// newResolver wires the geocoding client, scorer and cache from config.
func newResolver(cache geocode.Cache) (*resolve.Resolver, error) {
	opts, err := cfg.Geocode.ClientOptions()
	if err != nil {
		return nil, err
	}
	opts = append(opts, geocode.WithCache(cache))
	client := geocode.NewClient(opts...)
	return resolve.New(client, geocode.NewScorer(cfg.Geocode.Scoring)), nil
}

// loadSheet reads a spreadsheet with the embedded or a custom rule table.
func loadSheet(path, sheetName, rulesPath string) (*sheet.Result, error) {
	var rules *sheet.Rules
	if rulesPath != "" {
		r, err := sheet.LoadRules(rulesPath)
		if err != nil {
			return nil, err
		}
		rules = r
	}
	return sheet.LoadFile(path, sheet.XLSXOptions{SheetName: sheetName}, rules)
}

// runBatch resolves recs and renders progress. Cancelling ctx cancels the
// job cooperatively: the chunk in flight finishes and later chunks are
// left pending.
func runBatch(ctx context.Context, resolver batch.RecordResolver, recs []model.ImportRecord) (*model.BatchJob, batch.DoneEvent) {
	job := model.NewBatchJob(recs)
	orch := batch.New(resolver, cfg.Batch.Orchestrator())

	stop := context.AfterFunc(ctx, func() {
		zap.L().Warn("cancel requested, finishing current chunk", zap.String("job_id", job.ID))
		job.Cancel()
	})
	defer stop()

	bar := newBar(job.Len(), "Geocoding")
	var done batch.DoneEvent
	for ev := range orch.Run(context.WithoutCancel(ctx), job) {
		switch e := ev.(type) {
		case batch.ProgressEvent:
			if bar != nil {
				_ = bar.Set(e.Processed)
				continue
			}
			zap.L().Info("geocoding progress",
				zap.Int("processed", e.Processed),
				zap.Int("total", e.Total),
				zap.Int("success", e.Success),
				zap.Int("errors", e.Errors),
				zap.Duration("eta", e.ETA),
			)
		case batch.ChunkFailedEvent:
			zap.L().Warn("geocoding chunk failed",
				zap.Int("chunk", e.Chunk),
				zap.String("class", e.Class),
				zap.Error(e.Err),
			)
		case batch.DoneEvent:
			done = e
		}
	}
	if bar != nil {
		_ = bar.Finish()
	}
	return job, done
}
