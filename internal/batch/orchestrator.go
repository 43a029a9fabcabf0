// Package batch resolves a BatchJob in sequential fixed-size chunks, with the
// records of each chunk resolved concurrently.
package batch

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/pointsync/internal/model"
	"github.com/sells-group/pointsync/internal/resilience"
)

// Defaults for Config.
const (
	DefaultBatchSize    = 3
	DefaultDelay        = time.Second
	DefaultNetworkPause = 5 * time.Second
)

// chunkFailureReason is recorded on records of a chunk that failed as a whole.
const chunkFailureReason = "Falha inesperada ao processar o lote"

// RecordResolver resolves a single record to a terminal state.
type RecordResolver interface {
	Resolve(ctx context.Context, rec model.ImportRecord) model.ImportRecord
}

// Config controls chunking and pacing.
type Config struct {
	// BatchSize is the number of records resolved concurrently per chunk.
	BatchSize int `mapstructure:"size"`
	// Delay is the minimum time between chunk starts.
	Delay time.Duration `mapstructure:"delay"`
	// NetworkPause is the extra wait after a chunk fails with a network error.
	NetworkPause time.Duration `mapstructure:"network_pause"`
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.Delay < 0 {
		c.Delay = 0
	}
	if c.NetworkPause < 0 {
		c.NetworkPause = 0
	}
	return c
}

// Orchestrator drives a BatchJob through a RecordResolver.
type Orchestrator struct {
	resolver RecordResolver
	cfg      Config

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

// New creates an Orchestrator.
func New(resolver RecordResolver, cfg Config) *Orchestrator {
	return &Orchestrator{
		resolver: resolver,
		cfg:      cfg.withDefaults(),
		now:      time.Now,
		sleep:    resilience.Sleep,
	}
}

// chunks partitions [0, n) into consecutive ranges of size at most size.
func chunks(n, size int) [][]int {
	var out [][]int
	for start := 0; start < n; start += size {
		end := min(start+size, n)
		idx := make([]int, 0, end-start)
		for i := start; i < end; i++ {
			idx = append(idx, i)
		}
		out = append(out, idx)
	}
	return out
}

// Run resolves job in the background and returns its event stream. The
// stream ends with a DoneEvent and is then closed. job.Cancel stops the run
// before the next chunk; records already resolved keep their results and the
// rest stay pending. Cancelling ctx has the same effect and also aborts
// in-flight lookups.
func (o *Orchestrator) Run(ctx context.Context, job *model.BatchJob) <-chan Event {
	parts := chunks(job.Len(), o.cfg.BatchSize)
	// Room for every event so a slow consumer never stalls the pipeline.
	events := make(chan Event, 2*len(parts)+1)

	go func() {
		defer close(events)
		events <- o.run(ctx, job, parts, events)
	}()
	return events
}

func (o *Orchestrator) run(ctx context.Context, job *model.BatchJob, parts [][]int, events chan<- Event) DoneEvent {
	log := zap.L().With(zap.String("job_id", job.ID), zap.Int("records", job.Len()), zap.Int("chunks", len(parts)))
	log.Info("batch: starting")

	job.SetStatus(model.JobStatusRunning)
	start := o.now()
	status := model.JobStatusDone
	failedChunks := 0

	for i, idx := range parts {
		if job.Cancelled() || ctx.Err() != nil {
			status = model.JobStatusCancelled
			log.Info("batch: cancelled", zap.Int("next_chunk", i+1))
			break
		}

		chunkStart := o.now()
		networkFailure := false
		if err := o.resolveChunk(ctx, job, idx); err != nil {
			failedChunks++
			class := resilience.ClassifyError(err)
			o.failChunk(job, idx, err)
			log.Error("batch: chunk failed",
				zap.Int("chunk", i+1),
				zap.String("class", class),
				zap.Error(err),
			)
			events <- ChunkFailedEvent{Chunk: i + 1, Indices: idx, Class: class, Err: err}
			networkFailure = class == "network"
		}

		events <- o.progress(job, i+1, len(parts), o.now().Sub(start))

		if i == len(parts)-1 {
			break
		}
		if networkFailure {
			if o.sleep(ctx, o.cfg.NetworkPause) != nil {
				status = model.JobStatusCancelled
				break
			}
		}
		if wait := o.cfg.Delay - o.now().Sub(chunkStart); wait > 0 {
			if o.sleep(ctx, wait) != nil {
				status = model.JobStatusCancelled
				break
			}
		}
	}

	if status == model.JobStatusDone && len(parts) > 0 && failedChunks == len(parts) {
		status = model.JobStatusError
	}
	job.SetStatus(status)

	summary := o.summarize(job, o.now().Sub(start))
	log.Info("batch: finished",
		zap.String("status", string(status)),
		zap.Int("processed", summary.Processed),
		zap.Int("success", summary.Success),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped),
		zap.String("outcome", string(summary.Outcome())),
	)
	return DoneEvent{Status: status, Summary: summary}
}

// resolveChunk resolves the records at idx concurrently and merges them back
// by index. A panic in any resolver fails the whole chunk and nothing is
// merged.
func (o *Orchestrator) resolveChunk(ctx context.Context, job *model.BatchJob, idx []int) error {
	inputs := make([]model.ImportRecord, len(idx))
	for k, i := range idx {
		rec := job.Record(i)
		rec.Status = model.StatusResolving
		job.SetRecord(i, rec)
		inputs[k] = rec
	}

	results := make([]model.ImportRecord, len(idx))
	var g errgroup.Group
	for k := range idx {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = panicError(r)
				}
			}()
			results[k] = o.resolver.Resolve(ctx, inputs[k])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	var success, failed, skipped int
	for k, i := range idx {
		rec := results[k]
		switch rec.Status {
		case model.StatusSuccess:
			success++
		case model.StatusSkipped:
			skipped++
		default:
			failed++
		}
		job.SetRecord(i, rec)
	}
	job.Update(func(c *model.Counters) {
		c.Processed += len(idx)
		c.Success += success
		c.Failed += failed
		c.Skipped += skipped
	})
	return nil
}

// failChunk marks every record of a failed chunk as an error.
func (o *Orchestrator) failChunk(job *model.BatchJob, idx []int, err error) {
	now := o.now().UTC()
	for _, i := range idx {
		rec := job.Record(i)
		rec.Status = model.StatusError
		rec.Reason = chunkFailureReason
		rec.LastError = err.Error()
		rec.ResolvedAt = now
		job.SetRecord(i, rec)
	}
	job.Update(func(c *model.Counters) {
		c.Processed += len(idx)
		c.Failed += len(idx)
	})
}

func (o *Orchestrator) progress(job *model.BatchJob, chunk, chunks int, elapsed time.Duration) ProgressEvent {
	c := job.Counters()
	total := job.Len()
	ev := ProgressEvent{
		Chunk:     chunk,
		Chunks:    chunks,
		Processed: c.Processed,
		Total:     total,
		Success:   c.Success,
		Errors:    c.Failed,
		Skipped:   c.Skipped,
	}
	if total > 0 {
		ev.Percent = float64(c.Processed) / float64(total) * 100
	}
	if chunk > 0 {
		avg := elapsed / time.Duration(chunk)
		ev.ETA = avg * time.Duration(chunks-chunk)
	}
	return ev
}

func (o *Orchestrator) summarize(job *model.BatchJob, elapsed time.Duration) Summary {
	c := job.Counters()
	s := Summary{
		Total:     job.Len(),
		Processed: c.Processed,
		Success:   c.Success,
		Failed:    c.Failed,
		Skipped:   c.Skipped,
		Elapsed:   elapsed,
	}
	for _, rec := range job.Records() {
		if rec.Status == model.StatusPending {
			s.Pending++
		}
	}
	return s
}

// panicError converts a recovered value to an error, keeping error values
// intact so they can be classified.
func panicError(r any) error {
	if err, ok := r.(error); ok {
		return eris.Wrap(err, "batch: resolver panicked")
	}
	return eris.New(fmt.Sprintf("batch: resolver panicked: %v", r))
}
