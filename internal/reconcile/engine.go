// Package reconcile compares resolved records with the collection-point store
// by external id and commits the result.
//
// The flow is explicit: Reconcile builds a Plan, ResolveDuplicates applies
// the caller's decision for ids that already exist (confirm, delete, verify),
// and Commit writes the plan in chunks.
package reconcile

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/pointsync/internal/model"
	"github.com/sells-group/pointsync/internal/resilience"
	"github.com/sells-group/pointsync/pkg/pointstore"
)

// Config controls chunking, retries and the commit deadline.
type Config struct {
	CheckChunkSize      int           `mapstructure:"check_chunk_size"`
	CheckRetryChunkSize int           `mapstructure:"check_retry_chunk_size"`
	CheckMaxAttempts    int           `mapstructure:"check_max_attempts"`
	CheckInitialBackoff time.Duration `mapstructure:"check_initial_backoff"`
	CheckMaxBackoff     time.Duration `mapstructure:"check_max_backoff"`
	CheckConcurrency    int           `mapstructure:"check_concurrency"`
	CommitChunkSize     int           `mapstructure:"commit_chunk_size"`
	CommitMaxAttempts   int           `mapstructure:"commit_max_attempts"`
	CommitTimeout       time.Duration `mapstructure:"commit_timeout"`
}

// DefaultConfig returns the standard chunk sizes and limits.
func DefaultConfig() Config {
	return Config{
		CheckChunkSize:      100,
		CheckRetryChunkSize: 20,
		CheckMaxAttempts:    3,
		CheckInitialBackoff: 500 * time.Millisecond,
		CheckMaxBackoff:     10 * time.Second,
		CheckConcurrency:    2,
		CommitChunkSize:     20,
		CommitMaxAttempts:   3,
		CommitTimeout:       5 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.CheckChunkSize <= 0 {
		c.CheckChunkSize = d.CheckChunkSize
	}
	if c.CheckRetryChunkSize <= 0 {
		c.CheckRetryChunkSize = d.CheckRetryChunkSize
	}
	if c.CheckMaxAttempts <= 0 {
		c.CheckMaxAttempts = d.CheckMaxAttempts
	}
	if c.CheckInitialBackoff <= 0 {
		c.CheckInitialBackoff = d.CheckInitialBackoff
	}
	if c.CheckMaxBackoff <= 0 {
		c.CheckMaxBackoff = d.CheckMaxBackoff
	}
	if c.CheckConcurrency <= 0 {
		c.CheckConcurrency = d.CheckConcurrency
	}
	if c.CommitChunkSize <= 0 {
		c.CommitChunkSize = d.CommitChunkSize
	}
	if c.CommitMaxAttempts <= 0 {
		c.CommitMaxAttempts = d.CommitMaxAttempts
	}
	if c.CommitTimeout <= 0 {
		c.CommitTimeout = d.CommitTimeout
	}
	return c
}

// Phase names used in progress events.
const (
	PhaseCheck  = "check_existing"
	PhaseDelete = "delete_duplicates"
	PhaseCommit = "commit"
)

// Progress is emitted after every existence-check and commit sub-batch.
type Progress struct {
	Phase     string `json:"phase"`
	Processed int    `json:"processed"`
	Total     int    `json:"total"`
	Success   int    `json:"success"`
	Errors    int    `json:"errors"`
}

// Option configures the Engine.
type Option func(*Engine)

// WithProgress sends progress events to ch. Sends block until received or
// the operation's context ends.
func WithProgress(ch chan<- Progress) Option {
	return func(e *Engine) { e.progress = ch }
}

// WithRecoveryLog sets where deleted duplicates are recorded.
func WithRecoveryLog(log RecoveryLog) Option {
	return func(e *Engine) { e.recovery = log }
}

// Engine reconciles resolved records against a store.
type Engine struct {
	store    pointstore.Client
	cfg      Config
	recovery RecoveryLog
	progress chan<- Progress
}

// New creates an Engine. Without WithRecoveryLog deletions are logged in
// memory only.
func New(store pointstore.Client, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		store: store,
		cfg:   cfg.withDefaults(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.recovery == nil {
		e.recovery = NewMemoryRecoveryLog()
	}
	return e
}

// Item is one record scheduled for persistence.
type Item struct {
	Index  int                   `json:"index"`
	Record model.ImportRecord    `json:"record"`
	Point  model.CollectionPoint `json:"point"`
}

// Plan is the outcome of Reconcile.
type Plan struct {
	JobID string `json:"job_id"`
	// ToCreate holds records whose external id is absent from the store or
	// empty.
	ToCreate []Item `json:"to_create"`
	// ToUpdate holds records whose external id already exists.
	ToUpdate []Item `json:"to_update"`
	// Conflicts has one entry per ToUpdate record.
	Conflicts []*ConflictError `json:"-"`
	// Unverified ids could not be checked and were treated as new.
	Unverified []string `json:"unverified,omitempty"`
	// ValidationErrors lists records that failed validation.
	ValidationErrors []RecordError `json:"validation_errors,omitempty"`
	// Ineligible counts records not yet resolved.
	Ineligible int `json:"ineligible"`

	decision *Decision
	excluded []RecordError
	replaced map[string]string
}

// HasConflicts reports whether the plan needs a duplicate decision.
func (p *Plan) HasConflicts() bool { return len(p.ToUpdate) > 0 }

// Reconcile validates recs and partitions the eligible ones into new and
// duplicate by checking their external ids against the store.
func (e *Engine) Reconcile(ctx context.Context, jobID string, recs []model.ImportRecord) (*Plan, error) {
	plan := &Plan{JobID: jobID}
	seen := make(map[string]int)
	var candidates []Item

	for _, rec := range recs {
		if !Eligible(rec) {
			plan.Ineligible++
			continue
		}
		point, err := Validate(rec)
		if err != nil {
			plan.ValidationErrors = append(plan.ValidationErrors, RecordError{
				Index: rec.Index, ExternalID: point.ExternalID, Kind: KindValidation, Message: err.Error(),
			})
			continue
		}
		if id := point.ExternalID; id != "" {
			if first, dup := seen[id]; dup {
				plan.ValidationErrors = append(plan.ValidationErrors, RecordError{
					Index: rec.Index, ExternalID: id, Kind: KindValidation,
					Message: "ID externo repetido na planilha (linha " + strconv.Itoa(first) + ")",
				})
				continue
			}
			seen[id] = rec.Index
		}
		candidates = append(candidates, Item{Index: rec.Index, Record: rec, Point: point})
	}

	ids := make([]string, 0, len(seen))
	for _, it := range candidates {
		if it.Point.ExternalID != "" {
			ids = append(ids, it.Point.ExternalID)
		}
	}

	index, err := e.existenceIndex(ctx, ids)
	if err != nil {
		return nil, err
	}
	plan.Unverified = index.Unverified

	for _, it := range candidates {
		if index.Exists(it.Point.ExternalID) {
			plan.ToUpdate = append(plan.ToUpdate, it)
			plan.Conflicts = append(plan.Conflicts, &ConflictError{Index: it.Index, ExternalID: it.Point.ExternalID})
			continue
		}
		plan.ToCreate = append(plan.ToCreate, it)
	}

	zap.L().Info("reconcile: plan ready",
		zap.String("job_id", jobID),
		zap.Int("new", len(plan.ToCreate)),
		zap.Int("duplicates", len(plan.ToUpdate)),
		zap.Int("invalid", len(plan.ValidationErrors)),
		zap.Int("unverified", len(plan.Unverified)),
		zap.Int("ineligible", plan.Ineligible),
	)
	return plan, nil
}

// ExistenceIndex maps external ids to whether the store holds them.
type ExistenceIndex struct {
	exists     map[string]bool
	Unverified []string
}

// Exists reports whether id was confirmed to exist.
func (x *ExistenceIndex) Exists(id string) bool {
	return id != "" && x.exists[id]
}

// existenceIndex checks ids in chunks. A chunk that fails is retried as
// smaller sub-chunks with backoff; sub-chunks that still fail are treated as
// not existing and reported as unverified.
func (e *Engine) existenceIndex(ctx context.Context, ids []string) (*ExistenceIndex, error) {
	idx := &ExistenceIndex{exists: make(map[string]bool, len(ids))}
	if len(ids) == 0 {
		return idx, nil
	}

	var (
		mu        sync.Mutex
		processed int
		failed    int
	)
	parts := split(ids, e.cfg.CheckChunkSize)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.CheckConcurrency)
	for _, chunk := range parts {
		g.Go(func() error {
			found, unverified := e.checkChunk(gctx, chunk)
			if err := gctx.Err(); err != nil {
				return eris.Wrap(err, "reconcile: check existing")
			}

			mu.Lock()
			for id, ok := range found {
				if ok {
					idx.exists[id] = true
				}
			}
			idx.Unverified = append(idx.Unverified, unverified...)
			processed += len(chunk)
			failed += len(unverified)
			ev := Progress{Phase: PhaseCheck, Processed: processed, Total: len(ids), Success: processed - failed, Errors: failed}
			mu.Unlock()

			e.emit(gctx, ev)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return idx, nil
}

// checkChunk checks one chunk, falling back to retried sub-chunks.
func (e *Engine) checkChunk(ctx context.Context, chunk []string) (map[string]bool, []string) {
	found, err := e.store.CheckExisting(ctx, chunk)
	if err == nil {
		return found, nil
	}
	zap.L().Warn("reconcile: existence chunk failed, retrying in sub-chunks",
		zap.Int("ids", len(chunk)),
		zap.Error(err),
	)

	found = make(map[string]bool, len(chunk))
	var unverified []string
	retry := resilience.RetryConfig{
		MaxAttempts:    e.cfg.CheckMaxAttempts,
		InitialBackoff: e.cfg.CheckInitialBackoff,
		MaxBackoff:     e.cfg.CheckMaxBackoff,
		Multiplier:     2,
		JitterFraction: 0.25,
		ShouldRetry:    func(error) bool { return ctx.Err() == nil },
		OnRetry:        resilience.RetryLogger("pointstore", "check_existing"),
	}
	for _, sub := range split(chunk, e.cfg.CheckRetryChunkSize) {
		res, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (map[string]bool, error) {
			return e.store.CheckExisting(ctx, sub)
		})
		if err != nil {
			zap.L().Warn("reconcile: ids left unverified", zap.Strings("ids", sub), zap.Error(err))
			unverified = append(unverified, sub...)
			continue
		}
		for id, ok := range res {
			found[id] = ok
		}
	}
	return found, unverified
}

// emit delivers ev unless no channel is set or ctx ends first.
func (e *Engine) emit(ctx context.Context, ev Progress) {
	if e.progress == nil {
		return
	}
	select {
	case e.progress <- ev:
	case <-ctx.Done():
	}
}

func split[T any](items []T, size int) [][]T {
	var out [][]T
	for start := 0; start < len(items); start += size {
		out = append(out, items[start:min(start+size, len(items))])
	}
	return out
}
