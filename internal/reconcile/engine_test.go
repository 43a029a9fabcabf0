package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/pointsync/internal/model"
	"github.com/sells-group/pointsync/internal/resilience"
	"github.com/sells-group/pointsync/pkg/pointstore"
)

// fakeStore is an in-memory pointstore.Client with injectable failures.
type fakeStore struct {
	mu      sync.Mutex
	points  map[string]model.CollectionPoint
	checks  [][]string
	batches [][]model.CollectionPoint
	deletes []string

	checkErr  func(ids []string) error
	deleteErr func(id string) error
	batchErr  func(n int) error
	// keepOnDelete makes Delete report success without removing the point.
	keepOnDelete map[string]bool
	rejected     map[string]string
	batchDelay   time.Duration
}

func newFakeStore(ids ...string) *fakeStore {
	s := &fakeStore{points: make(map[string]model.CollectionPoint)}
	for _, id := range ids {
		s.points[id] = model.CollectionPoint{ExternalID: id, IsActive: true}
	}
	return s
}

func (s *fakeStore) CheckExisting(_ context.Context, ids []string) (map[string]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks = append(s.checks, append([]string(nil), ids...))
	if s.checkErr != nil {
		if err := s.checkErr(ids); err != nil {
			return nil, err
		}
	}
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		_, ok := s.points[id]
		out[id] = ok
	}
	return out, nil
}

func (s *fakeStore) BatchUpsert(ctx context.Context, points []model.CollectionPoint) (*pointstore.BatchResult, error) {
	if s.batchDelay > 0 {
		select {
		case <-time.After(s.batchDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, points)
	if s.batchErr != nil {
		if err := s.batchErr(len(s.batches)); err != nil {
			return nil, err
		}
	}
	res := &pointstore.BatchResult{}
	for _, p := range points {
		if p.ExternalID == "" {
			res.Results = append(res.Results, pointstore.PointResult{Error: "external_id ausente"})
			continue
		}
		if msg, bad := s.rejected[p.ExternalID]; bad {
			res.Results = append(res.Results, pointstore.PointResult{ExternalID: p.ExternalID, Error: msg})
			continue
		}
		_, existed := s.points[p.ExternalID]
		s.points[p.ExternalID] = p
		if existed {
			res.Updated++
		} else {
			res.Created++
		}
		res.Results = append(res.Results, pointstore.PointResult{ExternalID: p.ExternalID, Success: true, Created: !existed})
	}
	return res, nil
}

func (s *fakeStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletes = append(s.deletes, id)
	if s.deleteErr != nil {
		if err := s.deleteErr(id); err != nil {
			return err
		}
	}
	if _, ok := s.points[id]; !ok {
		return pointstore.ErrNotFound
	}
	if !s.keepOnDelete[id] {
		delete(s.points, id)
	}
	return nil
}

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.CheckInitialBackoff = time.Millisecond
	cfg.CheckMaxBackoff = time.Millisecond
	return cfg
}

func ptr(v float64) *float64 { return &v }

func resolved(idx int, id string) model.ImportRecord {
	return model.ImportRecord{
		Index: idx, ExternalID: id, Name: "Ponto " + id, Address: "Rua das Flores, 10",
		City: "Campinas", State: "SP", Status: model.StatusSuccess,
		Latitude: ptr(-22.9), Longitude: ptr(-47.06),
	}
}

func externalIDs(items []Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Point.ExternalID
	}
	return out
}

func TestReconcile_FlagsExactlyExistingIDs(t *testing.T) {
	store := newFakeStore("A", "B")
	e := New(store, fastConfig())

	plan, err := e.Reconcile(context.Background(), "job-1", []model.ImportRecord{
		resolved(0, "A"), resolved(1, "B"), resolved(2, "C"),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"A", "B"}, externalIDs(plan.ToUpdate))
	assert.Equal(t, []string{"C"}, externalIDs(plan.ToCreate))
	require.Len(t, plan.Conflicts, 2)
	assert.Equal(t, "A", plan.Conflicts[0].ExternalID)
	assert.Equal(t, "B", plan.Conflicts[1].ExternalID)
	assert.True(t, plan.HasConflicts())
	assert.Empty(t, plan.Unverified)
	assert.Empty(t, plan.ValidationErrors)
}

func TestReconcile_FiltersAndValidates(t *testing.T) {
	store := newFakeStore()
	e := New(store, fastConfig())

	pending := resolved(1, "P")
	pending.Status = model.StatusPending

	failed := resolved(2, "E")
	failed.Status = model.StatusError

	awaiting := resolved(3, "W")
	awaiting.Status = model.StatusAwaitingGeolocation
	awaiting.Latitude, awaiting.Longitude = nil, nil

	badUF := resolved(4, "U")
	badUF.State = "XX"

	dup := resolved(5, "A")
	noID := resolved(6, "")

	plan, err := e.Reconcile(context.Background(), "job", []model.ImportRecord{
		resolved(0, "A"), pending, failed, awaiting, badUF, dup, noID,
	})
	require.NoError(t, err)

	assert.Equal(t, 2, plan.Ineligible)
	assert.Equal(t, []string{"A", "W", ""}, externalIDs(plan.ToCreate))
	require.Len(t, plan.ValidationErrors, 2)
	assert.Equal(t, 4, plan.ValidationErrors[0].Index)
	assert.Contains(t, plan.ValidationErrors[0].Message, "UF inválida")
	assert.Equal(t, KindValidation, plan.ValidationErrors[0].Kind)
	assert.Equal(t, 5, plan.ValidationErrors[1].Index)
	assert.Contains(t, plan.ValidationErrors[1].Message, "linha 0")

	// Only non-empty, unique ids are checked.
	require.Len(t, store.checks, 1)
	assert.ElementsMatch(t, []string{"A", "W"}, store.checks[0])
}

func TestReconcile_ChunksExistenceChecks(t *testing.T) {
	store := newFakeStore("id-7", "id-150")
	cfg := fastConfig()
	cfg.CheckConcurrency = 1
	e := New(store, cfg)

	recs := make([]model.ImportRecord, 250)
	for i := range recs {
		recs[i] = resolved(i, fmt.Sprintf("id-%d", i))
	}
	plan, err := e.Reconcile(context.Background(), "job", recs)
	require.NoError(t, err)

	require.Len(t, store.checks, 3)
	assert.Len(t, store.checks[0], 100)
	assert.Len(t, store.checks[1], 100)
	assert.Len(t, store.checks[2], 50)
	assert.Equal(t, []string{"id-7", "id-150"}, externalIDs(plan.ToUpdate))
	assert.Len(t, plan.ToCreate, 248)
}

func TestReconcile_FailedChunkRetriedInSubChunks(t *testing.T) {
	store := newFakeStore("id-3", "id-45")
	calls := 0
	store.checkErr = func(ids []string) error {
		calls++
		if len(ids) > 20 {
			return resilience.NewTransientError(errors.New("gateway timeout"), 504)
		}
		// The sub-chunk holding id-40..id-59 never succeeds.
		for _, id := range ids {
			if id == "id-45" {
				return resilience.NewTransientError(errors.New("bad gateway"), 502)
			}
		}
		return nil
	}
	e := New(store, fastConfig())

	recs := make([]model.ImportRecord, 60)
	for i := range recs {
		recs[i] = resolved(i, fmt.Sprintf("id-%d", i))
	}
	plan, err := e.Reconcile(context.Background(), "job", recs)
	require.NoError(t, err)

	// One full chunk, then sub-chunks of 20: two succeed at once, one is
	// tried three times.
	assert.Equal(t, 1+1+1+3, calls)
	assert.Len(t, plan.Unverified, 20)
	assert.Contains(t, plan.Unverified, "id-45")
	assert.Equal(t, []string{"id-3"}, externalIDs(plan.ToUpdate))
	// Unverified ids are treated as new.
	assert.Contains(t, externalIDs(plan.ToCreate), "id-45")
}

func TestReconcile_Progress(t *testing.T) {
	store := newFakeStore()
	ch := make(chan Progress, 10)
	cfg := fastConfig()
	cfg.CheckConcurrency = 1
	e := New(store, cfg, WithProgress(ch))

	recs := make([]model.ImportRecord, 150)
	for i := range recs {
		recs[i] = resolved(i, fmt.Sprintf("id-%d", i))
	}
	_, err := e.Reconcile(context.Background(), "job", recs)
	require.NoError(t, err)
	close(ch)

	var events []Progress
	for ev := range ch {
		events = append(events, ev)
	}
	require.Len(t, events, 2)
	assert.Equal(t, Progress{Phase: PhaseCheck, Processed: 100, Total: 150, Success: 100}, events[0])
	assert.Equal(t, Progress{Phase: PhaseCheck, Processed: 150, Total: 150, Success: 150}, events[1])
}

func TestReconcile_ContextCancelled(t *testing.T) {
	e := New(newFakeStore(), fastConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Reconcile(ctx, "job", []model.ImportRecord{resolved(0, "A")})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCommit_RequiresDecision(t *testing.T) {
	store := newFakeStore("A")
	e := New(store, fastConfig())

	plan, err := e.Reconcile(context.Background(), "job", []model.ImportRecord{resolved(0, "A"), resolved(1, "C")})
	require.NoError(t, err)

	_, err = e.Commit(context.Background(), plan)
	assert.ErrorIs(t, err, ErrUndecided)
	assert.Empty(t, store.batches)
}

func TestCommit_NoConflictsNeedsNoDecision(t *testing.T) {
	store := newFakeStore()
	e := New(store, fastConfig())

	plan, err := e.Reconcile(context.Background(), "job", []model.ImportRecord{resolved(0, "A"), resolved(1, "B")})
	require.NoError(t, err)

	res, err := e.Commit(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Created)
	assert.Equal(t, 0, res.Updated)
	assert.Empty(t, res.Errors)
}

func TestResolveDuplicates_Abort(t *testing.T) {
	store := newFakeStore("A")
	e := New(store, fastConfig())

	plan, err := e.Reconcile(context.Background(), "job", []model.ImportRecord{resolved(0, "A"), resolved(1, "C")})
	require.NoError(t, err)

	err = e.ResolveDuplicates(context.Background(), plan, Decision{Action: ActionAbort})
	assert.ErrorIs(t, err, ErrAborted)

	_, err = e.Commit(context.Background(), plan)
	assert.ErrorIs(t, err, ErrAborted)
	assert.Empty(t, store.batches)
	assert.Empty(t, store.deletes)
}

func TestResolveDuplicates_Upsert(t *testing.T) {
	store := newFakeStore("A", "B")
	e := New(store, fastConfig())

	plan, err := e.Reconcile(context.Background(), "job", []model.ImportRecord{
		resolved(0, "A"), resolved(1, "B"), resolved(2, "C"),
	})
	require.NoError(t, err)
	require.NoError(t, e.ResolveDuplicates(context.Background(), plan, Decision{Action: ActionUpsert}))

	res, err := e.Commit(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 2, res.Updated)
	assert.Empty(t, store.deletes)
	assert.Equal(t, "Ponto A", store.points["A"].Name)
}

func TestResolveDuplicates_Replace(t *testing.T) {
	store := newFakeStore("A", "B")
	log := NewMemoryRecoveryLog()
	e := New(store, fastConfig(), WithRecoveryLog(log))

	plan, err := e.Reconcile(context.Background(), "job-r", []model.ImportRecord{
		resolved(0, "A"), resolved(1, "B"), resolved(2, "C"),
	})
	require.NoError(t, err)
	require.NoError(t, e.ResolveDuplicates(context.Background(), plan, Decision{Action: ActionReplace}))

	assert.Equal(t, []string{"A", "B"}, store.deletes)
	assert.Empty(t, plan.ToUpdate)
	assert.ElementsMatch(t, []string{"A", "B", "C"}, externalIDs(plan.ToCreate))

	pending, err := log.ListDeletions(context.Background(), resilience.DeletionFilter{JobID: "job-r", OnlyPending: true})
	require.NoError(t, err)
	require.Len(t, pending, 2)

	res, err := e.Commit(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Created)
	assert.Equal(t, 0, res.Updated)

	pending, err = log.ListDeletions(context.Background(), resilience.DeletionFilter{JobID: "job-r", OnlyPending: true})
	require.NoError(t, err)
	assert.Empty(t, pending)

	all, err := log.ListDeletions(context.Background(), resilience.DeletionFilter{JobID: "job-r"})
	require.NoError(t, err)
	require.Len(t, all, 2)
	for _, entry := range all {
		assert.True(t, entry.Deleted)
		assert.True(t, entry.Restored)
		assert.Equal(t, replaceReason, entry.Reason)
	}
}

// loggingRecovery records the order of log writes relative to deletes.
type loggingRecovery struct {
	*MemoryRecoveryLog
	events *[]string
}

func (l loggingRecovery) RecordDeletion(ctx context.Context, entry resilience.DeletionEntry) error {
	state := "pending"
	if entry.Deleted {
		state = "deleted"
	}
	*l.events = append(*l.events, "log:"+entry.ExternalID+":"+state)
	return l.MemoryRecoveryLog.RecordDeletion(ctx, entry)
}

func TestResolveDuplicates_LogsBeforeDelete(t *testing.T) {
	store := newFakeStore("A")
	var events []string
	store.deleteErr = func(id string) error {
		events = append(events, "delete:"+id)
		return nil
	}
	e := New(store, fastConfig(), WithRecoveryLog(loggingRecovery{NewMemoryRecoveryLog(), &events}))

	plan, err := e.Reconcile(context.Background(), "job", []model.ImportRecord{resolved(0, "A")})
	require.NoError(t, err)
	require.NoError(t, e.ResolveDuplicates(context.Background(), plan, Decision{Action: ActionReplace}))

	assert.Equal(t, []string{"log:A:pending", "delete:A", "log:A:deleted"}, events)
}

type failingRecovery struct{ *MemoryRecoveryLog }

func (failingRecovery) RecordDeletion(context.Context, resilience.DeletionEntry) error {
	return errors.New("disk full")
}

func TestResolveDuplicates_NoDeleteWithoutRecoveryEntry(t *testing.T) {
	store := newFakeStore("A")
	e := New(store, fastConfig(), WithRecoveryLog(failingRecovery{NewMemoryRecoveryLog()}))

	plan, err := e.Reconcile(context.Background(), "job", []model.ImportRecord{resolved(0, "A")})
	require.NoError(t, err)

	err = e.ResolveDuplicates(context.Background(), plan, Decision{Action: ActionReplace})
	var pde *PartialDeleteError
	require.ErrorAs(t, err, &pde)
	assert.Equal(t, []string{"A"}, pde.FailedIDs)
	assert.Empty(t, store.deletes)
}

func TestResolveDuplicates_PartialDelete(t *testing.T) {
	store := newFakeStore("A", "B", "D")
	store.deleteErr = func(id string) error {
		if id == "B" {
			return errors.New("forbidden")
		}
		return nil
	}
	store.keepOnDelete = map[string]bool{"D": true}
	e := New(store, fastConfig())

	plan, err := e.Reconcile(context.Background(), "job", []model.ImportRecord{
		resolved(0, "A"), resolved(1, "B"), resolved(2, "C"), resolved(3, "D"),
	})
	require.NoError(t, err)

	err = e.ResolveDuplicates(context.Background(), plan, Decision{Action: ActionReplace})
	var pde *PartialDeleteError
	require.ErrorAs(t, err, &pde)
	// B failed to delete, D was reported deleted but still exists.
	sort.Strings(pde.FailedIDs)
	assert.Equal(t, []string{"B", "D"}, pde.FailedIDs)

	_, err = e.Commit(context.Background(), plan)
	require.ErrorIs(t, err, ErrUndecided)

	// Proceeding with the failures acknowledged retries B and D only.
	store.deletes = nil
	err = e.ResolveDuplicates(context.Background(), plan, Decision{Action: ActionReplace, AllowPartial: true})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"B", "D"}, store.deletes)

	assert.ElementsMatch(t, []string{"A", "C"}, externalIDs(plan.ToCreate))
	assert.Empty(t, plan.ToUpdate)

	res, err := e.Commit(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Created)
	processing := res.ProcessingErrors()
	require.Len(t, processing, 2)
	assert.ElementsMatch(t, []string{"B", "D"}, []string{processing[0].ExternalID, processing[1].ExternalID})
}

func TestCommit_ChunksAndProgress(t *testing.T) {
	store := newFakeStore()
	ch := make(chan Progress, 100)
	e := New(store, fastConfig(), WithProgress(ch))

	recs := make([]model.ImportRecord, 45)
	for i := range recs {
		recs[i] = resolved(i, fmt.Sprintf("id-%d", i))
	}
	plan, err := e.Reconcile(context.Background(), "job", recs)
	require.NoError(t, err)

	res, err := e.Commit(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, 45, res.Created)

	require.Len(t, store.batches, 3)
	assert.Len(t, store.batches[0], 20)
	assert.Len(t, store.batches[1], 20)
	assert.Len(t, store.batches[2], 5)

	close(ch)
	var commits []Progress
	for ev := range ch {
		if ev.Phase == PhaseCommit {
			commits = append(commits, ev)
		}
	}
	require.Len(t, commits, 3)
	assert.Equal(t, 20, commits[0].Processed)
	assert.Equal(t, 45, commits[2].Processed)
	assert.Equal(t, 45, commits[2].Success)
}

func TestCommit_RetriesTransientChunkFailure(t *testing.T) {
	store := newFakeStore()
	store.batchErr = func(n int) error {
		if n == 1 {
			return resilience.NewTransientError(errors.New("unavailable"), 503)
		}
		return nil
	}
	e := New(store, fastConfig())

	plan, err := e.Reconcile(context.Background(), "job", []model.ImportRecord{resolved(0, "A")})
	require.NoError(t, err)

	res, err := e.Commit(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	assert.Len(t, store.batches, 2)
}

func TestCommit_PerRecordErrors(t *testing.T) {
	store := newFakeStore()
	store.rejected = map[string]string{"B": "nome duplicado"}
	store.batchErr = func(n int) error {
		if n == 2 {
			return errors.New("unprocessable")
		}
		return nil
	}
	cfg := fastConfig()
	cfg.CommitChunkSize = 2
	e := New(store, cfg)

	bad := resolved(4, "Z")
	bad.ZipCode = "123"

	plan, err := e.Reconcile(context.Background(), "job", []model.ImportRecord{
		resolved(0, "A"), resolved(1, "B"), resolved(2, "C"), resolved(3, "D"), bad,
	})
	require.NoError(t, err)

	res, err := e.Commit(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)

	validation := res.ValidationErrors()
	require.Len(t, validation, 1)
	assert.Equal(t, "Z", validation[0].ExternalID)
	assert.Contains(t, validation[0].Message, "CEP")

	processing := res.ProcessingErrors()
	require.Len(t, processing, 3)
	assert.Equal(t, "B", processing[0].ExternalID)
	assert.Equal(t, "nome duplicado", processing[0].Message)
	// The second chunk failed permanently and was not retried.
	assert.Equal(t, "C", processing[1].ExternalID)
	assert.Equal(t, "D", processing[2].ExternalID)
	assert.Len(t, store.batches, 2)
}

func TestCommit_PointWithoutExternalIDIsReported(t *testing.T) {
	store := newFakeStore()
	e := New(store, fastConfig())

	plan, err := e.Reconcile(context.Background(), "job", []model.ImportRecord{
		resolved(0, "A"), resolved(1, ""),
	})
	require.NoError(t, err)
	require.Len(t, plan.ToCreate, 2)

	res, err := e.Commit(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 0, res.Updated)

	processing := res.ProcessingErrors()
	require.Len(t, processing, 1)
	assert.Equal(t, 1, processing[0].Index)
	assert.Empty(t, processing[0].ExternalID)
	assert.Equal(t, "external_id ausente", processing[0].Message)
}

func TestCommit_UnreportedPointWithoutExternalID(t *testing.T) {
	store := &silentStore{fakeStore: newFakeStore()}
	e := New(store, fastConfig())

	plan, err := e.Reconcile(context.Background(), "job", []model.ImportRecord{
		resolved(0, "A"), resolved(1, ""), resolved(2, ""),
	})
	require.NoError(t, err)

	res, err := e.Commit(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)

	processing := res.ProcessingErrors()
	require.Len(t, processing, 2)
	assert.Equal(t, 1, processing[0].Index)
	assert.Equal(t, 2, processing[1].Index)
	assert.Contains(t, processing[0].Message, "ID externo ausente")
}

// silentStore drops id-less points without reporting them.
type silentStore struct {
	*fakeStore
}

func (s *silentStore) BatchUpsert(ctx context.Context, points []model.CollectionPoint) (*pointstore.BatchResult, error) {
	res, err := s.fakeStore.BatchUpsert(ctx, points)
	if err != nil {
		return nil, err
	}
	kept := res.Results[:0]
	for _, r := range res.Results {
		if r.ExternalID != "" {
			kept = append(kept, r)
		}
	}
	res.Results = kept
	return res, nil
}

func TestCommit_Timeout(t *testing.T) {
	store := newFakeStore()
	store.batchDelay = 30 * time.Millisecond
	cfg := fastConfig()
	cfg.CommitChunkSize = 1
	cfg.CommitTimeout = 50 * time.Millisecond
	e := New(store, cfg)

	recs := make([]model.ImportRecord, 5)
	for i := range recs {
		recs[i] = resolved(i, fmt.Sprintf("id-%d", i))
	}
	plan, err := e.Reconcile(context.Background(), "job", recs)
	require.NoError(t, err)

	res, err := e.Commit(context.Background(), plan)
	var cte *CommitTimeoutError
	require.ErrorAs(t, err, &cte)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 50*time.Millisecond, cte.Timeout)
	require.NotNil(t, cte.Partial)
	assert.Same(t, res, cte.Partial)
	assert.Equal(t, 1, res.Created)
}

func TestCommit_CallerCancel(t *testing.T) {
	store := newFakeStore()
	e := New(store, fastConfig())

	plan, err := e.Reconcile(context.Background(), "job", []model.ImportRecord{resolved(0, "A")})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.Commit(ctx, plan)
	require.Error(t, err)
	var cte *CommitTimeoutError
	assert.False(t, errors.As(err, &cte))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseAction(t *testing.T) {
	for _, s := range []string{"abort", "replace", "upsert"} {
		a, err := ParseAction(s)
		require.NoError(t, err)
		assert.Equal(t, Action(s), a)
	}
	_, err := ParseAction("merge")
	assert.Error(t, err)
}

func TestDefaultConfig(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, 100, cfg.CheckChunkSize)
	assert.Equal(t, 20, cfg.CheckRetryChunkSize)
	assert.Equal(t, 3, cfg.CheckMaxAttempts)
	assert.Equal(t, 10*time.Second, cfg.CheckMaxBackoff)
	assert.Equal(t, 20, cfg.CommitChunkSize)
	assert.Equal(t, 5*time.Minute, cfg.CommitTimeout)
}
