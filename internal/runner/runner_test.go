package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	storagememory "github.com/Siddharth-magesh/Sentimatrix-Studio-sub002/internal/storage/memory"
	"github.com/Siddharth-magesh/Sentimatrix-Studio-sub002/internal/studio"
)

type fakeResolver struct {
	mu      sync.Mutex
	byURL   map[string]studio.Resolution
	errs    map[string]error
	onVisit func(url string)
}

func (f *fakeResolver) Resolve(_ context.Context, url string) (studio.Resolution, error) {
	f.mu.Lock()
	hook := f.onVisit
	f.mu.Unlock()
	if hook != nil {
		hook(url)
	}
	if err, ok := f.errs[url]; ok {
		return studio.Resolution{}, err
	}
	return f.byURL[url], nil
}

type fakeAnalyzer struct {
	err error
}

func (f *fakeAnalyzer) Analyze(_ context.Context, text string) (studio.Analysis, error) {
	if f.err != nil {
		return studio.Analysis{}, f.err
	}
	return studio.Analysis{Sentiment: "positive", Confidence: 0.9}, nil
}

type fakeDispatcher struct {
	mu     sync.Mutex
	events []studio.Event
}

func (f *fakeDispatcher) Dispatch(_ context.Context, event studio.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func (f *fakeDispatcher) byKind(kind studio.EventKind) []studio.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []studio.Event
	for _, e := range f.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

type seqIDGen struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDGen) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("id-%d", g.n), nil
}

func items(texts ...string) []studio.ContentItem {
	out := make([]studio.ContentItem, len(texts))
	for i, t := range texts {
		out[i] = studio.ContentItem{Text: t}
	}
	return out
}

type fixture struct {
	store      *storagememory.Store
	resolver   *fakeResolver
	dispatcher *fakeDispatcher
	runner     *Runner
	clock      *fixedClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := storagememory.NewStore()
	resolver := &fakeResolver{
		byURL: make(map[string]studio.Resolution),
		errs:  make(map[string]error),
	}
	dispatcher := &fakeDispatcher{}
	clock := &fixedClock{now: time.Now().UTC()}
	r := New(
		store, resolver, &fakeAnalyzer{}, dispatcher, nil,
		clock, &seqIDGen{}, Config{TargetTimeout: time.Minute}, zap.NewNop(),
	)
	return &fixture{store: store, resolver: resolver, dispatcher: dispatcher, runner: r, clock: clock}
}

func (f *fixture) seedProject(t *testing.T, projectID string, urls ...string) {
	t.Helper()
	f.store.PutProject(studio.Project{
		ID:        projectID,
		UserID:    "user-1",
		Status:    studio.ProjectStatusActive,
		LockState: studio.LockStateRunning,
	})
	for i, url := range urls {
		f.store.PutTarget(studio.Target{
			ID:        fmt.Sprintf("%s-target-%d", projectID, i+1),
			ProjectID: projectID,
			URL:       url,
			Status:    studio.TargetStatusPending,
		})
	}
}

func (f *fixture) seedJob(t *testing.T, jobID, projectID string) studio.JobRequest {
	t.Helper()
	err := f.store.CreateJob(context.Background(), studio.ScrapeJob{
		ID:        jobID,
		ProjectID: projectID,
		UserID:    "user-1",
		Status:    studio.JobStatusPending,
		Trigger:   studio.TriggerScheduled,
		Submitted: f.clock.Now(),
	})
	require.NoError(t, err)
	return studio.JobRequest{JobID: jobID, ProjectID: projectID, UserID: "user-1"}
}

func TestExecuteCompletesAndReleasesLock(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.seedProject(t, "proj-1", "https://example.com/a")
	f.resolver.byURL["https://example.com/a"] = studio.Resolution{
		Platform: "generic",
		Items:    items("good product", "bad product"),
	}
	req := f.seedJob(t, "job-1", "proj-1")

	f.runner.Execute(context.Background(), req)

	job, err := f.store.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, studio.JobStatusCompleted, job.Status)
	require.Equal(t, 100, job.Progress)
	require.Equal(t, 2, job.Counters.ResultsScraped)
	require.NotNil(t, job.Started)
	require.NotNil(t, job.Finished)

	project, err := f.store.GetProject(context.Background(), "proj-1")
	require.NoError(t, err)
	require.Equal(t, studio.LockStateUnlocked, project.LockState)
	require.NotNil(t, project.LastScrapedAt)

	require.Len(t, f.dispatcher.byKind(studio.EventScrapeStarted), 1)
	require.Len(t, f.dispatcher.byKind(studio.EventScrapeCompleted), 1)
	require.Len(t, f.store.ListResults("job-1"), 2)
}

func TestExecutePartialFailureStillCompletes(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.seedProject(t, "proj-1",
		"https://example.com/a", "https://example.com/b", "https://example.com/c")
	f.resolver.byURL["https://example.com/a"] = studio.Resolution{Items: items("x1", "x2")}
	f.resolver.errs["https://example.com/b"] = errors.New("connection refused")
	f.resolver.byURL["https://example.com/c"] = studio.Resolution{Items: items("x3")}
	req := f.seedJob(t, "job-1", "proj-1")

	f.runner.Execute(context.Background(), req)

	job, err := f.store.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, studio.JobStatusCompleted, job.Status)
	require.Equal(t, 3, job.Counters.TargetsDone)
	require.Equal(t, 1, job.Counters.TargetsFailed)
	require.Equal(t, 3, job.Counters.ResultsScraped)
	require.Equal(t, 100, job.Progress)

	target, ok := f.store.GetTarget("proj-1-target-2")
	require.True(t, ok)
	require.Equal(t, studio.TargetStatusError, target.Status)
	require.Contains(t, target.ErrorText, "connection refused")

	completed := f.dispatcher.byKind(studio.EventScrapeCompleted)
	require.Len(t, completed, 1)
	require.EqualValues(t, 3, completed[0].Data["targets_done"])
	require.EqualValues(t, 1, completed[0].Data["targets_failed"])
	require.Empty(t, f.dispatcher.byKind(studio.EventScrapeFailed))
}

func TestExecuteFailsWhenNoTargetSucceeds(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.seedProject(t, "proj-1", "https://example.com/a", "https://example.com/b")
	f.resolver.errs["https://example.com/a"] = errors.New("boom")
	f.resolver.errs["https://example.com/b"] = errors.New("boom")
	req := f.seedJob(t, "job-1", "proj-1")

	f.runner.Execute(context.Background(), req)

	job, err := f.store.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, studio.JobStatusFailed, job.Status)
	require.Equal(t, "no targets succeeded", job.ErrorText)
	require.Len(t, f.dispatcher.byKind(studio.EventScrapeFailed), 1)
	require.Empty(t, f.dispatcher.byKind(studio.EventScrapeCompleted))
}

func TestExecuteFailsWithoutTargets(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.seedProject(t, "proj-1")
	req := f.seedJob(t, "job-1", "proj-1")

	f.runner.Execute(context.Background(), req)

	job, err := f.store.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, studio.JobStatusFailed, job.Status)
	require.Equal(t, "project has no active targets", job.ErrorText)
}

func TestExecuteHonorsCancellationBetweenTargets(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.seedProject(t, "proj-1", "https://example.com/a", "https://example.com/b")
	f.resolver.byURL["https://example.com/a"] = studio.Resolution{Items: items("x1")}
	f.resolver.byURL["https://example.com/b"] = studio.Resolution{Items: items("x2")}
	req := f.seedJob(t, "job-1", "proj-1")

	// Request cancellation while the first target is in flight; the runner
	// must finish that target and stop before the second.
	f.resolver.onVisit = func(url string) {
		if url == "https://example.com/a" {
			_, err := f.store.RequestCancel(context.Background(), "job-1")
			require.NoError(t, err)
		}
	}

	f.runner.Execute(context.Background(), req)

	job, err := f.store.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, studio.JobStatusCancelled, job.Status)
	require.Equal(t, 1, job.Counters.TargetsDone)
	require.Len(t, f.store.ListResults("job-1"), 1)

	// Cancelled jobs notify no one.
	require.Empty(t, f.dispatcher.byKind(studio.EventScrapeCompleted))
	require.Empty(t, f.dispatcher.byKind(studio.EventScrapeFailed))

	project, err := f.store.GetProject(context.Background(), "proj-1")
	require.NoError(t, err)
	require.Equal(t, studio.LockStateUnlocked, project.LockState)
}

func TestExecuteSkipsAlreadyTerminalJob(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.seedProject(t, "proj-1", "https://example.com/a")
	req := f.seedJob(t, "job-1", "proj-1")
	_, err := f.store.TransitionJob(
		context.Background(), "job-1",
		[]studio.JobStatus{studio.JobStatusPending},
		studio.JobStatusCancelled, "cancelled before pickup", studio.JobCounters{},
	)
	require.NoError(t, err)

	f.runner.Execute(context.Background(), req)

	job, err := f.store.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, studio.JobStatusCancelled, job.Status)
	require.Empty(t, f.dispatcher.events)
}

func TestFailTimedOutReapsStaleJobs(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.seedProject(t, "proj-1", "https://example.com/a")
	f.seedJob(t, "job-1", "proj-1")
	started, err := f.store.TransitionJob(
		context.Background(), "job-1",
		[]studio.JobStatus{studio.JobStatusPending},
		studio.JobStatusRunning, "", studio.JobCounters{TargetsTotal: 1},
	)
	require.NoError(t, err)
	require.True(t, started)

	// The job started "now"; move the clock past the max age.
	f.clock.mu.Lock()
	f.clock.now = f.clock.now.Add(2 * time.Hour)
	f.clock.mu.Unlock()

	reaped, err := f.runner.FailTimedOut(context.Background(), time.Hour)
	require.NoError(t, err)
	require.Equal(t, 1, reaped)

	job, err := f.store.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, studio.JobStatusFailed, job.Status)
	require.Contains(t, job.ErrorText, "timeout")

	project, err := f.store.GetProject(context.Background(), "proj-1")
	require.NoError(t, err)
	require.Equal(t, studio.LockStateUnlocked, project.LockState)
	require.Len(t, f.dispatcher.byKind(studio.EventScrapeFailed), 1)
}

func TestFailTimedOutIgnoresFreshJobs(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.seedProject(t, "proj-1", "https://example.com/a")
	f.seedJob(t, "job-1", "proj-1")
	_, err := f.store.TransitionJob(
		context.Background(), "job-1",
		[]studio.JobStatus{studio.JobStatusPending},
		studio.JobStatusRunning, "", studio.JobCounters{},
	)
	require.NoError(t, err)

	reaped, err := f.runner.FailTimedOut(context.Background(), time.Hour)
	require.NoError(t, err)
	require.Zero(t, reaped)
}

func TestExecuteCapsResultsPerTarget(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.seedProject(t, "proj-1", "https://example.com/a")
	f.resolver.byURL["https://example.com/a"] = studio.Resolution{
		Items: items("a", "b", "c", "d", "e"),
	}
	err := f.store.CreateJob(context.Background(), studio.ScrapeJob{
		ID:        "job-1",
		ProjectID: "proj-1",
		UserID:    "user-1",
		Status:    studio.JobStatusPending,
		Options:   studio.JobOptions{MaxResults: 3},
		Submitted: f.clock.Now(),
	})
	require.NoError(t, err)

	f.runner.Execute(context.Background(), studio.JobRequest{JobID: "job-1", ProjectID: "proj-1"})

	job, err := f.store.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, studio.JobStatusCompleted, job.Status)
	require.Equal(t, 3, job.Counters.ResultsScraped)
}
