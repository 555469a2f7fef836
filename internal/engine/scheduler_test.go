package engine_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NamanBalaji/fetcharr/internal/engine"
	"github.com/NamanBalaji/fetcharr/internal/repository"
	"github.com/NamanBalaji/fetcharr/internal/status"
	"github.com/NamanBalaji/fetcharr/internal/testutils"
	"github.com/NamanBalaji/fetcharr/internal/transfer"
)

func noDelay(int, error) time.Duration { return 0 }

func newScheduler(t *testing.T, cfg engine.Config, store repository.Store) *engine.Scheduler {
	t.Helper()

	s, err := engine.New(context.Background(), cfg, store)
	require.NoError(t, err)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = s.Shutdown(ctx)
	})

	return s
}

func download(t *testing.T, s *engine.Scheduler, url, filename string) engine.Job {
	t.Helper()

	job, err := s.Download(url, filename, transfer.WithRetryDelay(noDelay))
	require.NoError(t, err)

	return job
}

func waitStatus(t *testing.T, job engine.Job, want status.Status) {
	t.Helper()

	require.Eventually(t, func() bool {
		return job.Transfer.Status() == want
	}, 10*time.Second, 5*time.Millisecond, "job %s never reached %s", job.ID, want)
}

func ids(jobs []engine.Job) []string {
	out := make([]string, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.ID)
	}

	return out
}

var allStatuses = []status.Status{status.Init, status.Active, status.Finished, status.Failed, status.Aborted}

func TestScheduler_DownloadFinishes(t *testing.T) {
	data := testutils.Fixture(testutils.FixtureSize)
	srv := testutils.NewFileServer(t, data)
	workDir := t.TempDir()
	completedDir := t.TempDir()

	s := newScheduler(t, engine.DefaultConfig(workDir, completedDir), nil)

	job := download(t, s, srv.URLFor("/file"), "test.file")
	assert.Equal(t, srv.URLFor("/file"), job.ID)

	waitStatus(t, job, status.Finished)

	info := job.Info()
	assert.Equal(t, 1, info.Attempts)
	assert.Equal(t, int64(testutils.FixtureSize), info.OnDisk)
	assert.Equal(t, filepath.Join(completedDir, "test", "test.file"), info.Path)

	require.Eventually(t, func() bool { return len(s.Queue()) == 0 }, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{job.ID}, ids(s.Filter(status.Finished)))
	assert.FileExists(t, filepath.Join(workDir, repository.StateFile))
}

func TestScheduler_DeduplicatesByURL(t *testing.T) {
	srv := testutils.NewFileServer(t, testutils.Fixture(testutils.FixtureSize))
	s := newScheduler(t, engine.DefaultConfig(t.TempDir(), ""), nil)

	url := srv.URLFor("/hold?name=test")

	first := download(t, s, url, "test.file")
	second := download(t, s, url, "test.file")
	third := download(t, s, srv.URLFor("/hold?name=other"), "other.file")

	assert.Equal(t, first.ID, second.ID)
	assert.Same(t, first.Transfer, second.Transfer)
	assert.NotEqual(t, first.ID, third.ID)
	assert.Len(t, s.Filter(allStatuses...), 2)

	require.Eventually(t, func() bool { return srv.Requests() == 2 }, 5*time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 2, srv.Requests())
}

func TestScheduler_TerminalJobIsReturnedAsIs(t *testing.T) {
	srv := testutils.NewFileServer(t, testutils.Fixture(10))
	s := newScheduler(t, engine.DefaultConfig(t.TempDir(), ""), nil)

	job := download(t, s, srv.URLFor("/status/404"), "missing.file")
	waitStatus(t, job, status.Failed)

	again := download(t, s, srv.URLFor("/status/404"), "missing.file")
	assert.Same(t, job.Transfer, again.Transfer)
	assert.Equal(t, status.Failed, again.Transfer.Status())
	assert.Equal(t, 1, srv.Requests())
}

func TestScheduler_InvalidURL(t *testing.T) {
	s := newScheduler(t, engine.DefaultConfig(t.TempDir(), ""), nil)

	_, err := s.Download("", "x")
	assert.ErrorIs(t, err, engine.ErrInvalidURL)
}

func TestScheduler_ConcurrencyCap(t *testing.T) {
	data := testutils.Fixture(testutils.FixtureSize)
	srv := testutils.NewFileServer(t, data)

	cfg := engine.DefaultConfig(t.TempDir(), "")
	cfg.MaxConcurrent = 2
	s := newScheduler(t, cfg, nil)

	var jobs []engine.Job
	for i := range 5 {
		jobs = append(jobs, download(t, s, srv.URLFor(fmt.Sprintf("/hold?n=%d", i)), fmt.Sprintf("file%d.bin", i)))
	}

	assert.Len(t, s.Filter(status.Active), 2)
	assert.Len(t, s.Filter(status.Init), 3)
	assert.Equal(t, ids(jobs), ids(s.Queue()))
	assert.Equal(t, status.Active, jobs[0].Transfer.Status())
	assert.Equal(t, status.Active, jobs[1].Transfer.Status())

	var (
		mu        sync.Mutex
		maxActive int
	)

	stop := make(chan struct{})
	sampled := make(chan struct{})

	go func() {
		defer close(sampled)

		for {
			select {
			case <-stop:
				return
			default:
			}

			n := len(s.Filter(status.Active))

			mu.Lock()
			maxActive = max(maxActive, n)
			mu.Unlock()

			time.Sleep(time.Millisecond)
		}
	}()

	srv.Release()

	require.Eventually(t, func() bool {
		return len(s.Filter(status.Finished)) == len(jobs)
	}, 10*time.Second, 5*time.Millisecond)

	close(stop)
	<-sampled

	mu.Lock()
	defer mu.Unlock()

	assert.LessOrEqual(t, maxActive, 2)
	assert.Empty(t, s.Queue())
}

func TestScheduler_FailedJobDoesNotBlockOthers(t *testing.T) {
	srv := testutils.NewFileServer(t, testutils.Fixture(testutils.FixtureSize))

	cfg := engine.DefaultConfig(t.TempDir(), "")
	cfg.MaxConcurrent = 1
	s := newScheduler(t, cfg, nil)

	failing := download(t, s, srv.URLFor("/status/404"), "broken.file")
	working := download(t, s, srv.URLFor("/file"), "fine.file")

	waitStatus(t, working, status.Finished)
	assert.Equal(t, status.Failed, failing.Transfer.Status())
	assert.Equal(t, []string{failing.ID}, ids(s.Filter(status.Failed)))
	assert.NotEmpty(t, failing.Info().FailReason)
}

func TestScheduler_Remove(t *testing.T) {
	srv := testutils.NewFileServer(t, testutils.Fixture(testutils.FixtureSize))
	workDir := t.TempDir()
	s := newScheduler(t, engine.DefaultConfig(workDir, ""), nil)

	job := download(t, s, srv.URLFor("/hold?cut=100"), "held.file")
	waitStatus(t, job, status.Active)
	require.Eventually(t, func() bool { return job.Info().OnDisk > 0 }, 5*time.Second, 5*time.Millisecond)

	require.NoError(t, s.Remove(job.ID, true))

	assert.Equal(t, status.Aborted, job.Transfer.Status())
	assert.NoDirExists(t, filepath.Join(workDir, "held"))
	assert.Empty(t, s.Queue())
	assert.Empty(t, s.Filter(allStatuses...))

	_, ok := s.Get(job.ID)
	assert.False(t, ok)
	assert.ErrorIs(t, s.Remove(job.ID, true), engine.ErrDownloadNotFound)

	snapshot, err := repository.NewFileStore(workDir).Load()
	require.NoError(t, err)
	assert.NotContains(t, snapshot.Jobs, job.ID)
}

func TestScheduler_RemoveKeepsFiles(t *testing.T) {
	srv := testutils.NewFileServer(t, testutils.Fixture(testutils.FixtureSize))
	workDir := t.TempDir()
	s := newScheduler(t, engine.DefaultConfig(workDir, ""), nil)

	job := download(t, s, srv.URLFor("/file"), "kept.file")
	waitStatus(t, job, status.Finished)

	require.NoError(t, s.Remove(job.ID, false))
	assert.Equal(t, status.Finished, job.Transfer.Status())
	assert.FileExists(t, filepath.Join(workDir, "kept", "kept.file"))
}

func TestScheduler_RemoveFreesSlot(t *testing.T) {
	srv := testutils.NewFileServer(t, testutils.Fixture(testutils.FixtureSize))

	cfg := engine.DefaultConfig(t.TempDir(), "")
	cfg.MaxConcurrent = 1
	s := newScheduler(t, cfg, nil)

	held := download(t, s, srv.URLFor("/hold?n=1"), "held.file")
	next := download(t, s, srv.URLFor("/file"), "next.file")
	assert.Equal(t, status.Init, next.Transfer.Status())

	require.NoError(t, s.Remove(held.ID, true))
	waitStatus(t, next, status.Finished)
}

func TestScheduler_RestartRestoresQueueAndHistory(t *testing.T) {
	srv := testutils.NewFileServer(t, testutils.Fixture(testutils.FixtureSize))
	workDir := t.TempDir()
	store := repository.NewFileStore(workDir)

	cfg := engine.DefaultConfig(workDir, "")
	cfg.MaxConcurrent = 1

	first, err := engine.New(context.Background(), cfg, store)
	require.NoError(t, err)

	done := download(t, first, srv.URLFor("/file"), "done.file")
	waitStatus(t, done, status.Finished)

	var queued []string
	for i := range 3 {
		queued = append(queued, download(t, first, srv.URLFor(fmt.Sprintf("/hold?n=%d", i)), fmt.Sprintf("q%d.bin", i)).ID)
	}

	active, ok := first.Get(queued[0])
	require.True(t, ok)
	waitStatus(t, active, status.Active)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, first.Shutdown(ctx))

	snapshot, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, queued, snapshot.Queue)
	assert.Equal(t, status.Active, snapshot.Jobs[queued[0]].Info.Status)
	assert.Len(t, snapshot.Jobs, 4)

	second := newScheduler(t, cfg, store)

	assert.Equal(t, queued, ids(second.Queue()))
	assert.Equal(t, []string{done.ID}, ids(second.Filter(status.Finished)))

	restarted, ok := second.Get(queued[0])
	require.True(t, ok)
	assert.Equal(t, status.Active, restarted.Transfer.Status())
	assert.Equal(t, 2, restarted.Info().Attempts)

	for _, id := range queued[1:] {
		job, ok := second.Get(id)
		require.True(t, ok)
		assert.Equal(t, status.Init, job.Transfer.Status())
	}
}

func TestScheduler_LoadDropsQueuedIDsWithoutState(t *testing.T) {
	workDir := t.TempDir()
	store := repository.NewFileStore(workDir)

	ended := time.Now()
	require.NoError(t, store.Save(&repository.Snapshot{
		Queue: []string{"http://gone.invalid/a"},
		Jobs: map[string]transfer.State{
			"http://old.invalid/b": {Info: transfer.Info{URL: "http://old.invalid/b", Filename: "b", Status: status.Failed, EndedAt: &ended}},
		},
	}))

	s := newScheduler(t, engine.DefaultConfig(workDir, ""), store)

	assert.Empty(t, s.Queue())
	assert.Equal(t, []string{"http://old.invalid/b"}, ids(s.Filter(status.Failed)))
}

func TestScheduler_Cleanup(t *testing.T) {
	workDir := t.TempDir()
	store := repository.NewFileStore(workDir)

	twoDaysAgo := time.Now().Add(-48 * time.Hour)
	recent := time.Now().Add(-time.Hour)

	staleDir := filepath.Join(workDir, "stale")
	recentDir := filepath.Join(workDir, "recent")
	failedDir := filepath.Join(workDir, "failed")

	for _, dir := range []string{staleDir, recentDir, failedDir} {
		require.NoError(t, os.MkdirAll(dir, 0o755))
	}

	job := func(name string, st status.Status, dir string, ended *time.Time) transfer.State {
		return transfer.State{Info: transfer.Info{
			URL: "http://x.invalid/" + name, Filename: name, Dir: dir,
			Path: filepath.Join(dir, name), Status: st, StartedAt: ended, EndedAt: ended,
		}}
	}

	require.NoError(t, store.Save(&repository.Snapshot{
		Queue: []string{},
		Jobs: map[string]transfer.State{
			"http://x.invalid/stale":   job("stale", status.Finished, staleDir, &twoDaysAgo),
			"http://x.invalid/gone":    job("gone", status.Finished, filepath.Join(workDir, "gone"), &twoDaysAgo),
			"http://x.invalid/recent":  job("recent", status.Finished, recentDir, &recent),
			"http://x.invalid/failed":  job("failed", status.Failed, failedDir, &twoDaysAgo),
			"http://x.invalid/aborted": job("aborted", status.Aborted, recentDir, &twoDaysAgo),
		},
	}))

	s := newScheduler(t, engine.DefaultConfig(workDir, ""), store)

	assert.Equal(t, 2, s.Cleanup())

	assert.NoDirExists(t, staleDir)
	assert.NoDirExists(t, failedDir)
	assert.DirExists(t, recentDir)

	_, ok := s.Get("http://x.invalid/stale")
	assert.False(t, ok)

	_, ok = s.Get("http://x.invalid/failed")
	assert.False(t, ok)

	for _, kept := range []string{"gone", "recent", "aborted"} {
		_, ok := s.Get("http://x.invalid/" + kept)
		assert.True(t, ok, kept)
	}
}

func TestScheduler_ShutdownStopsAdmission(t *testing.T) {
	srv := testutils.NewFileServer(t, testutils.Fixture(testutils.FixtureSize))
	s := newScheduler(t, engine.DefaultConfig(t.TempDir(), ""), nil)

	held := download(t, s, srv.URLFor("/hold?cut=10"), "held.file")
	waitStatus(t, held, status.Active)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
	require.NoError(t, s.Shutdown(ctx))

	assert.Equal(t, status.Active, held.Transfer.Status())

	_, err := s.Download(srv.URLFor("/file"), "late.file")
	assert.ErrorIs(t, err, engine.ErrSchedulerClosed)
}

func TestScheduler_QueryableWhileRemoving(t *testing.T) {
	srv := testutils.NewFileServer(t, testutils.Fixture(testutils.FixtureSize))
	s := newScheduler(t, engine.DefaultConfig(t.TempDir(), ""), nil)

	job := download(t, s, srv.URLFor("/hold?cut=100"), "slow.file")

	// A listener that blocks keeps the aborted attempt from unwinding.
	blocked := make(chan struct{})
	gate := make(chan struct{})

	var once sync.Once

	job.Transfer.Subscribe(func(transfer.Event) {
		once.Do(func() {
			close(blocked)
			<-gate
		})
	}, transfer.EventChunk)

	select {
	case <-blocked:
	case <-time.After(5 * time.Second):
		t.Fatal("no chunk received")
	}

	removed := make(chan error, 1)

	go func() { removed <- s.Remove(job.ID, true) }()

	require.Eventually(t, func() bool { return job.Transfer.Status() == status.Aborted }, 5*time.Second, 5*time.Millisecond)

	queried := make(chan struct{})

	go func() {
		s.Queue()
		s.Filter(allStatuses...)
		s.Get(job.ID)
		close(queried)
	}()

	select {
	case <-queried:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler was locked while the removed job unwound")
	}

	select {
	case <-removed:
		t.Fatal("remove returned before the attempt stopped")
	default:
	}

	close(gate)

	select {
	case err := <-removed:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("remove did not return")
	}

	_, ok := s.Get(job.ID)
	assert.False(t, ok)
}

func TestScheduler_ConcurrentRemove(t *testing.T) {
	srv := testutils.NewFileServer(t, testutils.Fixture(testutils.FixtureSize))
	s := newScheduler(t, engine.DefaultConfig(t.TempDir(), ""), nil)

	job := download(t, s, srv.URLFor("/hold?cut=100"), "twice.file")
	waitStatus(t, job, status.Active)

	errs := make(chan error, 2)

	for range 2 {
		go func() { errs <- s.Remove(job.ID, true) }()
	}

	var notFound, ok int

	for range 2 {
		err := <-errs
		switch {
		case err == nil:
			ok++
		case assert.ErrorIs(t, err, engine.ErrDownloadNotFound):
			notFound++
		}
	}

	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, notFound)
	assert.Empty(t, s.Filter(allStatuses...))
}
