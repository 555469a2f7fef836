package engine

import (
	"cmp"
	"context"
	"fmt"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/NamanBalaji/fetcharr/internal/errors"
	"github.com/NamanBalaji/fetcharr/internal/logger"
	"github.com/NamanBalaji/fetcharr/internal/progress"
	"github.com/NamanBalaji/fetcharr/internal/repository"
	"github.com/NamanBalaji/fetcharr/internal/status"
	"github.com/NamanBalaji/fetcharr/internal/transfer"
	httpPkg "github.com/NamanBalaji/fetcharr/pkg/http"
)

var (
	// ErrDownloadNotFound is returned when a job id is unknown.
	ErrDownloadNotFound = errors.New("download not found")

	// ErrInvalidURL is returned for an empty source URL.
	ErrInvalidURL = errors.New("invalid URL")

	// ErrSchedulerClosed is returned once Shutdown was called.
	ErrSchedulerClosed = errors.New("scheduler is shut down")
)

const (
	cleanupRetention    = 24 * time.Hour
	removeWait          = 10 * time.Second
	progressLogInterval = 10 * time.Second
)

// Job is one scheduled transfer. Its id is the source URL.
type Job struct {
	ID       string
	Transfer *transfer.Transfer
}

func (j Job) Info() transfer.Info {
	return j.Transfer.Info()
}

// Scheduler runs transfers in FIFO order under a concurrency cap and persists their
// state after every queue change.
type Scheduler struct {
	mu sync.Mutex

	cfg   Config
	store repository.Store
	log   zerolog.Logger

	queue []string
	order []string
	jobs  map[string]*transfer.Transfer

	ctx    context.Context
	cancel context.CancelFunc
	tasks  errgroup.Group
	closed bool
}

// New builds a scheduler and restores any state found in store. A nil store keeps the
// snapshot as JSON in cfg.WorkDir.
func New(ctx context.Context, cfg Config, store repository.Store) (*Scheduler, error) {
	if cfg.WorkDir == "" {
		return nil, fmt.Errorf("%w: work directory is required", errors.ErrMissingDirectory)
	}

	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}

	if cfg.RetryBudget < 0 {
		cfg.RetryBudget = 0
	}

	if cfg.Client == nil {
		cfg.Client = httpPkg.NewClient()
	}

	if err := os.MkdirAll(cfg.WorkDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create work directory: %w", err)
	}

	if store == nil {
		store = repository.NewFileStore(cfg.WorkDir)
	}

	runCtx, cancel := context.WithCancel(ctx)

	s := &Scheduler{
		cfg:    cfg,
		store:  store,
		log:    logger.Component("scheduler"),
		jobs:   make(map[string]*transfer.Transfer),
		ctx:    runCtx,
		cancel: cancel,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadStateLocked(); err != nil {
		cancel()
		return nil, err
	}

	return s, nil
}

// Download registers url for download and returns its job. A URL that is already known
// returns the existing job whatever its status; remove it first to download it again.
func (s *Scheduler) Download(url, filename string, opts ...transfer.Option) (Job, error) {
	if url == "" {
		return Job{}, ErrInvalidURL
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if tr, ok := s.jobs[url]; ok {
		return Job{ID: url, Transfer: tr}, nil
	}

	if s.closed {
		return Job{}, ErrSchedulerClosed
	}

	if filename == "" {
		filename = httpPkg.FilenameFromURL(url)
	}

	base := []transfer.Option{
		transfer.WithResumeOnExisting(s.cfg.ResumeOnExisting),
		transfer.WithRetryBudget(s.cfg.RetryBudget),
		transfer.WithCompletedDir(s.cfg.CompletedDir),
		transfer.WithClient(s.cfg.Client),
	}

	tr := transfer.New(s.ctx, url, s.cfg.WorkDir, filename, append(base, opts...)...)
	s.addLocked(url, tr, true)

	s.log.Info().Str("id", url).Str("filename", filename).Msg("download queued")

	s.groomLocked()

	return Job{ID: url, Transfer: tr}, nil
}

// Remove aborts the job, optionally deletes its directory and forgets it. The scheduler
// stays usable while the aborted attempt unwinds.
func (s *Scheduler) Remove(id string, deleteFiles bool) error {
	s.mu.Lock()

	tr, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return ErrDownloadNotFound
	}

	tr.Abort()
	s.mu.Unlock()

	select {
	case <-tr.Done():
	case <-time.After(removeWait):
		s.log.Warn().Str("id", id).Msg("download did not stop in time, removing anyway")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Another Remove may have won while we waited.
	if cur, ok := s.jobs[id]; !ok || cur != tr {
		return ErrDownloadNotFound
	}

	var rmErr error

	if dir := tr.Info().Dir; deleteFiles && dir != "" {
		if err := os.RemoveAll(dir); err != nil {
			rmErr = errors.NewFilesystemError(err, dir)
		}
	}

	delete(s.jobs, id)
	s.order = slices.DeleteFunc(s.order, func(o string) bool { return o == id })
	s.queue = slices.DeleteFunc(s.queue, func(q string) bool { return q == id })

	s.log.Info().Str("id", id).Bool("deleteFiles", deleteFiles).Msg("download removed")

	s.groomLocked()

	return rmErr
}

// Queue lists pending and active jobs in queue order.
func (s *Scheduler) Queue() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := make([]Job, 0, len(s.queue))
	for _, id := range s.queue {
		jobs = append(jobs, Job{ID: id, Transfer: s.jobs[id]})
	}

	return jobs
}

// Filter lists every known job whose status is one of statuses, in insertion order.
func (s *Scheduler) Filter(statuses ...status.Status) []Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	var jobs []Job

	for _, id := range s.order {
		tr := s.jobs[id]
		if slices.Contains(statuses, tr.Status()) {
			jobs = append(jobs, Job{ID: id, Transfer: tr})
		}
	}

	return jobs
}

func (s *Scheduler) Get(id string) (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tr, ok := s.jobs[id]
	if !ok {
		return Job{}, false
	}

	return Job{ID: id, Transfer: tr}, true
}

// Cleanup removes finished and failed jobs that ended more than 24 hours ago and whose
// directory still exists. It returns the number of jobs removed.
func (s *Scheduler) Cleanup() int {
	now := time.Now()

	s.mu.Lock()

	var stale []string

	for _, id := range s.order {
		info := s.jobs[id].Info()
		if info.Status != status.Finished && info.Status != status.Failed {
			continue
		}

		if info.EndedAt == nil || now.Sub(*info.EndedAt) <= cleanupRetention {
			continue
		}

		if _, err := os.Stat(info.Dir); err != nil {
			continue
		}

		stale = append(stale, id)
	}

	s.mu.Unlock()

	removed := 0

	for _, id := range stale {
		if err := s.Remove(id, true); err != nil && !errors.Is(err, ErrDownloadNotFound) {
			s.log.Error().Err(err).Str("id", id).Msg("cleanup failed")
			continue
		}

		removed++
	}

	if removed > 0 {
		s.log.Info().Int("removed", removed).Msg("cleaned up old downloads")
	}

	return removed
}

// SaveState writes the current snapshot to the store.
func (s *Scheduler) SaveState() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.saveLocked()
}

// Shutdown stops admitting work, interrupts running transfers, waits for them to unwind
// and saves the final snapshot. Interrupted jobs are persisted as ACTIVE and resume on
// the next start.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}

	s.closed = true
	s.mu.Unlock()

	s.cancel()

	waited := make(chan struct{})

	go func() {
		_ = s.tasks.Wait()
		close(waited)
	}()

	select {
	case <-waited:
	case <-ctx.Done():
		return fmt.Errorf("waiting for downloads to stop: %w", ctx.Err())
	}

	return s.SaveState()
}

func (s *Scheduler) addLocked(id string, tr *transfer.Transfer, queued bool) {
	s.jobs[id] = tr
	s.order = append(s.order, id)

	if queued {
		s.queue = append(s.queue, id)
	}

	s.watch(id, tr)
}

// groomLocked drops settled jobs from the queue, starts queued jobs while there is
// capacity and persists the result.
func (s *Scheduler) groomLocked() {
	queue := make([]string, 0, len(s.queue))

	for _, id := range s.queue {
		if tr, ok := s.jobs[id]; ok && tr.Status().IsPending() {
			queue = append(queue, id)
		}
	}

	s.queue = queue

	active := 0

	for _, tr := range s.jobs {
		if tr.Status() == status.Active {
			active++
		}
	}

	if !s.closed {
		for _, id := range s.queue {
			if active >= s.cfg.MaxConcurrent {
				break
			}

			if tr := s.jobs[id]; tr.Status() == status.Init {
				s.startLocked(id, tr)
				active++
			}
		}
	}

	if err := s.saveLocked(); err != nil {
		s.log.Error().Err(err).Msg("failed to save state")
	}

	s.log.Debug().Int("queued", len(s.queue)).Int("active", active).Int("known", len(s.jobs)).Msg("queue groomed")
}

func (s *Scheduler) startLocked(id string, tr *transfer.Transfer) {
	done := tr.Start()

	s.tasks.Go(func() error {
		<-done

		if err := tr.Err(); err != nil && !errors.Is(err, errors.ErrAborted) && !errors.Is(err, errors.ErrInterrupted) {
			s.log.Error().Err(err).Str("id", id).Int("attempts", tr.Info().Attempts).Msg("download failed")
		}

		s.mu.Lock()
		defer s.mu.Unlock()

		if !s.closed {
			s.groomLocked()
		}

		return nil
	})
}

func (s *Scheduler) saveLocked() error {
	snapshot := &repository.Snapshot{
		Queue: make([]string, 0, len(s.queue)),
		Jobs:  make(map[string]transfer.State, len(s.jobs)),
	}

	// A job may settle after the last groom, e.g. during shutdown.
	for _, id := range s.queue {
		if tr, ok := s.jobs[id]; ok && tr.Status().IsPending() {
			snapshot.Queue = append(snapshot.Queue, id)
		}
	}

	for id, tr := range s.jobs {
		snapshot.Jobs[id] = tr.State()
	}

	if err := s.store.Save(snapshot); err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}

	return nil
}

func (s *Scheduler) loadStateLocked() error {
	snapshot, err := s.store.Load()
	if err != nil {
		return fmt.Errorf("failed to load state: %w", err)
	}

	if snapshot == nil {
		return nil
	}

	for _, id := range snapshot.Queue {
		state, ok := snapshot.Jobs[id]
		if !ok {
			s.log.Warn().Str("id", id).Msg("queued download has no saved state, dropping it")
			continue
		}

		if _, dup := s.jobs[id]; dup {
			continue
		}

		s.addLocked(id, s.restore(state), true)
	}

	history := make([]string, 0, len(snapshot.Jobs))
	for id := range snapshot.Jobs {
		if _, ok := s.jobs[id]; !ok {
			history = append(history, id)
		}
	}

	slices.SortFunc(history, func(a, b string) int {
		return compareStarted(snapshot.Jobs[a].Info, snapshot.Jobs[b].Info, a, b)
	})

	for _, id := range history {
		s.addLocked(id, s.restore(snapshot.Jobs[id]), false)
	}

	s.log.Info().Int("queued", len(s.queue)).Int("known", len(s.jobs)).Msg("state restored")

	s.groomLocked()

	return nil
}

func (s *Scheduler) restore(state transfer.State) *transfer.Transfer {
	return transfer.Restore(s.ctx, state.Info,
		transfer.WithPersisted(state.Options),
		transfer.WithCompletedDir(s.cfg.CompletedDir),
		transfer.WithClient(s.cfg.Client),
	)
}

// compareStarted orders jobs by start time, never-started jobs last.
func compareStarted(a, b transfer.Info, idA, idB string) int {
	switch {
	case a.StartedAt == nil && b.StartedAt == nil:
		return cmp.Compare(idA, idB)
	case a.StartedAt == nil:
		return 1
	case b.StartedAt == nil:
		return -1
	}

	if c := a.StartedAt.Compare(*b.StartedAt); c != 0 {
		return c
	}

	return cmp.Compare(idA, idB)
}

// watch logs the notable events of a job.
func (s *Scheduler) watch(id string, tr *transfer.Transfer) {
	log := s.log.With().Str("id", id).Str("filename", tr.Info().Filename).Logger()

	var lastProgress time.Time

	tr.Subscribe(func(ev transfer.Event) {
		switch ev.Type {
		case transfer.EventStarted:
			log.Info().Msg("download started")
		case transfer.EventRetry:
			log.Info().Int("attempt", ev.Info.Attempts).Int("maxAttempts", ev.Info.MaxAttempts).Msg("retrying download")
		case transfer.EventResume:
			log.Info().Float64("onDiskMB", progress.BytesToMB(float64(ev.Info.OnDisk))).Msg("resuming download")
		case transfer.EventChunk:
			if time.Since(lastProgress) < progressLogInterval {
				return
			}

			lastProgress = time.Now()
			log.Debug().Msg(progress.Describe(ev.Info))
		case transfer.EventFinished:
			log.Info().Str("path", ev.Info.Path).Msg(progress.Describe(ev.Info))
		case transfer.EventError:
			log.Warn().Err(ev.Err).Int("attempt", ev.Info.Attempts).Msg("download attempt failed")
		}
	})
}
