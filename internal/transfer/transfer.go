// Package transfer downloads a single URL to disk over HTTP, with resume, bounded
// retries, optional checksum verification and a final move into a completed directory.
package transfer

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/NamanBalaji/fetcharr/internal/errors"
	"github.com/NamanBalaji/fetcharr/internal/status"
	httpPkg "github.com/NamanBalaji/fetcharr/pkg/http"
)

type Transfer struct {
	mu     sync.RWMutex
	info   Info
	opts   *Options
	client *httpPkg.Client
	events bus

	ctx    context.Context
	cancel context.CancelFunc

	aborted atomic.Bool
	started bool
	running bool

	// Owned by the run goroutine.
	fresh        bool
	truncateNext bool

	done        chan struct{}
	doneErr     error
	resolveOnce sync.Once
}

// New creates a transfer of url into downloadDir/<filename without extension>/filename.
// Nothing happens until Start is called. Cancelling ctx interrupts the transfer without
// changing its status.
func New(ctx context.Context, url, downloadDir, filename string, opts ...Option) *Transfer {
	o := buildOptions(opts)

	name := strings.TrimSuffix(filename, filepath.Ext(filename))
	if name == "" {
		name = filename
	}

	dir := filepath.Join(downloadDir, name)
	info := Info{
		URL:         url,
		Filename:    filename,
		Dir:         dir,
		Path:        filepath.Join(dir, filename),
		Status:      status.Init,
		MaxAttempts: o.RetryBudget + 1,
	}

	return newTransfer(ctx, info, o)
}

// Restore rebuilds a transfer from a persisted snapshot. A transfer that was active when
// the snapshot was taken goes back to INIT so that it can be started again; terminal
// transfers come back already resolved.
func Restore(ctx context.Context, info Info, opts ...Option) *Transfer {
	o := buildOptions(opts)

	info = info.clone()
	if info.Status == status.Active {
		info.Status = status.Init
	}

	info.MaxAttempts = o.RetryBudget + 1

	t := newTransfer(ctx, info, o)

	switch info.Status {
	case status.Finished:
		t.started = true
		t.resolve(nil)
	case status.Failed:
		t.started = true
		t.resolve(fmt.Errorf("%w: %s", errors.ErrFailed, info.FailReason))
	case status.Aborted:
		t.started = true
		t.aborted.Store(true)
		t.resolve(errors.ErrAborted)
	}

	return t
}

func newTransfer(ctx context.Context, info Info, o *Options) *Transfer {
	runCtx, cancel := context.WithCancel(ctx)

	info.refresh(time.Now())

	return &Transfer{
		info:   info,
		opts:   o,
		client: o.Client,
		ctx:    runCtx,
		cancel: cancel,
		fresh:  true,
		done:   make(chan struct{}),
	}
}

// Start begins the transfer in the background and returns the channel closed once it
// settles. Calling Start again returns the same channel without side effects. The status
// is ACTIVE by the time Start returns.
func (t *Transfer) Start() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.started {
		return t.done
	}

	t.started = true

	if t.info.Status != status.Init || t.aborted.Load() {
		t.resolve(nil)
		return t.done
	}

	t.beginAttemptLocked()
	t.running = true

	go t.run()

	return t.done
}

// Abort stops the transfer. It has no effect once the transfer finished or failed.
// The status becomes ABORTED immediately and stays that way.
func (t *Transfer) Abort() {
	t.mu.Lock()

	if t.info.Status == status.Finished || t.info.Status == status.Failed {
		t.mu.Unlock()
		return
	}

	t.aborted.Store(true)
	t.started = true

	now := time.Now()
	t.mutateLocked(func(i *Info) {
		i.Status = status.Aborted
		if i.EndedAt == nil {
			i.EndedAt = &now
		}
	})

	running := t.running
	t.mu.Unlock()

	t.cancel()

	if !running {
		t.resolve(errors.ErrAborted)
	}
}

// Done is closed when the transfer settles.
func (t *Transfer) Done() <-chan struct{} {
	return t.done
}

// Err is the outcome once Done is closed: nil on success, the failure otherwise.
func (t *Transfer) Err() error {
	select {
	case <-t.done:
		return t.doneErr
	default:
		return nil
	}
}

// Wait blocks until the transfer settles or ctx is done.
func (t *Transfer) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.doneErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Info returns a snapshot of the transfer.
func (t *Transfer) Info() Info {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.info.clone()
}

func (t *Transfer) Status() status.Status {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.info.Status
}

// State returns the persistable form of the transfer.
func (t *Transfer) State() State {
	return State{Info: t.Info(), Options: t.opts.persisted()}
}

// Subscribe registers fn for the given event types, or for every event when none are
// given. Listeners run synchronously on the transfer goroutine.
func (t *Transfer) Subscribe(fn Listener, types ...EventType) uuid.UUID {
	return t.events.subscribe(fn, types)
}

// Unsubscribe removes a listener and reports whether it was registered.
func (t *Transfer) Unsubscribe(id uuid.UUID) bool {
	return t.events.unsubscribe(id)
}

func (t *Transfer) resolve(err error) {
	t.resolveOnce.Do(func() {
		t.doneErr = err
		close(t.done)
	})
}

func (t *Transfer) publish(ev Event) {
	t.events.publish(ev)
}

// update applies fn to the stored info and returns a snapshot of the result.
func (t *Transfer) update(fn func(*Info)) Info {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.mutateLocked(fn)
}

// mutateLocked never moves a transfer out of a terminal status.
func (t *Transfer) mutateLocked(fn func(*Info)) Info {
	prev := t.info.Status

	fn(&t.info)

	if prev.IsTerminal() {
		t.info.Status = prev
	}

	t.info.refresh(time.Now())

	return t.info.clone()
}

func (t *Transfer) beginAttemptLocked() {
	now := time.Now()
	t.mutateLocked(func(i *Info) {
		i.Status = status.Active
		i.Attempts++
		if i.StartedAt == nil {
			i.StartedAt = &now
		}
	})
}
