package transfer

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/NamanBalaji/fetcharr/internal/errors"
	"github.com/NamanBalaji/fetcharr/internal/status"
	httpPkg "github.com/NamanBalaji/fetcharr/pkg/http"
)

const chunkSize = 32 * 1024

func (t *Transfer) run() {
	var err error

	defer func() {
		t.mu.Lock()
		t.running = false
		t.mu.Unlock()

		t.resolve(err)
	}()

	for {
		err = t.attempt()
		if err == nil {
			return
		}

		var retry bool

		retry, err = t.handleError(err)
		if !retry {
			return
		}

		t.mu.Lock()
		if t.aborted.Load() {
			t.mu.Unlock()

			err = errors.ErrAborted

			return
		}

		t.beginAttemptLocked()
		t.mu.Unlock()
	}
}

// attempt performs one request/write/verify/finalize cycle.
func (t *Transfer) attempt() error {
	if t.aborted.Load() {
		return errors.ErrAborted
	}

	if err := t.announce(); err != nil {
		return err
	}

	f, err := t.openFile()
	if err != nil {
		return err
	}

	closed := false
	closeFile := func() error {
		if closed {
			return nil
		}

		closed = true

		return f.Close()
	}

	defer closeFile()

	info := t.Info()

	var offset int64
	if (info.Attempts > 1 || t.opts.ResumeOnExisting) && info.OnDisk > 0 {
		offset = info.OnDisk
	}

	resp, err := t.client.Get(t.ctx, info.URL, offset)
	if err != nil {
		return errors.NewRequestError(err, info.URL, 0)
	}
	defer resp.Body.Close()

	if offset > 0 && resp.StatusCode == http.StatusOK && resp.Header.Get("Content-Range") == "" {
		// The server ignored the range and is sending the whole object again.
		if err := f.Truncate(0); err != nil {
			return errors.NewFilesystemError(err, info.Path)
		}

		t.update(func(i *Info) {
			i.SkippedBytes = 0
			i.DownloadedBytes = 0
		})

		offset = 0
	}

	var (
		total int64
		known bool
	)

	// Error pages describe themselves, not the object.
	if httpPkg.IsSuccess(resp.StatusCode) || resp.StatusCode == http.StatusRequestedRangeNotSatisfiable {
		total, known = httpPkg.TotalSize(resp, offset)
	}

	info = t.update(func(i *Info) {
		if known {
			i.TotalBytes = &total
		} else {
			i.TotalBytes = nil
		}

		i.Resumable = httpPkg.SupportsRanges(resp)
	})
	t.publish(Event{Type: EventHeaders, Info: info, Response: responseMeta(resp)})

	if !known || info.OnDisk != total {
		if err := t.write(f, resp, info.URL); err != nil {
			return err
		}

		if info = t.Info(); known && info.OnDisk != total {
			return errors.NewRequestError(
				fmt.Errorf("%w: have %d of %d bytes", httpPkg.ErrUnexpectedEOF, info.OnDisk, total), info.URL, 0)
		}
	}

	if err := closeFile(); err != nil {
		return errors.NewFilesystemError(err, info.Path)
	}

	if t.opts.ExpectedChecksum != "" {
		if err := verifyChecksum(info.Path, t.opts.ExpectedChecksum); err != nil {
			return err
		}
	}

	if t.aborted.Load() {
		return errors.ErrAborted
	}

	if err := t.moveToCompleted(); err != nil {
		return err
	}

	now := time.Now()
	info = t.update(func(i *Info) {
		i.Status = status.Finished
		i.EndedAt = &now
	})

	if info.Status != status.Finished {
		return errors.ErrAborted
	}

	t.publish(Event{Type: EventFinished, Info: info, Response: responseMeta(resp)})

	return nil
}

// announce raises the start-of-attempt events. The first attempt of a process run also
// reconciles the counters with what is on disk.
func (t *Transfer) announce() error {
	info := t.Info()

	if !t.fresh {
		t.publish(Event{Type: EventRetry, Info: info})

		if info.Resumable {
			t.publish(Event{Type: EventResume, Info: info})
		}

		return nil
	}

	t.fresh = false

	if info.Attempts > 1 {
		t.publish(Event{Type: EventRetry, Info: info})
	} else {
		t.publish(Event{Type: EventStarted, Info: info})
	}

	if !t.opts.ResumeOnExisting {
		t.truncateNext = true
		t.update(func(i *Info) {
			i.SkippedBytes = 0
			i.DownloadedBytes = 0
		})

		return nil
	}

	st, err := os.Stat(info.Path)
	switch {
	case err == nil:
		info = t.update(func(i *Info) {
			i.SkippedBytes = st.Size()
			i.DownloadedBytes = 0
			i.Resumable = true
		})
	case os.IsNotExist(err):
		info = t.update(func(i *Info) {
			i.SkippedBytes = 0
			i.DownloadedBytes = 0
		})
	default:
		return errors.NewFilesystemError(err, info.Path)
	}

	if info.Attempts > 1 && info.Resumable && info.OnDisk > 0 {
		t.publish(Event{Type: EventResume, Info: info})
	}

	return nil
}

// openFile opens the target for appending, creating its directory inside an existing parent.
func (t *Transfer) openFile() (*os.File, error) {
	info := t.Info()

	if _, err := os.Stat(info.Dir); os.IsNotExist(err) {
		parent := filepath.Dir(info.Dir)
		if st, err := os.Stat(parent); err != nil || !st.IsDir() {
			return nil, errors.NewFilesystemError(fmt.Errorf("%w: %s", errors.ErrMissingDirectory, parent), parent)
		}

		if err := os.Mkdir(info.Dir, 0o755); err != nil && !os.IsExist(err) {
			return nil, errors.NewFilesystemError(err, info.Dir)
		}
	} else if err != nil {
		return nil, errors.NewFilesystemError(err, info.Dir)
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	if t.truncateNext {
		flags |= os.O_TRUNC
		t.truncateNext = false
	}

	f, err := os.OpenFile(info.Path, flags, 0o644)
	if err != nil {
		return nil, errors.NewFilesystemError(err, info.Path)
	}

	return f, nil
}

func (t *Transfer) write(f *os.File, resp *http.Response, url string) error {
	if !httpPkg.IsSuccess(resp.StatusCode) {
		return errors.NewRequestError(httpPkg.ClassifyHTTPError(resp.StatusCode), url, resp.StatusCode)
	}

	if resp.Body == nil || resp.Body == http.NoBody {
		return errors.NewRequestError(errors.ErrEmptyBody, url, resp.StatusCode)
	}

	buf := make([]byte, chunkSize)

	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, err := f.Write(buf[:n]); err != nil {
				return errors.NewFilesystemError(err, f.Name())
			}

			info := t.update(func(i *Info) {
				i.DownloadedBytes += int64(n)
			})
			t.publish(Event{Type: EventChunk, Info: info, ChunkSize: n})
		}

		if rerr == io.EOF {
			return nil
		}

		if rerr != nil {
			classified := httpPkg.ClassifyError(rerr)
			if classified != rerr {
				rerr = fmt.Errorf("%w: %w", classified, rerr)
			}

			return errors.NewRequestError(rerr, url, 0)
		}
	}
}

func (t *Transfer) moveToCompleted() error {
	completed := t.opts.CompletedDir
	if completed == "" {
		return nil
	}

	if st, err := os.Stat(completed); err != nil || !st.IsDir() {
		return errors.NewFilesystemError(fmt.Errorf("%w: %s", errors.ErrMissingDirectory, completed), completed)
	}

	info := t.Info()
	target := filepath.Join(completed, filepath.Base(info.Dir))

	if err := os.Rename(info.Dir, target); err != nil {
		return errors.NewFilesystemError(err, target)
	}

	t.update(func(i *Info) {
		i.Dir = target
		i.Path = filepath.Join(target, i.Filename)
	})

	return nil
}

// handleError decides what follows a failed attempt. It returns true when another
// attempt should run, otherwise the error the transfer settles with.
func (t *Transfer) handleError(err error) (bool, error) {
	if t.aborted.Load() || errors.Is(err, errors.ErrAborted) {
		return false, errors.ErrAborted
	}

	if t.ctx.Err() != nil {
		return false, errors.ErrInterrupted
	}

	info := t.Info()
	t.publish(Event{Type: EventError, Info: info, Err: err})

	if info.Attempts > t.opts.RetryBudget || !t.opts.ShouldRetry(info.Attempts, err) {
		now := time.Now()
		info = t.update(func(i *Info) {
			i.Status = status.Failed
			i.EndedAt = &now
			i.FailReason = err.Error()
		})

		if info.Status != status.Failed {
			return false, errors.ErrAborted
		}

		t.publish(Event{Type: EventFailed, Info: info, Err: err})

		return false, err
	}

	if delay := t.opts.RetryDelay(info.Attempts, err); delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-t.ctx.Done():
			if t.aborted.Load() {
				return false, errors.ErrAborted
			}

			return false, errors.ErrInterrupted
		}
	}

	return true, nil
}
