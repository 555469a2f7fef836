package transfer

import (
	"time"

	"github.com/NamanBalaji/fetcharr/internal/errors"
	httpPkg "github.com/NamanBalaji/fetcharr/pkg/http"
)

// RetryDelayFunc returns how long to wait before the attempt after a failed one.
type RetryDelayFunc func(attempt int, err error) time.Duration

// ShouldRetryFunc decides whether a failed attempt may be retried.
type ShouldRetryFunc func(attempt int, err error) bool

type Option func(*Options)

// Options configures one transfer.
type Options struct {
	ResumeOnExisting bool
	RetryBudget      int
	CompletedDir     string
	ExpectedChecksum string
	RetryDelay       RetryDelayFunc
	ShouldRetry      ShouldRetryFunc
	Client           *httpPkg.Client
}

// PersistedOptions is the plain-data part of Options that survives a restart.
type PersistedOptions struct {
	ResumeOnExisting bool   `json:"resumeOnExisting"`
	RetryBudget      int    `json:"retryBudget"`
	ExpectedChecksum string `json:"expectedChecksum,omitempty"`
}

// State is what gets persisted for a transfer.
type State struct {
	Info    Info             `json:"info"`
	Options PersistedOptions `json:"options"`
}

func defaultOptions() *Options {
	return &Options{
		RetryDelay:  DefaultRetryDelay,
		ShouldRetry: DefaultShouldRetry,
	}
}

func buildOptions(opts []Option) *Options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	if o.Client == nil {
		o.Client = httpPkg.NewClient()
	}

	return o
}

// DefaultRetryDelay waits one second per attempt made so far.
func DefaultRetryDelay(attempt int, _ error) time.Duration {
	return time.Duration(attempt) * time.Second
}

// DefaultShouldRetry retries everything except filesystem and validation failures and
// request failures with a status in [400,500) or above 505.
func DefaultShouldRetry(_ int, err error) bool {
	return errors.IsRetryable(err)
}

func WithResumeOnExisting(resume bool) Option {
	return func(o *Options) {
		o.ResumeOnExisting = resume
	}
}

func WithRetryBudget(retries int) Option {
	return func(o *Options) {
		if retries < 0 {
			retries = 0
		}

		o.RetryBudget = retries
	}
}

func WithCompletedDir(dir string) Option {
	return func(o *Options) {
		o.CompletedDir = dir
	}
}

func WithExpectedChecksum(checksum string) Option {
	return func(o *Options) {
		o.ExpectedChecksum = checksum
	}
}

func WithRetryDelay(fn RetryDelayFunc) Option {
	return func(o *Options) {
		if fn != nil {
			o.RetryDelay = fn
		}
	}
}

func WithShouldRetry(fn ShouldRetryFunc) Option {
	return func(o *Options) {
		if fn != nil {
			o.ShouldRetry = fn
		}
	}
}

func WithClient(client *httpPkg.Client) Option {
	return func(o *Options) {
		o.Client = client
	}
}

// WithPersisted applies options restored from a snapshot.
func WithPersisted(p PersistedOptions) Option {
	return func(o *Options) {
		o.ResumeOnExisting = p.ResumeOnExisting
		WithRetryBudget(p.RetryBudget)(o)
		o.ExpectedChecksum = p.ExpectedChecksum
	}
}

func (o *Options) persisted() PersistedOptions {
	return PersistedOptions{
		ResumeOnExisting: o.ResumeOnExisting,
		RetryBudget:      o.RetryBudget,
		ExpectedChecksum: o.ExpectedChecksum,
	}
}
