package engine

import (
	httpPkg "github.com/NamanBalaji/fetcharr/pkg/http"
)

const (
	DefaultMaxConcurrent = 3
	DefaultRetryBudget   = 10
)

// Config contains scheduler configuration.
type Config struct {
	WorkDir          string // Jobs download into WorkDir/<name>/ and the snapshot lives here
	CompletedDir     string // Finished job directories are moved here when set
	MaxConcurrent    int    // Maximum number of ACTIVE jobs
	RetryBudget      int    // Retries per job after the first attempt
	ResumeOnExisting bool   // Continue from partial files found on disk
	Client           *httpPkg.Client
}

// DefaultConfig returns the scheduler defaults for the given directories.
func DefaultConfig(workDir, completedDir string) Config {
	return Config{
		WorkDir:          workDir,
		CompletedDir:     completedDir,
		MaxConcurrent:    DefaultMaxConcurrent,
		RetryBudget:      DefaultRetryBudget,
		ResumeOnExisting: true,
	}
}
