package cmd

import (
	"path/filepath"

	"github.com/NamanBalaji/fetcharr/internal/config"
	"github.com/NamanBalaji/fetcharr/internal/engine"
	"github.com/NamanBalaji/fetcharr/internal/repository"
)

const bboltFile = "_downloads.db"

// openStore opens the snapshot store selected in cfg inside the download directory.
func openStore(cfg *config.Config) (repository.Store, error) {
	if cfg.Store == config.StoreBbolt {
		return repository.NewBboltStore(filepath.Join(cfg.DownloadDir, bboltFile))
	}

	return repository.NewFileStore(cfg.DownloadDir), nil
}

func schedulerConfig(cfg *config.Config) engine.Config {
	sc := engine.DefaultConfig(cfg.DownloadDir, cfg.CompletedDir)
	sc.MaxConcurrent = cfg.MaxConcurrentDownloads
	sc.RetryBudget = cfg.RetryAttempts
	sc.ResumeOnExisting = !cfg.DisableResume

	return sc
}
