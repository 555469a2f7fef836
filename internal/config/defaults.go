package config

import (
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
)

const (
	maxConcurrentDownloads = 3
	retryAttempts          = 10
	cleanupInterval        = time.Hour
	logLevel               = "info"

	StoreJSON  = "json"
	StoreBbolt = "bbolt"

	FormatConsole = "console"
	FormatJSON    = "json"
)

var downloadDir = filepath.Join(xdg.UserDirs.Download, "fetcharr")
