// Package progress formats transfer snapshots for logs and tables.
package progress

import (
	"fmt"
	"math"
	"time"

	"github.com/NamanBalaji/fetcharr/internal/transfer"
)

const mebibyte = 1024 * 1024

// Progress is what a snapshot exposes about its completion.
type Progress interface {
	Total() (int64, bool)
	Remaining() int64
	Percentage() float64
}

var _ Progress = transfer.Info{}

// BytesToMB converts bytes to MiB rounded to one decimal.
func BytesToMB(bytes float64) float64 {
	return math.Round(bytes/mebibyte*10) / 10
}

// FormatDuration renders seconds as HH:MM:SS, wrapping at 24 hours.
func FormatDuration(seconds int64) string {
	return time.Unix(0, 0).UTC().Add(time.Duration(seconds) * time.Second).Format(time.TimeOnly)
}

// Percentage rounds the completion percentage to one decimal.
func Percentage(p Progress) float64 {
	return math.Round(p.Percentage()*10) / 10
}

// TotalMB is the object size in MiB, 0 when unknown.
func TotalMB(p Progress) float64 {
	total, ok := p.Total()
	if !ok {
		return 0
	}

	return BytesToMB(float64(total))
}

// Describe is the one-line summary used in progress logs.
func Describe(info transfer.Info) string {
	return fmt.Sprintf("%s - downloaded %.1f%% (%.1f/%.1f) in %s, avg speed at %.1fMiB/s",
		info.Path,
		Percentage(info),
		BytesToMB(float64(info.OnDisk)),
		TotalMB(info),
		FormatDuration(info.ElapsedSeconds),
		BytesToMB(info.AverageBytesPerSecond),
	)
}
