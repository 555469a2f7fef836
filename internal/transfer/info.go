package transfer

import (
	"math"
	"time"

	"github.com/NamanBalaji/fetcharr/internal/status"
)

// Info is a point-in-time snapshot of a transfer. Values handed out by a Transfer are
// deep copies and are never mutated afterwards.
type Info struct {
	URL      string `json:"url"`
	Path     string `json:"path"`
	Dir      string `json:"dir"`
	Filename string `json:"filename"`

	Resumable       bool   `json:"resumable"`
	SkippedBytes    int64  `json:"skippedBytes"`
	DownloadedBytes int64  `json:"downloadedBytes"`
	OnDisk          int64  `json:"onDisk"`
	TotalBytes      *int64 `json:"totalBytes"`

	Attempts    int           `json:"attempts"`
	MaxAttempts int           `json:"maxAttempts"`
	Status      status.Status `json:"status"`

	StartedAt *time.Time `json:"startedAt"`
	EndedAt   *time.Time `json:"endedAt"`

	ElapsedSeconds        int64   `json:"elapsedSeconds"`
	AverageBytesPerSecond float64 `json:"averageBytesPerSecond"`
	ETASeconds            int64   `json:"etaSeconds"`

	FailReason string `json:"failReason,omitempty"`
}

// Total returns the size of the remote object when it is known.
func (i Info) Total() (int64, bool) {
	if i.TotalBytes == nil {
		return 0, false
	}

	return *i.TotalBytes, true
}

// Remaining is the number of bytes still missing on disk, 0 when the total is unknown.
func (i Info) Remaining() int64 {
	total, ok := i.Total()
	if !ok || total <= i.OnDisk {
		return 0
	}

	return total - i.OnDisk
}

// Percentage of the object already on disk, 0 when the total is unknown.
func (i Info) Percentage() float64 {
	total, ok := i.Total()
	if !ok || total <= 0 {
		return 0
	}

	return math.Min(float64(i.OnDisk)/float64(total)*100, 100)
}

func (i Info) clone() Info {
	c := i

	if i.TotalBytes != nil {
		v := *i.TotalBytes
		c.TotalBytes = &v
	}

	if i.StartedAt != nil {
		v := *i.StartedAt
		c.StartedAt = &v
	}

	if i.EndedAt != nil {
		v := *i.EndedAt
		c.EndedAt = &v
	}

	return c
}

// refresh recomputes every derived field from the stored ones.
func (i *Info) refresh(now time.Time) {
	i.OnDisk = i.SkippedBytes + i.DownloadedBytes

	i.ElapsedSeconds = 0
	if i.StartedAt != nil {
		end := now
		if i.EndedAt != nil {
			end = *i.EndedAt
		}

		if d := end.Sub(*i.StartedAt); d > 0 {
			i.ElapsedSeconds = int64(math.Ceil(d.Seconds()))
		}
	}

	i.AverageBytesPerSecond = 0
	if i.ElapsedSeconds > 0 {
		i.AverageBytesPerSecond = float64(i.DownloadedBytes) / float64(i.ElapsedSeconds)
	}

	i.ETASeconds = 0
	remaining := i.Remaining()
	if i.Status == status.Active && remaining > 0 && i.AverageBytesPerSecond > 0 {
		i.ETASeconds = int64(math.Ceil(float64(remaining) / i.AverageBytesPerSecond))
	}
}
