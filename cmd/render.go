package cmd

import (
	"cmp"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/NamanBalaji/fetcharr/internal/engine"
	"github.com/NamanBalaji/fetcharr/internal/progress"
	"github.com/NamanBalaji/fetcharr/internal/repository"
	"github.com/NamanBalaji/fetcharr/internal/status"
	"github.com/NamanBalaji/fetcharr/internal/transfer"
)

var (
	headerStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("69"))
	mutedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	activeStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	finishedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	failedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	abortedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
)

func styleStatus(s status.Status) string {
	switch s {
	case status.Active:
		return activeStyle.Render(s.String())
	case status.Finished:
		return finishedStyle.Render(s.String())
	case status.Failed:
		return failedStyle.Render(s.String())
	case status.Aborted:
		return abortedStyle.Render(s.String())
	default:
		return mutedStyle.Render(s.String())
	}
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(mutedStyle).
		Headers(headers...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return lipgloss.NewStyle().Bold(true).Align(lipgloss.Center).Padding(0, 1)
			}

			return lipgloss.NewStyle().Padding(0, 1)
		})
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}

	return t.Local().Format(time.DateTime)
}

func formatSize(info transfer.Info) string {
	if _, ok := info.Total(); !ok {
		return fmt.Sprintf("%.1f / ?", progress.BytesToMB(float64(info.OnDisk)))
	}

	return fmt.Sprintf("%.1f / %.1f", progress.BytesToMB(float64(info.OnDisk)), progress.TotalMB(info))
}

// renderQueue lists queued jobs in start order.
func renderQueue(snapshot *repository.Snapshot) string {
	t := newTable("#", "File", "Status", "Progress", "MiB", "Left", "ETA", "Attempts")

	for i, id := range snapshot.Queue {
		state, ok := snapshot.Jobs[id]
		if !ok {
			continue
		}

		info := state.Info
		t.Row(
			strconv.Itoa(i+1),
			info.Filename,
			styleStatus(info.Status),
			fmt.Sprintf("%.1f%%", progress.Percentage(info)),
			formatSize(info),
			fmt.Sprintf("%.1f", progress.BytesToMB(float64(info.Remaining()))),
			progress.FormatDuration(info.ETASeconds),
			fmt.Sprintf("%d/%d", info.Attempts, info.MaxAttempts),
		)
	}

	return t.String()
}

// renderHistory lists every job outside the queue, most recently ended first.
func renderHistory(snapshot *repository.Snapshot) string {
	queued := make(map[string]struct{}, len(snapshot.Queue))
	for _, id := range snapshot.Queue {
		queued[id] = struct{}{}
	}

	var infos []transfer.Info

	for id, state := range snapshot.Jobs {
		if _, ok := queued[id]; !ok {
			infos = append(infos, state.Info)
		}
	}

	slices.SortFunc(infos, func(a, b transfer.Info) int {
		switch {
		case a.EndedAt == nil && b.EndedAt == nil:
			return cmp.Compare(a.URL, b.URL)
		case a.EndedAt == nil:
			return 1
		case b.EndedAt == nil:
			return -1
		}

		if c := b.EndedAt.Compare(*a.EndedAt); c != 0 {
			return c
		}

		return cmp.Compare(a.URL, b.URL)
	})

	t := newTable("File", "Status", "MiB", "Ended", "Path", "Reason")

	for _, info := range infos {
		t.Row(
			info.Filename,
			styleStatus(info.Status),
			formatSize(info),
			formatTime(info.EndedAt),
			info.Path,
			info.FailReason,
		)
	}

	return t.String()
}

// renderJobs summarises the outcome of the jobs a command waited on.
func renderJobs(jobs []engine.Job) string {
	t := newTable("File", "Status", "MiB", "Time", "Path")

	for _, job := range jobs {
		info := job.Info()
		t.Row(
			info.Filename,
			styleStatus(info.Status),
			formatSize(info),
			progress.FormatDuration(info.ElapsedSeconds),
			info.Path,
		)
	}

	return t.String()
}
