package main

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// SimpleProgress returns a callback that prints a single updating status
// line to stderr.
func SimpleProgress() ProgressFunc {
	return func(s ProgressSnapshot) {
		fmt.Fprintf(os.Stderr, "\rProgress: %d/%d (%.1f%%) - Success: %d, Failed: %d",
			s.Completed, s.Total, s.Percentage, s.Succeeded, s.Failed)
		if s.Completed == s.Total {
			fmt.Fprintln(os.Stderr)
		}
	}
}

// DetailedProgress returns a callback that also shows parse failures and the
// URL currently in flight.
func DetailedProgress() ProgressFunc {
	return func(s ProgressSnapshot) {
		stats := fmt.Sprintf("ok %d, failed %d", s.Succeeded, s.Failed)
		if s.ParseFailed > 0 {
			stats += fmt.Sprintf(", parse failed %d", s.ParseFailed)
		}
		line := fmt.Sprintf("\rProgress: %d/%d (%.1f%%) | %s", s.Completed, s.Total, s.Percentage, stats)
		if s.CurrentURL != "" {
			line += " | " + truncateURL(s.CurrentURL, 50)
		}
		fmt.Fprint(os.Stderr, line)
		if s.Completed == s.Total {
			fmt.Fprintln(os.Stderr)
		}
	}
}

// ProgressBar renders a visual progress bar with optional stats and the
// in-flight URL. Use its Update method as the progress callback.
type ProgressBar struct {
	Width     int
	ShowStats bool
	ShowURL   bool

	start time.Time
}

// NewProgressBar creates a bar of the given width showing run statistics.
func NewProgressBar(width int) *ProgressBar {
	if width <= 0 {
		width = 50
	}
	return &ProgressBar{Width: width, ShowStats: true}
}

// Update renders the bar for one snapshot.
func (b *ProgressBar) Update(s ProgressSnapshot) {
	if s.Completed == 0 {
		b.start = time.Now()
	}

	filled := int(float64(b.Width) * s.Percentage / 100)
	bar := strings.Repeat("#", filled) + strings.Repeat("-", b.Width-filled)

	elapsed := time.Since(b.start)
	eta := ""
	if s.Completed > 0 && s.Completed < s.Total {
		remaining := time.Duration(float64(elapsed) / float64(s.Completed) * float64(s.Total-s.Completed))
		eta = fmt.Sprintf(" ETA: %s", remaining.Round(time.Second))
	}

	line := fmt.Sprintf("\r[%s] %.1f%%%s", bar, s.Percentage, eta)
	if b.ShowStats {
		line += fmt.Sprintf(" | ok %d, failed %d", s.Succeeded, s.Failed)
		if s.ParseFailed > 0 {
			line += fmt.Sprintf(", parse failed %d", s.ParseFailed)
		}
	}
	if b.ShowURL && s.CurrentURL != "" {
		line += " | " + truncateURL(s.CurrentURL, 30)
	}
	fmt.Fprint(os.Stderr, line)

	if s.Completed == s.Total {
		fmt.Fprintf(os.Stderr, "\nCompleted in %s\n", elapsed.Round(100*time.Millisecond))
	}
}

func truncateURL(url string, max int) string {
	if len(url) <= max {
		return url
	}
	return url[:max-3] + "..."
}
