package status

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"fieldsync/internal/engine"
)

// DefaultInterval matches the refresh rate of the status panel
const DefaultInterval = 10 * time.Second

// Display periodically prints the sync status
type Display struct {
	reporter *Reporter
	tally    *Tally
	interval time.Duration
	out      io.Writer
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewDisplay creates a display writing to stdout. tally may be nil.
func NewDisplay(reporter *Reporter, tally *Tally, interval time.Duration) *Display {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Display{
		reporter: reporter,
		tally:    tally,
		interval: interval,
		out:      os.Stdout,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start starts the display loop
func (d *Display) Start(ctx context.Context) {
	go d.displayLoop(ctx)
}

// Stop stops the display and prints a final summary
func (d *Display) Stop() {
	close(d.stopCh)
	<-d.doneCh
}

func (d *Display) displayLoop(ctx context.Context) {
	defer close(d.doneCh)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.render(ctx)
	for {
		select {
		case <-ticker.C:
			d.render(ctx)
		case <-ctx.Done():
			d.finalDisplay()
			return
		case <-d.stopCh:
			d.finalDisplay()
			return
		}
	}
}

func (d *Display) render(ctx context.Context) {
	st, err := d.reporter.Status(ctx)
	if err != nil {
		fmt.Fprintf(d.out, "status unavailable: %v\n", err)
		return
	}
	fmt.Fprintln(d.out, strings.Join(Lines(st, time.Now()), "\n"))
}

func (d *Display) finalDisplay() {
	if d.tally == nil {
		return
	}
	fmt.Fprintln(d.out, strings.Join(SummaryLines(d.tally.Totals(), time.Now()), "\n"))
}

// Lines renders st as human readable lines
func Lines(st Status, now time.Time) []string {
	lines := make([]string, 0, 8)

	connectivity := "offline"
	if st.IsOnline {
		connectivity = "online"
	}

	lines = append(lines, "")
	lines = append(lines, "Sync status")
	lines = append(lines, strings.Repeat("=", 40))
	lines = append(lines, fmt.Sprintf("  Connectivity: %s", connectivity))
	lines = append(lines, fmt.Sprintf("  Pending:      %d", st.QueueCount))
	lines = append(lines, fmt.Sprintf("  Failed:       %d", st.FailedCount))

	if st.LastSync == nil {
		lines = append(lines, "  Last sync:    never")
	} else {
		last := time.UnixMilli(*st.LastSync)
		lines = append(lines, fmt.Sprintf("  Last sync:    %s (%s ago)",
			last.Format("15:04:05"), FormatDuration(now.Sub(last))))
	}

	return lines
}

// SummaryLines renders the totals accumulated during a run
func SummaryLines(t Totals, now time.Time) []string {
	return []string{
		"",
		"Sync summary",
		strings.Repeat("=", 40),
		fmt.Sprintf("  Drains:    %d (offline %d, errors %d)", t.Drains, t.OfflineRuns, t.Errors),
		fmt.Sprintf("  Synced:    %d", t.Succeeded),
		fmt.Sprintf("  Retried:   %d", t.Retried),
		fmt.Sprintf("  Dropped:   %d", t.Dropped),
		fmt.Sprintf("  Uptime:    %s", FormatDuration(now.Sub(t.StartTime))),
		"",
	}
}

// FormatDuration formats duration in human readable format
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return "0s"
	}

	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if hours > 0 {
		return fmt.Sprintf("%dh%dm%ds", hours, minutes, seconds)
	} else if minutes > 0 {
		return fmt.Sprintf("%dm%ds", minutes, seconds)
	} else {
		return fmt.Sprintf("%ds", seconds)
	}
}

// IsTerminalSupported checks if stdout is a terminal
func IsTerminalSupported() bool {
	fileInfo, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return fileInfo.Mode()&os.ModeCharDevice != 0
}

func isOffline(err error) bool {
	return errors.Is(err, engine.ErrOffline)
}
