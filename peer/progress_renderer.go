package peer

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
)

// ANSI color codes for terminal output
const (
	Reset  = "\033[0m"
	Red    = "\033[31m"
	Green  = "\033[32m"
	Yellow = "\033[33m"
	Blue   = "\033[34m"
	Cyan   = "\033[36m"
	Bold   = "\033[1m"
)

// ProgressRenderer draws a single-line progress bar for one transfer
type ProgressRenderer struct {
	tracker     *TransferTracker
	out         io.Writer
	stopChan    chan struct{}
	finished    chan struct{}
	refreshRate time.Duration
	useColors   bool
	width       int
}

// NewProgressRenderer creates a renderer writing to out
func NewProgressRenderer(tracker *TransferTracker, out io.Writer, useColors bool) *ProgressRenderer {
	return &ProgressRenderer{
		tracker:     tracker,
		out:         out,
		stopChan:    make(chan struct{}),
		finished:    make(chan struct{}),
		refreshRate: 200 * time.Millisecond,
		useColors:   useColors,
		width:       40, // Progress bar width
	}
}

// SetRefreshRate sets the refresh rate for the progress bar
func (pr *ProgressRenderer) SetRefreshRate(rate time.Duration) {
	pr.refreshRate = rate
}

// SetWidth sets the width of the progress bar
func (pr *ProgressRenderer) SetWidth(width int) {
	pr.width = width
}

// Start runs the render loop until the tracker finishes or Stop is called,
// then draws the final line.
func (pr *ProgressRenderer) Start() {
	defer close(pr.finished)
	pr.Render()

	ticker := time.NewTicker(pr.refreshRate)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			pr.tracker.UpdateSpeed()
			pr.Render()
		case <-pr.tracker.Done():
			pr.renderOutcome()
			return
		case <-pr.stopChan:
			pr.renderOutcome()
			return
		}
	}
}

// Stop signals the renderer to stop (does not wait for completion)
func (pr *ProgressRenderer) Stop() {
	select {
	case <-pr.stopChan:
	default:
		close(pr.stopChan)
	}
}

// Wait blocks until the final line has been drawn
func (pr *ProgressRenderer) Wait() {
	<-pr.finished
}

// StopAndWait stops the renderer and waits for the final render
func (pr *ProgressRenderer) StopAndWait() {
	pr.Stop()
	pr.Wait()
}

func (pr *ProgressRenderer) renderOutcome() {
	switch pr.tracker.State() {
	case TransferCompleted:
		pr.RenderFinal()
	case TransferFailed:
		pr.RenderError()
	default:
		fmt.Fprintln(pr.out)
	}
}

// Render renders the current progress
func (pr *ProgressRenderer) Render() {
	p := pr.tracker.Progress()
	percent := p.Fraction() * 100
	bar := pr.bar(p.Fraction())
	speedStr := formatBytes(pr.tracker.Speed())
	etaStr := formatETA(pr.tracker.ETA())
	sizes := fmt.Sprintf("%s/%s", formatBytes(float64(p.BytesTransferred)), formatBytes(float64(p.TotalBytes)))

	var line string
	if pr.useColors {
		line = fmt.Sprintf("\r%s[%s %s]%s [%s]%s %.1f%%%s %s | %s/s | ETA: %s",
			Cyan, pr.tracker.Direction, pr.tracker.FileName, Reset,
			Green+bar+Reset,
			Yellow, percent, Reset, sizes,
			Blue+speedStr+Reset, etaStr,
		)
	} else {
		line = fmt.Sprintf("\r[%s %s] [%s] %.1f%% %s | %s/s | ETA: %s",
			pr.tracker.Direction, pr.tracker.FileName, bar, percent, sizes,
			speedStr, etaStr,
		)
	}

	fmt.Fprint(pr.out, line)
}

// RenderFinal renders the final completed state
func (pr *ProgressRenderer) RenderFinal() {
	p := pr.tracker.Progress()
	elapsed := pr.tracker.Elapsed()

	// Clear the previous line completely
	fmt.Fprint(pr.out, "\r\033[K")

	if pr.useColors {
		fmt.Fprintf(pr.out, "%s[%s %s]%s [%s]%s 100%% %s%s | Completed in %s\n",
			Cyan, pr.tracker.Direction, pr.tracker.FileName, Reset,
			Green+strings.Repeat("█", pr.width)+Reset,
			Green, formatBytes(float64(p.TotalBytes)), Reset,
			formatDuration(elapsed),
		)
		return
	}
	fmt.Fprintf(pr.out, "[%s %s] [%s] 100%% %s | Completed in %s\n",
		pr.tracker.Direction, pr.tracker.FileName, strings.Repeat("█", pr.width),
		formatBytes(float64(p.TotalBytes)), formatDuration(elapsed),
	)
}

// RenderError renders an error state
func (pr *ProgressRenderer) RenderError() {
	fmt.Fprint(pr.out, "\r\033[K")

	p := pr.tracker.Progress()
	reason := "unknown error"
	if err := pr.tracker.Err(); err != nil {
		reason = err.Error()
	}

	if pr.useColors {
		fmt.Fprintf(pr.out, "%s[%s %s]%s [%s] %.1f%% | %s%sTransfer failed%s: %s\n",
			Cyan, pr.tracker.Direction, pr.tracker.FileName, Reset,
			Red+"✗"+Reset,
			p.Fraction()*100,
			Red, Bold, Reset, reason,
		)
		return
	}
	fmt.Fprintf(pr.out, "[%s %s] [✗] %.1f%% | Transfer failed: %s\n",
		pr.tracker.Direction, pr.tracker.FileName, p.Fraction()*100, reason,
	)
}

func (pr *ProgressRenderer) bar(fraction float64) string {
	filled := int(float64(pr.width) * fraction)
	if filled > pr.width {
		filled = pr.width
	}
	return strings.Repeat("█", filled) + strings.Repeat("░", pr.width-filled)
}

// formatBytes formats a byte count into a human-readable string
func formatBytes(bytes float64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%.1f B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", bytes/float64(div), "KMGTPE"[exp])
}

// formatETA formats an estimated time into a human-readable string
func formatETA(eta time.Duration) string {
	if eta <= 0 {
		return "∞"
	}
	return formatDuration(eta)
}

// formatDuration formats a duration into a human-readable string
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return "<1s"
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", d/time.Second)
	}
	if d < time.Hour {
		mins := d / time.Minute
		secs := (d % time.Minute) / time.Second
		return fmt.Sprintf("%dm%ds", mins, secs)
	}
	hours := d / time.Hour
	mins := (d % time.Hour) / time.Minute
	return fmt.Sprintf("%dh%dm", hours, mins)
}

// IsTerminalSupported reports whether stdout is a terminal that handles ANSI codes
func IsTerminalSupported() bool {
	fd := os.Stdout.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
