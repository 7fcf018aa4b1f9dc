package peer

import (
	"sync"
	"time"

	"linkbeam/pkg/protocol"
)

// Direction of a transfer relative to this node
type Direction int

const (
	Outbound Direction = iota
	Inbound
)

func (d Direction) String() string {
	if d == Inbound {
		return "receive"
	}
	return "send"
}

// TransferState represents the current state of a transfer
type TransferState int

const (
	TransferPending TransferState = iota
	TransferActive
	TransferCompleted
	TransferFailed
)

// String returns a string representation of the transfer state
func (s TransferState) String() string {
	switch s {
	case TransferPending:
		return "pending"
	case TransferActive:
		return "active"
	case TransferCompleted:
		return "completed"
	case TransferFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Icon returns an icon representation of the transfer state
func (s TransferState) Icon() string {
	switch s {
	case TransferPending:
		return "⏳"
	case TransferActive:
		return "↕"
	case TransferCompleted:
		return "✓"
	case TransferFailed:
		return "✗"
	default:
		return "?"
	}
}

// TransferTracker tracks the progress of one file moving in either direction
type TransferTracker struct {
	mu        sync.RWMutex
	Direction Direction
	FileName  string
	Remote    string

	state      TransferState
	totalBytes int64
	bytesDone  int64
	startTime  time.Time
	endTime    time.Time
	err        error
	done       chan struct{}

	reportedPercent int

	// Speed calculation
	lastBytes    int64
	lastTime     time.Time
	currentSpeed float64 // bytes/sec

	now func() time.Time
}

// NewTransferTracker creates a pending tracker; the clock starts on the first Update.
func NewTransferTracker(dir Direction, fileName, remote string, totalBytes int64) *TransferTracker {
	return newTrackerWithClock(dir, fileName, remote, totalBytes, time.Now)
}

func newTrackerWithClock(dir Direction, fileName, remote string, totalBytes int64, now func() time.Time) *TransferTracker {
	start := now()
	return &TransferTracker{
		Direction:  dir,
		FileName:   fileName,
		Remote:     remote,
		totalBytes: totalBytes,
		startTime:  start,
		lastTime:   start,
		done:       make(chan struct{}),
		now:        now,

		reportedPercent: -1,
	}
}

// Update records progress and reports whether the whole percentage moved
// since the last reported value. Counts never move backwards.
func (t *TransferTracker) Update(transferred, total int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == TransferCompleted || t.state == TransferFailed {
		return false
	}
	t.state = TransferActive
	if total > 0 {
		t.totalBytes = total
	}
	if transferred > t.bytesDone {
		t.bytesDone = transferred
	}

	percent := int(protocol.Progress{BytesTransferred: t.bytesDone, TotalBytes: t.totalBytes}.Fraction() * 100)
	if percent <= t.reportedPercent {
		return false
	}
	t.reportedPercent = percent
	return true
}

// UpdateSpeed recalculates the current speed at most every half second
func (t *TransferTracker) UpdateSpeed() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	elapsed := now.Sub(t.lastTime).Seconds()

	if elapsed >= 0.5 {
		t.currentSpeed = float64(t.bytesDone-t.lastBytes) / elapsed
		t.lastBytes = t.bytesDone
		t.lastTime = now
	}

	return t.currentSpeed
}

// Progress returns the current byte counts
func (t *TransferTracker) Progress() protocol.Progress {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return protocol.Progress{BytesTransferred: t.bytesDone, TotalBytes: t.totalBytes}
}

func (t *TransferTracker) Speed() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.currentSpeed
}

// ETA returns the estimated time remaining, or 0 when unknown
func (t *TransferTracker) ETA() time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()

	remaining := t.totalBytes - t.bytesDone
	if t.currentSpeed <= 0 || remaining <= 0 {
		return 0
	}
	return time.Duration(float64(remaining) / t.currentSpeed * float64(time.Second))
}

// Elapsed returns the time since the tracker was created, frozen once finished
func (t *TransferTracker) Elapsed() time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if !t.endTime.IsZero() {
		return t.endTime.Sub(t.startTime)
	}
	return t.now().Sub(t.startTime)
}

func (t *TransferTracker) State() TransferState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// Err is the failure reason once the tracker is failed
func (t *TransferTracker) Err() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.err
}

// Done is closed when the transfer completes or fails
func (t *TransferTracker) Done() <-chan struct{} {
	return t.done
}

// MarkComplete marks the transfer as complete
func (t *TransferTracker) MarkComplete() {
	t.finish(TransferCompleted, nil)
}

// MarkFailed marks the transfer as failed with err
func (t *TransferTracker) MarkFailed(err error) {
	t.finish(TransferFailed, err)
}

func (t *TransferTracker) finish(state TransferState, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == TransferCompleted || t.state == TransferFailed {
		return
	}
	t.state = state
	t.err = err
	t.endTime = t.now()
	if state == TransferCompleted {
		t.bytesDone = t.totalBytes
	}
	close(t.done)
}
