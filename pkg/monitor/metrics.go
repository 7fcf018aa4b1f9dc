package monitor

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	"linkbeam/pkg/logger"
)

// Metrics counts transfers for one node. All methods are safe for concurrent use.
type Metrics struct {
	bytesSent     atomic.Int64
	bytesReceived atomic.Int64
	filesSent     atomic.Int64
	filesReceived atomic.Int64
	failures      atomic.Int64

	start time.Time
	now   func() time.Time
}

// Snapshot is a point-in-time copy of the counters
type Snapshot struct {
	BytesSent     int64
	BytesReceived int64
	FilesSent     int64
	FilesReceived int64
	Failures      int64
	Uptime        time.Duration
}

// Throughput in MB/s averaged over the uptime
func (s Snapshot) Throughput() float64 {
	secs := s.Uptime.Seconds()
	if secs <= 0 {
		return 0
	}
	return float64(s.BytesSent+s.BytesReceived) / secs / 1024 / 1024
}

func New() *Metrics {
	return newWithClock(time.Now)
}

func newWithClock(now func() time.Time) *Metrics {
	return &Metrics{start: now(), now: now}
}

// RecordSent records a completed outbound file
func (m *Metrics) RecordSent(bytes int64, duration time.Duration) {
	m.bytesSent.Add(bytes)
	m.filesSent.Add(1)
	logTransfer("sent", bytes, duration)
}

// RecordReceived records a completed inbound file
func (m *Metrics) RecordReceived(bytes int64, duration time.Duration) {
	m.bytesReceived.Add(bytes)
	m.filesReceived.Add(1)
	logTransfer("received", bytes, duration)
}

func (m *Metrics) RecordFailed() {
	m.failures.Add(1)
}

func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		BytesSent:     m.bytesSent.Load(),
		BytesReceived: m.bytesReceived.Load(),
		FilesSent:     m.filesSent.Load(),
		FilesReceived: m.filesReceived.Load(),
		Failures:      m.failures.Load(),
		Uptime:        m.now().Sub(m.start),
	}
}

// LogPeriodic logs runtime and transfer metrics every interval until ctx is done.
func (m *Metrics) LogPeriodic(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		s := m.Snapshot()

		logger.Sugar.Infof("[Metrics] Goroutines=%d | HeapAlloc=%dMB | HeapSys=%dMB | Throughput=%.2fMB/s | Sent=%d | Received=%d | Failed=%d",
			runtime.NumGoroutine(),
			ms.HeapAlloc/1024/1024,
			ms.HeapSys/1024/1024,
			s.Throughput(),
			s.FilesSent,
			s.FilesReceived,
			s.Failures,
		)
	}
}

func logTransfer(direction string, bytes int64, duration time.Duration) {
	secs := duration.Seconds()
	var speed float64
	if secs > 0 {
		speed = float64(bytes) / secs / 1024 / 1024
	}
	logger.Sugar.Infof("[Transfer] %s Size=%dKB | Duration=%.2fs | Speed=%.2fMB/s",
		direction, bytes/1024, secs, speed)
}
