package monitor

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMetricsCounters(t *testing.T) {
	base := time.Unix(1000, 0)
	now := base
	m := newWithClock(func() time.Time { return now })

	m.RecordSent(1024*1024, time.Second)
	m.RecordReceived(1024*1024, time.Second)
	m.RecordReceived(10, 0)
	m.RecordFailed()

	now = base.Add(2 * time.Second)
	s := m.Snapshot()
	if s.BytesSent != 1024*1024 || s.FilesSent != 1 {
		t.Fatalf("unexpected sent counters %+v", s)
	}
	if s.BytesReceived != 1024*1024+10 || s.FilesReceived != 2 {
		t.Fatalf("unexpected received counters %+v", s)
	}
	if s.Failures != 1 {
		t.Fatalf("failures=%d", s.Failures)
	}
	if s.Uptime != 2*time.Second {
		t.Fatalf("uptime=%s", s.Uptime)
	}
	if tp := s.Throughput(); tp < 1.0 || tp > 1.01 {
		t.Fatalf("throughput=%.3f", tp)
	}
}

func TestMetricsConcurrentRecords(t *testing.T) {
	m := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.RecordSent(2, 0)
		}()
	}
	wg.Wait()

	if s := m.Snapshot(); s.FilesSent != 50 || s.BytesSent != 100 {
		t.Fatalf("unexpected snapshot %+v", s)
	}
}

func TestLogPeriodicStopsOnCancel(t *testing.T) {
	m := New()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.LogPeriodic(ctx, 5*time.Millisecond)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("LogPeriodic did not return after cancel")
	}
}
