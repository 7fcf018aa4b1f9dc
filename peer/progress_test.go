package peer

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestTrackerProgressAndSpeed(t *testing.T) {
	clock := time.Unix(0, 0)
	tr := newTrackerWithClock(Outbound, "a.bin", "1.2.3.4:5", 4096, func() time.Time { return clock })

	if tr.State() != TransferPending {
		t.Fatalf("state=%s", tr.State())
	}

	tr.Update(1024, 4096)
	clock = clock.Add(time.Second)
	if speed := tr.UpdateSpeed(); speed != 1024 {
		t.Fatalf("speed=%v", speed)
	}
	if eta := tr.ETA(); eta != 3*time.Second {
		t.Fatalf("eta=%s", eta)
	}

	// Counts never go backwards.
	tr.Update(512, 4096)
	if p := tr.Progress(); p.BytesTransferred != 1024 {
		t.Fatalf("progress regressed to %d", p.BytesTransferred)
	}
	if tr.State() != TransferActive {
		t.Fatalf("state=%s", tr.State())
	}

	clock = clock.Add(time.Second)
	tr.MarkComplete()
	select {
	case <-tr.Done():
	default:
		t.Fatalf("done not closed")
	}
	if p := tr.Progress(); p.BytesTransferred != 4096 {
		t.Fatalf("complete tracker should report full size, got %d", p.BytesTransferred)
	}
	if tr.Elapsed() != 2*time.Second {
		t.Fatalf("elapsed=%s", tr.Elapsed())
	}

	// Finished trackers ignore further updates.
	tr.MarkFailed(errors.New("late"))
	if tr.State() != TransferCompleted || tr.Err() != nil {
		t.Fatalf("finished tracker changed: %s %v", tr.State(), tr.Err())
	}
}

func TestTrackerSpeedSampledEveryHalfSecond(t *testing.T) {
	clock := time.Unix(0, 0)
	tr := newTrackerWithClock(Inbound, "b", "", 100, func() time.Time { return clock })

	tr.Update(50, 100)
	clock = clock.Add(100 * time.Millisecond)
	if speed := tr.UpdateSpeed(); speed != 0 {
		t.Fatalf("speed sampled too early: %v", speed)
	}
	if tr.ETA() != 0 {
		t.Fatalf("eta should be unknown without speed")
	}
}

func TestRendererDrawsFinalLine(t *testing.T) {
	tr := NewTransferTracker(Inbound, "photo.jpg", "peer", 2048)
	var out bytes.Buffer
	r := NewProgressRenderer(tr, &out, false)
	r.SetRefreshRate(5 * time.Millisecond)

	go r.Start()
	tr.Update(1024, 2048)
	time.Sleep(20 * time.Millisecond)
	tr.MarkComplete()
	r.Wait()

	s := out.String()
	if !strings.Contains(s, "[receive photo.jpg]") {
		t.Fatalf("missing label in %q", s)
	}
	if !strings.Contains(s, "100% 2.0 KB | Completed in") {
		t.Fatalf("missing final line in %q", s)
	}
}

func TestRendererDrawsFailure(t *testing.T) {
	tr := NewTransferTracker(Outbound, "x.txt", "peer", 10)
	var out bytes.Buffer
	r := NewProgressRenderer(tr, &out, false)

	go r.Start()
	tr.MarkFailed(errors.New("connection reset"))
	r.Wait()

	if s := out.String(); !strings.Contains(s, "Transfer failed: connection reset") {
		t.Fatalf("missing failure line in %q", s)
	}
}

func TestRendererStopAndWaitIsIdempotent(t *testing.T) {
	tr := NewTransferTracker(Outbound, "x.txt", "peer", 10)
	var out bytes.Buffer
	r := NewProgressRenderer(tr, &out, true)

	go r.Start()
	r.StopAndWait()
	r.Stop()
}

func TestFormatHelpers(t *testing.T) {
	cases := map[float64]string{
		512:             "512.0 B",
		2048:            "2.0 KB",
		5 * 1024 * 1024: "5.0 MB",
	}
	for in, want := range cases {
		if got := formatBytes(in); got != want {
			t.Fatalf("formatBytes(%v)=%q want %q", in, got, want)
		}
	}

	if got := formatETA(0); got != "∞" {
		t.Fatalf("formatETA(0)=%q", got)
	}
	if got := formatDuration(90 * time.Second); got != "1m30s" {
		t.Fatalf("formatDuration=%q", got)
	}
	if got := formatDuration(2*time.Hour + 5*time.Minute); got != "2h5m" {
		t.Fatalf("formatDuration=%q", got)
	}
}

func TestTrackerUpdateReportsWholePercentSteps(t *testing.T) {
	tr := NewTransferTracker(Inbound, "c.bin", "", 1000)

	if !tr.Update(5, 1000) {
		t.Fatalf("first update should report")
	}
	if tr.Update(9, 1000) {
		t.Fatalf("update within the same percent should not report")
	}
	if !tr.Update(10, 1000) {
		t.Fatalf("crossing into 1%% should report")
	}
	if tr.Update(8, 1000) {
		t.Fatalf("regressed count should not report")
	}
	if !tr.Update(1000, 1000) {
		t.Fatalf("final update should report")
	}
	if tr.Update(1000, 1000) {
		t.Fatalf("repeated final update should not report")
	}
}
