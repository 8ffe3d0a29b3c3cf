package timing

import (
	"testing"
	"time"

	"github.com/mosaicnetworks/roundchain/src/common"
	"github.com/sirupsen/logrus"
)

func newTestTimeService(t *testing.T, minSamples int, maxDrift time.Duration) *TimeService {
	logger := common.NewTestLogger(t, logrus.DebugLevel).WithField("prefix", "time")
	return NewTimeService(minSamples, maxDrift, logger)
}

func fixedClock(ns int64) func() time.Time {
	return func() time.Time { return time.Unix(0, ns) }
}

func TestMedianOddAndEven(t *testing.T) {
	ts := newTestTimeService(t, 1, time.Second)

	ts.AddSample("a", 1000)
	ts.AddSample("b", 2000)
	ts.AddSample("c", 3000)

	if m := ts.MedianNs(); m != 2000 {
		t.Fatalf("median of {1000, 2000, 3000} should be 2000, got %d", m)
	}

	ts.RemoveSample("b")

	if m := ts.MedianNs(); m != 2000 {
		t.Fatalf("median of {1000, 3000} should be 2000, got %d", m)
	}
}

func TestLastWriteWins(t *testing.T) {
	ts := newTestTimeService(t, 1, time.Second)

	ts.AddSample("a", 1000)
	ts.AddSample("a", 5000)

	if ts.SampleCount() != 1 {
		t.Fatalf("SampleCount should be 1, got %d", ts.SampleCount())
	}
	if m := ts.MedianNs(); m != 5000 {
		t.Fatalf("median should be 5000, got %d", m)
	}
}

func TestWallClockFallback(t *testing.T) {
	ts := newTestTimeService(t, 3, time.Second)
	ts.SetClock(fixedClock(42))

	ts.AddSample("a", 1000)
	ts.AddSample("b", 2000)

	if ts.HasSufficientSamples() {
		t.Fatalf("2 samples should be insufficient")
	}
	if m := ts.MedianNs(); m != 42 {
		t.Fatalf("expected wall clock 42, got %d", m)
	}

	ts.AddSample("c", 3000)

	if !ts.HasSufficientSamples() {
		t.Fatalf("3 samples should be sufficient")
	}
	if m := ts.MedianNs(); m != 2000 {
		t.Fatalf("expected median 2000, got %d", m)
	}

	ts.Clear()
	if m := ts.MedianNs(); m != 42 {
		t.Fatalf("expected wall clock after Clear, got %d", m)
	}
}

func TestCheckDrift(t *testing.T) {
	ts := newTestTimeService(t, 2, 100*time.Nanosecond)

	// insufficient samples: anything goes
	if err := ts.CheckDrift(1 << 60); err != nil {
		t.Fatalf("drift check should pass without samples: %v", err)
	}

	ts.AddSample("a", 1000)
	ts.AddSample("b", 1000)

	for _, c := range []struct {
		ns int64
		ok bool
	}{
		{1000, true},
		{1100, true},
		{900, true},
		{1101, false},
		{899, false},
	} {
		err := ts.CheckDrift(c.ns)
		if c.ok && err != nil {
			t.Fatalf("CheckDrift(%d) unexpected error %v", c.ns, err)
		}
		if !c.ok && !common.IsKind(err, common.Timing) {
			t.Fatalf("CheckDrift(%d) should return a Timing error, got %v", c.ns, err)
		}
	}

	if d := ts.Drift(1050); d != 50 {
		t.Fatalf("Drift should be 50, got %d", d)
	}
}

func TestIsSynchronized(t *testing.T) {
	ts := newTestTimeService(t, 3, 100*time.Nanosecond)

	ts.AddSample("a", 1000)
	ts.AddSample("b", 1010)
	ts.AddSample("c", 5000)

	if !ts.IsSynchronized("a") || !ts.IsSynchronized("b") {
		t.Fatalf("a and b should be synchronized")
	}
	if ts.IsSynchronized("c") {
		t.Fatalf("c should not be synchronized")
	}
	if ts.IsSynchronized("unknown") {
		t.Fatalf("unknown validator should not be synchronized")
	}
}

func TestStats(t *testing.T) {
	ts := newTestTimeService(t, 1, time.Second)

	if s := ts.Stats(); s.Count != 0 {
		t.Fatalf("empty stats should have count 0")
	}

	ts.AddSample("a", 1000)
	ts.AddSample("b", 3000)

	s := ts.Stats()
	if s.Count != 2 || s.Min != 1000 || s.Max != 3000 || s.Median != 2000 || s.Mean != 2000 || s.StdDev != 1000 {
		t.Fatalf("unexpected stats %+v", s)
	}
}
