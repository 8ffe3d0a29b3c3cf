package timing

import (
	"math"
	"sync"
	"time"

	"github.com/mosaicnetworks/roundchain/src/common"
	"github.com/sirupsen/logrus"
)

// Stats summarises the current set of samples.
type Stats struct {
	Count   int
	Min     int64
	Max     int64
	Mean    float64
	Median  int64
	StdDev  float64
	Sampled bool
}

// TimeService aggregates per-validator clock samples into a drift-bounded
// synthetic network time.
type TimeService struct {
	sync.RWMutex

	samples    map[string]int64 //validator id => last time sample (ns)
	median     int64
	minSamples int
	maxDrift   time.Duration
	clock      func() time.Time

	logger *logrus.Entry
}

// NewTimeService creates a TimeService that requires minSamples samples
// before the median replaces the local clock, and that accepts timestamps
// within maxDrift of the median.
func NewTimeService(minSamples int, maxDrift time.Duration, logger *logrus.Entry) *TimeService {
	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	ts := &TimeService{
		samples:    make(map[string]int64),
		minSamples: minSamples,
		maxDrift:   maxDrift,
		clock:      time.Now,
		logger:     logger,
	}
	ts.updateMedian()
	return ts
}

// SetClock replaces the local clock. Tests only.
func (ts *TimeService) SetClock(clock func() time.Time) {
	ts.Lock()
	defer ts.Unlock()
	ts.clock = clock
	ts.updateMedian()
}

// AddSample records the latest time reported by a validator. A later sample
// from the same validator replaces the earlier one.
func (ts *TimeService) AddSample(id string, timeNs int64) {
	ts.Lock()
	defer ts.Unlock()

	ts.samples[id] = timeNs
	ts.updateMedian()

	ts.logger.WithFields(logrus.Fields{
		"validator": id,
		"time":      timeNs,
		"median":    ts.median,
	}).Debug("AddSample")
}

// RemoveSample forgets the sample of a validator.
func (ts *TimeService) RemoveSample(id string) {
	ts.Lock()
	defer ts.Unlock()

	delete(ts.samples, id)
	ts.updateMedian()
}

// Clear forgets all samples.
func (ts *TimeService) Clear() {
	ts.Lock()
	defer ts.Unlock()

	ts.samples = make(map[string]int64)
	ts.updateMedian()
}

// updateMedian must be called with the lock held.
func (ts *TimeService) updateMedian() {
	if len(ts.samples) < ts.minSamples {
		ts.median = ts.clock().UnixNano()
		return
	}

	values := make([]int64, 0, len(ts.samples))
	for _, v := range ts.samples {
		values = append(values, v)
	}
	ts.median = common.Median(values)
}

// MedianNs returns the synthetic network time in nanoseconds. Below the
// minimum sample count this is the local wall clock.
func (ts *TimeService) MedianNs() int64 {
	ts.RLock()
	defer ts.RUnlock()

	if len(ts.samples) < ts.minSamples {
		return ts.clock().UnixNano()
	}
	return ts.median
}

// Now returns MedianNs as a time.Time.
func (ts *TimeService) Now() time.Time {
	return time.Unix(0, ts.MedianNs())
}

// HasSufficientSamples reports whether the median is derived from samples
// rather than from the local clock.
func (ts *TimeService) HasSufficientSamples() bool {
	ts.RLock()
	defer ts.RUnlock()
	return len(ts.samples) >= ts.minSamples
}

// SampleCount ...
func (ts *TimeService) SampleCount() int {
	ts.RLock()
	defer ts.RUnlock()
	return len(ts.samples)
}

// MaxDrift ...
func (ts *TimeService) MaxDrift() time.Duration {
	return ts.maxDrift
}

// Drift returns the signed distance between timeNs and the median.
func (ts *TimeService) Drift(timeNs int64) int64 {
	return timeNs - ts.MedianNs()
}

// CheckDrift returns a Timing error if timeNs lies further than the drift
// bound from the median. It always passes while samples are insufficient.
func (ts *TimeService) CheckDrift(timeNs int64) error {
	ts.RLock()
	defer ts.RUnlock()

	if len(ts.samples) < ts.minSamples {
		return nil
	}

	drift := timeNs - ts.median
	if drift < 0 {
		drift = -drift
	}

	if drift > int64(ts.maxDrift) {
		return common.Errf(common.Timing, "time",
			"timestamp %d drifts %s from median %d (bound %s)",
			timeNs, time.Duration(drift), ts.median, ts.maxDrift)
	}

	return nil
}

// IsTimeValid is CheckDrift as a boolean.
func (ts *TimeService) IsTimeValid(timeNs int64) bool {
	return ts.CheckDrift(timeNs) == nil
}

// IsSynchronized reports whether a validator's last sample is within the drift
// bound. Unknown validators are not synchronized.
func (ts *TimeService) IsSynchronized(id string) bool {
	ts.RLock()
	sample, ok := ts.samples[id]
	ts.RUnlock()

	return ok && ts.IsTimeValid(sample)
}

// Samples returns a copy of the current samples.
func (ts *TimeService) Samples() map[string]int64 {
	ts.RLock()
	defer ts.RUnlock()

	res := make(map[string]int64, len(ts.samples))
	for k, v := range ts.samples {
		res[k] = v
	}
	return res
}

// Stats ...
func (ts *TimeService) Stats() Stats {
	ts.RLock()
	defer ts.RUnlock()

	stats := Stats{
		Count:   len(ts.samples),
		Sampled: len(ts.samples) >= ts.minSamples,
	}
	if stats.Count == 0 {
		return stats
	}

	values := make([]int64, 0, len(ts.samples))
	stats.Min = math.MaxInt64
	stats.Max = math.MinInt64
	var sum float64
	for _, v := range ts.samples {
		values = append(values, v)
		if v < stats.Min {
			stats.Min = v
		}
		if v > stats.Max {
			stats.Max = v
		}
		sum += float64(v)
	}

	stats.Mean = sum / float64(stats.Count)
	stats.Median = common.Median(values)

	var variance float64
	for _, v := range values {
		d := float64(v) - stats.Mean
		variance += d * d
	}
	stats.StdDev = math.Sqrt(variance / float64(stats.Count))

	return stats
}
