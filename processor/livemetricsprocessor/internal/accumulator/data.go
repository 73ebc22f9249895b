// Copyright New Relic, Inc. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package accumulator // import "github.com/newrelic/nrdot-livemetrics/processor/livemetricsprocessor/internal/accumulator"

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/newrelic/nrdot-livemetrics/processor/livemetricsprocessor/internal/filtering"
	"github.com/newrelic/nrdot-livemetrics/processor/livemetricsprocessor/internal/telemetry"
)

// A count and a total duration share one int64 so both are updated in a single atomic
// operation. The count lives in the upper bits and the duration, in microseconds, in the
// lower bits.
const (
	durationBits = 39
	durationMask = int64(1)<<durationBits - 1

	// MaxCount is the largest count a packed word holds.
	MaxCount = int64(1)<<(63-durationBits) - 1
	// MaxDuration is the largest total duration a packed word holds.
	MaxDuration = time.Duration(durationMask) * time.Microsecond
)

// EncodeCountAndDuration packs a count and a total duration. The duration is clamped to
// [0, MaxDuration].
func EncodeCountAndDuration(count int64, d time.Duration) int64 {
	d = min(max(d, 0), MaxDuration)
	return count<<durationBits | d.Microseconds()
}

// DecodeCountAndDuration unpacks a value built by EncodeCountAndDuration.
func DecodeCountAndDuration(packed int64) (count int64, d time.Duration) {
	return packed >> durationBits, time.Duration(packed&durationMask) * time.Microsecond
}

// addCountAndDuration adds one call lasting d to word. A word that would overflow either
// field keeps its value, so it saturates instead of wrapping.
func addCountAndDuration(word *atomic.Int64, d time.Duration) {
	delta := EncodeCountAndDuration(1, d)
	for {
		old := word.Load()
		if old>>durationBits >= MaxCount || old&durationMask+delta&durationMask > durationMask {
			return
		}
		if word.CompareAndSwap(old, old+delta) {
			return
		}
	}
}

// Document is a captured telemetry record with the ids of every stream that accepted it.
type Document struct {
	Record    telemetry.Record
	StreamIDs []string
}

// DataAccumulator is the state collected over one reporting cycle.
type DataAccumulator struct {
	startTimestamp time.Time
	endTimestamp   atomic.Pointer[time.Time]

	requestCountAndDuration    atomic.Int64
	requestsSucceeded          atomic.Int64
	requestsFailed             atomic.Int64
	dependencyCountAndDuration atomic.Int64
	dependenciesSucceeded      atomic.Int64
	dependenciesFailed         atomic.Int64
	exceptions                 atomic.Int64

	globalDocumentQuotaReached atomic.Bool

	docsMu    sync.Mutex
	documents []Document

	countersMu sync.Mutex
	counters   map[string]float64

	metrics *CollectionConfigurationAccumulator
}

// NewDataAccumulator starts a cycle at start for the given configuration.
func NewDataAccumulator(start time.Time, config *filtering.CollectionConfiguration) *DataAccumulator {
	return &DataAccumulator{
		startTimestamp: start,
		metrics:        NewCollectionConfigurationAccumulator(config),
	}
}

// StartTimestamp returns the beginning of the cycle.
func (d *DataAccumulator) StartTimestamp() time.Time { return d.startTimestamp }

// EndTimestamp returns the end of the cycle. ok is false while the accumulator is current.
func (d *DataAccumulator) EndTimestamp() (end time.Time, ok bool) {
	if p := d.endTimestamp.Load(); p != nil {
		return *p, true
	}
	return time.Time{}, false
}

func (d *DataAccumulator) setEndTimestamp(t time.Time) { d.endTimestamp.Store(&t) }

// Metrics returns the operationalized metric values of the cycle.
func (d *DataAccumulator) Metrics() *CollectionConfigurationAccumulator { return d.metrics }

// AddRequest counts a request. A nil success counts toward neither outcome.
func (d *DataAccumulator) AddRequest(duration time.Duration, success *bool) {
	addCountAndDuration(&d.requestCountAndDuration, duration)
	countOutcome(success, &d.requestsSucceeded, &d.requestsFailed)
}

// AddDependency counts a dependency call. A nil success counts toward neither outcome.
func (d *DataAccumulator) AddDependency(duration time.Duration, success *bool) {
	addCountAndDuration(&d.dependencyCountAndDuration, duration)
	countOutcome(success, &d.dependenciesSucceeded, &d.dependenciesFailed)
}

func countOutcome(success *bool, succeeded, failed *atomic.Int64) {
	switch {
	case success == nil:
	case *success:
		succeeded.Add(1)
	default:
		failed.Add(1)
	}
}

// AddException counts an exception.
func (d *DataAccumulator) AddException() { d.exceptions.Add(1) }

// Requests returns the request count, total duration and outcome counts.
func (d *DataAccumulator) Requests() (count int64, total time.Duration, succeeded, failed int64) {
	count, total = DecodeCountAndDuration(d.requestCountAndDuration.Load())
	return count, total, d.requestsSucceeded.Load(), d.requestsFailed.Load()
}

// Dependencies returns the dependency call count, total duration and outcome counts.
func (d *DataAccumulator) Dependencies() (count int64, total time.Duration, succeeded, failed int64) {
	count, total = DecodeCountAndDuration(d.dependencyCountAndDuration.Load())
	return count, total, d.dependenciesSucceeded.Load(), d.dependenciesFailed.Load()
}

// Exceptions returns the exception count.
func (d *DataAccumulator) Exceptions() int64 { return d.exceptions.Load() }

// AddDocument captures a document for the cycle.
func (d *DataAccumulator) AddDocument(doc Document) {
	d.docsMu.Lock()
	d.documents = append(d.documents, doc)
	d.docsMu.Unlock()
}

// Documents returns a copy of the captured documents in arrival order.
func (d *DataAccumulator) Documents() []Document {
	d.docsMu.Lock()
	defer d.docsMu.Unlock()
	return slices.Clone(d.documents)
}

// MarkGlobalDocumentQuotaReached records that a document was dropped by the global quota.
func (d *DataAccumulator) MarkGlobalDocumentQuotaReached() { d.globalDocumentQuotaReached.Store(true) }

// GlobalDocumentQuotaReached reports whether any document was dropped by the global quota.
func (d *DataAccumulator) GlobalDocumentQuotaReached() bool { return d.globalDocumentQuotaReached.Load() }

// SetPerformanceCounter records the latest value observed for a counter name.
func (d *DataAccumulator) SetPerformanceCounter(name string, v float64) {
	d.countersMu.Lock()
	if d.counters == nil {
		d.counters = make(map[string]float64)
	}
	d.counters[name] = v
	d.countersMu.Unlock()
}

// PerformanceCounter returns the latest value recorded for name in this cycle.
func (d *DataAccumulator) PerformanceCounter(name string) (float64, bool) {
	d.countersMu.Lock()
	defer d.countersMu.Unlock()
	v, ok := d.counters[name]
	return v, ok
}
