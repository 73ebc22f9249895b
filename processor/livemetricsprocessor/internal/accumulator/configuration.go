// Copyright New Relic, Inc. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package accumulator holds the mutable per-cycle state that concurrent producers
// write into while a single sender periodically swaps it out.
package accumulator // import "github.com/newrelic/nrdot-livemetrics/processor/livemetricsprocessor/internal/accumulator"

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/newrelic/nrdot-livemetrics/processor/livemetricsprocessor/internal/filtering"
)

type valueList struct {
	mu     sync.Mutex
	values []float64
}

// CollectionConfigurationAccumulator collects the projected values of every operationalized
// metric of one configuration over one cycle.
type CollectionConfigurationAccumulator struct {
	config *filtering.CollectionConfiguration
	values map[filtering.MetricIdentity]*valueList
	refs   atomic.Int64
}

// NewCollectionConfigurationAccumulator creates an empty value list for every metric of config.
// The set of lists is fixed, so lookups need no lock.
func NewCollectionConfigurationAccumulator(config *filtering.CollectionConfiguration) *CollectionConfigurationAccumulator {
	if config == nil {
		config = filtering.Empty()
	}
	rows := config.MetricMetadata()
	a := &CollectionConfigurationAccumulator{
		config: config,
		values: make(map[filtering.MetricIdentity]*valueList, len(rows)),
	}
	for _, row := range rows {
		a.values[row.Identity] = &valueList{}
	}
	return a
}

// Configuration returns the configuration the accumulator was created for.
func (a *CollectionConfigurationAccumulator) Configuration() *filtering.CollectionConfiguration {
	return a.config
}

// Acquire marks the start of a write. The returned release must be called exactly when the
// write is done, normally with defer; calling it more than once has no further effect.
func (a *CollectionConfigurationAccumulator) Acquire() (release func()) {
	a.refs.Add(1)
	return sync.OnceFunc(func() { a.refs.Add(-1) })
}

// ReferenceCount returns the number of writes in flight.
func (a *CollectionConfigurationAccumulator) ReferenceCount() int64 {
	return a.refs.Load()
}

// AddValue appends a value for the metric. It reports false when the metric is not part
// of the configuration.
func (a *CollectionConfigurationAccumulator) AddValue(id filtering.MetricIdentity, v float64) bool {
	l, ok := a.values[id]
	if !ok {
		return false
	}
	l.mu.Lock()
	l.values = append(l.values, v)
	l.mu.Unlock()
	return true
}

// Values returns a copy of the values collected for the metric in arrival order.
func (a *CollectionConfigurationAccumulator) Values(id filtering.MetricIdentity) []float64 {
	l, ok := a.values[id]
	if !ok {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.values)
}

// Quiesce waits for in-flight writes to finish, polling until timeout. It reports whether
// the reference count reached zero. Once it has, every writer that went through
// Manager.Acquire has finished.
func (a *CollectionConfigurationAccumulator) Quiesce(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for a.ReferenceCount() > 0 {
		if !time.Now().Before(deadline) {
			return false
		}
		time.Sleep(time.Millisecond)
	}
	return true
}
