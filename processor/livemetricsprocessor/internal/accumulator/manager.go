// Copyright New Relic, Inc. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package accumulator // import "github.com/newrelic/nrdot-livemetrics/processor/livemetricsprocessor/internal/accumulator"

import (
	"sync/atomic"

	"github.com/tilinna/clock"

	"github.com/newrelic/nrdot-livemetrics/processor/livemetricsprocessor/internal/filtering"
)

// Manager holds the current accumulator. Writers load it without locking and a single
// sender swaps it at the end of every cycle.
type Manager struct {
	clk     clock.Clock
	current atomic.Pointer[DataAccumulator]
}

// NewManager returns a manager whose first cycle starts now with the given configuration.
func NewManager(clk clock.Clock, config *filtering.CollectionConfiguration) *Manager {
	if clk == nil {
		clk = clock.Realtime()
	}
	m := &Manager{clk: clk}
	m.current.Store(NewDataAccumulator(clk.Now(), config))
	return m
}

// Current returns the accumulator new data must be written to.
func (m *Manager) Current() *DataAccumulator {
	return m.current.Load()
}

// Swap installs a fresh accumulator for config and returns the retired one with its end
// timestamp set. Writes that loaded the retired accumulator before the swap may still land
// in it until its reference count drops to zero.
func (m *Manager) Swap(config *filtering.CollectionConfiguration) *DataAccumulator {
	now := m.clk.Now()
	old := m.current.Swap(NewDataAccumulator(now, config))
	old.setEndTimestamp(now)
	return old
}

// Acquire returns the current accumulator with a writer reference held on it. A reference
// taken on an accumulator that was retired in the meantime is dropped and the load retried,
// so every write lands in an accumulator whose retirement waits for it.
func (m *Manager) Acquire() (acc *DataAccumulator, release func()) {
	for {
		acc = m.current.Load()
		release = acc.Metrics().Acquire()
		if m.current.Load() == acc {
			return acc, release
		}
		release()
	}
}
