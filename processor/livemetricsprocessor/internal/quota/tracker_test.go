// Copyright New Relic, Inc. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package quota

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tilinna/clock"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func consume(tr *Tracker, n int) int {
	accepted := 0
	for i := 0; i < n; i++ {
		if tr.TryConsume() {
			accepted++
		}
	}
	return accepted
}

func TestTrackerInitialBurstThenAccrual(t *testing.T) {
	clk := clock.NewMock(epoch)
	tr := NewTracker(clk, 30, 3, 0)

	assert.Equal(t, 3, consume(tr, 100))
	assert.True(t, tr.QuotaExhausted())

	clk.Add(30 * time.Second)
	assert.Equal(t, 15, consume(tr, 100))
}

func TestTrackerCapsAtMax(t *testing.T) {
	clk := clock.NewMock(epoch)
	tr := NewTracker(clk, 30, 3, 0)

	clk.Add(time.Hour)
	assert.InDelta(t, 30.0, tr.CurrentQuota(), 1e-9)
	assert.Equal(t, 30, consume(tr, 100))
}

func TestTrackerStartQuotaIsClamped(t *testing.T) {
	clk := clock.NewMock(epoch)
	assert.InDelta(t, 10.0, NewTracker(clk, 10, 50, 0).CurrentQuota(), 1e-9)
	assert.InDelta(t, 0.0, NewTracker(clk, 10, -5, 0).CurrentQuota(), 1e-9)
}

func TestTrackerExplicitAccrualRate(t *testing.T) {
	clk := clock.NewMock(epoch)
	tr := NewTracker(clk, 100, 0, 2)

	clk.Add(2500 * time.Millisecond)
	assert.InDelta(t, 5.0, tr.CurrentQuota(), 1e-9)
	assert.Equal(t, 5, tr.TakeUpTo(10))
	assert.Equal(t, 0, tr.TakeUpTo(10))
}

func TestTrackerFractionalQuotaIsNotBorrowed(t *testing.T) {
	clk := clock.NewMock(epoch)
	tr := NewTracker(clk, 30, 0.5, 0)

	assert.False(t, tr.TryConsume())
	clk.Add(time.Second)
	assert.True(t, tr.TryConsume())
	assert.InDelta(t, 0.0, tr.CurrentQuota(), 1e-9)
}

func TestTrackerClockGoingBackwardsDoesNotDrain(t *testing.T) {
	clk := clock.NewMock(epoch)
	tr := NewTracker(clk, 30, 10, 0)

	clk.Set(epoch.Add(-time.Minute))
	assert.InDelta(t, 10.0, tr.CurrentQuota(), 1e-9)
}

func TestTrackerMonotonicity(t *testing.T) {
	clk := clock.NewMock(epoch)
	tr := NewTracker(clk, 30, 3, 0)

	prev := tr.CurrentQuota()
	for i := 0; i < 50; i++ {
		consumed := tr.TakeUpTo(i % 4)
		clk.Add(time.Duration(i) * 100 * time.Millisecond)
		cur := tr.CurrentQuota()
		assert.GreaterOrEqual(t, cur, prev-float64(consumed)-1e-9)
		assert.LessOrEqual(t, cur, tr.MaxQuota())
		prev = cur
	}
}

func TestTrackerConcurrentConsumersNeverOverspend(t *testing.T) {
	clk := clock.NewMock(epoch)
	tr := NewTracker(clk, 30, 25, 0)

	var accepted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if tr.TryConsume() {
					accepted.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int64(25), accepted.Load())
}
