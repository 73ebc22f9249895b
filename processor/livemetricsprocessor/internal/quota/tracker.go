// Copyright New Relic, Inc. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package quota implements the token bucket that bounds how many full telemetry
// documents are captured per unit of time.
package quota // import "github.com/newrelic/nrdot-livemetrics/processor/livemetricsprocessor/internal/quota"

import (
	"math"
	"sync"
	"time"

	"github.com/tilinna/clock"
)

// accrualWindow is the time it takes an empty bucket to refill completely
// when no explicit accrual rate is given.
const accrualWindow = 60 * time.Second

// Tracker is a token bucket. Quota accrues continuously at a fixed rate up to
// the maximum and is spent one document at a time.
type Tracker struct {
	clk clock.Clock

	mu          sync.Mutex
	maxQuota    float64
	accrualRate float64 // per second
	current     float64
	lastUpdate  time.Time
}

// NewTracker creates a tracker holding startQuota, clamped to [0, maxQuota].
// A non-positive accrualRatePerSec selects maxQuota / 60 per second.
func NewTracker(clk clock.Clock, maxQuota, startQuota, accrualRatePerSec float64) *Tracker {
	if maxQuota < 0 || math.IsNaN(maxQuota) {
		maxQuota = 0
	}
	if accrualRatePerSec <= 0 || math.IsNaN(accrualRatePerSec) {
		accrualRatePerSec = maxQuota / accrualWindow.Seconds()
	}
	return &Tracker{
		clk:         clk,
		maxQuota:    maxQuota,
		accrualRate: accrualRatePerSec,
		current:     clamp(startQuota, maxQuota),
		lastUpdate:  clk.Now(),
	}
}

// TryConsume takes one unit of quota. It returns false when less than one unit is available.
func (t *Tracker) TryConsume() bool {
	return t.TakeUpTo(1) == 1
}

// TakeUpTo takes as many whole units as are available, up to n, and returns the number taken.
// Quota is never borrowed from the future.
func (t *Tracker) TakeUpTo(n int) int {
	if n <= 0 {
		return 0
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.accrueLocked()
	taken := int(math.Min(float64(n), math.Floor(t.current)))
	t.current -= float64(taken)
	return taken
}

// CurrentQuota returns the quota available right now. It is used to carry a
// stream's bucket across configuration reloads.
func (t *Tracker) CurrentQuota() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.accrueLocked()
	return t.current
}

// QuotaExhausted reports whether less than one unit is available.
func (t *Tracker) QuotaExhausted() bool {
	return t.CurrentQuota() < 1
}

// MaxQuota returns the bucket capacity.
func (t *Tracker) MaxQuota() float64 {
	return t.maxQuota
}

func (t *Tracker) accrueLocked() {
	now := t.clk.Now()
	elapsed := now.Sub(t.lastUpdate)
	if elapsed <= 0 {
		return
	}
	t.current = clamp(t.current+elapsed.Seconds()*t.accrualRate, t.maxQuota)
	t.lastUpdate = now
}

func clamp(v, maxQuota float64) float64 {
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	return math.Min(v, maxQuota)
}
