// Copyright New Relic, Inc. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package filtering // import "github.com/newrelic/nrdot-livemetrics/processor/livemetricsprocessor/internal/filtering"

import (
	"fmt"
	"slices"

	"github.com/tilinna/clock"

	"github.com/newrelic/nrdot-livemetrics/processor/livemetricsprocessor/internal/quota"
	"github.com/newrelic/nrdot-livemetrics/processor/livemetricsprocessor/internal/telemetry"
)

// QuotaSettings are the bucket parameters for trackers of newly seen streams.
type QuotaSettings struct {
	InitialQuota float64
	MaxQuota     float64
	// AccrualRatePerSec defaults to MaxQuota / 60 when zero.
	AccrualRatePerSec float64
}

// StreamQuotas is the quota left in each of a stream's trackers, keyed by document kind.
type StreamQuotas map[telemetry.Kind]float64

// DocumentStream decides whether a full telemetry document is captured. Filter groups
// are connected by OR per telemetry kind, and every document kind has its own quota.
type DocumentStream struct {
	id       string
	groups   map[telemetry.Kind][]*FilterConjunctionGroup
	trackers map[telemetry.Kind]*quota.Tracker
}

// NewDocumentStream builds a stream. Trackers start from carried when it has an entry for
// the kind, otherwise from settings.InitialQuota. Groups for unsupported kinds and filters
// that fail to build are reported and left out.
func NewDocumentStream(info DocumentStreamInfo, clk clock.Clock, settings QuotaSettings, carried StreamQuotas) (*DocumentStream, []error) {
	s := &DocumentStream{
		id:       info.ID,
		groups:   make(map[telemetry.Kind][]*FilterConjunctionGroup),
		trackers: make(map[telemetry.Kind]*quota.Tracker, len(telemetry.DocumentKinds)),
	}

	var errs []error
	for _, gi := range info.DocumentFilterGroups {
		kind, ok := telemetry.ParseKind(gi.TelemetryType)
		if !ok || !slices.Contains(telemetry.DocumentKinds, kind) {
			errs = append(errs, fmt.Errorf("%w: %q in document stream %q", ErrUnsupportedKind, gi.TelemetryType, info.ID))
			continue
		}
		g, gerrs := NewFilterConjunctionGroup(kind, gi.Filters)
		errs = append(errs, gerrs...)
		s.groups[kind] = append(s.groups[kind], g)
	}

	for _, kind := range telemetry.DocumentKinds {
		start := settings.InitialQuota
		if q, ok := carried[kind]; ok {
			start = q
		}
		s.trackers[kind] = quota.NewTracker(clk, settings.MaxQuota, start, settings.AccrualRatePerSec)
	}
	return s, errs
}

// ID returns the stream id.
func (s *DocumentStream) ID() string { return s.id }

// CheckFilters reports whether any group configured for the record's kind passes. A kind
// without groups never passes. Runtime errors of every evaluated group are returned.
func (s *DocumentStream) CheckFilters(r telemetry.Record) (passed bool, errs []string) {
	for _, g := range s.groups[r.Kind()] {
		ok, gerrs := g.CheckFilters(r)
		errs = append(errs, gerrs...)
		if ok {
			return true, errs
		}
	}
	return false, errs
}

// TryConsume takes one unit of the quota for the given kind.
func (s *DocumentStream) TryConsume(kind telemetry.Kind) bool {
	t, ok := s.trackers[kind]
	return ok && t.TryConsume()
}

// Quotas snapshots the current quota of every tracker for carry-over into the next configuration.
func (s *DocumentStream) Quotas() StreamQuotas {
	out := make(StreamQuotas, len(s.trackers))
	for kind, t := range s.trackers {
		out[kind] = t.CurrentQuota()
	}
	return out
}
