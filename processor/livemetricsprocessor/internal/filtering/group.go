// Copyright New Relic, Inc. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package filtering // import "github.com/newrelic/nrdot-livemetrics/processor/livemetricsprocessor/internal/filtering"

import (
	"fmt"

	"github.com/newrelic/nrdot-livemetrics/processor/livemetricsprocessor/internal/telemetry"
)

// FilterConjunctionGroup is a set of filters connected by AND.
type FilterConjunctionGroup struct {
	filters []*Filter
}

// NewFilterConjunctionGroup builds every filter of the group. Filters that fail to build are
// left out and their errors returned; the rest of the group is still usable.
func NewFilterConjunctionGroup(kind telemetry.Kind, info FilterConjunctionGroupInfo) (*FilterConjunctionGroup, []error) {
	g := &FilterConjunctionGroup{filters: make([]*Filter, 0, len(info.Filters))}
	var errs []error
	for _, fi := range info.Filters {
		f, err := NewFilter(kind, fi)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		g.filters = append(g.filters, f)
	}
	return g, errs
}

// Len returns the number of filters in the group.
func (g *FilterConjunctionGroup) Len() int { return len(g.filters) }

// CheckFilters evaluates filters in order and stops at the first one that fails or errors.
// An empty group passes.
func (g *FilterConjunctionGroup) CheckFilters(r telemetry.Record) (passed bool, errs []string) {
	for _, f := range g.filters {
		ok, err := safeCheck(f, r)
		if err != nil {
			return false, append(errs, err.Error())
		}
		if !ok {
			return false, errs
		}
	}
	return true, errs
}

func safeCheck(f *Filter, r telemetry.Record) (ok bool, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			ok, err = false, fmt.Errorf("filter %q %s %q panicked: %v", f.info.FieldName, f.info.Predicate, f.info.Comparand, rec)
		}
	}()
	ok, err = f.Check(r)
	if err != nil {
		err = fmt.Errorf("filter %q %s %q: %w", f.info.FieldName, f.info.Predicate, f.info.Comparand, err)
	}
	return ok, err
}
