// Copyright New Relic, Inc. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package filtering // import "github.com/newrelic/nrdot-livemetrics/processor/livemetricsprocessor/internal/filtering"

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/newrelic/nrdot-livemetrics/processor/livemetricsprocessor/internal/telemetry"
)

// CountProjection projects every passing record to 1.
const CountProjection = "Count()"

// MetricIdentity is the reporting identity of an operationalized metric.
type MetricIdentity struct {
	SessionID string
	ID        string
}

func (id MetricIdentity) String() string {
	if id.SessionID == "" {
		return id.ID
	}
	return id.SessionID + "/" + id.ID
}

type projectFunc func(telemetry.Record) (float64, error)

// OperationalizedMetric projects records that pass its filters to a number. The
// values collected over a reporting cycle are reduced with its aggregation.
type OperationalizedMetric struct {
	info    OperationalizedMetricInfo
	kind    telemetry.Kind
	groups  []*FilterConjunctionGroup
	project projectFunc
}

// NewOperationalizedMetric builds a metric for records of the given kind. Filter errors are
// returned alongside a usable metric; a projection or aggregation that cannot be compiled
// yields a nil metric.
func NewOperationalizedMetric(kind telemetry.Kind, info OperationalizedMetricInfo) (*OperationalizedMetric, []error) {
	m := &OperationalizedMetric{info: info, kind: kind}

	var errs []error
	for _, gi := range info.FilterGroups {
		g, gerrs := NewFilterConjunctionGroup(kind, gi)
		errs = append(errs, gerrs...)
		m.groups = append(m.groups, g)
	}

	if !info.Aggregation.valid() {
		return nil, append(errs, fmt.Errorf("%w: %s", ErrInvalidAggregation, info.Aggregation))
	}

	project, err := compileProjection(kind, info.Projection)
	if err != nil {
		return nil, append(errs, err)
	}
	m.project = project
	return m, errs
}

// Identity returns the (session id, id) pair the metric is reported under.
func (m *OperationalizedMetric) Identity() MetricIdentity {
	return MetricIdentity{SessionID: m.info.SessionID, ID: m.info.ID}
}

// Kind returns the telemetry kind the metric is computed over.
func (m *OperationalizedMetric) Kind() telemetry.Kind { return m.kind }

// Aggregation returns the reduction applied to the metric's values.
func (m *OperationalizedMetric) Aggregation() AggregationType { return m.info.Aggregation }

// Info returns the descriptor the metric was built from.
func (m *OperationalizedMetric) Info() OperationalizedMetricInfo { return m.info }

// CheckFilters reports whether the record passes every filter of the metric.
func (m *OperationalizedMetric) CheckFilters(r telemetry.Record) (passed bool, errs []string) {
	for _, g := range m.groups {
		ok, gerrs := g.CheckFilters(r)
		errs = append(errs, gerrs...)
		if !ok {
			return false, errs
		}
	}
	return true, errs
}

// Project computes the metric value for a record. An error means the record
// contributes nothing to this cycle.
func (m *OperationalizedMetric) Project(r telemetry.Record) (v float64, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			v, err = 0, fmt.Errorf("projection %q panicked: %v", m.info.Projection, rec)
		}
	}()
	return m.project(r)
}

func compileProjection(kind telemetry.Kind, projection string) (projectFunc, error) {
	if strings.EqualFold(strings.TrimSpace(projection), CountProjection) {
		return func(telemetry.Record) (float64, error) { return 1, nil }, nil
	}

	acc, err := telemetry.Lookup(kind, projection)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidProjection, err)
	}

	switch acc.Type {
	case telemetry.FieldTypeNumber:
		return func(r telemetry.Record) (float64, error) {
			v, ok := acc.Get(r)
			if !ok {
				return 0, fmt.Errorf("field %q has no value", acc.Name)
			}
			return v.(float64), nil
		}, nil
	case telemetry.FieldTypeDuration:
		return func(r telemetry.Record) (float64, error) {
			v, ok := acc.Get(r)
			if !ok {
				return 0, fmt.Errorf("field %q has no value", acc.Name)
			}
			return float64(v.(time.Duration)) / float64(time.Millisecond), nil
		}, nil
	case telemetry.FieldTypeString:
		return func(r telemetry.Record) (float64, error) {
			text, ok := acc.Text(r)
			if !ok {
				return 0, fmt.Errorf("field %q has no value", acc.Name)
			}
			f, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
			if err != nil {
				return 0, fmt.Errorf("value %q of field %q is not a number", text, acc.Name)
			}
			return f, nil
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q is a %s field", ErrInvalidProjection, projection, acc.Type)
	}
}

// Aggregate reduces the values collected for a metric over one cycle. Empty input yields 0
// for every aggregation type.
func Aggregate(values []float64, agg AggregationType) float64 {
	if len(values) == 0 {
		return 0
	}

	switch agg {
	case AggregationSum:
		return sum(values)
	case AggregationAvg:
		return sum(values) / float64(len(values))
	case AggregationMin:
		out := math.Inf(1)
		for _, v := range values {
			out = math.Min(out, v)
		}
		return out
	case AggregationMax:
		out := math.Inf(-1)
		for _, v := range values {
			out = math.Max(out, v)
		}
		return out
	default:
		return 0
	}
}

func sum(values []float64) float64 {
	var total float64
	for _, v := range values {
		total += v
	}
	return total
}
