// Copyright New Relic, Inc. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package filtering // import "github.com/newrelic/nrdot-livemetrics/processor/livemetricsprocessor/internal/filtering"

import (
	"errors"
	"fmt"

	"github.com/tilinna/clock"

	"github.com/newrelic/nrdot-livemetrics/processor/livemetricsprocessor/internal/telemetry"
)

// PerformanceCounterInfo is a performance counter requested by the control plane.
type PerformanceCounterInfo struct {
	ID         string
	Expression string
}

// MetricMetadata is one row of the flattened metric list, in first-seen order.
type MetricMetadata struct {
	Identity    MetricIdentity
	Aggregation AggregationType
}

// Options controls how a configuration is built.
type Options struct {
	Clock clock.Clock
	// Quota applies to streams without carried-over quota.
	Quota QuotaSettings
	// PreviousQuotas carries tracker state across reloads, keyed by stream id.
	PreviousQuotas map[string]StreamQuotas
}

// CollectionConfiguration is an immutable snapshot of what to collect.
type CollectionConfiguration struct {
	etag         string
	metrics      map[telemetry.Kind][]*OperationalizedMetric
	metadata     []MetricMetadata
	streams      []*DocumentStream
	perfCounters []PerformanceCounterInfo
}

// Empty returns a configuration that collects nothing.
func Empty() *CollectionConfiguration {
	return &CollectionConfiguration{metrics: make(map[telemetry.Kind][]*OperationalizedMetric)}
}

// NewCollectionConfiguration builds a configuration from a control-plane descriptor. Problems
// with individual metrics, streams or filters are returned as configuration errors and the
// offending item is left out. The only hard failure is a nil descriptor.
func NewCollectionConfiguration(info *CollectionConfigurationInfo, opts Options) (*CollectionConfiguration, []*CollectionConfigurationError, error) {
	if info == nil {
		return nil, nil, ErrNilConfiguration
	}
	if opts.Clock == nil {
		opts.Clock = clock.Realtime()
	}

	c := Empty()
	c.etag = info.ETag

	var cerrs []*CollectionConfigurationError
	cerrs = append(cerrs, c.buildMetrics(info.Metrics)...)
	cerrs = append(cerrs, c.buildDocumentStreams(info, opts)...)

	for _, ce := range cerrs {
		ce.Data[DataKeyETag] = info.ETag
	}
	return c, cerrs, nil
}

func (c *CollectionConfiguration) buildMetrics(infos []OperationalizedMetricInfo) []*CollectionConfigurationError {
	var cerrs []*CollectionConfigurationError
	seen := make(map[MetricIdentity]struct{}, len(infos))
	seenCounters := make(map[string]struct{})

	for _, mi := range infos {
		ident := MetricIdentity{SessionID: mi.SessionID, ID: mi.ID}
		kind, supported := telemetry.ParseKind(mi.TelemetryType)

		// Performance counters are deduplicated silently, unlike operationalized metrics.
		if supported && kind == telemetry.KindPerformanceCounter {
			if _, dup := seenCounters[mi.ID]; !dup {
				seenCounters[mi.ID] = struct{}{}
				c.perfCounters = append(c.perfCounters, PerformanceCounterInfo{ID: mi.ID, Expression: mi.Projection})
			}
			continue
		}

		_, duplicate := seen[ident]
		if duplicate {
			cerrs = append(cerrs, NewCollectionConfigurationError(ErrorTypeMetricDuplicateIDs,
				fmt.Sprintf("Metric with a duplicate id ignored: %s", mi.ID), nil,
				DataKeyMetricID, mi.ID, DataKeySessionID, mi.SessionID))
		} else {
			seen[ident] = struct{}{}
		}

		if !supported {
			cerrs = append(cerrs, NewCollectionConfigurationError(ErrorTypeMetricTelemetryTypeUnsupported,
				fmt.Sprintf("TelemetryType is not supported: %s", mi.TelemetryType),
				fmt.Errorf("%w: %q", ErrUnsupportedKind, mi.TelemetryType),
				DataKeyMetricID, mi.ID, DataKeySessionID, mi.SessionID, DataKeyTelemetryType, mi.TelemetryType))
			continue
		}

		m, errs := NewOperationalizedMetric(kind, mi)
		for _, err := range errs {
			typ, msg := ErrorTypeMetricFailureToCreate, fmt.Sprintf("Failed to create metric %s", mi.ID)
			var fe *FilterError
			if errors.As(err, &fe) {
				typ, msg = ErrorTypeMetricFailureToCreateFilterUnexpected, fmt.Sprintf("Failed to create a filter for metric %s", mi.ID)
			}
			cerrs = append(cerrs, NewCollectionConfigurationError(typ, msg, err,
				DataKeyMetricID, mi.ID, DataKeySessionID, mi.SessionID))
		}

		if m == nil || duplicate {
			continue
		}
		c.metrics[kind] = append(c.metrics[kind], m)
		c.metadata = append(c.metadata, MetricMetadata{Identity: ident, Aggregation: mi.Aggregation})
	}
	return cerrs
}

func (c *CollectionConfiguration) buildDocumentStreams(info *CollectionConfigurationInfo, opts Options) []*CollectionConfigurationError {
	settings := opts.Quota
	if qi := info.QuotaInfo; qi != nil {
		if qi.MaxQuota > 0 {
			settings.MaxQuota = qi.MaxQuota
			settings.AccrualRatePerSec = 0
		}
		if qi.InitialQuota != nil {
			settings.InitialQuota = *qi.InitialQuota
		}
	}

	var cerrs []*CollectionConfigurationError
	seen := make(map[string]struct{}, len(info.DocumentStreams))
	for _, si := range info.DocumentStreams {
		_, duplicate := seen[si.ID]
		if duplicate {
			cerrs = append(cerrs, NewCollectionConfigurationError(ErrorTypeDocumentStreamDuplicateIDs,
				fmt.Sprintf("Document stream with a duplicate id ignored: %s", si.ID), nil,
				DataKeyDocumentStreamID, si.ID))
		} else {
			seen[si.ID] = struct{}{}
		}

		s, errs := NewDocumentStream(si, opts.Clock, settings, opts.PreviousQuotas[si.ID])
		for _, err := range errs {
			typ, msg := ErrorTypeDocumentStreamFailureToCreate, fmt.Sprintf("Failed to create document stream %s", si.ID)
			var fe *FilterError
			if errors.As(err, &fe) {
				typ, msg = ErrorTypeDocumentStreamFailureToCreateFilterUnexpected, fmt.Sprintf("Failed to create a filter for document stream %s", si.ID)
			}
			cerrs = append(cerrs, NewCollectionConfigurationError(typ, msg, err, DataKeyDocumentStreamID, si.ID))
		}

		if !duplicate {
			c.streams = append(c.streams, s)
		}
	}
	return cerrs
}

// ETag returns the version marker of the configuration.
func (c *CollectionConfiguration) ETag() string { return c.etag }

// Metrics returns the operationalized metrics computed over records of the given kind, in descriptor order.
func (c *CollectionConfiguration) Metrics(kind telemetry.Kind) []*OperationalizedMetric {
	return c.metrics[kind]
}

// MetricMetadata returns one row per operationalized metric in first-seen order.
func (c *CollectionConfiguration) MetricMetadata() []MetricMetadata { return c.metadata }

// DocumentStreams returns the document streams in descriptor order.
func (c *CollectionConfiguration) DocumentStreams() []*DocumentStream { return c.streams }

// PerformanceCounters returns the requested performance counters, deduplicated by id.
func (c *CollectionConfiguration) PerformanceCounters() []PerformanceCounterInfo { return c.perfCounters }

// StreamQuotas snapshots the quota of every stream for carry-over into the next configuration.
func (c *CollectionConfiguration) StreamQuotas() map[string]StreamQuotas {
	out := make(map[string]StreamQuotas, len(c.streams))
	for _, s := range c.streams {
		out[s.ID()] = s.Quotas()
	}
	return out
}
