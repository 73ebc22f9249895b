// Copyright New Relic, Inc. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package livemetricsprocessor // import "github.com/newrelic/nrdot-livemetrics/processor/livemetricsprocessor"

import (
	"context"
	"slices"

	"go.uber.org/zap"

	"github.com/newrelic/nrdot-livemetrics/internal/common/sanitize"
	"github.com/newrelic/nrdot-livemetrics/processor/livemetricsprocessor/internal/accumulator"
	"github.com/newrelic/nrdot-livemetrics/processor/livemetricsprocessor/internal/filtering"
	"github.com/newrelic/nrdot-livemetrics/processor/livemetricsprocessor/internal/telemetry"
)

// process evaluates one record against the configuration of the current cycle. It may be
// called from any number of goroutines.
func (m *liveMetricsModule) process(ctx context.Context, rec telemetry.Record) {
	acc, release := m.accumulators.Acquire()
	defer release()

	switch r := rec.(type) {
	case *telemetry.Request:
		acc.AddRequest(r.Duration, r.Success)
	case *telemetry.Dependency:
		acc.AddDependency(r.Duration, r.Success)
	case *telemetry.Exception:
		acc.AddException()
	case *telemetry.Metric:
		acc.SetPerformanceCounter(r.Name, r.Value)
	case *telemetry.PerformanceCounter:
		acc.SetPerformanceCounter(r.Name, r.Value)
	}

	config := acc.Metrics().Configuration()
	m.computeMetrics(ctx, acc, config, rec)
	if !m.cfg.DisableDocuments {
		m.captureDocument(ctx, acc, config, rec)
	}
}

func (m *liveMetricsModule) computeMetrics(ctx context.Context, acc *accumulator.DataAccumulator, config *filtering.CollectionConfiguration, rec telemetry.Record) {
	for _, metric := range config.Metrics(rec.Kind()) {
		passed, errs := metric.CheckFilters(rec)
		m.reportEvaluationErrors(ctx, "metric", metric.Identity().String(), errs)
		if !passed {
			continue
		}
		v, err := metric.Project(rec)
		if err != nil {
			m.reportEvaluationErrors(ctx, "metric", metric.Identity().String(), []string{err.Error()})
			continue
		}
		acc.Metrics().AddValue(metric.Identity(), v)
	}
}

// captureDocument tags the record with every matching stream that still has quota for its
// kind. A tagged record is kept only if the global quota allows it.
func (m *liveMetricsModule) captureDocument(ctx context.Context, acc *accumulator.DataAccumulator, config *filtering.CollectionConfiguration, rec telemetry.Record) {
	kind := rec.Kind()
	if !slices.Contains(telemetry.DocumentKinds, kind) {
		return
	}

	var streamIDs []string
	for _, stream := range config.DocumentStreams() {
		passed, errs := stream.CheckFilters(rec)
		m.reportEvaluationErrors(ctx, "document_stream", stream.ID(), errs)
		if !passed {
			continue
		}
		if !stream.TryConsume(kind) {
			m.telemetry.recordDropped(ctx, dropReasonStreamQuota)
			continue
		}
		streamIDs = append(streamIDs, stream.ID())
	}
	if len(streamIDs) == 0 {
		return
	}

	if !m.globalQuota.Load().TryConsume() {
		acc.MarkGlobalDocumentQuotaReached()
		m.telemetry.recordDropped(ctx, dropReasonGlobalQuota)
		return
	}
	acc.AddDocument(accumulator.Document{Record: rec, StreamIDs: streamIDs})
	m.telemetry.recordCaptured(ctx)
}

func (m *liveMetricsModule) reportEvaluationErrors(ctx context.Context, owner, id string, errs []string) {
	if len(errs) == 0 {
		return
	}
	m.telemetry.recordEvaluationErrors(ctx, len(errs))
	m.evaluationLog.Do(func() {
		m.logger.Debug("Failed to evaluate telemetry",
			zap.String(owner, sanitize.String(id)),
			zap.Strings("errors", errs))
	})
}
