// Copyright New Relic, Inc. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package livemetricsprocessor // import "github.com/newrelic/nrdot-livemetrics/processor/livemetricsprocessor"

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "github.com/newrelic/nrdot-livemetrics/processor/livemetricsprocessor"

const (
	dropReasonStreamQuota = "stream_quota"
	dropReasonGlobalQuota = "global_quota"

	outcomeSent     = "sent"
	outcomeReturned = "returned"
)

var (
	reasonKey  = attribute.Key("reason")
	outcomeKey = attribute.Key("outcome")
)

// processorTelemetry reports on the processor itself.
type processorTelemetry struct {
	documentsCaptured   metric.Int64Counter
	documentsDropped    metric.Int64Counter
	configurationErrors metric.Int64Counter
	evaluationErrors    metric.Int64Counter
	samplesSubmitted    metric.Int64Counter
}

func newProcessorTelemetry(meterProvider metric.MeterProvider) (*processorTelemetry, error) {
	if meterProvider == nil {
		meterProvider = noop.NewMeterProvider()
	}
	meter := meterProvider.Meter(meterName)

	t := &processorTelemetry{}
	var err error

	t.documentsCaptured, err = meter.Int64Counter(
		"otelcol_processor_livemetrics_documents_captured",
		metric.WithDescription("Number of telemetry documents captured for live metrics streams"),
		metric.WithUnit("{document}"),
	)
	if err != nil {
		return nil, err
	}

	t.documentsDropped, err = meter.Int64Counter(
		"otelcol_processor_livemetrics_documents_dropped",
		metric.WithDescription("Number of matching telemetry documents dropped by a quota"),
		metric.WithUnit("{document}"),
	)
	if err != nil {
		return nil, err
	}

	t.configurationErrors, err = meter.Int64Counter(
		"otelcol_processor_livemetrics_configuration_errors",
		metric.WithDescription("Number of errors found in collection configurations"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	t.evaluationErrors, err = meter.Int64Counter(
		"otelcol_processor_livemetrics_evaluation_errors",
		metric.WithDescription("Number of filter or projection failures while evaluating telemetry"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	t.samplesSubmitted, err = meter.Int64Counter(
		"otelcol_processor_livemetrics_samples",
		metric.WithDescription("Number of samples handed to the control plane"),
		metric.WithUnit("{sample}"),
	)
	if err != nil {
		return nil, err
	}

	return t, nil
}

func (t *processorTelemetry) recordCaptured(ctx context.Context) {
	t.documentsCaptured.Add(ctx, 1)
}

func (t *processorTelemetry) recordDropped(ctx context.Context, reason string) {
	t.documentsDropped.Add(ctx, 1, metric.WithAttributes(reasonKey.String(reason)))
}

func (t *processorTelemetry) recordConfigurationErrors(ctx context.Context, n int) {
	if n > 0 {
		t.configurationErrors.Add(ctx, int64(n))
	}
}

func (t *processorTelemetry) recordEvaluationErrors(ctx context.Context, n int) {
	if n > 0 {
		t.evaluationErrors.Add(ctx, int64(n))
	}
}

func (t *processorTelemetry) recordSamples(ctx context.Context, n int, outcome string) {
	if n > 0 {
		t.samplesSubmitted.Add(ctx, int64(n), metric.WithAttributes(outcomeKey.String(outcome)))
	}
}
