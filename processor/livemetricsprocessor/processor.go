// Copyright New Relic, Inc. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package livemetricsprocessor // import "github.com/newrelic/nrdot-livemetrics/processor/livemetricsprocessor"

import (
	"context"
	"sync/atomic"

	"go.opentelemetry.io/collector/component"
	"go.opentelemetry.io/collector/pdata/plog"
	"go.opentelemetry.io/collector/pdata/pmetric"
	"go.opentelemetry.io/collector/pdata/ptrace"
	"go.uber.org/zap"

	"github.com/newrelic/nrdot-livemetrics/processor/livemetricsprocessor/internal/telemetry"
)

// liveMetricsProcessor feeds one signal of a pipeline into the shared module. Data is
// always passed on unchanged.
type liveMetricsProcessor struct {
	logger   *zap.Logger
	id       component.ID
	registry *moduleRegistry
	create   moduleFactory

	// module is set while the processor is started.
	module atomic.Pointer[liveMetricsModule]
}

func newLiveMetricsProcessor(logger *zap.Logger, id component.ID, registry *moduleRegistry, create moduleFactory) *liveMetricsProcessor {
	return &liveMetricsProcessor{
		logger:   logger,
		id:       id,
		registry: registry,
		create:   create,
	}
}

// Start is invoked during service startup.
func (p *liveMetricsProcessor) Start(ctx context.Context, host component.Host) error {
	p.logger.Info("Starting live metrics processor")
	m, err := p.registry.attach(ctx, host, p.id, p.create)
	if err != nil {
		return err
	}
	p.module.Store(m)
	return nil
}

// Shutdown is invoked during service shutdown. It is a no-op for a processor that never started.
func (p *liveMetricsProcessor) Shutdown(ctx context.Context) error {
	if p.module.Swap(nil) == nil {
		return nil
	}
	p.logger.Info("Shutting down live metrics processor")
	return p.registry.detach(ctx, p.id)
}

func (p *liveMetricsProcessor) processTraces(ctx context.Context, td ptrace.Traces) (ptrace.Traces, error) {
	if m := p.collectingModule(); m != nil {
		processRecords(ctx, m, tracesToRecords(td))
	}
	return td, nil
}

func (p *liveMetricsProcessor) processLogs(ctx context.Context, ld plog.Logs) (plog.Logs, error) {
	if m := p.collectingModule(); m != nil {
		processRecords(ctx, m, logsToRecords(ld))
	}
	return ld, nil
}

func (p *liveMetricsProcessor) processMetrics(ctx context.Context, md pmetric.Metrics) (pmetric.Metrics, error) {
	if m := p.collectingModule(); m != nil {
		processRecords(ctx, m, metricsToRecords(md))
	}
	return md, nil
}

// collectingModule returns the module when it is started and collecting, nil otherwise.
func (p *liveMetricsProcessor) collectingModule() *liveMetricsModule {
	if m := p.module.Load(); m != nil && m.collecting() {
		return m
	}
	return nil
}

func processRecords(ctx context.Context, m *liveMetricsModule, records []telemetry.Record) {
	for _, rec := range records {
		m.process(ctx, rec)
	}
}
