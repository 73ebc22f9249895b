// Copyright New Relic, Inc. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package livemetricsprocessor // import "github.com/newrelic/nrdot-livemetrics/processor/livemetricsprocessor"

import (
	"context"
	"fmt"
	"time"

	"github.com/tilinna/clock"
	"go.opentelemetry.io/collector/component"
	"go.opentelemetry.io/collector/config/confighttp"
	"go.opentelemetry.io/collector/consumer"
	"go.opentelemetry.io/collector/processor"
	"go.opentelemetry.io/collector/processor/processorhelper"

	"github.com/newrelic/nrdot-livemetrics/processor/livemetricsprocessor/internal/collection"
	"github.com/newrelic/nrdot-livemetrics/processor/livemetricsprocessor/internal/service"
)

var processorCapabilities = consumer.Capabilities{MutatesData: false}

// NewFactory creates the processor.Factory used by the Collector to construct this processor.
func NewFactory() processor.Factory {
	f := &factory{registry: newModuleRegistry()}
	return processor.NewFactory(
		component.MustNewType(typeStr),
		createDefaultConfig,
		processor.WithTraces(f.createTracesProcessor, stability),
		processor.WithLogs(f.createLogsProcessor, stability),
		processor.WithMetrics(f.createMetricsProcessor, stability),
	)
}

// factory holds the registry shared by all processors it creates. client replaces the
// HTTP client when set.
type factory struct {
	registry *moduleRegistry
	client   service.Client
}

// createDefaultConfig returns the default configuration for this processor.
func createDefaultConfig() component.Config {
	clientCfg := confighttp.NewDefaultClientConfig()
	clientCfg.Endpoint = defaultEndpoint
	clientCfg.Timeout = defaultTimeout

	return &Config{
		ClientConfig:           clientCfg,
		MaxDocumentFieldLength: defaultMaxDocumentFieldLength,
		MaxSampleStorageSize:   defaultMaxSampleStorageSize,
		CooldownTimeout:        100 * time.Millisecond,
		Timings:                collection.NewDefaultTimings(),
		Quota: QuotaConfig{
			InitialGlobalQuota: defaultInitialQuota,
			MaxGlobalQuota:     defaultMaxQuota,
			InitialStreamQuota: defaultInitialQuota,
			MaxStreamQuota:     defaultMaxQuota,
		},
	}
}

// newProcessor returns a processor for the module of set.ID. The module is built when the
// first processor for set.ID starts, with the clock taken from ctx.
func (f *factory) newProcessor(ctx context.Context, set processor.Settings, cfg component.Config) (*liveMetricsProcessor, error) {
	pCfg, ok := cfg.(*Config)
	if !ok {
		return nil, fmt.Errorf("invalid config type: expected *Config, got %T", cfg)
	}

	clk := clock.FromContext(ctx)
	create := func(ctx context.Context, host component.Host) (*liveMetricsModule, error) {
		return newModule(ctx, pCfg, set, clk, host, f.client)
	}
	return newLiveMetricsProcessor(set.Logger, set.ID, f.registry, create), nil
}

// createTracesProcessor constructs the processor for traces pipelines.
func (f *factory) createTracesProcessor(
	ctx context.Context,
	set processor.Settings,
	cfg component.Config,
	nextConsumer consumer.Traces,
) (processor.Traces, error) {
	p, err := f.newProcessor(ctx, set, cfg)
	if err != nil {
		return nil, err
	}
	return processorhelper.NewTraces(ctx, set, cfg, nextConsumer, p.processTraces,
		processorhelper.WithCapabilities(processorCapabilities),
		processorhelper.WithStart(p.Start),
		processorhelper.WithShutdown(p.Shutdown))
}

// createLogsProcessor constructs the processor for logs pipelines.
func (f *factory) createLogsProcessor(
	ctx context.Context,
	set processor.Settings,
	cfg component.Config,
	nextConsumer consumer.Logs,
) (processor.Logs, error) {
	p, err := f.newProcessor(ctx, set, cfg)
	if err != nil {
		return nil, err
	}
	return processorhelper.NewLogs(ctx, set, cfg, nextConsumer, p.processLogs,
		processorhelper.WithCapabilities(processorCapabilities),
		processorhelper.WithStart(p.Start),
		processorhelper.WithShutdown(p.Shutdown))
}

// createMetricsProcessor constructs the processor for metrics pipelines.
func (f *factory) createMetricsProcessor(
	ctx context.Context,
	set processor.Settings,
	cfg component.Config,
	nextConsumer consumer.Metrics,
) (processor.Metrics, error) {
	p, err := f.newProcessor(ctx, set, cfg)
	if err != nil {
		return nil, err
	}
	return processorhelper.NewMetrics(ctx, set, cfg, nextConsumer, p.processMetrics,
		processorhelper.WithCapabilities(processorCapabilities),
		processorhelper.WithStart(p.Start),
		processorhelper.WithShutdown(p.Shutdown))
}
