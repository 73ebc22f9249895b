// Copyright New Relic, Inc. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package livemetricsprocessor // import "github.com/newrelic/nrdot-livemetrics/processor/livemetricsprocessor"

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tilinna/clock"
	"go.opentelemetry.io/collector/component"
	"go.opentelemetry.io/collector/processor"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/newrelic/nrdot-livemetrics/internal/common/sanitize"
	"github.com/newrelic/nrdot-livemetrics/processor/livemetricsprocessor/internal/accumulator"
	"github.com/newrelic/nrdot-livemetrics/processor/livemetricsprocessor/internal/collection"
	"github.com/newrelic/nrdot-livemetrics/processor/livemetricsprocessor/internal/filtering"
	"github.com/newrelic/nrdot-livemetrics/processor/livemetricsprocessor/internal/quota"
	"github.com/newrelic/nrdot-livemetrics/processor/livemetricsprocessor/internal/service"
)

// evaluationLogInterval throttles the debug log of filter and projection failures.
const evaluationLogInterval = 10 * time.Second

// liveMetricsModule is the live metrics pipeline shared by every processor created from
// the same component configuration. It owns the collection loop and all cycle state.
type liveMetricsModule struct {
	cfg       *Config
	logger    *zap.Logger
	clk       clock.Clock
	telemetry *processorTelemetry
	client    service.Client
	identity  identity

	state        *collection.StateManager
	accumulators *accumulator.Manager
	config       atomic.Pointer[filtering.CollectionConfiguration]
	globalQuota  atomic.Pointer[quota.Tracker]

	storedMu sync.Mutex
	stored   []*service.Sample

	evaluationLog rate.Sometimes

	startOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

// identity describes this process in every sample.
type identity struct {
	streamID     string
	machineName  string
	instanceName string
	roleName     string
	version      string
}

// newModule builds an idle module. A nil client selects an HTTP client built from
// cfg.ClientConfig with the extensions of host.
func newModule(ctx context.Context, cfg *Config, set processor.Settings, clk clock.Clock, host component.Host, client service.Client) (*liveMetricsModule, error) {
	if clk == nil {
		clk = clock.Realtime()
	}
	tel, err := newProcessorTelemetry(set.TelemetrySettings.MeterProvider)
	if err != nil {
		return nil, err
	}

	hostname, err := os.Hostname()
	if err != nil {
		set.Logger.Debug("Failed to resolve the host name", zap.Error(err))
	}
	id := identity{
		streamID:     uuid.NewString(),
		machineName:  hostname,
		instanceName: cfg.InstanceName,
		roleName:     cfg.RoleName,
		version:      set.BuildInfo.Version,
	}
	if id.instanceName == "" {
		id.instanceName = hostname
	}

	if client == nil {
		client, err = newServiceClient(ctx, cfg, set, clk, host, id)
		if err != nil {
			return nil, err
		}
	}

	m := &liveMetricsModule{
		cfg:           cfg,
		logger:        set.Logger,
		clk:           clk,
		telemetry:     tel,
		client:        client,
		identity:      id,
		accumulators:  accumulator.NewManager(clk, filtering.Empty()),
		evaluationLog: rate.Sometimes{Interval: evaluationLogInterval},
	}
	m.config.Store(filtering.Empty())
	m.globalQuota.Store(m.newGlobalQuota())
	m.state = collection.NewStateManager(client, clk, cfg.Timings, collection.Callbacks{
		OnStartCollection:      m.onStartCollection,
		OnStopCollection:       m.onStopCollection,
		OnSubmitSamples:        m.onSubmitSamples,
		OnReturnFailedSamples:  m.onReturnFailedSamples,
		OnUpdatedConfiguration: m.onUpdatedConfiguration,
	}, set.Logger)
	return m, nil
}

func newServiceClient(ctx context.Context, cfg *Config, set processor.Settings, clk clock.Clock, host component.Host, id identity) (*service.HTTPClient, error) {
	var extensions map[component.ID]component.Component
	if host != nil {
		extensions = host.GetExtensions()
	}
	httpClient, err := cfg.ToClient(ctx, extensions, set.TelemetrySettings)
	if err != nil {
		return nil, fmt.Errorf("failed to create the control plane HTTP client: %w", err)
	}
	return service.NewHTTPClient(service.HTTPSettings{
		Endpoint:     cfg.Endpoint,
		Timeout:      cfg.Timeout,
		StreamID:     id.streamID,
		MachineName:  id.machineName,
		InstanceName: id.instanceName,
		RoleName:     id.roleName,
		Version:      id.version,
		Clock:        clk,
	}, httpClient, set.Logger)
}

func (m *liveMetricsModule) newGlobalQuota() *quota.Tracker {
	return quota.NewTracker(m.clk, m.cfg.Quota.MaxGlobalQuota, m.cfg.Quota.InitialGlobalQuota, 0)
}

// start launches the collection loop. It is detached from ctx, which only covers startup.
func (m *liveMetricsModule) start(context.Context) error {
	m.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		m.cancel = cancel
		m.done = make(chan struct{})
		go m.run(ctx)
		m.logger.Info("Live metrics module started",
			zap.String("endpoint", sanitize.String(m.cfg.Endpoint)),
			zap.String("stream_id", m.identity.streamID))
	})
	return nil
}

// shutdown stops the collection loop and waits for it until ctx is done.
func (m *liveMetricsModule) shutdown(ctx context.Context) error {
	if m.cancel == nil {
		return nil
	}
	m.cancel()
	select {
	case <-m.done:
		m.logger.Info("Live metrics module stopped")
		return nil
	case <-ctx.Done():
		return multierr.Combine(errors.New("live metrics collection loop did not stop in time"), ctx.Err())
	}
}

func (m *liveMetricsModule) run(ctx context.Context) {
	defer close(m.done)
	timer := m.clk.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		next := m.state.UpdateState(ctx, m.cfg.InstrumentationKey, string(m.cfg.AuthenticationAPIKey))
		timer.Reset(next)
	}
}

// collecting reports whether telemetry should be evaluated at all.
func (m *liveMetricsModule) collecting() bool {
	return m.state.IsCollectingData()
}

func (m *liveMetricsModule) onStartCollection() {
	m.globalQuota.Store(m.newGlobalQuota())
	m.accumulators.Swap(m.config.Load())
}

func (m *liveMetricsModule) onStopCollection() {
	m.accumulators.Swap(m.config.Load())
	m.storedMu.Lock()
	m.stored = nil
	m.storedMu.Unlock()
}

// onSubmitSamples closes the current cycle and returns its sample behind any stored ones.
func (m *liveMetricsModule) onSubmitSamples() []*service.Sample {
	retired := m.accumulators.Swap(m.config.Load())
	if !retired.Metrics().Quiesce(m.cfg.CooldownTimeout) {
		m.logger.Debug("Building a sample while writers are still in flight",
			zap.Int64("writers", retired.Metrics().ReferenceCount()))
	}
	sample := m.buildSample(retired)

	m.storedMu.Lock()
	samples := append(m.stored, sample)
	m.stored = nil
	m.storedMu.Unlock()

	m.telemetry.recordSamples(context.Background(), len(samples), outcomeSent)
	return samples
}

// onReturnFailedSamples keeps the newest samples, up to the storage size, for the next submission.
func (m *liveMetricsModule) onReturnFailedSamples(samples []*service.Sample) {
	m.telemetry.recordSamples(context.Background(), len(samples), outcomeReturned)

	m.storedMu.Lock()
	defer m.storedMu.Unlock()
	m.stored = append(m.stored, samples...)
	if over := len(m.stored) - m.cfg.MaxSampleStorageSize; over > 0 {
		m.stored = append([]*service.Sample(nil), m.stored[over:]...)
	}
}

// onUpdatedConfiguration builds and installs a configuration. Document quotas of streams
// that survive the update carry over. The current cycle is discarded.
func (m *liveMetricsModule) onUpdatedConfiguration(info *filtering.CollectionConfigurationInfo) ([]*filtering.CollectionConfigurationError, error) {
	previous := m.config.Load()
	config, errs, err := filtering.NewCollectionConfiguration(info, filtering.Options{
		Clock: m.clk,
		Quota: filtering.QuotaSettings{
			InitialQuota: m.cfg.Quota.InitialStreamQuota,
			MaxQuota:     m.cfg.Quota.MaxStreamQuota,
		},
		PreviousQuotas: previous.StreamQuotas(),
	})
	if err != nil {
		return nil, err
	}

	m.config.Store(config)
	m.accumulators.Swap(config)

	for _, e := range errs {
		m.logger.Debug("Collection configuration error",
			zap.String("type", string(e.ErrorType)),
			zap.String("message", sanitize.String(e.Message)),
			zap.String("detail", sanitize.String(e.FullException)))
	}
	m.telemetry.recordConfigurationErrors(context.Background(), len(errs))
	return errs, nil
}
