// Copyright New Relic, Inc. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package collection drives the ping/submit state machine against the control plane.
package collection // import "github.com/newrelic/nrdot-livemetrics/processor/livemetricsprocessor/internal/collection"

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/tilinna/clock"
	"go.uber.org/zap"

	"github.com/newrelic/nrdot-livemetrics/internal/common/sanitize"
	"github.com/newrelic/nrdot-livemetrics/processor/livemetricsprocessor/internal/filtering"
	"github.com/newrelic/nrdot-livemetrics/processor/livemetricsprocessor/internal/service"
)

// Callbacks connect the state manager to the data path. Every callback runs on the
// goroutine calling UpdateState.
type Callbacks struct {
	// OnStartCollection runs once on every transition to collecting.
	OnStartCollection func()
	// OnStopCollection runs once on every transition to idle.
	OnStopCollection func()
	// OnSubmitSamples returns the samples to submit, including earlier failed ones.
	OnSubmitSamples func() []*service.Sample
	// OnReturnFailedSamples hands back samples whose submission got no answer.
	OnReturnFailedSamples func([]*service.Sample)
	// OnUpdatedConfiguration applies a configuration pushed by the control plane.
	OnUpdatedConfiguration func(*filtering.CollectionConfigurationInfo) ([]*filtering.CollectionConfigurationError, error)
}

// StateManager alternates between pinging the control plane while idle and submitting
// samples while collecting. It is not safe for concurrent UpdateState calls; the accessors
// may be used from any goroutine.
type StateManager struct {
	client    service.Client
	clk       clock.Clock
	timings   Timings
	callbacks Callbacks
	logger    *zap.Logger

	pingBackOff *backoff.ExponentialBackOff

	collecting           atomic.Bool
	started              bool
	lastSuccessfulPing   time.Time
	lastSuccessfulSubmit time.Time

	// errMu guards etag writes and errors. etag is only written by UpdateState.
	errMu  sync.Mutex
	etag   string
	errors []*filtering.CollectionConfigurationError
}

// NewStateManager returns an idle state manager.
func NewStateManager(client service.Client, clk clock.Clock, timings Timings, callbacks Callbacks, logger *zap.Logger) *StateManager {
	if clk == nil {
		clk = clock.Realtime()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StateManager{
		client:      client,
		clk:         clk,
		timings:     timings,
		callbacks:   callbacks,
		logger:      logger,
		pingBackOff: timings.newPingBackOff(clk),
	}
}

// IsCollectingData reports whether the manager is in the collecting state.
func (m *StateManager) IsCollectingData() bool { return m.collecting.Load() }

// ETag returns the version of the configuration applied last.
func (m *StateManager) ETag() string {
	m.errMu.Lock()
	defer m.errMu.Unlock()
	return m.etag
}

// CollectionConfigurationErrors returns the errors of the configuration applied last.
func (m *StateManager) CollectionConfigurationErrors() []*filtering.CollectionConfigurationError {
	m.errMu.Lock()
	defer m.errMu.Unlock()
	return slices.Clone(m.errors)
}

// UpdateState performs one ping or submission and returns how long to wait before the next call.
func (m *StateManager) UpdateState(ctx context.Context, instrumentationKey, authAPIKey string) time.Duration {
	now := m.clk.Now()
	if !m.started {
		m.started = true
		m.lastSuccessfulPing = now
		m.lastSuccessfulSubmit = now
	}

	if m.collecting.Load() {
		return m.submit(ctx, now, instrumentationKey, authAPIKey)
	}
	return m.ping(ctx, now, instrumentationKey, authAPIKey)
}

func (m *StateManager) submit(ctx context.Context, now time.Time, instrumentationKey, authAPIKey string) time.Duration {
	var samples []*service.Sample
	if m.callbacks.OnSubmitSamples != nil {
		samples = m.callbacks.OnSubmitSamples()
	}

	resp, err := m.client.SubmitSamples(ctx, samples, instrumentationKey, m.etag, authAPIKey, m.CollectionConfigurationErrors())
	if err != nil {
		m.logger.Debug("Failed to submit samples", zap.Int("samples", len(samples)), zap.Error(err))
	}

	switch {
	case err != nil || resp == nil || resp.Subscribed == nil:
		if m.callbacks.OnReturnFailedSamples != nil && len(samples) > 0 {
			m.callbacks.OnReturnFailedSamples(samples)
		}
	case !*resp.Subscribed:
		m.lastSuccessfulSubmit = now
		m.stopCollection()
	default:
		m.lastSuccessfulSubmit = now
	}

	if err == nil && resp != nil {
		m.updateConfiguration(resp.Configuration)
	}

	if m.collecting.Load() && now.Sub(m.lastSuccessfulSubmit) > m.timings.TimeToCollectionBackOff {
		m.logger.Warn("Stopping collection after submissions kept failing",
			zap.Duration("since_last_success", now.Sub(m.lastSuccessfulSubmit)))
		m.stopCollection()
		// Resume idle polling at the slow cadence right away.
		m.lastSuccessfulPing = now.Add(-m.timings.TimeToServicePollingBackOff)
		return m.timings.ServicePollingBackedOffInterval
	}

	if !m.collecting.Load() {
		return m.timings.ServicePollingInterval
	}
	return m.remaining(now, m.timings.CollectionInterval)
}

func (m *StateManager) ping(ctx context.Context, now time.Time, instrumentationKey, authAPIKey string) time.Duration {
	resp, err := m.client.Ping(ctx, instrumentationKey, now, m.etag, authAPIKey)
	if err != nil {
		m.logger.Debug("Failed to ping the live metrics service", zap.Error(err))
	}

	if err != nil || resp == nil || resp.Subscribed == nil {
		if now.Sub(m.lastSuccessfulPing) > m.timings.TimeToServicePollingBackOff {
			return m.timings.ServicePollingBackedOffInterval
		}
		return min(m.pingBackOff.NextBackOff(), m.timings.ServicePollingBackedOffInterval)
	}

	m.lastSuccessfulPing = now
	m.pingBackOff.Reset()

	if *resp.Subscribed {
		m.startCollection(now)
	}
	m.updateConfiguration(resp.Configuration)

	if m.collecting.Load() {
		return m.remaining(now, m.timings.CollectionInterval)
	}
	if resp.PollingIntervalHint > 0 {
		return resp.PollingIntervalHint
	}
	return m.timings.ServicePollingInterval
}

func (m *StateManager) startCollection(now time.Time) {
	if m.collecting.Swap(true) {
		return
	}
	m.lastSuccessfulSubmit = now
	m.logger.Info("Live metrics collection started")
	if m.callbacks.OnStartCollection != nil {
		m.callbacks.OnStartCollection()
	}
}

func (m *StateManager) stopCollection() {
	if !m.collecting.Swap(false) {
		return
	}
	m.logger.Info("Live metrics collection stopped")
	if m.callbacks.OnStopCollection != nil {
		m.callbacks.OnStopCollection()
	}
}

// updateConfiguration applies info when its ETag differs from the current one. The error
// list is replaced, never merged.
func (m *StateManager) updateConfiguration(info *filtering.CollectionConfigurationInfo) {
	if info == nil || info.ETag == m.etag {
		return
	}

	errs := m.applyConfiguration(info)

	m.errMu.Lock()
	m.etag = info.ETag
	m.errors = errs
	m.errMu.Unlock()

	if len(errs) > 0 {
		m.logger.Warn("Collection configuration applied with errors",
			zap.String("etag", sanitize.String(info.ETag)), zap.Int("errors", len(errs)))
	} else {
		m.logger.Debug("Collection configuration applied", zap.String("etag", sanitize.String(info.ETag)))
	}
}

func (m *StateManager) applyConfiguration(info *filtering.CollectionConfigurationInfo) (errs []*filtering.CollectionConfigurationError) {
	defer func() {
		if rec := recover(); rec != nil {
			errs = []*filtering.CollectionConfigurationError{failedToApply(info.ETag, fmt.Errorf("panic: %v", rec))}
		}
	}()

	if m.callbacks.OnUpdatedConfiguration == nil {
		return nil
	}
	errs, err := m.callbacks.OnUpdatedConfiguration(info)
	if err != nil {
		return []*filtering.CollectionConfigurationError{failedToApply(info.ETag, err)}
	}
	return errs
}

func failedToApply(etag string, err error) *filtering.CollectionConfigurationError {
	return filtering.NewCollectionConfigurationError(filtering.ErrorTypeCollectionConfigurationFailureToCreate,
		"Failed to apply the collection configuration", err, filtering.DataKeyETag, etag)
}

// remaining subtracts the time spent in this update from interval.
func (m *StateManager) remaining(start time.Time, interval time.Duration) time.Duration {
	return max(interval-m.clk.Now().Sub(start), 0)
}
