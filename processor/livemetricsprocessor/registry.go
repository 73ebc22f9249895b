// Copyright New Relic, Inc. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package livemetricsprocessor // import "github.com/newrelic/nrdot-livemetrics/processor/livemetricsprocessor"

import (
	"context"
	"sync"

	"go.opentelemetry.io/collector/component"
)

// moduleRegistry lets the traces, logs and metrics processors of one component share a
// single live metrics module. The module is built and started when the first processor
// attaches, and shut down and forgotten when the last one detaches.
type moduleRegistry struct {
	mu      sync.Mutex
	entries map[component.ID]*registryEntry
}

type registryEntry struct {
	module *liveMetricsModule
	refs   int
}

// moduleFactory builds the module of a component once its host is known.
type moduleFactory func(ctx context.Context, host component.Host) (*liveMetricsModule, error)

func newModuleRegistry() *moduleRegistry {
	return &moduleRegistry{entries: make(map[component.ID]*registryEntry)}
}

// attach returns the running module for id. The first attachment builds it with create
// and starts it.
func (r *moduleRegistry) attach(ctx context.Context, host component.Host, id component.ID, create moduleFactory) (*liveMetricsModule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		m, err := create(ctx, host)
		if err != nil {
			return nil, err
		}
		if err := m.start(ctx); err != nil {
			return nil, err
		}
		e = &registryEntry{module: m}
		r.entries[id] = e
	}
	e.refs++
	return e.module, nil
}

// detach shuts the module for id down once nothing is attached to it anymore and forgets it.
func (r *moduleRegistry) detach(ctx context.Context, id component.ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return nil
	}
	e.refs--
	if e.refs > 0 {
		return nil
	}
	delete(r.entries, id)
	return e.module.shutdown(ctx)
}

// len returns the number of running modules.
func (r *moduleRegistry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
