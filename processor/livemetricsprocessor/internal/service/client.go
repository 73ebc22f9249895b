// Copyright New Relic, Inc. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package service talks to the live metrics control plane.
package service // import "github.com/newrelic/nrdot-livemetrics/processor/livemetricsprocessor/internal/service"

import (
	"context"
	"time"

	"github.com/newrelic/nrdot-livemetrics/processor/livemetricsprocessor/internal/filtering"
)

// Response is the answer of the control plane to a ping or a submission.
type Response struct {
	// Subscribed tells whether data should be collected. Nil means the service did not say.
	Subscribed *bool
	// Configuration is set when the service pushes a new collection configuration.
	Configuration *filtering.CollectionConfigurationInfo
	// PollingIntervalHint overrides the idle ping interval when positive.
	PollingIntervalHint time.Duration
}

// Client is the control-plane contract. An error means the service could not be reached
// or gave no usable answer; callers treat it as an absent response.
type Client interface {
	Ping(ctx context.Context, instrumentationKey string, timestamp time.Time, etag, authAPIKey string) (*Response, error)
	SubmitSamples(ctx context.Context, samples []*Sample, instrumentationKey, etag, authAPIKey string, errs []*filtering.CollectionConfigurationError) (*Response, error)
}
