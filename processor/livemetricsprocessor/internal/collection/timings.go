// Copyright New Relic, Inc. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package collection // import "github.com/newrelic/nrdot-livemetrics/processor/livemetricsprocessor/internal/collection"

import (
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/tilinna/clock"
	"go.uber.org/multierr"
)

// Timings controls the polling cadence of the state manager.
type Timings struct {
	// ServicePollingInterval is the ping interval while idle. Default value is 5 seconds.
	ServicePollingInterval time.Duration `mapstructure:"service_polling_interval"`
	// ServicePollingBackedOffInterval is the ping interval once the service has been
	// unreachable for TimeToServicePollingBackOff. Default value is 1 minute.
	ServicePollingBackedOffInterval time.Duration `mapstructure:"service_polling_backed_off_interval"`
	// TimeToServicePollingBackOff is how long pings may fail before polling slows down.
	// Default value is 1 minute.
	TimeToServicePollingBackOff time.Duration `mapstructure:"time_to_service_polling_back_off"`
	// CollectionInterval is the submission interval while collecting. Default value is 1 second.
	CollectionInterval time.Duration `mapstructure:"collection_interval"`
	// TimeToCollectionBackOff is how long submissions may fail before collection is
	// force-stopped. Default value is 20 seconds.
	TimeToCollectionBackOff time.Duration `mapstructure:"time_to_collection_back_off"`
}

// NewDefaultTimings returns the default Timings.
func NewDefaultTimings() Timings {
	return Timings{
		ServicePollingInterval:          5 * time.Second,
		ServicePollingBackedOffInterval: time.Minute,
		TimeToServicePollingBackOff:     time.Minute,
		CollectionInterval:              time.Second,
		TimeToCollectionBackOff:         20 * time.Second,
	}
}

// Validate checks that every interval is positive and the backed-off interval is not
// shorter than the regular one.
func (t Timings) Validate() error {
	var errs error
	for _, field := range []struct {
		name string
		d    time.Duration
	}{
		{"service_polling_interval", t.ServicePollingInterval},
		{"service_polling_backed_off_interval", t.ServicePollingBackedOffInterval},
		{"time_to_service_polling_back_off", t.TimeToServicePollingBackOff},
		{"collection_interval", t.CollectionInterval},
		{"time_to_collection_back_off", t.TimeToCollectionBackOff},
	} {
		if field.d <= 0 {
			errs = multierr.Append(errs, fmt.Errorf("timings.%s must be positive, got %s", field.name, field.d))
		}
	}
	if errs != nil {
		return errs
	}
	if t.ServicePollingBackedOffInterval < t.ServicePollingInterval {
		return errors.New("timings.service_polling_backed_off_interval must not be shorter than timings.service_polling_interval")
	}
	return nil
}

// newPingBackOff grows the ping interval from ServicePollingInterval up to the backed-off
// interval while pings fail. It never gives up on its own.
func (t Timings) newPingBackOff(clk clock.Clock) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = t.ServicePollingInterval
	b.MaxInterval = t.ServicePollingBackedOffInterval
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Clock = clk
	b.Reset()
	return b
}
