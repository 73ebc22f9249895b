// Copyright New Relic, Inc. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package livemetricsprocessor streams near-real-time metrics and sampled telemetry
// documents to a live metrics control plane while passing all data through unchanged.
//
// While no viewer is subscribed the processor only pings the control plane. Once the
// control plane reports a subscriber, every span, log record and metric data point is
// evaluated against the collection configuration pushed by the control plane and a
// sample is submitted every collection interval.
package livemetricsprocessor // import "github.com/newrelic/nrdot-livemetrics/processor/livemetricsprocessor"
