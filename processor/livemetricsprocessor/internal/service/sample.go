// Copyright New Relic, Inc. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package service // import "github.com/newrelic/nrdot-livemetrics/processor/livemetricsprocessor/internal/service"

import (
	"time"

	"github.com/newrelic/nrdot-livemetrics/processor/livemetricsprocessor/internal/filtering"
)

// Sample is the data reported for one collection cycle.
type Sample struct {
	Version          string    `json:"Version"`
	InvariantVersion int       `json:"InvariantVersion"`
	Instance         string    `json:"Instance"`
	RoleName         string    `json:"RoleName"`
	MachineName      string    `json:"MachineName"`
	StreamID         string    `json:"StreamId"`
	Timestamp        time.Time `json:"Timestamp"`
	// Interval is the length of the cycle the sample covers.
	Interval time.Duration `json:"-"`

	Metrics                    []MetricPoint `json:"Metrics"`
	Documents                  []Document    `json:"Documents"`
	GlobalDocumentQuotaReached bool          `json:"GlobalDocumentQuotaReached"`

	CollectionConfigurationErrors []*filtering.CollectionConfigurationError `json:"CollectionConfigurationErrors"`
}

// MetricPoint is one named value of a sample.
type MetricPoint struct {
	Name      string  `json:"Name"`
	SessionID string  `json:"SessionId,omitempty"`
	Value     float64 `json:"Value"`
	Weight    int     `json:"Weight"`
}

// Document is a captured telemetry record in wire form.
type Document struct {
	DocumentType      string            `json:"DocumentType"`
	Version           string            `json:"Version"`
	OperationID       string            `json:"OperationId,omitempty"`
	Timestamp         time.Time         `json:"Timestamp"`
	DocumentStreamIDs []string          `json:"DocumentStreamIds"`
	Fields            map[string]string `json:"Fields"`
	Properties        map[string]string `json:"Properties,omitempty"`
}
