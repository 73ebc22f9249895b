// Copyright New Relic, Inc. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package filtering // import "github.com/newrelic/nrdot-livemetrics/processor/livemetricsprocessor/internal/filtering"

// The types in this file describe the collection configuration as delivered by the
// control plane. They are plain data; validation happens when a CollectionConfiguration
// is built from them.

// CollectionConfigurationInfo is the root of a control-plane configuration payload.
type CollectionConfigurationInfo struct {
	ETag            string                      `json:"ETag"`
	Metrics         []OperationalizedMetricInfo `json:"Metrics"`
	DocumentStreams []DocumentStreamInfo        `json:"DocumentStreams"`
	QuotaInfo       *QuotaConfigurationInfo     `json:"QuotaInfo,omitempty"`
}

// QuotaConfigurationInfo overrides the default document quota of new streams.
type QuotaConfigurationInfo struct {
	InitialQuota *float64 `json:"InitialQuota,omitempty"`
	MaxQuota     float64  `json:"MaxQuota"`
}

// FilterInfo describes one field comparison.
type FilterInfo struct {
	FieldName string    `json:"FieldName"`
	Predicate Predicate `json:"Predicate"`
	Comparand string    `json:"Comparand"`
}

// FilterConjunctionGroupInfo is a set of filters connected by AND.
type FilterConjunctionGroupInfo struct {
	Filters []FilterInfo `json:"Filters"`
}

// OperationalizedMetricInfo describes a server-defined metric computed locally.
type OperationalizedMetricInfo struct {
	ID            string                       `json:"Id"`
	SessionID     string                       `json:"SessionId,omitempty"`
	TelemetryType string                       `json:"TelemetryType"`
	Projection    string                       `json:"Projection"`
	Aggregation   AggregationType              `json:"Aggregation"`
	FilterGroups  []FilterConjunctionGroupInfo `json:"FilterGroups"`
}

// DocumentStreamInfo describes a named rule set for capturing full documents.
type DocumentStreamInfo struct {
	ID                   string                               `json:"Id"`
	DocumentFilterGroups []DocumentFilterConjunctionGroupInfo `json:"DocumentFilterGroups"`
}

// DocumentFilterConjunctionGroupInfo binds a filter group to the telemetry type it applies to.
type DocumentFilterConjunctionGroupInfo struct {
	TelemetryType string                     `json:"TelemetryType"`
	Filters       FilterConjunctionGroupInfo `json:"Filters"`
}
