// Copyright New Relic, Inc. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package livemetricsprocessor // import "github.com/newrelic/nrdot-livemetrics/processor/livemetricsprocessor"

import (
	"time"

	"go.opentelemetry.io/collector/component"
)

const (
	typeStr   = "livemetrics"
	stability = component.StabilityLevelDevelopment

	defaultEndpoint               = "https://rt.services.visualstudio.com/QuickPulseService.svc"
	defaultTimeout                = 3 * time.Second
	defaultMaxDocumentFieldLength = 32768
	defaultMaxSampleStorageSize   = 10
	defaultInitialQuota           = 3
	defaultMaxQuota               = 30

	// Standard metrics reported in every sample.
	metricRequestsRate            = `\ApplicationInsights\Requests/Sec`
	metricRequestDuration         = `\ApplicationInsights\Request Duration`
	metricRequestsFailedRate      = `\ApplicationInsights\Requests Failed/Sec`
	metricRequestsSucceededRate   = `\ApplicationInsights\Requests Succeeded/Sec`
	metricDependencyCallsRate     = `\ApplicationInsights\Dependency Calls/Sec`
	metricDependencyCallDuration  = `\ApplicationInsights\Dependency Call Duration`
	metricDependencyFailedRate    = `\ApplicationInsights\Dependency Calls Failed/Sec`
	metricDependencySucceededRate = `\ApplicationInsights\Dependency Calls Succeeded/Sec`
	metricExceptionsRate          = `\ApplicationInsights\Exceptions/Sec`

	// Document types as named on the wire.
	documentTypeRequest    = "Request"
	documentTypeDependency = "RemoteDependency"
	documentTypeException  = "Exception"
	documentTypeEvent      = "Event"
	documentTypeTrace      = "Trace"

	documentVersion = "1.0"

	// Metric name prefixes mapped to performance counter records.
	perfCounterPrefixProcess = "process."
	perfCounterPrefixSystem  = "system."
)
