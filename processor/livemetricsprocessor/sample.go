// Copyright New Relic, Inc. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package livemetricsprocessor // import "github.com/newrelic/nrdot-livemetrics/processor/livemetricsprocessor"

import (
	"strconv"
	"time"

	"github.com/newrelic/nrdot-livemetrics/internal/common/maps"
	"github.com/newrelic/nrdot-livemetrics/processor/livemetricsprocessor/internal/accumulator"
	"github.com/newrelic/nrdot-livemetrics/processor/livemetricsprocessor/internal/filtering"
	"github.com/newrelic/nrdot-livemetrics/processor/livemetricsprocessor/internal/service"
	"github.com/newrelic/nrdot-livemetrics/processor/livemetricsprocessor/internal/telemetry"
)

// buildSample turns a retired accumulator into the sample for its cycle. The standard
// metrics come first, then calculated metrics, then performance counters.
func (m *liveMetricsModule) buildSample(acc *accumulator.DataAccumulator) *service.Sample {
	end, ok := acc.EndTimestamp()
	if !ok {
		end = m.clk.Now()
	}
	interval := end.Sub(acc.StartTimestamp())

	sample := &service.Sample{
		Version:                    m.identity.version,
		InvariantVersion:           service.InvariantVersion,
		Instance:                   m.identity.instanceName,
		RoleName:                   m.identity.roleName,
		MachineName:                m.identity.machineName,
		StreamID:                   m.identity.streamID,
		Timestamp:                  end,
		Interval:                   interval,
		GlobalDocumentQuotaReached: acc.GlobalDocumentQuotaReached(),
	}

	sample.Metrics = standardMetrics(acc, interval)
	config := acc.Metrics().Configuration()
	sample.Metrics = append(sample.Metrics, calculatedMetrics(acc.Metrics(), config)...)
	sample.Metrics = append(sample.Metrics, performanceCounters(acc, config)...)

	for _, doc := range acc.Documents() {
		sample.Documents = append(sample.Documents, m.toDocument(doc))
	}
	return sample
}

func standardMetrics(acc *accumulator.DataAccumulator, interval time.Duration) []service.MetricPoint {
	seconds := interval.Seconds()
	if seconds <= 0 {
		seconds = 1
	}
	perSecond := func(n int64) float64 { return float64(n) / seconds }

	requests, requestDuration, requestsSucceeded, requestsFailed := acc.Requests()
	dependencies, dependencyDuration, dependenciesSucceeded, dependenciesFailed := acc.Dependencies()

	return []service.MetricPoint{
		{Name: metricRequestsRate, Value: perSecond(requests), Weight: 1},
		{Name: metricRequestDuration, Value: averageMillis(requestDuration, requests), Weight: 1},
		{Name: metricRequestsFailedRate, Value: perSecond(requestsFailed), Weight: 1},
		{Name: metricRequestsSucceededRate, Value: perSecond(requestsSucceeded), Weight: 1},
		{Name: metricDependencyCallsRate, Value: perSecond(dependencies), Weight: 1},
		{Name: metricDependencyCallDuration, Value: averageMillis(dependencyDuration, dependencies), Weight: 1},
		{Name: metricDependencyFailedRate, Value: perSecond(dependenciesFailed), Weight: 1},
		{Name: metricDependencySucceededRate, Value: perSecond(dependenciesSucceeded), Weight: 1},
		{Name: metricExceptionsRate, Value: perSecond(acc.Exceptions()), Weight: 1},
	}
}

func averageMillis(total time.Duration, count int64) float64 {
	if count == 0 {
		return 0
	}
	return float64(total.Microseconds()) / 1000 / float64(count)
}

// calculatedMetrics reports every configured metric in configuration order, including
// metrics that saw no values in the cycle.
func calculatedMetrics(acc *accumulator.CollectionConfigurationAccumulator, config *filtering.CollectionConfiguration) []service.MetricPoint {
	var points []service.MetricPoint
	for _, md := range config.MetricMetadata() {
		values := acc.Values(md.Identity)
		points = append(points, service.MetricPoint{
			Name:      md.Identity.ID,
			SessionID: md.Identity.SessionID,
			Value:     filtering.Aggregate(values, md.Aggregation),
			Weight:    len(values),
		})
	}
	return points
}

// performanceCounters reports the latest value seen for each requested counter. Counters
// without a value in the cycle are left out.
func performanceCounters(acc *accumulator.DataAccumulator, config *filtering.CollectionConfiguration) []service.MetricPoint {
	var points []service.MetricPoint
	for _, pc := range config.PerformanceCounters() {
		v, ok := acc.PerformanceCounter(pc.Expression)
		if !ok {
			continue
		}
		points = append(points, service.MetricPoint{Name: pc.ID, Value: v, Weight: 1})
	}
	return points
}

func (m *liveMetricsModule) toDocument(doc accumulator.Document) service.Document {
	limit := m.cfg.MaxDocumentFieldLength
	base := telemetry.Base(doc.Record)

	out := service.Document{
		Version:           documentVersion,
		OperationID:       base.Context.OperationID,
		Timestamp:         base.Timestamp,
		DocumentStreamIDs: doc.StreamIDs,
		Properties:        maps.CloneTruncated(base.Properties, limit),
	}

	var fields map[string]string
	switch r := doc.Record.(type) {
	case *telemetry.Request:
		out.DocumentType = documentTypeRequest
		fields = map[string]string{
			"Id":           r.ID,
			"Name":         r.Name,
			"Url":          r.URL,
			"ResponseCode": r.ResponseCode,
			"Success":      formatSuccess(r.Success),
			"Duration":     r.Duration.String(),
		}
	case *telemetry.Dependency:
		out.DocumentType = documentTypeDependency
		fields = map[string]string{
			"Id":         r.ID,
			"Name":       r.Name,
			"Type":       r.Type,
			"Target":     r.Target,
			"Data":       r.Data,
			"ResultCode": r.ResultCode,
			"Success":    formatSuccess(r.Success),
			"Duration":   r.Duration.String(),
		}
	case *telemetry.Exception:
		out.DocumentType = documentTypeException
		fields = map[string]string{
			"Message":          r.Message,
			"ExceptionType":    r.ExceptionType,
			"ExceptionMessage": r.ExceptionMessage,
			"StackTrace":       r.StackTrace,
			"ProblemId":        r.ProblemID,
			"SeverityLevel":    r.SeverityLevel,
		}
	case *telemetry.Event:
		out.DocumentType = documentTypeEvent
		fields = map[string]string{"Name": r.Name}
	case *telemetry.Trace:
		out.DocumentType = documentTypeTrace
		fields = map[string]string{
			"Message":       r.Message,
			"SeverityLevel": r.SeverityLevel,
		}
	}

	for k, v := range fields {
		if v == "" {
			delete(fields, k)
		}
	}
	out.Fields = maps.CloneTruncated(fields, limit)
	return out
}

func formatSuccess(success *bool) string {
	if success == nil {
		return ""
	}
	return strconv.FormatBool(*success)
}
