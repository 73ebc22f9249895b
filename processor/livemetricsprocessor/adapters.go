// Copyright New Relic, Inc. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package livemetricsprocessor // import "github.com/newrelic/nrdot-livemetrics/processor/livemetricsprocessor"

import (
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/collector/pdata/pcommon"
	"go.opentelemetry.io/collector/pdata/plog"
	"go.opentelemetry.io/collector/pdata/pmetric"
	"go.opentelemetry.io/collector/pdata/ptrace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/newrelic/nrdot-livemetrics/internal/common/maps"
	"github.com/newrelic/nrdot-livemetrics/processor/livemetricsprocessor/internal/telemetry"
)

// eventNameKey names log records that represent custom events.
const eventNameKey = "event.name"

const (
	dependencyTypeHTTP   = "HTTP"
	dependencyTypeInProc = "InProc"
	dependencyTypeQueue  = "Queue"
)

// resourceContext is the part of a record envelope derived from its resource.
type resourceContext struct {
	roleName     string
	roleInstance string
	attributes   map[string]string
}

func newResourceContext(res pcommon.Resource) resourceContext {
	attrs := res.Attributes()
	rc := resourceContext{
		roleName:     stringAttr(attrs, string(semconv.ServiceNameKey)),
		roleInstance: stringAttr(attrs, string(semconv.ServiceInstanceIDKey)),
		attributes:   attributesToMap(attrs),
	}
	if rc.roleInstance == "" {
		rc.roleInstance = stringAttr(attrs, string(semconv.HostNameKey))
	}
	return rc
}

// envelope builds the common record fields. Record attributes override resource attributes.
func (rc resourceContext) envelope(ts time.Time, operationID, operationName string, attrs pcommon.Map) telemetry.Envelope {
	return telemetry.Envelope{
		Timestamp: ts,
		Context: telemetry.Context{
			OperationID:   operationID,
			OperationName: operationName,
			RoleName:      rc.roleName,
			RoleInstance:  rc.roleInstance,
		},
		Properties: maps.MergeStringMaps(rc.attributes, attributesToMap(attrs)),
	}
}

// tracesToRecords maps server and consumer spans to requests, all other spans to
// dependencies, and span exception events to exceptions.
func tracesToRecords(td ptrace.Traces) []telemetry.Record {
	var records []telemetry.Record
	for _, rs := range td.ResourceSpans().All() {
		rc := newResourceContext(rs.Resource())
		for _, ss := range rs.ScopeSpans().All() {
			for _, span := range ss.Spans().All() {
				records = append(records, spanToRecord(rc, span))
				records = appendSpanExceptions(records, rc, span)
			}
		}
	}
	return records
}

func spanToRecord(rc resourceContext, span ptrace.Span) telemetry.Record {
	attrs := span.Attributes()
	env := rc.envelope(span.StartTimestamp().AsTime(), traceID(span.TraceID()), span.Name(), attrs)
	statusCode := stringAttr(attrs, string(semconv.HTTPResponseStatusCodeKey))
	duration := spanDuration(span)

	switch span.Kind() {
	case ptrace.SpanKindServer, ptrace.SpanKindConsumer:
		url := stringAttr(attrs, string(semconv.URLFullKey))
		if url == "" {
			url = stringAttr(attrs, string(semconv.URLPathKey))
		}
		return &telemetry.Request{
			Envelope:     env,
			ID:           spanID(span.SpanID()),
			Name:         span.Name(),
			URL:          url,
			ResponseCode: statusCode,
			Success:      spanSuccess(span, statusCode, 500),
			Duration:     duration,
		}
	default:
		data := stringAttr(attrs, string(semconv.DBQueryTextKey))
		if data == "" {
			data = stringAttr(attrs, string(semconv.URLFullKey))
		}
		return &telemetry.Dependency{
			Envelope:   env,
			ID:         spanID(span.SpanID()),
			Name:       span.Name(),
			Type:       dependencyType(span),
			Target:     stringAttr(attrs, string(semconv.ServerAddressKey)),
			Data:       data,
			ResultCode: statusCode,
			Success:    spanSuccess(span, statusCode, 400),
			Duration:   duration,
		}
	}
}

func appendSpanExceptions(records []telemetry.Record, rc resourceContext, span ptrace.Span) []telemetry.Record {
	for _, ev := range span.Events().All() {
		if ev.Name() != semconv.ExceptionEventName {
			continue
		}
		attrs := ev.Attributes()
		message := stringAttr(attrs, string(semconv.ExceptionMessageKey))
		records = append(records, &telemetry.Exception{
			Envelope:         rc.envelope(ev.Timestamp().AsTime(), traceID(span.TraceID()), span.Name(), attrs),
			Message:          message,
			ExceptionType:    stringAttr(attrs, string(semconv.ExceptionTypeKey)),
			ExceptionMessage: message,
			StackTrace:       stringAttr(attrs, string(semconv.ExceptionStacktraceKey)),
			SeverityLevel:    telemetry.SeverityError,
		})
	}
	return records
}

// spanSuccess uses the span status when it is set and falls back to the HTTP status code.
func spanSuccess(span ptrace.Span, statusCode string, failureThreshold int) *bool {
	switch span.Status().Code() {
	case ptrace.StatusCodeError:
		return telemetry.BoolPtr(false)
	case ptrace.StatusCodeOk:
		return telemetry.BoolPtr(true)
	}
	if code, err := strconv.Atoi(statusCode); err == nil && code > 0 {
		return telemetry.BoolPtr(code < failureThreshold)
	}
	return telemetry.BoolPtr(true)
}

func spanDuration(span ptrace.Span) time.Duration {
	start, end := span.StartTimestamp(), span.EndTimestamp()
	if end <= start {
		return 0
	}
	return time.Duration(end - start)
}

func dependencyType(span ptrace.Span) string {
	attrs := span.Attributes()
	for _, key := range []string{string(semconv.DBSystemKey), string(semconv.RPCSystemKey)} {
		if v := stringAttr(attrs, key); v != "" {
			return v
		}
	}
	if stringAttr(attrs, string(semconv.HTTPRequestMethodKey)) != "" {
		return dependencyTypeHTTP
	}
	if span.Kind() == ptrace.SpanKindProducer {
		if v := stringAttr(attrs, string(semconv.MessagingSystemKey)); v != "" {
			return v
		}
		return dependencyTypeQueue
	}
	return dependencyTypeInProc
}

// logsToRecords maps log records carrying exception attributes to exceptions, named
// events to events and everything else to traces.
func logsToRecords(ld plog.Logs) []telemetry.Record {
	var records []telemetry.Record
	for _, rl := range ld.ResourceLogs().All() {
		rc := newResourceContext(rl.Resource())
		for _, sl := range rl.ScopeLogs().All() {
			for _, lr := range sl.LogRecords().All() {
				records = append(records, logToRecord(rc, lr))
			}
		}
	}
	return records
}

func logToRecord(rc resourceContext, lr plog.LogRecord) telemetry.Record {
	attrs := lr.Attributes()
	ts := lr.Timestamp()
	if ts == 0 {
		ts = lr.ObservedTimestamp()
	}
	env := rc.envelope(ts.AsTime(), traceID(lr.TraceID()), "", attrs)
	message := lr.Body().AsString()

	exceptionType := stringAttr(attrs, string(semconv.ExceptionTypeKey))
	exceptionMessage := stringAttr(attrs, string(semconv.ExceptionMessageKey))
	if exceptionType != "" || exceptionMessage != "" {
		if message == "" {
			message = exceptionMessage
		}
		return &telemetry.Exception{
			Envelope:         env,
			Message:          message,
			ExceptionType:    exceptionType,
			ExceptionMessage: exceptionMessage,
			StackTrace:       stringAttr(attrs, string(semconv.ExceptionStacktraceKey)),
			SeverityLevel:    severityLevel(lr.SeverityNumber(), telemetry.SeverityError),
		}
	}

	name := lr.EventName()
	if name == "" {
		name = stringAttr(attrs, eventNameKey)
	}
	if name != "" {
		return &telemetry.Event{Envelope: env, Name: name}
	}

	return &telemetry.Trace{
		Envelope:      env,
		Message:       message,
		SeverityLevel: severityLevel(lr.SeverityNumber(), telemetry.SeverityInformation),
	}
}

func severityLevel(sn plog.SeverityNumber, unspecified string) string {
	switch {
	case sn == plog.SeverityNumberUnspecified:
		return unspecified
	case sn <= plog.SeverityNumberDebug4:
		return telemetry.SeverityVerbose
	case sn <= plog.SeverityNumberInfo4:
		return telemetry.SeverityInformation
	case sn <= plog.SeverityNumberWarn4:
		return telemetry.SeverityWarning
	case sn <= plog.SeverityNumberError4:
		return telemetry.SeverityError
	default:
		return telemetry.SeverityCritical
	}
}

// metricsToRecords maps gauge and sum data points to metric records. Process and system
// metrics become performance counters.
func metricsToRecords(md pmetric.Metrics) []telemetry.Record {
	var records []telemetry.Record
	for _, rm := range md.ResourceMetrics().All() {
		rc := newResourceContext(rm.Resource())
		for _, sm := range rm.ScopeMetrics().All() {
			for _, m := range sm.Metrics().All() {
				var points pmetric.NumberDataPointSlice
				switch m.Type() {
				case pmetric.MetricTypeGauge:
					points = m.Gauge().DataPoints()
				case pmetric.MetricTypeSum:
					points = m.Sum().DataPoints()
				default:
					continue
				}
				for _, dp := range points.All() {
					records = append(records, dataPointToRecord(rc, m.Name(), dp))
				}
			}
		}
	}
	return records
}

func dataPointToRecord(rc resourceContext, name string, dp pmetric.NumberDataPoint) telemetry.Record {
	env := rc.envelope(dp.Timestamp().AsTime(), "", "", dp.Attributes())
	var value float64
	switch dp.ValueType() {
	case pmetric.NumberDataPointValueTypeInt:
		value = float64(dp.IntValue())
	case pmetric.NumberDataPointValueTypeDouble:
		value = dp.DoubleValue()
	}

	if strings.HasPrefix(name, perfCounterPrefixProcess) || strings.HasPrefix(name, perfCounterPrefixSystem) {
		return &telemetry.PerformanceCounter{Envelope: env, Name: name, Value: value}
	}
	return &telemetry.Metric{Envelope: env, Name: name, Value: value}
}

func attributesToMap(attrs pcommon.Map) map[string]string {
	if attrs.Len() == 0 {
		return nil
	}
	out := make(map[string]string, attrs.Len())
	for k, v := range attrs.All() {
		out[k] = v.AsString()
	}
	return out
}

func stringAttr(attrs pcommon.Map, key string) string {
	v, ok := attrs.Get(key)
	if !ok {
		return ""
	}
	return v.AsString()
}

func traceID(id pcommon.TraceID) string {
	if id.IsEmpty() {
		return ""
	}
	return id.String()
}

func spanID(id pcommon.SpanID) string {
	if id.IsEmpty() {
		return ""
	}
	return id.String()
}
