// Copyright New Relic, Inc. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package livemetricsprocessor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/collector/pdata/pcommon"
	"go.opentelemetry.io/collector/pdata/plog"
	"go.opentelemetry.io/collector/pdata/pmetric"
	"go.opentelemetry.io/collector/pdata/ptrace"

	"github.com/newrelic/nrdot-livemetrics/processor/livemetricsprocessor/internal/telemetry"
)

var (
	testTraceID = pcommon.TraceID([16]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16})
	testSpanID  = pcommon.SpanID([8]byte{1, 2, 3, 4, 5, 6, 7, 8})
)

func newSpan(td ptrace.Traces, name string, kind ptrace.SpanKind, d time.Duration) ptrace.Span {
	rs := td.ResourceSpans().AppendEmpty()
	rs.Resource().Attributes().PutStr("service.name", "checkout")
	rs.Resource().Attributes().PutStr("host.name", "host-a")
	rs.Resource().Attributes().PutStr("deployment.environment", "prod")

	span := rs.ScopeSpans().AppendEmpty().Spans().AppendEmpty()
	span.SetName(name)
	span.SetKind(kind)
	span.SetTraceID(testTraceID)
	span.SetSpanID(testSpanID)
	span.SetStartTimestamp(pcommon.NewTimestampFromTime(epoch))
	span.SetEndTimestamp(pcommon.NewTimestampFromTime(epoch.Add(d)))
	return span
}

func TestServerSpanBecomesRequest(t *testing.T) {
	td := ptrace.NewTraces()
	span := newSpan(td, "GET /api/orders", ptrace.SpanKindServer, 250*time.Millisecond)
	span.Attributes().PutStr("url.full", "https://shop.example.com/api/orders")
	span.Attributes().PutInt("http.response.status_code", 503)
	span.Attributes().PutStr("deployment.environment", "staging")

	records := tracesToRecords(td)
	require.Len(t, records, 1)
	req, ok := records[0].(*telemetry.Request)
	require.True(t, ok)

	assert.Equal(t, "GET /api/orders", req.Name)
	assert.Equal(t, testSpanID.String(), req.ID)
	assert.Equal(t, "https://shop.example.com/api/orders", req.URL)
	assert.Equal(t, "503", req.ResponseCode)
	assert.Equal(t, 250*time.Millisecond, req.Duration)
	require.NotNil(t, req.Success)
	assert.False(t, *req.Success, "5xx on a server span is a failure")

	assert.Equal(t, testTraceID.String(), req.Context.OperationID)
	assert.Equal(t, "checkout", req.Context.RoleName)
	assert.Equal(t, "host-a", req.Context.RoleInstance)
	assert.True(t, req.Timestamp.Equal(epoch))
	assert.Equal(t, "staging", req.Properties["deployment.environment"], "span attributes override resource attributes")
	assert.Equal(t, "checkout", req.Properties["service.name"])
}

func TestClientSpanBecomesDependency(t *testing.T) {
	testCases := []struct {
		name     string
		kind     ptrace.SpanKind
		attrs    map[string]any
		status   ptrace.StatusCode
		wantType string
		wantOK   bool
	}{
		{"database", ptrace.SpanKindClient, map[string]any{"db.system": "postgresql", "db.query.text": "SELECT 1"}, ptrace.StatusCodeUnset, "postgresql", true},
		{"http", ptrace.SpanKindClient, map[string]any{"http.request.method": "GET", "http.response.status_code": 404}, ptrace.StatusCodeUnset, dependencyTypeHTTP, false},
		{"rpc", ptrace.SpanKindClient, map[string]any{"rpc.system": "grpc"}, ptrace.StatusCodeError, "grpc", false},
		{"queue", ptrace.SpanKindProducer, map[string]any{}, ptrace.StatusCodeOk, dependencyTypeQueue, true},
		{"internal", ptrace.SpanKindInternal, map[string]any{}, ptrace.StatusCodeUnset, dependencyTypeInProc, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			td := ptrace.NewTraces()
			span := newSpan(td, tc.name, tc.kind, time.Millisecond)
			require.NoError(t, span.Attributes().FromRaw(tc.attrs))
			span.Attributes().PutStr("server.address", "db.internal")
			span.Status().SetCode(tc.status)

			records := tracesToRecords(td)
			require.Len(t, records, 1)
			dep, ok := records[0].(*telemetry.Dependency)
			require.True(t, ok)
			assert.Equal(t, tc.wantType, dep.Type)
			assert.Equal(t, "db.internal", dep.Target)
			require.NotNil(t, dep.Success)
			assert.Equal(t, tc.wantOK, *dep.Success)
		})
	}
}

func TestSpanExceptionEvents(t *testing.T) {
	td := ptrace.NewTraces()
	span := newSpan(td, "checkout", ptrace.SpanKindServer, time.Second)
	ev := span.Events().AppendEmpty()
	ev.SetName("exception")
	ev.SetTimestamp(pcommon.NewTimestampFromTime(epoch.Add(time.Millisecond)))
	ev.Attributes().PutStr("exception.type", "java.lang.IllegalStateException")
	ev.Attributes().PutStr("exception.message", "cart is empty")
	ev.Attributes().PutStr("exception.stacktrace", "at Cart.checkout")
	span.Events().AppendEmpty().SetName("cache.miss")

	records := tracesToRecords(td)
	require.Len(t, records, 2)
	exc, ok := records[1].(*telemetry.Exception)
	require.True(t, ok)
	assert.Equal(t, "java.lang.IllegalStateException", exc.ExceptionType)
	assert.Equal(t, "cart is empty", exc.Message)
	assert.Equal(t, "at Cart.checkout", exc.StackTrace)
	assert.Equal(t, telemetry.SeverityError, exc.SeverityLevel)
	assert.Equal(t, testTraceID.String(), exc.Context.OperationID)
}

func TestLogRecords(t *testing.T) {
	ld := plog.NewLogs()
	rl := ld.ResourceLogs().AppendEmpty()
	rl.Resource().Attributes().PutStr("service.name", "checkout")
	logs := rl.ScopeLogs().AppendEmpty().LogRecords()

	trace := logs.AppendEmpty()
	trace.Body().SetStr("payment accepted")
	trace.SetSeverityNumber(plog.SeverityNumberWarn)
	trace.SetObservedTimestamp(pcommon.NewTimestampFromTime(epoch))

	event := logs.AppendEmpty()
	event.Attributes().PutStr("event.name", "cart.checkout")

	exc := logs.AppendEmpty()
	exc.Attributes().PutStr("exception.type", "ValueError")
	exc.Attributes().PutStr("exception.message", "bad quantity")
	exc.SetSeverityNumber(plog.SeverityNumberFatal)

	records := logsToRecords(ld)
	require.Len(t, records, 3)

	tr, ok := records[0].(*telemetry.Trace)
	require.True(t, ok)
	assert.Equal(t, "payment accepted", tr.Message)
	assert.Equal(t, telemetry.SeverityWarning, tr.SeverityLevel)
	assert.True(t, tr.Timestamp.Equal(epoch), "observed time is used when the record has no timestamp")
	assert.Equal(t, "checkout", tr.Context.RoleName)

	ev, ok := records[1].(*telemetry.Event)
	require.True(t, ok)
	assert.Equal(t, "cart.checkout", ev.Name)

	ex, ok := records[2].(*telemetry.Exception)
	require.True(t, ok)
	assert.Equal(t, "ValueError", ex.ExceptionType)
	assert.Equal(t, "bad quantity", ex.Message)
	assert.Equal(t, telemetry.SeverityCritical, ex.SeverityLevel)
}

func TestSeverityLevel(t *testing.T) {
	testCases := []struct {
		sn   plog.SeverityNumber
		want string
	}{
		{plog.SeverityNumberUnspecified, telemetry.SeverityInformation},
		{plog.SeverityNumberTrace, telemetry.SeverityVerbose},
		{plog.SeverityNumberDebug4, telemetry.SeverityVerbose},
		{plog.SeverityNumberInfo, telemetry.SeverityInformation},
		{plog.SeverityNumberWarn2, telemetry.SeverityWarning},
		{plog.SeverityNumberError, telemetry.SeverityError},
		{plog.SeverityNumberFatal4, telemetry.SeverityCritical},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.want, severityLevel(tc.sn, telemetry.SeverityInformation), tc.sn.String())
	}
}

func TestMetricDataPoints(t *testing.T) {
	md := pmetric.NewMetrics()
	metrics := md.ResourceMetrics().AppendEmpty().ScopeMetrics().AppendEmpty().Metrics()

	gauge := metrics.AppendEmpty()
	gauge.SetName("process.cpu.utilization")
	gauge.SetEmptyGauge().DataPoints().AppendEmpty().SetDoubleValue(0.42)

	sum := metrics.AppendEmpty()
	sum.SetName("orders.placed")
	dp := sum.SetEmptySum().DataPoints().AppendEmpty()
	dp.SetIntValue(7)
	dp.Attributes().PutStr("region", "eu-west")

	hist := metrics.AppendEmpty()
	hist.SetName("http.server.request.duration")
	hist.SetEmptyHistogram().DataPoints().AppendEmpty()

	records := metricsToRecords(md)
	require.Len(t, records, 2)

	pc, ok := records[0].(*telemetry.PerformanceCounter)
	require.True(t, ok)
	assert.Equal(t, "process.cpu.utilization", pc.Name)
	assert.InDelta(t, 0.42, pc.Value, 1e-9)

	m, ok := records[1].(*telemetry.Metric)
	require.True(t, ok)
	assert.Equal(t, "orders.placed", m.Name)
	assert.Equal(t, 7.0, m.Value)
	assert.Equal(t, "eu-west", m.Properties["region"])
}
