// Copyright New Relic, Inc. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package telemetry defines the closed set of telemetry records the live metrics
// pipeline understands and the field introspection used by filters and projections.
package telemetry // import "github.com/newrelic/nrdot-livemetrics/processor/livemetricsprocessor/internal/telemetry"

import (
	"fmt"
	"strings"
	"time"
)

// Kind identifies the type of a telemetry record.
type Kind int

const (
	KindRequest Kind = iota
	KindDependency
	KindException
	KindEvent
	KindTrace
	KindMetric
	KindPerformanceCounter
)

var kindNames = [...]string{
	KindRequest:            "Request",
	KindDependency:         "Dependency",
	KindException:          "Exception",
	KindEvent:              "Event",
	KindTrace:              "Trace",
	KindMetric:             "Metric",
	KindPerformanceCounter: "PerformanceCounter",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// ParseKind resolves a control-plane telemetry type name. Matching is case-insensitive.
func ParseKind(name string) (Kind, bool) {
	for k, n := range kindNames {
		if strings.EqualFold(n, name) {
			return Kind(k), true
		}
	}
	return 0, false
}

// DocumentKinds are the kinds a document stream may capture as full documents.
var DocumentKinds = []Kind{KindRequest, KindDependency, KindException, KindEvent, KindTrace}

// Context carries the correlation and role fields shared by every record.
type Context struct {
	OperationID   string
	OperationName string
	RoleName      string
	RoleInstance  string
}

// Envelope holds the fields common to all telemetry records.
type Envelope struct {
	Timestamp time.Time
	Context   Context
	// Properties are the custom dimensions of the record.
	Properties map[string]string
	// Measurements are the custom metrics of the record.
	Measurements map[string]float64
}

func (e *Envelope) envelope() *Envelope { return e }

// Record is implemented by every telemetry record type.
type Record interface {
	Kind() Kind
	envelope() *Envelope
}

// Base returns the common envelope of a record.
func Base(r Record) *Envelope {
	return r.envelope()
}

// Request is an incoming operation handled by the monitored application.
type Request struct {
	Envelope
	ID           string
	Name         string
	URL          string
	ResponseCode string
	// Success is nil when the outcome is unknown.
	Success  *bool
	Duration time.Duration
}

func (*Request) Kind() Kind { return KindRequest }

// Dependency is an outgoing call made by the monitored application.
type Dependency struct {
	Envelope
	ID         string
	Name       string
	Type       string
	Target     string
	Data       string
	ResultCode string
	Success    *bool
	Duration   time.Duration
}

func (*Dependency) Kind() Kind { return KindDependency }

// Exception is an error observed by the monitored application.
type Exception struct {
	Envelope
	Message          string
	ExceptionType    string
	ExceptionMessage string
	StackTrace       string
	ProblemID        string
	SeverityLevel    string
}

func (*Exception) Kind() Kind { return KindException }

// Event is a named custom event.
type Event struct {
	Envelope
	Name string
}

func (*Event) Kind() Kind { return KindEvent }

// Trace is a diagnostic log message.
type Trace struct {
	Envelope
	Message       string
	SeverityLevel string
}

func (*Trace) Kind() Kind { return KindTrace }

// Metric is a single pre-aggregated metric value.
type Metric struct {
	Envelope
	Name  string
	Value float64
}

func (*Metric) Kind() Kind { return KindMetric }

// PerformanceCounter is a sampled process or host counter value.
type PerformanceCounter struct {
	Envelope
	Name  string
	Value float64
}

func (*PerformanceCounter) Kind() Kind { return KindPerformanceCounter }

// Severity levels used by Trace and Exception records.
const (
	SeverityVerbose     = "Verbose"
	SeverityInformation = "Information"
	SeverityWarning     = "Warning"
	SeverityError       = "Error"
	SeverityCritical    = "Critical"
)

// BoolPtr is a convenience for populating Success fields.
func BoolPtr(b bool) *bool { return &b }
