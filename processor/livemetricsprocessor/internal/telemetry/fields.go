// Copyright New Relic, Inc. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package telemetry // import "github.com/newrelic/nrdot-livemetrics/processor/livemetricsprocessor/internal/telemetry"

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// FieldType is the comparison type of a record field.
type FieldType int

const (
	FieldTypeString FieldType = iota
	FieldTypeBool
	FieldTypeNumber
	FieldTypeDuration
)

func (t FieldType) String() string {
	switch t {
	case FieldTypeString:
		return "string"
	case FieldTypeBool:
		return "bool"
	case FieldTypeNumber:
		return "number"
	case FieldTypeDuration:
		return "duration"
	default:
		return fmt.Sprintf("FieldType(%d)", int(t))
	}
}

const (
	// AnyField matches every string field and custom dimension of a record.
	AnyField = "*"

	CustomDimensionsPrefix = "CustomDimensions."
	CustomMetricsPrefix    = "CustomMetrics."
)

var ErrUnknownField = errors.New("unknown field")

// Accessor reads one named field from records of a single kind.
// Values are string, bool, float64 or time.Duration according to Type.
type Accessor struct {
	Name string
	Kind Kind
	Type FieldType
	get  func(Record) (any, bool)
}

// Get returns the raw field value. ok is false when the value is null or missing,
// or when r is not of the accessor's kind.
func (a Accessor) Get(r Record) (v any, ok bool) {
	if r == nil || r.Kind() != a.Kind {
		return nil, false
	}
	return a.get(r)
}

// Text returns the textual representation of the field value.
func (a Accessor) Text(r Record) (string, bool) {
	v, ok := a.Get(r)
	if !ok {
		return "", false
	}
	return FormatValue(v), true
}

// FormatValue renders a field value the way comparisons and projections see it.
func FormatValue(v any) string {
	switch tv := v.(type) {
	case string:
		return tv
	case bool:
		return strconv.FormatBool(tv)
	case float64:
		return strconv.FormatFloat(tv, 'f', -1, 64)
	case time.Duration:
		return strconv.FormatFloat(float64(tv)/float64(time.Millisecond), 'f', -1, 64)
	default:
		return fmt.Sprint(tv)
	}
}

type fieldTable map[string]Accessor

var fields = map[Kind]fieldTable{}

func register(kind Kind, name string, typ FieldType, get func(Record) (any, bool)) {
	t, ok := fields[kind]
	if !ok {
		t = fieldTable{}
		fields[kind] = t
	}
	t[strings.ToLower(name)] = Accessor{Name: name, Kind: kind, Type: typ, get: get}
}

func str(s string) (any, bool) { return s, s != "" }

func optBool(b *bool) (any, bool) {
	if b == nil {
		return nil, false
	}
	return *b, true
}

func init() {
	for k := range kindNames {
		kind := Kind(k)
		register(kind, "Context.Operation.Id", FieldTypeString, func(r Record) (any, bool) { return str(Base(r).Context.OperationID) })
		register(kind, "Context.Operation.Name", FieldTypeString, func(r Record) (any, bool) { return str(Base(r).Context.OperationName) })
		register(kind, "Context.Cloud.RoleName", FieldTypeString, func(r Record) (any, bool) { return str(Base(r).Context.RoleName) })
		register(kind, "Context.Cloud.RoleInstance", FieldTypeString, func(r Record) (any, bool) { return str(Base(r).Context.RoleInstance) })
	}

	register(KindRequest, "Id", FieldTypeString, func(r Record) (any, bool) { return str(r.(*Request).ID) })
	register(KindRequest, "Name", FieldTypeString, func(r Record) (any, bool) { return str(r.(*Request).Name) })
	register(KindRequest, "Url", FieldTypeString, func(r Record) (any, bool) { return str(r.(*Request).URL) })
	register(KindRequest, "ResponseCode", FieldTypeString, func(r Record) (any, bool) { return str(r.(*Request).ResponseCode) })
	register(KindRequest, "Success", FieldTypeBool, func(r Record) (any, bool) { return optBool(r.(*Request).Success) })
	register(KindRequest, "Duration", FieldTypeDuration, func(r Record) (any, bool) { return r.(*Request).Duration, true })

	register(KindDependency, "Id", FieldTypeString, func(r Record) (any, bool) { return str(r.(*Dependency).ID) })
	register(KindDependency, "Name", FieldTypeString, func(r Record) (any, bool) { return str(r.(*Dependency).Name) })
	register(KindDependency, "Type", FieldTypeString, func(r Record) (any, bool) { return str(r.(*Dependency).Type) })
	register(KindDependency, "Target", FieldTypeString, func(r Record) (any, bool) { return str(r.(*Dependency).Target) })
	register(KindDependency, "Data", FieldTypeString, func(r Record) (any, bool) { return str(r.(*Dependency).Data) })
	register(KindDependency, "ResultCode", FieldTypeString, func(r Record) (any, bool) { return str(r.(*Dependency).ResultCode) })
	register(KindDependency, "Success", FieldTypeBool, func(r Record) (any, bool) { return optBool(r.(*Dependency).Success) })
	register(KindDependency, "Duration", FieldTypeDuration, func(r Record) (any, bool) { return r.(*Dependency).Duration, true })

	register(KindException, "Message", FieldTypeString, func(r Record) (any, bool) { return str(r.(*Exception).Message) })
	register(KindException, "ExceptionType", FieldTypeString, func(r Record) (any, bool) { return str(r.(*Exception).ExceptionType) })
	register(KindException, "ExceptionMessage", FieldTypeString, func(r Record) (any, bool) { return str(r.(*Exception).ExceptionMessage) })
	register(KindException, "StackTrace", FieldTypeString, func(r Record) (any, bool) { return str(r.(*Exception).StackTrace) })
	register(KindException, "ProblemId", FieldTypeString, func(r Record) (any, bool) { return str(r.(*Exception).ProblemID) })
	register(KindException, "SeverityLevel", FieldTypeString, func(r Record) (any, bool) { return str(r.(*Exception).SeverityLevel) })

	register(KindEvent, "Name", FieldTypeString, func(r Record) (any, bool) { return str(r.(*Event).Name) })

	register(KindTrace, "Message", FieldTypeString, func(r Record) (any, bool) { return str(r.(*Trace).Message) })
	register(KindTrace, "SeverityLevel", FieldTypeString, func(r Record) (any, bool) { return str(r.(*Trace).SeverityLevel) })

	register(KindMetric, "Name", FieldTypeString, func(r Record) (any, bool) { return str(r.(*Metric).Name) })
	register(KindMetric, "Value", FieldTypeNumber, func(r Record) (any, bool) { return r.(*Metric).Value, true })

	register(KindPerformanceCounter, "Name", FieldTypeString, func(r Record) (any, bool) { return str(r.(*PerformanceCounter).Name) })
	register(KindPerformanceCounter, "Value", FieldTypeNumber, func(r Record) (any, bool) { return r.(*PerformanceCounter).Value, true })
}

// Lookup resolves a field name for a record kind. Field names are matched
// case-insensitively; custom dimension and custom metric keys are matched exactly.
func Lookup(kind Kind, name string) (Accessor, error) {
	if name == "" {
		return Accessor{}, fmt.Errorf("%w: field name is empty", ErrUnknownField)
	}
	if _, ok := fields[kind]; !ok {
		return Accessor{}, fmt.Errorf("%w: %q for unsupported kind %s", ErrUnknownField, name, kind)
	}

	if key, ok := cutPrefixFold(name, CustomDimensionsPrefix); ok && key != "" {
		return Accessor{Name: name, Kind: kind, Type: FieldTypeString, get: func(r Record) (any, bool) {
			v, found := Base(r).Properties[key]
			return v, found
		}}, nil
	}
	if key, ok := cutPrefixFold(name, CustomMetricsPrefix); ok && key != "" {
		return Accessor{Name: name, Kind: kind, Type: FieldTypeNumber, get: func(r Record) (any, bool) {
			v, found := Base(r).Measurements[key]
			return v, found
		}}, nil
	}

	a, ok := fields[kind][strings.ToLower(name)]
	if !ok {
		return Accessor{}, fmt.Errorf("%w: %q is not a field of %s", ErrUnknownField, name, kind)
	}
	return a, nil
}

// StringFields returns the accessors of all built-in string fields of a kind in name order.
func StringFields(kind Kind) []Accessor {
	var out []Accessor
	for _, a := range fields[kind] {
		if a.Type == FieldTypeString {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func cutPrefixFold(s, prefix string) (string, bool) {
	if len(s) < len(prefix) || !strings.EqualFold(s[:len(prefix)], prefix) {
		return "", false
	}
	return s[len(prefix):], true
}
