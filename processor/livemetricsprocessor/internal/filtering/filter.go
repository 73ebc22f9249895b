// Copyright New Relic, Inc. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package filtering // import "github.com/newrelic/nrdot-livemetrics/processor/livemetricsprocessor/internal/filtering"

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/newrelic/nrdot-livemetrics/processor/livemetricsprocessor/internal/telemetry"
)

type checkFunc func(telemetry.Record) (bool, error)

// Filter is a compiled comparison of one record field against a comparand.
// Field resolution and comparand parsing happen once at construction.
type Filter struct {
	info  FilterInfo
	check checkFunc
}

// NewFilter compiles a filter for records of the given kind. The returned error is a *FilterError.
func NewFilter(kind telemetry.Kind, info FilterInfo) (*Filter, error) {
	check, err := compileFilter(kind, info)
	if err != nil {
		return nil, &FilterError{Info: info, Err: err}
	}
	return &Filter{info: info, check: check}, nil
}

// Info returns the descriptor the filter was built from.
func (f *Filter) Info() FilterInfo { return f.info }

// Check evaluates the filter. A null or missing field value fails Equal, Contains and
// ordering comparisons without an error. An error means the field value could not be
// compared, and the record is treated as filtered out.
func (f *Filter) Check(r telemetry.Record) (bool, error) {
	return f.check(r)
}

func compileFilter(kind telemetry.Kind, info FilterInfo) (checkFunc, error) {
	if !info.Predicate.valid() {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedPredicate, info.Predicate)
	}
	if info.Comparand == "" {
		return nil, ErrEmptyComparand
	}
	if info.FieldName == telemetry.AnyField {
		return compileAnyField(kind, info.Predicate, info.Comparand)
	}

	acc, err := telemetry.Lookup(kind, info.FieldName)
	if err != nil {
		return nil, err
	}

	switch acc.Type {
	case telemetry.FieldTypeString:
		return compileString(acc, info.Predicate, info.Comparand)
	case telemetry.FieldTypeBool:
		return compileBool(acc, info.Predicate, info.Comparand)
	case telemetry.FieldTypeNumber:
		return compileNumber(acc, info.Predicate, info.Comparand)
	case telemetry.FieldTypeDuration:
		return compileDuration(acc, info.Predicate, info.Comparand)
	default:
		return nil, fmt.Errorf("%w: %s on %s", ErrUnsupportedPredicate, info.Predicate, acc.Type)
	}
}

func unsupported(p Predicate, t telemetry.FieldType) error {
	return fmt.Errorf("%w: %s on %s field", ErrUnsupportedPredicate, p, t)
}

func invalidComparand(comparand string, t telemetry.FieldType) error {
	return fmt.Errorf("%w: %q as %s", ErrInvalidComparand, comparand, t)
}

func compileString(acc telemetry.Accessor, p Predicate, comparand string) (checkFunc, error) {
	lowered := strings.ToLower(comparand)

	switch p {
	case PredicateEqual:
		return func(r telemetry.Record) (bool, error) {
			v, ok := acc.Get(r)
			return ok && strings.EqualFold(v.(string), comparand), nil
		}, nil
	case PredicateNotEqual:
		return func(r telemetry.Record) (bool, error) {
			v, ok := acc.Get(r)
			return !ok || !strings.EqualFold(v.(string), comparand), nil
		}, nil
	case PredicateContains:
		return func(r telemetry.Record) (bool, error) {
			v, ok := acc.Get(r)
			return ok && strings.Contains(strings.ToLower(v.(string)), lowered), nil
		}, nil
	case PredicateDoesNotContain:
		return func(r telemetry.Record) (bool, error) {
			v, ok := acc.Get(r)
			return !ok || !strings.Contains(strings.ToLower(v.(string)), lowered), nil
		}, nil
	}

	// Ordering on text compares the field as a number.
	c, err := strconv.ParseFloat(strings.TrimSpace(comparand), 64)
	if err != nil {
		return nil, invalidComparand(comparand, telemetry.FieldTypeNumber)
	}
	return func(r telemetry.Record) (bool, error) {
		v, ok := acc.Get(r)
		if !ok {
			return false, nil
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(v.(string)), 64)
		if err != nil {
			return false, fmt.Errorf("value %q of field %q is not a number", v, acc.Name)
		}
		return compareOrdered(p, f, c), nil
	}, nil
}

func compileBool(acc telemetry.Accessor, p Predicate, comparand string) (checkFunc, error) {
	if p != PredicateEqual && p != PredicateNotEqual {
		return nil, unsupported(p, acc.Type)
	}

	var c bool
	switch {
	case strings.EqualFold(comparand, "true"):
		c = true
	case strings.EqualFold(comparand, "false"):
		c = false
	default:
		return nil, invalidComparand(comparand, acc.Type)
	}

	equal := p == PredicateEqual
	return func(r telemetry.Record) (bool, error) {
		v, ok := acc.Get(r)
		if !ok {
			return !equal, nil
		}
		return (v.(bool) == c) == equal, nil
	}, nil
}

func compileNumber(acc telemetry.Accessor, p Predicate, comparand string) (checkFunc, error) {
	if p == PredicateContains || p == PredicateDoesNotContain {
		return nil, unsupported(p, acc.Type)
	}
	c, err := strconv.ParseFloat(strings.TrimSpace(comparand), 64)
	if err != nil {
		return nil, invalidComparand(comparand, acc.Type)
	}
	return numericCheck(acc, p, c, func(v any) float64 { return v.(float64) }), nil
}

func compileDuration(acc telemetry.Accessor, p Predicate, comparand string) (checkFunc, error) {
	if p == PredicateContains || p == PredicateDoesNotContain {
		return nil, unsupported(p, acc.Type)
	}
	d, err := ParseDuration(comparand)
	if err != nil {
		return nil, invalidComparand(comparand, acc.Type)
	}
	return numericCheck(acc, p, float64(d), func(v any) float64 { return float64(v.(time.Duration)) }), nil
}

func numericCheck(acc telemetry.Accessor, p Predicate, c float64, conv func(any) float64) checkFunc {
	return func(r telemetry.Record) (bool, error) {
		v, ok := acc.Get(r)
		if !ok {
			return p == PredicateNotEqual, nil
		}
		f := conv(v)
		switch p {
		case PredicateEqual:
			return f == c, nil
		case PredicateNotEqual:
			return f != c, nil
		default:
			return compareOrdered(p, f, c), nil
		}
	}
}

func compareOrdered(p Predicate, v, c float64) bool {
	if math.IsNaN(v) || math.IsNaN(c) {
		return false
	}
	switch p {
	case PredicateLessThan:
		return v < c
	case PredicateGreaterThan:
		return v > c
	case PredicateLessThanOrEqual:
		return v <= c
	case PredicateGreaterThanOrEqual:
		return v >= c
	default:
		return false
	}
}

// compileAnyField matches the comparand against every string field and custom dimension.
func compileAnyField(kind telemetry.Kind, p Predicate, comparand string) (checkFunc, error) {
	var match func(string) bool
	lowered := strings.ToLower(comparand)
	switch p {
	case PredicateEqual, PredicateNotEqual:
		match = func(s string) bool { return strings.EqualFold(s, comparand) }
	case PredicateContains, PredicateDoesNotContain:
		match = func(s string) bool { return strings.Contains(strings.ToLower(s), lowered) }
	default:
		return nil, unsupported(p, telemetry.FieldTypeString)
	}

	accessors := telemetry.StringFields(kind)
	negate := p == PredicateNotEqual || p == PredicateDoesNotContain
	return func(r telemetry.Record) (bool, error) {
		found := false
		for _, acc := range accessors {
			if v, ok := acc.Get(r); ok && match(v.(string)) {
				found = true
				break
			}
		}
		if !found && r != nil {
			for _, v := range telemetry.Base(r).Properties {
				if match(v) {
					found = true
					break
				}
			}
		}
		return found != negate, nil
	}, nil
}

// ParseDuration parses a duration comparand. It accepts a bare number of milliseconds,
// a Go duration ("150ms") or a time span of the form [-][d.]hh:mm:ss[.fffffff].
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if ms, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(ms * float64(time.Millisecond)), nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	return parseTimeSpan(s)
}

func parseTimeSpan(s string) (time.Duration, error) {
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("invalid time span %q", s)
	}

	var days int64
	hoursPart := parts[0]
	if i := strings.IndexByte(hoursPart, '.'); i >= 0 {
		d, err := strconv.ParseInt(hoursPart[:i], 10, 64)
		if err != nil || d < 0 {
			return 0, fmt.Errorf("invalid days in time span %q", s)
		}
		days, hoursPart = d, hoursPart[i+1:]
	}
	hours, err := strconv.Atoi(hoursPart)
	if err != nil || hours < 0 || hours > 23 {
		return 0, fmt.Errorf("invalid hours in time span %q", s)
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil || minutes < 0 || minutes > 59 {
		return 0, fmt.Errorf("invalid minutes in time span %q", s)
	}

	secPart, fracPart, hasFrac := strings.Cut(parts[2], ".")
	seconds, err := strconv.Atoi(secPart)
	if err != nil || seconds < 0 || seconds > 59 {
		return 0, fmt.Errorf("invalid seconds in time span %q", s)
	}
	var nanos int64
	if hasFrac {
		if fracPart == "" || len(fracPart) > 9 {
			return 0, fmt.Errorf("invalid fraction in time span %q", s)
		}
		n, err := strconv.ParseInt(fracPart+strings.Repeat("0", 9-len(fracPart)), 10, 64)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid fraction in time span %q", s)
		}
		nanos = n
	}

	d := time.Duration(days)*24*time.Hour +
		time.Duration(hours)*time.Hour +
		time.Duration(minutes)*time.Minute +
		time.Duration(seconds)*time.Second +
		time.Duration(nanos)
	if neg {
		d = -d
	}
	return d, nil
}
