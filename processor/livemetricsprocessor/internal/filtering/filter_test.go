// Copyright New Relic, Inc. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package filtering

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newrelic/nrdot-livemetrics/processor/livemetricsprocessor/internal/telemetry"
)

func newRequest() *telemetry.Request {
	return &telemetry.Request{
		Envelope: telemetry.Envelope{
			Context:    telemetry.Context{OperationName: "GET /api/orders", RoleName: "checkout"},
			Properties: map[string]string{"tenant": "Contoso", "region": "eu-west"},
		},
		Name:         "GET /api/orders",
		URL:          "https://shop.example.com/api/orders?id=42",
		ResponseCode: "500",
		Success:      telemetry.BoolPtr(false),
		Duration:     250 * time.Millisecond,
	}
}

func TestFilterCheck(t *testing.T) {
	testCases := []struct {
		name      string
		field     string
		predicate Predicate
		comparand string
		expected  bool
	}{
		{"string equal ignores case", "Name", PredicateEqual, "get /API/orders", true},
		{"string not equal", "Name", PredicateNotEqual, "GET /api/carts", true},
		{"string contains", "Url", PredicateContains, "ORDERS", true},
		{"string does not contain", "Url", PredicateDoesNotContain, "carts", true},
		{"string ordering parses number", "ResponseCode", PredicateGreaterThanOrEqual, "500", true},
		{"string ordering below", "ResponseCode", PredicateLessThan, "400", false},
		{"bool equal", "Success", PredicateEqual, "false", true},
		{"bool not equal", "Success", PredicateNotEqual, "FALSE", false},
		{"duration greater in ms", "Duration", PredicateGreaterThan, "200", true},
		{"duration go syntax", "Duration", PredicateLessThanOrEqual, "250ms", true},
		{"duration time span", "Duration", PredicateLessThan, "00:00:00.2", false},
		{"custom dimension", "CustomDimensions.tenant", PredicateEqual, "contoso", true},
		{"missing custom dimension fails equal", "CustomDimensions.missing", PredicateEqual, "x", false},
		{"missing custom dimension passes not equal", "CustomDimensions.missing", PredicateNotEqual, "x", true},
		{"context field", "Context.Cloud.RoleName", PredicateContains, "check", true},
		{"any field matches property", "*", PredicateContains, "west", true},
		{"any field matches field", "*", PredicateEqual, "500", true},
		{"any field negated", "*", PredicateDoesNotContain, "nothing-here", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f, err := NewFilter(telemetry.KindRequest, FilterInfo{FieldName: tc.field, Predicate: tc.predicate, Comparand: tc.comparand})
			require.NoError(t, err)
			ok, err := f.Check(newRequest())
			require.NoError(t, err)
			assert.Equal(t, tc.expected, ok)
		})
	}
}

func TestNewFilterErrors(t *testing.T) {
	testCases := []struct {
		name     string
		kind     telemetry.Kind
		info     FilterInfo
		expected error
	}{
		{"empty comparand", telemetry.KindRequest, FilterInfo{FieldName: "Name", Predicate: PredicateEqual}, ErrEmptyComparand},
		{"unknown field", telemetry.KindRequest, FilterInfo{FieldName: "Nope", Predicate: PredicateEqual, Comparand: "x"}, telemetry.ErrUnknownField},
		{"field of another kind", telemetry.KindTrace, FilterInfo{FieldName: "ResponseCode", Predicate: PredicateEqual, Comparand: "200"}, telemetry.ErrUnknownField},
		{"contains on bool", telemetry.KindRequest, FilterInfo{FieldName: "Success", Predicate: PredicateContains, Comparand: "true"}, ErrUnsupportedPredicate},
		{"contains on duration", telemetry.KindRequest, FilterInfo{FieldName: "Duration", Predicate: PredicateContains, Comparand: "1"}, ErrUnsupportedPredicate},
		{"ordering on any field", telemetry.KindRequest, FilterInfo{FieldName: "*", Predicate: PredicateLessThan, Comparand: "1"}, ErrUnsupportedPredicate},
		{"bad bool comparand", telemetry.KindRequest, FilterInfo{FieldName: "Success", Predicate: PredicateEqual, Comparand: "yes"}, ErrInvalidComparand},
		{"bad duration comparand", telemetry.KindRequest, FilterInfo{FieldName: "Duration", Predicate: PredicateEqual, Comparand: "soon"}, ErrInvalidComparand},
		{"bad number comparand", telemetry.KindMetric, FilterInfo{FieldName: "Value", Predicate: PredicateGreaterThan, Comparand: "lots"}, ErrInvalidComparand},
		{"ordering on text with text comparand", telemetry.KindRequest, FilterInfo{FieldName: "Name", Predicate: PredicateGreaterThan, Comparand: "abc"}, ErrInvalidComparand},
		{"unknown predicate", telemetry.KindRequest, FilterInfo{FieldName: "Name", Predicate: Predicate(-1), Comparand: "x"}, ErrUnsupportedPredicate},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f, err := NewFilter(tc.kind, tc.info)
			require.Error(t, err)
			assert.Nil(t, f)
			assert.ErrorIs(t, err, tc.expected)

			var fe *FilterError
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, tc.info, fe.Info)
		})
	}
}

func TestFilterRuntimeError(t *testing.T) {
	f, err := NewFilter(telemetry.KindRequest, FilterInfo{FieldName: "CustomDimensions.tenant", Predicate: PredicateGreaterThan, Comparand: "3"})
	require.NoError(t, err)

	ok, err := f.Check(newRequest())
	assert.False(t, ok)
	assert.ErrorContains(t, err, "not a number")
}

func TestFilterNullableBool(t *testing.T) {
	req := newRequest()
	req.Success = nil

	eq, err := NewFilter(telemetry.KindRequest, FilterInfo{FieldName: "Success", Predicate: PredicateEqual, Comparand: "true"})
	require.NoError(t, err)
	ne, err := NewFilter(telemetry.KindRequest, FilterInfo{FieldName: "Success", Predicate: PredicateNotEqual, Comparand: "true"})
	require.NoError(t, err)

	ok, _ := eq.Check(req)
	assert.False(t, ok)
	ok, _ = ne.Check(req)
	assert.True(t, ok)
}

func TestParseDuration(t *testing.T) {
	testCases := []struct {
		in       string
		expected time.Duration
	}{
		{"150", 150 * time.Millisecond},
		{"0.5", 500 * time.Microsecond},
		{"2s", 2 * time.Second},
		{"00:00:01", time.Second},
		{"00:01:00.25", time.Minute + 250*time.Millisecond},
		{"1.02:00:00", 26 * time.Hour},
		{"-00:00:05", -5 * time.Second},
	}
	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			d, err := ParseDuration(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, d)
		})
	}

	for _, bad := range []string{"", "abc", "00:60:00", "24:00:00", "1:2", "00:00:00."} {
		_, err := ParseDuration(bad)
		assert.Error(t, err, bad)
	}
}

func TestFilterConjunctionGroup(t *testing.T) {
	g, errs := NewFilterConjunctionGroup(telemetry.KindRequest, FilterConjunctionGroupInfo{Filters: []FilterInfo{
		{FieldName: "Name", Predicate: PredicateContains, Comparand: "orders"},
		{FieldName: "Bogus", Predicate: PredicateEqual, Comparand: "x"},
		{FieldName: "Success", Predicate: PredicateEqual, Comparand: "false"},
	}})
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], telemetry.ErrUnknownField)
	assert.Equal(t, 2, g.Len())

	ok, rerrs := g.CheckFilters(newRequest())
	assert.True(t, ok)
	assert.Empty(t, rerrs)

	req := newRequest()
	req.Success = telemetry.BoolPtr(true)
	ok, _ = g.CheckFilters(req)
	assert.False(t, ok)

	empty, errs := NewFilterConjunctionGroup(telemetry.KindRequest, FilterConjunctionGroupInfo{})
	assert.Empty(t, errs)
	ok, _ = empty.CheckFilters(req)
	assert.True(t, ok, "an empty group passes")
}

func TestFilterConjunctionGroupStopsAtError(t *testing.T) {
	g, errs := NewFilterConjunctionGroup(telemetry.KindRequest, FilterConjunctionGroupInfo{Filters: []FilterInfo{
		{FieldName: "CustomDimensions.tenant", Predicate: PredicateLessThan, Comparand: "10"},
		{FieldName: "Name", Predicate: PredicateContains, Comparand: "orders"},
	}})
	require.Empty(t, errs)

	ok, rerrs := g.CheckFilters(newRequest())
	assert.False(t, ok)
	require.Len(t, rerrs, 1)
	assert.Contains(t, rerrs[0], "CustomDimensions.tenant")
}

func TestEnumJSON(t *testing.T) {
	var fi FilterInfo
	require.NoError(t, json.Unmarshal([]byte(`{"FieldName":"Name","Predicate":"contains","Comparand":"x"}`), &fi))
	assert.Equal(t, PredicateContains, fi.Predicate)

	require.NoError(t, json.Unmarshal([]byte(`{"FieldName":"Name","Predicate":3,"Comparand":"x"}`), &fi))
	assert.Equal(t, PredicateGreaterThan, fi.Predicate)

	require.NoError(t, json.Unmarshal([]byte(`{"FieldName":"Name","Predicate":"Matches","Comparand":"x"}`), &fi))
	assert.Equal(t, Predicate(-1), fi.Predicate)

	require.Error(t, json.Unmarshal([]byte(`{"Predicate":true}`), &fi))

	out, err := json.Marshal(OperationalizedMetricInfo{ID: "m", Aggregation: AggregationMax})
	require.NoError(t, err)
	assert.Contains(t, string(out), `"Aggregation":"Max"`)
}
