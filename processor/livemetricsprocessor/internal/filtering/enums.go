// Copyright New Relic, Inc. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package filtering // import "github.com/newrelic/nrdot-livemetrics/processor/livemetricsprocessor/internal/filtering"

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Predicate is the comparison a filter applies between a field and its comparand.
type Predicate int

const (
	PredicateEqual Predicate = iota
	PredicateNotEqual
	PredicateLessThan
	PredicateGreaterThan
	PredicateLessThanOrEqual
	PredicateGreaterThanOrEqual
	PredicateContains
	PredicateDoesNotContain
)

var predicateNames = [...]string{
	PredicateEqual:              "Equal",
	PredicateNotEqual:           "NotEqual",
	PredicateLessThan:           "LessThan",
	PredicateGreaterThan:        "GreaterThan",
	PredicateLessThanOrEqual:    "LessThanOrEqual",
	PredicateGreaterThanOrEqual: "GreaterThanOrEqual",
	PredicateContains:           "Contains",
	PredicateDoesNotContain:     "DoesNotContain",
}

func (p Predicate) String() string {
	if p < 0 || int(p) >= len(predicateNames) {
		return fmt.Sprintf("Predicate(%d)", int(p))
	}
	return predicateNames[p]
}

func (p Predicate) valid() bool {
	return p >= 0 && int(p) < len(predicateNames)
}

// MarshalJSON encodes the predicate by name.
func (p Predicate) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// UnmarshalJSON accepts either the predicate name or its ordinal.
func (p *Predicate) UnmarshalJSON(data []byte) error {
	v, err := unmarshalEnum(data, predicateNames[:])
	if err != nil {
		return fmt.Errorf("predicate: %w", err)
	}
	*p = Predicate(v)
	return nil
}

// AggregationType is the reduction applied to the values an operationalized metric collects.
type AggregationType int

const (
	AggregationAvg AggregationType = iota
	AggregationSum
	AggregationMin
	AggregationMax
)

var aggregationNames = [...]string{
	AggregationAvg: "Avg",
	AggregationSum: "Sum",
	AggregationMin: "Min",
	AggregationMax: "Max",
}

func (a AggregationType) String() string {
	if a < 0 || int(a) >= len(aggregationNames) {
		return fmt.Sprintf("AggregationType(%d)", int(a))
	}
	return aggregationNames[a]
}

func (a AggregationType) valid() bool {
	return a >= 0 && int(a) < len(aggregationNames)
}

// MarshalJSON encodes the aggregation by name.
func (a AggregationType) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON accepts either the aggregation name or its ordinal.
func (a *AggregationType) UnmarshalJSON(data []byte) error {
	v, err := unmarshalEnum(data, aggregationNames[:])
	if err != nil {
		return fmt.Errorf("aggregation: %w", err)
	}
	*a = AggregationType(v)
	return nil
}

// unmarshalEnum decodes a name (case-insensitive) or an integer ordinal. Unknown
// ordinals are preserved so that the configuration builder can report them per item.
func unmarshalEnum(data []byte, names []string) (int, error) {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		for i, n := range names {
			if strings.EqualFold(n, name) {
				return i, nil
			}
		}
		return -1, nil
	}
	var ordinal int
	if err := json.Unmarshal(data, &ordinal); err != nil {
		return 0, fmt.Errorf("expected name or ordinal, got %s", string(data))
	}
	return ordinal, nil
}
