// Copyright New Relic, Inc. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package filtering // import "github.com/newrelic/nrdot-livemetrics/processor/livemetricsprocessor/internal/filtering"

import (
	"errors"
	"fmt"
)

var (
	// ErrNilConfiguration is returned when a configuration is built from a nil descriptor.
	ErrNilConfiguration = errors.New("collection configuration info is nil")

	ErrEmptyComparand       = errors.New("comparand is empty")
	ErrUnsupportedPredicate = errors.New("predicate is not supported for the field type")
	ErrInvalidComparand     = errors.New("comparand cannot be parsed for the field type")
	ErrInvalidProjection    = errors.New("projection cannot be compiled")
	ErrInvalidAggregation   = errors.New("aggregation is not supported")
	ErrUnsupportedKind      = errors.New("telemetry type is not supported")
)

// FilterError reports a filter that could not be built.
type FilterError struct {
	Info FilterInfo
	Err  error
}

func (e *FilterError) Error() string {
	return fmt.Sprintf("failed to create filter %q %s %q: %v", e.Info.FieldName, e.Info.Predicate, e.Info.Comparand, e.Err)
}

func (e *FilterError) Unwrap() error { return e.Err }

// ErrorType classifies a configuration error reported back to the control plane.
type ErrorType string

const (
	ErrorTypeUnknown                                       ErrorType = "Unknown"
	ErrorTypeMetricDuplicateIDs                            ErrorType = "MetricDuplicateIds"
	ErrorTypeMetricTelemetryTypeUnsupported                ErrorType = "MetricTelemetryTypeUnsupported"
	ErrorTypeMetricFailureToCreate                         ErrorType = "MetricFailureToCreate"
	ErrorTypeMetricFailureToCreateFilterUnexpected         ErrorType = "MetricFailureToCreateFilterUnexpected"
	ErrorTypeDocumentStreamDuplicateIDs                    ErrorType = "DocumentStreamDuplicateIds"
	ErrorTypeDocumentStreamFailureToCreate                 ErrorType = "DocumentStreamFailureToCreate"
	ErrorTypeDocumentStreamFailureToCreateFilterUnexpected ErrorType = "DocumentStreamFailureToCreateFilterUnexpected"
	ErrorTypeCollectionConfigurationFailureToCreate        ErrorType = "CollectionConfigurationFailureToCreateUnexpected"
)

// Keys of CollectionConfigurationError.Data.
const (
	DataKeyETag             = "ETag"
	DataKeyMetricID         = "MetricId"
	DataKeySessionID        = "SessionId"
	DataKeyDocumentStreamID = "DocumentStreamId"
	DataKeyTelemetryType    = "TelemetryType"
	DataKeyFilterFieldName  = "FilterFieldName"
	DataKeyFilterPredicate  = "FilterPredicate"
	DataKeyFilterComparand  = "FilterComparand"
)

// CollectionConfigurationError is a non-fatal problem found while building a
// configuration. It is sent to the control plane with every submission.
type CollectionConfigurationError struct {
	ErrorType     ErrorType         `json:"CollectionConfigurationErrorType"`
	Message       string            `json:"Message"`
	FullException string            `json:"FullException"`
	Data          map[string]string `json:"Data"`
}

func (e *CollectionConfigurationError) Error() string {
	return fmt.Sprintf("%s: %s", e.ErrorType, e.Message)
}

// NewCollectionConfigurationError builds an error from its parts. Data is given as key/value pairs.
func NewCollectionConfigurationError(typ ErrorType, message string, err error, kv ...string) *CollectionConfigurationError {
	ce := &CollectionConfigurationError{
		ErrorType: typ,
		Message:   message,
		Data:      make(map[string]string, len(kv)/2+1),
	}
	if err != nil {
		ce.FullException = err.Error()
	}
	for i := 0; i+1 < len(kv); i += 2 {
		ce.Data[kv[i]] = kv[i+1]
	}

	var fe *FilterError
	if errors.As(err, &fe) {
		ce.Data[DataKeyFilterFieldName] = fe.Info.FieldName
		ce.Data[DataKeyFilterPredicate] = fe.Info.Predicate.String()
		ce.Data[DataKeyFilterComparand] = fe.Info.Comparand
	}
	return ce
}
