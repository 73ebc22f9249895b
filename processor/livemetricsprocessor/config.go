// Copyright New Relic, Inc. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package livemetricsprocessor // import "github.com/newrelic/nrdot-livemetrics/processor/livemetricsprocessor"

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.opentelemetry.io/collector/config/confighttp"
	"go.opentelemetry.io/collector/config/configopaque"
	"go.uber.org/multierr"

	"github.com/newrelic/nrdot-livemetrics/processor/livemetricsprocessor/internal/collection"
)

// Config defines configuration for the live metrics processor.
//
// Example configuration:
//
//	processors:
//	  livemetrics:
//	    endpoint: https://rt.services.visualstudio.com/QuickPulseService.svc
//	    timeout: 3s
//	    instrumentation_key: 00000000-0000-0000-0000-000000000000
//	    role_name: checkout
//	    max_document_field_length: 4096
//	    timings:
//	      collection_interval: 1s
type Config struct {
	// ClientConfig configures calls to the live metrics control plane. Endpoint is its
	// base URL and Timeout bounds every call.
	confighttp.ClientConfig `mapstructure:",squash"`

	// InstrumentationKey identifies the monitored application. Required.
	InstrumentationKey string `mapstructure:"instrumentation_key"`
	// AuthenticationAPIKey is sent with every call when set.
	AuthenticationAPIKey configopaque.String `mapstructure:"authentication_api_key"`
	// RoleName is reported as the cloud role of this instance.
	RoleName string `mapstructure:"role_name"`
	// InstanceName defaults to the host name.
	InstanceName string `mapstructure:"instance_name"`

	// DisableDocuments turns off the capture of full telemetry documents.
	DisableDocuments bool `mapstructure:"disable_documents"`
	// MaxDocumentFieldLength truncates string fields of captured documents.
	MaxDocumentFieldLength int `mapstructure:"max_document_field_length"`
	// MaxSampleStorageSize is how many unsent samples are kept for the next submission.
	MaxSampleStorageSize int `mapstructure:"max_sample_storage_size"`
	// CooldownTimeout is how long a retired accumulator may wait for in-flight writers.
	CooldownTimeout time.Duration `mapstructure:"cooldown_timeout"`

	Timings collection.Timings `mapstructure:"timings"`
	Quota   QuotaConfig        `mapstructure:"quota"`
}

// QuotaConfig sets the document quota buckets. Quota refills at max/60 per second.
type QuotaConfig struct {
	InitialGlobalQuota float64 `mapstructure:"initial_global_quota"`
	MaxGlobalQuota     float64 `mapstructure:"max_global_quota"`
	InitialStreamQuota float64 `mapstructure:"initial_stream_quota"`
	MaxStreamQuota     float64 `mapstructure:"max_stream_quota"`
}

// Validate checks the configuration for errors.
func (cfg *Config) Validate() error {
	var errs error
	if cfg.InstrumentationKey == "" {
		errs = multierr.Append(errs, errors.New("instrumentation_key must be set"))
	}
	if err := validateEndpoint(cfg.Endpoint); err != nil {
		errs = multierr.Append(errs, err)
	}
	if cfg.Timeout <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("timeout must be positive, got %s", cfg.Timeout))
	}
	if cfg.MaxDocumentFieldLength <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("max_document_field_length must be positive, got %d", cfg.MaxDocumentFieldLength))
	}
	if cfg.MaxSampleStorageSize < 0 {
		errs = multierr.Append(errs, fmt.Errorf("max_sample_storage_size must not be negative, got %d", cfg.MaxSampleStorageSize))
	}
	if cfg.CooldownTimeout < 0 {
		errs = multierr.Append(errs, fmt.Errorf("cooldown_timeout must not be negative, got %s", cfg.CooldownTimeout))
	}
	errs = multierr.Append(errs, cfg.Quota.validate())
	return multierr.Append(errs, cfg.Timings.Validate())
}

func validateEndpoint(endpoint string) error {
	if endpoint == "" {
		return errors.New("endpoint must be set")
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("endpoint is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("endpoint must use http or https, got %q", u.Scheme)
	}
	return nil
}

func (q QuotaConfig) validate() error {
	var errs error
	if q.MaxGlobalQuota <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("quota.max_global_quota must be positive, got %v", q.MaxGlobalQuota))
	}
	if q.MaxStreamQuota <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("quota.max_stream_quota must be positive, got %v", q.MaxStreamQuota))
	}
	if q.InitialGlobalQuota < 0 || q.InitialGlobalQuota > q.MaxGlobalQuota {
		errs = multierr.Append(errs, fmt.Errorf("quota.initial_global_quota must be within [0, %v], got %v", q.MaxGlobalQuota, q.InitialGlobalQuota))
	}
	if q.InitialStreamQuota < 0 || q.InitialStreamQuota > q.MaxStreamQuota {
		errs = multierr.Append(errs, fmt.Errorf("quota.initial_stream_quota must be within [0, %v], got %v", q.MaxStreamQuota, q.InitialStreamQuota))
	}
	return errs
}
