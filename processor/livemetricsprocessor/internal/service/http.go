// Copyright New Relic, Inc. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package service // import "github.com/newrelic/nrdot-livemetrics/processor/livemetricsprocessor/internal/service"

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/tilinna/clock"
	"go.uber.org/zap"

	"github.com/newrelic/nrdot-livemetrics/internal/common/sanitize"
	"github.com/newrelic/nrdot-livemetrics/processor/livemetricsprocessor/internal/filtering"
)

// Protocol headers.
const (
	HeaderTransmissionTime        = "x-ms-qps-transmission-time"
	HeaderConfigurationETag       = "x-ms-qps-configuration-etag"
	HeaderAuthAPIKey              = "x-ms-qps-auth-api-key"
	HeaderStreamID                = "x-ms-qps-stream-id"
	HeaderMachineName             = "x-ms-qps-machine-name"
	HeaderInstanceName            = "x-ms-qps-instance-name"
	HeaderRoleName                = "x-ms-qps-role-name"
	HeaderInvariantVersion        = "x-ms-qps-invariant-version"
	HeaderSubscribed              = "x-ms-qps-subscribed"
	HeaderPollingIntervalHint     = "x-ms-qps-service-polling-interval-hint"
	HeaderServiceEndpointRedirect = "x-ms-qps-service-endpoint-redirect"
)

// InvariantVersion is the protocol version reported with every call.
const InvariantVersion = 5

// ticksAtUnixEpoch is the number of 100ns ticks between 0001-01-01 and 1970-01-01.
const ticksAtUnixEpoch = 621355968000000000

// maxResponseSize bounds the response body read from the control plane.
const maxResponseSize = 4 << 20

var (
	errUnexpectedStatus = errors.New("unexpected status code")
	errResponseTooLarge = errors.New("response body too large")
)

// HTTPSettings identifies this process to the control plane.
type HTTPSettings struct {
	Endpoint     string
	Timeout      time.Duration
	StreamID     string
	MachineName  string
	InstanceName string
	RoleName     string
	Version      string
	// Clock stamps submissions that carry no sample. Defaults to the real time clock.
	Clock clock.Clock
}

// HTTPClient is a Client speaking JSON over HTTP.
type HTTPClient struct {
	settings HTTPSettings
	client   *http.Client
	logger   *zap.Logger

	mu       sync.Mutex
	endpoint *url.URL
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient validates the endpoint and returns a client. A nil httpClient uses a default
// client; every call is bounded by settings.Timeout either way.
func NewHTTPClient(settings HTTPSettings, httpClient *http.Client, logger *zap.Logger) (*HTTPClient, error) {
	endpoint, err := parseEndpoint(settings.Endpoint)
	if err != nil {
		return nil, err
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if settings.Clock == nil {
		settings.Clock = clock.Realtime()
	}
	return &HTTPClient{settings: settings, client: httpClient, logger: logger, endpoint: endpoint}, nil
}

func parseEndpoint(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid endpoint %q: must be an absolute http(s) URL", sanitize.String(raw))
	}
	return u, nil
}

// Endpoint returns the base URL calls currently go to.
func (c *HTTPClient) Endpoint() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.endpoint.String()
}

// Ping asks whether data should be collected.
func (c *HTTPClient) Ping(ctx context.Context, instrumentationKey string, timestamp time.Time, etag, authAPIKey string) (*Response, error) {
	body := &Sample{
		Version:          c.settings.Version,
		InvariantVersion: InvariantVersion,
		Instance:         c.settings.InstanceName,
		RoleName:         c.settings.RoleName,
		MachineName:      c.settings.MachineName,
		StreamID:         c.settings.StreamID,
		Timestamp:        timestamp.UTC(),
	}
	return c.post(ctx, "ping", instrumentationKey, timestamp, etag, authAPIKey, body)
}

// SubmitSamples posts the samples of one or more cycles. The configuration errors are
// attached to every sample.
func (c *HTTPClient) SubmitSamples(ctx context.Context, samples []*Sample, instrumentationKey, etag, authAPIKey string, errs []*filtering.CollectionConfigurationError) (*Response, error) {
	if errs == nil {
		errs = []*filtering.CollectionConfigurationError{}
	}
	body := make([]Sample, 0, len(samples))
	for _, s := range samples {
		out := *s
		out.CollectionConfigurationErrors = errs
		body = append(body, out)
	}

	transmission := c.settings.Clock.Now()
	if len(samples) > 0 {
		transmission = samples[len(samples)-1].Timestamp
	}
	return c.post(ctx, "post", instrumentationKey, transmission, etag, authAPIKey, body)
}

func (c *HTTPClient) post(ctx context.Context, path, instrumentationKey string, timestamp time.Time, etag, authAPIKey string, payload any) (*Response, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", path, err)
	}

	if c.settings.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.settings.Timeout)
		defer cancel()
	}

	target := c.url(path, instrumentationKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderTransmissionTime, strconv.FormatInt(toTicks(timestamp), 10))
	req.Header.Set(HeaderConfigurationETag, etag)
	req.Header.Set(HeaderStreamID, c.settings.StreamID)
	req.Header.Set(HeaderMachineName, c.settings.MachineName)
	req.Header.Set(HeaderInstanceName, c.settings.InstanceName)
	req.Header.Set(HeaderRoleName, c.settings.RoleName)
	req.Header.Set(HeaderInvariantVersion, strconv.Itoa(InvariantVersion))
	if authAPIKey != "" {
		req.Header.Set(HeaderAuthAPIKey, authAPIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", path, err)
	}
	if len(respBody) > maxResponseSize {
		return nil, fmt.Errorf("%w: %s returned more than %d bytes", errResponseTooLarge, path, maxResponseSize)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s returned %d", errUnexpectedStatus, path, resp.StatusCode)
	}

	c.followRedirect(resp.Header.Get(HeaderServiceEndpointRedirect))
	return parseResponse(resp.Header, respBody, etag)
}

func (c *HTTPClient) url(path, instrumentationKey string) *url.URL {
	c.mu.Lock()
	base := *c.endpoint
	c.mu.Unlock()

	u := base.JoinPath(path)
	q := u.Query()
	q.Set("ikey", instrumentationKey)
	u.RawQuery = q.Encode()
	return u
}

func (c *HTTPClient) followRedirect(raw string) {
	if raw == "" {
		return
	}
	u, err := parseEndpoint(raw)
	if err != nil {
		c.logger.Warn("Ignoring invalid service endpoint redirect", zap.Error(err))
		return
	}
	c.mu.Lock()
	changed := c.endpoint.String() != u.String()
	c.endpoint = u
	c.mu.Unlock()
	if changed {
		c.logger.Info("Service endpoint redirected", zap.String("endpoint", sanitize.URL(u)))
	}
}

func parseResponse(header http.Header, body []byte, etag string) (*Response, error) {
	r := &Response{}
	if v := header.Get(HeaderSubscribed); v != "" {
		subscribed, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid %s header %q", HeaderSubscribed, sanitize.String(v))
		}
		r.Subscribed = &subscribed
	}
	if v := header.Get(HeaderPollingIntervalHint); v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err == nil && ms > 0 {
			r.PollingIntervalHint = time.Duration(ms) * time.Millisecond
		}
	}

	newETag := header.Get(HeaderConfigurationETag)
	if len(bytes.TrimSpace(body)) == 0 || (newETag != "" && newETag == etag) {
		return r, nil
	}
	var info filtering.CollectionConfigurationInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("failed to parse collection configuration: %w", err)
	}
	if info.ETag == "" {
		info.ETag = newETag
	}
	r.Configuration = &info
	return r, nil
}

func toTicks(t time.Time) int64 {
	return t.UnixNano()/100 + ticksAtUnixEpoch
}
