// Copyright New Relic, Inc. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package collection

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tilinna/clock"
	"go.uber.org/zap/zaptest"

	"github.com/newrelic/nrdot-livemetrics/processor/livemetricsprocessor/internal/filtering"
	"github.com/newrelic/nrdot-livemetrics/processor/livemetricsprocessor/internal/service"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

var errUnreachable = errors.New("service unreachable")

type answer struct {
	resp *service.Response
	err  error
}

type fakeClient struct {
	pings   []answer
	submits []answer

	pingCalls   int
	submitCalls int
	lastETag    string
	lastErrors  []*filtering.CollectionConfigurationError
	lastSamples []*service.Sample
}

func (f *fakeClient) Ping(_ context.Context, _ string, _ time.Time, etag, _ string) (*service.Response, error) {
	f.pingCalls++
	f.lastETag = etag
	return next(&f.pings)
}

func (f *fakeClient) SubmitSamples(_ context.Context, samples []*service.Sample, _, etag, _ string, errs []*filtering.CollectionConfigurationError) (*service.Response, error) {
	f.submitCalls++
	f.lastETag = etag
	f.lastErrors = errs
	f.lastSamples = samples
	return next(&f.submits)
}

func next(queue *[]answer) (*service.Response, error) {
	if len(*queue) == 0 {
		return nil, errUnreachable
	}
	a := (*queue)[0]
	*queue = (*queue)[1:]
	return a.resp, a.err
}

func subscribed(v bool) answer {
	return answer{resp: &service.Response{Subscribed: &v}}
}

func withConfiguration(v bool, etag string) answer {
	a := subscribed(v)
	a.resp.Configuration = &filtering.CollectionConfigurationInfo{ETag: etag}
	return a
}

func failed() answer { return answer{err: errUnreachable} }

type recorder struct {
	starts, stops int
	returned      [][]*service.Sample
	applied       []string
	applyErrs     map[string][]*filtering.CollectionConfigurationError
	applyFailure  error
	applyPanic    bool
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnStartCollection: func() { r.starts++ },
		OnStopCollection:  func() { r.stops++ },
		OnSubmitSamples: func() []*service.Sample {
			return []*service.Sample{{Timestamp: epoch}}
		},
		OnReturnFailedSamples: func(s []*service.Sample) { r.returned = append(r.returned, s) },
		OnUpdatedConfiguration: func(info *filtering.CollectionConfigurationInfo) ([]*filtering.CollectionConfigurationError, error) {
			if r.applyPanic {
				panic("boom")
			}
			r.applied = append(r.applied, info.ETag)
			return r.applyErrs[info.ETag], r.applyFailure
		},
	}
}

func newManager(t *testing.T, client service.Client, rec *recorder) (*StateManager, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock(epoch)
	return NewStateManager(client, mock, NewDefaultTimings(), rec.callbacks(), zaptest.NewLogger(t)), mock
}

func TestStartCollectionRunsOnce(t *testing.T) {
	client := &fakeClient{
		pings:   []answer{subscribed(true)},
		submits: []answer{subscribed(true), subscribed(true), subscribed(true)},
	}
	rec := &recorder{}
	m, _ := newManager(t, client, rec)

	require.False(t, m.IsCollectingData())
	assert.Equal(t, time.Second, m.UpdateState(t.Context(), "ikey", ""))
	assert.True(t, m.IsCollectingData())
	assert.Equal(t, 1, rec.starts)

	for range 3 {
		assert.Equal(t, time.Second, m.UpdateState(t.Context(), "ikey", ""))
		assert.True(t, m.IsCollectingData())
	}
	assert.Equal(t, 1, rec.starts)
	assert.Equal(t, 1, client.pingCalls)
	assert.Equal(t, 3, client.submitCalls)
	assert.Zero(t, rec.stops)
}

func TestSubmitFailuresForceStop(t *testing.T) {
	client := &fakeClient{
		pings:   []answer{subscribed(true)},
		submits: []answer{failed(), failed()},
	}
	rec := &recorder{}
	m, mock := newManager(t, client, rec)
	timings := NewDefaultTimings()

	m.UpdateState(t.Context(), "ikey", "")
	require.True(t, m.IsCollectingData())

	mock.Add(15 * time.Second)
	assert.Equal(t, timings.CollectionInterval, m.UpdateState(t.Context(), "ikey", ""))
	assert.True(t, m.IsCollectingData(), "still within the back-off threshold")

	mock.Add(10 * time.Second)
	assert.Equal(t, timings.ServicePollingBackedOffInterval, m.UpdateState(t.Context(), "ikey", ""))
	assert.False(t, m.IsCollectingData())
	assert.Equal(t, 1, rec.stops)
	assert.Len(t, rec.returned, 2, "samples of failed submissions are handed back")

	mock.Add(timings.ServicePollingBackedOffInterval)
	assert.Equal(t, timings.ServicePollingBackedOffInterval, m.UpdateState(t.Context(), "ikey", ""),
		"idle polling continues at the slow cadence")
}

func TestServiceStopsCollection(t *testing.T) {
	client := &fakeClient{
		pings:   []answer{subscribed(true)},
		submits: []answer{subscribed(false)},
	}
	rec := &recorder{}
	m, _ := newManager(t, client, rec)

	m.UpdateState(t.Context(), "ikey", "")
	assert.Equal(t, NewDefaultTimings().ServicePollingInterval, m.UpdateState(t.Context(), "ikey", ""))
	assert.False(t, m.IsCollectingData())
	assert.Equal(t, 1, rec.stops)
	assert.Empty(t, rec.returned)
}

func TestPingBackOff(t *testing.T) {
	client := &fakeClient{}
	rec := &recorder{}
	m, mock := newManager(t, client, rec)

	var intervals []time.Duration
	for range 6 {
		intervals = append(intervals, m.UpdateState(t.Context(), "ikey", ""))
	}
	assert.Equal(t, []time.Duration{
		5 * time.Second, 10 * time.Second, 20 * time.Second, 40 * time.Second, time.Minute, time.Minute,
	}, intervals)

	mock.Add(61 * time.Second)
	assert.Equal(t, time.Minute, m.UpdateState(t.Context(), "ikey", ""))

	client.pings = []answer{subscribed(false), failed()}
	assert.Equal(t, 5*time.Second, m.UpdateState(t.Context(), "ikey", ""))
	assert.Equal(t, 5*time.Second, m.UpdateState(t.Context(), "ikey", ""), "back-off restarts after a successful ping")
	assert.False(t, m.IsCollectingData())
}

func TestPollingIntervalHint(t *testing.T) {
	hinted := subscribed(false)
	hinted.resp.PollingIntervalHint = 2 * time.Second
	client := &fakeClient{pings: []answer{hinted}}
	m, _ := newManager(t, client, &recorder{})

	assert.Equal(t, 2*time.Second, m.UpdateState(t.Context(), "ikey", ""))
}

func TestConfigurationUpdateReplacesErrors(t *testing.T) {
	first := filtering.NewCollectionConfigurationError(filtering.ErrorTypeMetricDuplicateIDs, "dup", nil)
	second := filtering.NewCollectionConfigurationError(filtering.ErrorTypeDocumentStreamDuplicateIDs, "dup", nil)
	client := &fakeClient{
		pings: []answer{withConfiguration(true, "v1")},
		submits: []answer{
			withConfiguration(true, "v1"),
			withConfiguration(true, "v2"),
			withConfiguration(true, "v3"),
			subscribed(true),
		},
	}
	rec := &recorder{applyErrs: map[string][]*filtering.CollectionConfigurationError{
		"v1": {first},
		"v2": {second},
	}}
	m, _ := newManager(t, client, rec)

	m.UpdateState(t.Context(), "ikey", "")
	assert.Equal(t, "v1", m.ETag())
	assert.Equal(t, []*filtering.CollectionConfigurationError{first}, m.CollectionConfigurationErrors())

	m.UpdateState(t.Context(), "ikey", "")
	assert.Equal(t, []string{"v1"}, rec.applied, "an unchanged etag is not applied again")
	assert.Equal(t, "v1", client.lastETag)
	assert.Equal(t, []*filtering.CollectionConfigurationError{first}, client.lastErrors)

	m.UpdateState(t.Context(), "ikey", "")
	assert.Equal(t, []*filtering.CollectionConfigurationError{second}, m.CollectionConfigurationErrors())

	m.UpdateState(t.Context(), "ikey", "")
	assert.Empty(t, m.CollectionConfigurationErrors(), "errors are replaced, not accumulated")

	m.UpdateState(t.Context(), "ikey", "")
	assert.Equal(t, "v3", client.lastETag)
	assert.Equal(t, []string{"v1", "v2", "v3"}, rec.applied)
}

func TestConfigurationFailureBecomesSingleError(t *testing.T) {
	testCases := []struct {
		name string
		rec  *recorder
	}{
		{"error", &recorder{applyFailure: errors.New("cannot build")}},
		{"panic", &recorder{applyPanic: true}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			client := &fakeClient{pings: []answer{withConfiguration(false, "broken")}}
			m, _ := newManager(t, client, tc.rec)

			m.UpdateState(t.Context(), "ikey", "")
			errs := m.CollectionConfigurationErrors()
			require.Len(t, errs, 1)
			assert.Equal(t, filtering.ErrorTypeCollectionConfigurationFailureToCreate, errs[0].ErrorType)
			assert.Equal(t, "broken", errs[0].Data[filtering.DataKeyETag])
			assert.NotEmpty(t, errs[0].FullException)
			assert.Equal(t, "broken", m.ETag())
		})
	}
}

func TestTimingsValidate(t *testing.T) {
	require.NoError(t, NewDefaultTimings().Validate())

	zero := NewDefaultTimings()
	zero.CollectionInterval = 0
	zero.TimeToCollectionBackOff = -time.Second
	err := zero.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timings.collection_interval must be positive")
	assert.Contains(t, err.Error(), "timings.time_to_collection_back_off must be positive")

	inverted := NewDefaultTimings()
	inverted.ServicePollingBackedOffInterval = time.Second
	assert.ErrorContains(t, inverted.Validate(), "must not be shorter")
}
