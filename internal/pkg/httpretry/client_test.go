package httpretry

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedDoer struct {
	responses []*http.Response
	errs      []error
	calls     int
}

func (s *scriptedDoer) Do(*http.Request) (*http.Response, error) {
	i := s.calls
	s.calls++
	if i >= len(s.responses) {
		i = len(s.responses) - 1
	}
	return s.responses[i], s.errs[i]
}

func resp(status int) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewReader(nil)),
		Header:     make(http.Header),
	}
}

func fastClient(doer HTTPDoer, maxRetries int) *RetryClient {
	rc := NewRetryClient(doer, maxRetries)
	rc.baseDelay = time.Millisecond
	rc.maxDelay = 2 * time.Millisecond
	return rc
}

func TestDoSuccessFirstTry(t *testing.T) {
	doer := &scriptedDoer{responses: []*http.Response{resp(200)}, errs: []error{nil}}
	rc := fastClient(doer, 3)

	req, _ := http.NewRequest(http.MethodGet, "http://example.test/x", nil)
	r, err := rc.Do(req)
	require.NoError(t, err)
	assert.Equal(t, 200, r.StatusCode)
	assert.Equal(t, 1, doer.calls)
}

func TestDoRetriesTransientErrors(t *testing.T) {
	doer := &scriptedDoer{
		responses: []*http.Response{nil, nil, resp(200)},
		errs:      []error{fmt.Errorf("connection reset"), fmt.Errorf("connection reset"), nil},
	}
	rc := fastClient(doer, 3)

	req, _ := http.NewRequest(http.MethodGet, "http://example.test/x", nil)
	r, err := rc.Do(req)
	require.NoError(t, err)
	assert.Equal(t, 200, r.StatusCode)
	assert.Equal(t, 3, doer.calls)
}

func TestDoRetriesRetryableStatus(t *testing.T) {
	doer := &scriptedDoer{
		responses: []*http.Response{resp(503), resp(429), resp(200)},
		errs:      []error{nil, nil, nil},
	}
	rc := fastClient(doer, 3)

	req, _ := http.NewRequest(http.MethodGet, "http://example.test/x", nil)
	r, err := rc.Do(req)
	require.NoError(t, err)
	assert.Equal(t, 200, r.StatusCode)
	assert.Equal(t, 3, doer.calls)
}

func TestDoReturnsClientErrorsImmediately(t *testing.T) {
	doer := &scriptedDoer{responses: []*http.Response{resp(404)}, errs: []error{nil}}
	rc := fastClient(doer, 3)

	req, _ := http.NewRequest(http.MethodGet, "http://example.test/x", nil)
	r, err := rc.Do(req)
	require.NoError(t, err)
	assert.Equal(t, 404, r.StatusCode)
	assert.Equal(t, 1, doer.calls, "4xx other than 429 must not be retried")
}

func TestDoReturnsFinalRetryableResponse(t *testing.T) {
	doer := &scriptedDoer{responses: []*http.Response{resp(502)}, errs: []error{nil}}
	rc := fastClient(doer, 2)

	req, _ := http.NewRequest(http.MethodGet, "http://example.test/x", nil)
	r, err := rc.Do(req)
	require.NoError(t, err)
	assert.Equal(t, 502, r.StatusCode)
	assert.Equal(t, 3, doer.calls) // initial try + 2 retries
}

func TestDoExhaustedNetworkErrors(t *testing.T) {
	doer := &scriptedDoer{
		responses: []*http.Response{nil},
		errs:      []error{fmt.Errorf("connection refused")},
	}
	rc := fastClient(doer, 2)

	req, _ := http.NewRequest(http.MethodGet, "http://example.test/x", nil)
	_, err := rc.Do(req)
	assert.ErrorContains(t, err, "connection refused")
	assert.Equal(t, 3, doer.calls)
}

func TestRetryableStatus(t *testing.T) {
	assert.True(t, retryableStatus(429))
	assert.True(t, retryableStatus(500))
	assert.True(t, retryableStatus(502))
	assert.True(t, retryableStatus(503))
	assert.True(t, retryableStatus(504))
	assert.False(t, retryableStatus(200))
	assert.False(t, retryableStatus(400))
	assert.False(t, retryableStatus(404))
	assert.False(t, retryableStatus(409))
}

func TestBackoffFloorAndCap(t *testing.T) {
	rc := NewRetryClient(nil, 3)
	for attempt := 1; attempt <= 10; attempt++ {
		d := rc.backoff(attempt)
		assert.GreaterOrEqual(t, d, 100*time.Millisecond)
		assert.LessOrEqual(t, d, rc.maxDelay)
	}
}
