package scorer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aluiziolira/go-pagespeed/config"
	"github.com/aluiziolira/go-pagespeed/models"
)

const testEndpoint = "https://psi.example.test/pagespeedonline/v5/runPagespeed"

const okBody = `{
  "lighthouseResult": {
    "audits": {
      "first-contentful-paint": {"numericValue": 1234},
      "total-blocking-time": {"numericValue": 123}
    },
    "categories": {"performance": {"score": 0.5}}
  }
}`

func newTestScorer(t *testing.T, responder httpmock.Responder) (*Scorer, *atomic.Int32) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Endpoint = testEndpoint

	calls := &atomic.Int32{}
	transport := httpmock.NewMockTransport()
	transport.RegisterNoResponder(func(req *http.Request) (*http.Response, error) {
		calls.Add(1)
		return responder(req)
	})

	s, err := New(cfg, WithHTTPClient(&http.Client{Transport: transport}))
	require.NoError(t, err)
	return s, calls
}

func jsonResponder(status int, body string) httpmock.Responder {
	return func(req *http.Request) (*http.Response, error) {
		resp := httpmock.NewStringResponse(status, body)
		resp.Header.Set("Content-Type", "application/json")
		return resp, nil
	}
}

func TestErrorTypeLabel(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{name: "nil", err: nil, expected: "unknown"},
		{name: "context timeout", err: classifyTransportError(context.DeadlineExceeded), expected: "timeout"},
		{name: "net timeout", err: classifyTransportError(&net.DNSError{IsTimeout: true}), expected: "timeout"},
		{name: "connection", err: classifyTransportError(&net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}), expected: "connection"},
		{name: "malformed", err: ErrMalformedResponse{Err: errors.New("unexpected EOF")}, expected: "malformed_response"},
		{name: "bad request", err: ErrUpstreamStatus{StatusCode: http.StatusBadRequest}, expected: "bad_request"},
		{name: "forbidden", err: ErrUpstreamStatus{StatusCode: http.StatusForbidden}, expected: "forbidden"},
		{name: "not found", err: ErrUpstreamStatus{StatusCode: http.StatusNotFound}, expected: "not_found"},
		{name: "rate limited", err: ErrUpstreamStatus{StatusCode: http.StatusTooManyRequests}, expected: "rate_limited"},
		{name: "server error", err: ErrUpstreamStatus{StatusCode: http.StatusBadGateway}, expected: "server_error"},
		{name: "other status", err: ErrUpstreamStatus{StatusCode: http.StatusAccepted}, expected: "http_status"},
		{name: "other", err: errors.New("some other error"), expected: "other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, errorTypeLabel(tt.err))
		})
	}
}

func TestFetchOneSendsQueryParameters(t *testing.T) {
	var got atomic.Value
	s, _ := newTestScorer(t, func(req *http.Request) (*http.Response, error) {
		got.Store(req.URL.Query())
		return httpmock.NewStringResponse(http.StatusOK, okBody), nil
	})

	report := s.FetchOne(context.Background(), models.ScoreRequest{
		URL:      "https://site.test/page?x=1",
		Strategy: models.StrategyDesktop,
		APIKey:   "secret-key",
	})
	require.False(t, report.Failed(), report.Error)

	query := got.Load().(url.Values)
	assert.Equal(t, "https://site.test/page?x=1", query.Get("url"))
	assert.Equal(t, "secret-key", query.Get("key"))
	assert.Equal(t, "desktop", query.Get("strategy"))

	require.NotNil(t, report.FirstContentfulPaint)
	assert.Equal(t, 1.2, *report.FirstContentfulPaint)
	require.NotNil(t, report.TotalBlockingTime)
	assert.Equal(t, 0.12, *report.TotalBlockingTime)
	require.NotNil(t, report.Score)
	assert.Equal(t, 50, *report.Score)
}

func TestFetchOneScoreFallbackVersusAbsent(t *testing.T) {
	noScore := `{"lighthouseResult": {"audits": {}, "categories": {}}}`

	t.Run("200 without score falls back to zero", func(t *testing.T) {
		s, _ := newTestScorer(t, jsonResponder(http.StatusOK, noScore))
		report := s.FetchOne(context.Background(), models.ScoreRequest{URL: "https://site.test/", Strategy: models.StrategyMobile, APIKey: "k"})
		require.NotNil(t, report.Score)
		assert.Equal(t, 0, *report.Score)
		assert.False(t, report.Failed())
	})

	t.Run("non-200 leaves score absent", func(t *testing.T) {
		s, _ := newTestScorer(t, jsonResponder(http.StatusInternalServerError, `{"error":{"code":500,"message":"Lighthouse returned error: NO_FCP"}}`))
		report := s.FetchOne(context.Background(), models.ScoreRequest{URL: "https://site.test/", Strategy: models.StrategyMobile, APIKey: "k"})
		assert.Nil(t, report.Score)
		assert.Nil(t, report.FirstContentfulPaint)
		assert.Equal(t, http.StatusInternalServerError, report.Status)
		assert.Contains(t, report.Error, "NO_FCP")
		assert.True(t, report.Failed())
		assert.Equal(t, 1.0, testutil.ToFloat64(s.Metrics.ErrorsTotal.WithLabelValues("server_error")))
	})
}

func TestFetchOneTransportError(t *testing.T) {
	s, _ := newTestScorer(t, func(req *http.Request) (*http.Response, error) {
		return nil, &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
	})

	report := s.FetchOne(context.Background(), models.ScoreRequest{URL: "https://site.test/", Strategy: models.StrategyMobile, APIKey: "secret-key"})

	require.NotNil(t, report)
	assert.Equal(t, "https://site.test/", report.URL)
	assert.Equal(t, 0, report.Status)
	assert.Nil(t, report.Score)
	assert.True(t, report.Failed())
	assert.NotContains(t, report.Error, "secret-key")
	assert.Equal(t, 1.0, testutil.ToFloat64(s.Metrics.ErrorsTotal.WithLabelValues("connection")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.Metrics.RequestsTotal.WithLabelValues("failed")))
	assert.Equal(t, 0.0, testutil.ToFloat64(s.Metrics.InFlight))
}

func TestFetchOneMalformedBody(t *testing.T) {
	s, _ := newTestScorer(t, jsonResponder(http.StatusOK, `{"lighthouseResult": {`))

	report := s.FetchOne(context.Background(), models.ScoreRequest{URL: "https://site.test/", Strategy: models.StrategyMobile, APIKey: "k"})

	assert.True(t, report.Failed())
	assert.Nil(t, report.Score)
	assert.Equal(t, http.StatusOK, report.Status)
	assert.Contains(t, report.Error, "malformed_response")
}

func TestRunOneReportPerURL(t *testing.T) {
	s, calls := newTestScorer(t, jsonResponder(http.StatusOK, okBody))

	urls := []string{
		"https://site.test/a",
		"https://site.test/b",
		"https://site.test/a",
		"https://site.test/c",
		"https://site.test/d",
		"https://site.test/e",
		"https://site.test/f",
	}

	var progress []int
	result, err := s.Run(context.Background(), "k", urls, models.StrategyMobile, func(completed, total int) {
		assert.Equal(t, len(urls), total)
		progress = append(progress, completed)
	})
	require.NoError(t, err)

	require.Equal(t, len(urls), result.Len())
	assert.Equal(t, int32(len(urls)), calls.Load())
	assert.Equal(t, len(urls), result.Succeeded)
	assert.Zero(t, result.Failed)
	assert.NotEmpty(t, result.RunID)

	require.Len(t, progress, len(urls))
	for i, completed := range progress {
		assert.Equal(t, i+1, completed)
	}

	seen := map[string]int{}
	for _, report := range result.Reports {
		seen[report.URL]++
	}
	assert.Equal(t, 2, seen["https://site.test/a"])
	assert.Equal(t, 1, seen["https://site.test/f"])
}

func TestRunPartialFailure(t *testing.T) {
	s, _ := newTestScorer(t, func(req *http.Request) (*http.Response, error) {
		if req.URL.Query().Get("url") == "https://site.test/3" {
			return httpmock.NewStringResponse(http.StatusNotFound, `{}`), nil
		}
		return httpmock.NewStringResponse(http.StatusOK, okBody), nil
	})

	urls := make([]string, 5)
	for i := range urls {
		urls[i] = fmt.Sprintf("https://site.test/%d", i+1)
	}

	result, err := s.Run(context.Background(), "k", urls, models.StrategyMobile, nil)
	require.NoError(t, err)
	require.Equal(t, 5, result.Len())
	assert.Equal(t, 4, result.Succeeded)
	assert.Equal(t, 1, result.Failed)

	for _, report := range result.Reports {
		if report.URL == "https://site.test/3" {
			assert.Nil(t, report.Score)
			assert.Equal(t, http.StatusNotFound, report.Status)
			continue
		}
		require.NotNil(t, report.Score, report.URL)
		assert.Equal(t, 50, *report.Score)
	}
}

func TestRunRespectsConcurrencyCap(t *testing.T) {
	const urlCount = 10

	var inFlight, maxSeen atomic.Int32
	release := make(chan struct{})
	s, _ := newTestScorer(t, func(req *http.Request) (*http.Response, error) {
		current := inFlight.Add(1)
		for {
			prev := maxSeen.Load()
			if current <= prev || maxSeen.CompareAndSwap(prev, current) {
				break
			}
		}
		<-release
		inFlight.Add(-1)
		return httpmock.NewStringResponse(http.StatusOK, okBody), nil
	})

	urls := make([]string, urlCount)
	for i := range urls {
		urls[i] = fmt.Sprintf("https://site.test/%d", i)
	}

	type outcome struct {
		result *models.BatchResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := s.Run(context.Background(), "k", urls, models.StrategyMobile, nil)
		done <- outcome{result: result, err: err}
	}()

	for i := 0; i < urlCount; i++ {
		want := int32(min(3, urlCount-i))
		require.Eventually(t, func() bool {
			return inFlight.Load() == want
		}, 2*time.Second, time.Millisecond, "step %d", i)
		assert.LessOrEqual(t, testutil.ToFloat64(s.Metrics.InFlight), 3.0)
		release <- struct{}{}
	}

	select {
	case out := <-done:
		require.NoError(t, out.err)
		assert.Equal(t, urlCount, out.result.Len())
	case <-time.After(5 * time.Second):
		t.Fatal("batch did not complete")
	}

	assert.Equal(t, int32(3), maxSeen.Load())
	assert.Equal(t, 0.0, testutil.ToFloat64(s.Metrics.InFlight))
}

func TestRunPreflight(t *testing.T) {
	canceled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name     string
		ctx      context.Context
		apiKey   string
		urls     []string
		strategy models.Strategy
		wantIs   error
	}{
		{name: "missing key", ctx: context.Background(), apiKey: "", urls: []string{"https://site.test/"}, strategy: models.StrategyMobile, wantIs: models.ErrMissingAPIKey},
		{name: "no urls", ctx: context.Background(), apiKey: "k", urls: nil, strategy: models.StrategyMobile, wantIs: models.ErrNoURLs},
		{name: "bad strategy", ctx: context.Background(), apiKey: "k", urls: []string{"https://site.test/"}, strategy: "tablet"},
		{name: "canceled", ctx: canceled, apiKey: "k", urls: []string{"https://site.test/"}, strategy: models.StrategyMobile, wantIs: context.Canceled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, calls := newTestScorer(t, jsonResponder(http.StatusOK, okBody))
			result, err := s.Run(tt.ctx, tt.apiKey, tt.urls, tt.strategy, nil)
			require.Error(t, err)
			assert.Nil(t, result)
			if tt.wantIs != nil {
				assert.ErrorIs(t, err, tt.wantIs)
			}
			assert.Zero(t, calls.Load())
		})
	}
}

func TestRedactKey(t *testing.T) {
	got := redactKey(testEndpoint + "?key=secret&strategy=mobile&url=https%3A%2F%2Fsite.test%2F")
	assert.NotContains(t, got, "secret")
	assert.Contains(t, got, "key=REDACTED")
	assert.Equal(t, "::not a url", redactKey("::not a url"))
}
