package scorer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aluiziolira/go-pagespeed/config"
	"github.com/aluiziolira/go-pagespeed/models"
	"github.com/aluiziolira/go-pagespeed/parser"
)

// ProgressFunc is called after each URL resolves with the number of resolved URLs so far.
type ProgressFunc func(completed, total int)

// Scorer issues runPagespeed requests for batches of URLs under a fixed concurrency cap.
type Scorer struct {
	cfg         *config.Config
	endpoint    *url.URL
	client      *http.Client
	maxInFlight int
	Metrics     *Metrics
}

// Option customises a Scorer.
type Option func(*Scorer)

// WithHTTPClient replaces the shared HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(s *Scorer) {
		if client != nil {
			s.client = client
		}
	}
}

// WithMetrics replaces the metrics bundle; nil disables metrics.
func WithMetrics(m *Metrics) Option {
	return func(s *Scorer) {
		s.Metrics = m
	}
}

// New builds a scorer configured from cfg.
func New(cfg *config.Config, opts ...Option) (*Scorer, error) {
	endpoint, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, eris.Wrap(err, "scorer: parse endpoint")
	}
	if endpoint.Host == "" {
		return nil, eris.New("scorer: endpoint must include a host")
	}

	maxInFlight := cfg.MaxInFlight
	if maxInFlight <= 0 {
		maxInFlight = 1
	}

	s := &Scorer{
		cfg:         cfg,
		endpoint:    endpoint,
		maxInFlight: maxInFlight,
		Metrics:     NewMetrics(),
		client: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   30 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: maxInFlight,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Run scores every URL and returns one report per URL in completion order.
// Individual URL failures become failure reports; Run itself only fails when
// the batch cannot start.
func (s *Scorer) Run(ctx context.Context, apiKey string, urls []string, strategy models.Strategy, onProgress ProgressFunc) (*models.BatchResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if apiKey == "" {
		return nil, models.ErrMissingAPIKey
	}
	if len(urls) == 0 {
		return nil, models.ErrNoURLs
	}
	if _, err := models.ParseStrategy(string(strategy)); err != nil {
		return nil, eris.Wrap(err, "scorer: strategy")
	}
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "scorer: batch not started")
	}

	total := len(urls)
	result := &models.BatchResult{
		RunID:     uuid.NewString(),
		Strategy:  strategy,
		Reports:   make([]*models.MetricReport, 0, total),
		StartTime: time.Now(),
	}
	log := zap.L().With(zap.String("run_id", result.RunID))
	log.Info("starting batch",
		zap.Int("urls", total),
		zap.String("strategy", string(strategy)),
		zap.Int("max_in_flight", s.maxInFlight),
	)

	reports := make(chan *models.MetricReport, total)
	go func() {
		var g errgroup.Group
		g.SetLimit(s.maxInFlight)
		for _, pageURL := range urls {
			req := models.ScoreRequest{URL: pageURL, Strategy: strategy, APIKey: apiKey}
			g.Go(func() error {
				reports <- s.FetchOne(ctx, req)
				return nil
			})
		}
		_ = g.Wait()
	}()

	for completed := 1; completed <= total; completed++ {
		report := <-reports
		result.Reports = append(result.Reports, report)
		if report.Failed() {
			result.Failed++
		} else {
			result.Succeeded++
		}
		log.Debug("url resolved",
			zap.String("url", report.URL),
			zap.Int("status", report.Status),
			zap.Int("completed", completed),
			zap.Int("total", total),
		)
		if onProgress != nil {
			onProgress(completed, total)
		}
	}

	result.EndTime = time.Now()
	log.Info("batch complete",
		zap.Int("succeeded", result.Succeeded),
		zap.Int("failed", result.Failed),
		zap.Duration("duration", result.EndTime.Sub(result.StartTime)),
	)
	return result, nil
}

// FetchOne scores a single URL. It never returns nil: network and upstream
// failures yield a report carrying only the URL and the failure.
func (s *Scorer) FetchOne(ctx context.Context, req models.ScoreRequest) *models.MetricReport {
	s.Metrics.acquire()
	defer s.Metrics.release()

	start := time.Now()
	report, status, err := s.fetch(ctx, req)
	s.Metrics.ObserveDuration(time.Since(start))

	if err != nil {
		category := errorTypeLabel(err)
		s.Metrics.IncRequest("failed")
		s.Metrics.IncError(category)
		zap.L().Warn("score request failed",
			zap.String("url", req.URL),
			zap.Int("status", status),
			zap.String("category", category),
			zap.Error(err),
		)
		return &models.MetricReport{
			URL:       req.URL,
			Strategy:  req.Strategy,
			Status:    status,
			Error:     err.Error(),
			FetchedAt: time.Now(),
		}
	}

	s.Metrics.IncRequest("ok")
	report.Strategy = req.Strategy
	return report
}

func (s *Scorer) fetch(ctx context.Context, req models.ScoreRequest) (*models.MetricReport, int, error) {
	target := *s.endpoint
	target.RawQuery = req.Query().Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", redact(err))
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", s.cfg.UserAgent)

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, 0, classifyTransportError(redact(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode, ErrUpstreamStatus{
			StatusCode: resp.StatusCode,
			Message:    upstreamMessage(resp.Body),
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, classifyTransportError(fmt.Errorf("read body: %w", err))
	}

	report, err := parser.ParseReport(req.URL, bytes.NewReader(body))
	if err != nil {
		return nil, resp.StatusCode, ErrMalformedResponse{Err: err}
	}
	return report, resp.StatusCode, nil
}

// upstreamMessage extracts error.message from a Google API error body.
func upstreamMessage(body io.Reader) string {
	var payload struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(body, 64<<10)).Decode(&payload); err != nil {
		return ""
	}
	return payload.Error.Message
}

// redact strips the API key from URLs embedded in transport errors.
func redact(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		urlErr.URL = redactKey(urlErr.URL)
	}
	return err
}

func redactKey(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	if q.Has("key") {
		q.Set("key", "REDACTED")
		u.RawQuery = q.Encode()
	}
	return u.String()
}
