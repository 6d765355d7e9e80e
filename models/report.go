// Package models defines data structures for the batch scorer.
package models

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Strategy selects the device profile the scoring service simulates.
type Strategy string

const (
	StrategyMobile  Strategy = "mobile"
	StrategyDesktop Strategy = "desktop"
)

// ParseStrategy maps user input onto a known strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case StrategyMobile:
		return StrategyMobile, nil
	case StrategyDesktop:
		return StrategyDesktop, nil
	default:
		return "", fmt.Errorf("unknown strategy %q (want mobile or desktop)", s)
	}
}

// ScoreRequest is built per URL at dispatch time.
type ScoreRequest struct {
	URL      string
	Strategy Strategy
	APIKey   string
}

// Query returns the upstream query parameters for the request.
func (r ScoreRequest) Query() url.Values {
	q := url.Values{}
	q.Set("url", r.URL)
	q.Set("key", r.APIKey)
	q.Set("strategy", string(r.Strategy))
	return q
}

// MetricReport holds the metrics extracted for a single URL. A nil field means the
// upstream service did not provide the value.
type MetricReport struct {
	URL                    string             `json:"url"`
	Strategy               Strategy           `json:"strategy,omitempty"`
	FirstContentfulPaint   *float64           `json:"first_contentful_paint"`
	LargestContentfulPaint *float64           `json:"largest_contentful_paint"`
	TotalBlockingTime      *float64           `json:"total_blocking_time"`
	CumulativeLayoutShift  *float64           `json:"cumulative_layout_shift"`
	SpeedIndex             *float64           `json:"speed_index"`
	TimeToFirstByte        *float64           `json:"time_to_first_byte"`
	Score                  *int               `json:"score"`
	FieldData              map[string]float64 `json:"field_data,omitempty"`
	Status                 int                `json:"status"`
	Error                  string             `json:"error,omitempty"`
	FetchedAt              time.Time          `json:"fetched_at"`
}

// Failed reports whether the fetch for this URL did not produce a usable response.
func (r *MetricReport) Failed() bool {
	return r.Error != "" || r.Status != 200
}

// BatchResult holds every report of one run, in completion order.
type BatchResult struct {
	RunID     string
	Strategy  Strategy
	Reports   []*MetricReport
	StartTime time.Time
	EndTime   time.Time
	Succeeded int
	Failed    int
}

// Len returns the number of reports collected.
func (b *BatchResult) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Reports)
}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}

// Int returns a pointer to v.
func Int(v int) *int {
	return &v
}
