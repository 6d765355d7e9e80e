// Package parser turns PageSpeed Insights responses into metric reports.
package parser

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/aluiziolira/go-pagespeed/models"
)

// Lighthouse audit identifiers read from lighthouseResult.audits.
const (
	AuditFirstContentfulPaint   = "first-contentful-paint"
	AuditLargestContentfulPaint = "largest-contentful-paint"
	AuditTotalBlockingTime      = "total-blocking-time"
	AuditCumulativeLayoutShift  = "cumulative-layout-shift"
	AuditSpeedIndex             = "speed-index"
	AuditServerResponseTime     = "server-response-time"
)

type audit struct {
	NumericValue any `json:"numericValue"`
}

type fieldMetric struct {
	Percentiles struct {
		P75 any `json:"p75"`
	} `json:"percentiles"`
}

type payload struct {
	LighthouseResult struct {
		Audits     map[string]audit `json:"audits"`
		Categories struct {
			Performance *struct {
				Score json.RawMessage `json:"score"`
			} `json:"performance"`
		} `json:"categories"`
	} `json:"lighthouseResult"`
	LoadingExperience struct {
		Metrics map[string]fieldMetric `json:"metrics"`
	} `json:"loadingExperience"`
}

// ParseReport decodes a successful runPagespeed body for pageURL.
func ParseReport(pageURL string, body io.Reader) (*models.MetricReport, error) {
	var p payload
	if err := json.NewDecoder(body).Decode(&p); err != nil {
		return nil, fmt.Errorf("decode pagespeed response: %w", err)
	}

	audits := p.LighthouseResult.Audits
	report := &models.MetricReport{
		URL:                    pageURL,
		FirstContentfulPaint:   seconds(audits, AuditFirstContentfulPaint, 1),
		LargestContentfulPaint: seconds(audits, AuditLargestContentfulPaint, 1),
		TotalBlockingTime:      millisToSeconds(audits, AuditTotalBlockingTime, 2),
		CumulativeLayoutShift:  rounded(audits, AuditCumulativeLayoutShift),
		SpeedIndex:             rounded(audits, AuditSpeedIndex),
		TimeToFirstByte:        millisToSeconds(audits, AuditServerResponseTime, 2),
		Status:                 200,
		FetchedAt:              time.Now(),
	}

	var rawScore json.RawMessage
	if perf := p.LighthouseResult.Categories.Performance; perf != nil {
		rawScore = perf.Score
	}
	report.Score = PerformanceScore(rawScore)

	for name, metric := range p.LoadingExperience.Metrics {
		if v, ok := metric.Percentiles.P75.(float64); ok {
			if report.FieldData == nil {
				report.FieldData = make(map[string]float64)
			}
			report.FieldData[name] = v
		}
	}

	return report, nil
}

// PerformanceScore converts the 0..1 category score into a truncated 0..100 integer.
// A missing score yields 0, a null or non-numeric one yields nil.
func PerformanceScore(raw json.RawMessage) *int {
	if len(raw) == 0 {
		return models.Int(0)
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	f, ok := v.(float64)
	if !ok {
		return nil
	}
	return models.Int(int(f * 100))
}

// Round rounds v to places decimals using the shortest correctly rounded decimal
// representation, halves going to even.
func Round(v float64, places int) float64 {
	r, err := strconv.ParseFloat(strconv.FormatFloat(v, 'f', places, 64), 64)
	if err != nil {
		return v
	}
	return r
}

func numericValue(audits map[string]audit, name string) (float64, bool) {
	a, ok := audits[name]
	if !ok {
		return 0, false
	}
	v, ok := a.NumericValue.(float64)
	return v, ok
}

func rounded(audits map[string]audit, name string) *float64 {
	v, ok := numericValue(audits, name)
	if !ok {
		return nil
	}
	return models.Float(Round(v, 1))
}

// seconds rounds the millisecond value to one decimal before converting.
func seconds(audits map[string]audit, name string, places int) *float64 {
	v, ok := numericValue(audits, name)
	if !ok {
		return nil
	}
	return models.Float(Round(Round(v, 1)/1000, places))
}

func millisToSeconds(audits map[string]audit, name string, places int) *float64 {
	v, ok := numericValue(audits, name)
	if !ok {
		return nil
	}
	return models.Float(Round(v/1000, places))
}
