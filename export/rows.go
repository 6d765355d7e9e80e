package export

import (
	"strconv"

	"github.com/aluiziolira/go-pagespeed/models"
)

// NotAvailable marks a metric the upstream service did not provide.
const NotAvailable = "N/A"

// Header lists the exported columns in order.
var Header = []string{
	"URL",
	"First Contentful Paint",
	"Largest Contentful Paint",
	"Total Blocking Time",
	"Cumulative Layout Shift",
	"Speed Index",
	"TTFB",
	"Score",
}

// Row formats a report as text cells matching Header.
func Row(r *models.MetricReport) []string {
	return []string{
		r.URL,
		formatFloat(r.FirstContentfulPaint),
		formatFloat(r.LargestContentfulPaint),
		formatFloat(r.TotalBlockingTime),
		formatFloat(r.CumulativeLayoutShift),
		formatFloat(r.SpeedIndex),
		formatFloat(r.TimeToFirstByte),
		formatInt(r.Score),
	}
}

// metricValues returns the numeric columns after URL; nil entries are absent.
func metricValues(r *models.MetricReport) []*float64 {
	var score *float64
	if r.Score != nil {
		score = models.Float(float64(*r.Score))
	}
	return []*float64{
		r.FirstContentfulPaint,
		r.LargestContentfulPaint,
		r.TotalBlockingTime,
		r.CumulativeLayoutShift,
		r.SpeedIndex,
		r.TimeToFirstByte,
		score,
	}
}

func formatFloat(v *float64) string {
	if v == nil {
		return NotAvailable
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func formatInt(v *int) string {
	if v == nil {
		return NotAvailable
	}
	return strconv.Itoa(*v)
}
