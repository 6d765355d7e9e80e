package sources

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
)

// SitemapNamespace is the XML namespace of sitemap protocol 0.9 documents.
const SitemapNamespace = "http://www.sitemaps.org/schemas/sitemap/0.9"

const maxSitemapBytes = 50 * 1024 * 1024

// SitemapFetchError reports a sitemap that could not be downloaded or parsed.
type SitemapFetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *SitemapFetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("sitemap %s: status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("sitemap %s: %v", e.URL, e.Err)
}

func (e *SitemapFetchError) Unwrap() error {
	return e.Err
}

// Sitemap downloads sitemap documents and extracts their loc entries.
type Sitemap struct {
	userAgent string
	timeout   time.Duration
	transport http.RoundTripper
}

// SitemapOption customises a Sitemap.
type SitemapOption func(*Sitemap)

// WithTransport sets the round tripper used by the collector.
func WithTransport(rt http.RoundTripper) SitemapOption {
	return func(s *Sitemap) {
		s.transport = rt
	}
}

// NewSitemap builds a sitemap fetcher.
func NewSitemap(userAgent string, timeout time.Duration, opts ...SitemapOption) *Sitemap {
	s := &Sitemap{userAgent: userAgent, timeout: timeout}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Fetch downloads sitemapURL and returns every loc value in document order.
func (s *Sitemap) Fetch(ctx context.Context, sitemapURL string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, &SitemapFetchError{URL: sitemapURL, Err: err}
	}

	collector := colly.NewCollector(
		colly.UserAgent(s.userAgent),
		colly.MaxBodySize(maxSitemapBytes),
	)
	if s.timeout > 0 {
		collector.SetRequestTimeout(s.timeout)
	}
	if s.transport != nil {
		collector.WithTransport(s.transport)
	}

	var (
		body   []byte
		status int
	)
	collector.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		body = r.Body
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			status = r.StatusCode
		}
	})

	if err := collector.Visit(sitemapURL); err != nil {
		return nil, &SitemapFetchError{URL: sitemapURL, StatusCode: status, Err: err}
	}
	if status != http.StatusOK {
		return nil, &SitemapFetchError{URL: sitemapURL, StatusCode: status, Err: errors.New(http.StatusText(status))}
	}

	urls, err := ParseSitemap(bytes.NewReader(body))
	if err != nil {
		return nil, &SitemapFetchError{URL: sitemapURL, StatusCode: status, Err: err}
	}

	zap.L().Debug("sitemap resolved",
		zap.String("sitemap", sitemapURL),
		zap.Int("urls", len(urls)),
	)
	return urls, nil
}

// ParseSitemap returns the text of every loc element in the sitemap namespace,
// at any depth, so both urlset and sitemapindex documents yield their entries.
func ParseSitemap(r io.Reader) ([]string, error) {
	decoder := xml.NewDecoder(r)

	var (
		urls  []string
		inLoc bool
		text  strings.Builder
		root  bool
	)
	for {
		tok, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse sitemap xml: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			root = true
			if t.Name.Space == SitemapNamespace && t.Name.Local == "loc" {
				inLoc = true
				text.Reset()
			}
		case xml.CharData:
			if inLoc {
				text.Write(t)
			}
		case xml.EndElement:
			if inLoc && t.Name.Space == SitemapNamespace && t.Name.Local == "loc" {
				inLoc = false
				if loc := strings.TrimSpace(text.String()); loc != "" {
					urls = append(urls, loc)
				}
			}
		}
	}
	if !root {
		return nil, errors.New("parse sitemap xml: no root element")
	}
	return urls, nil
}
