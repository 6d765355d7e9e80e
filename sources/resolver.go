package sources

import (
	"context"

	"go.uber.org/zap"

	"github.com/aluiziolira/go-pagespeed/config"
)

// Resolver gathers URLs from flags, a URL file and a sitemap, in that order.
type Resolver struct {
	cfg     *config.Config
	sitemap *Sitemap
}

// NewResolver builds a resolver for cfg. A nil sitemap uses the default collector.
func NewResolver(cfg *config.Config, sitemap *Sitemap) *Resolver {
	if sitemap == nil {
		sitemap = NewSitemap(cfg.UserAgent, cfg.Timeout)
	}
	return &Resolver{cfg: cfg, sitemap: sitemap}
}

// Resolve returns the URLs to score. The result may be empty; callers run
// Validate before starting a batch.
func (r *Resolver) Resolve(ctx context.Context) ([]string, error) {
	var urls []string
	for _, u := range r.cfg.URLs {
		urls = append(urls, FromText(u)...)
	}

	if r.cfg.URLsFile != "" {
		fromFile, err := FromFile(r.cfg.URLsFile)
		if err != nil {
			return nil, err
		}
		urls = append(urls, fromFile...)
	}

	if r.cfg.SitemapURL != "" {
		fromSitemap, err := r.sitemap.Fetch(ctx, r.cfg.SitemapURL)
		if err != nil {
			return nil, err
		}
		urls = append(urls, fromSitemap...)
	}

	if r.cfg.Dedupe && len(urls) > 0 {
		deduped, dropped, err := Dedupe(urls, r.cfg.DedupeMaxSize)
		if err != nil {
			return nil, err
		}
		if dropped > 0 {
			zap.L().Info("dropped duplicate urls", zap.Int("dropped", dropped))
		}
		urls = deduped
	}

	return urls, nil
}
