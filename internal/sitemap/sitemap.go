// Package sitemap discovers crawlable URLs from a site's sitemaps.
package sitemap

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/antchfx/xmlquery"
	"go.uber.org/zap"

	"github.com/thehouseofbailey/personamapper/internal/crawl"
	"github.com/thehouseofbailey/personamapper/internal/extract"
)

// commonPaths are the sitemap locations probed when robots.txt declares none.
var commonPaths = []string{
	"/sitemap_index.xml",
	"/sitemap.xml",
	"/sitemaps.xml",
	"/sitemap/sitemap.xml",
	"/sitemap/index.xml",
}

// maxIndexDepth bounds recursion through nested sitemap indexes.
const maxIndexDepth = 3

// Discoverer finds page URLs by probing robots.txt and common sitemap
// locations, then parsing whatever sitemaps respond.
type Discoverer struct {
	fetcher crawl.Fetcher
	logger  *zap.Logger
}

// NewDiscoverer builds a Discoverer over the given fetcher.
func NewDiscoverer(fetcher crawl.Fetcher, logger *zap.Logger) *Discoverer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Discoverer{fetcher: fetcher, logger: logger}
}

// Discover returns the normalized page URLs found in the site's sitemaps.
// Sitemaps that fail to fetch or parse are skipped; an empty result with a
// nil error means the site exposes no usable sitemap.
func (d *Discoverer) Discover(ctx context.Context, rootURL string) ([]string, error) {
	root, err := crawl.NormalizeURL(rootURL)
	if err != nil {
		return nil, fmt.Errorf("normalize root url: %w", err)
	}
	base := strings.TrimSuffix(root, "/")

	sitemapURLs := d.sitemapCandidates(ctx, base)

	seen := make(map[string]struct{})
	var pages []string
	for _, sm := range sitemapURLs {
		urls, err := d.parse(ctx, sm, 0)
		if err != nil {
			d.logger.Debug("sitemap parse skipped", zap.String("sitemap", sm), zap.Error(err))
			continue
		}
		d.logger.Info("sitemap parsed", zap.String("sitemap", sm), zap.Int("urls", len(urls)))
		for _, u := range urls {
			if !crawl.SameHost(u, root) || !extract.IsHTMLContentURL(u) {
				continue
			}
			if _, dup := seen[u]; dup {
				continue
			}
			seen[u] = struct{}{}
			pages = append(pages, u)
		}
	}
	return pages, nil
}

// sitemapCandidates merges robots.txt declarations with the common paths.
func (d *Discoverer) sitemapCandidates(ctx context.Context, base string) []string {
	candidates := make([]string, 0, len(commonPaths)+1)
	seen := make(map[string]struct{})
	add := func(u string) {
		if _, dup := seen[u]; dup {
			return
		}
		seen[u] = struct{}{}
		candidates = append(candidates, u)
	}

	result, err := d.fetcher.Fetch(ctx, crawl.FetchRequest{URL: base + "/robots.txt"})
	if err == nil && result.Status == crawl.FetchSuccess {
		for _, line := range strings.Split(string(result.Body), "\n") {
			line = strings.TrimSpace(line)
			if !strings.HasPrefix(strings.ToLower(line), "sitemap:") {
				continue
			}
			declared := strings.TrimSpace(line[len("sitemap:"):])
			if declared != "" {
				add(declared)
			}
		}
	}

	for _, path := range commonPaths {
		add(base + path)
	}
	return candidates
}

// parse fetches one sitemap and returns the URLs it lists, recursing into
// sitemap indexes up to maxIndexDepth.
func (d *Discoverer) parse(ctx context.Context, sitemapURL string, depth int) ([]string, error) {
	if depth > maxIndexDepth {
		return nil, fmt.Errorf("sitemap index nesting exceeds %d levels", maxIndexDepth)
	}

	result, err := d.fetcher.Fetch(ctx, crawl.FetchRequest{URL: sitemapURL})
	if err != nil {
		return nil, err
	}
	if result.Status != crawl.FetchSuccess {
		return nil, fmt.Errorf("sitemap fetch status %s", result.Status)
	}

	doc, err := xmlquery.Parse(bytes.NewReader(result.Body))
	if err != nil {
		return nil, fmt.Errorf("parse sitemap xml: %w", err)
	}

	// A sitemap index lists other sitemaps under <sitemap><loc>.
	if nested := xmlquery.Find(doc, "//sitemap/loc"); len(nested) > 0 {
		var urls []string
		for _, node := range nested {
			loc := strings.TrimSpace(node.InnerText())
			if loc == "" {
				continue
			}
			sub, err := d.parse(ctx, loc, depth+1)
			if err != nil {
				d.logger.Debug("nested sitemap skipped", zap.String("sitemap", loc), zap.Error(err))
				continue
			}
			urls = append(urls, sub...)
		}
		return urls, nil
	}

	var urls []string
	for _, node := range xmlquery.Find(doc, "//url/loc") {
		loc := strings.TrimSpace(node.InnerText())
		if loc == "" {
			continue
		}
		normalized, err := crawl.NormalizeURL(loc)
		if err != nil {
			continue
		}
		urls = append(urls, normalized)
	}
	return urls, nil
}
