// Package discover walks vendor listing pages and collects candidate
// product URLs.
package discover

import (
	"bytes"
	"context"
	"net/url"
	"strconv"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/furnishly/catalog-cli/internal/fetcher"
	"github.com/furnishly/catalog-cli/internal/model"
	"github.com/furnishly/catalog-cli/internal/vendor"
)

// Candidate is a product URL plus the listing category it was found under.
type Candidate struct {
	URL      string
	Category model.CategoryRef
}

// Stats counts what happened during discovery. Seed failures are partial
// failures: the other seeds' candidates are still returned.
type Stats struct {
	PagesFetched int
	SeedFailures int
	Duplicates   int
}

// Options bound a discovery run.
type Options struct {
	// MaxPages caps pagination depth per seed. Default: 10.
	MaxPages int

	// Concurrency bounds how many seeds are walked at once. Pagination
	// within a seed is always sequential. Default: 4.
	Concurrency int
}

// Discoverer walks listing pages through a shared Fetcher.
type Discoverer struct {
	fetcher fetcher.Fetcher
	opts    Options
}

// New creates a Discoverer.
func New(f fetcher.Fetcher, opts Options) *Discoverer {
	if opts.MaxPages <= 0 {
		opts.MaxPages = 10
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	return &Discoverer{fetcher: f, opts: opts}
}

// Discover walks every seed of the profile and returns deduplicated
// candidates in first-seen order. A duplicate URL keeps the category
// context of its first sighting.
func (d *Discoverer) Discover(ctx context.Context, profile vendor.Profile) ([]Candidate, Stats, error) {
	base, err := url.Parse(profile.BaseURL)
	if err != nil {
		return nil, Stats{}, eris.Wrapf(err, "discover: parse base url for %s", profile.Name)
	}

	var (
		mu         sync.Mutex
		candidates []Candidate
		seen       = make(map[string]bool)
		stats      Stats
	)

	addCandidate := func(c Candidate) {
		mu.Lock()
		defer mu.Unlock()
		if seen[c.URL] {
			stats.Duplicates++
			return
		}
		seen[c.URL] = true
		candidates = append(candidates, c)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.opts.Concurrency)

	for _, seed := range profile.Seeds {
		g.Go(func() error {
			pages, err := d.walkSeed(gctx, profile, base, seed, addCandidate)
			mu.Lock()
			stats.PagesFetched += pages
			if err != nil {
				stats.SeedFailures++
			}
			mu.Unlock()
			if err != nil {
				zap.L().Warn("seed failed",
					zap.String("vendor", profile.Name),
					zap.String("seed", seed.URL),
					zap.Error(err),
				)
			}
			// Seed failures never abort the run.
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return candidates, stats, eris.Wrap(err, "discover: cancelled")
	}
	return candidates, stats, nil
}

// walkSeed paginates one seed sequentially, reporting how many listing
// pages it fetched.
func (d *Discoverer) walkSeed(ctx context.Context, profile vendor.Profile, base *url.URL, seed model.CategoryRef, add func(Candidate)) (int, error) {
	visited := make(map[string]bool)
	pageURL := seed.URL
	pages := 0

	for pages < d.opts.MaxPages {
		page, err := d.fetcher.Fetch(ctx, pageURL)
		if err != nil {
			return pages, eris.Wrapf(err, "discover: fetch listing %s", pageURL)
		}
		pages++
		visited[pageURL] = true

		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
		if err != nil {
			return pages, eris.Wrapf(err, "discover: parse listing %s", pageURL)
		}

		found := 0
		doc.Find(profile.LinkSelector).Each(func(_ int, sel *goquery.Selection) {
			href, ok := sel.Attr("href")
			if !ok || href == "" {
				return
			}
			resolved, ok := resolveProductURL(base, href)
			if !ok {
				return
			}
			found++
			add(Candidate{URL: resolved, Category: seed})
		})

		next := d.nextPage(profile, base, doc, pageURL, found)
		if next == "" || visited[next] {
			break
		}
		pageURL = next
	}

	return pages, nil
}

// nextPage computes the following listing page, or "" when pagination
// ends. Query-parameter vendors stop as soon as a page yields no links.
func (d *Discoverer) nextPage(profile vendor.Profile, base *url.URL, doc *goquery.Document, current string, found int) string {
	if sel := profile.Pagination.NextSelector; sel != "" {
		href, ok := doc.Find(sel).First().Attr("href")
		if !ok || href == "" {
			return ""
		}
		ref, err := url.Parse(href)
		if err != nil {
			return ""
		}
		return base.ResolveReference(ref).String()
	}

	if param := profile.Pagination.PageParam; param != "" {
		if found == 0 {
			return ""
		}
		u, err := url.Parse(current)
		if err != nil {
			return ""
		}
		q := u.Query()
		n := 1
		if v := q.Get(param); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				n = parsed
			}
		}
		q.Set(param, strconv.Itoa(n+1))
		u.RawQuery = q.Encode()
		return u.String()
	}

	return ""
}

// resolveProductURL resolves href against base and normalizes it: product
// pages are keyed by path, so queries and fragments are dropped.
func resolveProductURL(base *url.URL, href string) (string, bool) {
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	resolved := base.ResolveReference(ref)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return "", false
	}
	resolved.RawQuery = ""
	resolved.Fragment = ""
	return resolved.String(), true
}
