package fetcher

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/furnishly/catalog-cli/internal/model"
	"github.com/furnishly/catalog-cli/internal/resilience"
)

// Vendor pages are HTML; anything larger than this is not a product page.
const maxBodyBytes = 8 << 20

// HTTPOptions configures the HTTP fetcher.
type HTTPOptions struct {
	UserAgent  string
	Timeout    time.Duration
	MaxRetries int

	// Delay is an optional pause before every request, on top of the
	// per-host rate limit. Some vendors block bursts outright.
	Delay time.Duration

	// Proxies are proxy URLs rotated round-robin across requests. Empty
	// means direct connections.
	Proxies       []string
	ProxyUsername string
	ProxyPassword string

	// HostRate/HostBurst set the per-host rate limiter created for each
	// new host. Defaults: 4 req/s, burst 4.
	HostRate  rate.Limit
	HostBurst int

	Breaker resilience.BreakerConfig
}

// HTTPFetcher implements Fetcher using net/http. One client per proxy
// identity; retries rotate to the next identity, which is usually enough
// to get past per-IP blocks.
type HTTPFetcher struct {
	clients []*http.Client
	next    atomic.Uint64
	opts    HTTPOptions

	mu       sync.Mutex
	limiters map[string]*rate.Limiter

	breakers *resilience.HostBreakers
	retry    resilience.RetryConfig
}

// NewHTTPFetcher creates an HTTPFetcher with the given options.
func NewHTTPFetcher(opts HTTPOptions) (*HTTPFetcher, error) {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "catalog-cli/1.0"
	}
	if opts.HostRate <= 0 {
		opts.HostRate = 4
	}
	if opts.HostBurst <= 0 {
		opts.HostBurst = 4
	}

	clients, err := buildClients(opts)
	if err != nil {
		return nil, err
	}

	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = opts.MaxRetries

	return &HTTPFetcher{
		clients:  clients,
		opts:     opts,
		limiters: make(map[string]*rate.Limiter),
		breakers: resilience.NewHostBreakers(opts.Breaker),
		retry:    retry,
	}, nil
}

func buildClients(opts HTTPOptions) ([]*http.Client, error) {
	newTransport := func() *http.Transport {
		return &http.Transport{
			MaxIdleConnsPerHost: 10,
			MaxConnsPerHost:     20,
			IdleConnTimeout:     90 * time.Second,
		}
	}

	if len(opts.Proxies) == 0 {
		return []*http.Client{{Timeout: opts.Timeout, Transport: newTransport()}}, nil
	}

	clients := make([]*http.Client, 0, len(opts.Proxies))
	for _, raw := range opts.Proxies {
		proxyURL, err := url.Parse(raw)
		if err != nil {
			return nil, eris.Wrapf(err, "fetcher: parse proxy %q", raw)
		}
		if opts.ProxyUsername != "" {
			proxyURL.User = url.UserPassword(opts.ProxyUsername, opts.ProxyPassword)
		}
		transport := newTransport()
		transport.Proxy = http.ProxyURL(proxyURL)
		clients = append(clients, &http.Client{Timeout: opts.Timeout, Transport: transport})
	}
	return clients, nil
}

// Fetch downloads the URL, retrying transient failures with a rotated
// proxy identity. The per-host circuit breaker short-circuits hosts that
// keep failing.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (*model.RawProductPage, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: parse url %q", rawURL)
	}
	host := u.Host

	retry := f.retry
	retry.OnRetry = resilience.RetryLogger(host, "fetch")

	breaker := f.breakers.Get(host)

	page, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (*model.RawProductPage, error) {
		if err := f.limiterFor(host).Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "fetcher: rate limiter wait")
		}
		if err := f.pause(ctx); err != nil {
			return nil, err
		}
		return resilience.ExecuteVal(ctx, breaker, func(ctx context.Context) (*model.RawProductPage, error) {
			return f.fetchOnce(ctx, rawURL)
		})
	})
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: get %s", rawURL)
	}
	return page, nil
}

func (f *HTTPFetcher) fetchOnce(ctx context.Context, rawURL string) (*model.RawProductPage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "create request")
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.nextClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck

	if resilience.IsTransientHTTPStatus(resp.StatusCode) {
		return nil, resilience.NewTransientError(
			eris.Errorf("http %d from %s", resp.StatusCode, rawURL), resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, eris.Errorf("http %d from %s", resp.StatusCode, rawURL)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, eris.Wrap(err, "read body")
	}

	zap.L().Debug("fetched page",
		zap.String("url", rawURL),
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(body)),
	)

	return &model.RawProductPage{URL: rawURL, Status: resp.StatusCode, Body: body}, nil
}

// nextClient rotates through proxy identities round-robin.
func (f *HTTPFetcher) nextClient() *http.Client {
	if len(f.clients) == 1 {
		return f.clients[0]
	}
	n := f.next.Add(1)
	return f.clients[int(n)%len(f.clients)]
}

func (f *HTTPFetcher) limiterFor(host string) *rate.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	lim, ok := f.limiters[host]
	if !ok {
		lim = rate.NewLimiter(f.opts.HostRate, f.opts.HostBurst)
		f.limiters[host] = lim
	}
	return lim
}

func (f *HTTPFetcher) pause(ctx context.Context) error {
	if f.opts.Delay <= 0 {
		return nil
	}
	t := time.NewTimer(f.opts.Delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
