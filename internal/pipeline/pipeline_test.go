package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/furnishly/catalog-cli/internal/categorize"
	"github.com/furnishly/catalog-cli/internal/export"
	"github.com/furnishly/catalog-cli/internal/extract"
	"github.com/furnishly/catalog-cli/internal/fetcher"
	"github.com/furnishly/catalog-cli/internal/model"
	"github.com/furnishly/catalog-cli/internal/store"
	"github.com/furnishly/catalog-cli/internal/taxonomy"
	"github.com/furnishly/catalog-cli/internal/vendor"
)

// memStore is an in-memory Store for pipeline tests.
type memStore struct {
	mu      sync.Mutex
	records map[string]map[string]model.CanonicalProduct
	listErr error
}

func newMemStore() *memStore {
	return &memStore{records: map[string]map[string]model.CanonicalProduct{}}
}

func (m *memStore) seed(vendorName string, products ...model.CanonicalProduct) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.records[vendorName] == nil {
		m.records[vendorName] = map[string]model.CanonicalProduct{}
	}
	for _, p := range products {
		m.records[vendorName][p.SKU] = p
	}
}

func (m *memStore) ListExisting(_ context.Context, vendorName string) ([]model.PersistedRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []model.PersistedRecord
	for _, p := range m.records[vendorName] {
		out = append(out, model.PersistedRecord{CanonicalProduct: p})
	}
	return out, nil
}

func (m *memStore) UpsertBatch(_ context.Context, vendorName string, products []model.CanonicalProduct) []store.RecordResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.records[vendorName] == nil {
		m.records[vendorName] = map[string]model.CanonicalProduct{}
	}
	results := make([]store.RecordResult, len(products))
	for i, p := range products {
		results[i].SKU = p.SKU
		m.records[vendorName][p.SKU] = p
	}
	return results
}

func (m *memStore) DeleteBatch(_ context.Context, vendorName string, skus []string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, sku := range skus {
		if _, ok := m.records[vendorName][sku]; ok {
			delete(m.records[vendorName], sku)
			n++
		}
	}
	return n, nil
}

func (m *memStore) Vendors(context.Context) ([]string, error) { return nil, nil }
func (m *memStore) Migrate(context.Context) error             { return nil }
func (m *memStore) Close() error                              { return nil }

func (m *memStore) get(vendorName, sku string) (model.CanonicalProduct, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.records[vendorName][sku]
	return p, ok
}

func (m *memStore) count(vendorName string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records[vendorName])
}

func productJSONLD(sku, name, price string) string {
	return fmt.Sprintf(`<html><head><script type="application/ld+json">
	{"@context":"https://schema.org","@type":"Product","name":%q,"sku":%q,
	 "image":"https://cdn.test/%s.jpg",
	 "offers":{"@type":"Offer","price":%q,"availability":"http://schema.org/InStock"}}
	</script></head><body></body></html>`, name, sku, sku, price)
}

func listingHTML(hrefs ...string) string {
	out := "<html><body>"
	for _, h := range hrefs {
		out += fmt.Sprintf(`<a class="product" href=%q>p</a>`, h)
	}
	return out + "</body></html>"
}

// newTestSite serves the given paths and returns a fetcher pointed at it.
func newTestSite(t *testing.T, pages map[string]string) (*httptest.Server, fetcher.Fetcher) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := pages[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)

	f, err := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		MaxRetries: 1,
		HostRate:   1000,
		HostBurst:  1000,
	})
	require.NoError(t, err)
	return srv, f
}

func newTestPipeline(f fetcher.Fetcher, st store.Store, opts Options) *Pipeline {
	return New(f, extract.New(), categorize.New(taxonomy.Default()), st, opts)
}

func livingRoomProfile(baseURL string) vendor.Profile {
	return vendor.Profile{
		Name:         "bernhardt",
		BaseURL:      baseURL,
		Seeds:        []model.CategoryRef{{URL: baseURL + "/living-room", Label: "Living Room"}},
		LinkSelector: "a.product",
	}
}

func TestRunVendor_EndToEnd(t *testing.T) {
	pages := map[string]string{
		"/living-room": listingHTML("/p/sofa-n760", "/p/lamp-770"),
		"/p/sofa-n760": productJSONLD("N760-002", "Nantucket Sofa", "2349.00"),
		"/p/lamp-770":  productJSONLD("770-92", "Acacia Floor Lamp", "429.99"),
	}
	srv, f := newTestSite(t, pages)
	st := newMemStore()
	dataDir := t.TempDir()

	p := newTestPipeline(f, st, Options{DataDir: dataDir})
	vs := p.RunVendor(context.Background(), livingRoomProfile(srv.URL))

	require.NoError(t, vs.Err)
	assert.Equal(t, 2, vs.Discovered)
	assert.Equal(t, 2, vs.Extracted)
	assert.Zero(t, vs.Discarded)
	assert.Equal(t, 2, vs.Outcome.Inserted)
	assert.Zero(t, vs.Outcome.Updated)

	sofa, ok := st.get("bernhardt", "N760-002")
	require.True(t, ok)
	assert.Equal(t, "Nantucket Sofa", sofa.Name)
	assert.Equal(t, []string{"Living Room"}, sofa.RoomTypes)
	assert.Equal(t, "Sofa", sofa.ProductType)
	assert.True(t, sofa.InStock())
	require.NotNil(t, sofa.Price)
	assert.Equal(t, "2349", sofa.Price.String())

	lamp, ok := st.get("bernhardt", "770-92")
	require.True(t, ok)
	assert.Equal(t, "Lighting", lamp.ProductType)
	assert.Equal(t, "Floor Lamp", lamp.FixtureType)

	// The interchange dump round-trips what was stored.
	dumped, err := export.Read(dataDir, "bernhardt")
	require.NoError(t, err)
	assert.Len(t, dumped, 2)
}

func TestRunVendor_SecondRunIsIdempotent(t *testing.T) {
	pages := map[string]string{
		"/living-room": listingHTML("/p/sofa-n760"),
		"/p/sofa-n760": productJSONLD("N760-002", "Nantucket Sofa", "2349.00"),
	}
	srv, f := newTestSite(t, pages)
	st := newMemStore()

	p := newTestPipeline(f, st, Options{DataDir: t.TempDir()})

	first := p.RunVendor(context.Background(), livingRoomProfile(srv.URL))
	require.NoError(t, first.Err)
	assert.Equal(t, 1, first.Outcome.Inserted)

	second := p.RunVendor(context.Background(), livingRoomProfile(srv.URL))
	require.NoError(t, second.Err)
	assert.Zero(t, second.Outcome.Inserted)
	assert.Zero(t, second.Outcome.Updated)
	assert.Equal(t, 1, second.Outcome.Skipped)
}

func TestRunVendor_DeletesStaleProducts(t *testing.T) {
	pages := map[string]string{
		"/living-room": listingHTML("/p/sofa-n760"),
		"/p/sofa-n760": productJSONLD("N760-002", "Nantucket Sofa", "2349.00"),
	}
	srv, f := newTestSite(t, pages)
	st := newMemStore()
	st.seed("bernhardt", model.CanonicalProduct{Vendor: "bernhardt", SKU: "DISCONTINUED"})

	p := newTestPipeline(f, st, Options{DataDir: t.TempDir()})
	vs := p.RunVendor(context.Background(), livingRoomProfile(srv.URL))

	require.NoError(t, vs.Err)
	assert.Equal(t, int64(1), vs.Outcome.Deleted)
	_, ok := st.get("bernhardt", "DISCONTINUED")
	assert.False(t, ok)
}

func TestRunVendor_DiscardsRecordsWithoutSKU(t *testing.T) {
	pages := map[string]string{
		"/living-room": listingHTML("/p/good", "/p/nosku"),
		"/p/good":      productJSONLD("N760-002", "Nantucket Sofa", "2349.00"),
		"/p/nosku":     productJSONLD("", "Mystery Item", "10.00"),
	}
	srv, f := newTestSite(t, pages)
	st := newMemStore()

	p := newTestPipeline(f, st, Options{DataDir: t.TempDir()})
	vs := p.RunVendor(context.Background(), livingRoomProfile(srv.URL))

	require.NoError(t, vs.Err)
	assert.Equal(t, 1, vs.Extracted)
	assert.Equal(t, 1, vs.Discarded)
	assert.Equal(t, 1, st.count("bernhardt"))
}

func TestRunVendor_CountsExtractFailures(t *testing.T) {
	pages := map[string]string{
		"/living-room": listingHTML("/p/good", "/p/gone", "/p/garbage"),
		"/p/good":      productJSONLD("N760-002", "Nantucket Sofa", "2349.00"),
		"/p/garbage":   "<html><body>nothing here</body></html>",
	}
	srv, f := newTestSite(t, pages)
	st := newMemStore()

	p := newTestPipeline(f, st, Options{DataDir: t.TempDir()})
	vs := p.RunVendor(context.Background(), livingRoomProfile(srv.URL))

	require.NoError(t, vs.Err)
	assert.Equal(t, 3, vs.Discovered)
	assert.Equal(t, 1, vs.Extracted)
	assert.Equal(t, 2, vs.ExtractFailures)
}

func TestRunVendor_MaxProductsSkipsDeletes(t *testing.T) {
	pages := map[string]string{
		"/living-room": listingHTML("/p/a", "/p/b"),
		"/p/a":         productJSONLD("A-1", "Sofa A", "100"),
		"/p/b":         productJSONLD("B-1", "Sofa B", "200"),
	}
	srv, f := newTestSite(t, pages)
	st := newMemStore()
	st.seed("bernhardt", model.CanonicalProduct{Vendor: "bernhardt", SKU: "UNVISITED"})

	p := newTestPipeline(f, st, Options{DataDir: t.TempDir(), MaxProducts: 1})
	vs := p.RunVendor(context.Background(), livingRoomProfile(srv.URL))

	require.NoError(t, vs.Err)
	assert.Equal(t, 1, vs.Extracted)
	assert.Zero(t, vs.Outcome.Deleted)
	_, ok := st.get("bernhardt", "UNVISITED")
	assert.True(t, ok)
}

func TestRunVendor_NoSync(t *testing.T) {
	pages := map[string]string{
		"/living-room": listingHTML("/p/sofa-n760"),
		"/p/sofa-n760": productJSONLD("N760-002", "Nantucket Sofa", "2349.00"),
	}
	srv, f := newTestSite(t, pages)
	st := newMemStore()
	dataDir := t.TempDir()

	p := newTestPipeline(f, st, Options{DataDir: dataDir, SkipSync: true})
	vs := p.RunVendor(context.Background(), livingRoomProfile(srv.URL))

	require.NoError(t, vs.Err)
	assert.Equal(t, 1, vs.Extracted)
	assert.Zero(t, st.count("bernhardt"))

	dumped, err := export.Read(dataDir, "bernhardt")
	require.NoError(t, err)
	assert.Len(t, dumped, 1)
}

func TestRun_VendorFailureIsolated(t *testing.T) {
	pages := map[string]string{
		"/living-room": listingHTML("/p/sofa-n760"),
		"/p/sofa-n760": productJSONLD("N760-002", "Nantucket Sofa", "2349.00"),
	}
	srv, f := newTestSite(t, pages)
	st := newMemStore()

	broken := vendor.Profile{
		Name:         "hvlgroup",
		BaseURL:      "://not-a-url",
		Seeds:        []model.CategoryRef{{URL: "://not-a-url/x"}},
		LinkSelector: "a.product",
	}

	p := newTestPipeline(f, st, Options{DataDir: t.TempDir()})
	summary := p.Run(context.Background(), []vendor.Profile{broken, livingRoomProfile(srv.URL)})

	require.Len(t, summary.Vendors, 2)
	assert.Error(t, summary.Vendors[0].Err)
	assert.NoError(t, summary.Vendors[1].Err)
	assert.Equal(t, 1, summary.Vendors[1].Outcome.Inserted)
	assert.False(t, summary.Failed())
}

func TestRunSummary_Failed(t *testing.T) {
	assert.False(t, RunSummary{}.Failed())
	assert.True(t, RunSummary{Vendors: []VendorSummary{{Err: eris.New("boom")}}}.Failed())
	assert.False(t, RunSummary{Vendors: []VendorSummary{
		{Err: eris.New("boom")}, {},
	}}.Failed())
}

func TestSync_ReplaysInterchangeProducts(t *testing.T) {
	st := newMemStore()
	f, err := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{})
	require.NoError(t, err)

	p := newTestPipeline(f, st, Options{})
	products := []model.CanonicalProduct{
		{Vendor: "bernhardt", SKU: "K1325", Name: "Odette Bed", RoomTypes: []string{"Bedroom"}, ProductType: "Bed"},
		{Vendor: "bernhardt", SKU: "K1325", Name: "Odette Bed v2", RoomTypes: []string{"Bedroom"}, ProductType: "Bed"},
	}

	outcome, err := p.Sync(context.Background(), "bernhardt", products)
	require.NoError(t, err)

	// Duplicate SKUs collapse keep-last before reconciling.
	assert.Equal(t, 1, outcome.Inserted)
	got, ok := st.get("bernhardt", "K1325")
	require.True(t, ok)
	assert.Equal(t, "Odette Bed v2", got.Name)
}

func TestRunVendor_CancelledRunStillReconciles(t *testing.T) {
	pages := map[string]string{
		"/living-room": listingHTML("/p/sofa-n760"),
		"/p/sofa-n760": productJSONLD("N760-002", "Nantucket Sofa", "2349.00"),
	}
	srv, _ := newTestSite(t, pages)
	st := newMemStore()
	st.seed("bernhardt", model.CanonicalProduct{Vendor: "bernhardt", SKU: "UNVISITED"})

	ctx, cancel := context.WithCancel(context.Background())
	cancelling := &cancellingFetcher{inner: mustFetcher(t), cancel: cancel, after: 2}

	p := newTestPipeline(cancelling, st, Options{DataDir: t.TempDir()})
	vs := p.RunVendor(ctx, livingRoomProfile(srv.URL))

	require.NoError(t, vs.Err)
	// The extracted record landed even though the run was cancelled.
	_, ok := st.get("bernhardt", "N760-002")
	assert.True(t, ok)
	// A partial scrape never deletes unvisited products.
	_, ok = st.get("bernhardt", "UNVISITED")
	assert.True(t, ok)
}

func mustFetcher(t *testing.T) fetcher.Fetcher {
	t.Helper()
	f, err := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{MaxRetries: 1, HostRate: 1000, HostBurst: 1000})
	require.NoError(t, err)
	return f
}

// cancellingFetcher cancels its context after a fixed number of fetches.
type cancellingFetcher struct {
	inner  fetcher.Fetcher
	cancel context.CancelFunc
	after  int

	mu    sync.Mutex
	count int
}

func (c *cancellingFetcher) Fetch(ctx context.Context, url string) (*model.RawProductPage, error) {
	page, err := c.inner.Fetch(ctx, url)

	c.mu.Lock()
	c.count++
	if c.count >= c.after {
		c.cancel()
	}
	c.mu.Unlock()
	return page, err
}
