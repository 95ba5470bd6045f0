package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/furnishly/catalog-cli/internal/model"
	"github.com/furnishly/catalog-cli/internal/store"
)

// apiStore stubs the read side of the store for router tests.
type apiStore struct {
	vendors  []string
	products map[string][]model.PersistedRecord
	err      error
}

func (a *apiStore) ListExisting(_ context.Context, vendor string) ([]model.PersistedRecord, error) {
	if a.err != nil {
		return nil, a.err
	}
	return a.products[vendor], nil
}

func (a *apiStore) UpsertBatch(context.Context, string, []model.CanonicalProduct) []store.RecordResult {
	return nil
}

func (a *apiStore) DeleteBatch(context.Context, string, []string) (int64, error) { return 0, nil }

func (a *apiStore) Vendors(context.Context) ([]string, error) {
	if a.err != nil {
		return nil, a.err
	}
	return a.vendors, nil
}

func (a *apiStore) Migrate(context.Context) error { return nil }
func (a *apiStore) Close() error                  { return nil }

func TestRouter_Healthz(t *testing.T) {
	srv := httptest.NewServer(newRouter(&apiStore{}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestRouter_Vendors(t *testing.T) {
	srv := httptest.NewServer(newRouter(&apiStore{vendors: []string{"bernhardt", "hvlgroup"}}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/vendors")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var vendors []string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&vendors))
	assert.Equal(t, []string{"bernhardt", "hvlgroup"}, vendors)
}

func TestRouter_Vendors_Empty(t *testing.T) {
	srv := httptest.NewServer(newRouter(&apiStore{}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/vendors")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var vendors []string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&vendors))
	assert.NotNil(t, vendors)
	assert.Empty(t, vendors)
}

func TestRouter_VendorProducts(t *testing.T) {
	st := &apiStore{products: map[string][]model.PersistedRecord{
		"bernhardt": {
			{
				CanonicalProduct: model.CanonicalProduct{
					SKU: "K1325", Name: "Odette Bed",
					RoomTypes: []string{"Bedroom"}, ProductType: "Bed",
				},
				ID: "id-1",
			},
		},
	}}
	srv := httptest.NewServer(newRouter(st))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/vendors/bernhardt/products")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var records []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&records))
	require.Len(t, records, 1)
	assert.Equal(t, "K1325", records[0]["sku"])
	assert.Equal(t, "id-1", records[0]["id"])
}

func TestRouter_VendorProducts_UnknownVendor(t *testing.T) {
	srv := httptest.NewServer(newRouter(&apiStore{}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/vendors/nosuchvendor/products")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var records []any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&records))
	assert.Empty(t, records)
}

func TestRouter_StoreErrorIs500(t *testing.T) {
	srv := httptest.NewServer(newRouter(&apiStore{err: eris.New("pool exhausted")}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/vendors")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "internal error", body["error"])
}
