package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taxos/internal/core"
	"taxos/internal/services"
	"taxos/internal/storage"
	"taxos/internal/storage/storagetest"
)

type apiFixture struct {
	srv    *Server
	tenant core.TenantID
	bucket core.BucketID
}

func newAPIFixture(t *testing.T, cfg ServerConfig) *apiFixture {
	t.Helper()
	layout, tenant := storagetest.NewTenant(t)
	bucket := storagetest.AddBucket(t, layout, tenant, "Groceries")
	svc := services.NewReceiptService(layout, storage.NewBucketStore(layout), services.DefaultReceiptServiceConfig())
	srv := NewServer(cfg, svc, nil)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return &apiFixture{srv: srv, tenant: tenant, bucket: bucket}
}

func (f *apiFixture) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	req.Header.Set(HeaderTenantID, f.tenant.String())
	rec := httptest.NewRecorder()
	f.srv.Handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestServer_HealthAndReady(t *testing.T) {
	f := newAPIFixture(t, ServerConfig{})

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		rec := httptest.NewRecorder()
		f.srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.NotEmpty(t, rec.Header().Get("X-Request-ID"), path)
		assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"), path)
	}
}

func TestServer_NotReady(t *testing.T) {
	f := newAPIFixture(t, ServerConfig{Ready: func(context.Context) error { return errors.New("data dir missing") }})

	rec := httptest.NewRecorder()
	f.srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "not_ready")
}

func TestServer_ReceiptLifecycle(t *testing.T) {
	f := newAPIFixture(t, ServerConfig{})
	bucket := f.bucket.String()

	// Acme: 100.00 with nothing allocated
	rec := f.do(t, http.MethodPost, "/api/receipts",
		`{"vendor":"Acme","total":"100.00","date":"2025-03-14T10:00:00Z","timezone":"UTC"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[core.Receipt](t, rec)
	id := created.ID.String()
	assert.Equal(t, "/api/receipts/"+id, rec.Header().Get("Location"))

	unalloc := decode[struct {
		Unallocated []core.UnallocatedReceipt `json:"unallocated"`
	}](t, f.do(t, http.MethodGet, "/api/unallocated?month=2025-03", ""))
	require.Len(t, unalloc.Unallocated, 1)
	assert.Equal(t, "100", unalloc.Unallocated[0].Amount.String())

	// allocate 40, leaving 60
	rec = f.do(t, http.MethodPatch, "/api/receipts/"+id,
		`{"allocations":[{"bucket":"`+bucket+`","amount":"40.00"}]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	unalloc = decode[struct {
		Unallocated []core.UnallocatedReceipt `json:"unallocated"`
	}](t, f.do(t, http.MethodGet, "/api/unallocated?month=2025-03", ""))
	require.Len(t, unalloc.Unallocated, 1)
	assert.Equal(t, "60", unalloc.Unallocated[0].Amount.String())

	// allocate everything
	rec = f.do(t, http.MethodPatch, "/api/receipts/"+id,
		`{"allocations":[{"bucket":"`+bucket+`","amount":"100.00"}]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	dash := decode[core.Dashboard](t, f.do(t, http.MethodGet, "/api/dashboard?month=2025-03", ""))
	assert.Empty(t, dash.Unallocated)
	require.Len(t, dash.Buckets, 1)
	assert.Equal(t, "100", dash.Buckets[0].Total.String())
	assert.Equal(t, []string{"Acme"}, dash.VendorNames)

	list := decode[struct {
		Receipts []core.Receipt `json:"receipts"`
		Count    int            `json:"count"`
	}](t, f.do(t, http.MethodGet, "/api/receipts?bucket="+bucket, ""))
	assert.Equal(t, 1, list.Count)

	vendors := decode[map[string][]string](t, f.do(t, http.MethodGet, "/api/vendors", ""))
	assert.Equal(t, []string{"Acme"}, vendors["vendors"])

	rebuilt := decode[map[string]int](t, f.do(t, http.MethodPost, "/api/index/rebuild", ""))
	assert.Equal(t, map[string]int{"receipts": 1, "months": 1}, rebuilt)

	got := decode[core.Receipt](t, f.do(t, http.MethodGet, "/api/receipts/"+id, ""))
	assert.Equal(t, created.ID, got.ID)

	deleted := decode[map[string]bool](t, f.do(t, http.MethodDelete, "/api/receipts/"+id, ""))
	assert.True(t, deleted["deleted"])
	deleted = decode[map[string]bool](t, f.do(t, http.MethodDelete, "/api/receipts/"+id, ""))
	assert.False(t, deleted["deleted"])

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/receipts/"+id, "").Code)
}

func TestServer_ErrorMapping(t *testing.T) {
	f := newAPIFixture(t, ServerConfig{})
	missing := "0190f5a4-0000-7000-8000-000000000001"

	tests := []struct {
		name   string
		method string
		target string
		body   string
		status int
	}{
		{"negative total", http.MethodPost, "/api/receipts", `{"vendor":"Acme","total":-1,"date":"2025-03-01"}`, http.StatusBadRequest},
		{"empty vendor", http.MethodPost, "/api/receipts", `{"vendor":" ","total":1,"date":"2025-03-01"}`, http.StatusBadRequest},
		{"unknown bucket", http.MethodPost, "/api/receipts",
			`{"vendor":"Acme","total":1,"date":"2025-03-01","allocations":[{"bucket":"` + missing + `","amount":1}]}`, http.StatusNotFound},
		{"bad month", http.MethodGet, "/api/unallocated?month=March", "", http.StatusBadRequest},
		{"bad id", http.MethodGet, "/api/receipts/not-a-uuid", "", http.StatusBadRequest},
		{"missing receipt", http.MethodGet, "/api/receipts/" + missing, "", http.StatusNotFound},
		{"patch missing receipt", http.MethodPatch, "/api/receipts/" + missing, `{"notes":"x"}`, http.StatusNotFound},
		{"wrong method", http.MethodPut, "/api/receipts", "", http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, tt.method, tt.target, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}

func TestServer_TenantHeader(t *testing.T) {
	f := newAPIFixture(t, ServerConfig{})

	rec := httptest.NewRecorder()
	f.srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/vendors", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/vendors", nil)
	req.Header.Set(HeaderTenantID, "0190f5a4-0000-7000-8000-0000000000ff")
	rec = httptest.NewRecorder()
	f.srv.Handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code, "unknown tenant")
}

func TestServer_RateLimit(t *testing.T) {
	f := newAPIFixture(t, ServerConfig{RateLimitPerMinute: 2})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		codes = append(codes, f.do(t, http.MethodGet, "/api/vendors", "").Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}
