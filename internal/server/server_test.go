package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shipsplit/shipsplit/internal/engine"
	"github.com/shipsplit/shipsplit/internal/experiment"
	"github.com/shipsplit/shipsplit/internal/store"
	"github.com/shipsplit/shipsplit/internal/track"
)

func newTestServer(t *testing.T) (*Server, *engine.Engine, *store.SQLiteStore) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "server.db"))
	require.NoError(t, err)

	e := engine.New(s, engine.Config{
		Tracker: track.Options{BatchSize: 10000, FlushInterval: time.Hour},
	}, nil)
	t.Cleanup(func() {
		e.Close()
		s.Close()
	})
	return New(e, s, 0, nil), e, s
}

func seedTest(t *testing.T, s *store.SQLiteStore) {
	t.Helper()
	require.NoError(t, s.CreateTest(context.Background(), &experiment.Test{
		ID:       "t1",
		TenantID: "shop1",
		Name:     "Checkout banner",
		Type:     experiment.TypeFixed,
		Status:   experiment.StatusRunning,
		Variants: []experiment.Variant{
			{ID: "control", Weight: 50, Control: true},
			{ID: "variant_a", Weight: 50},
		},
	}))
}

func postJSON(t *testing.T, handler http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/health", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestAssignEndpoint(t *testing.T) {
	srv, _, s := newTestServer(t)
	seedTest(t, s)

	rec := postJSON(t, srv.Handler(), "/assign", AssignRequest{
		TenantID: "shop1", TestID: "t1", VisitorID: "v1",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp AssignResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Assigned)
	assert.Equal(t, "v1", resp.VisitorID)
	assert.Contains(t, []string{"control", "variant_a"}, resp.VariantID)

	// Same visitor, same variant.
	rec = postJSON(t, srv.Handler(), "/assign", AssignRequest{
		TenantID: "shop1", TestID: "t1", VisitorID: "v1",
	})
	var again AssignResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &again))
	assert.Equal(t, resp.VariantID, again.VariantID)
}

func TestAssignEndpoint_MintsVisitorID(t *testing.T) {
	srv, _, s := newTestServer(t)
	seedTest(t, s)

	rec := postJSON(t, srv.Handler(), "/assign", AssignRequest{TenantID: "shop1", TestID: "t1"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp AssignResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.VisitorID)
}

func TestAssignEndpoint_UnknownTest(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := postJSON(t, srv.Handler(), "/assign", AssignRequest{TestID: "nope"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAssignEndpoint_BadRequests(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/assign", bytes.NewReader([]byte("{")))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postJSON(t, srv.Handler(), "/assign", AssignRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBeaconEndpoint(t *testing.T) {
	srv, e, s := newTestServer(t)
	seedTest(t, s)

	rec := postJSON(t, srv.Handler(), "/assign", AssignRequest{
		TenantID: "shop1", TestID: "t1", VisitorID: "v1",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = postJSON(t, srv.Handler(), "/e", BeaconRequest{
		TenantID: "shop1", TestID: "t1", VisitorID: "v1",
		EventType: "conversion", DedupKey: "order-1",
	})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	e.FlushEvents()

	results, err := e.GetTestResults(context.Background(), "t1")
	require.NoError(t, err)
	total := 0
	for _, v := range results.Variants {
		total += v.Conversions
	}
	assert.Equal(t, 1, total)
}

func TestBeaconEndpoint_Validation(t *testing.T) {
	srv, _, s := newTestServer(t)
	seedTest(t, s)

	rec := postJSON(t, srv.Handler(), "/e", BeaconRequest{TestID: "t1", VisitorID: "v1", EventType: "bogus"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postJSON(t, srv.Handler(), "/e", BeaconRequest{EventType: "conversion"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Preflight passes through.
	req := httptest.NewRequest(http.MethodOptions, "/e", nil)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestShippingRatesEndpoint(t *testing.T) {
	srv, _, s := newTestServer(t)
	require.NoError(t, s.CreateTest(context.Background(), &experiment.Test{
		ID:       "ship1",
		TenantID: "shop1",
		Type:     experiment.TypeShipping,
		Status:   experiment.StatusRunning,
		Variants: []experiment.Variant{
			{ID: "control", Weight: 50, Control: true, RateSuffix: "A"},
			{ID: "variant_a", Weight: 50, RateSuffix: "B"},
		},
	}))

	rec := postJSON(t, srv.Handler(), "/assign", AssignRequest{
		TenantID: "shop1", TestID: "ship1", VisitorID: "v1",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = postJSON(t, srv.Handler(), "/shipping/rates", ShippingRatesRequest{
		TestID: "ship1", VisitorID: "v1",
		Rates: []string{"Standard Shipping (A)", "Standard Shipping (B)", "Express Shipping"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ShippingRatesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Hide, 1)

	// A visitor with no assignment hides nothing.
	rec = postJSON(t, srv.Handler(), "/shipping/rates", ShippingRatesRequest{
		TestID: "ship1", VisitorID: "stranger", Rates: []string{"Standard Shipping (A)"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.Hide)
}

func TestListTestsEndpoint(t *testing.T) {
	srv, _, s := newTestServer(t)
	seedTest(t, s)

	req := httptest.NewRequest(http.MethodGet, "/api/tests?tenant=shop1", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp []TestSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp, 1)
	assert.Equal(t, "t1", resp[0].ID)
	assert.Equal(t, 2, resp[0].Variants)
}

func TestResultsEndpoint(t *testing.T) {
	srv, e, s := newTestServer(t)
	seedTest(t, s)

	for _, v := range []string{"v1", "v2", "v3"} {
		rec := postJSON(t, srv.Handler(), "/assign", AssignRequest{
			TenantID: "shop1", TestID: "t1", VisitorID: v,
		})
		require.Equal(t, http.StatusOK, rec.Code)
	}
	e.FlushEvents()

	req := httptest.NewRequest(http.MethodGet, "/api/results?test=t1", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ResultsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "t1", resp.TestID)
	require.Len(t, resp.Variants, 2)

	total := 0
	for _, v := range resp.Variants {
		total += v.Exposures
	}
	assert.Equal(t, 3, total)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/results", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/results?test=nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
