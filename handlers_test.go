package main

import (
	"bytes"
	"encoding/json"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kwv/changemesh/overlay"
)

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

func newTestServer(t *testing.T) (*App, http.Handler) {
	t.Helper()
	cfg := planarConfig()
	cfg.Render.WidthPx = 120
	app := NewApp(cfg)
	t.Cleanup(app.Close)
	return app, newHTTPServer(app)
}

func analysisBody(attribute string) string {
	return `{"before":` + beforeFixture + `,"after":` + afterFixture + `,"attribute":"` + attribute + `"}`
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// createAnalysis posts the fixtures and returns the new run id.
func createAnalysis(t *testing.T, h http.Handler) string {
	t.Helper()
	rec := do(h, http.MethodPost, "/analyses", analysisBody("landuse"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.ID)
	return resp.ID
}

// ---------------------------------------------------------------------------
// routes
// ---------------------------------------------------------------------------

func TestHealth(t *testing.T) {
	_, h := newTestServer(t)
	rec := do(h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, 0.0, body["results"])
}

func TestCreateAnalysis(t *testing.T) {
	app, h := newTestServer(t)
	rec := do(h, http.MethodPost, "/analyses", analysisBody("landuse"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp struct {
		ID     string `json:"id"`
		Result struct {
			Attribute        string  `json:"attribute"`
			TotalArea        float64 `json:"totalArea"`
			ChangedArea      float64 `json:"changedArea"`
			ChangePercentage float64 `json:"changePercentage"`
			ChangeMatrix     []struct {
				From  any     `json:"fromValue"`
				To    any     `json:"toValue"`
				Area  float64 `json:"areaM2"`
				Count int     `json:"count"`
			} `json:"changeMatrix"`
			ChangeFeatures []map[string]any `json:"changeFeatures"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	assert.Equal(t, "/analyses/"+resp.ID, rec.Header().Get("Location"))
	assert.Equal(t, "landuse", resp.Result.Attribute)
	assert.InDelta(t, 29.0, resp.Result.TotalArea, 1e-9)
	assert.InDelta(t, 25.0/29.0*100, resp.Result.ChangePercentage, 1e-9)
	require.Len(t, resp.Result.ChangeMatrix, 1)
	assert.Equal(t, "forest", resp.Result.ChangeMatrix[0].From)
	assert.Equal(t, "urban", resp.Result.ChangeMatrix[0].To)
	require.Len(t, resp.Result.ChangeFeatures, 2)
	assert.Contains(t, resp.Result.ChangeFeatures[0], "geometry")
	assert.Contains(t, resp.Result.ChangeFeatures[0], "areaM2")

	assert.Equal(t, 1, app.Registry.Len())
}

func TestCreateAnalysis_Errors(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode int
		wantKind string
	}{
		{"malformed json", `{"before":`, http.StatusBadRequest, ""},
		{"bad collection", `{"before":{"type":"Point"},"after":` + afterFixture + `,"attribute":"landuse"}`, http.StatusBadRequest, ""},
		{"missing attribute", analysisBody("zoning"), http.StatusUnprocessableEntity, "missing_attribute"},
		{"no attribute", analysisBody(""), http.StatusUnprocessableEntity, "missing_attribute"},
		{"empty before", `{"after":` + afterFixture + `,"attribute":"landuse"}`, http.StatusUnprocessableEntity, "empty_set"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, h := newTestServer(t)
			rec := do(h, http.MethodPost, "/analyses", tt.body)
			assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())

			var resp errorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.NotEmpty(t, resp.Error)
			assert.Equal(t, tt.wantKind, resp.Kind)
		})
	}
}

func TestCreateAnalysis_BodyTooLarge(t *testing.T) {
	app, h := newTestServer(t)
	app.Config.Server.MaxBodyMB = 1

	big := `{"attribute":"` + strings.Repeat("x", 2<<20) + `"}`
	rec := do(h, http.MethodPost, "/analyses", big)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestListAnalyses(t *testing.T) {
	_, h := newTestServer(t)

	rec := do(h, http.MethodGet, "/analyses", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())

	first := createAnalysis(t, h)
	second := createAnalysis(t, h)

	rec = do(h, http.MethodGet, "/analyses", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var items []struct {
		ID      string          `json:"id"`
		Summary overlay.Summary `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &items))
	require.Len(t, items, 2)
	assert.Equal(t, second, items[0].ID)
	assert.Equal(t, first, items[1].ID)
	assert.Equal(t, "0.00 ha", items[0].Summary.ChangedHectares)
}

func TestGetAnalysis(t *testing.T) {
	_, h := newTestServer(t)
	id := createAnalysis(t, h)

	rec := do(h, http.MethodGet, "/analyses/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var res map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "landuse", res["attribute"])

	rec = do(h, http.MethodGet, "/analyses/"+id+"/summary", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var summary overlay.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	require.Len(t, summary.TopChanges, 1)
	assert.Equal(t, "forest", summary.TopChanges[0].From)
	assert.InDelta(t, 100.0, summary.TopChanges[0].Share, 1e-9)
}

func TestGetAnalysis_NotFound(t *testing.T) {
	_, h := newTestServer(t)
	for _, path := range []string{
		"/analyses/nope",
		"/analyses/nope/summary",
		"/analyses/nope/legend",
		"/analyses/nope/changes.geojson",
		"/analyses/nope/map.svg",
		"/analyses/nope/map.png",
	} {
		rec := do(h, http.MethodGet, path, "")
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}
}

func TestLegend(t *testing.T) {
	_, h := newTestServer(t)
	id := createAnalysis(t, h)

	rec := do(h, http.MethodGet, "/analyses/"+id+"/legend", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var legend []overlay.LegendEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &legend))
	require.Len(t, legend, 2)
	assert.Equal(t, overlay.UnchangedLegendKey, legend[0].Key)
	assert.Equal(t, "forest → urban", legend[1].Label)
}

func TestChangesGeoJSON(t *testing.T) {
	_, h := newTestServer(t)
	id := createAnalysis(t, h)

	rec := do(h, http.MethodGet, "/analyses/"+id+"/changes.geojson", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/geo+json", rec.Header().Get("Content-Type"))

	var fc struct {
		Type     string `json:"type"`
		Features []struct {
			Properties map[string]any `json:"properties"`
		} `json:"features"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fc))
	assert.Equal(t, "FeatureCollection", fc.Type)
	require.Len(t, fc.Features, 2)
	assert.Equal(t, "changed", fc.Features[0].Properties[overlay.PropStatus])
	assert.Equal(t, "forest → urban", fc.Features[0].Properties[overlay.PropTransition])
}

func TestMapSVG(t *testing.T) {
	_, h := newTestServer(t)
	id := createAnalysis(t, h)

	rec := do(h, http.MethodGet, "/analyses/"+id+"/map.svg", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/svg+xml", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "<svg")
	all := strings.Count(rec.Body.String(), "<path")

	rec = do(h, http.MethodGet, "/analyses/"+id+"/map.svg?changed=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Less(t, strings.Count(rec.Body.String(), "<path"), all)
}

func TestMapPNG(t *testing.T) {
	_, h := newTestServer(t)
	id := createAnalysis(t, h)

	rec := do(h, http.MethodGet, "/analyses/"+id+"/map.png", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))

	img, err := png.Decode(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 120, img.Bounds().Dx())
}

func TestCORSPreflight(t *testing.T) {
	_, h := newTestServer(t)
	req := httptest.NewRequest(http.MethodOptions, "/analyses", nil)
	req.Header.Set("Origin", "http://example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
