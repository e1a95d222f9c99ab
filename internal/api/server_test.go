package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/registry-crawler/internal/model"
	"github.com/sells-group/registry-crawler/internal/orchestrator"
	"github.com/sells-group/registry-crawler/internal/source"
	"github.com/sells-group/registry-crawler/internal/store"
)

type mockCrawler struct{ mock.Mock }

func (m *mockCrawler) Run(ctx context.Context, id model.CompanyIdentifier) (*orchestrator.Outcome, error) {
	args := m.Called(ctx, id)
	out, _ := args.Get(0).(*orchestrator.Outcome)
	return out, args.Error(1)
}

type mockRuns struct{ mock.Mock }

func (m *mockRuns) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	args := m.Called(ctx, runID)
	run, _ := args.Get(0).(*model.Run)
	return run, args.Error(1)
}

func (m *mockRuns) ListRuns(ctx context.Context, filter store.RunFilter) ([]model.Run, error) {
	args := m.Called(ctx, filter)
	runs, _ := args.Get(0).([]model.Run)
	return runs, args.Error(1)
}

func outcome(t *testing.T, id model.CompanyIdentifier) *orchestrator.Outcome {
	t.Helper()
	p := model.NewPartialRecord(model.SourceNorthdata, id)
	require.NoError(t, p.Set(model.FieldUmsatz, 2300000.0))
	rec := model.NewMergedRecord(id, p.Values(), time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))

	html := "<section>Example</section>"
	artifacts := make(map[model.Source]map[string]*string)
	for _, src := range model.Sources {
		artifacts[src] = source.EmptyArtifacts(src)
	}
	artifacts[model.SourceNorthdata]["html"] = &html

	return &orchestrator.Outcome{
		RunID:          "run-1",
		Identifier:     id,
		Record:         rec,
		Artifacts:      artifacts,
		Sources:        []model.SourceOutcome{{Source: model.SourceNorthdata, Status: model.OutcomeOK, Fields: 1}},
		ExtractedTaxID: "DE123456789",
	}
}

func post(t *testing.T, h http.Handler, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/company", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return rec, out
}

func TestCompanySuccess(t *testing.T) {
	t.Parallel()

	id, err := model.NewIdentifier("Example GmbH", "HRB182742", "")
	require.NoError(t, err)

	c := &mockCrawler{}
	c.On("Run", mock.Anything, id).Return(outcome(t, id), nil).Once()

	h := New(c, nil, Options{}).Handler()
	rec, out := post(t, h, `{"company_name":"Example GmbH","register_number":"HRB 182742"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, out["success"])
	assert.Nil(t, out["error"])
	assert.Equal(t, "HRB182742", out["register_number"])
	assert.Equal(t, "HRB182742", out["registernummer"])
	assert.Equal(t, "DE123456789", out["extracted_ust_idnr"])
	assert.Equal(t, "run-1", out["run_id"])

	files := out["files"].(map[string]any)
	assert.Len(t, files, 4)
	assert.Equal(t, "<section>Example</section>", files["northdata"].(map[string]any)["html"])
	hr := files["handelsregister"].(map[string]any)
	assert.Contains(t, hr, "pdf")
	assert.Nil(t, hr["pdf"])

	record := out["record"].(map[string]any)
	assert.Equal(t, map[string]any{"umsatz": 2300000.0}, record["fields"])
	assert.Equal(t, []any{"northdata"}, record["data_sources"])
	c.AssertExpectations(t)
}

func TestCompanyLegacyKeys(t *testing.T) {
	t.Parallel()

	c := &mockCrawler{}
	c.On("Run", mock.Anything, mock.MatchedBy(func(id model.CompanyIdentifier) bool {
		return id.RegisterNumber() == "HRB182742" && id.TaxID() == "DE301125462"
	})).Return(nil, errors.New("stop")).Once()

	h := New(c, nil, Options{}).Handler()
	_, out := post(t, h, `{"company_name":"MAGNA Real Estate GmbH","registernummer":"HRB182742","ust_idnr":"DE301125462"}`)

	assert.Equal(t, false, out["success"])
	c.AssertExpectations(t)
}

func TestCompanyInvalidRequest(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"company_name":`},
		{"missing name", `{"register_number":"HRB1"}`},
		{"bad register type", `{"company_name":"X GmbH","register_number":"ABC123"}`},
		{"missing digits", `{"company_name":"X GmbH","register_number":"HRB"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := &mockCrawler{}
			h := New(c, nil, Options{}).Handler()

			rec, out := post(t, h, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, false, out["success"])
			assert.NotEmpty(t, out["error"])
			c.AssertNotCalled(t, "Run", mock.Anything, mock.Anything)
		})
	}
}

func TestCompanyTotalFailure(t *testing.T) {
	t.Parallel()

	c := &mockCrawler{}
	c.On("Run", mock.Anything, mock.Anything).Return(nil, errors.New("orchestrator: crawl failed: corrupt state"))

	h := New(c, nil, Options{}).Handler()
	rec, out := post(t, h, `{"company_name":"Example GmbH","register_number":"HRB182742"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, out["success"])
	assert.Contains(t, out["error"], "corrupt state")
	assert.NotContains(t, out, "record")

	files := out["files"].(map[string]any)
	for _, src := range model.Sources {
		artifacts := files[string(src)].(map[string]any)
		for _, name := range source.ArtifactNames(src) {
			v, ok := artifacts[name]
			assert.True(t, ok, "%s/%s missing", src, name)
			assert.Nil(t, v)
		}
	}
}

func TestInfoAndHealth(t *testing.T) {
	t.Parallel()

	h := New(&mockCrawler{}, nil, Options{
		Version:  "1.2.3",
		Circuits: func() map[model.Source]string { return map[model.Source]string{model.SourceLinkedIn: "open"} },
	}).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"version":"1.2.3"`)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy","service":"registry-crawler","circuits":{"linkedin":"open"}}`, rec.Body.String())
}

func TestCORSPreflight(t *testing.T) {
	t.Parallel()

	h := New(&mockCrawler{}, nil, Options{AllowedOrigins: []string{"https://app.example.de"}}).Handler()
	req := httptest.NewRequest(http.MethodOptions, "/api/company", nil)
	req.Header.Set("Origin", "https://app.example.de")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "https://app.example.de", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestGetRun(t *testing.T) {
	t.Parallel()

	runs := &mockRuns{}
	runs.On("GetRun", mock.Anything, "run-1").Return(&model.Run{ID: "run-1", CompanyName: "Example GmbH", Status: model.RunStatusComplete}, nil)
	runs.On("GetRun", mock.Anything, "missing").Return(nil, store.ErrNotFound)
	runs.On("GetRun", mock.Anything, "broken").Return(nil, errors.New("db down"))
	h := New(&mockCrawler{}, runs, Options{}).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs/run-1", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"complete"`)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs/broken", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestListRuns(t *testing.T) {
	t.Parallel()

	runs := &mockRuns{}
	runs.On("ListRuns", mock.Anything, store.RunFilter{Status: model.RunStatusFailed, Limit: 5}).
		Return([]model.Run{{ID: "run-9"}}, nil)
	h := New(&mockCrawler{}, runs, Options{}).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs?status=failed&limit=5", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"run-9"`)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs?limit=abc", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	runs.AssertExpectations(t)
}

func TestRunsWithoutHistory(t *testing.T) {
	t.Parallel()

	h := New(&mockCrawler{}, nil, Options{}).Handler()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs/run-1", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
