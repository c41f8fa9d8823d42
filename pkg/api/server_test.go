package api

import (
	"context"
	"encoding/json"
	stdliberrors "errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/odvcencio/inhabit/pkg/errors"
	"github.com/odvcencio/inhabit/pkg/report"
	"github.com/odvcencio/inhabit/pkg/score"
	"github.com/odvcencio/inhabit/pkg/store"
)

type fakeArchive struct {
	pingErr error
	runs    []store.RunSummary
	listErr error
	byID    map[string]*report.Report
	getErr  error
}

func (f *fakeArchive) Ping(context.Context) error { return f.pingErr }

func (f *fakeArchive) ListRuns(int) ([]store.RunSummary, error) {
	return f.runs, f.listErr
}

func (f *fakeArchive) GetRun(runID string) (*report.Report, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.byID[runID], nil
}

func serveRequest(t *testing.T, archive Archive, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	s := NewServer(Config{Archive: archive})
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestHealthz(t *testing.T) {
	rec := serveRequest(t, &fakeArchive{}, http.MethodGet, "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("healthz body is not JSON: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %q, want ok", body["status"])
	}
}

func TestHealthzArchiveDown(t *testing.T) {
	rec := serveRequest(t, &fakeArchive{pingErr: stdliberrors.New("locked")}, http.MethodGet, "/healthz")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestListRuns(t *testing.T) {
	archive := &fakeArchive{
		runs: []store.RunSummary{
			{RunID: "run-2", Agent: "mock-perfect", Status: store.RunStatusCompleted, Packages: 3, Hits: 3, AvgHitRate: 1.0},
			{RunID: "run-1", Agent: "baseline-search", Status: store.RunStatusHalted, Packages: 1},
		},
	}
	rec := serveRequest(t, archive, http.MethodGet, "/api/v1/runs?limit=10")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Runs []store.RunSummary `json:"runs"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("list body is not JSON: %v", err)
	}
	if len(body.Runs) != 2 || body.Runs[0].RunID != "run-2" {
		t.Errorf("runs = %+v", body.Runs)
	}
}

func TestListRunsEmpty(t *testing.T) {
	rec := serveRequest(t, &fakeArchive{}, http.MethodGet, "/api/v1/runs")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	// An empty archive must serialize as an empty array, not null.
	if !strings.Contains(rec.Body.String(), `"runs": []`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestGetRun(t *testing.T) {
	archive := &fakeArchive{
		byID: map[string]*report.Report{
			"run-1": {
				SchemaVersion: report.SchemaVersion,
				RunID:         "run-1",
				Agent:         "baseline-search",
				Aggregate:     score.Aggregate{Packages: 1, Hits: 1},
				Packages:      []report.UnitResult{{PackageID: "0xaaa"}},
			},
		},
	}
	rec := serveRequest(t, archive, http.MethodGet, "/api/v1/runs/run-1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var rep report.Report
	if err := json.Unmarshal(rec.Body.Bytes(), &rep); err != nil {
		t.Fatalf("run body is not JSON: %v", err)
	}
	if rep.RunID != "run-1" || len(rep.Packages) != 1 {
		t.Errorf("report = %+v", rep)
	}
}

func TestGetRunNotFound(t *testing.T) {
	rec := serveRequest(t, &fakeArchive{byID: map[string]*report.Report{}}, http.MethodGet, "/api/v1/runs/ghost")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestGetRunArchiveError(t *testing.T) {
	archive := &fakeArchive{
		getErr: errors.New(errors.ErrCodeStorageRead, "archive corrupted").
			WithRemediation("restore the archive from a checkpoint"),
	}
	rec := serveRequest(t, archive, http.MethodGet, "/api/v1/runs/run-1")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	var body errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("error body is not JSON: %v", err)
	}
	if body.Code != string(errors.ErrCodeStorageRead) {
		t.Errorf("error code = %q, want STORAGE_READ", body.Code)
	}
	if len(body.Remediation) == 0 {
		t.Error("remediation lost in translation")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	rec := serveRequest(t, &fakeArchive{}, http.MethodGet, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Error("metrics output missing standard collectors")
	}
}

func TestNoArchiveConfigured(t *testing.T) {
	rec := serveRequest(t, nil, http.MethodGet, "/api/v1/runs")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}
