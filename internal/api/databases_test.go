package api

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/llm4sql/llm4sql/internal/catalog"
	"github.com/llm4sql/llm4sql/internal/schema"
)

func TestListDatabasesKeepsCatalogOrder(t *testing.T) {
	h := NewHandler(testConfig(t, nil), Dependencies{Catalog: testCatalog(t)})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/databases", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decodeJSON(t, rr)
	databases, ok := body["databases"].([]any)
	if !ok || len(databases) != 3 {
		t.Fatalf("databases = %#v", body["databases"])
	}
	first := databases[0].(map[string]any)
	if first["name"] != "chinook" || first["title"] != "Chinook" {
		t.Fatalf("first = %#v", first)
	}
	if first["diagram_url"] != "/v1/databases/chinook/diagram" {
		t.Fatalf("diagram_url = %v", first["diagram_url"])
	}
	if _, leaked := first["path"]; leaked {
		t.Fatal("filesystem path must not be exposed")
	}
	last := databases[2].(map[string]any)
	if last["name"] != "employee" {
		t.Fatalf("last = %#v", last)
	}
}

func TestDiagramEndpointServesFile(t *testing.T) {
	dir := t.TempDir()
	diagram := filepath.Join(dir, "erd.png")
	png := []byte("\x89PNG\r\n\x1a\nfake")
	if err := os.WriteFile(diagram, png, 0o644); err != nil {
		t.Fatalf("write diagram: %v", err)
	}
	cat, err := catalog.New([]catalog.Database{
		{Name: "with", Kind: catalog.KindSQLite, Path: filepath.Join(dir, "a.sqlite"), Diagram: diagram},
		{Name: "without", Kind: catalog.KindSQLite, Path: filepath.Join(dir, "b.sqlite")},
	})
	if err != nil {
		t.Fatalf("catalog.New() error = %v", err)
	}
	h := NewHandler(testConfig(t, nil), Dependencies{Catalog: cat})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/databases/with/diagram", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if rr.Body.String() != string(png) {
		t.Fatalf("body = %q", rr.Body.String())
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/databases/without/diagram", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("without diagram status = %d", rr.Code)
	}
	if body := decodeJSON(t, rr); body["error_code"] != "DIAGRAM_NOT_FOUND" {
		t.Fatalf("error_code = %v", body["error_code"])
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/databases/nope/diagram", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("unknown status = %d", rr.Code)
	}
	if body := decodeJSON(t, rr); body["error_code"] != "DATABASE_NOT_FOUND" {
		t.Fatalf("error_code = %v", body["error_code"])
	}
}

func TestSchemaEndpointPassesSampleRows(t *testing.T) {
	fake := &fakeAssistant{tables: []schema.Table{{
		Name:       "users",
		Columns:    []schema.Column{{Name: "id", Type: "INTEGER"}},
		SampleRows: [][]any{},
	}}}
	h := NewHandler(testConfig(t, nil), Dependencies{Assistant: fake})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/databases/employee/schema", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if fake.sampleRows != -1 {
		t.Fatalf("default sampleRows = %d, want -1", fake.sampleRows)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/databases/employee/schema?sample_rows=0", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if fake.sampleRows != 0 || fake.database != "employee" {
		t.Fatalf("Schema() called with %q %d", fake.database, fake.sampleRows)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/databases/employee/schema?sample_rows=-3", nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("negative sample_rows status = %d", rr.Code)
	}
}

func TestHandlersReportMissingDependencies(t *testing.T) {
	h := NewHandler(testConfig(t, nil), Dependencies{})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/databases", nil))
	if rr.Code != http.StatusNotImplemented {
		t.Fatalf("databases status = %d", rr.Code)
	}

	rr = postJSON(h, "/v1/databases/chinook/ask", `{"question":"q"}`)
	if rr.Code != http.StatusNotImplemented {
		t.Fatalf("ask status = %d", rr.Code)
	}
}

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.New(catalog.Defaults(t.TempDir()))
	if err != nil {
		t.Fatalf("catalog.New() error = %v", err)
	}
	return cat
}
