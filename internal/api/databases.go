package api

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/llm4sql/llm4sql/internal/auth"
	"github.com/llm4sql/llm4sql/internal/catalog"
	"github.com/llm4sql/llm4sql/internal/schema"
)

type databaseView struct {
	Name        string `json:"name"`
	Title       string `json:"title"`
	Kind        string `json:"kind"`
	Description string `json:"description"`
	DiagramURL  string `json:"diagram_url,omitempty"`
}

func handleListDatabases(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Catalog == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "CATALOG_NOT_CONFIGURED", "database catalog is not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleQueryReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	entries := deps.Catalog.List()
	views := make([]databaseView, 0, len(entries))
	for _, entry := range entries {
		views = append(views, toDatabaseView(entry))
	}
	writeJSON(w, http.StatusOK, map[string]any{"databases": views})
}

func handleSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Assistant == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "ASSISTANT_NOT_CONFIGURED", "assistant is not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleQueryReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	sampleRows := -1
	if raw := strings.TrimSpace(r.URL.Query().Get("sample_rows")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_ARGUMENT", "sample_rows must be a non-negative integer", false, map[string]any{"sample_rows": raw})
			return
		}
		sampleRows = parsed
	}

	name := r.PathValue("name")
	tables, err := deps.Assistant.Schema(r.Context(), name, sampleRows)
	if err != nil {
		writePipelineError(deps, w, r, err, nil)
		return
	}
	if tables == nil {
		tables = []schema.Table{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"database": name,
		"tables":   tables,
	})
}

func handleDiagram(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Catalog == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "CATALOG_NOT_CONFIGURED", "database catalog is not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleQueryReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	name := r.PathValue("name")
	entry, err := deps.Catalog.Lookup(name)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			writeError(r.Context(), w, http.StatusNotFound, "DATABASE_NOT_FOUND", fmt.Sprintf("database %q is not configured", name), false, nil)
			return
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "CATALOG_ERROR", "failed to look up database", true, map[string]any{"details": err.Error()})
		return
	}
	if !entry.HasDiagram() {
		writeError(r.Context(), w, http.StatusNotFound, "DIAGRAM_NOT_FOUND", "database has no diagram", false, map[string]any{"database": name})
		return
	}
	http.ServeFile(w, r, entry.Diagram)
}

func toDatabaseView(entry catalog.Database) databaseView {
	view := databaseView{
		Name:        entry.Name,
		Title:       entry.Title,
		Kind:        string(entry.Kind),
		Description: entry.Description,
	}
	if entry.HasDiagram() {
		view.DiagramURL = "/v1/databases/" + url.PathEscape(entry.Name) + "/diagram"
	}
	return view
}

func requireRole(r *http.Request, role string) error {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		return nil
	}
	if identity.HasRole(role) {
		return nil
	}
	return fmt.Errorf("missing required role %q", role)
}
