package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/llm4sql/llm4sql/internal/assistant"
	"github.com/llm4sql/llm4sql/internal/auth"
	"github.com/llm4sql/llm4sql/internal/observability"
	"github.com/llm4sql/llm4sql/internal/query"
)

const (
	emptySchemaMessage     = "No valid tables found in the database."
	executionFailedMessage = "Oops, the model requires more nuanced training...."
	noResultsMessage       = "Query executed successfully but returned no results."
)

type questionRequest struct {
	Question string `json:"question"`
	RowLimit int    `json:"row_limit"`
}

type sqlRequest struct {
	SQL      string `json:"sql"`
	RowLimit int    `json:"row_limit"`
}

type resultResponse struct {
	Database   string   `json:"database"`
	Question   string   `json:"question,omitempty"`
	SQL        string   `json:"sql"`
	Model      string   `json:"model,omitempty"`
	Provider   string   `json:"provider,omitempty"`
	Columns    []string `json:"columns"`
	Rows       [][]any  `json:"rows"`
	RowCount   int      `json:"row_count"`
	Truncated  bool     `json:"truncated"`
	DurationMs int64    `json:"duration_ms"`
	Message    string   `json:"message,omitempty"`
}

func handleTranslate(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !assistantConfigured(deps, w, r) {
		return
	}
	if err := requireRole(r, auth.RoleQueryReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	var req questionRequest
	if !decodeBody(w, r, &req, "invalid translate request body") {
		return
	}

	name := r.PathValue("name")
	result, err := deps.Assistant.Translate(r.Context(), name, req.Question)
	if err != nil {
		writePipelineError(deps, w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"database": name,
		"question": req.Question,
		"sql":      result.SQL,
		"model":    result.Model,
		"provider": result.Provider,
	})
}

func handleAsk(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !assistantConfigured(deps, w, r) {
		return
	}
	if err := requireRole(r, auth.RoleQueryReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	var req questionRequest
	if !decodeBody(w, r, &req, "invalid ask request body") {
		return
	}

	answer, err := deps.Assistant.Ask(r.Context(), r.PathValue("name"), req.Question, req.RowLimit)
	if err != nil {
		extra := map[string]any{}
		if answer.SQL != "" {
			extra["sql"] = answer.SQL
		}
		writePipelineError(deps, w, r, err, extra)
		return
	}

	response := toResultResponse(answer.Database, answer.SQL, answer.Result)
	response.Question = answer.Question
	response.Model = answer.Model
	response.Provider = answer.Provider
	writeJSON(w, http.StatusOK, response)
}

func handleQuery(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !assistantConfigured(deps, w, r) {
		return
	}
	if err := requireRole(r, auth.RoleSQLRunner); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	var req sqlRequest
	if !decodeBody(w, r, &req, "invalid query request body") {
		return
	}

	name := r.PathValue("name")
	result, err := deps.Assistant.Run(r.Context(), name, req.SQL, req.RowLimit)
	if err != nil {
		writePipelineError(deps, w, r, err, map[string]any{"sql": req.SQL})
		return
	}
	writeJSON(w, http.StatusOK, toResultResponse(name, req.SQL, result))
}

// exportRequest either names SQL to run or carries rows the caller already
// holds, such as the result of an ask.
type exportRequest struct {
	SQL      string   `json:"sql"`
	RowLimit int      `json:"row_limit"`
	Columns  []string `json:"columns"`
	Rows     [][]any  `json:"rows"`
}

// handleExport runs caller SQL under sql_runner; encoding supplied rows
// only needs query_reader since nothing touches the database.
func handleExport(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	format, err := query.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_FORMAT", err.Error(), false, nil)
		return
	}

	var req exportRequest
	if !decodeBody(w, r, &req, "invalid export request body") {
		return
	}

	name := r.PathValue("name")
	var result query.Result
	switch {
	case strings.TrimSpace(req.SQL) != "":
		if !assistantConfigured(deps, w, r) {
			return
		}
		if err := requireRole(r, auth.RoleSQLRunner); err != nil {
			writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
			return
		}
		result, err = deps.Assistant.Run(r.Context(), name, req.SQL, req.RowLimit)
		if err != nil {
			writePipelineError(deps, w, r, err, map[string]any{"sql": req.SQL})
			return
		}
	case len(req.Columns) > 0:
		if err := requireRole(r, auth.RoleQueryReader); err != nil {
			writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
			return
		}
		for i, row := range req.Rows {
			if len(row) != len(req.Columns) {
				writeError(r.Context(), w, http.StatusBadRequest, "INVALID_ARGUMENT",
					fmt.Sprintf("row %d has %d values, want %d", i, len(row), len(req.Columns)), false, nil)
				return
			}
		}
		result = query.Result{Columns: req.Columns, Rows: req.Rows}
	default:
		writeError(r.Context(), w, http.StatusBadRequest, "SQL_REQUIRED", "sql or columns is required", false, nil)
		return
	}

	var buf bytes.Buffer
	if err := query.Write(&buf, format, result); err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "EXPORT_FAILED", "failed to encode results", false, map[string]any{"details": err.Error()})
		return
	}
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name+"_results"+format.Extension()))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func assistantConfigured(deps Dependencies, w http.ResponseWriter, r *http.Request) bool {
	if deps.Assistant == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "ASSISTANT_NOT_CONFIGURED", "assistant is not configured", false, nil)
		return false
	}
	return true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any, message string) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", message, false, map[string]any{"details": err.Error()})
		return false
	}
	return true
}

func toResultResponse(database, sqlText string, result query.Result) resultResponse {
	rows := result.Rows
	if rows == nil {
		rows = [][]any{}
	}
	columns := result.Columns
	if columns == nil {
		columns = []string{}
	}
	response := resultResponse{
		Database:   database,
		SQL:        sqlText,
		Columns:    columns,
		Rows:       rows,
		RowCount:   len(rows),
		Truncated:  result.Truncated,
		DurationMs: result.Duration.Milliseconds(),
	}
	if len(rows) == 0 {
		response.Message = noResultsMessage
	}
	return response
}

// writePipelineError maps assistant failure kinds onto HTTP responses.
func writePipelineError(deps Dependencies, w http.ResponseWriter, r *http.Request, err error, extra map[string]any) {
	if extra == nil {
		extra = map[string]any{}
	}
	extra["details"] = err.Error()
	ctx := r.Context()

	switch assistant.KindOf(err) {
	case assistant.KindUnknownDatabase:
		writeError(ctx, w, http.StatusNotFound, "DATABASE_NOT_FOUND", fmt.Sprintf("database %q is not configured", r.PathValue("name")), false, nil)
	case assistant.KindInvalidInput:
		switch {
		case errors.Is(err, assistant.ErrQuestionRequired):
			writeError(ctx, w, http.StatusBadRequest, "QUESTION_REQUIRED", "question is required", false, nil)
		case errors.Is(err, assistant.ErrSQLRequired):
			writeError(ctx, w, http.StatusBadRequest, "SQL_REQUIRED", "sql is required", false, nil)
		case errors.Is(err, assistant.ErrSQLNotAllowed):
			writeError(ctx, w, http.StatusBadRequest, "SQL_NOT_ALLOWED", "only read-only SELECT/WITH queries are allowed", false, nil)
		default:
			writeError(ctx, w, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error(), false, nil)
		}
	case assistant.KindConnectionFailure:
		writeError(ctx, w, http.StatusServiceUnavailable, "CONNECTION_FAILED", "failed to connect to the database", true, extra)
	case assistant.KindEmptySchema:
		writeError(ctx, w, http.StatusUnprocessableEntity, "EMPTY_SCHEMA", emptySchemaMessage, false, nil)
	case assistant.KindGenerationFailure:
		writeError(ctx, w, http.StatusBadGateway, "GENERATION_FAILED", "failed to generate sql", true, extra)
	case assistant.KindExecutionFailure:
		writeError(ctx, w, http.StatusUnprocessableEntity, "EXECUTION_FAILED", executionFailedMessage, false, extra)
	default:
		if deps.Logger != nil {
			deps.Logger.ErrorContext(ctx, "unclassified pipeline error",
				slog.String("trace_id", observability.TraceIDFromContext(ctx)),
				slog.Any("error", err),
			)
		}
		writeError(ctx, w, http.StatusInternalServerError, "INTERNAL", "internal error", true, nil)
	}
}

