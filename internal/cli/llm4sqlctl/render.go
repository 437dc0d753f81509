package llm4sqlctl

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
)

type databasesPayload struct {
	Databases []struct {
		Name        string `json:"name"`
		Title       string `json:"title"`
		Kind        string `json:"kind"`
		Description string `json:"description"`
	} `json:"databases"`
}

type schemaPayload struct {
	Database string `json:"database"`
	Tables   []struct {
		Name    string `json:"name"`
		Columns []struct {
			Name string `json:"name"`
			Type string `json:"type"`
		} `json:"columns"`
		SampleRows [][]any `json:"sample_rows"`
	} `json:"tables"`
}

type resultPayload struct {
	SQL       string   `json:"sql"`
	Columns   []string `json:"columns"`
	Rows      [][]any  `json:"rows"`
	RowCount  int      `json:"row_count"`
	Truncated bool     `json:"truncated"`
	Message   string   `json:"message"`
}

func renderDatabases(w io.Writer, raw []byte) error {
	var payload databasesPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("decode databases: %w", err)
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Name", "Title", "Kind", "Description"})
	for _, db := range payload.Databases {
		t.AppendRow(table.Row{db.Name, db.Title, db.Kind, db.Description})
	}
	t.Render()
	return nil
}

func renderSchema(w io.Writer, raw []byte) error {
	var payload schemaPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("decode schema: %w", err)
	}

	for _, tbl := range payload.Tables {
		_, _ = fmt.Fprintf(w, "%s (%d sample rows)\n", tbl.Name, len(tbl.SampleRows))
		t := table.NewWriter()
		t.SetOutputMirror(w)
		t.SetStyle(table.StyleLight)
		t.AppendHeader(table.Row{"Column", "Type"})
		for _, col := range tbl.Columns {
			t.AppendRow(table.Row{col.Name, col.Type})
		}
		t.Render()
	}
	return nil
}

func renderResult(w io.Writer, raw []byte) error {
	var payload resultPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}

	if payload.SQL != "" {
		_, _ = fmt.Fprintf(w, "SQL: %s\n", payload.SQL)
	}
	if len(payload.Rows) == 0 {
		_, _ = fmt.Fprintln(w, payload.Message)
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)

	header := make(table.Row, len(payload.Columns))
	for i, col := range payload.Columns {
		header[i] = col
	}
	t.AppendHeader(header)
	for _, values := range payload.Rows {
		row := make(table.Row, len(values))
		for i, value := range values {
			row[i] = formatCell(value)
		}
		t.AppendRow(row)
	}
	t.Render()

	suffix := ""
	if payload.Truncated {
		suffix = ", truncated"
	}
	_, _ = fmt.Fprintf(w, "(%d rows%s)\n", payload.RowCount, suffix)
	return nil
}

func formatCell(value any) string {
	switch typed := value.(type) {
	case nil:
		return "NULL"
	case string:
		return typed
	case float64:
		return fmt.Sprintf("%v", typed)
	default:
		encoded, err := json.Marshal(typed)
		if err != nil {
			return fmt.Sprint(typed)
		}
		return string(encoded)
	}
}
