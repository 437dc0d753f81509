package nl2sql

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/llm4sql/llm4sql/internal/schema"
)

const (
	promptPreamble    = "The following is the schema of tables in the database:\n"
	promptInstruction = "Using valid SQL syntax, answer the following question:\n"
)

// BuildPrompt renders table names and (column, type) pairs followed by the
// question. Sample rows are never included and the question is not validated.
func BuildPrompt(tables []schema.Table, question string) string {
	var b strings.Builder
	b.WriteString(promptPreamble)
	for i, table := range tables {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("Table Name: ")
		b.WriteString(table.Name)
		b.WriteString("\nSchema: ")
		writeColumnList(&b, table.Columns)
	}
	b.WriteString("\n\n")
	b.WriteString(promptInstruction)
	b.WriteString(question)
	return b.String()
}

// writeColumnList writes [('id', 'INTEGER'), ('name', 'TEXT')].
func writeColumnList(b *strings.Builder, columns []schema.Column) {
	b.WriteByte('[')
	for i, column := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		b.WriteString(quoteLiteral(column.Name))
		b.WriteString(", ")
		b.WriteString(quoteLiteral(column.Type))
		b.WriteByte(')')
	}
	b.WriteByte(']')
}

// quoteLiteral renders value as a Python string literal: single quotes
// unless the value holds only single quotes, with tab, newline, carriage
// return and other non-printable runes escaped.
func quoteLiteral(value string) string {
	quote := '\''
	if strings.ContainsRune(value, '\'') && !strings.ContainsRune(value, '"') {
		quote = '"'
	}

	var b strings.Builder
	b.WriteRune(quote)
	for _, r := range value {
		switch {
		case r == quote || r == '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		case r == '\t':
			b.WriteString(`\t`)
		case r == '\n':
			b.WriteString(`\n`)
		case r == '\r':
			b.WriteString(`\r`)
		case r == ' ' || unicode.IsPrint(r):
			b.WriteRune(r)
		case r < 0x100:
			_, _ = fmt.Fprintf(&b, `\x%02x`, r)
		case r < 0x10000:
			_, _ = fmt.Fprintf(&b, `\u%04x`, r)
		default:
			_, _ = fmt.Fprintf(&b, `\U%08x`, r)
		}
	}
	b.WriteRune(quote)
	return b.String()
}
