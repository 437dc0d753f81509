package nl2sql

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/llm4sql/llm4sql/internal/config"
	"github.com/llm4sql/llm4sql/internal/schema"
)

var usersTable = schema.Table{
	Name:       "users",
	Columns:    []schema.Column{{Name: "id", Type: "INTEGER"}, {Name: "name", Type: "TEXT"}},
	SampleRows: [][]any{{int64(1), "ada"}},
}

func TestBuildPromptTemplate(t *testing.T) {
	orders := schema.Table{Name: "orders", Columns: []schema.Column{{Name: "total", Type: "REAL"}}}
	got := BuildPrompt([]schema.Table{usersTable, orders}, "list all names")
	want := "The following is the schema of tables in the database:\n" +
		"Table Name: users\n" +
		"Schema: [('id', 'INTEGER'), ('name', 'TEXT')]\n\n" +
		"Table Name: orders\n" +
		"Schema: [('total', 'REAL')]\n\n" +
		"Using valid SQL syntax, answer the following question:\n" +
		"list all names"
	if got != want {
		t.Fatalf("BuildPrompt() = %q, want %q", got, want)
	}
}

func TestBuildPromptIsDeterministicAndOmitsSamples(t *testing.T) {
	a := BuildPrompt([]schema.Table{usersTable}, "who?")
	b := BuildPrompt([]schema.Table{usersTable}, "who?")
	if a != b {
		t.Fatal("BuildPrompt() is not deterministic")
	}
	if strings.Contains(a, "ada") {
		t.Fatal("BuildPrompt() leaked sample rows")
	}
}

func TestBuildPromptPassesQuestionVerbatim(t *testing.T) {
	got := BuildPrompt(nil, "  ")
	if !strings.HasSuffix(got, "answer the following question:\n  ") {
		t.Fatalf("BuildPrompt() = %q", got)
	}
}

func TestQuoteLiteral(t *testing.T) {
	tests := []struct {
		value string
		want  string
	}{
		{"name", `'name'`},
		{"it's", `"it's"`},
		{`a'b"c`, `'a\'b"c'`},
		{`say "hi"`, `'say "hi"'`},
		{`C:\dir`, `'C:\\dir'`},
		{"line\nbreak\ttab\rret", `'line\nbreak\ttab\rret'`},
		{"bell\x07del\x7f", `'bell\x07del\x7f'`},
		{"nb\u00a0sp", `'nb\xa0sp'`},
		{"zero\u200bwidth", `'zero\u200bwidth'`},
		{"café 数据", `'café 数据'`},
	}
	for _, tt := range tests {
		if got := quoteLiteral(tt.value); got != tt.want {
			t.Fatalf("quoteLiteral(%q) = %s, want %s", tt.value, got, tt.want)
		}
	}
}

func TestExtractLegacy(t *testing.T) {
	if got := ExtractLegacy("Sure! SELECT name FROM users;"); got != "SELECT name FROM users;" {
		t.Fatalf("ExtractLegacy() = %q", got)
	}
	if got := ExtractLegacy("I cannot answer."); got != "SELECT I cannot answer." {
		t.Fatalf("ExtractLegacy() = %q", got)
	}
}

func TestExtractLegacyIsIdempotent(t *testing.T) {
	for _, raw := range []string{"Sure! SELECT name FROM users;", "I cannot answer.", "  SELECT\n  1  "} {
		once := ExtractLegacy(raw)
		if twice := ExtractLegacy(once); twice != once {
			t.Fatalf("ExtractLegacy(ExtractLegacy(%q)) = %q, want %q", raw, twice, once)
		}
	}
}

func TestExtractStrict(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"Sure! SELECT name FROM users;", "SELECT name FROM users;"},
		{"```sql\nselect id from t;\n```", "select id from t;"},
		{"To select everything: SELECT * FROM t; Then explain.", "SELECT * FROM t;"},
		{"SELECT 'a;b' AS x, \"c;d\" FROM t -- ; not here\n WHERE y = 1; trailing", "SELECT 'a;b' AS x, \"c;d\" FROM t -- ; not here\n WHERE y = 1;"},
		{"SELECT /* ; */ 1;", "SELECT /* ; */ 1;"},
		{"SELECT name FROM users\n\nThis lists every user.", "SELECT name FROM users"},
		{"With pleasure. WITH recent AS (SELECT * FROM o) SELECT count(*) FROM recent;", "WITH recent AS (SELECT * FROM o) SELECT count(*) FROM recent;"},
		{"SELECTION: SELECT 1;", "SELECT 1;"},
		{"-- SELECT nothing here\nSELECT name FROM users;", "SELECT name FROM users;"},
		{"The keyword 'SELECT' is used. SELECT name FROM users;", "SELECT name FROM users;"},
		{"/* WITH x AS (SELECT 1) */ SELECT 2;", "SELECT 2;"},
		{"Here's the query: SELECT name FROM users;", "SELECT name FROM users;"},
		{"Use \"SELECT\" like this:\n\nSELECT id FROM t;", "SELECT id FROM t;"},
	}
	for _, tt := range tests {
		got, err := ExtractStrict(tt.raw)
		if err != nil {
			t.Fatalf("ExtractStrict(%q) error = %v", tt.raw, err)
		}
		if got != tt.want {
			t.Fatalf("ExtractStrict(%q) = %q, want %q", tt.raw, got, tt.want)
		}
		if again, err := ExtractStrict(got); err != nil || again != got {
			t.Fatalf("ExtractStrict(%q) = %q, %v; not idempotent", got, again, err)
		}
	}
}

func TestExtractStrictRejectsOutputWithoutSQL(t *testing.T) {
	if _, err := ExtractStrict("I cannot answer."); !errors.Is(err, ErrNoSQL) {
		t.Fatalf("ExtractStrict() error = %v, want ErrNoSQL", err)
	}
}

func TestSynthesizeCallsGeneratorOnce(t *testing.T) {
	gen := &fakeGenerator{output: "Sure! SELECT name FROM users;"}
	s, err := NewSynthesizer(gen, config.ExtractStrict, nil)
	if err != nil {
		t.Fatalf("NewSynthesizer() error = %v", err)
	}
	result, err := s.Synthesize(context.Background(), []schema.Table{usersTable}, "list all names")
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if gen.calls != 1 {
		t.Fatalf("Generate() calls = %d", gen.calls)
	}
	if result.SQL != "SELECT name FROM users;" {
		t.Fatalf("SQL = %q", result.SQL)
	}
	if gen.lastPrompt != result.Prompt || !strings.Contains(result.Prompt, "list all names") {
		t.Fatalf("Prompt = %q", result.Prompt)
	}
	if result.Raw != gen.output || result.Model != "fake-model" || result.Provider != "fake" {
		t.Fatalf("result = %+v", result)
	}
}

func TestSynthesizeWrapsGeneratorError(t *testing.T) {
	boom := errors.New("model unavailable")
	s, err := NewSynthesizer(&fakeGenerator{err: boom}, config.ExtractStrict, nil)
	if err != nil {
		t.Fatalf("NewSynthesizer() error = %v", err)
	}
	_, err = s.Synthesize(context.Background(), []schema.Table{usersTable}, "q")
	if !errors.Is(err, boom) {
		t.Fatalf("Synthesize() error = %v, want wrapped generator error", err)
	}
}

func TestSynthesizeLegacyKeepsDegradedOutput(t *testing.T) {
	s, err := NewSynthesizer(&fakeGenerator{output: "I cannot answer."}, config.ExtractLegacy, nil)
	if err != nil {
		t.Fatalf("NewSynthesizer() error = %v", err)
	}
	result, err := s.Synthesize(context.Background(), []schema.Table{usersTable}, "q")
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if result.SQL != "SELECT I cannot answer." {
		t.Fatalf("SQL = %q", result.SQL)
	}
}

func TestSynthesizeStrictFailsWithoutSQL(t *testing.T) {
	s, err := NewSynthesizer(&fakeGenerator{output: "I cannot answer."}, config.ExtractStrict, nil)
	if err != nil {
		t.Fatalf("NewSynthesizer() error = %v", err)
	}
	result, err := s.Synthesize(context.Background(), []schema.Table{usersTable}, "q")
	if !errors.Is(err, ErrNoSQL) {
		t.Fatalf("Synthesize() error = %v, want ErrNoSQL", err)
	}
	if result.Raw != "I cannot answer." {
		t.Fatalf("Raw = %q", result.Raw)
	}
}

func TestNewSynthesizerValidates(t *testing.T) {
	if _, err := NewSynthesizer(nil, config.ExtractStrict, nil); err == nil {
		t.Fatal("expected error for nil generator")
	}
	if _, err := NewSynthesizer(&fakeGenerator{}, "fuzzy", nil); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

type fakeGenerator struct {
	output     string
	err        error
	calls      int
	lastPrompt string
}

func (f *fakeGenerator) Generate(_ context.Context, prompt string) (string, error) {
	f.calls++
	f.lastPrompt = prompt
	return f.output, f.err
}

func (f *fakeGenerator) Name() string     { return "fake-model" }
func (f *fakeGenerator) Provider() string { return "fake" }

func TestIsReadOnly(t *testing.T) {
	allowed := []string{
		"SELECT 1",
		"select * from t;",
		"-- top customers\nSELECT name FROM c;;",
		"/* report */ WITH x AS (SELECT 1) SELECT * FROM x",
		"SELECT 'a; DROP TABLE t' AS s",
		"SELECT a\n\nFROM t",
		"SELECT 'DELETE' AS action, updated_at FROM audit",
		"SELECT \"insert\" FROM t -- never DROP\n",
	}
	for _, sqlText := range allowed {
		if !IsReadOnly(sqlText) {
			t.Fatalf("IsReadOnly(%q) = false", sqlText)
		}
	}
	rejected := []string{
		"DELETE FROM t",
		"SELECT 1; DROP TABLE t",
		"WITHDRAW",
		"",
		"-- only a comment",
		"WITH d AS (DELETE FROM users RETURNING *) SELECT * FROM d",
		"with x as (insert into t values (1) returning id) select id from x",
		"SELECT * FROM t FOR UPDATE",
	}
	for _, sqlText := range rejected {
		if IsReadOnly(sqlText) {
			t.Fatalf("IsReadOnly(%q) = true", sqlText)
		}
	}
}
