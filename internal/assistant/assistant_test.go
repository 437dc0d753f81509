package assistant

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	_ "modernc.org/sqlite"

	"github.com/llm4sql/llm4sql/internal/catalog"
	"github.com/llm4sql/llm4sql/internal/config"
	"github.com/llm4sql/llm4sql/internal/nl2sql"
	"github.com/llm4sql/llm4sql/internal/source"
)

func TestAskEndToEndAgainstSQLite(t *testing.T) {
	path := writeUsersDatabase(t)
	gen := &fakeGenerator{output: "SELECT name FROM users;"}
	svc := newService(t, catalog.Database{Name: "users", Kind: catalog.KindSQLite, Path: path}, source.NewRegistry(), gen)

	answer, err := svc.Ask(context.Background(), "users", "list all names", 0)
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if answer.SQL != "SELECT name FROM users;" {
		t.Fatalf("SQL = %q", answer.SQL)
	}
	if len(answer.Result.Columns) != 1 || answer.Result.Columns[0] != "name" {
		t.Fatalf("Columns = %#v", answer.Result.Columns)
	}
	if len(answer.Result.Rows) != 1 || answer.Result.Rows[0][0] != "ada" {
		t.Fatalf("Rows = %#v", answer.Result.Rows)
	}
	if gen.calls != 1 {
		t.Fatalf("Generate() calls = %d", gen.calls)
	}
	if answer.Provider != "fake" || answer.Model != "fake-model" {
		t.Fatalf("answer = %+v", answer)
	}
}

func TestAskExecutionFailureClosesHandle(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	expectUsersSchema(mock)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM missing_table")).
		WillReturnError(errors.New("no such table: missing_table"))
	mock.ExpectClose()

	gen := &fakeGenerator{output: "SELECT * FROM missing_table;"}
	svc := newService(t, sqliteEntry(), &staticOpener{db: db}, gen)

	answer, err := svc.Ask(context.Background(), "users", "show everything", 0)
	if KindOf(err) != KindExecutionFailure {
		t.Fatalf("Ask() error = %v, want execution failure", err)
	}
	if answer.SQL != "SELECT * FROM missing_table;" {
		t.Fatalf("SQL = %q, want generated sql to survive the failure", answer.SQL)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("sqlmock expectations: %v", err)
	}
}

func TestAskExecutionFailureAgainstSQLite(t *testing.T) {
	path := writeUsersDatabase(t)
	gen := &fakeGenerator{output: "SELECT * FROM nonexistent;"}
	svc := newService(t, catalog.Database{Name: "users", Kind: catalog.KindSQLite, Path: path}, source.NewRegistry(), gen)

	_, err := svc.Ask(context.Background(), "users", "q", 0)
	if KindOf(err) != KindExecutionFailure {
		t.Fatalf("Ask() error = %v, want execution failure", err)
	}
}

func TestAskGenerationFailureClosesHandle(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	expectUsersSchema(mock)
	mock.ExpectClose()

	boom := errors.New("model crashed")
	svc := newService(t, sqliteEntry(), &staticOpener{db: db}, &fakeGenerator{err: boom})

	answer, err := svc.Ask(context.Background(), "users", "q", 0)
	if KindOf(err) != KindGenerationFailure {
		t.Fatalf("Ask() error = %v, want generation failure", err)
	}
	if !errors.Is(err, boom) {
		t.Fatalf("Ask() error = %v, want underlying model error", err)
	}
	if answer.SQL != "" {
		t.Fatalf("SQL = %q", answer.SQL)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("sqlmock expectations: %v", err)
	}
}

func TestAskEmptySchemaSkipsModel(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	mock.ExpectQuery(regexp.QuoteMeta("SELECT name FROM sqlite_master")).
		WillReturnRows(sqlmock.NewRows([]string{"name"}))
	mock.ExpectClose()

	gen := &fakeGenerator{output: "SELECT 1"}
	svc := newService(t, sqliteEntry(), &staticOpener{db: db}, gen)

	_, err = svc.Ask(context.Background(), "users", "q", 0)
	if KindOf(err) != KindEmptySchema {
		t.Fatalf("Ask() error = %v, want empty schema", err)
	}
	if gen.calls != 0 {
		t.Fatalf("Generate() calls = %d, want 0", gen.calls)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("sqlmock expectations: %v", err)
	}
}

func TestAskConnectionFailureSkipsModel(t *testing.T) {
	gen := &fakeGenerator{output: "SELECT 1"}
	svc := newService(t, catalog.Database{
		Name: "users",
		Kind: catalog.KindSQLite,
		Path: filepath.Join(t.TempDir(), "absent.sqlite"),
	}, source.NewRegistry(), gen)

	_, err := svc.Ask(context.Background(), "users", "q", 0)
	if KindOf(err) != KindConnectionFailure {
		t.Fatalf("Ask() error = %v, want connection failure", err)
	}
	if !errors.Is(err, source.ErrDatabaseMissing) {
		t.Fatalf("Ask() error = %v, want ErrDatabaseMissing", err)
	}
	if gen.calls != 0 {
		t.Fatalf("Generate() calls = %d, want 0", gen.calls)
	}
}

func TestAskUnknownDatabaseAndBlankQuestion(t *testing.T) {
	svc := newService(t, sqliteEntry(), &staticOpener{err: errors.New("unused")}, &fakeGenerator{})

	if _, err := svc.Ask(context.Background(), "pets", "q", 0); KindOf(err) != KindUnknownDatabase {
		t.Fatalf("Ask() error = %v, want unknown database", err)
	}
	_, err := svc.Ask(context.Background(), "users", "   ", 0)
	if KindOf(err) != KindInvalidInput || !errors.Is(err, ErrQuestionRequired) {
		t.Fatalf("Ask() error = %v, want question required", err)
	}
}

func TestTranslateDoesNotExecute(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	expectUsersSchema(mock)
	mock.ExpectClose()

	svc := newService(t, sqliteEntry(), &staticOpener{db: db}, &fakeGenerator{output: "Sure! SELECT name FROM users;"})
	result, err := svc.Translate(context.Background(), "users", "names?")
	if err != nil {
		t.Fatalf("Translate() error = %v", err)
	}
	if result.SQL != "SELECT name FROM users;" {
		t.Fatalf("SQL = %q", result.SQL)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("sqlmock expectations: %v", err)
	}
}

func TestRunGuardsAgainstWrites(t *testing.T) {
	opener := &staticOpener{err: errors.New("must not open")}
	svc := newService(t, sqliteEntry(), opener, &fakeGenerator{})

	_, err := svc.Run(context.Background(), "users", "DELETE FROM users", 0)
	if !errors.Is(err, ErrSQLNotAllowed) {
		t.Fatalf("Run() error = %v, want ErrSQLNotAllowed", err)
	}
	if opener.opened != 0 {
		t.Fatalf("Open() calls = %d, want 0", opener.opened)
	}
}

func TestRunCapsRowLimit(t *testing.T) {
	path := writeUsersDatabase(t)
	svc := newService(t, catalog.Database{Name: "users", Kind: catalog.KindSQLite, Path: path}, source.NewRegistry(), &fakeGenerator{})

	result, err := svc.Run(context.Background(), "users", "WITH RECURSIVE n(x) AS (SELECT 1 UNION ALL SELECT x + 1 FROM n WHERE x < 50) SELECT x FROM n", 1000)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(result.Rows) != 10 || !result.Truncated {
		t.Fatalf("rows = %d truncated = %v, want 10 truncated", len(result.Rows), result.Truncated)
	}
}

func TestSchemaReturnsSamples(t *testing.T) {
	path := writeUsersDatabase(t)
	svc := newService(t, catalog.Database{Name: "users", Kind: catalog.KindSQLite, Path: path}, source.NewRegistry(), &fakeGenerator{})

	tables, err := svc.Schema(context.Background(), "users", -1)
	if err != nil {
		t.Fatalf("Schema() error = %v", err)
	}
	if len(tables) != 1 || len(tables[0].Columns) != 2 || len(tables[0].SampleRows) != 1 {
		t.Fatalf("tables = %+v", tables)
	}
}

func newService(t *testing.T, entry catalog.Database, opener source.Opener, gen *fakeGenerator) *Service {
	t.Helper()
	cat, err := catalog.New([]catalog.Database{entry})
	if err != nil {
		t.Fatalf("catalog.New() error = %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	synth, err := nl2sql.NewSynthesizer(gen, config.ExtractStrict, logger)
	if err != nil {
		t.Fatalf("NewSynthesizer() error = %v", err)
	}
	svc, err := New(cat, opener, synth, Config{RowLimit: 10, SampleRows: 5}, logger)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return svc
}

func sqliteEntry() catalog.Database {
	return catalog.Database{Name: "users", Kind: catalog.KindSQLite, Path: "users.sqlite"}
}

func writeUsersDatabase(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "users.sqlite")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open() error = %v", err)
	}
	defer db.Close()
	for _, stmt := range []string{
		`CREATE TABLE users (id INTEGER, name TEXT)`,
		`INSERT INTO users (id, name) VALUES (1, 'ada')`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("Exec(%q) error = %v", stmt, err)
		}
	}
	return path
}

func expectUsersSchema(mock sqlmock.Sqlmock) {
	mock.ExpectQuery(regexp.QuoteMeta("SELECT name FROM sqlite_master")).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("users"))
	mock.ExpectQuery(regexp.QuoteMeta(`PRAGMA table_info("users")`)).
		WillReturnRows(sqlmock.NewRows([]string{"cid", "name", "type", "notnull", "dflt_value", "pk"}).
			AddRow(0, "id", "INTEGER", 0, nil, 0).
			AddRow(1, "name", "TEXT", 0, nil, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "users" LIMIT 5`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(int64(1), "ada"))
}

type staticOpener struct {
	db     *sql.DB
	err    error
	opened int
}

func (o *staticOpener) Open(_ context.Context, _ catalog.Database) (*sql.DB, error) {
	o.opened++
	if o.err != nil {
		return nil, o.err
	}
	return o.db, nil
}

type fakeGenerator struct {
	output string
	err    error
	calls  int
}

func (f *fakeGenerator) Generate(_ context.Context, _ string) (string, error) {
	f.calls++
	return f.output, f.err
}

func (f *fakeGenerator) Name() string     { return "fake-model" }
func (f *fakeGenerator) Provider() string { return "fake" }
