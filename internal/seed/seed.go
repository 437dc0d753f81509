// Package seed builds the bundled sample databases from embedded, versioned
// SQL scripts and can publish the result to the object store.
package seed

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/llm4sql/llm4sql/internal/storage"
)

//go:embed sql
var embeddedFS embed.FS

const versionTable = "llm4sql_seed_versions"

var scriptNamePattern = regexp.MustCompile(`^([0-9]+)_.+\.sql$`)

// goose keeps its base FS, dialect and table name in package state.
var gooseMu sync.Mutex

// Files maps a dataset onto the sqlite file it produces under the data dir.
var Files = map[string]string{
	"employee": "company_employee.sqlite",
}

type Runner struct {
	fsys    fs.FS
	dataset string
}

func NewRunner(dataset string) (*Runner, error) {
	return newRunner(embeddedFS, dataset)
}

func newRunner(fsys fs.FS, dataset string) (*Runner, error) {
	dataset = strings.TrimSpace(dataset)
	if dataset == "" {
		return nil, fmt.Errorf("dataset is required")
	}
	if _, err := fs.Stat(fsys, path.Join("sql", dataset)); err != nil {
		return nil, fmt.Errorf("unknown dataset %q", dataset)
	}
	return &Runner{fsys: fsys, dataset: dataset}, nil
}

// Datasets lists the embedded datasets in name order.
func Datasets() ([]string, error) {
	return listDatasets(embeddedFS)
}

func listDatasets(fsys fs.FS) ([]string, error) {
	entries, err := fs.ReadDir(fsys, "sql")
	if err != nil {
		return nil, fmt.Errorf("read seed dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func (r *Runner) dir() string {
	return path.Join("sql", r.dataset)
}

// Up applies pending seeds in version order; steps <= 0 applies all of them.
func (r *Runner) Up(ctx context.Context, db *sql.DB, steps int) (int, error) {
	versions, err := loadVersions(r.fsys, r.dataset)
	if err != nil {
		return 0, err
	}
	latest := versions[len(versions)-1]

	runCount := 0
	err = r.withGoose(func() error {
		for steps <= 0 || runCount < steps {
			current, err := goose.GetDBVersionContext(ctx, db)
			if err != nil {
				return fmt.Errorf("read seed version: %w", err)
			}
			if current >= latest {
				return nil
			}
			if err := goose.UpByOneContext(ctx, db, r.dir()); err != nil {
				return fmt.Errorf("apply seed after %d: %w", current, err)
			}
			runCount++
		}
		return nil
	})
	return runCount, err
}

// Down rolls back the most recent seeds; steps <= 0 rolls back one.
func (r *Runner) Down(ctx context.Context, db *sql.DB, steps int) (int, error) {
	if steps <= 0 {
		steps = 1
	}
	if _, err := loadVersions(r.fsys, r.dataset); err != nil {
		return 0, err
	}

	runCount := 0
	err := r.withGoose(func() error {
		for runCount < steps {
			current, err := goose.GetDBVersionContext(ctx, db)
			if err != nil {
				return fmt.Errorf("read seed version: %w", err)
			}
			if current == 0 {
				return nil
			}
			if err := goose.DownContext(ctx, db, r.dir()); err != nil {
				return fmt.Errorf("rollback seed %d: %w", current, err)
			}
			runCount++
		}
		return nil
	})
	return runCount, err
}

// Applied returns the applied versions in ascending order.
func (r *Runner) Applied(ctx context.Context, db *sql.DB) ([]int64, error) {
	versions, err := loadVersions(r.fsys, r.dataset)
	if err != nil {
		return nil, err
	}
	var current int64
	err = r.withGoose(func() error {
		var err error
		current, err = goose.GetDBVersionContext(ctx, db)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("read seed version: %w", err)
	}

	applied := make([]int64, 0, len(versions))
	for _, version := range versions {
		if version <= current {
			applied = append(applied, version)
		}
	}
	return applied, nil
}

func (r *Runner) withGoose(fn func() error) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(r.fsys)
	goose.SetTableName(versionTable)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set seed dialect: %w", err)
	}
	return fn()
}

// Build creates or updates the dataset's sqlite file in dataDir and returns
// its path.
func (r *Runner) Build(ctx context.Context, dataDir string) (string, int, error) {
	fileName, ok := Files[r.dataset]
	if !ok {
		fileName = r.dataset + ".sqlite"
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return "", 0, fmt.Errorf("create data dir: %w", err)
	}
	target := filepath.Join(dataDir, fileName)

	db, err := sql.Open("sqlite", "file:"+target)
	if err != nil {
		return "", 0, fmt.Errorf("open %s: %w", target, err)
	}
	defer func() { _ = db.Close() }()
	db.SetMaxOpenConns(1)

	applied, err := r.Up(ctx, db, 0)
	if err != nil {
		return "", applied, err
	}
	return target, applied, nil
}

// Publish uploads a built sample file to samples/<dataset>/<file>.
func Publish(ctx context.Context, store storage.ObjectStore, dataset, filePath string) (storage.ObjectInfo, error) {
	key, err := storage.BuildSampleKey(dataset, filepath.Base(filePath))
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	f, err := os.Open(filePath)
	if err != nil {
		return storage.ObjectInfo{}, fmt.Errorf("open %s: %w", filePath, err)
	}
	defer func() { _ = f.Close() }()
	stat, err := f.Stat()
	if err != nil {
		return storage.ObjectInfo{}, fmt.Errorf("stat %s: %w", filePath, err)
	}

	info, err := store.Put(ctx, key, f, stat.Size(), storage.PutOptions{ContentType: "application/vnd.sqlite3"})
	if err != nil {
		return storage.ObjectInfo{}, fmt.Errorf("publish %s: %w", key, err)
	}
	return info, nil
}

// loadVersions returns the dataset's seed versions in ascending order.
// Statement parsing is left to goose.
func loadVersions(fsys fs.FS, dataset string) ([]int64, error) {
	dir := path.Join("sql", dataset)
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read seed dir: %w", err)
	}

	seen := map[int64]string{}
	versions := make([]int64, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		matches := scriptNamePattern.FindStringSubmatch(entry.Name())
		if len(matches) != 2 {
			continue
		}
		version, err := strconv.ParseInt(matches[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse seed version for %q: %w", entry.Name(), err)
		}
		if version <= 0 {
			return nil, fmt.Errorf("seed %q: version must be positive", entry.Name())
		}
		if other, ok := seen[version]; ok {
			return nil, fmt.Errorf("seed version %d used by %q and %q", version, other, entry.Name())
		}
		seen[version] = entry.Name()
		versions = append(versions, version)
	}
	if len(versions) == 0 {
		return nil, fmt.Errorf("dataset %q has no seed scripts", dataset)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })
	return versions, nil
}
