package catalog

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var ErrNotFound = errors.New("catalog: not found")

type Kind string

const (
	KindSQLite   Kind = "sqlite"
	KindDuckDB   Kind = "duckdb"
	KindPostgres Kind = "postgres"
)

// Database is one selectable sample database.
type Database struct {
	Name        string `koanf:"name" json:"name"`
	Title       string `koanf:"title" json:"title"`
	Kind        Kind   `koanf:"kind" json:"kind"`
	Path        string `koanf:"path" json:"-"`
	DSN         string `koanf:"dsn" json:"-"`
	Diagram     string `koanf:"diagram" json:"-"`
	Description string `koanf:"description" json:"description"`
}

func (d Database) HasDiagram() bool {
	return strings.TrimSpace(d.Diagram) != ""
}

// Catalog is an immutable, ordered registry of databases keyed by name.
type Catalog struct {
	databases []Database
	index     map[string]int
}

func New(databases []Database) (*Catalog, error) {
	c := &Catalog{
		databases: make([]Database, 0, len(databases)),
		index:     make(map[string]int, len(databases)),
	}
	for i, db := range databases {
		db, err := normalize(db)
		if err != nil {
			return nil, fmt.Errorf("database %d: %w", i, err)
		}
		if _, exists := c.index[db.Name]; exists {
			return nil, fmt.Errorf("duplicate database name %q", db.Name)
		}
		c.index[db.Name] = len(c.databases)
		c.databases = append(c.databases, db)
	}
	return c, nil
}

func (c *Catalog) List() []Database {
	out := make([]Database, len(c.databases))
	copy(out, c.databases)
	return out
}

func (c *Catalog) Lookup(name string) (Database, error) {
	idx, ok := c.index[strings.TrimSpace(name)]
	if !ok {
		return Database{}, ErrNotFound
	}
	return c.databases[idx], nil
}

// Defaults returns the bundled samples rooted at dataDir.
func Defaults(dataDir string) []Database {
	return []Database{
		{
			Name:        "chinook",
			Title:       "Chinook",
			Kind:        KindSQLite,
			Path:        filepath.Join(dataDir, "Chinook_Sqlite.sqlite"),
			Diagram:     filepath.Join(dataDir, "chinook_erd.png"),
			Description: "The Chinook database contains a digital media store schema, including tables for customers, invoices, and tracks.",
		},
		{
			Name:        "ecommerce",
			Title:       "E-commerce",
			Kind:        KindSQLite,
			Path:        filepath.Join(dataDir, "olist.sqlite"),
			Diagram:     filepath.Join(dataDir, "ecommerce_erd.png"),
			Description: "The E-commerce database includes information about customers, orders, and products for an online marketplace.",
		},
		{
			Name:        "employee",
			Title:       "Employee DB",
			Kind:        KindSQLite,
			Path:        filepath.Join(dataDir, "company_employee.sqlite"),
			Diagram:     filepath.Join(dataDir, "company_employee.png"),
			Description: "The Company employee database contains details related to the company and employees.",
		},
	}
}

func normalize(db Database) (Database, error) {
	db.Name = strings.TrimSpace(db.Name)
	db.Title = strings.TrimSpace(db.Title)
	db.Path = strings.TrimSpace(db.Path)
	db.DSN = strings.TrimSpace(db.DSN)
	db.Diagram = strings.TrimSpace(db.Diagram)
	db.Kind = Kind(strings.ToLower(strings.TrimSpace(string(db.Kind))))

	if db.Name == "" {
		return Database{}, fmt.Errorf("name is required")
	}
	if strings.ContainsAny(db.Name, "/ ") {
		return Database{}, fmt.Errorf("invalid name %q", db.Name)
	}
	if db.Title == "" {
		db.Title = db.Name
	}
	if db.Kind == "" {
		db.Kind = KindSQLite
	}
	switch db.Kind {
	case KindSQLite, KindDuckDB:
		if db.Path == "" {
			return Database{}, fmt.Errorf("%s: path is required for kind %s", db.Name, db.Kind)
		}
	case KindPostgres:
		if db.DSN == "" {
			return Database{}, fmt.Errorf("%s: dsn is required for kind %s", db.Name, db.Kind)
		}
	default:
		return Database{}, fmt.Errorf("%s: unsupported kind %q", db.Name, db.Kind)
	}
	return db, nil
}
