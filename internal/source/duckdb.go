package source

import (
	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/llm4sql/llm4sql/internal/catalog"
)

func duckdbDSN(db catalog.Database) (string, string, error) {
	if err := requireFile(db); err != nil {
		return "", "", err
	}
	return "duckdb", db.Path + "?access_mode=read_only", nil
}
