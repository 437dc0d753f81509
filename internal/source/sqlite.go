package source

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	_ "modernc.org/sqlite"

	"github.com/llm4sql/llm4sql/internal/catalog"
)

// sqliteDSN opens sample files read-only so a typo in a path never creates
// an empty database.
func sqliteDSN(db catalog.Database) (string, string, error) {
	if err := requireFile(db); err != nil {
		return "", "", err
	}
	return "sqlite", "file:" + db.Path + "?mode=ro", nil
}

func requireFile(db catalog.Database) error {
	info, err := os.Stat(db.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrDatabaseMissing, db.Path)
		}
		return fmt.Errorf("stat %q: %w", db.Path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%q is a directory", db.Path)
	}
	return nil
}
