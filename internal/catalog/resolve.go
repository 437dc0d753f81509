package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/llm4sql/llm4sql/internal/storage"
)

// Resolve replaces s3:// database and diagram locations with local copies
// under cacheDir. A cached file is reused only while its recorded size, ETag
// and modification time still match the remote object.
func Resolve(ctx context.Context, databases []Database, store storage.ObjectStore, cacheDir string, logger *slog.Logger) ([]Database, error) {
	if logger == nil {
		logger = slog.Default()
	}
	out := make([]Database, len(databases))
	for i, db := range databases {
		resolved, err := resolveLocation(ctx, db.Name, db.Path, store, cacheDir, logger)
		if err != nil {
			return nil, err
		}
		db.Path = resolved

		resolved, err = resolveLocation(ctx, db.Name, db.Diagram, store, cacheDir, logger)
		if err != nil {
			return nil, err
		}
		db.Diagram = resolved
		out[i] = db
	}
	return out, nil
}

func resolveLocation(ctx context.Context, name, location string, store storage.ObjectStore, cacheDir string, logger *slog.Logger) (string, error) {
	if !storage.IsObjectURI(location) {
		return location, nil
	}
	if store == nil {
		return "", fmt.Errorf("%s: %q requires an object store", name, location)
	}
	key, err := storage.KeyFromURI(location)
	if err != nil {
		return "", err
	}
	info, err := store.Stat(ctx, key)
	if err != nil {
		return "", fmt.Errorf("%s: stat %q: %w", name, location, err)
	}

	dir := filepath.Join(cacheDir, name)
	local := filepath.Join(dir, path.Base(key))
	if cacheFresh(local, info) {
		logger.DebugContext(ctx, "using cached object", slog.String("database", name), slog.String("path", local))
		return local, nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("%s: create cache dir: %w", name, err)
	}
	if err := download(ctx, store, key, local); err != nil {
		return "", fmt.Errorf("%s: %w", name, err)
	}
	if err := writeCacheMeta(local, info); err != nil {
		return "", fmt.Errorf("%s: %w", name, err)
	}
	logger.InfoContext(ctx, "downloaded object",
		slog.String("database", name),
		slog.String("key", key),
		slog.String("path", local),
		slog.Int64("bytes", info.Size),
		slog.String("etag", info.ETag),
	)
	return local, nil
}

// cacheMeta is stored next to each cached object as <file>.meta.
type cacheMeta struct {
	Size         int64     `json:"size"`
	ETag         string    `json:"etag"`
	LastModified time.Time `json:"last_modified"`
}

func metaPath(local string) string {
	return local + ".meta"
}

func cacheFresh(local string, info storage.ObjectInfo) bool {
	st, err := os.Stat(local)
	if err != nil || st.Size() != info.Size {
		return false
	}
	raw, err := os.ReadFile(metaPath(local))
	if err != nil {
		return false
	}
	var meta cacheMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return false
	}
	return meta.Size == info.Size && meta.ETag == info.ETag && meta.LastModified.Equal(info.LastModified)
}

func writeCacheMeta(local string, info storage.ObjectInfo) error {
	raw, err := json.Marshal(cacheMeta{Size: info.Size, ETag: info.ETag, LastModified: info.LastModified})
	if err != nil {
		return fmt.Errorf("encode cache metadata: %w", err)
	}
	if err := os.WriteFile(metaPath(local), raw, 0o644); err != nil {
		return fmt.Errorf("write cache metadata: %w", err)
	}
	return nil
}

func download(ctx context.Context, store storage.ObjectStore, key, dst string) error {
	reader, err := store.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("get %q: %w", key, err)
	}
	defer reader.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".download-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.ReadFrom(reader); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("download %q: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		return fmt.Errorf("move download into cache: %w", err)
	}
	return nil
}
