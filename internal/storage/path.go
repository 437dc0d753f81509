package storage

import (
	"fmt"
	"mime"
	"path"
	"regexp"
	"strings"
)

const URIScheme = "s3://"

var pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

var sampleContentTypes = map[string]string{
	".sqlite":  "application/vnd.sqlite3",
	".sqlite3": "application/vnd.sqlite3",
	".db":      "application/vnd.sqlite3",
	".duckdb":  "application/octet-stream",
	".parquet": "application/vnd.apache.parquet",
}

// IsObjectURI reports whether location refers to the object store.
func IsObjectURI(location string) bool {
	return strings.HasPrefix(strings.TrimSpace(location), URIScheme)
}

// KeyFromURI returns the object key of an s3://<key> location.
func KeyFromURI(location string) (string, error) {
	location = strings.TrimSpace(location)
	if !strings.HasPrefix(location, URIScheme) {
		return "", fmt.Errorf("not an object uri: %q", location)
	}
	return CleanKey(strings.TrimPrefix(location, URIScheme))
}

// CleanKey normalises an object key and rejects keys escaping the bucket root.
func CleanKey(key string) (string, error) {
	trimmed := strings.TrimSpace(strings.TrimLeft(key, "/"))
	if trimmed == "" {
		return "", fmt.Errorf("object key is required")
	}
	cleaned := path.Clean(trimmed)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("invalid object key: %q", key)
	}
	return cleaned, nil
}

// BuildSampleKey returns the key under which a sample file is published.
func BuildSampleKey(database, fileName string) (string, error) {
	if err := validatePathComponent(database, "database name"); err != nil {
		return "", err
	}
	if err := validatePathComponent(fileName, "file name"); err != nil {
		return "", err
	}
	return path.Join("samples", database, fileName), nil
}

// ContentTypeFor guesses a content type from the key's extension.
func ContentTypeFor(key string) string {
	ext := strings.ToLower(path.Ext(key))
	if ct, ok := sampleContentTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
