package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type LookupFunc func(string) (string, bool)

type Profile string

const (
	ProfileDev  Profile = "dev"
	ProfileTest Profile = "test"
	ProfileProd Profile = "prod"
)

type ExtractMode string

const (
	ExtractStrict ExtractMode = "strict"
	ExtractLegacy ExtractMode = "legacy"
)

type Config struct {
	Profile       Profile
	Service       ServiceConfig
	HTTP          HTTPConfig
	Catalog       CatalogConfig
	ObjectStore   ObjectStoreConfig
	Query         QueryConfig
	UI            UIConfig
	Model         ModelConfig
	Observability ObservabilityConfig
	Auth          AuthConfig
}

type ServiceConfig struct {
	Name string
}

type HTTPConfig struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type CatalogConfig struct {
	DataDir       string
	DatabasesFile string
	CacheDir      string
}

type ObjectStoreConfig struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	Prefix          string
}

func (c ObjectStoreConfig) Enabled() bool {
	return c.Endpoint != "" && c.Bucket != ""
}

type QueryConfig struct {
	RowLimit int
	Timeout  time.Duration
}

type UIConfig struct {
	SchemaSampleRows int
}

type ModelConfig struct {
	Provider    string
	BaseURL     string
	APIKey      string
	Name        string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	ExtractMode ExtractMode
}

type ObservabilityConfig struct {
	LogLevel slog.Level
	LogJSON  bool
}

type AuthConfig struct {
	Required   bool
	StaticKeys string
}

func LoadFromEnv(serviceName string) (Config, error) {
	return Load(serviceName, os.LookupEnv)
}

func Load(serviceName string, lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	profile := ProfileDev
	if raw, ok := lookup("LLM4SQL_PROFILE"); ok {
		profile = Profile(strings.ToLower(strings.TrimSpace(raw)))
	}
	if !isValidProfile(profile) {
		return Config{}, fmt.Errorf("invalid LLM4SQL_PROFILE: %q", profile)
	}

	cfg := defaultsForProfile(profile)
	if serviceName != "" {
		cfg.Service.Name = serviceName
	}

	var extractMode string
	appliers := []func() error{
		func() error { return applyString(lookup, "LLM4SQL_SERVICE_NAME", &cfg.Service.Name) },
		func() error { return applyString(lookup, "LLM4SQL_HTTP_ADDR", &cfg.HTTP.Address) },
		func() error { return applyDuration(lookup, "LLM4SQL_HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout) },
		func() error { return applyDuration(lookup, "LLM4SQL_HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout) },
		func() error { return applyDuration(lookup, "LLM4SQL_HTTP_IDLE_TIMEOUT", &cfg.HTTP.IdleTimeout) },
		func() error { return applyString(lookup, "LLM4SQL_DATA_DIR", &cfg.Catalog.DataDir) },
		func() error { return applyString(lookup, "LLM4SQL_DATABASES_FILE", &cfg.Catalog.DatabasesFile) },
		func() error { return applyString(lookup, "LLM4SQL_CACHE_DIR", &cfg.Catalog.CacheDir) },
		func() error { return applyString(lookup, "LLM4SQL_OBJECTSTORE_ENDPOINT", &cfg.ObjectStore.Endpoint) },
		func() error { return applyString(lookup, "LLM4SQL_OBJECTSTORE_REGION", &cfg.ObjectStore.Region) },
		func() error { return applyString(lookup, "LLM4SQL_OBJECTSTORE_BUCKET", &cfg.ObjectStore.Bucket) },
		func() error { return applyString(lookup, "LLM4SQL_OBJECTSTORE_ACCESS_KEY", &cfg.ObjectStore.AccessKeyID) },
		func() error { return applyString(lookup, "LLM4SQL_OBJECTSTORE_SECRET_KEY", &cfg.ObjectStore.SecretAccessKey) },
		func() error { return applyBool(lookup, "LLM4SQL_OBJECTSTORE_USE_SSL", &cfg.ObjectStore.UseSSL) },
		func() error { return applyString(lookup, "LLM4SQL_OBJECTSTORE_PREFIX", &cfg.ObjectStore.Prefix) },
		func() error { return applyInt(lookup, "LLM4SQL_QUERY_ROW_LIMIT", &cfg.Query.RowLimit) },
		func() error { return applyDuration(lookup, "LLM4SQL_QUERY_TIMEOUT", &cfg.Query.Timeout) },
		func() error { return applyInt(lookup, "LLM4SQL_SCHEMA_SAMPLE_ROWS", &cfg.UI.SchemaSampleRows) },
		func() error { return applyString(lookup, "LLM4SQL_MODEL_PROVIDER", &cfg.Model.Provider) },
		func() error { return applyString(lookup, "LLM4SQL_MODEL_BASE_URL", &cfg.Model.BaseURL) },
		func() error { return applyString(lookup, "LLM4SQL_MODEL_API_KEY", &cfg.Model.APIKey) },
		func() error { return applyString(lookup, "LLM4SQL_MODEL_NAME", &cfg.Model.Name) },
		func() error { return applyFloat(lookup, "LLM4SQL_MODEL_TEMPERATURE", &cfg.Model.Temperature) },
		func() error { return applyInt(lookup, "LLM4SQL_MODEL_MAX_TOKENS", &cfg.Model.MaxTokens) },
		func() error { return applyDuration(lookup, "LLM4SQL_MODEL_TIMEOUT", &cfg.Model.Timeout) },
		func() error { return applyString(lookup, "LLM4SQL_EXTRACT_MODE", &extractMode) },
		func() error { return applyBool(lookup, "LLM4SQL_LOG_JSON", &cfg.Observability.LogJSON) },
		func() error { return applyLogLevel(lookup, "LLM4SQL_LOG_LEVEL", &cfg.Observability.LogLevel) },
		func() error { return applyBool(lookup, "LLM4SQL_AUTH_REQUIRED", &cfg.Auth.Required) },
		func() error { return applyString(lookup, "LLM4SQL_AUTH_STATIC_KEYS", &cfg.Auth.StaticKeys) },
	}
	for _, apply := range appliers {
		if err := apply(); err != nil {
			return Config{}, err
		}
	}

	if extractMode != "" {
		cfg.Model.ExtractMode = ExtractMode(strings.ToLower(extractMode))
	}
	cfg.Model.Provider = strings.ToLower(cfg.Model.Provider)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	if c.Service.Name == "" {
		errs = append(errs, errors.New("service name is required"))
	}
	if c.HTTP.Address == "" {
		errs = append(errs, errors.New("http address is required"))
	}
	if c.UI.SchemaSampleRows < 0 {
		errs = append(errs, errors.New("LLM4SQL_SCHEMA_SAMPLE_ROWS must be >= 0"))
	}
	if c.Query.RowLimit <= 0 {
		errs = append(errs, errors.New("LLM4SQL_QUERY_ROW_LIMIT must be > 0"))
	}
	if c.Query.Timeout <= 0 {
		errs = append(errs, errors.New("LLM4SQL_QUERY_TIMEOUT must be > 0"))
	}
	switch c.Model.ExtractMode {
	case ExtractStrict, ExtractLegacy:
	default:
		errs = append(errs, fmt.Errorf("invalid LLM4SQL_EXTRACT_MODE: %q", c.Model.ExtractMode))
	}
	if c.Model.MaxTokens <= 0 {
		errs = append(errs, errors.New("LLM4SQL_MODEL_MAX_TOKENS must be > 0"))
	}
	if c.Model.Temperature < 0 || c.Model.Temperature > 2 {
		errs = append(errs, errors.New("LLM4SQL_MODEL_TEMPERATURE must be within [0, 2]"))
	}
	return errors.Join(errs...)
}

func defaultsForProfile(profile Profile) Config {
	cfg := Config{
		Profile: profile,
		Service: ServiceConfig{Name: "llm4sql-api"},
		HTTP: HTTPConfig{
			Address:      ":8080",
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 120 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Catalog: CatalogConfig{
			DataDir:  "data",
			CacheDir: filepath.Join(os.TempDir(), "llm4sql-cache"),
		},
		Query: QueryConfig{
			RowLimit: 1000,
			Timeout:  30 * time.Second,
		},
		UI: UIConfig{
			SchemaSampleRows: 5,
		},
		Model: ModelConfig{
			Provider:    "llamacpp",
			BaseURL:     "http://localhost:8081",
			Name:        "NumbersStation/nsql-350M",
			Temperature: 0,
			MaxTokens:   512,
			Timeout:     60 * time.Second,
			ExtractMode: ExtractStrict,
		},
		Observability: ObservabilityConfig{
			LogLevel: slog.LevelDebug,
			LogJSON:  true,
		},
		Auth: AuthConfig{
			Required:   false,
			StaticKeys: "",
		},
	}

	switch profile {
	case ProfileTest:
		cfg.HTTP.Address = ":18080"
		cfg.Observability.LogLevel = slog.LevelWarn
		cfg.Auth.Required = false
	case ProfileProd:
		cfg.Observability.LogLevel = slog.LevelInfo
		cfg.Auth.Required = true
		cfg.ObjectStore.UseSSL = true
	}

	return cfg
}

func isValidProfile(profile Profile) bool {
	switch profile {
	case ProfileDev, ProfileTest, ProfileProd:
		return true
	default:
		return false
	}
}

func applyString(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.TrimSpace(raw)
	return nil
}

func applyDuration(lookup LookupFunc, key string, dst *time.Duration) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyBool(lookup LookupFunc, key string, dst *bool) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyFloat(lookup LookupFunc, key string, dst *float64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyLogLevel(lookup LookupFunc, key string, dst *slog.Level) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	level := strings.ToLower(strings.TrimSpace(raw))
	switch level {
	case "debug":
		*dst = slog.LevelDebug
	case "info":
		*dst = slog.LevelInfo
	case "warn", "warning":
		*dst = slog.LevelWarn
	case "error":
		*dst = slog.LevelError
	default:
		return fmt.Errorf("invalid %s: %q", key, raw)
	}
	return nil
}
