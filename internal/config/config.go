package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	DefaultServerAddress = ":8090"
	DefaultBucket        = "uploads"
	DefaultProvider      = "openai"
	DefaultModel         = "gpt-4o-mini"
	DefaultMaxFiles      = 4
	DefaultMaxFileBytes  = 5 << 20 // 5 MiB
	DefaultMaxBodyBytes  = 32 << 20
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config"`
	Providers   map[string]ProviderConfig `json:"providers"`
	Blob        BlobConfig                `json:"blob"`
	Databases   map[string]DatabaseConfig `json:"databases"`
	Redis       RedisConfig               `json:"redis"`
}

type BasicConfig struct {
	ServerAddress string `json:"server_address"`
	LogLevel      string `json:"log_level"`
	LogFormat     string `json:"log_format"`
	// Database selects an entry in Databases; empty disables the metadata mirror.
	Database         string `json:"database"`
	Provider         string `json:"provider"`
	MaxFiles         int    `json:"max_files"`
	MaxFileBytes     int64  `json:"max_file_bytes"`
	MaxBodyBytes     int64  `json:"max_body_bytes"`
	ListingCacheTTL  int    `json:"listing_cache_ttl"`  // seconds, 0 disables
	AnalysisCacheTTL int    `json:"analysis_cache_ttl"` // minutes, 0 disables
}

type ProviderConfig struct {
	BaseURL     string  `json:"base_url"`
	Model       string  `json:"model"`
	APIKey      string  `json:"api_key"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float32 `json:"temperature"`
}

// BlobConfig points at an S3-compatible object store.
type BlobConfig struct {
	Endpoint        string `json:"endpoint"`
	Region          string `json:"region"`
	Bucket          string `json:"bucket"`
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
	PublicBaseURL   string `json:"public_base_url"`
	UsePathStyle    bool   `json:"use_path_style"`
	CreateBucket    bool   `json:"create_bucket"`
	PublicACL       *bool  `json:"public_acl"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Username string `json:"username"`
	Password string `json:"password"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	DBName   string `json:"db_name"`
	Params   string `json:"params"`
}

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// Load reads configuration from the provided path (defaults to config.json)
// and overlays environment variables. A missing default file is not an error;
// a missing explicit path is.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	var cfg Config
	file, err := os.Open(absPath)
	switch {
	case err == nil:
		defer file.Close()
		if err := json.NewDecoder(file).Decode(&cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}

	cfg.applyEnv(os.LookupEnv)
	cfg.applyDefaults()

	if db, ok := cfg.Databases["sqlite3"]; ok && db.DSN != "" && !strings.HasPrefix(db.DSN, ":memory:") &&
		!strings.HasPrefix(db.DSN, "file:") && !filepath.IsAbs(db.DSN) {
		db.DSN = filepath.Join(filepath.Dir(absPath), db.DSN)
		cfg.Databases["sqlite3"] = db
	}
	return &cfg, nil
}

// Validate returns warnings for settings the service can start without but
// will not fully work without. Secret values are never included.
func (c *Config) Validate() []string {
	var warnings []string
	prov := c.ActiveProvider()
	if prov.APIKey == "" {
		warnings = append(warnings, fmt.Sprintf("no API key configured for provider %q; image analysis is disabled", c.BasicConfig.Provider))
	}
	if c.Blob.AccessKeyID == "" || c.Blob.SecretAccessKey == "" {
		warnings = append(warnings, "blob store credentials missing; uploads will fail")
	}
	if c.BasicConfig.Database != "" {
		if _, ok := c.Databases[c.BasicConfig.Database]; !ok {
			warnings = append(warnings, fmt.Sprintf("database %q selected but not configured; metadata mirror is disabled", c.BasicConfig.Database))
		}
	}
	return warnings
}

// ActiveProvider returns the configuration of the selected vision provider.
func (c *Config) ActiveProvider() ProviderConfig {
	return c.Providers[c.BasicConfig.Provider]
}

// PublicReadACL reports whether uploaded objects request public-read.
func (b BlobConfig) PublicReadACL() bool {
	return b.PublicACL == nil || *b.PublicACL
}

func (c *Config) applyDefaults() {
	b := &c.BasicConfig
	if b.ServerAddress == "" {
		b.ServerAddress = DefaultServerAddress
	}
	if b.Provider == "" {
		b.Provider = DefaultProvider
	}
	if b.MaxFiles <= 0 {
		b.MaxFiles = DefaultMaxFiles
	}
	if b.MaxFileBytes <= 0 {
		b.MaxFileBytes = DefaultMaxFileBytes
	}
	if b.MaxBodyBytes <= 0 {
		b.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if c.Blob.Bucket == "" {
		c.Blob.Bucket = DefaultBucket
	}
	if c.Blob.Region == "" {
		c.Blob.Region = "us-east-1"
	}
	if c.Providers == nil {
		c.Providers = make(map[string]ProviderConfig)
	}
	p := c.Providers[b.Provider]
	if p.Model == "" && b.Provider == DefaultProvider {
		p.Model = DefaultModel
	}
	c.Providers[b.Provider] = p
}

// applyEnv overlays environment-provided secrets and identifiers.
func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok {
			if parsed, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
				*dst = parsed
			}
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := lookup(key); ok {
			if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				*dst = parsed
			}
		}
	}

	str("SCALPSCAN_ADDR", &c.BasicConfig.ServerAddress)
	str("SCALPSCAN_LOG_LEVEL", &c.BasicConfig.LogLevel)
	str("SCALPSCAN_PROVIDER", &c.BasicConfig.Provider)
	str("SCALPSCAN_DB", &c.BasicConfig.Database)

	if c.Providers == nil {
		c.Providers = make(map[string]ProviderConfig)
	}
	for name, env := range map[string]string{
		"openai": "OPENAI_API_KEY",
		"claude": "ANTHROPIC_API_KEY",
		"gemini": "GEMINI_API_KEY",
	} {
		if v, ok := lookup(env); ok && strings.TrimSpace(v) != "" {
			p := c.Providers[name]
			p.APIKey = strings.TrimSpace(v)
			c.Providers[name] = p
		}
	}

	str("BLOB_ENDPOINT", &c.Blob.Endpoint)
	str("BLOB_REGION", &c.Blob.Region)
	str("BLOB_BUCKET", &c.Blob.Bucket)
	str("BLOB_ACCESS_KEY_ID", &c.Blob.AccessKeyID)
	str("BLOB_SECRET_ACCESS_KEY", &c.Blob.SecretAccessKey)
	str("BLOB_PUBLIC_URL", &c.Blob.PublicBaseURL)
	boolean("BLOB_PATH_STYLE", &c.Blob.UsePathStyle)
	boolean("BLOB_CREATE_BUCKET", &c.Blob.CreateBucket)

	if v, ok := lookup("DATABASE_DSN"); ok && strings.TrimSpace(v) != "" {
		if c.Databases == nil {
			c.Databases = make(map[string]DatabaseConfig)
		}
		driver := c.BasicConfig.Database
		if driver == "" {
			driver = "sqlite3"
			c.BasicConfig.Database = driver
		}
		db := c.Databases[driver]
		db.DSN = strings.TrimSpace(v)
		c.Databases[driver] = db
	}

	if v, ok := lookup("REDIS_ADDR"); ok && strings.TrimSpace(v) != "" {
		host, port, found := strings.Cut(strings.TrimSpace(v), ":")
		c.Redis.Enabled = true
		c.Redis.Host = host
		if found {
			if p, err := strconv.Atoi(port); err == nil {
				c.Redis.Port = p
			}
		}
	}
	str("REDIS_PASSWORD", &c.Redis.Password)
	integer("REDIS_DB", &c.Redis.DB)
}
