// Package config loads server settings from defaults, an optional YAML file,
// environment variables and command-line flags, in increasing precedence.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Storage backends.
const (
	StorageFile     = "file"
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Config holds runtime settings for the server.
type Config struct {
	Addr        string        `yaml:"addr"`
	AppSecret   string        `yaml:"app_secret"`
	InsecureDev bool          `yaml:"insecure_dev"`
	TokenTTL    time.Duration `yaml:"token_ttl"`

	Storage     string `yaml:"storage"`
	DataDir     string `yaml:"data_dir"`
	SQLitePath  string `yaml:"sqlite_path"`
	DatabaseURL string `yaml:"database_url"`

	CORSOrigins []string `yaml:"cors_origins"`

	OpenSignup               bool `yaml:"open_signup"`
	LegacyPlaintextPasswords bool `yaml:"legacy_plaintext_passwords"`
	StorageRequiresAuth      bool `yaml:"storage_requires_auth"`

	SeedAdmin SeedAdmin `yaml:"seed_admin"`
	Sync      Sync      `yaml:"sync"`
	OIDC      OIDC      `yaml:"oidc"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// SecretGenerated is set by Validate when an ephemeral secret was
	// generated for an insecure development run.
	SecretGenerated bool `yaml:"-"`
}

// SeedAdmin is the account created on first start.
type SeedAdmin struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Sync configures bulk upload policy.
type Sync struct {
	// AllowEmpty lists collections that may be replaced by an empty upload.
	AllowEmpty []string `yaml:"allow_empty"`
}

// OIDC configures optional single sign-on.
type OIDC struct {
	Issuer        string `yaml:"issuer"`
	ClientID      string `yaml:"client_id"`
	ClientSecret  string `yaml:"client_secret"`
	RedirectURL   string `yaml:"redirect_url"`
	FrontendURL   string `yaml:"frontend_url"`
	AutoProvision bool   `yaml:"auto_provision"`
}

// Enabled reports whether SSO has enough settings to run.
func (o OIDC) Enabled() bool {
	return o.Issuer != "" && o.ClientID != "" && o.RedirectURL != ""
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		Addr:        ":8000",
		TokenTTL:    time.Hour,
		Storage:     StorageFile,
		DataDir:     "persistent_data",
		SQLitePath:  "data.db",
		CORSOrigins: []string{"*"},
		SeedAdmin: SeedAdmin{
			Username: "Christian Tabares",
			Password: "Shipping3",
		},
		LogLevel:  "info",
		LogFormat: "json",
	}
}

// Load builds a Config from args (without the program name) and the
// environment lookup function getenv.
func Load(args []string, getenv func(string) string) (*Config, error) {
	cfg := Defaults()

	fs := pflag.NewFlagSet("shipping", pflag.ContinueOnError)
	var (
		configPath  = fs.StringP("config", "c", "", "path to YAML config file")
		addr        = fs.String("addr", cfg.Addr, "listen address")
		secret      = fs.String("app-secret", "", "HMAC secret for bearer tokens")
		insecureDev = fs.Bool("insecure-dev", false, "allow an ephemeral secret when none is configured")
		ttl         = fs.Duration("token-ttl", cfg.TokenTTL, "bearer token lifetime")
		storage     = fs.String("storage", cfg.Storage, "storage backend: file, sqlite, postgres or memory")
		dataDir     = fs.String("data-dir", cfg.DataDir, "directory for file storage")
		sqlitePath  = fs.String("sqlite-path", cfg.SQLitePath, "SQLite database path")
		databaseURL = fs.String("database-url", "", "PostgreSQL connection string")
		cors        = fs.StringSlice("cors-origins", cfg.CORSOrigins, "allowed CORS origins")
		openSignup  = fs.Bool("open-signup", false, "allow unauthenticated user creation")
		legacy      = fs.Bool("legacy-plaintext-passwords", false, "accept plaintext stored passwords (insecure)")
		storageAuth = fs.Bool("storage-requires-auth", false, "require a bearer token for /api/storage")
		allowEmpty  = fs.StringSlice("sync-allow-empty", nil, "collections that accept empty uploads")
		logLevel    = fs.String("log-level", cfg.LogLevel, "log level")
		logFormat   = fs.String("log-format", cfg.LogFormat, "log format: json or text")
	)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	path := *configPath
	if path == "" {
		path = getenv("SHIPPING_CONFIG")
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(getenv); err != nil {
		return nil, err
	}

	if fs.Changed("addr") {
		cfg.Addr = *addr
	}
	if fs.Changed("app-secret") {
		cfg.AppSecret = *secret
	}
	if fs.Changed("insecure-dev") {
		cfg.InsecureDev = *insecureDev
	}
	if fs.Changed("token-ttl") {
		cfg.TokenTTL = *ttl
	}
	if fs.Changed("storage") {
		cfg.Storage = *storage
	}
	if fs.Changed("data-dir") {
		cfg.DataDir = *dataDir
	}
	if fs.Changed("sqlite-path") {
		cfg.SQLitePath = *sqlitePath
	}
	if fs.Changed("database-url") {
		cfg.DatabaseURL = *databaseURL
	}
	if fs.Changed("cors-origins") {
		cfg.CORSOrigins = *cors
	}
	if fs.Changed("open-signup") {
		cfg.OpenSignup = *openSignup
	}
	if fs.Changed("legacy-plaintext-passwords") {
		cfg.LegacyPlaintextPasswords = *legacy
	}
	if fs.Changed("storage-requires-auth") {
		cfg.StorageRequiresAuth = *storageAuth
	}
	if fs.Changed("sync-allow-empty") {
		cfg.Sync.AllowEmpty = *allowEmpty
	}
	if fs.Changed("log-level") {
		cfg.LogLevel = *logLevel
	}
	if fs.Changed("log-format") {
		cfg.LogFormat = *logFormat
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	list := func(key string, dst *[]string) {
		if v := getenv(key); v != "" {
			*dst = splitList(v)
		}
	}
	boolean := func(key string, dst *bool) error {
		v := getenv(key)
		if v == "" {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = b
		return nil
	}

	if port := getenv("PORT"); port != "" {
		c.Addr = ":" + port
	}
	str("ADDR", &c.Addr)
	str("APP_SECRET", &c.AppSecret)
	if v := getenv("TOKEN_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("TOKEN_TTL: %w", err)
		}
		c.TokenTTL = d
	}
	str("STORAGE", &c.Storage)
	str("DATA_DIR", &c.DataDir)
	str("DB_PATH", &c.SQLitePath)
	str("DATABASE_URL", &c.DatabaseURL)
	list("CORS_ORIGINS", &c.CORSOrigins)
	list("SYNC_ALLOW_EMPTY", &c.Sync.AllowEmpty)
	str("SEED_ADMIN_USERNAME", &c.SeedAdmin.Username)
	str("SEED_ADMIN_PASSWORD", &c.SeedAdmin.Password)
	str("OIDC_ISSUER", &c.OIDC.Issuer)
	str("OIDC_CLIENT_ID", &c.OIDC.ClientID)
	str("OIDC_CLIENT_SECRET", &c.OIDC.ClientSecret)
	str("OIDC_REDIRECT_URL", &c.OIDC.RedirectURL)
	str("OIDC_FRONTEND_URL", &c.OIDC.FrontendURL)
	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_FORMAT", &c.LogFormat)

	for key, dst := range map[string]*bool{
		"INSECURE_DEV":               &c.InsecureDev,
		"OPEN_SIGNUP":                &c.OpenSignup,
		"LEGACY_PLAINTEXT_PASSWORDS": &c.LegacyPlaintextPasswords,
		"STORAGE_REQUIRES_AUTH":      &c.StorageRequiresAuth,
		"OIDC_AUTO_PROVISION":        &c.OIDC.AutoProvision,
	} {
		if err := boolean(key, dst); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks the configuration and, for insecure development runs
// without a secret, generates an ephemeral one.
func (c *Config) Validate() error {
	if c.AppSecret == "" {
		if !c.InsecureDev {
			return errors.New("APP_SECRET is required (set --insecure-dev to use an ephemeral secret)")
		}
		b := make([]byte, 32)
		if _, err := rand.Read(b); err != nil {
			return fmt.Errorf("generate secret: %w", err)
		}
		c.AppSecret = hex.EncodeToString(b)
		c.SecretGenerated = true
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("token ttl must be positive, got %s", c.TokenTTL)
	}
	switch c.Storage {
	case StorageFile:
		if c.DataDir == "" {
			return errors.New("data dir is required for file storage")
		}
	case StorageSQLite:
		if c.SQLitePath == "" {
			return errors.New("sqlite path is required for sqlite storage")
		}
	case StoragePostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for postgres storage")
		}
	case StorageMemory:
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage)
	}
	if c.SeedAdmin.Username == "" || c.SeedAdmin.Password == "" {
		return errors.New("seed admin username and password must not be empty")
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
