package cli

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/pthm/shelfdb/internal/telemetry"
	"github.com/pthm/shelfdb/pkg/adapter"
	"github.com/pthm/shelfdb/pkg/adapter/postgres"
	"github.com/pthm/shelfdb/pkg/adapter/sqlite"
	"github.com/pthm/shelfdb/pkg/storage"
)

const (
	maxWalkDepth = 25
)

// Config represents the shelfdb configuration from shelfdb.yaml.
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database" json:"database"`
	Migrate   MigrateConfig   `mapstructure:"migrate" json:"migrate"`
	Telemetry TelemetryConfig `mapstructure:"telemetry" json:"telemetry"`
}

// DatabaseConfig holds backend selection and connection settings.
type DatabaseConfig struct {
	Backend string `mapstructure:"backend" json:"backend"`

	// SQLite
	Path   string       `mapstructure:"path" json:"path"`
	SQLite SQLiteConfig `mapstructure:"sqlite" json:"sqlite"`

	// PostgreSQL
	URL      string     `mapstructure:"url" json:"url,omitempty"`
	Host     string     `mapstructure:"host" json:"host,omitempty"`
	Port     int        `mapstructure:"port" json:"port"`
	Name     string     `mapstructure:"name" json:"name,omitempty"`
	User     string     `mapstructure:"user" json:"user,omitempty"`
	Password string     `mapstructure:"password" json:"password,omitempty"`
	SSLMode  string     `mapstructure:"sslmode" json:"sslmode"`
	Pool     PoolConfig `mapstructure:"pool" json:"pool"`
}

// SQLiteConfig holds embedded engine settings.
type SQLiteConfig struct {
	BusyTimeout time.Duration `mapstructure:"busy_timeout" json:"busy_timeout"`
}

// PoolConfig holds PostgreSQL pool settings.
type PoolConfig struct {
	MaxConns         int32         `mapstructure:"max_conns" json:"max_conns"`
	MinConns         int32         `mapstructure:"min_conns" json:"min_conns"`
	IdleTimeout      time.Duration `mapstructure:"idle_timeout" json:"idle_timeout"`
	ConnectTimeout   time.Duration `mapstructure:"connect_timeout" json:"connect_timeout"`
	StatementTimeout time.Duration `mapstructure:"statement_timeout" json:"statement_timeout"`
}

// MigrateConfig holds migration settings.
type MigrateConfig struct {
	DryRun   bool `mapstructure:"dry_run" json:"dry_run"`
	FailFast bool `mapstructure:"fail_fast" json:"fail_fast"`
}

// TelemetryConfig holds OpenTelemetry settings.
type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled" json:"enabled"`
	Stdout       bool   `mapstructure:"stdout" json:"stdout"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint" json:"otlp_endpoint,omitempty"`
	ServiceName  string `mapstructure:"service_name" json:"service_name"`
}

// LoadConfig discovers and loads configuration with proper precedence:
// flags > env > config file > defaults.
//
// Returns the loaded config, the path to the config file (empty if none found),
// and any error encountered.
func LoadConfig(explicitConfigPath string) (*Config, string, error) {
	v := viper.New()

	// 1. Set defaults first (lowest precedence)
	setDefaults(v)

	// 2. Set up environment variable binding
	v.SetEnvPrefix("SHELFDB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 3. Find and load config file
	configPath, err := findConfigFile(explicitConfigPath)
	if err != nil {
		return nil, "", err
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, configPath, fmt.Errorf("reading config file: %w", err)
		}
	}

	// 4. Unmarshal into Config struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, configPath, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, configPath, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.backend", "sqlite")
	v.SetDefault("database.path", "data/shelf.db")
	v.SetDefault("database.sqlite.busy_timeout", 5*time.Second)

	v.SetDefault("database.url", "")
	v.SetDefault("database.host", "")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "")
	v.SetDefault("database.user", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.sslmode", "prefer")

	v.SetDefault("database.pool.max_conns", 10)
	v.SetDefault("database.pool.min_conns", 0)
	v.SetDefault("database.pool.idle_timeout", 30*time.Second)
	v.SetDefault("database.pool.connect_timeout", 2*time.Second)
	v.SetDefault("database.pool.statement_timeout", 30*time.Second)

	v.SetDefault("migrate.dry_run", false)
	v.SetDefault("migrate.fail_fast", false)

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.stdout", false)
	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.service_name", "shelfdb")
}

// findConfigFile finds the config file to use.
// If explicitPath is provided, it validates the file exists.
// Otherwise, it walks up from cwd looking for shelfdb.yaml or shelfdb.yml,
// stopping at a .git directory or after maxWalkDepth levels.
func findConfigFile(explicitPath string) (string, error) {
	if explicitPath != "" {
		if _, err := os.Stat(explicitPath); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicitPath)
		}
		return explicitPath, nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getting cwd: %w", err)
	}

	dir := cwd
	for i := 0; i < maxWalkDepth; i++ {
		for _, name := range []string{"shelfdb.yaml", "shelfdb.yml"} {
			path := filepath.Join(dir, name)
			if _, err := os.Stat(path); err == nil {
				return path, nil
			}
		}

		// Repo boundary (.git file or directory)
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			break
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", nil
}

// Backend returns the configured backend kind.
func (c *Config) Backend() (adapter.Kind, error) {
	return storage.ParseBackend(strings.ToLower(strings.TrimSpace(c.Database.Backend)))
}

// Validate checks the settings the selected backend needs. Server
// credentials are only required for postgres.
func (c *Config) Validate() error {
	kind, err := c.Backend()
	if err != nil {
		return err
	}
	switch kind {
	case adapter.KindSQLite:
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for the sqlite backend")
		}
	case adapter.KindPostgres:
		if _, err := c.DSN(); err != nil {
			return err
		}
		if c.Database.Pool.MinConns > c.Database.Pool.MaxConns {
			return fmt.Errorf("database.pool.min_conns (%d) exceeds max_conns (%d)",
				c.Database.Pool.MinConns, c.Database.Pool.MaxConns)
		}
	}
	return nil
}

// DSN returns the database connection string.
// If database.url is set, it's returned directly.
// Otherwise, builds a DSN from discrete fields.
func (c *Config) DSN() (string, error) {
	db := c.Database

	if db.URL != "" {
		return db.URL, nil
	}

	if db.Host == "" {
		return "", fmt.Errorf("database.host is required when database.url is not set")
	}
	if db.Name == "" {
		return "", fmt.Errorf("database.name is required when database.url is not set")
	}
	if db.User == "" {
		return "", fmt.Errorf("database.user is required when database.url is not set")
	}

	u := &url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:   "/" + db.Name,
	}

	if db.Password != "" {
		u.User = url.UserPassword(db.User, db.Password)
	} else {
		u.User = url.User(db.User)
	}

	if db.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.SSLMode)
		u.RawQuery = q.Encode()
	}

	return u.String(), nil
}

// StorageConfig converts the loaded settings into a storage.Config.
// Call Validate first.
func (c *Config) StorageConfig() (storage.Config, error) {
	kind, err := c.Backend()
	if err != nil {
		return storage.Config{}, err
	}
	sc := storage.Config{
		Backend: kind,
		SQLite: sqlite.Config{
			Path:        c.Database.Path,
			BusyTimeout: c.Database.SQLite.BusyTimeout,
		},
	}
	if kind == adapter.KindPostgres {
		dsn, err := c.DSN()
		if err != nil {
			return storage.Config{}, err
		}
		p := c.Database.Pool
		sc.Postgres = postgres.Config{
			URL:              dsn,
			MaxConns:         p.MaxConns,
			MinConns:         p.MinConns,
			IdleTimeout:      p.IdleTimeout,
			ConnectTimeout:   p.ConnectTimeout,
			StatementTimeout: p.StatementTimeout,
		}
	}
	return sc, nil
}

// TelemetryConfig converts the telemetry section for telemetry.Init.
func (c *Config) TelemetryConfig(version string) telemetry.Config {
	return telemetry.Config{
		Enabled:      c.Telemetry.Enabled,
		Stdout:       c.Telemetry.Stdout,
		OTLPEndpoint: c.Telemetry.OTLPEndpoint,
		ServiceName:  c.Telemetry.ServiceName,
		Version:      version,
	}
}

// Redacted returns a copy safe to print: the password and any password in
// database.url are masked.
func (c *Config) Redacted() Config {
	out := *c
	if out.Database.Password != "" {
		out.Database.Password = "********"
	}
	if out.Database.URL != "" {
		if u, err := url.Parse(out.Database.URL); err == nil && u.User != nil {
			if _, ok := u.User.Password(); ok {
				u.User = url.UserPassword(u.User.Username(), "xxxxx")
				out.Database.URL = u.String()
			}
		}
	}
	return out
}
