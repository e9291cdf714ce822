// Package config holds the explicit configuration passed to every harness
// component.
//
// Values are layered: compiled-in defaults, then an optional YAML file, then
// environment variables. The result is checked against an embedded CUE
// schema before any component sees it.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config is the full harness configuration.
type Config struct {
	// BaseURL is the reservation service root, without the /api/v1 suffix.
	BaseURL string `yaml:"base_url" json:"base_url" env:"LOCKERBENCH_BASE_URL"`

	Store    StoreConfig   `yaml:"store" json:"store"`
	Cache    CacheConfig   `yaml:"cache" json:"cache"`
	Load     LoadConfig    `yaml:"load" json:"load"`
	Race     RaceConfig    `yaml:"race" json:"race"`
	Timeouts TimeoutConfig `yaml:"timeouts" json:"timeouts"`
	HTTP     HTTPConfig    `yaml:"http" json:"http"`
	Fixture  FixtureConfig `yaml:"fixture" json:"fixture"`
	Verify   VerifyConfig  `yaml:"verify" json:"verify"`
	Output   OutputConfig  `yaml:"output" json:"output"`
	Metrics  MetricsConfig `yaml:"metrics" json:"metrics"`
}

// StoreConfig locates the state store.
type StoreConfig struct {
	// Driver is "postgres" or "sqlite".
	Driver string `yaml:"driver" json:"driver" env:"LOCKERBENCH_STORE_DRIVER"`

	// DSN overrides the connection string built from the fields below.
	// Required for sqlite, where it is the database file path.
	DSN string `yaml:"dsn" json:"-" env:"LOCKERBENCH_STORE_DSN"`

	Host     string `yaml:"host" json:"host" env:"DB_HOST"`
	Port     int    `yaml:"port" json:"port" env:"DB_PORT"`
	Name     string `yaml:"name" json:"name" env:"DB_NAME"`
	User     string `yaml:"user" json:"user" env:"DB_USER"`
	Password string `yaml:"password" json:"-" env:"DB_PASSWORD"`

	// MaxConns bounds the store connection pool.
	MaxConns int `yaml:"max_conns" json:"max_conns" env:"LOCKERBENCH_STORE_MAX_CONNS"`
}

// ConnString returns the driver connection string.
func (s StoreConfig) ConnString() string {
	if s.DSN != "" {
		return s.DSN
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(s.User, s.Password),
		Host:     s.Host + ":" + strconv.Itoa(s.Port),
		Path:     "/" + s.Name,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

// CacheConfig locates the optional hold-state cache. An empty Addr disables
// it.
type CacheConfig struct {
	Addr     string `yaml:"addr" json:"addr" env:"REDIS_ADDR"`
	Password string `yaml:"password" json:"-" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" json:"db" env:"REDIS_DB"`

	// HoldKeyPattern matches the service's hold entries.
	HoldKeyPattern string `yaml:"hold_key_pattern" json:"hold_key_pattern"`
}

// LoadConfig shapes a batch run.
type LoadConfig struct {
	TotalActors   int           `yaml:"total_actors" json:"total_actors" env:"LOCKERBENCH_TOTAL_ACTORS"`
	BatchSize     int           `yaml:"batch_size" json:"batch_size" env:"LOCKERBENCH_BATCH_SIZE"`
	BatchPause    time.Duration `yaml:"batch_pause" json:"batch_pause"`
	ResourceCount int           `yaml:"resource_count" json:"resource_count"`
	ConfirmRate   float64       `yaml:"confirm_rate" json:"confirm_rate" env:"LOCKERBENCH_CONFIRM_RATE"`
	ThinkMin      time.Duration `yaml:"think_min" json:"think_min"`
	ThinkMax      time.Duration `yaml:"think_max" json:"think_max"`

	// ResetFirst runs ResetToClean after the snapshot is captured.
	ResetFirst bool `yaml:"reset_first" json:"reset_first"`
}

// RaceConfig shapes a race run.
type RaceConfig struct {
	Actors int `yaml:"actors" json:"actors"`

	// ResourceID targets a specific resource. Zero provisions a fresh one.
	ResourceID int `yaml:"resource_id" json:"resource_id"`
}

// TimeoutConfig bounds calls and runs.
type TimeoutConfig struct {
	Request time.Duration `yaml:"request" json:"request"`
	Total   time.Duration `yaml:"total" json:"total"`
	Cleanup time.Duration `yaml:"cleanup" json:"cleanup"`
}

// HTTPConfig bounds the HTTP transport.
type HTTPConfig struct {
	MaxConnections int `yaml:"max_connections" json:"max_connections"`
}

// SeedActor is a known real actor reused by fixtures.
type SeedActor struct {
	ID    string `yaml:"id" json:"id"`
	Name  string `yaml:"name" json:"name"`
	Phone string `yaml:"phone" json:"phone"`
}

// FixtureConfig defines the synthetic namespace and the real actors fixtures
// may touch.
type FixtureConfig struct {
	ActorPrefix  string      `yaml:"actor_prefix" json:"actor_prefix"`
	ResourceBase int         `yaml:"resource_base" json:"resource_base"`
	SeedActors   []SeedActor `yaml:"seed_actors" json:"seed_actors"`

	// ProtectedActors are real actors whose holds are cleared on cleanup.
	ProtectedActors []string `yaml:"protected_actors" json:"protected_actors"`
}

// Verify modes for ownership comparison.
const (
	VerifyByID   = "id"
	VerifyByName = "name"
	VerifyByBoth = "both"
)

// VerifyConfig selects which actor attribute the service reports as owner.
type VerifyConfig struct {
	Mode string `yaml:"mode" json:"mode" env:"LOCKERBENCH_VERIFY_MODE"`
}

// OutputConfig controls result artifacts.
type OutputConfig struct {
	ResultsFile string `yaml:"results_file" json:"results_file"`
	Detailed    bool   `yaml:"detailed" json:"detailed"`

	// ArchivePath appends each run to a sqlite history when set.
	ArchivePath string `yaml:"archive_path" json:"archive_path"`
}

// MetricsConfig exposes Prometheus metrics when Addr is set.
type MetricsConfig struct {
	Addr string `yaml:"addr" json:"addr" env:"LOCKERBENCH_METRICS_ADDR"`
}

// Default returns the compiled-in configuration.
func Default() Config {
	return Config{
		BaseURL: "http://localhost:3000",
		Store: StoreConfig{
			Driver:   "postgres",
			Host:     "localhost",
			Port:     5432,
			Name:     "locker",
			User:     "locker",
			MaxConns: 10,
		},
		Cache: CacheConfig{
			HoldKeyPattern: "locker:hold:*",
		},
		Load: LoadConfig{
			TotalActors:   1000,
			BatchSize:     300,
			ResourceCount: 150,
			ConfirmRate:   1.0,
			ThinkMin:      100 * time.Millisecond,
			ThinkMax:      500 * time.Millisecond,
		},
		Race: RaceConfig{
			Actors: 10,
		},
		Timeouts: TimeoutConfig{
			Request: 30 * time.Second,
			Total:   120 * time.Second,
			Cleanup: 60 * time.Second,
		},
		HTTP: HTTPConfig{
			MaxConnections: 500,
		},
		Fixture: FixtureConfig{
			ActorPrefix:  "TEST",
			ResourceBase: 9000,
			SeedActors: []SeedActor{
				{ID: "20231234", Name: "홍길동", Phone: "01012345678"},
				{ID: "20231235", Name: "김철수", Phone: "01087654321"},
			},
			ProtectedActors: []string{"20231234", "20231235"},
		},
		Verify: VerifyConfig{
			Mode: VerifyByID,
		},
		Output: OutputConfig{
			ResultsFile: "load_test_results.json",
			Detailed:    true,
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (when
// non-empty), and the environment, then validates it.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := decodeYAML(data, &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// decodeYAML overlays YAML onto cfg, rejecting unknown keys.
func decodeYAML(data []byte, cfg *Config) error {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	if err := decoder.Decode(cfg); err != nil {
		// an empty document leaves the defaults in place
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("parse config YAML: %w", err)
	}
	return nil
}

// Validate checks the configuration against the embedded schema and the
// cross-field rules the schema cannot express.
func (c Config) Validate() error {
	if err := validateSchema(c); err != nil {
		return err
	}
	if c.Load.ThinkMax < c.Load.ThinkMin {
		return fmt.Errorf("invalid config: load.think_max (%s) is below load.think_min (%s)", c.Load.ThinkMax, c.Load.ThinkMin)
	}
	if c.Store.Driver == "sqlite" && c.Store.DSN == "" {
		return fmt.Errorf("invalid config: store.dsn is required for the sqlite driver")
	}
	return nil
}
