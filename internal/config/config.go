// Package config assembles settings from defaults, an optional YAML file and
// POKEROSTER_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/DoyleJ11/pokeroster/internal/localstate"
	"github.com/DoyleJ11/pokeroster/internal/store"
	"github.com/joho/godotenv"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

const envPrefix = "POKEROSTER_"

// Duration is a time.Duration written as a string ("30m") in YAML.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := time.ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) { return time.Duration(d).String(), nil }

type Config struct {
	Addr      string  `yaml:"addr"`
	StatePath string  `yaml:"state_path"`
	Storage   Storage `yaml:"storage"`
	Catalog   Catalog `yaml:"catalog"`
	Roster    Roster  `yaml:"roster"`
	Logging   Logging `yaml:"logging"`
}

type Storage struct {
	Driver        store.Driver `yaml:"driver"`
	PostgresDSN   string       `yaml:"postgres_dsn"`
	NotifyChannel string       `yaml:"notify_channel"`
	MongoURI      string       `yaml:"mongo_uri"`
	MongoDatabase string       `yaml:"mongo_database"`
	MongoWatch    bool         `yaml:"mongo_watch"`
}

type Catalog struct {
	BaseURL           string   `yaml:"base_url"`
	Timeout           Duration `yaml:"timeout"`
	CacheTTL          Duration `yaml:"cache_ttl"`
	CacheSize         int      `yaml:"cache_size"`
	PageLimit         int      `yaml:"page_limit"`
	PrimaryLanguage   string   `yaml:"primary_language"`
	SecondaryLanguage string   `yaml:"secondary_language"`
	Concurrency       int      `yaml:"concurrency"`
}

type Roster struct {
	TeamCap           int  `yaml:"team_cap"`
	SessionCodeLength int  `yaml:"session_code_length"`
	OverfillTeam      bool `yaml:"overfill_team"`
}

type Logging struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

func Default() Config {
	return Config{
		Addr: ":8080",
		Storage: Storage{
			Driver:        store.DriverMemory,
			NotifyChannel: "pokeroster_changes",
			MongoDatabase: "pokeroster",
		},
		Catalog: Catalog{
			BaseURL:           "https://pokeapi.co/api/v2",
			Timeout:           Duration(10 * time.Second),
			CacheTTL:          Duration(30 * time.Minute),
			CacheSize:         12000,
			PageLimit:         10000,
			PrimaryLanguage:   "en",
			SecondaryLanguage: "fr",
			Concurrency:       8,
		},
		Roster: Roster{
			TeamCap:           6,
			SessionCodeLength: 8,
		},
		Logging: Logging{Level: "info"},
	}
}

// Load builds the configuration. path may be empty, in which case
// POKEROSTER_CONFIG is consulted; a missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	// .env is optional
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cfg, fmt.Errorf("load .env: %w", err)
	}

	if path == "" {
		path = os.Getenv(envPrefix + "CONFIG")
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return cfg, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return cfg, fmt.Errorf("parse %s: %w", path, err)
			}
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	if cfg.StatePath == "" {
		p, err := localstate.DefaultPath()
		if err != nil {
			return cfg, fmt.Errorf("state path: %w", err)
		}
		cfg.StatePath = p
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	switch c.Storage.Driver {
	case store.DriverMemory:
	case store.DriverPostgres:
		if c.Storage.PostgresDSN == "" {
			return errors.New("storage.postgres_dsn is required for the postgres driver")
		}
	case store.DriverMongo:
		if c.Storage.MongoURI == "" {
			return errors.New("storage.mongo_uri is required for the mongo driver")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Roster.TeamCap <= 0 {
		return fmt.Errorf("roster.team_cap must be positive, got %d", c.Roster.TeamCap)
	}
	if c.Catalog.Concurrency <= 0 {
		return fmt.Errorf("catalog.concurrency must be positive, got %d", c.Catalog.Concurrency)
	}
	return nil
}

func applyEnv(c *Config) error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(envPrefix + key); ok {
			*dst = v
		}
	}
	var errs []error
	num := func(key string, dst *int) {
		if v, ok := os.LookupEnv(envPrefix + key); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
				return
			}
			*dst = n
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := os.LookupEnv(envPrefix + key); ok {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
				return
			}
			*dst = b
		}
	}
	dur := func(key string, dst *Duration) {
		if v, ok := os.LookupEnv(envPrefix + key); ok {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
				return
			}
			*dst = Duration(d)
		}
	}

	str("ADDR", &c.Addr)
	str("STATE_PATH", &c.StatePath)

	var driver string
	str("STORAGE_DRIVER", &driver)
	if driver != "" {
		c.Storage.Driver = store.Driver(strings.ToLower(driver))
	}
	str("POSTGRES_DSN", &c.Storage.PostgresDSN)
	str("NOTIFY_CHANNEL", &c.Storage.NotifyChannel)
	str("MONGO_URI", &c.Storage.MongoURI)
	str("MONGO_DATABASE", &c.Storage.MongoDatabase)
	flag("MONGO_WATCH", &c.Storage.MongoWatch)

	str("CATALOG_BASE_URL", &c.Catalog.BaseURL)
	dur("CATALOG_TIMEOUT", &c.Catalog.Timeout)
	dur("CATALOG_CACHE_TTL", &c.Catalog.CacheTTL)
	num("CATALOG_CACHE_SIZE", &c.Catalog.CacheSize)
	num("CATALOG_PAGE_LIMIT", &c.Catalog.PageLimit)
	str("CATALOG_PRIMARY_LANGUAGE", &c.Catalog.PrimaryLanguage)
	str("CATALOG_SECONDARY_LANGUAGE", &c.Catalog.SecondaryLanguage)
	num("CATALOG_CONCURRENCY", &c.Catalog.Concurrency)

	num("TEAM_CAP", &c.Roster.TeamCap)
	num("SESSION_CODE_LENGTH", &c.Roster.SessionCodeLength)
	flag("OVERFILL_TEAM", &c.Roster.OverfillTeam)

	str("LOG_LEVEL", &c.Logging.Level)
	flag("LOG_DEVELOPMENT", &c.Logging.Development)

	return multierr.Combine(errs...)
}
