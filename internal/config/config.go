// Package config loads layered configuration: flag defaults, then a YAML
// file, then RECALL_* environment variables, then explicitly set flags.
package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// EnvPrefix prefixes environment overrides; "__" separates key segments,
// e.g. RECALL_STORE__DRIVER=badger.
const EnvPrefix = "RECALL_"

// Config is the full application configuration.
type Config struct {
	Store  StoreConfig  `koanf:"store"`
	Review ReviewConfig `koanf:"review"`
	Streak StreakConfig `koanf:"streak"`
	HTTP   HTTPConfig   `koanf:"http"`
	Import ImportConfig `koanf:"import"`
	Log    LogConfig    `koanf:"log"`
}

type StoreConfig struct {
	Driver         string `koanf:"driver" validate:"oneof=sqlite badger"`
	DSN            string `koanf:"dsn" validate:"required_if=Driver sqlite"`
	BadgerPath     string `koanf:"badger_path" validate:"required_if=Driver badger BadgerInMemory false"`
	BadgerInMemory bool   `koanf:"badger_in_memory"`
}

type ReviewConfig struct {
	StrictQuality bool `koanf:"strict_quality"`
	MaxAttempts   uint `koanf:"max_attempts" validate:"min=1,max=10"`
}

type StreakConfig struct {
	Timezone string `koanf:"timezone" validate:"required,timezone"`
}

type HTTPConfig struct {
	Addr string `koanf:"addr" validate:"required,hostname_port"`
}

type ImportConfig struct {
	ReposDir string `koanf:"repos_dir" validate:"required"`
}

type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=text json"`
}

// flagKeys maps flag names onto configuration keys.
var flagKeys = map[string]string{
	"store":            "store.driver",
	"db":               "store.dsn",
	"badger-path":      "store.badger_path",
	"badger-in-memory": "store.badger_in_memory",
	"strict-quality":   "review.strict_quality",
	"max-attempts":     "review.max_attempts",
	"timezone":         "streak.timezone",
	"addr":             "http.addr",
	"repos-dir":        "import.repos_dir",
	"log-level":        "log.level",
	"log-format":       "log.format",
}

// RegisterFlags adds every configuration flag, with its default, to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "Path to a YAML configuration file")
	fs.String("store", "sqlite", "Storage backend: sqlite or badger")
	fs.String("db", "recall.db", "Path to the SQLite database file")
	fs.String("badger-path", "recall-badger", "Directory for the BadgerDB files")
	fs.Bool("badger-in-memory", false, "Keep the BadgerDB store in memory")
	fs.Bool("strict-quality", false, "Reject quality scores outside 0..5 instead of clamping")
	fs.Uint("max-attempts", 3, "Attempts for a review that hits a conflict or transient failure")
	fs.String("timezone", "UTC", "IANA time zone that defines a streak's calendar day")
	fs.String("addr", ":8080", "HTTP listen address")
	fs.String("repos-dir", "repos", "Directory for git deck checkouts")
	fs.String("log-level", "info", "Log level: debug, info, warn, error")
	fs.String("log-format", "text", "Log format: text or json")
}

// Load builds the configuration from fs, the file named by --config and the
// environment, and validates it.
func Load(fs *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if path, _ := fs.GetString("config"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	envKey := func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	// Unchanged flags only fill keys the file and environment left unset.
	flags := posflag.ProviderWithFlag(fs, ".", k, func(f *pflag.Flag) (string, interface{}) {
		key, ok := flagKeys[f.Name]
		if !ok {
			return "", nil
		}
		return key, posflag.FlagVal(fs, f)
	})
	if err := k.Load(flags, nil); err != nil {
		return nil, fmt.Errorf("failed to load flags: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cfg against its struct tags.
func Validate(cfg *Config) error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
