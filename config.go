package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// dsnEnvVar overrides target.dsn so credentials can live in the environment or a .env file.
const dsnEnvVar = "DUMPFERRY_TARGET_DSN"

// Config holds the full TOML-driven load configuration.
type Config struct {
	Target            TargetConfig `toml:"target"`
	DumpDir           string       `toml:"dump_dir"`
	FilePattern       string       `toml:"file_pattern"` // {table} is replaced by the table name
	Encoding          string       `toml:"encoding"`     // utf-8|latin1|windows-1252
	Tables            []string     `toml:"tables"`
	Order             string       `toml:"order"` // config|foreign_keys
	BatchSize         int          `toml:"batch_size"`
	RepairBatchSize   int          `toml:"repair_batch_size"`
	MaxRetries        int          `toml:"max_retries"`
	RetryDelay        duration     `toml:"retry_delay"`
	AbortedRetryDelay duration     `toml:"aborted_retry_delay"`
	FilePause         duration     `toml:"file_pause"`
	Workers           int          `toml:"workers"`
	ResetSequences    bool         `toml:"reset_sequences"`
	SchemaFile        string       `toml:"schema_file"`
	Hooks             HooksConfig  `toml:"hooks"`

	// configDir is the directory containing the TOML file, used to resolve relative paths.
	configDir string
}

// TargetConfig identifies the destination database engine and connection string.
type TargetConfig struct {
	Type   string `toml:"type"` // "postgres", "mysql" or "sqlite"
	DSN    string `toml:"dsn"`
	Schema string `toml:"schema"` // postgres only
}

type HooksConfig struct {
	BeforeLoad []string `toml:"before_load"`
	AfterLoad  []string `toml:"after_load"`
}

// duration decodes TOML strings such as "5s" or "250ms".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// loadConfig reads a TOML config file and returns a Config with defaults applied.
func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := defaultConfig()
	md, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if unknown := md.Undecoded(); len(unknown) > 0 {
		keys := make([]string, len(unknown))
		for i, k := range unknown {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	cfg.configDir = filepath.Dir(absPath)

	if dsn := os.Getenv(dsnEnvVar); dsn != "" {
		cfg.Target.DSN = dsn
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Target:            TargetConfig{Type: "postgres", Schema: "public"},
		DumpDir:           ".",
		FilePattern:       "insert-{table}.sql",
		Encoding:          "utf-8",
		Order:             "config",
		BatchSize:         500,
		RepairBatchSize:   100,
		MaxRetries:        3,
		RetryDelay:        duration{5 * time.Second},
		AbortedRetryDelay: duration{time.Second},
		FilePause:         duration{2 * time.Second},
	}
}

func (c *Config) validate() error {
	if c.Workers <= 0 {
		c.Workers = defaultWorkers()
	}

	switch c.Target.Type {
	case "postgres", "mysql", "sqlite":
	case "":
		return fmt.Errorf("target.type is required (must be postgres, mysql or sqlite)")
	default:
		return fmt.Errorf("unsupported target type %q (must be postgres, mysql or sqlite)", c.Target.Type)
	}
	if c.Target.DSN == "" {
		return fmt.Errorf("target.dsn is required (or set %s)", dsnEnvVar)
	}
	c.Target.Schema = strings.TrimSpace(c.Target.Schema)
	if c.Target.Type == "postgres" && c.Target.Schema == "" {
		return fmt.Errorf("target.schema must not be empty")
	}
	if c.Target.Type != "postgres" && c.Target.Schema != "public" && c.Target.Schema != "" {
		return fmt.Errorf("target.schema is a postgres-only option")
	}

	if len(c.Tables) == 0 {
		return fmt.Errorf("tables is required")
	}
	seen := make(map[string]bool, len(c.Tables))
	for _, t := range c.Tables {
		if strings.TrimSpace(t) == "" {
			return fmt.Errorf("tables must not contain empty names")
		}
		if seen[t] {
			return fmt.Errorf("table %q listed more than once", t)
		}
		seen[t] = true
	}

	if !strings.Contains(c.FilePattern, "{table}") {
		return fmt.Errorf("file_pattern must contain {table}")
	}
	if _, ok := dumpEncodings[strings.ToLower(c.Encoding)]; !ok {
		return fmt.Errorf("encoding must be one of: utf-8, latin1, windows-1252")
	}
	switch c.Order {
	case "config", "foreign_keys":
	default:
		return fmt.Errorf("order must be one of: config, foreign_keys")
	}

	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive")
	}
	if c.RepairBatchSize <= 0 {
		return fmt.Errorf("repair_batch_size must be positive")
	}
	if c.MaxRetries <= 0 {
		return fmt.Errorf("max_retries must be positive")
	}
	if c.RetryDelay.Duration < 0 || c.AbortedRetryDelay.Duration < 0 || c.FilePause.Duration < 0 {
		return fmt.Errorf("delays must not be negative")
	}
	if c.ResetSequences && c.Target.Type != "postgres" {
		return fmt.Errorf("reset_sequences is a postgres-only option")
	}
	return nil
}

// resolvePath resolves a path relative to the config file directory.
func (c *Config) resolvePath(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.configDir, p)
}

func defaultWorkers() int {
	n := runtime.NumCPU()
	if n < 1 {
		return 1
	}
	if n > 8 {
		return 8
	}
	return n
}
