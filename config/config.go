// Package config loads node configuration: built-in defaults, then an
// optional YAML file, then AURIA_* environment variables, then validation.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"auria.dev/core/auria"
	"auria.dev/core/hardware"
	"auria.dev/core/storage/storeconfig"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "AURIA_"

type Config struct {
	Node      NodeConfig                      `yaml:"node" envPrefix:"NODE_"`
	Log       LogConfig                       `yaml:"log" envPrefix:"LOG_"`
	Registry  RegistryConfig                  `yaml:"registry" envPrefix:"REGISTRY_"`
	Assembler AssemblerConfig                 `yaml:"assembler" envPrefix:"ASSEMBLER_"`
	Ledger    LedgerConfig                    `yaml:"ledger" envPrefix:"LEDGER_"`
	Licenses  LicensesConfig                  `yaml:"licenses" envPrefix:"LICENSES_"`
	Metrics   MetricsConfig                   `yaml:"metrics" envPrefix:"METRICS_"`
	Blobs     storeconfig.Config              `yaml:"blobs" env:"-"`
	Tiers     map[string]hardware.Requirement `yaml:"tiers,omitempty" env:"-"`
}

type NodeConfig struct {
	ID auria.NodeID `yaml:"id" env:"ID" validate:"required"`
	// ProfilesFile is the hardware profile YAML watched for changes.
	ProfilesFile string `yaml:"profiles_file" env:"PROFILES_FILE" validate:"required"`
	// ExpertsFile lists expert definitions to publish at startup.
	ExpertsFile string `yaml:"experts_file" env:"EXPERTS_FILE"`
	// ShardIndex maps shard ids to blob CIDs; unlisted ids are read as CIDs.
	ShardIndex map[auria.ShardID]string `yaml:"shard_index,omitempty" env:"-"`
}

type LogConfig struct {
	Level string `yaml:"level" env:"LEVEL" validate:"oneof=debug info warn error"`
	JSON  bool   `yaml:"json" env:"JSON"`
}

type RegistryConfig struct {
	FetchTimeout time.Duration `yaml:"fetch_timeout" env:"FETCH_TIMEOUT" validate:"gt=0"`
	AwaitTimeout time.Duration `yaml:"await_timeout" env:"AWAIT_TIMEOUT" validate:"gt=0"`
	// FetchRate limits blob fetches per second; zero disables pacing.
	FetchRate  float64 `yaml:"fetch_rate" env:"FETCH_RATE" validate:"gte=0"`
	FetchBurst int     `yaml:"fetch_burst" env:"FETCH_BURST" validate:"gte=1"`
}

type AssemblerConfig struct {
	Parallelism int `yaml:"parallelism" env:"PARALLELISM" validate:"gte=1,lte=1024"`
}

type LedgerConfig struct {
	Backend    string `yaml:"backend" env:"BACKEND" validate:"oneof=memory badger"`
	Path       string `yaml:"path" env:"PATH" validate:"required_if=Backend badger"`
	SyncWrites bool   `yaml:"sync_writes" env:"SYNC_WRITES"`
	// SigningKey names a key in the key store used to sign receipts.
	SigningKey string `yaml:"signing_key" env:"SIGNING_KEY"`
}

type LicensesConfig struct {
	// TrustedIssuers are "alg:base64" issuer keys; when empty, licenses
	// are only checked structurally.
	TrustedIssuers []string `yaml:"trusted_issuers" env:"TRUSTED_ISSUERS" envSeparator:","`
	Files          []string `yaml:"files" env:"FILES" envSeparator:","`
}

type MetricsConfig struct {
	Listen string `yaml:"listen" env:"LISTEN" validate:"omitempty,hostname_port"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Log: LogConfig{Level: "info"},
		Registry: RegistryConfig{
			FetchTimeout: 30 * time.Second,
			AwaitTimeout: 10 * time.Second,
			FetchBurst:   1,
		},
		Assembler: AssemblerConfig{Parallelism: 8},
		Ledger:    LedgerConfig{Backend: "memory", SyncWrites: true},
		Blobs: storeconfig.Config{
			Backends: []storeconfig.BackendConfig{{Name: "memory"}},
		},
	}
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty) and the environment.
func Load(path string) (Config, error) {
	return load(path, nil)
}

func load(path string, environ map[string]string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: %w", err)
		}
		if err := decodeYAML(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: %s: %w", path, err)
		}
	}
	opts := env.Options{Prefix: EnvPrefix}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("config: environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decodeYAML(b []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints, the blob store section and the tier
// table.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := auria.CheckID("node", string(c.Node.ID)); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := c.Blobs.Validate(); err != nil {
		return fmt.Errorf("config: blobs: %w", err)
	}
	if _, err := c.Requirements(); err != nil {
		return err
	}
	return nil
}

// Requirements returns the tier table: defaults overridden per tier by the
// tiers section.
func (c Config) Requirements() (map[auria.Tier]hardware.Requirement, error) {
	reqs := hardware.DefaultRequirements()
	for name, r := range c.Tiers {
		t, err := auria.ParseTier(name)
		if err != nil {
			return nil, fmt.Errorf("config: tiers: %w", err)
		}
		reqs[t] = r
	}
	if _, err := hardware.NewResolver(reqs); err != nil {
		return nil, fmt.Errorf("config: tiers: %w", err)
	}
	return reqs, nil
}
