// Package config loads the disburse configuration.
//
// Values come from defaults, then an optional YAML file, then DISBURSE_*
// environment variables (DISBURSE_STORAGE_DRIVER overrides storage.driver).
// The merged result is checked against an embedded CUE schema before use.
package config

import (
	_ "embed"
	"fmt"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/roach88/disburse/internal/blob"
)

//go:embed schema.cue
var schemaSource string

// EnvPrefix prefixes every environment override.
const EnvPrefix = "DISBURSE"

// Config is the full configuration tree.
type Config struct {
	Database            Database            `mapstructure:"database" json:"database" yaml:"database"`
	Storage             Storage             `mapstructure:"storage" json:"storage" yaml:"storage"`
	Vendor              Vendor              `mapstructure:"vendor" json:"vendor" yaml:"vendor"`
	Bank                Bank                `mapstructure:"bank" json:"bank" yaml:"bank"`
	Check               Check               `mapstructure:"check" json:"check" yaml:"check"`
	AddressVerification AddressVerification `mapstructure:"address_verification" json:"address_verification" yaml:"address_verification"`
	Steps               Steps               `mapstructure:"steps" json:"steps" yaml:"steps"`
	Metrics             Metrics             `mapstructure:"metrics" json:"metrics" yaml:"metrics"`
	Log                 Log                 `mapstructure:"log" json:"log" yaml:"log"`
}

type Database struct {
	Path string `mapstructure:"path" json:"path" yaml:"path"`
}

type Storage struct {
	Driver string `mapstructure:"driver" json:"driver" yaml:"driver"`
	Root   string `mapstructure:"root" json:"root" yaml:"root"`
	S3     S3     `mapstructure:"s3" json:"s3" yaml:"s3"`
}

// S3 holds bucket settings. Credentials are not configured here; the
// default AWS chain (environment, shared config, instance role) applies.
type S3 struct {
	Bucket    string `mapstructure:"bucket" json:"bucket" yaml:"bucket"`
	Region    string `mapstructure:"region" json:"region" yaml:"region"`
	Endpoint  string `mapstructure:"endpoint" json:"endpoint" yaml:"endpoint"`
	PathStyle bool   `mapstructure:"path_style" json:"path_style" yaml:"path_style"`
}

// Vendor names the prefixes shared with the case-management vendor.
type Vendor struct {
	ExtractPrefix   string `mapstructure:"extract_prefix" json:"extract_prefix" yaml:"extract_prefix"`
	WritebackPrefix string `mapstructure:"writeback_prefix" json:"writeback_prefix" yaml:"writeback_prefix"`
}

// Bank carries the NACHA header identities. Empty values are allowed at
// load time; generating a NACHA file requires them.
type Bank struct {
	OutputPrefix         string `mapstructure:"output_prefix" json:"output_prefix" yaml:"output_prefix"`
	ImmediateDestination string `mapstructure:"immediate_destination" json:"immediate_destination" yaml:"immediate_destination"`
	ImmediateOrigin      string `mapstructure:"immediate_origin" json:"immediate_origin" yaml:"immediate_origin"`
	DestinationName      string `mapstructure:"destination_name" json:"destination_name" yaml:"destination_name"`
	OriginName           string `mapstructure:"origin_name" json:"origin_name" yaml:"origin_name"`
	CompanyName          string `mapstructure:"company_name" json:"company_name" yaml:"company_name"`
	CompanyID            string `mapstructure:"company_id" json:"company_id" yaml:"company_id"`
	ODFIRouting          string `mapstructure:"odfi_routing" json:"odfi_routing" yaml:"odfi_routing"`
}

// Complete reports whether every NACHA identity field is set.
func (b Bank) Complete() bool {
	return b.ImmediateDestination != "" && b.ImmediateOrigin != "" &&
		b.DestinationName != "" && b.OriginName != "" &&
		b.CompanyName != "" && b.CompanyID != "" && b.ODFIRouting != ""
}

type Check struct {
	Variant          string `mapstructure:"variant" json:"variant" yaml:"variant"`
	OutputPrefix     string `mapstructure:"output_prefix" json:"output_prefix" yaml:"output_prefix"`
	ReturnsPrefix    string `mapstructure:"returns_prefix" json:"returns_prefix" yaml:"returns_prefix"`
	FirstCheckNumber int64  `mapstructure:"first_check_number" json:"first_check_number" yaml:"first_check_number"`
}

type AddressVerification struct {
	BaseURL   string        `mapstructure:"base_url" json:"base_url" yaml:"base_url"`
	AuthToken string        `mapstructure:"auth_token" json:"auth_token" yaml:"auth_token"`
	Timeout   time.Duration `mapstructure:"timeout" json:"timeout" yaml:"timeout"`
}

type Steps struct {
	BatchSize int    `mapstructure:"batch_size" json:"batch_size" yaml:"batch_size"`
	WorkerID  string `mapstructure:"worker_id" json:"worker_id" yaml:"worker_id"`
}

type Metrics struct {
	PushgatewayURL string `mapstructure:"pushgateway_url" json:"pushgateway_url" yaml:"pushgateway_url"`
}

type Log struct {
	Level  string `mapstructure:"level" json:"level" yaml:"level"`
	Format string `mapstructure:"format" json:"format" yaml:"format"`
}

// defaults lists every key. Viper only resolves environment overrides for
// keys it already knows, so nothing may be missing here.
var defaults = map[string]any{
	"database.path":                   "disburse.db",
	"storage.driver":                  "fs",
	"storage.root":                    "data",
	"storage.s3.bucket":               "",
	"storage.s3.region":               "us-east-1",
	"storage.s3.endpoint":             "",
	"storage.s3.path_style":           false,
	"vendor.extract_prefix":           "vendor/extracts",
	"vendor.writeback_prefix":         "vendor/writeback",
	"bank.output_prefix":              "bank/ach",
	"bank.immediate_destination":      "",
	"bank.immediate_origin":           "",
	"bank.destination_name":           "",
	"bank.origin_name":                "",
	"bank.company_name":               "",
	"bank.company_id":                 "",
	"bank.odfi_routing":               "",
	"check.variant":                   "ez",
	"check.output_prefix":             "bank/checks",
	"check.returns_prefix":            "bank/check-returns",
	"check.first_check_number":        1,
	"address_verification.base_url":   "",
	"address_verification.auth_token": "",
	"address_verification.timeout":    "10s",
	"steps.batch_size":                1000,
	"steps.worker_id":                 "",
	"metrics.pushgateway_url":         "",
	"log.level":                       "info",
	"log.format":                      "text",
}

// Load reads path (optional) and the environment, then validates.
func Load(path string) (*Config, error) {
	v := viper.New()
	for k, d := range defaults {
		v.SetDefault(k, d)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration with no file and no environment.
func Default() *Config {
	cfg, err := Load("")
	if err != nil {
		panic(fmt.Sprintf("config defaults invalid: %v", err))
	}
	return cfg
}

// ValidationError lists every schema violation in one error.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return "invalid config: " + strings.Join(e.Issues, "; ")
}

// Validate checks cfg against the embedded schema, reporting all violations.
func Validate(cfg *Config) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	value := schema.LookupPath(cue.ParsePath("#Config")).Unify(ctx.Encode(cfg))
	err := value.Validate(cue.Concrete(true))
	if err == nil {
		return nil
	}
	var issues []string
	for _, e := range cueerrors.Errors(err) {
		msg := e.Error()
		if p := strings.Join(e.Path(), "."); p != "" && !strings.HasPrefix(msg, p) {
			msg = p + ": " + msg
		}
		issues = append(issues, msg)
	}
	return &ValidationError{Issues: issues}
}

// Blob returns the storage driver configuration.
func (c *Config) Blob() blob.Config {
	return blob.Config{
		Driver: blob.Driver(c.Storage.Driver),
		Root:   c.Storage.Root,
		S3: blob.S3Config{
			Bucket:    c.Storage.S3.Bucket,
			Region:    c.Storage.S3.Region,
			Endpoint:  c.Storage.S3.Endpoint,
			PathStyle: c.Storage.S3.PathStyle,
		},
	}
}

// Redacted returns a copy of c with secrets masked.
func (c *Config) Redacted() Config {
	redacted := *c
	if redacted.AddressVerification.AuthToken != "" {
		redacted.AddressVerification.AuthToken = "********"
	}
	return redacted
}

// YAML renders the effective configuration with secrets masked.
func (c *Config) YAML() ([]byte, error) {
	redacted := c.Redacted()
	out, err := yaml.Marshal(&redacted)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return out, nil
}
