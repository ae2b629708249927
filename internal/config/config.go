// Package config loads the fieldsync YAML configuration.
//
// Files are checked against an embedded CUE schema before they are decoded,
// so unknown keys, bad enum values and malformed durations are reported
// with their path rather than silently ignored.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaSource string

// Error codes for configuration failures.
const (
	ErrCodeRead    = "E201"
	ErrCodeParse   = "E202"
	ErrCodeSchema  = "E203"
	ErrCodeInvalid = "E204"
)

// Error is a configuration failure.
type Error struct {
	Code    string
	Path    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Path, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Duration is a time.Duration written as a Go duration string ("1s", "250ms").
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the full fieldsync configuration.
type Config struct {
	LocalStore   LocalStoreConfig   `yaml:"localStore"`
	Remote       RemoteConfig       `yaml:"remote"`
	Sync         SyncConfig         `yaml:"sync"`
	Connectivity ConnectivityConfig `yaml:"connectivity"`
	Conflict     ConflictConfig     `yaml:"conflict"`
	Log          LogConfig          `yaml:"log"`
}

type LocalStoreConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

type RemoteConfig struct {
	URL     string   `yaml:"url"`
	Timeout Duration `yaml:"timeout"`
}

type SyncConfig struct {
	RetryDelay  Duration `yaml:"retryDelay"`
	EntityKinds []string `yaml:"entityKinds"`
}

// ConnectivityConfig controls how reachability is detected. An empty
// ProbeAddress is derived from Remote.URL; an empty StateFile disables the
// file watcher.
type ConnectivityConfig struct {
	ProbeAddress  string   `yaml:"probeAddress"`
	ProbeInterval Duration `yaml:"probeInterval"`
	ProbeTimeout  Duration `yaml:"probeTimeout"`
	StateFile     string   `yaml:"stateFile"`
}

// ConflictConfig lists the kinds whose updates are checked against the
// remote version before being written.
type ConflictConfig struct {
	ReconcileKinds []string `yaml:"reconcileKinds"`
	PreserveFields []string `yaml:"preserveFields"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		LocalStore: LocalStoreConfig{
			Driver: "sqlite",
			Path:   "./fieldsync.db",
		},
		Remote: RemoteConfig{
			Timeout: Duration(10 * time.Second),
		},
		Sync: SyncConfig{
			RetryDelay:  Duration(time.Second),
			EntityKinds: []string{"tasks", "crew", "formTemplates", "formSubmissions"},
		},
		Connectivity: ConnectivityConfig{
			ProbeInterval: Duration(30 * time.Second),
			ProbeTimeout:  Duration(3 * time.Second),
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// Load reads the file at path. An empty path returns Default().
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, &Error{Code: ErrCodeRead, Path: path, Message: "cannot read config file", Err: err}
	}
	cfg, err := Parse(data)
	if err != nil {
		var cerr *Error
		if errors.As(err, &cerr) && cerr.Path == "" {
			cerr.Path = path
		}
		return Config{}, err
	}
	return cfg, nil
}

// Parse validates data against the schema and decodes it over Default().
func Parse(data []byte) (Config, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Config{}, &Error{Code: ErrCodeParse, Message: "invalid YAML", Err: err}
	}
	if err := validateSchema(raw); err != nil {
		return Config{}, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, &Error{Code: ErrCodeParse, Message: "cannot decode config", Err: err}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validateSchema(raw map[string]any) error {
	if len(raw) == 0 {
		return nil
	}
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource).LookupPath(cue.ParsePath("#Config"))
	if err := schema.Err(); err != nil {
		return &Error{Code: ErrCodeSchema, Message: "schema does not compile", Err: err}
	}
	value := schema.Unify(ctx.Encode(raw))
	if err := value.Validate(cue.Concrete(true)); err != nil {
		return &Error{Code: ErrCodeSchema, Message: err.Error(), Err: err}
	}
	return nil
}

// Validate checks constraints that span sections.
func (c Config) Validate() error {
	if len(c.Sync.EntityKinds) == 0 {
		return &Error{Code: ErrCodeInvalid, Message: "sync.entityKinds must not be empty"}
	}
	for _, kind := range c.Conflict.ReconcileKinds {
		if !slices.Contains(c.Sync.EntityKinds, kind) {
			return &Error{
				Code:    ErrCodeInvalid,
				Message: fmt.Sprintf("conflict.reconcileKinds: %q is not in sync.entityKinds", kind),
			}
		}
	}
	if c.LocalStore.Driver != "memory" && c.LocalStore.Path == "" {
		return &Error{Code: ErrCodeInvalid, Message: "localStore.path is required for driver " + c.LocalStore.Driver}
	}
	if c.Connectivity.ProbeInterval.Std() <= 0 {
		return &Error{Code: ErrCodeInvalid, Message: "connectivity.probeInterval must be positive"}
	}
	return nil
}

// IsConfigError reports whether err is a configuration error.
func IsConfigError(err error) bool {
	var cerr *Error
	return errors.As(err, &cerr)
}
