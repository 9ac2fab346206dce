// Package config provides the configuration system for Tidemill.
// Configuration is loaded once per run from a hierarchical YAML document,
// with ${VAR} environment substitution applied before decoding, and is
// read-only afterwards. Typed sections feed each component; a dot-path
// Get covers untyped access.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tidemill-io/tidemill/pkg/errors"
)

// SourceType identifies the kind of a configured data source. The set is
// closed: decoding any other value is a configuration error.
type SourceType string

const (
	SourceTypePostgres SourceType = "postgresql"
	SourceTypeMySQL    SourceType = "mysql"
	SourceTypeAPI      SourceType = "api"
	SourceTypeFile     SourceType = "file"
)

// SourceTypes lists every supported source kind.
func SourceTypes() []SourceType {
	return []SourceType{SourceTypePostgres, SourceTypeMySQL, SourceTypeAPI, SourceTypeFile}
}

// UnmarshalYAML enforces the closed source-type set at decode time.
func (t *SourceType) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	switch SourceType(s) {
	case SourceTypePostgres, SourceTypeMySQL, SourceTypeAPI, SourceTypeFile:
		*t = SourceType(s)
		return nil
	}
	return errors.Newf(errors.ErrorTypeConfig, "unsupported source type %q", s)
}

// SourceSpec describes one configured data source.
type SourceSpec struct {
	Name string     `yaml:"name"`
	Type SourceType `yaml:"type"`

	// Database sources
	Connection string `yaml:"connection"`
	Query      string `yaml:"query"`
	Table      string `yaml:"table"`

	// API sources
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`

	// File sources
	Path   string `yaml:"path"`
	Format string `yaml:"format"` // csv or json; inferred from Path when empty

	// Optional capability variants
	ChunkSize       int    `yaml:"chunk_size"`
	WatermarkColumn string `yaml:"watermark_column"`
	LastRun         string `yaml:"last_run"`
}

// Directories holds the pipeline working directories.
type Directories struct {
	Staging string `yaml:"staging"`
	Output  string `yaml:"output"`
	Temp    string `yaml:"temp"`
}

// Database holds target database settings. User, password and host support
// ${VAR} environment placeholders.
type Database struct {
	Driver   string `yaml:"driver"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"sslmode"`
}

// DSN builds a connection string for the configured driver.
func (d Database) DSN() string {
	sslmode := d.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, sslmode)
}

// TransformStage configures the transform stage.
type TransformStage struct {
	SQLQueries []string `yaml:"sql_queries"`
}

// LoadStage configures the load stage.
type LoadStage struct {
	TargetTables []string `yaml:"target_tables"`
}

// Stages groups per-stage settings.
type Stages struct {
	Transform TransformStage `yaml:"transform"`
	Load      LoadStage      `yaml:"load"`
}

// Pipeline groups pipeline-level settings.
type Pipeline struct {
	Stages Stages `yaml:"stages"`
}

// Validation holds structural rules applied to transformed datasets.
type Validation struct {
	RequiredColumns map[string][]string `yaml:"required_columns"`
	NonNullColumns  map[string][]string `yaml:"non_null_columns"`
	MinRows         int                 `yaml:"min_rows"`
	MaxRows         int                 `yaml:"max_rows"`
}

// Logging holds log sink settings.
type Logging struct {
	Level    string `yaml:"level"`
	Encoding string `yaml:"encoding"`
	File     string `yaml:"file"`
}

// API holds settings shared by API extractions.
type API struct {
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// Timeout returns the API request timeout.
func (a API) Timeout() time.Duration {
	if a.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(a.TimeoutSeconds) * time.Second
}

// Config is the root configuration, immutable after Load.
type Config struct {
	Environment string       `yaml:"environment"`
	Directories Directories  `yaml:"directories"`
	Sources     []SourceSpec `yaml:"sources"`
	Database    Database     `yaml:"database"`
	Pipeline    Pipeline     `yaml:"pipeline"`
	Validation  Validation   `yaml:"validation"`
	Logging     Logging      `yaml:"logging"`
	API         API          `yaml:"api"`

	raw map[string]interface{}
}

// Load reads a YAML configuration file, substitutes ${VAR} placeholders from
// the environment, and decodes it.
func Load(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath) //nolint:gosec // G304: path is operator-supplied
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to read config file")
	}

	content := substituteEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(content), &cfg); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to parse YAML")
	}

	var raw map[string]interface{}
	if err := yaml.Unmarshal([]byte(content), &raw); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to parse YAML")
	}
	cfg.raw = raw

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Directories.Staging == "" {
		cfg.Directories.Staging = "data/staging"
	}
	if cfg.Directories.Output == "" {
		cfg.Directories.Output = "data/output"
	}
	if cfg.Directories.Temp == "" {
		cfg.Directories.Temp = "data/temp"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// Get walks the raw document by dot-separated path and returns the value,
// or def when any segment is absent or the structure mismatches.
func (c *Config) Get(key string, def interface{}) interface{} {
	var cur interface{} = c.raw
	for _, part := range strings.Split(key, ".") {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return def
		}
		cur, ok = m[part]
		if !ok {
			return def
		}
	}
	return cur
}

// GetString is a typed convenience over Get.
func (c *Config) GetString(key, def string) string {
	if v, ok := c.Get(key, def).(string); ok {
		return v
	}
	return def
}

// substituteEnvVars replaces ${VAR_NAME} with environment variable values.
// Placeholders naming unset variables pass through unchanged.
func substituteEnvVars(content string) string {
	var b strings.Builder
	for {
		start := strings.Index(content, "${")
		if start == -1 {
			break
		}
		end := strings.Index(content[start:], "}")
		if end == -1 {
			break
		}
		end += start

		b.WriteString(content[:start])
		varName := content[start+2 : end]
		if value, ok := os.LookupEnv(varName); ok {
			b.WriteString(value)
		} else {
			b.WriteString(content[start : end+1])
		}
		content = content[end+1:]
	}
	b.WriteString(content)
	return b.String()
}
