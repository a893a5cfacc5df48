package config

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"bulkops/internal/dispatcher"
	"bulkops/internal/ratelimit"
)

// SchemaVersion is the only config schema this build understands.
const SchemaVersion = "v1"

// Environment variables holding secrets. Secrets are never read from the file.
const (
	EnvConfigPath   = "BULKOPS_CONFIG"
	EnvLinodeToken  = "LINODE_TOKEN"
	EnvObjAccessKey = "LINODE_OBJ_ACCESS_KEY"
	EnvObjSecretKey = "LINODE_OBJ_SECRET_KEY"
)

// Duration wraps time.Duration to support YAML unmarshalling from strings like "30s".
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration strings (or numbers representing nanoseconds).
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		d.Duration = 0
		return nil
	}

	if value.Kind == yaml.ScalarNode {
		var asInt int64
		if err := value.Decode(&asInt); err == nil {
			d.Duration = time.Duration(asInt)
			return nil
		}

		var asString string
		if err := value.Decode(&asString); err == nil {
			if asString == "" {
				d.Duration = 0
				return nil
			}
			parsed, err := time.ParseDuration(asString)
			if err != nil {
				return fmt.Errorf("invalid duration %q: %w", asString, err)
			}
			d.Duration = parsed
			return nil
		}
	}

	return fmt.Errorf("invalid duration value: %s", value.Value)
}

// Config is the root configuration document shared by every command.
type Config struct {
	SchemaVersion string        `yaml:"schemaVersion"`
	Dispatch      Dispatch      `yaml:"dispatch"`
	ObjectStorage ObjectStorage `yaml:"objectStorage"`
	Linode        Linode        `yaml:"linode"`
	Kubernetes    Kubernetes    `yaml:"kubernetes"`
	Metrics       Metrics       `yaml:"metrics"`
}

// Dispatch sizes the worker pool and the shared rate limit.
type Dispatch struct {
	Workers   int      `yaml:"workers"`
	Rate      int      `yaml:"rate"`
	Period    Duration `yaml:"period"`
	QueueSize int      `yaml:"queueSize"`
}

// UnmarshalYAML overlays the keys present in the document on the defaults
// already in d. An explicit zero is kept so validation can reject it, and
// rate and period only make sense as a pair.
func (d *Dispatch) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("dispatch: expected a mapping")
	}
	for i := 0; i < len(value.Content); i += 2 {
		switch key := value.Content[i].Value; key {
		case "workers", "rate", "period", "queueSize":
		default:
			return fmt.Errorf("dispatch: field %s not found", key)
		}
	}

	var raw struct {
		Workers   *int      `yaml:"workers"`
		Rate      *int      `yaml:"rate"`
		Period    *Duration `yaml:"period"`
		QueueSize *int      `yaml:"queueSize"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if (raw.Rate == nil) != (raw.Period == nil) {
		return fmt.Errorf("%w: dispatch rate and period must be set together", ratelimit.ErrInvalidConfiguration)
	}

	if raw.Workers != nil {
		d.Workers = *raw.Workers
	}
	if raw.Rate != nil {
		d.Rate = *raw.Rate
		d.Period = *raw.Period
	}
	if raw.QueueSize != nil {
		d.QueueSize = *raw.QueueSize
	}
	return nil
}

// DispatcherConfig converts the section for dispatcher.Run.
func (d Dispatch) DispatcherConfig() dispatcher.Config {
	return dispatcher.Config{
		Workers:   d.Workers,
		Rate:      d.Rate,
		Period:    d.Period.Duration,
		QueueSize: d.QueueSize,
	}
}

// ObjectStorage configures bulk uploads to a Linode Object Storage bucket.
type ObjectStorage struct {
	// Cluster is the OBJ cluster ID, e.g. "jp-osa-1". It doubles as the region.
	Cluster string `yaml:"cluster"`
	// Endpoint overrides https://<cluster>.linodeobjects.com.
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	SourceDir string `yaml:"sourceDir"`
	// KeyPrefix is prepended to every object key, e.g. "new_code/".
	KeyPrefix string `yaml:"keyPrefix"`
	// ACL is a canned ACL such as "private" or "public-read".
	ACL string `yaml:"acl"`
}

// EndpointURL is Endpoint, or the default endpoint derived from Cluster.
func (o ObjectStorage) EndpointURL() string {
	if o.Endpoint != "" {
		return o.Endpoint
	}
	return fmt.Sprintf("https://%s.linodeobjects.com", o.Cluster)
}

// Linode configures the commands working on Linode instances.
type Linode struct {
	// BaseURL overrides the API endpoint, mostly for testing.
	BaseURL string      `yaml:"baseURL"`
	Alerts  AlertConfig `yaml:"alerts"`
	Quota   QuotaConfig `yaml:"quota"`
}

// AlertConfig is the desired alert thresholds for every instance. Zero
// disables an alert.
type AlertConfig struct {
	CPU           int `yaml:"cpu"`
	IO            int `yaml:"io"`
	NetworkIn     int `yaml:"networkIn"`
	NetworkOut    int `yaml:"networkOut"`
	TransferQuota int `yaml:"transferQuota"`
}

// QuotaConfig drives the transfer-quota shutdown command.
type QuotaConfig struct {
	// ThresholdPercent of the monthly transfer quota that triggers shutdown.
	ThresholdPercent float64 `yaml:"thresholdPercent"`
	// ObjectStorageReductionGB is subtracted from the quota when Object
	// Storage is active on the account.
	ObjectStorageReductionGB int `yaml:"objectStorageReductionGB"`
	// SkipLabelPrefixes excludes instances whose label starts with any of
	// these, e.g. LKE worker nodes.
	SkipLabelPrefixes []string `yaml:"skipLabelPrefixes"`
	DryRun            bool     `yaml:"dryRun"`
}

// Kubernetes configures the node taint and label command.
type Kubernetes struct {
	Kubeconfig string `yaml:"kubeconfig"`
	// PoolID selects nodes by the lke.linode.com/pool-id label.
	PoolID string `yaml:"poolID"`
	// Taint is applied to nodes with no taints, as key=value:Effect.
	Taint string `yaml:"taint"`
	// Label is applied to nodes missing its key, as key=value.
	Label string `yaml:"label"`
}

// Metrics configures the optional Prometheus endpoint.
type Metrics struct {
	// Addr to serve /metrics on, e.g. ":9090". Empty disables it.
	Addr string `yaml:"addr"`
}

// DefaultDispatch fills the dispatch fields a config file leaves unset.
var DefaultDispatch = Dispatch{Workers: 4, Rate: 10, Period: Duration{time.Second}}

// Load reads and parses a configuration file from disk.
func Load(path string) (*Config, error) {
	return LoadWithDefaults(path, DefaultDispatch)
}

// LoadWithDefaults is Load with command-specific dispatch defaults, e.g. an
// API's documented request budget.
func LoadWithDefaults(path string, def Dispatch) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	return decode(f, def)
}

// Parse reads a configuration document from r.
func Parse(r io.Reader) (*Config, error) {
	return decode(r, DefaultDispatch)
}

// decode unmarshals YAML into a Config while enforcing known fields.
func decode(r io.Reader, def Dispatch) (*Config, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	cfg := Config{Dispatch: def}
	if err := dec.Decode(&cfg); err != nil && err != io.EOF {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills the sections outside dispatch, whose defaults are
// seeded before decoding.
func (c *Config) applyDefaults() {
	if c.Linode.Quota.ThresholdPercent == 0 {
		c.Linode.Quota.ThresholdPercent = 90
	}
	if c.Linode.Quota.ObjectStorageReductionGB == 0 {
		c.Linode.Quota.ObjectStorageReductionGB = 1000
	}
	if c.Linode.Quota.SkipLabelPrefixes == nil {
		c.Linode.Quota.SkipLabelPrefixes = []string{"lke"}
	}
}

// Validate performs light integrity checks on the configuration. Sections
// only used by one command are checked by that command.
func (c *Config) Validate() error {
	if c.SchemaVersion == "" {
		return fmt.Errorf("schemaVersion is required")
	}
	if c.SchemaVersion != SchemaVersion {
		return fmt.Errorf("unsupported schemaVersion %q", c.SchemaVersion)
	}
	if err := c.Dispatch.DispatcherConfig().Validate(); err != nil {
		return fmt.Errorf("dispatch: %w", err)
	}
	if c.Dispatch.QueueSize < 0 {
		return fmt.Errorf("dispatch: queueSize must not be negative")
	}
	if p := c.Linode.Quota.ThresholdPercent; p < 0 || p > 100 {
		return fmt.Errorf("linode.quota.thresholdPercent must be within [0, 100], got %g", p)
	}
	return nil
}

// Validate checks the section needed by the upload command.
func (o ObjectStorage) Validate() error {
	switch {
	case o.Cluster == "" && o.Endpoint == "":
		return fmt.Errorf("objectStorage: cluster or endpoint is required")
	case o.Bucket == "":
		return fmt.Errorf("objectStorage: bucket is required")
	case o.SourceDir == "":
		return fmt.Errorf("objectStorage: sourceDir is required")
	}
	return nil
}

// Validate checks the section needed by the node taint command.
func (k Kubernetes) Validate() error {
	if k.PoolID == "" {
		return fmt.Errorf("kubernetes: poolID is required")
	}
	if k.Taint == "" && k.Label == "" {
		return fmt.Errorf("kubernetes: at least one of taint or label is required")
	}
	return nil
}

// RequireEnv returns the value of the environment variable name, or an error
// naming it when unset.
func RequireEnv(name string) (string, error) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return "", fmt.Errorf("environment variable %s is required", name)
	}
	return v, nil
}
