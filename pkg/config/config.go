// Package config holds the agent configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/newtron-network/hwagent/pkg/hw/asicdb"
	"github.com/newtron-network/hwagent/pkg/util"
)

// Backends.
const (
	BackendSim    = "sim"
	BackendAsicDB = "asicdb"
)

// Config is the agent configuration.
type Config struct {
	// SwitchID is used by the sim backend; asicdb discovers it.
	SwitchID string `yaml:"switch_id,omitempty"`
	Backend  string `yaml:"backend,omitempty"`

	Redis RedisConfig `yaml:"redis,omitempty"`
	SSH   SSHConfig   `yaml:"ssh,omitempty"`

	// StaticL2ForNeighbors programs a static MAC entry per resolved neighbor.
	StaticL2ForNeighbors bool `yaml:"static_l2_for_neighbors,omitempty"`

	// Lags defines aggregates for the sim backend's link state.
	Lags []LagConfig `yaml:"lags,omitempty"`

	Log   LogConfig   `yaml:"log,omitempty"`
	Audit AuditConfig `yaml:"audit,omitempty"`

	MetricsAddr string `yaml:"metrics_addr,omitempty"`
	SpoolDir    string `yaml:"spool_dir,omitempty"`
	StateFile   string `yaml:"state_file,omitempty"`
}

// RedisConfig locates the switch's Redis.
type RedisConfig struct {
	Addr   string `yaml:"addr,omitempty"`
	AsicDB int    `yaml:"asic_db,omitempty"`
}

// SSHConfig enables an SSH tunnel to a switch whose Redis listens on
// loopback only. The password is prompted for when empty.
type SSHConfig struct {
	Host           string `yaml:"host,omitempty"`
	Port           int    `yaml:"port,omitempty"`
	User           string `yaml:"user,omitempty"`
	Password       string `yaml:"password,omitempty"`
	KnownHostsFile string `yaml:"known_hosts,omitempty"`
}

// LagConfig is one link aggregate.
type LagConfig struct {
	Name     string   `yaml:"name"`
	MinLinks int      `yaml:"min_links,omitempty"`
	Members  []string `yaml:"members"`
}

// LogConfig sets the logger up.
type LogConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"`
}

// AuditConfig sets up the audit log. An empty path disables it.
type AuditConfig struct {
	Path       string `yaml:"path,omitempty"`
	MaxSize    int64  `yaml:"max_size,omitempty"`
	MaxBackups int    `yaml:"max_backups,omitempty"`
}

// DefaultPath returns the default location of the configuration file.
func DefaultPath() string {
	if p := os.Getenv("HWAGENT_CONFIG"); p != "" {
		return p
	}
	return "/etc/hwagent/hwagent.yaml"
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	c := &Config{}
	c.ApplyDefaults()
	return c
}

// ApplyDefaults fills every unset field.
func (c *Config) ApplyDefaults() {
	if c.Backend == "" {
		c.Backend = BackendSim
	}
	if c.SwitchID == "" {
		c.SwitchID = "oid:0x21000000000000"
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "127.0.0.1:6379"
	}
	if c.Redis.AsicDB == 0 {
		c.Redis.AsicDB = asicdb.DefaultDB
	}
	if c.SSH.Host != "" {
		if c.SSH.Port == 0 {
			c.SSH.Port = 22
		}
		if c.SSH.User == "" {
			c.SSH.User = "admin"
		}
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Audit.Path != "" {
		if c.Audit.MaxSize == 0 {
			c.Audit.MaxSize = 10 << 20
		}
		if c.Audit.MaxBackups == 0 {
			c.Audit.MaxBackups = 5
		}
	}
	if c.SpoolDir == "" {
		c.SpoolDir = "/var/lib/hwagent/spool"
	}
	if c.StateFile == "" {
		c.StateFile = "/var/lib/hwagent/state.yaml"
	}
}

// Validate checks the configuration for inconsistent settings.
func (c *Config) Validate() error {
	v := &util.ValidationBuilder{}
	v.Add(c.Backend == BackendSim || c.Backend == BackendAsicDB,
		fmt.Sprintf("unknown backend %q (want %s or %s)", c.Backend, BackendSim, BackendAsicDB))
	v.Add(strings.HasPrefix(c.SwitchID, "oid:0x"), fmt.Sprintf("switch_id %q is not an OID", c.SwitchID))
	v.Add(c.Redis.AsicDB >= 0 && c.Redis.AsicDB < 16, fmt.Sprintf("asic_db %d out of range", c.Redis.AsicDB))
	v.Add(c.Log.Format == "text" || c.Log.Format == "json", fmt.Sprintf("unknown log format %q", c.Log.Format))
	if c.SSH.Host != "" {
		v.Add(c.Backend == BackendAsicDB, "ssh requires the asicdb backend")
		v.Add(c.SSH.Port > 0 && c.SSH.Port < 65536, fmt.Sprintf("ssh port %d out of range", c.SSH.Port))
	}
	seen := make(map[string]bool)
	for _, l := range c.Lags {
		v.Add(l.Name != "", "lag without a name")
		v.Add(!seen[l.Name], fmt.Sprintf("lag %s defined twice", l.Name))
		v.Add(len(l.Members) > 0, fmt.Sprintf("lag %s has no members", l.Name))
		v.Add(l.MinLinks <= len(l.Members), fmt.Sprintf("lag %s: min_links %d exceeds %d members", l.Name, l.MinLinks, len(l.Members)))
		seen[l.Name] = true
	}
	return v.Build()
}

// Load reads the configuration from the default location.
func Load() (*Config, error) {
	return LoadFrom(DefaultPath())
}

// LoadFrom reads, defaults and validates the configuration at path. A
// missing file yields the defaults.
func LoadFrom(path string) (*Config, error) {
	c := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if err == nil {
		if err := yaml.Unmarshal(data, c); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	c.ApplyDefaults()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// SaveTo writes the configuration to path. The SSH password is never
// written.
func (c *Config) SaveTo(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	out := *c
	out.SSH.Password = ""
	data, err := yaml.Marshal(&out)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
