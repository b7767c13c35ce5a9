package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultBootstrapAddr   = "127.0.0.1:55555"
	DefaultPortMin         = 49152
	DefaultPortMax         = 65535
	DefaultRefreshInterval = 300 * time.Second
	DefaultReadTimeout     = time.Second
	DefaultRecvBufferSize  = 1_000_000
	DefaultQueueSize       = 1024
	DefaultRegistryCap     = 1024
	DefaultMaxIntroduce    = 64
	DefaultIntroduceRate   = 500
	DefaultIntroduceBurst  = 64
	DefaultJoinRate        = 5
	DefaultJoinBurst       = 10
)

// Duration reads YAML values such as "300s" or "5m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("bad duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d Duration) D() time.Duration {
	return time.Duration(d)
}

// Config holds the node settings. Zero values are filled from the defaults.
type Config struct {
	Route           uint8    `yaml:"route"`
	ListenAddr      string   `yaml:"listen_addr"`
	BootstrapAddr   string   `yaml:"bootstrap_addr"`
	PortMin         int      `yaml:"port_min"`
	PortMax         int      `yaml:"port_max"`
	RefreshInterval Duration `yaml:"refresh_interval"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	RecvBufferSize  int      `yaml:"recv_buffer_size"`
	QueueSize       int      `yaml:"queue_size"`
	RegistryCap     int      `yaml:"registry_cap"`
	MaxIntroduce    int      `yaml:"max_introductions"`
	IntroduceRate   float64  `yaml:"introduce_rate"`
	IntroduceBurst  int      `yaml:"introduce_burst"`
	JoinRate        float64  `yaml:"join_rate"`
	JoinBurst       int      `yaml:"join_burst"`
	KeyDir          string   `yaml:"key_dir"`
	MetricsAddr     string   `yaml:"metrics_addr"`
	MetricsPath     string   `yaml:"metrics_path"`
	PprofAddr       string   `yaml:"pprof_addr"`
	LogLevel        string   `yaml:"log_level"`
}

// DefaultPath returns ~/.pulsar/config.yaml.
func DefaultPath() string {
	return filepath.Join(HomeDir(), "config.yaml")
}

func HomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".pulsar")
	}
	return filepath.Join(home, ".pulsar")
}

func Default() *Config {
	cfg := preset()
	cfg.ApplyDefaults()
	return cfg
}

// preset holds the fields whose zero value is meaningful in a file and so
// cannot be filled in after decoding. max_introductions: 0 turns
// introductions off.
func preset() *Config {
	return &Config{Route: 1, MaxIntroduce: DefaultMaxIntroduce}
}

// Load reads the YAML file at path. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := preset()
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		cfg.ApplyDefaults()
		return cfg, nil
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) ApplyDefaults() {
	if c.BootstrapAddr == "" {
		c.BootstrapAddr = DefaultBootstrapAddr
	}
	if c.PortMin == 0 {
		c.PortMin = DefaultPortMin
	}
	if c.PortMax == 0 {
		c.PortMax = DefaultPortMax
	}
	if c.RefreshInterval == 0 {
		c.RefreshInterval = Duration(DefaultRefreshInterval)
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = Duration(DefaultReadTimeout)
	}
	if c.RecvBufferSize == 0 {
		c.RecvBufferSize = DefaultRecvBufferSize
	}
	if c.QueueSize == 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.RegistryCap == 0 {
		c.RegistryCap = DefaultRegistryCap
	}
	if c.IntroduceRate == 0 {
		c.IntroduceRate = DefaultIntroduceRate
	}
	if c.IntroduceBurst == 0 {
		c.IntroduceBurst = DefaultIntroduceBurst
	}
	if c.JoinRate == 0 {
		c.JoinRate = DefaultJoinRate
	}
	if c.JoinBurst == 0 {
		c.JoinBurst = DefaultJoinBurst
	}
	if c.KeyDir == "" {
		c.KeyDir = HomeDir()
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

func (c *Config) Validate() error {
	if c.Route == 0 {
		return errors.New("route must be in 1..255")
	}
	if _, err := netip.ParseAddrPort(c.BootstrapAddr); err != nil {
		return fmt.Errorf("bad bootstrap_addr: %w", err)
	}
	if c.ListenAddr != "" {
		if _, err := netip.ParseAddrPort(c.ListenAddr); err != nil {
			return fmt.Errorf("bad listen_addr: %w", err)
		}
	}
	if c.PortMin < 1 || c.PortMax > 65536 || c.PortMin >= c.PortMax {
		return fmt.Errorf("bad port range [%d, %d)", c.PortMin, c.PortMax)
	}
	if c.RefreshInterval.D() <= 0 || c.ReadTimeout.D() <= 0 {
		return errors.New("refresh_interval and read_timeout must be positive")
	}
	if c.RecvBufferSize < 1<<10 {
		return fmt.Errorf("recv_buffer_size too small: %d", c.RecvBufferSize)
	}
	if c.QueueSize < 1 || c.RegistryCap < 1 {
		return errors.New("queue_size and registry_cap must be positive")
	}
	if c.MaxIntroduce < 0 {
		return fmt.Errorf("max_introductions must be 0 (off) or positive, got %d", c.MaxIntroduce)
	}
	return nil
}
