package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/rudransh-shrivastava/swapbytes/internal/logger"
	"github.com/rudransh-shrivastava/swapbytes/internal/protocol"
)

const FileName = "swapbytes.toml"

// Config holds node configuration
type Config struct {
	Listen       []string        `toml:"listen"`
	DataDir      string          `toml:"data_dir"`
	LogDir       string          `toml:"log_dir"`
	LogLevel     string          `toml:"log_level"`
	Username     string          `toml:"username"`
	IdentityFile string          `toml:"identity_file"`
	Database     string          `toml:"database"`
	MetricsAddr  string          `toml:"metrics_addr"`
	Discovery    DiscoveryConfig `toml:"discovery"`
	Rooms        RoomsConfig     `toml:"rooms"`
}

// DiscoveryConfig holds mDNS and DHT settings
type DiscoveryConfig struct {
	MDNSService   string   `toml:"mdns_service"`
	DisableMDNS   bool     `toml:"disable_mdns"`
	DHTPrefix     string   `toml:"dht_protocol_prefix"`
	TTL           Duration `toml:"ttl"`
	SweepInterval Duration `toml:"sweep_interval"`
}

// RoomsConfig holds the rooms joined at startup
type RoomsConfig struct {
	Default []string `toml:"default"`
}

// Duration wraps time.Duration for TOML parsing
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler
func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

func Default() *Config {
	return &Config{
		Listen:   []string{"/ip4/0.0.0.0/tcp/0", "/ip4/0.0.0.0/udp/0/quic-v1"},
		DataDir:  ".swapbytes",
		LogDir:   "Logs",
		LogLevel: "info",
		Discovery: DiscoveryConfig{
			MDNSService:   "swapbytes",
			DHTPrefix:     protocol.DHTProtocolPrefix,
			TTL:           Duration{2 * time.Minute},
			SweepInterval: Duration{15 * time.Second},
		},
		Rooms: RoomsConfig{
			Default: append([]string(nil), protocol.DefaultRooms...),
		},
	}
}

// LoadFromFile loads configuration from path.
// Returns default config if the file doesn't exist.
func LoadFromFile(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// Overrides carries command-line values. Zero values leave the config as is.
type Overrides struct {
	Listen      []string
	DataDir     string
	LogDir      string
	LogLevel    string
	Username    string
	MetricsAddr string
	NoMDNS      bool
}

// Merge applies command-line flags; flags take precedence over file values.
func (c *Config) Merge(o Overrides) {
	if len(o.Listen) > 0 {
		c.Listen = o.Listen
	}
	if o.DataDir != "" {
		c.DataDir = o.DataDir
	}
	if o.LogDir != "" {
		c.LogDir = o.LogDir
	}
	if o.LogLevel != "" {
		c.LogLevel = o.LogLevel
	}
	if o.Username != "" {
		c.Username = o.Username
	}
	if o.MetricsAddr != "" {
		c.MetricsAddr = o.MetricsAddr
	}
	if o.NoMDNS {
		c.Discovery.DisableMDNS = true
	}
}

// IdentityPath returns the identity key location, defaulting into DataDir.
func (c *Config) IdentityPath() string {
	if c.IdentityFile != "" {
		return c.IdentityFile
	}
	return filepath.Join(c.DataDir, "identity.key")
}

// DatabasePath returns the transfer ledger location, defaulting into DataDir.
func (c *Config) DatabasePath() string {
	if c.Database != "" {
		return c.Database
	}
	return filepath.Join(c.DataDir, "swapbytes.sqlite3")
}

// ListenAddrs parses Listen into multiaddrs.
func (c *Config) ListenAddrs() ([]ma.Multiaddr, error) {
	addrs := make([]ma.Multiaddr, 0, len(c.Listen))
	for _, s := range c.Listen {
		addr, err := ma.NewMultiaddr(s)
		if err != nil {
			return nil, fmt.Errorf("listen address %q: %w", s, err)
		}
		addrs = append(addrs, addr)
	}
	return addrs, nil
}

// Validate checks if configuration values are valid
func (c *Config) Validate() error {
	if len(c.Listen) == 0 {
		return errors.New("at least one listen address is required")
	}
	if _, err := c.ListenAddrs(); err != nil {
		return err
	}
	if c.DataDir == "" {
		return errors.New("data_dir must not be empty")
	}
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.Discovery.MDNSService == "" {
		return errors.New("discovery.mdns_service must not be empty")
	}
	if c.Discovery.TTL.Duration <= 0 {
		return fmt.Errorf("discovery.ttl must be positive, got %s", c.Discovery.TTL)
	}
	if c.Discovery.SweepInterval.Duration <= 0 {
		return fmt.Errorf("discovery.sweep_interval must be positive, got %s", c.Discovery.SweepInterval)
	}
	for _, room := range c.Rooms.Default {
		if err := protocol.ValidateRoomName(room); err != nil {
			return fmt.Errorf("rooms.default: %w", err)
		}
	}
	return nil
}
