// Package config loads the daemon's YAML configuration file, matching the
// schema spec.md §6 defines: server, authority, recursor, forwarder,
// vg_ctrl (dynamic-update control plane), and metrics sections.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Server controls the client-facing listener.
type Server struct {
	Address   string `yaml:"address"`
	EnableTCP bool   `yaml:"enable_tcp"`
}

// ZoneConfig names one zone file to load into the authoritative store.
type ZoneConfig struct {
	Name     string `yaml:"name"`
	FilePath string `yaml:"file_path"`
}

// Authority lists the zones served authoritatively.
type Authority struct {
	Zones []ZoneConfig `yaml:"zones"`
}

// Recursor toggles the iterative engine. Disabling it leaves the server
// answering only from the authoritative store: forwarding runs through the
// engine, so it is off as well.
type Recursor struct {
	Enable bool `yaml:"enable"`
}

// ForwarderZone names the upstream addresses a forwarding suffix resolves
// through, instead of iterative resolution.
type ForwarderZone struct {
	ZoneName  string   `yaml:"zone_name"`
	Addresses []string `yaml:"addresses"`
}

// Forwarder lists every configured forwarding suffix.
type Forwarder struct {
	Forwarders []ForwarderZone `yaml:"forwarders"`
}

// VGCtrl is the dynamic-update control-plane listener address.
type VGCtrl struct {
	Address string `yaml:"address"`
}

// Metrics is the Prometheus/statistics listener address.
type Metrics struct {
	Address string `yaml:"address"`
}

// Config is the fully parsed daemon configuration.
type Config struct {
	Server    Server    `yaml:"server"`
	Authority Authority `yaml:"authority"`
	Recursor  Recursor  `yaml:"recursor"`
	Forwarder Forwarder `yaml:"forwarder"`
	VGCtrl    VGCtrl    `yaml:"vg_ctrl"`
	Metrics   Metrics   `yaml:"metrics"`
}

// Load reads and parses the YAML configuration file at path, then validates
// it with Validate.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports a configuration error for any section whose required
// fields are missing or inconsistent.
func (c *Config) Validate() error {
	if c.Server.Address == "" {
		return fmt.Errorf("config: server.address is required")
	}
	for _, z := range c.Authority.Zones {
		if z.Name == "" || z.FilePath == "" {
			return fmt.Errorf("config: authority.zones entries require name and file_path")
		}
	}
	for _, f := range c.Forwarder.Forwarders {
		if f.ZoneName == "" || len(f.Addresses) == 0 {
			return fmt.Errorf("config: forwarder.forwarders entries require zone_name and at least one address")
		}
	}
	return nil
}

// ForwarderZoneMap converts the forwarder section into the map shape
// forwarder.New expects.
func (c *Config) ForwarderZoneMap() map[string][]string {
	out := make(map[string][]string, len(c.Forwarder.Forwarders))
	for _, f := range c.Forwarder.Forwarders {
		out[f.ZoneName] = f.Addresses
	}
	return out
}
