// Package resetcfg persists the per-host reset configuration: which devices
// exist, their families and topology roles, Galaxy motherboard wiring, and
// reporting flags. Entries are keyed by stable device identifiers (PCI BDF)
// so the file stays valid when chips re-order on the bus.
package resetcfg

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ErrMalformedConfig means the file exists but does not decode into the
// expected shape. It is never silently coerced into defaults.
var ErrMalformedConfig = errors.New("resetcfg: malformed reset config")

// Role describes a device's place in the board topology.
type Role string

const (
	RoleStandalone   Role = "standalone"
	RoleNBHost       Role = "nb"
	RoleGalaxyMember Role = "galaxy-member"
)

// DeviceEntry is the persisted record for one device.
type DeviceEntry struct {
	Family              string     `json:"family"`
	Role                Role       `json:"role"`
	LastSuccessfulReset *time.Time `json:"last_successful_reset,omitempty"`
	ReportSWVersion     bool       `json:"report_sw_version"`
}

// MoboReset describes one Galaxy motherboard and the neighbor-board hosts
// wired to it.
type MoboReset struct {
	Mobo          string   `json:"mobo"`
	NBHostIDs     []string `json:"nb_host_ids,omitempty"`
	Credo         []string `json:"credo,omitempty"`
	DisabledPorts []string `json:"disabled_ports,omitempty"`
}

// Config is the on-disk reset configuration for one host.
type Config struct {
	Hostname               string                 `json:"host_name"`
	GeneratedAt            time.Time              `json:"time"`
	Devices                map[string]DeviceEntry `json:"devices"`
	MoboResets             []MoboReset            `json:"wh_mobo_reset,omitempty"`
	ReinitDevices          bool                   `json:"re_init_devices"`
	DisableSerialReport    bool                   `json:"disable_serial_report"`
	DisableSWVersionReport bool                   `json:"disable_sw_version_report"`
}

// Default returns an empty config for the given host.
func Default(hostname string) *Config {
	return &Config{
		Hostname:      hostname,
		GeneratedAt:   time.Now().UTC(),
		Devices:       map[string]DeviceEntry{},
		ReinitDevices: true,
	}
}

// DefaultPath returns the per-user location of the reset config file.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "reset_config.json"
	}
	return filepath.Join(home, ".config", "tenstorrent", "reset_config.json")
}

// Store reads and writes one reset config file. The path is threaded through
// the constructor so tests can run against isolated temp files concurrently.
type Store struct {
	path string
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Path() string { return s.path }

// Load reads the config. A missing file yields a freshly created default
// (parent directories are made as needed) and created=true. A present but
// invalid file yields ErrMalformedConfig — absence and corruption are
// distinct conditions.
func (s *Store) Load(hostname string) (cfg *Config, created bool, err error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		cfg = Default(hostname)
		if err := s.Save(cfg); err != nil {
			return nil, false, err
		}
		return cfg, true, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("resetcfg: read %s: %w", s.path, err)
	}

	cfg = &Config{}
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, false, fmt.Errorf("%w: %s: %v", ErrMalformedConfig, s.path, err)
	}
	if cfg.Devices == nil {
		cfg.Devices = map[string]DeviceEntry{}
	}
	return cfg, false, nil
}

// Save writes the config atomically: marshal to a temp file in the target
// directory, fsync, then rename over the destination. A crash mid-write
// never leaves a truncated config behind.
func (s *Store) Save(cfg *Config) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("resetcfg: create %s: %w", dir, err)
	}

	data, err := json.MarshalIndent(cfg, "", "    ")
	if err != nil {
		return fmt.Errorf("resetcfg: encode: %w", err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(dir, ".reset_config-*.json")
	if err != nil {
		return fmt.Errorf("resetcfg: temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("resetcfg: write %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("resetcfg: sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("resetcfg: close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("resetcfg: rename into place: %w", err)
	}
	return nil
}

// MarkReset records a successful reset time for a device entry, creating the
// entry if the device was not yet known.
func (c *Config) MarkReset(key, family string, role Role, at time.Time) {
	entry := c.Devices[key]
	entry.Family = family
	entry.Role = role
	t := at.UTC()
	entry.LastSuccessfulReset = &t
	c.Devices[key] = entry
}

// NBHostIDs collects the de-duplicated neighbor-board host ids across all
// mobo entries.
func (c *Config) NBHostIDs() []string {
	seen := map[string]bool{}
	var out []string
	for _, m := range c.MoboResets {
		for _, id := range m.NBHostIDs {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	return out
}

// ParseResetInput accepts either a path to a reset config JSON file or a
// comma-separated list of device indices, matching the original CLI
// contract. Exactly one of the return values is non-zero.
func ParseResetInput(value, hostname string) (*Config, []int, error) {
	if _, err := os.Stat(value); err == nil {
		cfg, _, err := NewStore(value).Load(hostname)
		if err != nil {
			return nil, nil, err
		}
		return cfg, nil, nil
	}

	var indices []int
	for _, part := range strings.Split(value, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, nil, fmt.Errorf("resetcfg: invalid input %q: provide a comma-separated list of device indices or a reset config json file", value)
		}
		indices = append(indices, n)
	}
	return nil, indices, nil
}
