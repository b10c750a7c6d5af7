// Package config holds the static device configuration.
//
// Config is read once at startup from $APSTA_CONFIG, falling back to
// /etc/apsta/apsta.yaml. A missing file yields the built-in defaults, which
// match the reference device: it hosts "Device1" on 192.168.5.1/24 and joins
// "Device2" as a station.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	envConfigPath     = "APSTA_CONFIG"
	defaultConfigPath = "/etc/apsta/apsta.yaml"

	// minPassphraseLen is the WPA2-PSK lower bound.
	minPassphraseLen = 8
	maxSSIDLen       = 32
)

// Auth modes reported by AccessPoint.AuthMode.
const (
	AuthOpen       = "open"
	AuthWPAWPA2PSK = "wpa-wpa2-psk"
)

// AccessPoint describes the hosted network.
type AccessPoint struct {
	Interface string `yaml:"interface"`
	SSID      string `yaml:"ssid"`
	Password  string `yaml:"password"`
	MaxPeers  int    `yaml:"max_peers"`
	// Address is the static host prefix; it doubles as the gateway.
	Address string `yaml:"address"`
}

// AuthMode returns open for an empty password and WPA/WPA2-PSK otherwise.
func (a AccessPoint) AuthMode() string {
	if a.Password == "" {
		return AuthOpen
	}
	return AuthWPAWPA2PSK
}

// Prefix parses Address.
func (a AccessPoint) Prefix() (netip.Prefix, error) {
	p, err := netip.ParsePrefix(strings.TrimSpace(a.Address))
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("parse access point address: %w", err)
	}
	return p, nil
}

// Station describes the upstream network to join.
type Station struct {
	Interface  string `yaml:"interface"`
	SSID       string `yaml:"ssid"`
	Password   string `yaml:"password"`
	MaxRetries int    `yaml:"max_retries"`
}

// Route is a fixed-body GET route served by the endpoint.
type Route struct {
	Path string `yaml:"path"`
	Body string `yaml:"body"`
}

// Endpoint configures the HTTP request endpoint.
type Endpoint struct {
	Listen    string  `yaml:"listen"`
	Routes    []Route `yaml:"routes"`
	Metrics   bool    `yaml:"metrics"`
	Advertise bool    `yaml:"advertise"`
}

// Outbound configures the one-shot request issued after startup.
// An empty URL disables it.
type Outbound struct {
	URL     string        `yaml:"url"`
	Delay   time.Duration `yaml:"delay"`
	Timeout time.Duration `yaml:"timeout"`
}

// Journal configures the on-disk event journal. An empty path disables it.
type Journal struct {
	Path string `yaml:"path"`
}

// TimeSync configures the NTP check run after the station gets an address.
// An empty server disables it.
type TimeSync struct {
	Server    string        `yaml:"server"`
	Threshold time.Duration `yaml:"threshold"`
}

// Log configures the process logger.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config is the complete device configuration.
type Config struct {
	AccessPoint AccessPoint `yaml:"access_point"`
	Station     Station     `yaml:"station"`
	Endpoint    Endpoint    `yaml:"endpoint"`
	Outbound    Outbound    `yaml:"outbound"`
	Journal     Journal     `yaml:"journal"`
	TimeSync    TimeSync    `yaml:"timesync"`
	Log         Log         `yaml:"log"`
}

// Default returns the reference device configuration.
func Default() Config {
	return Config{
		AccessPoint: AccessPoint{
			Interface: "wlan1",
			SSID:      "Device1",
			Password:  "12345678",
			MaxPeers:  4,
			Address:   "192.168.5.1/24",
		},
		Station: Station{
			Interface:  "wlan0",
			SSID:       "Device2",
			Password:   "12345678",
			MaxRetries: 3,
		},
		Endpoint: Endpoint{
			Listen:  ":80",
			Routes:  []Route{{Path: "/hello", Body: "Hello"}},
			Metrics: true,
		},
		Outbound: Outbound{
			URL:     "http://192.168.7.1/hello",
			Delay:   20 * time.Second,
			Timeout: 5 * time.Second,
		},
		TimeSync: TimeSync{
			Threshold: 500 * time.Millisecond,
		},
		Log: Log{
			Level:  "info",
			Format: "text",
		},
	}
}

// Path returns the config file location. It respects APSTA_CONFIG.
func Path() string {
	if p := strings.TrimSpace(os.Getenv(envConfigPath)); p != "" {
		return p
	}
	return defaultConfigPath
}

// Load reads the config file at path, layered over Default. If the file does
// not exist the defaults are returned (not an error).
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Save writes the config to path, creating directories as needed.
func (c Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	// Holds network passphrases.
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Validate reports every problem found, joined.
func (c Config) Validate() error {
	var errs []error

	errs = append(errs, validateNetwork("access_point", c.AccessPoint.SSID, c.AccessPoint.Password)...)
	if c.AccessPoint.MaxPeers < 1 {
		errs = append(errs, fmt.Errorf("access_point.max_peers must be at least 1, got %d", c.AccessPoint.MaxPeers))
	}
	if _, err := c.AccessPoint.Prefix(); err != nil {
		errs = append(errs, err)
	}

	errs = append(errs, validateNetwork("station", c.Station.SSID, c.Station.Password)...)
	if c.Station.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("station.max_retries must not be negative, got %d", c.Station.MaxRetries))
	}

	if strings.TrimSpace(c.Endpoint.Listen) == "" {
		errs = append(errs, errors.New("endpoint.listen is required"))
	}
	for i, r := range c.Endpoint.Routes {
		if !strings.HasPrefix(r.Path, "/") {
			errs = append(errs, fmt.Errorf("endpoint.routes[%d].path %q must start with /", i, r.Path))
		}
	}

	if c.Outbound.URL != "" {
		u, err := url.Parse(c.Outbound.URL)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("outbound.url: %w", err))
		case u.Scheme != "http" && u.Scheme != "https", u.Host == "":
			errs = append(errs, fmt.Errorf("outbound.url %q must be an absolute http(s) url", c.Outbound.URL))
		}
	}
	if c.Outbound.Delay < 0 {
		errs = append(errs, fmt.Errorf("outbound.delay must not be negative, got %s", c.Outbound.Delay))
	}
	if c.Outbound.Timeout < 0 {
		errs = append(errs, fmt.Errorf("outbound.timeout must not be negative, got %s", c.Outbound.Timeout))
	}
	if c.TimeSync.Threshold < 0 {
		errs = append(errs, fmt.Errorf("timesync.threshold must not be negative, got %s", c.TimeSync.Threshold))
	}

	return errors.Join(errs...)
}

func validateNetwork(section, ssid, password string) []error {
	var errs []error
	if ssid == "" {
		errs = append(errs, fmt.Errorf("%s.ssid is required", section))
	}
	if len(ssid) > maxSSIDLen {
		errs = append(errs, fmt.Errorf("%s.ssid is longer than %d bytes", section, maxSSIDLen))
	}
	if password != "" && len(password) < minPassphraseLen {
		errs = append(errs, fmt.Errorf("%s.password must be empty or at least %d characters", section, minPassphraseLen))
	}
	return errs
}
