package config

import (
	"io"
	"os"
	"time"

	yaml "gopkg.in/yaml.v2"
)

type PanelConfig struct {
	Host                  string `yaml:"host"`
	Username              string `yaml:"username"`
	Password              string `yaml:"password"`
	Subsystem             int    `yaml:"subsystem"`
	RequestTimeoutSeconds int    `yaml:"requestTimeoutSeconds"`
}

type DatabaseConfig struct {
	FilePath string `yaml:"filePath"`
}

type ScannerConfig struct {
	PollIntervalSeconds     int `yaml:"pollIntervalSeconds"`
	PollJitterMillis        int `yaml:"pollJitterMillis"`
	DebounceSeconds         int `yaml:"debounceSeconds"`
	CooldownSeconds         int `yaml:"cooldownSeconds"`
	BurstCount              int `yaml:"burstCount"`
	BurstIntervalMillis     int `yaml:"burstIntervalMillis"`
	TransportBackoffSeconds int `yaml:"transportBackoffSeconds"`
	LoginMaxAttempts        int `yaml:"loginMaxAttempts"`
	LoginDelaySeconds       int `yaml:"loginDelaySeconds"`
	LoginCooldownSeconds    int `yaml:"loginCooldownSeconds"`
}

type KioskConfig struct {
	ListenAddress         string `yaml:"listenAddress"`
	Port                  string `yaml:"port"`
	HeartbeatStaleSeconds int    `yaml:"heartbeatStaleSeconds"`
}

type AppConfig struct {
	Panel    PanelConfig    `yaml:"panel"`
	Database DatabaseConfig `yaml:"database"`
	Scanner  ScannerConfig  `yaml:"scanner"`
	Kiosk    KioskConfig    `yaml:"kiosk"`
}

func Default() AppConfig {
	return AppConfig{
		Panel: PanelConfig{
			Subsystem:             1,
			RequestTimeoutSeconds: 10,
		},
		Database: DatabaseConfig{
			FilePath: "/var/lib/alarm-sync/alarms.db",
		},
		Scanner: ScannerConfig{
			PollIntervalSeconds:     2,
			PollJitterMillis:        500,
			DebounceSeconds:         60,
			CooldownSeconds:         300,
			BurstCount:              3,
			BurstIntervalMillis:     500,
			TransportBackoffSeconds: 5,
			LoginMaxAttempts:        5,
			LoginDelaySeconds:       5,
			LoginCooldownSeconds:    30,
		},
		Kiosk: KioskConfig{
			ListenAddress:         "0.0.0.0",
			Port:                  "8080",
			HeartbeatStaleSeconds: 60,
		},
	}
}

// Load parses a yaml configuration on top of the defaults and then
// applies environment overrides for the values that tend to differ
// between deployments.
func Load(data io.Reader) (AppConfig, error) {
	cfg := Default()

	buf, err := io.ReadAll(data)
	if err != nil {
		return cfg, err
	}

	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return cfg, err
	}

	applyEnvOverrides(&cfg)

	return cfg, nil
}

// LoadFromFile reads the configuration file at path, falling back to
// defaults plus environment overrides when no file exists.
func LoadFromFile(path string) (AppConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := Default()
			applyEnvOverrides(&cfg)
			return cfg, nil
		}
		return Default(), err
	}
	defer f.Close()

	return Load(f)
}

func applyEnvOverrides(cfg *AppConfig) {
	envOrDef := func(name, def string) string {
		if value, ok := os.LookupEnv(name); ok {
			return value
		}
		return def
	}

	cfg.Panel.Host = envOrDef("PANEL_HOST", cfg.Panel.Host)
	cfg.Panel.Username = envOrDef("PANEL_USERNAME", cfg.Panel.Username)
	cfg.Panel.Password = envOrDef("PANEL_PASSWORD", cfg.Panel.Password)
	cfg.Database.FilePath = envOrDef("DATABASE_FILE", cfg.Database.FilePath)
	cfg.Kiosk.ListenAddress = envOrDef("LISTEN_ADDRESS", cfg.Kiosk.ListenAddress)
	cfg.Kiosk.Port = envOrDef("SERVICE_PORT", cfg.Kiosk.Port)
}

func (c PanelConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

func (c ScannerConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

func (c ScannerConfig) PollJitter() time.Duration {
	return time.Duration(c.PollJitterMillis) * time.Millisecond
}

func (c ScannerConfig) Debounce() time.Duration {
	return time.Duration(c.DebounceSeconds) * time.Second
}

func (c ScannerConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownSeconds) * time.Second
}

func (c ScannerConfig) BurstInterval() time.Duration {
	return time.Duration(c.BurstIntervalMillis) * time.Millisecond
}

func (c ScannerConfig) TransportBackoff() time.Duration {
	return time.Duration(c.TransportBackoffSeconds) * time.Second
}

func (c ScannerConfig) LoginDelay() time.Duration {
	return time.Duration(c.LoginDelaySeconds) * time.Second
}

func (c ScannerConfig) LoginCooldown() time.Duration {
	return time.Duration(c.LoginCooldownSeconds) * time.Second
}

func (c KioskConfig) HeartbeatStale() time.Duration {
	return time.Duration(c.HeartbeatStaleSeconds) * time.Second
}
