package structures

import "time"

type CliFlags struct {
	ConfigPath string
	DebugMode  bool
}

type Server struct {
	Host string `yaml:"host" validate:"required"`
	Port int    `yaml:"port" validate:"required|uint|min:1"`
}

type DeviceConfig struct {
	Name string `yaml:"name" validate:"required"`
}

type SyncConfig struct {
	Debounce         time.Duration `yaml:"debounce"`
	WatchdogInterval time.Duration `yaml:"watchdogInterval"`
	StaleThreshold   time.Duration `yaml:"staleThreshold"`
	SendTimeout      time.Duration `yaml:"sendTimeout"`
	DiscoveryWindow  time.Duration `yaml:"discoveryWindow"`
	MaxPayloadBytes  int           `yaml:"maxPayloadBytes"`
}

type TransportConfig struct {
	Driver     string   `yaml:"driver" validate:"required|in:loopback,websocket"`
	ListenAddr string   `yaml:"listenAddr"`
	Peers      []string `yaml:"peers"`
}

type StorageConfig struct {
	Driver       string        `yaml:"driver" validate:"required|in:memory,sqlite"`
	FilePath     string        `yaml:"filePath" validate:"required|unixPath"`
	SaveInterval time.Duration `yaml:"saveInterval"`
}

// ReferencesConfig seeds the local spell and recipe tables used to re-link
// name references on merge.
type ReferencesConfig struct {
	Spells  []string `yaml:"spells"`
	Recipes []string `yaml:"recipes"`
}

type LoggerConfig struct {
	Level string `yaml:"level" validate:"required|in:trace,debug,info,warn,error,fatal,panic"`
	Mode  uint32 `yaml:"mode" validate:"required|uint"`
	Dir   string `yaml:"dir" validate:"required|unixPath"`
}

type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	Size    int           `yaml:"size"`
	TTL     time.Duration `yaml:"ttl"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

type Config struct {
	AppName    string
	Debug      bool
	Path       string
	Device     DeviceConfig     `yaml:"device"`
	WebServer  Server           `yaml:"webServer"`
	Sync       SyncConfig       `yaml:"sync"`
	Transport  TransportConfig  `yaml:"transport"`
	Storage    StorageConfig    `yaml:"storage"`
	References ReferencesConfig `yaml:"references"`
	Logger     LoggerConfig     `yaml:"logger"`
	Cache      CacheConfig      `yaml:"cache"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

const (
	DefaultDebounce         = 500 * time.Millisecond
	DefaultWatchdogInterval = 2 * time.Second
	DefaultStaleThreshold   = 15 * time.Second
	DefaultSendTimeout      = 10 * time.Second
	DefaultDiscoveryWindow  = 5 * time.Second
	DefaultMaxPayloadBytes  = 1 << 20
)

// WithDefaults fills unset sync timings.
func (s SyncConfig) WithDefaults() SyncConfig {
	if s.Debounce <= 0 {
		s.Debounce = DefaultDebounce
	}
	if s.WatchdogInterval <= 0 {
		s.WatchdogInterval = DefaultWatchdogInterval
	}
	if s.StaleThreshold <= 0 {
		s.StaleThreshold = DefaultStaleThreshold
	}
	if s.SendTimeout <= 0 {
		s.SendTimeout = DefaultSendTimeout
	}
	if s.DiscoveryWindow <= 0 {
		s.DiscoveryWindow = DefaultDiscoveryWindow
	}
	if s.MaxPayloadBytes <= 0 {
		s.MaxPayloadBytes = DefaultMaxPayloadBytes
	}
	return s
}
