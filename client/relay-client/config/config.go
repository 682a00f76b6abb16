package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Shellsight/disaster-mapping-segmentation/client/relay-client/common"
	"github.com/Shellsight/disaster-mapping-segmentation/client/relay-client/models"
	"github.com/spf13/viper"
)

// DefaultConfigPath is used when no -config flag is given
const DefaultConfigPath = "config/relay.yaml"

// Config holds the application configuration
type Config struct {
	Device          DeviceConfig     `mapstructure:"device"`
	Camera          CameraConfig     `mapstructure:"camera"`
	Network         NetworkConfig    `mapstructure:"network"`
	Storage         StorageConfig    `mapstructure:"storage"`
	API             APIConfig        `mapstructure:"api"`
	Upload          UploadConfig     `mapstructure:"upload"`
	GPS             GPSConfig        `mapstructure:"gps"`
	Monitoring      MonitoringConfig `mapstructure:"monitoring"`
	Status          StatusConfig     `mapstructure:"status"`
	Logging         LoggingConfig    `mapstructure:"logging"`
	ShutdownTimeout time.Duration    `mapstructure:"shutdown_timeout"` // bounded join per background loop
	SettingsRefresh time.Duration    `mapstructure:"settings_refresh"` // how often runtime settings are re-read from disk
}

type DeviceConfig struct {
	ID        string `mapstructure:"id"`
	MissionID string `mapstructure:"mission_id"`
}

type CameraConfig struct {
	Device           string            `mapstructure:"device"`
	Resolution       string            `mapstructure:"resolution"` // e.g. "1920x1080" or "720p"
	JPEGQuality      int               `mapstructure:"jpeg_quality"`
	CaptureInterval  time.Duration     `mapstructure:"capture_interval"`
	StoragePath      string            `mapstructure:"storage_path"`
	MaxLocalImages   int               `mapstructure:"max_local_images"`
	RecoverOnStartup bool              `mapstructure:"recover_on_startup"`
	SyntheticSeed    int64             `mapstructure:"synthetic_seed"`
	PostProcess      PostProcessConfig `mapstructure:"postprocess"`
}

type PostProcessConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	MaxResolution string `mapstructure:"max_resolution"`
	Encoder       string `mapstructure:"encoder"`
}

type InterfaceConfig struct {
	ConnectCommand    string   `mapstructure:"connect_command"`
	DisconnectCommand string   `mapstructure:"disconnect_command"`
	NamePrefixes      []string `mapstructure:"name_prefixes"`
}

type NetworkConfig struct {
	Primary            string                     `mapstructure:"primary"`
	Fallback           string                     `mapstructure:"fallback"`
	CheckInterval      time.Duration              `mapstructure:"check_interval"`
	ConnectTimeout     time.Duration              `mapstructure:"connect_timeout"`
	ProbeTimeout       time.Duration              `mapstructure:"probe_timeout"`
	StalenessThreshold time.Duration              `mapstructure:"staleness_threshold"`
	ProbeEndpoints     []string                   `mapstructure:"probe_endpoints"`
	Interfaces         map[string]InterfaceConfig `mapstructure:"interfaces"`
}

type StorageConfig struct {
	Backend         string `mapstructure:"backend"` // gcs, http or local
	ProjectID       string `mapstructure:"project_id"`
	Bucket          string `mapstructure:"bucket"`
	CredentialsFile string `mapstructure:"credentials_file"`
	BaseURL         string `mapstructure:"base_url"`
	KeyPrefix       string `mapstructure:"key_prefix"`
	LocalDir        string `mapstructure:"local_dir"`
}

type APIConfig struct {
	Endpoint  string        `mapstructure:"endpoint"`
	Timeout   time.Duration `mapstructure:"timeout"`
	UserAgent string        `mapstructure:"user_agent"`
	Token     string        `mapstructure:"token"`
}

type UploadConfig struct {
	Workers            int           `mapstructure:"workers"`
	MaxRetries         int           `mapstructure:"max_retries"`
	PollInterval       time.Duration `mapstructure:"poll_interval"`
	StorageTimeout     time.Duration `mapstructure:"storage_timeout"`
	CleanupAfterUpload bool          `mapstructure:"cleanup_after_upload"`
	QuarantineMax      int           `mapstructure:"quarantine_max"`
	DatabasePath       string        `mapstructure:"database_path"`
}

type GPSConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Device         string        `mapstructure:"device"`
	BaudRate       int           `mapstructure:"baud_rate"`
	MinSatellites  int           `mapstructure:"min_satellites"`
	FallbackToMock bool          `mapstructure:"fallback_to_mock"`
	MockLatitude   float64       `mapstructure:"mock_latitude"`
	MockLongitude  float64       `mapstructure:"mock_longitude"`
	MockInterval   time.Duration `mapstructure:"mock_interval"`
	FixTimeout     time.Duration `mapstructure:"fix_timeout"`
}

type MonitoringConfig struct {
	Interval           time.Duration `mapstructure:"interval"`
	TemperatureLimit   float64       `mapstructure:"temperature_limit"`
	MemoryLimit        float64       `mapstructure:"memory_limit"`
	DiskLimit          float64       `mapstructure:"disk_limit"`
	CPULimit           float64       `mapstructure:"cpu_limit"`
	ThrottleOnCritical bool          `mapstructure:"throttle_on_critical"`
	SysfsRoot          string        `mapstructure:"sysfs_root"`
}

type StatusConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
	Token      string `mapstructure:"token"`
}

type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Dir     string `mapstructure:"dir"`
	Console bool   `mapstructure:"console"`
}

// setDefaults registers every key so a fresh config file is complete
func setDefaults(v *viper.Viper) {
	v.SetDefault("device.id", "")
	v.SetDefault("device.mission_id", "")

	v.SetDefault("camera.device", "0")
	v.SetDefault("camera.resolution", "1920x1080")
	v.SetDefault("camera.jpeg_quality", 85)
	v.SetDefault("camera.capture_interval", "10s")
	v.SetDefault("camera.storage_path", "./captures")
	v.SetDefault("camera.max_local_images", 100)
	v.SetDefault("camera.recover_on_startup", true)
	v.SetDefault("camera.synthetic_seed", 1)
	v.SetDefault("camera.postprocess.enabled", false)
	v.SetDefault("camera.postprocess.max_resolution", "1280x720")
	v.SetDefault("camera.postprocess.encoder", "mjpeg")

	v.SetDefault("network.primary", "cellular")
	v.SetDefault("network.fallback", "wifi")
	v.SetDefault("network.check_interval", "15s")
	v.SetDefault("network.connect_timeout", "30s")
	v.SetDefault("network.probe_timeout", "10s")
	v.SetDefault("network.staleness_threshold", "30s")
	v.SetDefault("network.probe_endpoints", []string{
		"http://httpbin.org/status/200",
		"http://www.google.com",
		"http://www.cloudflare.com",
	})
	v.SetDefault("network.interfaces.cellular.connect_command", "nmcli connection up cellular")
	v.SetDefault("network.interfaces.cellular.disconnect_command", "nmcli connection down cellular")
	v.SetDefault("network.interfaces.cellular.name_prefixes", []string{"wwan", "ppp", "usb"})
	v.SetDefault("network.interfaces.wifi.connect_command", "nmcli radio wifi on && nmcli device connect wlan0")
	v.SetDefault("network.interfaces.wifi.disconnect_command", "nmcli device disconnect wlan0")
	v.SetDefault("network.interfaces.wifi.name_prefixes", []string{"wlan", "wlp"})
	v.SetDefault("network.interfaces.ethernet.connect_command", "nmcli device connect eth0")
	v.SetDefault("network.interfaces.ethernet.disconnect_command", "nmcli device disconnect eth0")
	v.SetDefault("network.interfaces.ethernet.name_prefixes", []string{"eth", "en"})

	v.SetDefault("storage.backend", "gcs")
	v.SetDefault("storage.project_id", "disaster-response-project")
	v.SetDefault("storage.bucket", "disaster-images")
	v.SetDefault("storage.credentials_file", "config/gcp-credentials.json")
	v.SetDefault("storage.base_url", "")
	v.SetDefault("storage.key_prefix", "disaster-images")
	v.SetDefault("storage.local_dir", "./mock-uploads")

	v.SetDefault("api.endpoint", "http://localhost:8000/api")
	v.SetDefault("api.timeout", "30s")
	v.SetDefault("api.user_agent", "DisasterPi/1.0")
	v.SetDefault("api.token", "")

	v.SetDefault("upload.workers", 1)
	v.SetDefault("upload.max_retries", 3)
	v.SetDefault("upload.poll_interval", "2s")
	v.SetDefault("upload.storage_timeout", "60s")
	v.SetDefault("upload.cleanup_after_upload", true)
	v.SetDefault("upload.quarantine_max", 100)
	v.SetDefault("upload.database_path", "./data/relay.db")

	v.SetDefault("gps.enabled", true)
	v.SetDefault("gps.device", "/dev/ttyUSB1")
	v.SetDefault("gps.baud_rate", 9600)
	v.SetDefault("gps.min_satellites", 4)
	v.SetDefault("gps.fallback_to_mock", true)
	v.SetDefault("gps.mock_latitude", 16.8661)
	v.SetDefault("gps.mock_longitude", 96.1951)
	v.SetDefault("gps.mock_interval", "2s")
	v.SetDefault("gps.fix_timeout", "30s")

	v.SetDefault("monitoring.interval", "60s")
	v.SetDefault("monitoring.temperature_limit", 80.0)
	v.SetDefault("monitoring.memory_limit", 90.0)
	v.SetDefault("monitoring.disk_limit", 95.0)
	v.SetDefault("monitoring.cpu_limit", 85.0)
	v.SetDefault("monitoring.throttle_on_critical", true)
	v.SetDefault("monitoring.sysfs_root", "/sys")

	v.SetDefault("status.enabled", true)
	v.SetDefault("status.listen_addr", "127.0.0.1:8090")
	v.SetDefault("status.token", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.dir", "./logs")
	v.SetDefault("logging.console", true)

	v.SetDefault("shutdown_timeout", "5s")
	v.SetDefault("settings_refresh", "5m")
}

// LoadConfig loads configuration from a YAML file.
// A missing file is created with the defaults.
func LoadConfig(filename string) (*Config, error) {
	if filename == "" {
		filename = DefaultConfigPath
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(filename)
	v.SetConfigType("yaml")

	if _, err := os.Stat(filename); errors.Is(err, os.ErrNotExist) {
		if dir := filepath.Dir(filename); dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create config directory: %w", err)
			}
		}
		if err := v.SafeWriteConfigAs(filename); err != nil {
			return nil, fmt.Errorf("failed to create default config file: %w", err)
		}
		log.Printf("Default config file created at %s", filename)
	} else if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &cfg, nil
}

// ConfigOverrides holds potential override values for configuration
type ConfigOverrides struct {
	DeviceID        *string
	MissionID       *string
	APIEndpoint     *string
	Bucket          *string
	StorageBackend  *string
	CameraDevice    *string
	CaptureInterval *time.Duration
	Workers         *int
	MaxRetries      *int
	StatusAddr      *string
	LogLevel        *string
}

// Override allows overriding specific configuration values using ConfigOverrides struct
func (c *Config) Override(overrides ConfigOverrides) {
	if overrides.DeviceID != nil && *overrides.DeviceID != "" {
		c.Device.ID = *overrides.DeviceID
	}
	if overrides.MissionID != nil && *overrides.MissionID != "" {
		c.Device.MissionID = *overrides.MissionID
	}
	if overrides.APIEndpoint != nil && *overrides.APIEndpoint != "" {
		c.API.Endpoint = *overrides.APIEndpoint
	}
	if overrides.Bucket != nil && *overrides.Bucket != "" {
		c.Storage.Bucket = *overrides.Bucket
	}
	if overrides.StorageBackend != nil && *overrides.StorageBackend != "" {
		c.Storage.Backend = *overrides.StorageBackend
	}
	if overrides.CameraDevice != nil && *overrides.CameraDevice != "" {
		c.Camera.Device = *overrides.CameraDevice
	}
	if overrides.CaptureInterval != nil && *overrides.CaptureInterval > 0 {
		c.Camera.CaptureInterval = *overrides.CaptureInterval
	}
	if overrides.Workers != nil && *overrides.Workers > 0 {
		c.Upload.Workers = *overrides.Workers
	}
	// zero retries is a legitimate setting
	if overrides.MaxRetries != nil && *overrides.MaxRetries >= 0 {
		c.Upload.MaxRetries = *overrides.MaxRetries
	}
	if overrides.StatusAddr != nil && *overrides.StatusAddr != "" {
		c.Status.ListenAddr = *overrides.StatusAddr
	}
	if overrides.LogLevel != nil && *overrides.LogLevel != "" {
		c.Logging.Level = *overrides.LogLevel
	}
}

// Validate checks the values that cannot be defaulted
func (c *Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.Device.ID) == "" {
		problems = append(problems, "device.id is required")
	}
	if strings.TrimSpace(c.Device.MissionID) == "" {
		problems = append(problems, "device.mission_id is required")
	}
	if c.Camera.CaptureInterval <= 0 {
		problems = append(problems, "camera.capture_interval must be positive")
	}
	if c.Camera.StoragePath == "" {
		problems = append(problems, "camera.storage_path is required")
	}
	if c.Camera.MaxLocalImages <= 0 {
		problems = append(problems, "camera.max_local_images must be positive")
	}
	if c.Camera.JPEGQuality < 1 || c.Camera.JPEGQuality > 100 {
		problems = append(problems, "camera.jpeg_quality must be between 1 and 100")
	}

	primary, err := models.ParseInterfaceType(c.Network.Primary)
	if err != nil || primary == models.InterfaceNone {
		problems = append(problems, fmt.Sprintf("network.primary %q is not a usable interface", c.Network.Primary))
	}
	if c.Network.Fallback != "" {
		if _, err := models.ParseInterfaceType(c.Network.Fallback); err != nil {
			problems = append(problems, fmt.Sprintf("network.fallback %q is not a known interface", c.Network.Fallback))
		}
	}
	if len(c.Network.ProbeEndpoints) == 0 {
		problems = append(problems, "network.probe_endpoints needs at least one endpoint")
	}

	switch c.Storage.Backend {
	case "gcs":
		if c.Storage.Bucket == "" {
			problems = append(problems, "storage.bucket is required for the gcs backend")
		}
	case "http":
		if c.Storage.BaseURL == "" {
			problems = append(problems, "storage.base_url is required for the http backend")
		}
	case "local":
		if c.Storage.LocalDir == "" {
			problems = append(problems, "storage.local_dir is required for the local backend")
		}
	default:
		problems = append(problems, fmt.Sprintf("storage.backend %q is not one of gcs, http, local", c.Storage.Backend))
	}

	if strings.TrimSpace(c.API.Endpoint) == "" {
		problems = append(problems, "api.endpoint is required")
	}
	if c.Upload.Workers < 1 {
		problems = append(problems, "upload.workers must be at least 1")
	}
	if c.Upload.MaxRetries < 0 {
		problems = append(problems, "upload.max_retries cannot be negative")
	}
	if c.Upload.QuarantineMax < 1 {
		problems = append(problems, "upload.quarantine_max must be at least 1")
	}
	if c.GPS.MinSatellites < 0 {
		problems = append(problems, "gps.min_satellites cannot be negative")
	}

	if len(problems) > 0 {
		return &common.ConfigurationError{Problems: problems}
	}
	return nil
}

// PrimaryInterface returns the parsed primary interface type
func (c *Config) PrimaryInterface() models.InterfaceType {
	it, _ := models.ParseInterfaceType(c.Network.Primary)
	return it
}

// FallbackInterface returns the parsed fallback interface type, InterfaceNone if unset
func (c *Config) FallbackInterface() models.InterfaceType {
	it, _ := models.ParseInterfaceType(c.Network.Fallback)
	return it
}
