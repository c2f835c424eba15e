package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"tasksync/backend"
	"tasksync/internal/utils"
)

var configOnce sync.Once

var (
	globalConfig *Config
	globalErr    error
)

var customConfigPath string // Custom config path set via --config flag

//go:embed config.sample.yaml
var sampleConfig []byte

const (
	CONFIG_DIR_PATH  = "tasksync"
	CONFIG_FILE_PATH = "config.yaml"
	CONFIG_DIR_PERM  = 0755
	CONFIG_FILE_PERM = 0644

	// ENV_FILE is read from the config directory; real environment variables win over it.
	ENV_FILE   = ".env"
	ENV_PREFIX = "TASKSYNC_"
)

// Config represents the application configuration.
type Config struct {
	DeviceName   string     `yaml:"device_name" validate:"required,max=40"`
	DatabasePath string     `yaml:"database_path"`
	UI           string     `yaml:"ui" validate:"oneof=cli tui"`
	DateFormat   string     `yaml:"date_format,omitempty"`
	Sync         SyncConfig `yaml:"sync"`
}

// SyncConfig holds the peer-to-peer sync settings.
type SyncConfig struct {
	ListenAddr       string        `yaml:"listen_addr" validate:"required,hostname_port"`
	AdvertiseAddr    string        `yaml:"advertise_addr,omitempty" validate:"omitempty,hostname_port"`
	HostAddr         string        `yaml:"host_addr,omitempty" validate:"omitempty,hostname_port"`
	ConnectTimeout   time.Duration `yaml:"connect_timeout" validate:"gt=0"`
	ExchangeTimeout  time.Duration `yaml:"exchange_timeout" validate:"gt=0"`
	MaxSnapshotBytes int           `yaml:"max_snapshot_bytes" validate:"gte=1024"`
	MaxFrameBytes    int64         `yaml:"max_frame_bytes" validate:"gte=1024"`
	OtherData        string        `yaml:"other_data" validate:"oneof=this_device other_device no_sync"`
}

// Default returns the configuration used for values missing from the file.
func Default() *Config {
	return &Config{
		DeviceName: "my-device",
		UI:         "tui",
		DateFormat: "2006-01-02",
		Sync: SyncConfig{
			ListenAddr:       "0.0.0.0:7420",
			ConnectTimeout:   30 * time.Second,
			ExchangeTimeout:  2 * time.Minute,
			MaxSnapshotBytes: backend.MaxImportFileSize,
			MaxFrameBytes:    8 << 20,
			OtherData:        string(backend.ThisDevice),
		},
	}
}

func (c Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			field := verrs[0]
			return utils.ErrInvalidConfig(yamlName(field.Namespace()), fmt.Sprintf("failed '%s' check", field.Tag()))
		}
		return err
	}
	if int64(c.Sync.MaxSnapshotBytes) > c.Sync.MaxFrameBytes {
		return utils.ErrInvalidConfig("sync.max_snapshot_bytes", "must not exceed sync.max_frame_bytes")
	}
	return nil
}

// yamlName turns a validator namespace (Config.Sync.ListenAddr) into the
// key a user sees in the file (sync.listen_addr).
func yamlName(namespace string) string {
	parts := strings.Split(namespace, ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	for i, p := range parts {
		parts[i] = toSnake(p)
	}
	return strings.Join(parts, ".")
}

func toSnake(s string) string {
	var b strings.Builder
	prevLower := false
	for _, r := range s {
		if r >= 'A' && r <= 'Z' {
			if prevLower {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
			prevLower = false
		} else {
			prevLower = true
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (c *Config) GetDateFormat() string {
	if c.DateFormat == "" {
		return "2006-01-02" // Default to yyyy-mm-dd
	}
	return c.DateFormat
}

// OtherDataSyncOption returns the configured other-data option.
func (c *Config) OtherDataSyncOption() backend.OtherDataSyncOption {
	return backend.OtherDataSyncOption(c.Sync.OtherData)
}

// SetCustomConfigPath sets a custom config path to use instead of the default user config directory.
// If path is empty or ".", it uses "./tasksync/config.yaml" (current directory).
// If path is a directory, it looks for "config.yaml" inside it.
// This must be called before GetConfig() is called for the first time.
func SetCustomConfigPath(path string) {
	if path == "" || path == "." {
		customConfigPath = filepath.Join(".", CONFIG_DIR_PATH, CONFIG_FILE_PATH)
		return
	}
	info, err := os.Stat(path)
	if err == nil && info.IsDir() {
		customConfigPath = filepath.Join(path, CONFIG_FILE_PATH)
	} else {
		customConfigPath = path
	}
}

// GetConfig loads the configuration once per process. A missing file is
// created from the embedded sample.
func GetConfig() (*Config, error) {
	configOnce.Do(func() {
		path, err := GetConfigPath()
		if err != nil {
			globalErr = err
			return
		}
		globalConfig, globalErr = LoadOrCreate(path, os.LookupEnv)
	})
	return globalConfig, globalErr
}

func GetConfigPath() (string, error) {
	if customConfigPath != "" {
		return customConfigPath, nil
	}

	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, CONFIG_DIR_PATH, CONFIG_FILE_PATH), nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user config dir: %w", err)
	}
	return filepath.Join(dir, CONFIG_DIR_PATH, CONFIG_FILE_PATH), nil
}

// LookupFunc reads an environment variable, like os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// LoadOrCreate reads the config at configPath, writing the sample first if
// the file does not exist.
func LoadOrCreate(configPath string, lookup LookupFunc) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if errors.Is(err, os.ErrNotExist) {
		utils.Infof("No config at %s, creating one from the sample", configPath)
		if err := createConfigFromSample(configPath); err != nil {
			return nil, err
		}
		data = sampleConfig
	} else if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}
	return Load(data, configPath, lookup)
}

// Load parses data on top of Default, applies the .env file next to
// configPath and the TASKSYNC_* variables, expands paths, and validates.
func Load(data []byte, configPath string, lookup LookupFunc) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, utils.WrapWithSuggestion(
			fmt.Errorf("invalid YAML in config file %s: %w", configPath, err),
			fmt.Sprintf("Fix the syntax or delete %s to start from the sample", configPath))
	}

	env, err := envFile(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(func(key string) (string, bool) {
		if v, ok := lookup(key); ok {
			return v, true
		}
		v, ok := env[key]
		return v, ok
	}); err != nil {
		return nil, err
	}

	if cfg.DatabasePath, err = utils.ExpandPath(cfg.DatabasePath); err != nil {
		return nil, fmt.Errorf("failed to expand database_path: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envFile reads the .env file in the config directory, if any.
func envFile(configPath string) (map[string]string, error) {
	path := filepath.Join(filepath.Dir(configPath), ENV_FILE)
	env, err := godotenv.Read(path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return env, nil
}

func (c *Config) applyEnv(lookup LookupFunc) error {
	strs := map[string]*string{
		"DEVICE_NAME":         &c.DeviceName,
		"DATABASE_PATH":       &c.DatabasePath,
		"UI":                  &c.UI,
		"DATE_FORMAT":         &c.DateFormat,
		"SYNC_LISTEN_ADDR":    &c.Sync.ListenAddr,
		"SYNC_ADVERTISE_ADDR": &c.Sync.AdvertiseAddr,
		"SYNC_HOST_ADDR":      &c.Sync.HostAddr,
		"SYNC_OTHER_DATA":     &c.Sync.OtherData,
	}
	for key, dst := range strs {
		if v, ok := lookup(ENV_PREFIX + key); ok {
			*dst = v
		}
	}

	durations := map[string]*time.Duration{
		"SYNC_CONNECT_TIMEOUT":  &c.Sync.ConnectTimeout,
		"SYNC_EXCHANGE_TIMEOUT": &c.Sync.ExchangeTimeout,
	}
	for key, dst := range durations {
		v, ok := lookup(ENV_PREFIX + key)
		if !ok {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return utils.ErrInvalidConfig(ENV_PREFIX+key, err.Error())
		}
		*dst = d
	}

	if v, ok := lookup(ENV_PREFIX + "SYNC_MAX_SNAPSHOT_BYTES"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return utils.ErrInvalidConfig(ENV_PREFIX+"SYNC_MAX_SNAPSHOT_BYTES", err.Error())
		}
		c.Sync.MaxSnapshotBytes = n
	}
	if v, ok := lookup(ENV_PREFIX + "SYNC_MAX_FRAME_BYTES"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return utils.ErrInvalidConfig(ENV_PREFIX+"SYNC_MAX_FRAME_BYTES", err.Error())
		}
		c.Sync.MaxFrameBytes = n
	}
	return nil
}

func createConfigDir(configPath string) error {
	return os.MkdirAll(filepath.Dir(configPath), CONFIG_DIR_PERM)
}

func WriteConfigFile(configPath string, data []byte) error {
	return os.WriteFile(configPath, data, CONFIG_FILE_PERM)
}

func createConfigFromSample(configPath string) error {
	if err := createConfigDir(configPath); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	if err := WriteConfigFile(configPath, sampleConfig); err != nil {
		return fmt.Errorf("failed to write sample config: %w", err)
	}
	return nil
}

// Set changes one setting by its key in the file (sync.host_addr) and
// validates the result. Keys are the ones TASKSYNC_* variables override.
func (c *Config) Set(key, value string) error {
	name := ENV_PREFIX + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
	found := false
	err := c.applyEnv(func(k string) (string, bool) {
		if k == name {
			found = true
			return value, true
		}
		return "", false
	})
	if err != nil {
		return err
	}
	if !found {
		return utils.ErrInvalidConfig(key, "unknown setting")
	}
	return c.Validate()
}

// Update sets key in the file at configPath and saves it. Environment
// overrides are not applied, so they never end up in the file.
func Update(configPath, key, value string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if errors.Is(err, os.ErrNotExist) {
		data = sampleConfig
	} else if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid YAML in config file %s: %w", configPath, err)
	}
	if err := cfg.Set(key, value); err != nil {
		return nil, err
	}
	return cfg, Save(configPath, cfg)
}

// Save writes cfg to configPath as YAML.
func Save(configPath string, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	data, err := utils.MarshalYAML(cfg)
	if err != nil {
		return err
	}
	if err := createConfigDir(configPath); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	return WriteConfigFile(configPath, data)
}
