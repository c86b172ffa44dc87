package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration shared by both processes.
type Paths struct {
	ImageDir string `toml:"image_dir"`
	StateDir string `toml:"state_dir"`
	LogDir   string `toml:"log_dir"`
}

// Controller contains settings for the coordinating process.
type Controller struct {
	Listen      string `toml:"listen"`
	APIBind     string `toml:"api_bind"`
	MaxImageMiB int    `toml:"max_image_mib"`
	Advertise   bool   `toml:"advertise"`
	ServiceName string `toml:"service_name"`
	APIToken    string `toml:"api_token"`
}

// Workflow contains capture session timing and the initial Step2 toggle.
type Workflow struct {
	NoticeTTLMillis       int  `toml:"notice_ttl_ms"`
	CompletionGraceMillis int  `toml:"completion_grace_ms"`
	Step2Enabled          bool `toml:"step2_enabled"`
	WriteQueue            int  `toml:"write_queue"`
}

// Station contains settings for a camera station agent.
type Station struct {
	CameraIDFile          string `toml:"camera_id_file"`
	ControllerAddr        string `toml:"controller_addr"`
	RedialSeconds         int    `toml:"redial_seconds"`
	CaptureCommand        string `toml:"capture_command"`
	CaptureFile           string `toml:"capture_file"`
	CaptureTimeoutSeconds int    `toml:"capture_timeout_seconds"`
}

// Scanner contains barcode scanner input settings for the controller.
type Scanner struct {
	Stdin        bool `toml:"stdin"`
	WatchHotplug bool `toml:"watch_hotplug"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic         string `toml:"ntfy_topic"`
	RequestTimeout    int    `toml:"request_timeout"`
	SessionComplete   bool   `toml:"session_complete"`
	SessionIncomplete bool   `toml:"session_incomplete"`
	Errors            bool   `toml:"errors"`
}

// History controls the SQLite capture log.
type History struct {
	Enabled bool `toml:"enabled"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for aoi.
//
// Configuration sections by subsystem:
//   - Paths: image root, runtime state, and log directories
//   - Controller: station listener, local API, and discovery advertisement
//   - Workflow: notice and completion grace timing
//   - Station: camera identity, controller lookup, and capture source
//   - Scanner: barcode scanner input
//   - Notifications: ntfy push notification settings
//   - History: SQLite capture log
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Controller    Controller    `toml:"controller"`
	Workflow      Workflow      `toml:"workflow"`
	Station       Station       `toml:"station"`
	Scanner       Scanner       `toml:"scanner"`
	Notifications Notifications `toml:"notifications"`
	History       History       `toml:"history"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("aoi.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the directories a controller or station needs.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.ImageDir, c.Paths.StateDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// ControllerSocketPath is the JSON-RPC socket served by a running controller.
func (c *Config) ControllerSocketPath() string {
	return filepath.Join(c.Paths.StateDir, "controller.sock")
}

// StationSocketPath is the JSON-RPC socket served by a running station agent.
func (c *Config) StationSocketPath() string {
	return filepath.Join(c.Paths.StateDir, "station.sock")
}

// LockPath returns the single-instance lock file for the named process.
func (c *Config) LockPath(process string) string {
	return filepath.Join(c.Paths.StateDir, process+".lock")
}

// HistoryPath is the SQLite capture log location.
func (c *Config) HistoryPath() string {
	return filepath.Join(c.Paths.StateDir, "history.db")
}

// NoticeTTL is how long a transient notice stays visible.
func (c *Config) NoticeTTL() time.Duration {
	return time.Duration(c.Workflow.NoticeTTLMillis) * time.Millisecond
}

// CompletionGrace is the delay between an incomplete notice and the forced Step1 reset.
func (c *Config) CompletionGrace() time.Duration {
	return time.Duration(c.Workflow.CompletionGraceMillis) * time.Millisecond
}

// MaxImageBytes converts controller.max_image_mib to bytes.
func (c *Config) MaxImageBytes() int {
	return c.Controller.MaxImageMiB << 20
}

// RedialInterval is the station's wait between failed connection attempts.
func (c *Config) RedialInterval() time.Duration {
	return time.Duration(c.Station.RedialSeconds) * time.Second
}

// CaptureTimeout bounds a single capture command.
func (c *Config) CaptureTimeout() time.Duration {
	return time.Duration(c.Station.CaptureTimeoutSeconds) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
