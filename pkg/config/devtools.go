package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultFile is the config file looked up in the working directory.
const DefaultFile = "routedev.yaml"

// LogsConfig toggles the per-category development log lines.
type LogsConfig struct {
	Cookies   bool `yaml:"cookies" json:"cookies"`
	Defer     bool `yaml:"defer" json:"defer"`
	Actions   bool `yaml:"actions" json:"actions"`
	Loaders   bool `yaml:"loaders" json:"loaders"`
	Cache     bool `yaml:"cache" json:"cache"`
	SiteClear bool `yaml:"siteClear" json:"siteClear"`
}

// RedisConfig points detached-window sync at a Redis server. An empty Addr
// keeps sync in process.
type RedisConfig struct {
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password" json:"-"`
	DB       int    `yaml:"db" json:"db"`
}

// ForwardConfig ships recorded events to another devtools server. An empty
// URL disables forwarding.
type ForwardConfig struct {
	URL      string        `yaml:"url" json:"url"`
	Token    string        `yaml:"token" json:"-"`
	Interval time.Duration `yaml:"interval" json:"interval"`
}

// DevtoolsConfig holds runtime configuration for the devtools server.
type DevtoolsConfig struct {
	Silent        bool          `yaml:"silent" json:"silent"`
	Logs          LogsConfig    `yaml:"logs" json:"logs"`
	Addr          string        `yaml:"addr" json:"addr"`
	WSPort        int           `yaml:"wsPort" json:"wsPort"`
	WithWebsocket bool          `yaml:"withWebsocket" json:"withWebsocket"`
	AppDir        string        `yaml:"appDir" json:"appDir"`
	EditorCommand string        `yaml:"editorCommand" json:"editorCommand"`
	Shell         string        `yaml:"shell" json:"shell"`
	Watch         bool          `yaml:"watch" json:"watch"`
	Debounce      time.Duration `yaml:"debounce" json:"debounce"`
	QueueSize     int           `yaml:"queueSize" json:"queueSize"`
	Redis         RedisConfig   `yaml:"redis" json:"redis"`
	Forward       ForwardConfig `yaml:"forward" json:"forward"`
	IngestToken   string        `yaml:"ingestToken" json:"-"`
	// AllowedOrigins are browser origins besides loopback ones that may use
	// the devtools endpoints.
	AllowedOrigins []string `yaml:"allowedOrigins" json:"allowedOrigins"`
	LogLevel       string   `yaml:"logLevel" json:"logLevel"`
	LogFormat      string   `yaml:"logFormat" json:"logFormat"`
}

// DefaultDevtoolsConfig returns the built-in defaults.
func DefaultDevtoolsConfig() DevtoolsConfig {
	return DevtoolsConfig{
		Logs: LogsConfig{
			Cookies:   true,
			Defer:     true,
			Actions:   true,
			Loaders:   true,
			Cache:     true,
			SiteClear: true,
		},
		Addr:          "127.0.0.1:3000",
		WSPort:        8887,
		WithWebsocket: true,
		AppDir:        "./app",
		EditorCommand: "code -g {file}:{line}:{column}",
		Shell:         "/bin/sh",
		Watch:         true,
		Debounce:      300 * time.Millisecond,
		QueueSize:     40,
		Forward:       ForwardConfig{Interval: time.Second},
		LogLevel:      "info",
		LogFormat:     "json",
	}
}

// LoadDevtoolsConfig layers defaults, the YAML file at path and environment
// variables. A missing file is not an error when path is the default.
func LoadDevtoolsConfig(path string) (DevtoolsConfig, error) {
	cfg := DefaultDevtoolsConfig()
	explicit := path != ""
	if !explicit {
		path = GetString("ROUTEDEV_CONFIG", DefaultFile)
	}
	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return cfg, fmt.Errorf("read %s: %w", path, err)
	}
	cfg.applyEnv()
	return cfg, cfg.Validate()
}

func (c *DevtoolsConfig) applyEnv() {
	c.Silent = GetBool("ROUTEDEV_SILENT", c.Silent)
	c.Addr = GetString("ROUTEDEV_ADDR", c.Addr)
	c.WSPort = GetInt("ROUTEDEV_WS_PORT", c.WSPort)
	c.WithWebsocket = GetBool("ROUTEDEV_WITH_WEBSOCKET", c.WithWebsocket)
	c.AppDir = GetString("ROUTEDEV_APP_DIR", c.AppDir)
	c.EditorCommand = GetString("ROUTEDEV_EDITOR", c.EditorCommand)
	c.Shell = GetString("ROUTEDEV_SHELL", c.Shell)
	c.Watch = GetBool("ROUTEDEV_WATCH", c.Watch)
	c.Debounce = GetDuration("ROUTEDEV_DEBOUNCE", c.Debounce)
	c.QueueSize = GetInt("ROUTEDEV_QUEUE_SIZE", c.QueueSize)
	c.Redis.Addr = GetString("ROUTEDEV_REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = GetString("ROUTEDEV_REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = GetInt("ROUTEDEV_REDIS_DB", c.Redis.DB)
	c.Forward.URL = GetString("ROUTEDEV_FORWARD_URL", c.Forward.URL)
	c.Forward.Token = GetString("ROUTEDEV_FORWARD_TOKEN", c.Forward.Token)
	c.Forward.Interval = GetDuration("ROUTEDEV_FORWARD_INTERVAL", c.Forward.Interval)
	c.IngestToken = GetString("ROUTEDEV_INGEST_TOKEN", c.IngestToken)
	if v := GetString("ROUTEDEV_ALLOWED_ORIGINS", ""); v != "" {
		c.AllowedOrigins = strings.Split(v, ",")
	}
	c.LogLevel = GetString("ROUTEDEV_LOG_LEVEL", c.LogLevel)
	c.LogFormat = GetString("ROUTEDEV_LOG_FORMAT", c.LogFormat)
}

// Validate reports settings that cannot work.
func (c DevtoolsConfig) Validate() error {
	if c.WithWebsocket && (c.WSPort <= 0 || c.WSPort > 65535) {
		return fmt.Errorf("invalid wsPort %d", c.WSPort)
	}
	if c.QueueSize < 0 {
		return fmt.Errorf("invalid queueSize %d", c.QueueSize)
	}
	return nil
}

// WSAddr is the listen address of the websocket bridge. It binds the same
// host as Addr, loopback when Addr names none.
func (c DevtoolsConfig) WSAddr() string {
	host := "127.0.0.1"
	if h, _, err := net.SplitHostPort(c.Addr); err == nil && h != "" {
		host = h
	}
	return net.JoinHostPort(host, strconv.Itoa(c.WSPort))
}

// LogEnabled reports whether lines of the given category should be printed.
func (c DevtoolsConfig) LogEnabled(category string) bool {
	if c.Silent {
		return false
	}
	switch category {
	case "cookies":
		return c.Logs.Cookies
	case "defer":
		return c.Logs.Defer
	case "actions":
		return c.Logs.Actions
	case "loaders":
		return c.Logs.Loaders
	case "cache":
		return c.Logs.Cache
	case "siteClear":
		return c.Logs.SiteClear
	default:
		return true
	}
}
