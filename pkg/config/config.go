// Package config loads settings for the binaries. Values are layered: built-in defaults, then an optional YAML
// file named by --config, then environment variables, then any flag given explicitly on the command line.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/astromechza/codecollab/pkg/schema"
	"github.com/astromechza/codecollab/pkg/throttle"
)

const (
	EnvAddr     = "CODECOLLAB_ADDR"
	EnvDatabase = "DATABASE_URL"
	EnvRedis    = "REDIS_ADDR"
	EnvRelay    = "CODECOLLAB_RELAY"
	EnvServices = "CODECOLLAB_SERVICES"
)

// ErrHelp is returned when -h/--help was requested; usage has already been printed.
var ErrHelp = pflag.ErrHelp

type Store struct {
	// Driver is one of memory, sqlite or postgres.
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type Relay struct {
	Addr          string        `yaml:"addr"`
	Store         Store         `yaml:"store"`
	RedisAddr     string        `yaml:"redisAddr"`
	RedisChannel  string        `yaml:"redisChannel"`
	FlushInterval time.Duration `yaml:"flushInterval"`
	Advertise     bool          `yaml:"advertise"`
	Instance      string        `yaml:"instance"`
	LogLevel      string        `yaml:"logLevel"`
}

func DefaultRelay() Relay {
	return Relay{
		Addr:          "localhost:8080",
		Store:         Store{Driver: "sqlite", DSN: "codecollab.sqlite3"},
		FlushInterval: 5 * time.Second,
		LogLevel:      "info",
	}
}

func (r Relay) Validate() error {
	switch r.Store.Driver {
	case "memory":
	case "sqlite", "postgres":
		if r.Store.DSN == "" {
			return fmt.Errorf("store %s needs a dsn", r.Store.Driver)
		}
	default:
		return fmt.Errorf("unknown store driver %q", r.Store.Driver)
	}
	if r.FlushInterval <= 0 {
		return fmt.Errorf("flush interval must be positive")
	}
	return nil
}

type Client struct {
	Relay    string        `yaml:"relay"`
	Services string        `yaml:"services"`
	Project  string        `yaml:"project"`
	Language string        `yaml:"language"`
	User     string        `yaml:"user"`
	Window   time.Duration `yaml:"window"`
	Discover bool          `yaml:"discover"`
	LogLevel string        `yaml:"logLevel"`
}

func DefaultClient() Client {
	return Client{
		Relay:    "ws://localhost:8080/ws",
		Window:   throttle.DefaultWindow,
		LogLevel: "info",
	}
}

func (c Client) Session() schema.Session {
	return schema.Session{ProjectName: c.Project, Language: c.Language}
}

func (c Client) Validate() error {
	if err := c.Session().Validate(); err != nil {
		return fmt.Errorf("project and language are required: %w", err)
	}
	if c.Relay == "" && !c.Discover {
		return fmt.Errorf("a relay url is required unless discovery is enabled")
	}
	if c.Window <= 0 {
		return fmt.Errorf("window must be positive")
	}
	return nil
}

// LoadRelay parses args (without the program name) into a Relay config.
func LoadRelay(args []string, getenv func(string) string) (Relay, error) {
	fs := pflag.NewFlagSet("relay", pflag.ContinueOnError)
	configPath := fs.String("config", "", "path to a yaml config file")
	d := DefaultRelay()
	addr := fs.String("addr", d.Addr, "the address to listen on")
	driver := fs.String("store", d.Store.Driver, "store driver: memory, sqlite or postgres")
	dsn := fs.String("dsn", d.Store.DSN, "sqlite path or postgres url")
	redisAddr := fs.String("redis", "", "redis address for sharing rooms between relays")
	flush := fs.Duration("flush-interval", d.FlushInterval, "how often changed rooms are saved")
	advertise := fs.Bool("advertise", false, "advertise the relay over mDNS")
	instance := fs.String("instance", "", "mDNS instance name")
	logLevel := fs.String("log-level", d.LogLevel, "debug, info, warn or error")
	if err := fs.Parse(args); err != nil {
		return Relay{}, err
	}

	cfg := d
	if err := readYAML(*configPath, &cfg); err != nil {
		return Relay{}, err
	}
	if getenv == nil {
		getenv = os.Getenv
	}
	if v := getenv(EnvAddr); v != "" {
		cfg.Addr = v
	}
	if v := getenv(EnvDatabase); v != "" {
		cfg.Store = Store{Driver: "postgres", DSN: v}
	}
	if v := getenv(EnvRedis); v != "" {
		cfg.RedisAddr = v
	}

	set := func(name string, apply func()) {
		if fs.Changed(name) {
			apply()
		}
	}
	set("addr", func() { cfg.Addr = *addr })
	set("store", func() { cfg.Store.Driver = *driver })
	set("dsn", func() { cfg.Store.DSN = *dsn })
	set("redis", func() { cfg.RedisAddr = *redisAddr })
	set("flush-interval", func() { cfg.FlushInterval = *flush })
	set("advertise", func() { cfg.Advertise = *advertise })
	set("instance", func() { cfg.Instance = *instance })
	set("log-level", func() { cfg.LogLevel = *logLevel })

	return cfg, cfg.Validate()
}

// LoadClient parses args (without the program name) into a Client config. Positional arguments are not allowed.
func LoadClient(args []string, getenv func(string) string) (Client, error) {
	fs := pflag.NewFlagSet("client", pflag.ContinueOnError)
	configPath := fs.String("config", "", "path to a yaml config file")
	d := DefaultClient()
	relayURL := fs.String("relay", d.Relay, "relay websocket url")
	services := fs.String("services", "", "base url of the run/package/share services")
	project := fs.StringP("project", "p", "", "project name")
	language := fs.StringP("language", "l", "", "project language")
	user := fs.StringP("user", "u", "", "user id used when sharing files")
	window := fs.Duration("window", d.Window, "quiet period before an edit is sent")
	discover := fs.Bool("discover", false, "find a relay over mDNS instead of --relay")
	logLevel := fs.String("log-level", d.LogLevel, "debug, info, warn or error")
	if err := fs.Parse(args); err != nil {
		return Client{}, err
	}
	if fs.NArg() > 0 {
		return Client{}, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}

	cfg := d
	if err := readYAML(*configPath, &cfg); err != nil {
		return Client{}, err
	}
	if getenv == nil {
		getenv = os.Getenv
	}
	if v := getenv(EnvRelay); v != "" {
		cfg.Relay = v
	}
	if v := getenv(EnvServices); v != "" {
		cfg.Services = v
	}

	set := func(name string, apply func()) {
		if fs.Changed(name) {
			apply()
		}
	}
	set("relay", func() { cfg.Relay = *relayURL })
	set("services", func() { cfg.Services = *services })
	set("project", func() { cfg.Project = *project })
	set("language", func() { cfg.Language = *language })
	set("user", func() { cfg.User = *user })
	set("window", func() { cfg.Window = *window })
	set("discover", func() { cfg.Discover = *discover })
	set("log-level", func() { cfg.LogLevel = *logLevel })

	return cfg, cfg.Validate()
}

func readYAML(path string, into any) error {
	if path == "" {
		return nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, into); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return nil
}

// NewLogger builds the stderr text logger used by the binaries.
func NewLogger(level string) (*slog.Logger, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return nil, errors.Join(fmt.Errorf("invalid log level %q", level), err)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})), nil
}
