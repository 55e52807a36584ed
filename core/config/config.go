package config

import (
	"fmt"
	"net"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

var (
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Store drivers
const (
	StoreJSON   = "json"
	StoreSQLite = "sqlite"
)

// Sampling providers
const (
	SamplingClient     = "client"
	SamplingOpenRouter = "openrouter"
)

// Registry guards
const (
	GuardMutex   = "mutex"
	GuardSyncMap = "syncmap"
)

// Config is the complete server configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Session  SessionConfig  `yaml:"session"`
	Store    StoreConfig    `yaml:"store"`
	Sampling SamplingConfig `yaml:"sampling"`
	Log      LogConfig      `yaml:"log"`
	Ngrok    NgrokConfig    `yaml:"ngrok"`
}

// ServerConfig controls the HTTP listener and the router
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Endpoint        string        `yaml:"endpoint"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
	InitRate        float64       `yaml:"init_rate"`
	InitBurst       int           `yaml:"init_burst"`
	KeepAlive       time.Duration `yaml:"keep_alive"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// SessionConfig controls the session registry
type SessionConfig struct {
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	SweepInterval     time.Duration `yaml:"sweep_interval"`
	EvictOnDisconnect bool          `yaml:"evict_on_disconnect"`
	Guard             string        `yaml:"guard"`
}

// StoreConfig selects the user store
type StoreConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
	// Seed is imported into an empty SQLite store.
	Seed string `yaml:"seed"`
}

// SamplingConfig selects who answers sampling requests the client cannot
type SamplingConfig struct {
	Provider   string           `yaml:"provider"`
	Timeout    time.Duration    `yaml:"timeout"`
	OpenRouter OpenRouterConfig `yaml:"openrouter"`
}

// OpenRouterConfig configures the server-side sampling fallback
type OpenRouterConfig struct {
	APIKey          string `yaml:"api_key"`
	BaseURL         string `yaml:"base_url"`
	Model           string `yaml:"model"`
	ReasoningEffort string `yaml:"reasoning_effort"`
}

// LogConfig controls the global logger
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// NgrokConfig controls the optional public tunnel
type NgrokConfig struct {
	Enabled   bool   `yaml:"enabled"`
	AuthToken string `yaml:"auth_token"`
	Domain    string `yaml:"domain"`
}

// Default returns the built-in configuration
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            5000,
			Endpoint:        "/rpc",
			MaxBodyBytes:    4 << 20,
			InitRate:        5,
			InitBurst:       20,
			KeepAlive:       25 * time.Second,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Session: SessionConfig{
			IdleTimeout:       30 * time.Minute,
			SweepInterval:     time.Minute,
			EvictOnDisconnect: true,
			Guard:             GuardMutex,
		},
		Store: StoreConfig{
			Driver: StoreJSON,
			Path:   "data/users.json",
		},
		Sampling: SamplingConfig{
			Provider: SamplingClient,
			Timeout:  60 * time.Second,
			OpenRouter: OpenRouterConfig{
				BaseURL:         "https://openrouter.ai/api/v1",
				Model:           "openai/gpt-5",
				ReasoningEffort: "minimal",
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load builds the configuration from the defaults, the YAML file at path
// (skipped when path is empty) and the process environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.MergeFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadDotEnv loads variables from the given .env files into the environment
// without overriding variables already set. Missing files are ignored.
func LoadDotEnv(files ...string) ([]string, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	var loaded []string
	for _, f := range files {
		if _, err := os.Stat(f); os.IsNotExist(err) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return loaded, errors.Wrapf(err, "load %s", f)
		}
		loaded = append(loaded, f)
	}
	return loaded, nil
}

// MergeFile overlays the YAML file at path onto c
func (c *Config) MergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "read config file")
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return errors.Wrapf(ErrInvalidConfig, "parse %s: %v", path, err)
	}
	return nil
}

// ApplyEnv overrides c with environment variables read through lookup
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	e := envReader{lookup: lookup}

	e.setString("HOST", &c.Server.Host)
	e.setInt("PORT", &c.Server.Port)
	e.setString("RPC_ENDPOINT", &c.Server.Endpoint)
	e.setInt64("MAX_BODY_BYTES", &c.Server.MaxBodyBytes)
	e.setFloat("INIT_RATE", &c.Server.InitRate)
	e.setInt("INIT_BURST", &c.Server.InitBurst)

	e.setDuration("SESSION_IDLE_TIMEOUT", &c.Session.IdleTimeout)
	e.setDuration("SESSION_SWEEP_INTERVAL", &c.Session.SweepInterval)
	e.setBool("SESSION_EVICT_ON_DISCONNECT", &c.Session.EvictOnDisconnect)
	e.setString("SESSION_GUARD", &c.Session.Guard)

	e.setString("STORE_DRIVER", &c.Store.Driver)
	e.setString("STORE_PATH", &c.Store.Path)
	e.setString("STORE_SEED", &c.Store.Seed)

	e.setString("SAMPLING_PROVIDER", &c.Sampling.Provider)
	e.setDuration("SAMPLING_TIMEOUT", &c.Sampling.Timeout)
	e.setString("OPENROUTER_API_KEY", &c.Sampling.OpenRouter.APIKey)
	e.setString("OPENROUTER_BASE_URL", &c.Sampling.OpenRouter.BaseURL)
	e.setString("OPENROUTER_MODEL", &c.Sampling.OpenRouter.Model)
	e.setString("OPENROUTER_REASONING_EFFORT", &c.Sampling.OpenRouter.ReasoningEffort)

	e.setString("LOG_LEVEL", &c.Log.Level)
	e.setString("LOG_FORMAT", &c.Log.Format)

	e.setBool("NGROK_ENABLED", &c.Ngrok.Enabled)
	e.setString("NGROK_AUTH_TOKEN", &c.Ngrok.AuthToken)
	e.setString("NGROK_AUTHTOKEN", &c.Ngrok.AuthToken)
	e.setString("NGROK_DOMAIN", &c.Ngrok.Domain)

	return e.err
}

// Validate checks the configuration for values the server cannot run with
func (c Config) Validate() error {
	var problems []string
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}
	if !strings.HasPrefix(c.Server.Endpoint, "/") {
		problems = append(problems, "server.endpoint must start with /")
	}
	if c.Server.MaxBodyBytes <= 0 {
		problems = append(problems, "server.max_body_bytes must be positive")
	}
	for name, d := range map[string]time.Duration{
		"server.keep_alive":      c.Server.KeepAlive,
		"session.idle_timeout":   c.Session.IdleTimeout,
		"session.sweep_interval": c.Session.SweepInterval,
		"sampling.timeout":       c.Sampling.Timeout,
	} {
		if d <= 0 {
			problems = append(problems, name+" must be positive")
		}
	}
	switch c.Session.Guard {
	case GuardMutex, GuardSyncMap:
	default:
		problems = append(problems, fmt.Sprintf("unknown session.guard %q", c.Session.Guard))
	}
	switch c.Store.Driver {
	case StoreJSON, StoreSQLite:
	default:
		problems = append(problems, fmt.Sprintf("unknown store.driver %q", c.Store.Driver))
	}
	if c.Store.Path == "" {
		problems = append(problems, "store.path is required")
	}
	switch c.Sampling.Provider {
	case SamplingClient:
	case SamplingOpenRouter:
		if c.Sampling.OpenRouter.APIKey == "" {
			problems = append(problems, "sampling.openrouter.api_key is required (OPENROUTER_API_KEY)")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown sampling.provider %q", c.Sampling.Provider))
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		problems = append(problems, fmt.Sprintf("unknown log.format %q", c.Log.Format))
	}

	if len(problems) > 0 {
		sort.Strings(problems)
		return errors.Wrap(ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// YAML renders the configuration in the file format MergeFile reads
func (c Config) YAML() ([]byte, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return nil, errors.Wrap(err, "marshal config")
	}
	return out, nil
}

// Addr is the host:port the HTTP server listens on
func (c Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// envReader applies variables and keeps the first parse error
type envReader struct {
	lookup func(string) (string, bool)
	err    error
}

func (e *envReader) get(key string) (string, bool) {
	v, ok := e.lookup(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (e *envReader) fail(key, value string, err error) {
	if e.err == nil {
		e.err = errors.Wrapf(ErrInvalidConfig, "%s=%q: %v", key, value, err)
	}
}

func (e *envReader) setString(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) setInt(key string, dst *int) {
	if v, ok := e.get(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) setInt64(key string, dst *int64) {
	if v, ok := e.get(key); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) setFloat(key string, dst *float64) {
	if v, ok := e.get(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = f
	}
}

func (e *envReader) setBool(key string, dst *bool) {
	if v, ok := e.get(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = b
	}
}

func (e *envReader) setDuration(key string, dst *time.Duration) {
	if v, ok := e.get(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = d
	}
}
