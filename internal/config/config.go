// Package config loads the service configuration: built-in defaults, then an
// optional TOML file named by GRADER_CONFIG, then environment variables. A
// .env file in the working directory is loaded into the environment first.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

const (
	DriverProcess = "process"
	DriverDocker  = "docker"
)

type Config struct {
	Server   ServerConfig   `toml:"server"`
	Db       DbConfig       `toml:"db"`
	Sandbox  SandboxConfig  `toml:"sandbox"`
	Workers  WorkersConfig  `toml:"workers"`
	Limits   LimitsConfig   `toml:"limits"`
	Problems ProblemsConfig `toml:"problems"`
	Nats     NatsConfig     `toml:"nats"`
}

type ServerConfig struct {
	Port string `toml:"port"`
	// Timeouts are in seconds.
	ReadTimeout  int `toml:"read_timeout"`
	WriteTimeout int `toml:"write_timeout"`
	IdleTimeout  int `toml:"idle_timeout"`
}

type DbConfig struct {
	Enabled  bool   `toml:"enabled"`
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Name     string `toml:"name"`
	SSLMode  string `toml:"sslmode"`
}

type SandboxConfig struct {
	Driver string `toml:"driver"`
	// Python overrides the interpreter the process driver launches.
	Python         string `toml:"python"`
	Image          string `toml:"image"`
	WallTimeoutMs  int    `toml:"wall_timeout_ms"`
	CPUSeconds     int    `toml:"cpu_seconds"`
	MemoryMB       int    `toml:"memory_mb"`
	MaxOutputBytes int64  `toml:"max_output_bytes"`
	MaxProcesses   int    `toml:"max_processes"`
	ScratchRoot    string `toml:"scratch_root"`
	CgroupRoot     string `toml:"cgroup_root"`
	Slots          int    `toml:"slots"`
}

func (s SandboxConfig) WallTimeout() time.Duration {
	return time.Duration(s.WallTimeoutMs) * time.Millisecond
}

func (s SandboxConfig) CPUTime() time.Duration {
	return time.Duration(s.CPUSeconds) * time.Second
}

type WorkersConfig struct {
	Count         int `toml:"count"`
	QueueCapacity int `toml:"queue_capacity"`
}

type LimitsConfig struct {
	GlobalRPS     float64 `toml:"global_rps"`
	PerIPRPS      float64 `toml:"per_ip_rps"`
	PerIPBurst    int     `toml:"per_ip_burst"`
	MaxConcurrent int     `toml:"max_concurrent"`
	// TrustedProxies lists the CIDRs whose X-Forwarded-For header is
	// believed. Requests from anywhere else are keyed by peer address.
	TrustedProxies []string `toml:"trusted_proxies"`
}

type ProblemsConfig struct {
	// Dir holds extra *.toml problem files loaded on top of the built-ins.
	Dir string `toml:"dir"`
}

type NatsConfig struct {
	// URL empty disables publishing.
	URL     string `toml:"url"`
	Subject string `toml:"subject"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         "5002",
			ReadTimeout:  15,
			WriteTimeout: 30,
			IdleTimeout:  60,
		},
		Db: DbConfig{
			Host:    "localhost",
			Port:    5432,
			User:    "postgres",
			Name:    "grader",
			SSLMode: "disable",
		},
		Sandbox: SandboxConfig{
			Driver:         DriverProcess,
			Image:          "python:3.11-slim",
			WallTimeoutMs:  5000,
			CPUSeconds:     5,
			MemoryMB:       256,
			MaxOutputBytes: 1 << 20,
			MaxProcesses:   64,
			Slots:          4,
		},
		Workers: WorkersConfig{
			Count:         4,
			QueueCapacity: 100,
		},
		Limits: LimitsConfig{
			GlobalRPS:     100,
			PerIPRPS:      10,
			PerIPBurst:    20,
			MaxConcurrent: 50,
		},
		Nats: NatsConfig{
			Subject: "grader.results",
		},
	}
}

func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	conf := Default()
	if path := os.Getenv("GRADER_CONFIG"); path != "" {
		if err := conf.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := conf.applyEnv(); err != nil {
		return nil, err
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) Validate() error {
	switch c.Sandbox.Driver {
	case DriverProcess, DriverDocker:
	default:
		return fmt.Errorf("unknown sandbox driver %q", c.Sandbox.Driver)
	}
	if c.Server.Port == "" {
		return errors.New("server port is required")
	}
	if c.Sandbox.WallTimeoutMs <= 0 {
		return errors.New("sandbox wall timeout must be positive")
	}
	if c.Sandbox.Slots < 1 {
		return errors.New("sandbox slots must be at least 1")
	}
	if c.Workers.Count < 1 {
		return errors.New("worker count must be at least 1")
	}
	if c.Workers.QueueCapacity < 0 {
		return errors.New("queue capacity must not be negative")
	}
	return nil
}

func (c *Config) applyEnv() error {
	e := &envReader{}

	e.setString("PORT", &c.Server.Port)
	e.setInt("SERVER_READ_TIMEOUT", &c.Server.ReadTimeout)
	e.setInt("SERVER_WRITE_TIMEOUT", &c.Server.WriteTimeout)
	e.setInt("SERVER_IDLE_TIMEOUT", &c.Server.IdleTimeout)

	e.setBool("DB_ENABLED", &c.Db.Enabled)
	e.setString("DB_HOST", &c.Db.Host)
	e.setInt("DB_PORT", &c.Db.Port)
	e.setString("DB_USER", &c.Db.User)
	e.setString("DB_PASS", &c.Db.Password)
	e.setString("DB_NAME", &c.Db.Name)
	e.setString("DB_SSLMODE", &c.Db.SSLMode)

	e.setString("SANDBOX_DRIVER", &c.Sandbox.Driver)
	e.setString("SANDBOX_PYTHON", &c.Sandbox.Python)
	e.setString("SANDBOX_IMAGE", &c.Sandbox.Image)
	e.setInt("SANDBOX_WALL_TIMEOUT_MS", &c.Sandbox.WallTimeoutMs)
	e.setInt("SANDBOX_CPU_SECONDS", &c.Sandbox.CPUSeconds)
	e.setInt("SANDBOX_MEMORY_MB", &c.Sandbox.MemoryMB)
	e.setInt64("SANDBOX_MAX_OUTPUT_BYTES", &c.Sandbox.MaxOutputBytes)
	e.setInt("SANDBOX_MAX_PROCESSES", &c.Sandbox.MaxProcesses)
	e.setString("SANDBOX_SCRATCH_ROOT", &c.Sandbox.ScratchRoot)
	e.setString("SANDBOX_CGROUP_ROOT", &c.Sandbox.CgroupRoot)
	e.setInt("SANDBOX_SLOTS", &c.Sandbox.Slots)

	e.setInt("WORKERS", &c.Workers.Count)
	e.setInt("QUEUE_CAPACITY", &c.Workers.QueueCapacity)

	e.setFloat("RATE_GLOBAL_RPS", &c.Limits.GlobalRPS)
	e.setFloat("RATE_PER_IP_RPS", &c.Limits.PerIPRPS)
	e.setInt("RATE_PER_IP_BURST", &c.Limits.PerIPBurst)
	e.setInt("RATE_MAX_CONCURRENT", &c.Limits.MaxConcurrent)
	e.setList("RATE_TRUSTED_PROXIES", &c.Limits.TrustedProxies)

	e.setString("PROBLEMS_DIR", &c.Problems.Dir)

	e.setString("NATS_URL", &c.Nats.URL)
	e.setString("NATS_SUBJECT", &c.Nats.Subject)

	return errors.Join(e.errs...)
}

// envReader overwrites a field only when its variable is set, collecting
// every parse error instead of stopping at the first.
type envReader struct {
	errs []error
}

func (e *envReader) lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	return strings.TrimSpace(v), ok
}

func (e *envReader) setString(key string, dst *string) {
	if v, ok := e.lookup(key); ok {
		*dst = v
	}
}

func (e *envReader) setInt(key string, dst *int) {
	if v, ok := e.lookup(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*dst = n
	}
}

func (e *envReader) setInt64(key string, dst *int64) {
	if v, ok := e.lookup(key); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*dst = n
	}
}

func (e *envReader) setFloat(key string, dst *float64) {
	if v, ok := e.lookup(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*dst = f
	}
}

func (e *envReader) setBool(key string, dst *bool) {
	if v, ok := e.lookup(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*dst = b
	}
}

// setList reads a comma-separated list, dropping empty items.
func (e *envReader) setList(key string, dst *[]string) {
	if v, ok := e.lookup(key); ok {
		var items []string
		for _, item := range strings.Split(v, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		*dst = items
	}
}
