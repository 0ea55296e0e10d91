package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port        int      `yaml:"port"`
		CORSOrigins []string `yaml:"corsOrigins"`
		RateLimit   struct {
			Capacity        int     `yaml:"capacity"`
			RefillPerSecond float64 `yaml:"refillPerSecond"`
		} `yaml:"rateLimit"`
		ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	} `yaml:"server"`

	LLM struct {
		Provider  string `yaml:"provider"` // openai | eino
		Model     string `yaml:"model"`
		BaseURL   string `yaml:"baseURL"`
		APIKey    string `yaml:"apiKey"`
		MaxTokens int    `yaml:"maxTokens"`
	} `yaml:"llm"`

	Reflection struct {
		MaxAttempts    int           `yaml:"maxAttempts"`
		AttemptTimeout time.Duration `yaml:"attemptTimeout"`
	} `yaml:"reflection"`

	Sandbox struct {
		Image        string `yaml:"image"`
		DockerBinary string `yaml:"dockerBinary"`
		WorkDir      string `yaml:"workDir"`
		Memory       string `yaml:"memory"`
		CPUs         string `yaml:"cpus"`
		Network      string `yaml:"network"`
	} `yaml:"sandbox"`

	Database struct {
		Driver   string `yaml:"driver"` // none | mysql | postgres | sqlite
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		Name     string `yaml:"name"`
		DSN      string `yaml:"dsn"`
	} `yaml:"database"`

	Minio struct {
		Enabled    bool   `yaml:"enabled"`
		Endpoint   string `yaml:"endpoint"`
		AccessKey  string `yaml:"accessKey"`
		SecretKey  string `yaml:"secretKey"`
		BucketName string `yaml:"bucketName"`
		Region     string `yaml:"region"`
		UseSSL     bool   `yaml:"useSSL"`
		Prefix     string `yaml:"prefix"`
	} `yaml:"minio"`

	Log struct {
		Level       string `yaml:"level"`
		Development bool   `yaml:"development"`
	} `yaml:"log"`
}

// Path returns CONFIG_PATH or config.yaml.
func Path() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return "config.yaml"
}

// Load reads .env (if present), then the YAML file, then applies env
// overrides and defaults.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	for env, dst := range map[string]*string{
		"OPENAI_API_KEY":   &c.LLM.APIKey,
		"DATABASE_DSN":     &c.Database.DSN,
		"MINIO_ACCESS_KEY": &c.Minio.AccessKey,
		"MINIO_SECRET_KEY": &c.Minio.SecretKey,
	} {
		if v := os.Getenv(env); v != "" {
			*dst = v
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if len(c.Server.CORSOrigins) == 0 {
		c.Server.CORSOrigins = []string{"*"}
	}
	if c.Server.RateLimit.Capacity == 0 {
		c.Server.RateLimit.Capacity = 30
	}
	if c.Server.RateLimit.RefillPerSecond == 0 {
		c.Server.RateLimit.RefillPerSecond = 1
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 15 * time.Second
	}
	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}
	if c.LLM.Model == "" {
		c.LLM.Model = "gpt-4o-mini"
	}
	if c.LLM.MaxTokens == 0 {
		c.LLM.MaxTokens = 2048
	}
	if c.Reflection.MaxAttempts == 0 {
		c.Reflection.MaxAttempts = 3
	}
	if c.Reflection.AttemptTimeout == 0 {
		c.Reflection.AttemptTimeout = 2 * time.Minute
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "none"
	}
	if c.Minio.Region == "" {
		c.Minio.Region = "us-east-1"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// CheckLLM reports whether the LLM client can authenticate. The public API
// needs a key; a custom baseURL may be a keyless local server.
func (c *Config) CheckLLM() error {
	if c.LLM.APIKey == "" && c.LLM.BaseURL == "" {
		return errors.New("llm.apiKey: required for the public API (set OPENAI_API_KEY)")
	}
	if c.LLM.Model == "" {
		return errors.New("llm.model: required")
	}
	return nil
}

// Validate lists every invalid field in one error.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port: %d out of range", c.Server.Port))
	}
	switch c.LLM.Provider {
	case "openai", "eino":
	default:
		errs = append(errs, fmt.Errorf("llm.provider: unknown provider %q", c.LLM.Provider))
	}
	if c.Reflection.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("reflection.maxAttempts: must be at least 1"))
	}
	if c.Reflection.AttemptTimeout < 0 {
		errs = append(errs, fmt.Errorf("reflection.attemptTimeout: must not be negative"))
	}
	switch c.Database.Driver {
	case "none":
	case "mysql", "postgres":
		if c.Database.DSN == "" && c.Database.Host == "" {
			errs = append(errs, fmt.Errorf("database.host: required for driver %s", c.Database.Driver))
		}
	case "sqlite":
		if c.Database.DSN == "" && c.Database.Name == "" {
			errs = append(errs, fmt.Errorf("database.name: sqlite needs a file name or dsn"))
		}
	default:
		errs = append(errs, fmt.Errorf("database.driver: unknown driver %q", c.Database.Driver))
	}
	if c.Minio.Enabled && (c.Minio.Endpoint == "" || c.Minio.BucketName == "") {
		errs = append(errs, fmt.Errorf("minio: endpoint and bucketName are required when enabled"))
	}
	return errors.Join(errs...)
}

// MySQLDSN builds the go-sql-driver DSN unless database.dsn is set.
func (c *Config) MySQLDSN() string {
	if c.Database.DSN != "" {
		return c.Database.DSN
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4&loc=UTC",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
	)
}

// PostgresDSN builds a lib/pq URL unless database.dsn is set.
func (c *Config) PostgresDSN() string {
	if c.Database.DSN != "" {
		return c.Database.DSN
	}
	port := c.Database.Port
	if port == 0 {
		port = 5432
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.Database.User, c.Database.Password),
		Host:     fmt.Sprintf("%s:%d", c.Database.Host, port),
		Path:     "/" + c.Database.Name,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

// SQLitePath returns database.dsn or database.name.
func (c *Config) SQLitePath() string {
	if c.Database.DSN != "" {
		return c.Database.DSN
	}
	return strings.TrimSpace(c.Database.Name)
}
