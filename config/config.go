// Package config loads the service configuration file.
package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

type Config struct {
	Http struct {
		Port           int           `yaml:"port"`
		Timeout        time.Duration `yaml:"timeout"`
		AllowedOrigins []string      `yaml:"allowed_origins"`
		MaxBodyBytes   int64         `yaml:"max_body_bytes"`
	} `yaml:"http"`
	Log struct {
		Level    string `yaml:"level"`
		Encoding string `yaml:"encoding"`
		File     string `yaml:"file"`
		MaxSize  int    `yaml:"max_size_mb"`
		MaxAge   int    `yaml:"max_age_days"`
		Backups  int    `yaml:"max_backups"`
	} `yaml:"log"`
	Artifacts struct {
		ColumnsPath string        `yaml:"columns_path"`
		ModelPath   string        `yaml:"model_path"`
		ModelType   string        `yaml:"model_type"`
		Watch       bool          `yaml:"watch"`
		Debounce    time.Duration `yaml:"debounce"`
	} `yaml:"artifacts"`
	Cache struct {
		Size int `yaml:"size"`
	} `yaml:"cache"`
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`
	Monitor struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"monitor"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	var c Config
	c.applyDefaults()
	c.Monitor.Enabled = true
	return &c
}

func (c *Config) applyDefaults() {
	if c.Http.Port == 0 {
		c.Http.Port = 5000
	}
	if c.Http.Timeout == 0 {
		c.Http.Timeout = 30 * time.Second
	}
	if len(c.Http.AllowedOrigins) == 0 {
		c.Http.AllowedOrigins = []string{"*"}
	}
	if c.Http.MaxBodyBytes == 0 {
		c.Http.MaxBodyBytes = 1 << 20
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Encoding == "" {
		c.Log.Encoding = "json"
	}
	if c.Log.MaxSize == 0 {
		c.Log.MaxSize = 100
	}
	if c.Artifacts.ColumnsPath == "" {
		c.Artifacts.ColumnsPath = "artifacts/columns.json"
	}
	if c.Artifacts.ModelPath == "" {
		c.Artifacts.ModelPath = "artifacts/model.json"
	}
	if c.Artifacts.ModelType == "" {
		c.Artifacts.ModelType = "gradient_boosting"
	}
	if c.Artifacts.Debounce == 0 {
		c.Artifacts.Debounce = 250 * time.Millisecond
	}
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	if c.Http.Port < 0 || c.Http.Port > 65535 {
		return fmt.Errorf("http.port %d out of range", c.Http.Port)
	}
	if c.Http.Timeout < 0 {
		return errors.New("http.timeout must not be negative")
	}
	if c.Cache.Size < 0 {
		return errors.New("cache.size must not be negative")
	}
	switch c.Log.Encoding {
	case "json", "console":
	default:
		return fmt.Errorf("log.encoding %q must be json or console", c.Log.Encoding)
	}
	return nil
}

// Load reads path. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "open config")
	}
	defer file.Close()

	var config Config
	config.Monitor.Enabled = true
	if err := yaml.NewDecoder(file).Decode(&config); err != nil && err != io.EOF {
		return nil, errors.Wrapf(err, "decode config %s", path)
	}
	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}
