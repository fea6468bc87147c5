// Package config loads gateway configuration from an optional YAML file
// with environment-variable overrides for the secrets and addresses that
// differ per deployment.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"poolSize"`
}

type Mongo struct {
	URI         string `yaml:"uri"`
	Database    string `yaml:"database"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	AuthSource  string `yaml:"authSource"`
	MaxPoolSize int    `yaml:"maxPoolSize"`
	MaxRetry    int    `yaml:"maxRetry"`
}

type NATS struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subjectPrefix"`
}

type RoomService struct {
	URL    string `yaml:"url"`
	APIKey string `yaml:"apiKey"`
}

type Scheduler struct {
	SweepEvery     string `yaml:"sweepEvery"`
	ReminderWindow string `yaml:"reminderWindow"`
}

type Config struct {
	NodeID         int64       `yaml:"nodeId"`
	HTTPAddr       string      `yaml:"httpAddr"`
	AllowedOrigins []string    `yaml:"allowedOrigins"`
	JWTSecret      string      `yaml:"jwtSecret"`
	Redis          Redis       `yaml:"redis"`
	Mongo          Mongo       `yaml:"mongo"`
	NATS           NATS        `yaml:"nats"`
	RoomService    RoomService `yaml:"roomService"`
	Scheduler      Scheduler   `yaml:"scheduler"`
}

// Load reads path when it exists, applies env overrides and defaults.
// A missing file is not an error; env plus defaults must be enough to boot
// a development gateway.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, errors.Wrapf(err, "parse config %s", path)
			}
		} else if !os.IsNotExist(err) {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
	}
	cfg.applyEnv()
	cfg.norm()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("CAREBRIDGE_HTTP_ADDR"); v != "" {
		c.HTTPAddr = v
	}
	if v := os.Getenv("CAREBRIDGE_REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("CAREBRIDGE_REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("CAREBRIDGE_MONGO_URI"); v != "" {
		c.Mongo.URI = v
	}
	if v := os.Getenv("CAREBRIDGE_NATS_URL"); v != "" {
		c.NATS.URL = v
	}
	if v := os.Getenv("CAREBRIDGE_JWT_SECRET"); v != "" {
		c.JWTSecret = v
	}
	if v := os.Getenv("CAREBRIDGE_NODE_ID"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.NodeID = n
		}
	}
}

func (c *Config) norm() {
	if c.NodeID <= 0 {
		c.NodeID = 1
	}
	if c.HTTPAddr == "" {
		c.HTTPAddr = ":8080"
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "127.0.0.1:6379"
	}
	if c.Mongo.URI == "" {
		c.Mongo.URI = "mongodb://localhost:27017"
	}
	if c.Mongo.Database == "" {
		c.Mongo.Database = "carebridge"
	}
}

// SweepEveryDuration parses the scheduler sweep period, defaulting on bad
// or missing input.
func (c *Config) SweepEveryDuration() time.Duration {
	return parseDuration(c.Scheduler.SweepEvery, time.Minute)
}

func (c *Config) ReminderWindowDuration() time.Duration {
	return parseDuration(c.Scheduler.ReminderWindow, 15*time.Minute)
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
