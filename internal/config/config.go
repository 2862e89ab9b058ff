package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port           string   `yaml:"port"`
		Mode           string   `yaml:"mode"`
		AllowedOrigins []string `yaml:"allowedOrigins"`
	} `yaml:"server"`
	Log struct {
		File       string `yaml:"file"`
		MaxSizeMB  int    `yaml:"maxSizeMB"`
		MaxBackups int    `yaml:"maxBackups"`
		MaxAgeDays int    `yaml:"maxAgeDays"`
	} `yaml:"log"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		LockTTL  string `yaml:"lockTTL"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Mongo struct {
		URI      string `yaml:"uri"`
		Database string `yaml:"database"`
	} `yaml:"mongo"`
	AMQP struct {
		URI      string `yaml:"uri"`
		Exchange string `yaml:"exchange"`
	} `yaml:"amqp"`
	Auth struct {
		JWTSecret string `yaml:"jwtSecret"`
	} `yaml:"auth"`
	Scoring struct {
		PassThreshold int `yaml:"passThreshold"`
	} `yaml:"scoring"`
	Cache struct {
		ModuleTTL string `yaml:"moduleTTL"`
	} `yaml:"cache"`
	Leaderboard struct {
		PageSize   int `yaml:"pageSize"`
		TopSize    int `yaml:"topSize"`
		NearRadius int `yaml:"nearRadius"`
	} `yaml:"leaderboard"`
	RateLimit struct {
		RequestsPerMinute int    `yaml:"requestsPerMinute"`
		Submissions       int    `yaml:"submissions"`
		SubmissionWindow  string `yaml:"submissionWindow"`
	} `yaml:"rateLimit"`
}

// Load reads YAML config from path and applies defaults.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	cfg.applyDefaults()
	// Secrets come from the environment when present.
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		cfg.Auth.JWTSecret = secret
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Mode == "" {
		c.Server.Mode = "debug"
	}
	if c.Scoring.PassThreshold <= 0 {
		c.Scoring.PassThreshold = 70
	}
	if c.Leaderboard.PageSize <= 0 {
		c.Leaderboard.PageSize = 50
	}
	if c.Leaderboard.TopSize <= 0 {
		c.Leaderboard.TopSize = 10
	}
	if c.Leaderboard.NearRadius <= 0 {
		c.Leaderboard.NearRadius = 5
	}
	if c.RateLimit.RequestsPerMinute <= 0 {
		c.RateLimit.RequestsPerMinute = 120
	}
	if c.RateLimit.Submissions <= 0 {
		c.RateLimit.Submissions = 10
	}
	if c.Mongo.Database == "" {
		c.Mongo.Database = "cyberguard"
	}
	if c.AMQP.Exchange == "" {
		c.AMQP.Exchange = "progress.events"
	}
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
