package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// AppConfig holds the settings shared by every service
type AppConfig struct {
	PlatformDomain   string
	SecretKey        string
	SessionLifetime  time.Duration
	DisableCaptcha   bool
	KafkaBroker      string
	PlatformAdmin    BootstrapOperator
	LogLevel         string
	LogFormat        string
	Redis            RedisConfig
	ProvisionTimeout time.Duration
}

// BootstrapOperator is created on first start when no operator exists
type BootstrapOperator struct {
	Username string
	Email    string
	Password string
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host         string
	Port         string
	Password     string
	DB           int
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
	MinIdleConns int
}

// Addr returns host:port
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// LoadAppConfig reads AppConfig from the environment
func LoadAppConfig() (*AppConfig, error) {
	cfg := &AppConfig{
		PlatformDomain:   strings.ToLower(getEnv("PLATFORM_DOMAIN", "platform.example")),
		SecretKey:        getEnv("SECRET_KEY", ""),
		SessionLifetime:  getDuration("SESSION_LIFETIME", 30*time.Minute),
		DisableCaptcha:   getBool("DISABLE_CAPTCHA", false),
		KafkaBroker:      getEnv("KAFKA_BROKER", ""),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		LogFormat:        getEnv("LOG_FORMAT", "json"),
		ProvisionTimeout: getDuration("PROVISION_TIMEOUT", 30*time.Second),
		PlatformAdmin: BootstrapOperator{
			Username: getEnv("PLATFORM_ADMIN_USERNAME", "operator"),
			Email:    getEnv("PLATFORM_ADMIN_EMAIL", ""),
			Password: getEnv("PLATFORM_ADMIN_PASSWORD", ""),
		},
		Redis: RedisConfig{
			Host:         getEnv("REDIS_HOST", "localhost"),
			Port:         getEnv("REDIS_PORT", "6379"),
			Password:     getEnv("REDIS_PASSWORD", ""),
			DB:           getInt("REDIS_DB", 0),
			MaxRetries:   getInt("REDIS_MAX_RETRIES", 2),
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
			PoolSize:     10,
			MinIdleConns: 5,
		},
	}

	if cfg.SecretKey == "" {
		return nil, fmt.Errorf("SECRET_KEY must be set")
	}
	if len(cfg.SecretKey) < 32 {
		return nil, fmt.Errorf("SECRET_KEY must be at least 32 bytes")
	}
	if cfg.SessionLifetime <= 0 {
		return nil, fmt.Errorf("SESSION_LIFETIME must be positive")
	}
	return cfg, nil
}

// ConfigureLogging applies level and format to the standard logrus logger
func (c *AppConfig) ConfigureLogging() {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	if c.LogFormat == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	d, err := time.ParseDuration(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return d
}

func getBool(key string, defaultValue bool) bool {
	b, err := strconv.ParseBool(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return b
}

func getInt(key string, defaultValue int) int {
	i, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return i
}
