// Package config loads the settings shared by the API server and passportctl.
// Values come from defaults, an optional passport.yaml and PASSPORT_*
// environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	fileName  = "passport"
	fileType  = "yaml"
	envPrefix = "PASSPORT"
)

// Config keys. Nested keys map to env vars with "." replaced by "_", so
// neo4j.url is PASSPORT_NEO4J_URL.
const (
	KeyPort             = "http.port"
	KeyMetricsPort      = "http.metrics_port"
	KeyCORSOrigin       = "http.cors_origin"
	KeyRateLimit        = "http.rate_limit"
	KeyRateBurst        = "http.rate_burst"
	KeyNeo4jURL         = "neo4j.url"
	KeyNeo4jUser        = "neo4j.user"
	KeyNeo4jPass        = "neo4j.pass"
	KeyNeo4jDatabase    = "neo4j.database"
	KeyNATSURL          = "nats.url"
	KeyBreakerThreshold = "breaker.fail_threshold"
	KeyBreakerTimeout   = "breaker.timeout"
	KeyLogLevel         = "log.level"
)

// Config holds all runtime configuration.
type Config struct {
	Port          string
	MetricsPort   string
	CORSOrigin    string
	RateLimit     float64
	RateBurst     int
	Neo4jURL      string
	Neo4jUser     string
	Neo4jPass     string
	Neo4jDatabase string
	// NATSURL is optional; an empty value disables event publishing.
	NATSURL          string
	BreakerThreshold int
	BreakerTimeout   time.Duration
	LogLevel         string
}

// New returns a viper instance with defaults and environment binding set,
// without reading any file.
func New() *viper.Viper {
	v := viper.New()
	v.SetDefault(KeyPort, "8080")
	v.SetDefault(KeyMetricsPort, "")
	v.SetDefault(KeyCORSOrigin, "*")
	v.SetDefault(KeyRateLimit, 10.0)
	v.SetDefault(KeyRateBurst, 20)
	v.SetDefault(KeyNeo4jURL, "neo4j://localhost:7687")
	v.SetDefault(KeyNeo4jUser, "neo4j")
	v.SetDefault(KeyNeo4jPass, "password")
	v.SetDefault(KeyNeo4jDatabase, "")
	v.SetDefault(KeyNATSURL, "")
	v.SetDefault(KeyBreakerThreshold, 5)
	v.SetDefault(KeyBreakerTimeout, 30*time.Second)
	v.SetDefault(KeyLogLevel, "info")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load builds the configuration. When file is empty, passport.yaml is looked
// up in the working directory and /etc/passport, and a missing file is not an
// error. An explicit file must exist.
func Load(v *viper.Viper, file string) (Config, error) {
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName(fileName)
		v.SetConfigType(fileType)
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/passport")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := Config{
		Port:             v.GetString(KeyPort),
		MetricsPort:      v.GetString(KeyMetricsPort),
		CORSOrigin:       v.GetString(KeyCORSOrigin),
		RateLimit:        v.GetFloat64(KeyRateLimit),
		RateBurst:        v.GetInt(KeyRateBurst),
		Neo4jURL:         v.GetString(KeyNeo4jURL),
		Neo4jUser:        v.GetString(KeyNeo4jUser),
		Neo4jPass:        v.GetString(KeyNeo4jPass),
		Neo4jDatabase:    v.GetString(KeyNeo4jDatabase),
		NATSURL:          v.GetString(KeyNATSURL),
		BreakerThreshold: v.GetInt(KeyBreakerThreshold),
		BreakerTimeout:   v.GetDuration(KeyBreakerTimeout),
		LogLevel:         v.GetString(KeyLogLevel),
	}
	return cfg, cfg.Validate()
}

// Validate rejects settings the server cannot start with.
func (c Config) Validate() error {
	var errs []error
	if c.Port == "" {
		errs = append(errs, errors.New("http.port is required"))
	}
	if c.Neo4jURL == "" {
		errs = append(errs, errors.New("neo4j.url is required"))
	}
	if c.RateLimit <= 0 || c.RateBurst <= 0 {
		errs = append(errs, errors.New("http.rate_limit and http.rate_burst must be positive"))
	}
	if c.BreakerThreshold <= 0 || c.BreakerTimeout <= 0 {
		errs = append(errs, errors.New("breaker.fail_threshold and breaker.timeout must be positive"))
	}
	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}
