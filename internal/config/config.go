package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix for environment overrides. Nested keys use "__",
// e.g. STOREFRONT_API__BASE_URL or STOREFRONT_SESSION__DRIVER.
const EnvPrefix = "STOREFRONT_"

type Config struct {
	App struct {
		Name    string `koanf:"name"`
		Profile string `koanf:"profile"`
	} `koanf:"app"`

	Log struct {
		Level string `koanf:"level"`
		File  string `koanf:"file"`
	} `koanf:"log"`

	API struct {
		BaseURL      string        `koanf:"base_url"`
		AssetBaseURL string        `koanf:"asset_base_url"`
		Timeout      time.Duration `koanf:"timeout"`
		CSRF         bool          `koanf:"csrf"`
		CSRFPath     string        `koanf:"csrf_path"`
		Breaker      struct {
			Enabled     bool          `koanf:"enabled"`
			MaxFailures uint32        `koanf:"max_failures"`
			OpenTimeout time.Duration `koanf:"open_timeout"`
		} `koanf:"breaker"`
	} `koanf:"api"`

	Session struct {
		Driver         string        `koanf:"driver"`
		Namespace      string        `koanf:"namespace"`
		FilePath       string        `koanf:"file_path"`
		PostgresDSN    string        `koanf:"postgres_dsn"`
		RedisAddr      string        `koanf:"redis_addr"`
		RedisPassword  string        `koanf:"redis_password"`
		RedisTTL       time.Duration `koanf:"redis_ttl"`
		DynamoTable    string        `koanf:"dynamo_table"`
		DynamoRegion   string        `koanf:"dynamo_region"`
		DynamoEndpoint string        `koanf:"dynamo_endpoint"`
	} `koanf:"session"`

	Activity struct {
		Driver     string   `koanf:"driver"`
		Brokers    []string `koanf:"brokers"`
		Topic      string   `koanf:"topic"`
		GroupID    string   `koanf:"group_id"`
		RabbitURL  string   `koanf:"rabbit_url"`
		Exchange   string   `koanf:"exchange"`
		RoutingKey string   `koanf:"routing_key"`
	} `koanf:"activity"`

	Promo struct {
		DisplayTimeout time.Duration `koanf:"display_timeout"`
	} `koanf:"promo"`

	Sandbox struct {
		Addr      string        `koanf:"addr"`
		JWTSecret string        `koanf:"jwt_secret"`
		TokenTTL  time.Duration `koanf:"token_ttl"`
		TaxRate   string        `koanf:"tax_rate"`
	} `koanf:"sandbox"`
}

var (
	sessionDrivers  = []string{"memory", "file", "postgres", "redis", "dynamodb"}
	activityDrivers = []string{"none", "log", "kafka", "rabbitmq"}
)

func defaults() map[string]any {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return map[string]any{
		"app.name":                 "storefront",
		"app.profile":              "default",
		"log.level":                "info",
		"log.file":                 "./logs/storefront.log",
		"api.base_url":             "http://localhost:8000/api",
		"api.asset_base_url":       "http://localhost:8000",
		"api.timeout":              "0s",
		"api.csrf":                 true,
		"api.csrf_path":            "/sanctum/csrf-cookie",
		"api.breaker.enabled":      false,
		"api.breaker.max_failures": 5,
		"api.breaker.open_timeout": "30s",
		"session.driver":           "file",
		"session.namespace":        "default",
		"session.file_path":        home + "/.storefront/session.json",
		"session.redis_ttl":        "720h",
		"session.dynamo_table":     "storefront_sessions",
		"activity.driver":          "log",
		"activity.topic":           "storefront-cart-activity",
		"activity.group_id":        "storefront-activity",
		"activity.exchange":        "storefront",
		"activity.routing_key":     "cart.activity",
		"promo.display_timeout":    "5s",
		"sandbox.addr":             ":8000",
		"sandbox.token_ttl":        "24h",
		"sandbox.tax_rate":         "0.20",
	}
}

// Load layers defaults, an optional YAML file and STOREFRONT_* environment
// variables, in that order.
func Load(path string) (Config, error) {
	k := koanf.New(".")
	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return Config{}, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("load %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, EnvPrefix)
		s = strings.ReplaceAll(s, "__", ".")
		return strings.ToLower(s)
	}), nil); err != nil {
		return Config{}, fmt.Errorf("env overlay: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url required")
	}
	if !contains(sessionDrivers, c.Session.Driver) {
		return fmt.Errorf("session.driver %q not one of %v", c.Session.Driver, sessionDrivers)
	}
	switch c.Session.Driver {
	case "postgres":
		if c.Session.PostgresDSN == "" {
			return fmt.Errorf("session.postgres_dsn required for postgres driver")
		}
	case "redis":
		if c.Session.RedisAddr == "" {
			return fmt.Errorf("session.redis_addr required for redis driver")
		}
	case "file":
		if c.Session.FilePath == "" {
			return fmt.Errorf("session.file_path required for file driver")
		}
	}
	if !contains(activityDrivers, c.Activity.Driver) {
		return fmt.Errorf("activity.driver %q not one of %v", c.Activity.Driver, activityDrivers)
	}
	if c.Activity.Driver == "kafka" && len(c.Activity.Brokers) == 0 {
		return fmt.Errorf("activity.brokers required for kafka driver")
	}
	if c.Activity.Driver == "rabbitmq" && c.Activity.RabbitURL == "" {
		return fmt.Errorf("activity.rabbit_url required for rabbitmq driver")
	}
	if c.Promo.DisplayTimeout < 0 {
		return fmt.Errorf("promo.display_timeout must not be negative")
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
