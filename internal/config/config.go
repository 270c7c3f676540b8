package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const EnvDevelopment = "development"

type SMTPConfig struct {
	Host     string `env:"HOST"`
	Port     int    `env:"PORT" envDefault:"587"`
	Username string `env:"USERNAME"`
	Password string `env:"PASSWORD"`
	From     string `env:"FROM"`
}

type Config struct {
	Env      string `env:"APP_ENV"   envDefault:"development"`
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	DBDriver    string `env:"DB_DRIVER" envDefault:"postgres"`
	DatabaseURL string `env:"DATABASE_URL"`

	AccessSecret  string        `env:"JWT_ACCESS_SECRET"`
	RefreshSecret string        `env:"JWT_REFRESH_SECRET"`
	AccessTTL     time.Duration `env:"ACCESS_TOKEN_TTL"  envDefault:"15m"`
	RefreshTTL    time.Duration `env:"REFRESH_TOKEN_TTL" envDefault:"336h"`
	ResetTTL      time.Duration `env:"RESET_TOKEN_TTL"   envDefault:"1h"`

	BcryptCost int `env:"BCRYPT_COST" envDefault:"10"`

	FrontendURL string     `env:"FRONTEND_URL"`
	SMTP        SMTPConfig `envPrefix:"SMTP_"`

	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `env:"KAFKA_USER_TOPIC" envDefault:"user_events"`
}

const minSecretLen = 32

var placeholderSecrets = map[string]struct{}{
	"fallback_secret": {},
	"change-me":       {},
	"changeme":        {},
	"secret":          {},
	"jwt_secret":      {},
	"refresh_secret":  {},
}

// Load reads .env (if any) and the process environment, then validates.
func Load() (*Config, error) {
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Notice: .env file not found: %v. Using system environment variables", err)
	}
	return FromEnv()
}

func FromEnv() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.Env, EnvDevelopment)
}

// Validate rejects configurations that would run with guessable or missing
// secrets. In development only, missing secrets are replaced by random values
// that live for the lifetime of the process.
func (c *Config) Validate() error {
	var errs []error

	brokers := c.KafkaBrokers[:0]
	for _, b := range c.KafkaBrokers {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	c.KafkaBrokers = brokers

	if c.RefreshTTL <= c.AccessTTL {
		errs = append(errs, fmt.Errorf("REFRESH_TOKEN_TTL (%s) must be longer than ACCESS_TOKEN_TTL (%s)", c.RefreshTTL, c.AccessTTL))
	}
	if c.AccessTTL <= 0 || c.ResetTTL <= 0 {
		errs = append(errs, errors.New("token lifetimes must be positive"))
	}
	if c.BcryptCost < 10 {
		errs = append(errs, fmt.Errorf("BCRYPT_COST must be at least 10, got %d", c.BcryptCost))
	}

	if c.IsDevelopment() {
		if c.AccessSecret == "" {
			c.AccessSecret = randomSecret()
			log.Printf("Warning: JWT_ACCESS_SECRET not set, using a random secret for this process")
		}
		if c.RefreshSecret == "" {
			c.RefreshSecret = randomSecret()
			log.Printf("Warning: JWT_REFRESH_SECRET not set, using a random secret for this process")
		}
		if c.FrontendURL == "" {
			c.FrontendURL = "http://localhost:3000"
		}
		if c.DatabaseURL == "" {
			c.DBDriver = "sqlite"
			c.DatabaseURL = "cartzy_auth.db"
			log.Printf("Warning: DATABASE_URL not set, using local sqlite file %s", c.DatabaseURL)
		}
	} else {
		errs = append(errs, requireNonEmpty(c.DatabaseURL, "DATABASE_URL"))
		errs = append(errs, requireNonEmpty(c.FrontendURL, "FRONTEND_URL"))
		errs = append(errs, requireNonEmpty(c.SMTP.Host, "SMTP_HOST"))
		errs = append(errs, checkSecret(c.AccessSecret, "JWT_ACCESS_SECRET"))
		errs = append(errs, checkSecret(c.RefreshSecret, "JWT_REFRESH_SECRET"))
	}

	if c.AccessSecret != "" && c.AccessSecret == c.RefreshSecret {
		errs = append(errs, errors.New("JWT_ACCESS_SECRET and JWT_REFRESH_SECRET must differ"))
	}

	return errors.Join(errs...)
}

func requireNonEmpty(value, envName string) error {
	if value == "" {
		return fmt.Errorf("missing required env %s", envName)
	}
	return nil
}

func checkSecret(value, envName string) error {
	if value == "" {
		return fmt.Errorf("missing required env %s", envName)
	}
	if _, bad := placeholderSecrets[strings.ToLower(value)]; bad {
		return fmt.Errorf("%s uses a placeholder value", envName)
	}
	if len(value) < minSecretLen {
		return fmt.Errorf("%s must be at least %d bytes", envName, minSecretLen)
	}
	return nil
}

func randomSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("crypto/rand: %v", err))
	}
	return hex.EncodeToString(b)
}
