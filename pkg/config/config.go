package config

import (
	"fmt"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

const (
	BackendBadger    = "badger"
	BackendFirestore = "firestore"
)

type Config struct {
	ServerPort  string `env:"SERVER_PORT,default=8080"`
	Environment string `env:"ENVIRONMENT,default=development" validate:"oneof=development production"`
	LogLevel    string `env:"LOG_LEVEL,default=info"`
	LogFormat   string `env:"LOG_FORMAT,default=console" validate:"oneof=console json"`

	// CORSAllowedOrigins is a comma separated list; empty allows any origin.
	CORSAllowedOrigins string `env:"CORS_ALLOWED_ORIGINS"`
	HTTPPerMinute      int    `env:"HTTP_REQUESTS_PER_MINUTE,default=600" validate:"gt=0"`

	StoreBackend   string `env:"STORE_BACKEND,default=badger" validate:"oneof=badger firestore"`
	BadgerPath     string `env:"BADGER_PATH,default=./data/chat"`
	BadgerInMemory bool   `env:"BADGER_IN_MEMORY,default=false"`

	FirebaseProject            string `env:"FIREBASE_PROJECT_ID" validate:"required_if=StoreBackend firestore"`
	FirebaseServiceAccountJSON string `env:"FIREBASE_SERVICE_ACCOUNT_JSON"`
	FirebaseServiceAccountPath string `env:"FIREBASE_SERVICE_ACCOUNT_PATH"`

	WatchRetryMaxElapsed time.Duration `env:"WATCH_RETRY_MAX_ELAPSED,default=15m"`
	SendMessagePerMinute int           `env:"SEND_MESSAGE_PER_MINUTE,default=30" validate:"gt=0"`
	SendMessageBurst     int           `env:"SEND_MESSAGE_BURST,default=10" validate:"gt=0"`
}

func Load() (*Config, error) {
	// A missing .env file is normal outside local development.
	_ = godotenv.Load()

	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// UsesFirebase reports whether Firebase credentials are configured, which
// switches authentication to Firebase ID tokens.
func (c *Config) UsesFirebase() bool {
	return c.StoreBackend == BackendFirestore || c.FirebaseProject != ""
}

func (c *Config) AllowedOrigins() []string {
	var origins []string
	for _, origin := range strings.Split(c.CORSAllowedOrigins, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	return origins
}
