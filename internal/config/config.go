package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Client holds settings for the terminal client and book viewer.
type Client struct {
	Env        string        `env:"APP_ENV" envDefault:"development"`
	APIURL     string        `env:"WOVE_API_URL" envDefault:"http://localhost:8090"`
	WSURL      string        `env:"WOVE_WS_URL"`
	Token      string        `env:"WOVE_TOKEN"`
	UserID     string        `env:"WOVE_USER_ID"`
	Username   string        `env:"WOVE_USERNAME"`
	TypingIdle time.Duration `env:"WOVE_TYPING_IDLE" envDefault:"3s"`
	LogLevel   string        `env:"WOVE_LOG_LEVEL" envDefault:"info"`
	LogFormat  string        `env:"WOVE_LOG_FORMAT" envDefault:"text"`
}

// Server holds settings for the development backend.
type Server struct {
	Env            string   `env:"APP_ENV" envDefault:"development"`
	Addr           string   `env:"WOVE_ADDR" envDefault:":8090"`
	DBPath         string   `env:"WOVE_DB_PATH" envDefault:"wove.db"`
	AllowedOrigins []string `env:"WOVE_ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:5173"`
	LogLevel       string   `env:"WOVE_LOG_LEVEL" envDefault:"info"`
	LogFormat      string   `env:"WOVE_LOG_FORMAT" envDefault:"json"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// LoadDotenv reads .env files outside production. Missing files are fine;
// production injects variables through its own infra.
func LoadDotenv(files ...string) error {
	if os.Getenv("APP_ENV") == "production" {
		return nil
	}
	var existing []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("load dotenv: %w", err)
	}
	return nil
}

// LoadClient reads .env then the environment into a Client config.
func LoadClient() (Client, error) {
	var cfg Client
	if err := LoadDotenv(".env"); err != nil {
		return cfg, err
	}
	if err := ParseEnv(&cfg); err != nil {
		return cfg, err
	}
	if cfg.WSURL == "" {
		cfg.WSURL = DeriveWSURL(cfg.APIURL)
	}
	return cfg, nil
}

// LoadServer reads .env then the environment into a Server config.
func LoadServer() (Server, error) {
	var cfg Server
	if err := LoadDotenv(".env"); err != nil {
		return cfg, err
	}
	if err := ParseEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// DeriveWSURL swaps an http(s) base for the matching ws(s) scheme.
func DeriveWSURL(apiURL string) string {
	switch {
	case strings.HasPrefix(apiURL, "https://"):
		return "wss://" + strings.TrimPrefix(apiURL, "https://")
	case strings.HasPrefix(apiURL, "http://"):
		return "ws://" + strings.TrimPrefix(apiURL, "http://")
	}
	return apiURL
}
