package config

import (
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"

	// Only ever used when APP_ENV=development.
	devJWTSecret = "dev-insecure-secret"
)

type Config struct {
	DatabaseURL   string
	JWTSecret     string
	Port          string
	CORSOrigins   []string
	Store         string
	MigrationsDir string
}

func Load() Config {
	// Missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := Config{
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		JWTSecret:     os.Getenv("JWT_SECRET"),
		Port:          os.Getenv("PORT"),
		Store:         os.Getenv("STORE"),
		MigrationsDir: os.Getenv("MIGRATIONS_DIR"),
	}
	if origins := os.Getenv("CORS_ORIGIN"); origins != "" {
		cfg.CORSOrigins = strings.Split(origins, ",")
	}
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.Store == "" {
		cfg.Store = StorePostgres
	}
	if cfg.Store != StorePostgres && cfg.Store != StoreMemory {
		log.Fatalf("STORE must be %q or %q, got %q", StorePostgres, StoreMemory, cfg.Store)
	}
	if cfg.JWTSecret == "" {
		if os.Getenv("APP_ENV") != "development" {
			log.Fatal("JWT_SECRET is required")
		}
		log.Printf("WARNING: using insecure development JWT secret; set JWT_SECRET")
		cfg.JWTSecret = devJWTSecret
	}
	if cfg.Store == StorePostgres && cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is required")
	}
	return cfg
}
