package main

import (
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
)

var cfg *Config

type Config struct {
	Server struct {
		Host string
		Port string
	}
	BaseURL string
	DB      struct {
		Host string
		Port string
		User string
		Pass string
		Name string
	}
	Redis struct {
		URL string
	}
	// AppSecret signs session cookies and derives the key that seals
	// security answers at rest. Changing it invalidates both.
	AppSecret  string
	HashidSalt string
	Debug      bool
	LogLevel   string
}

func LoadEnv() {
	err := godotenv.Load()
	if err != nil {
		log.Println("Warning: .env file not found, using system environment variables")
	}
}

func LoadConfig() *Config {
	cfg := &Config{}

	cfg.Server.Host = getEnv("SERVER_HOST", "0.0.0.0")
	cfg.Server.Port = getEnv("SERVER_PORT", "8080")
	cfg.BaseURL = getEnv("APP_URL", "http://localhost:"+cfg.Server.Port)

	cfg.DB.Host = getEnv("DB_HOST", "localhost")
	cfg.DB.Port = getEnv("DB_PORT", "5432")
	cfg.DB.User = getEnv("DB_USER", "postgres")
	cfg.DB.Pass = getEnv("DB_PASS", "")
	cfg.DB.Name = getEnv("DB_NAME", "easyrsvp")

	cfg.Redis.URL = getEnv("REDIS_URL", "redis://localhost:6379")

	cfg.AppSecret = getEnv("APP_SECRET", "")
	cfg.HashidSalt = getEnv("HASHID_SALT", "easy-rsvp")
	cfg.Debug = getEnv("APP_ENV", "production") == "local"
	cfg.LogLevel = getEnv("LOG_LEVEL", "info")

	return cfg
}

// DSN builds the postgres connection string. The password never goes to
// logs; error logging picks the safe parts individually.
func (c *Config) DSN() string {
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
		c.DB.Host, c.DB.User, c.DB.Pass, c.DB.Name, c.DB.Port,
	)
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
