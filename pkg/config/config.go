package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	DB struct {
		Host     string
		Port     int
		User     string
		Password string
		Database string
	}
	RabbitMQ struct {
		Host     string
		Port     int
		User     string
		Password string
	}
	HTTP struct {
		Port int
	}
	Websocket struct {
		Port int
	}
	Auth struct {
		JWTSecret     string
		TokenDuration time.Duration
	}
	Maps struct {
		APIKey string
	}
	Dispatch DispatchConfig
}

// DispatchConfig holds the tuning knobs of the tracking engine. Grid
// precision and both loop intervals are deliberately configurable rather
// than baked-in constants.
type DispatchConfig struct {
	GridPrecision        int // decimal places for grid bucketing (~1 km at 2)
	BroadcastInterval    time.Duration
	ChangeInterval       time.Duration
	ChangeThreshold      float64 // relative driver-count delta triggering an early push
	PassengerTTL         time.Duration
	MinTrackedPassengers int
	MatcherRadiusKm      float64
	MatcherLimit         int
}

func LoadConfig(filename string) (*Config, error) {
	if filename != "" {
		if err := loadEnvFile(filename); err != nil {
			return nil, err
		}
	}
	cfg := &Config{}
	cfg.DB.Host = getEnv("DB_HOST", "localhost")
	cfg.DB.Port = getEnvAsInt("DB_PORT", 5432)
	cfg.DB.User = getEnv("DB_USER", "dispatch_user")
	cfg.DB.Password = getEnv("DB_PASS", "dispatch_pass")
	cfg.DB.Database = getEnv("DB_NAME", "dispatch_db")
	cfg.RabbitMQ.Host = getEnv("RABBITMQ_HOST", "localhost")
	cfg.RabbitMQ.Port = getEnvAsInt("RABBITMQ_PORT", 5672)
	cfg.RabbitMQ.User = getEnv("RABBITMQ_USER", "guest")
	cfg.RabbitMQ.Password = getEnv("RABBITMQ_PASS", "guest")
	cfg.HTTP.Port = getEnvAsInt("HTTP_PORT", 3000)
	cfg.Websocket.Port = getEnvAsInt("WEBSOCKET_PORT", 8080)
	cfg.Auth.JWTSecret = getEnv("JWT_SECRET", "dev-secret-change-me")
	cfg.Auth.TokenDuration = getEnvAsDuration("JWT_TOKEN_DURATION", 24*time.Hour)
	cfg.Maps.APIKey = getEnv("GOOGLE_MAPS_API_KEY", "")

	cfg.Dispatch.GridPrecision = getEnvAsInt("DISPATCH_GRID_PRECISION", 2)
	cfg.Dispatch.BroadcastInterval = getEnvAsDuration("DISPATCH_BROADCAST_INTERVAL", 60*time.Second)
	cfg.Dispatch.ChangeInterval = getEnvAsDuration("DISPATCH_CHANGE_INTERVAL", 10*time.Second)
	cfg.Dispatch.ChangeThreshold = getEnvAsFloat("DISPATCH_CHANGE_THRESHOLD", 0.20)
	cfg.Dispatch.PassengerTTL = getEnvAsDuration("DISPATCH_PASSENGER_TTL", 15*time.Minute)
	cfg.Dispatch.MinTrackedPassengers = getEnvAsInt("DISPATCH_MIN_TRACKED", 1)
	cfg.Dispatch.MatcherRadiusKm = getEnvAsFloat("DISPATCH_MATCHER_RADIUS_KM", 5.0)
	cfg.Dispatch.MatcherLimit = getEnvAsInt("DISPATCH_MATCHER_LIMIT", 10)

	return cfg, nil
}

func loadEnvFile(filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		return fmt.Errorf("could not open env file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.Trim(strings.TrimSpace(parts[1]), `"'`)

		if err := os.Setenv(key, value); err != nil {
			return fmt.Errorf("could not set env var %s: %w", key, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading env file: %w", err)
	}

	return nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return value
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	if value, err := strconv.ParseFloat(getEnv(key, ""), 64); err == nil {
		return value
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if value, err := time.ParseDuration(getEnv(key, "")); err == nil {
		return value
	}
	return fallback
}
