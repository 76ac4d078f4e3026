package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// Config хранит все конфигурационные параметры приложения.
type Config struct {
	DatabaseURL  string
	StoreDriver  string
	StoreFixture string
	JWTSecretKey string
	ServerPort   int

	// AuthTimeout is how long a new connection may stay silent before its
	// first (subscribe) message.
	AuthTimeout time.Duration

	WSRateLimit float64
	WSRateBurst int

	CORSAllowedOrigins []string
	RunMigrations      bool
}

// Load загружает конфигурацию из переменных окружения.
// Опционально подгружает .env файл (полезно для локальной разработки).
func Load() (*Config, error) {
	_ = godotenv.Load()

	driver := strings.ToLower(strings.TrimSpace(os.Getenv("STORE_DRIVER")))
	if driver == "" {
		driver = StoreDriverPostgres
	}
	if driver != StoreDriverPostgres && driver != StoreDriverMemory {
		return nil, fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", StoreDriverPostgres, StoreDriverMemory, driver)
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" && driver == StoreDriverPostgres {
		return nil, fmt.Errorf("DATABASE_URL environment variable is not set")
	}

	portStr := os.Getenv("SERVER_PORT")
	if portStr == "" {
		portStr = "8080" // Порт по умолчанию
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid SERVER_PORT environment variable: %w", err)
	}
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", port)
	}

	authTimeout, err := intEnv("WEBSOCKET_AUTH_TIMEOUT", 10)
	if err != nil {
		return nil, err
	}
	if authTimeout <= 0 {
		return nil, fmt.Errorf("WEBSOCKET_AUTH_TIMEOUT must be positive, got %d", authTimeout)
	}

	rateLimit := 5.0
	if v := os.Getenv("WS_RATE_LIMIT"); v != "" {
		rateLimit, err = strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid WS_RATE_LIMIT environment variable: %w", err)
		}
	}
	if rateLimit <= 0 {
		return nil, fmt.Errorf("WS_RATE_LIMIT must be positive, got %v", rateLimit)
	}

	rateBurst, err := intEnv("WS_RATE_BURST", 10)
	if err != nil {
		return nil, err
	}
	if rateBurst <= 0 {
		return nil, fmt.Errorf("WS_RATE_BURST must be positive, got %d", rateBurst)
	}

	runMigrations := true
	if v := os.Getenv("RUN_MIGRATIONS"); v != "" {
		runMigrations, err = strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid RUN_MIGRATIONS environment variable: %w", err)
		}
	}

	cfg := &Config{
		DatabaseURL:        dbURL,
		StoreDriver:        driver,
		StoreFixture:       os.Getenv("STORE_FIXTURE"),
		JWTSecretKey:       os.Getenv("JWT_SECRET_KEY"),
		ServerPort:         port,
		AuthTimeout:        time.Duration(authTimeout) * time.Second,
		WSRateLimit:        rateLimit,
		WSRateBurst:        rateBurst,
		CORSAllowedOrigins: splitList(os.Getenv("CORS_ALLOWED_ORIGINS"), []string{"*"}),
		RunMigrations:      runMigrations,
	}

	return cfg, nil
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s environment variable: %w", key, err)
	}
	return n, nil
}

func splitList(v string, def []string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
