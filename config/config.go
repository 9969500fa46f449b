package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/yourusername/a2u-payout/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

type Config struct {
	Port              string
	DatabaseURL       string
	HorizonURL        string
	NetworkPassphrase string
	PlatformAPIURL    string
	PlatformAPIKey    string
	PayoutSeed        string
	JWTSecret         string
	MaxRetries        int
	RetryBackoff      time.Duration
	CallTimeout       time.Duration
	TxValidity        time.Duration
}

func LoadConfig() (*Config, error) {
	godotenv.Load()

	apiKey := os.Getenv("PLATFORM_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("PLATFORM_API_KEY environment variable is required")
	}

	seed := os.Getenv("PAYOUT_WALLET_SEED")
	if seed == "" {
		return nil, fmt.Errorf("PAYOUT_WALLET_SEED environment variable is required")
	}

	maxRetries, err := strconv.Atoi(getEnvOrDefault("PAYOUT_MAX_RETRIES", "3"))
	if err != nil {
		return nil, fmt.Errorf("invalid PAYOUT_MAX_RETRIES: %w", err)
	}

	backoff, err := time.ParseDuration(getEnvOrDefault("PAYOUT_RETRY_BACKOFF", "500ms"))
	if err != nil {
		return nil, fmt.Errorf("invalid PAYOUT_RETRY_BACKOFF: %w", err)
	}

	callTimeout, err := time.ParseDuration(getEnvOrDefault("CALL_TIMEOUT", "30s"))
	if err != nil {
		return nil, fmt.Errorf("invalid CALL_TIMEOUT: %w", err)
	}

	txValidity, err := time.ParseDuration(getEnvOrDefault("TX_VALIDITY", "180s"))
	if err != nil {
		return nil, fmt.Errorf("invalid TX_VALIDITY: %w", err)
	}

	return &Config{
		Port:              os.Getenv("PORT"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		HorizonURL:        getEnvOrDefault("HORIZON_URL", "https://horizon-testnet.stellar.org"),
		NetworkPassphrase: getEnvOrDefault("NETWORK_PASSPHRASE", "Test SDF Network ; September 2015"),
		PlatformAPIURL:    getEnvOrDefault("PLATFORM_API_URL", "https://platform.example.com"),
		PlatformAPIKey:    apiKey,
		PayoutSeed:        seed,
		JWTSecret:         os.Getenv("JWT_SECRET"),
		MaxRetries:        maxRetries,
		RetryBackoff:      backoff,
		CallTimeout:       callTimeout,
		TxValidity:        txValidity,
	}, nil
}

func InitDB(cfg *Config) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&models.Payout{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return db, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
