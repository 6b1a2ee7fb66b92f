package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds all configuration for the evalflow engine.
type Config struct {
	DatabaseURL string
	RedisURL    string
	ListenAddr  string

	// CatalogDir holds the requirement/consistency catalog YAML files.
	CatalogDir string
	// CalendarFile is the holiday calendar used for legal-day arithmetic.
	// Empty means weekends-only.
	CalendarFile string

	// ArtifactRegistryURL, ContentStoreURL and ClassificationURL point at
	// the external read-only services this engine consumes.
	ArtifactRegistryURL string
	ContentStoreURL     string
	ClassificationURL   string

	// ResponseWindowDays is the legal-day window a submitter has to answer
	// a clarification round.
	ResponseWindowDays int
	// BudgetFullDays / BudgetSimplifiedDays are the legal-day budgets per
	// regulatory instrument.
	BudgetFullDays       int
	BudgetSimplifiedDays int
	// DeadlineAlertDays: a process summary carries a deadline alert when
	// fewer legal days than this remain.
	DeadlineAlertDays int
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("get working directory: %w", err)
	}

	cfg := &Config{
		DatabaseURL:          getEnv("EVALFLOW_DATABASE_URL", "postgres://localhost:5432/evalflow?sslmode=disable"),
		RedisURL:             getEnv("EVALFLOW_REDIS_URL", "redis://localhost:6379/0"),
		ListenAddr:           getEnv("EVALFLOW_LISTEN_ADDR", ":8080"),
		CatalogDir:           getEnv("EVALFLOW_CATALOG_DIR", wd+"/catalog"),
		CalendarFile:         getEnv("EVALFLOW_CALENDAR_FILE", ""),
		ArtifactRegistryURL:  getEnv("EVALFLOW_ARTIFACT_REGISTRY_URL", "http://localhost:8091"),
		ContentStoreURL:      getEnv("EVALFLOW_CONTENT_STORE_URL", "http://localhost:8092"),
		ClassificationURL:    getEnv("EVALFLOW_CLASSIFICATION_URL", "http://localhost:8093"),
		ResponseWindowDays:   getEnvInt("EVALFLOW_RESPONSE_WINDOW_DAYS", 30),
		BudgetFullDays:       getEnvInt("EVALFLOW_BUDGET_FULL_DAYS", 120),
		BudgetSimplifiedDays: getEnvInt("EVALFLOW_BUDGET_SIMPLIFIED_DAYS", 60),
		DeadlineAlertDays:    getEnvInt("EVALFLOW_DEADLINE_ALERT_DAYS", 10),
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
