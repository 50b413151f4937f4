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
	BackendBigQuery = "bigquery"
	BackendPostgres = "postgres"
)

const dateLayout = "2006-01-02"

// Config is the full environment-driven configuration for one run.
type Config struct {
	// Retailer API
	ClientID        string
	ClientSecret    string
	TokenURL        string
	APIBaseURL      string
	TokenAuthMethod string

	// Run behavior
	ProcessingDate string
	FetchDetails   bool
	RowMode        string
	VATRate        float64

	// Warehouse
	Backend                 string
	BigQueryProjectID       string
	BigQueryDatasetID       string
	BigQueryTableID         string
	BigQueryCredentialsFile string
	PostgresURL             string
	PostgresTable           string

	// Optional extras
	KafkaBrokers []string
	MetricsPort  string
}

// Load reads the environment (plus an optional .env file for local runs)
// and validates everything the run needs up front, so a misconfigured job
// fails before it touches the network.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return fromEnv(os.Getenv, time.Now)
}

func fromEnv(getenv func(string) string, now func() time.Time) (*Config, error) {
	cfg := &Config{
		ClientID:                getenv("BOL_CLIENT_ID"),
		ClientSecret:            getenv("BOL_CLIENT_SECRET"),
		TokenURL:                envOr(getenv, "BOL_TOKEN_URL", "https://login.bol.com/token"),
		APIBaseURL:              envOr(getenv, "BOL_API_URL", "https://api.bol.com/retailer"),
		TokenAuthMethod:         envOr(getenv, "BOL_TOKEN_AUTH", "basic"),
		ProcessingDate:          getenv("PROCESSING_DATE"),
		RowMode:                 envOr(getenv, "ROW_MODE", "per-item"),
		Backend:                 envOr(getenv, "WAREHOUSE_BACKEND", BackendBigQuery),
		BigQueryProjectID:       getenv("BIGQUERY_PROJECT_ID"),
		BigQueryDatasetID:       getenv("BIGQUERY_DATASET_ID"),
		BigQueryTableID:         getenv("BIGQUERY_TABLE_ID"),
		BigQueryCredentialsFile: getenv("BIGQUERY_CREDENTIALS_FILE"),
		PostgresURL:             getenv("POSTGRES_URL"),
		PostgresTable:           envOr(getenv, "POSTGRES_TABLE", "order_item_rows"),
		MetricsPort:             getenv("METRICS_PORT"),
	}

	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("BOL_CLIENT_ID and BOL_CLIENT_SECRET are required")
	}

	if cfg.TokenAuthMethod != "basic" && cfg.TokenAuthMethod != "body" {
		return nil, fmt.Errorf("BOL_TOKEN_AUTH must be basic or body, got %q", cfg.TokenAuthMethod)
	}

	if cfg.RowMode != "per-item" && cfg.RowMode != "per-order" {
		return nil, fmt.Errorf("ROW_MODE must be per-item or per-order, got %q", cfg.RowMode)
	}

	if cfg.ProcessingDate == "" {
		cfg.ProcessingDate = now().AddDate(0, 0, -1).Format(dateLayout)
	} else if _, err := time.Parse(dateLayout, cfg.ProcessingDate); err != nil {
		return nil, fmt.Errorf("PROCESSING_DATE must be YYYY-MM-DD: %w", err)
	}

	if v := getenv("FETCH_DETAILS"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("FETCH_DETAILS must be a boolean: %w", err)
		}
		cfg.FetchDetails = parsed
	}

	cfg.VATRate = 0.21
	if v := getenv("VAT_RATE"); v != "" {
		rate, err := strconv.ParseFloat(v, 64)
		if err != nil || rate < 0 {
			return nil, fmt.Errorf("VAT_RATE must be a non-negative number, got %q", v)
		}
		cfg.VATRate = rate
	}

	switch cfg.Backend {
	case BackendBigQuery:
		if cfg.BigQueryProjectID == "" || cfg.BigQueryDatasetID == "" || cfg.BigQueryTableID == "" {
			return nil, fmt.Errorf("BIGQUERY_PROJECT_ID, BIGQUERY_DATASET_ID and BIGQUERY_TABLE_ID are required for the bigquery backend")
		}
	case BackendPostgres:
		if cfg.PostgresURL == "" {
			return nil, fmt.Errorf("POSTGRES_URL is required for the postgres backend")
		}
	default:
		return nil, fmt.Errorf("WAREHOUSE_BACKEND must be bigquery or postgres, got %q", cfg.Backend)
	}

	if v := getenv("KAFKA_BROKERS"); v != "" {
		cfg.KafkaBrokers = strings.Split(v, ",")
	}

	return cfg, nil
}

func envOr(getenv func(string) string, key, fallback string) string {
	if v := getenv(key); v != "" {
		return v
	}
	return fallback
}
