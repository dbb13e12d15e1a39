// Package config loads runtime configuration from environment variables and
// the YAML settings file.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/mtlprog/ctax/internal/domain"
	"github.com/mtlprog/ctax/internal/lots"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	TaxYear            int
	TaxCurrency        string
	Ordering           lots.Ordering
	FeesDeductible     bool
	Precision          int32
	IncludeTaxCurrency bool

	DatabaseURL       string
	SettingsFile      string
	StartStep         int
	CoinGeckoURL      string
	CoinGeckoDelay    time.Duration
	CoinGeckoRetryMax int
	FrankfurterURL    string
	QueryRateAPIs     bool
	MaxRateAge        time.Duration

	ReportCSV             string
	ReportXLSX            string
	SheetsSpreadsheetID   string
	GoogleCredentialsJSON string

	HTTPPort        string
	AdminAPIKey     string
	RefreshInterval time.Duration
	LogLevel        slog.Level
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	return Config{
		TaxYear:            envOrDefaultInt("TAX_YEAR", time.Now().Year()-1),
		TaxCurrency:        envOrDefault("TAX_CURRENCY", "EUR"),
		Ordering:           envOrDefaultOrdering("LOT_ORDERING", lots.FIFO),
		FeesDeductible:     envOrDefaultBool("FEES_TAX_DEDUCTIBLE", true),
		Precision:          int32(envOrDefaultInt("DECIMAL_PRECISION", int(domain.DefaultPrecision))),
		IncludeTaxCurrency: envOrDefaultBool("REPORT_TAX_CURRENCY_DISPOSALS", false),

		DatabaseURL:       envOrDefault("DATABASE_URL", ""),
		SettingsFile:      envOrDefault("SETTINGS_FILE", "settings.yaml"),
		StartStep:         envOrDefaultInt("START_STEP", 1),
		CoinGeckoURL:      envOrDefault("COINGECKO_URL", "https://api.coingecko.com/api/v3"),
		CoinGeckoDelay:    envOrDefaultDuration("COINGECKO_DELAY", 6*time.Second),
		CoinGeckoRetryMax: envOrDefaultInt("COINGECKO_RETRY_MAX", 5),
		FrankfurterURL:    envOrDefault("FRANKFURTER_URL", "https://api.frankfurter.app"),
		QueryRateAPIs:     envOrDefaultBool("QUERY_RATE_APIS", false),
		MaxRateAge:        envOrDefaultDuration("MAX_RATE_AGE", 24*time.Hour),

		ReportCSV:             envOrDefault("REPORT_CSV", ""),
		ReportXLSX:            envOrDefault("REPORT_XLSX", ""),
		SheetsSpreadsheetID:   envOrDefault("SHEETS_SPREADSHEET_ID", ""),
		GoogleCredentialsJSON: envOrDefault("GOOGLE_CREDENTIALS_JSON", ""),

		HTTPPort:        envOrDefault("HTTP_PORT", "8080"),
		AdminAPIKey:     envOrDefault("ADMIN_API_KEY", ""),
		RefreshInterval: envOrDefaultDuration("REFRESH_INTERVAL", 0),
		LogLevel:        envOrDefaultLevel("LOG_LEVEL", slog.LevelInfo),
	}
}

// SheetsEnabled reports whether both Google Sheets settings are present.
func (c Config) SheetsEnabled() bool {
	return c.SheetsSpreadsheetID != "" && c.GoogleCredentialsJSON != ""
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envOrDefaultInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			slog.Warn("invalid integer env var, using default", "key", key, "value", v, "default", defaultVal)
			return defaultVal
		}
		return n
	}
	return defaultVal
}

func envOrDefaultBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			slog.Warn("invalid boolean env var, using default", "key", key, "value", v, "default", defaultVal)
			return defaultVal
		}
		return b
	}
	return defaultVal
}

func envOrDefaultDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			slog.Warn("invalid duration env var, using default", "key", key, "value", v, "default", defaultVal)
			return defaultVal
		}
		return d
	}
	return defaultVal
}

func envOrDefaultOrdering(key string, defaultVal lots.Ordering) lots.Ordering {
	if v := os.Getenv(key); v != "" {
		o, err := lots.ParseOrdering(v)
		if err != nil {
			slog.Warn("invalid lot ordering env var, using default", "key", key, "value", v, "default", defaultVal)
			return defaultVal
		}
		return o
	}
	return defaultVal
}

func envOrDefaultLevel(key string, defaultVal slog.Level) slog.Level {
	if v := os.Getenv(key); v != "" {
		var l slog.Level
		if err := l.UnmarshalText([]byte(v)); err != nil {
			slog.Warn("invalid log level env var, using default", "key", key, "value", v, "default", defaultVal)
			return defaultVal
		}
		return l
	}
	return defaultVal
}
