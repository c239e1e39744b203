package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	defaultListenAddr        = ":8080"
	defaultAllowedOrigin     = "*"
	defaultFreeTrialCount    = 10
	defaultMinDeviceIDLength = 10
	defaultRequestTimeout    = 30 * time.Second

	// Product codes understood by the checkout and webhook paths.
	ProductPack10           = "pack_10"
	ProductPack50           = "pack_50"
	ProductUnlimitedMonthly = "unlimited_monthly"
)

// Config aggregates runtime settings for the VoiceMargin backend.
type Config struct {
	ListenAddr     string
	AllowedOrigins []string

	OpenAIAPIKey  string
	OpenAIBaseURL string

	NotionAPIKey     string
	NotionDatabaseID string

	CreemAPIKey        string
	CreemWebhookSecret string
	CreemProductIDs    string // JSON map of product code -> Creem product id
	creemProductIDMap  map[string]string

	AdminKey string

	FreeTrialCount    int64
	MinDeviceIDLength int
	RequestTimeout    time.Duration

	// Empty DatabaseURL selects the in-memory store.
	DatabaseURL string
}

// Validate applies defaults and checks required values.
func (cfg *Config) Validate() error {
	cfg.ListenAddr = defaultIfEmpty(cfg.ListenAddr, defaultListenAddr)
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{defaultAllowedOrigin}
	}
	if cfg.FreeTrialCount < 0 {
		return fmt.Errorf("free trial count must not be negative")
	}
	if cfg.FreeTrialCount == 0 {
		cfg.FreeTrialCount = defaultFreeTrialCount
	}
	if cfg.MinDeviceIDLength <= 0 {
		cfg.MinDeviceIDLength = defaultMinDeviceIDLength
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if strings.TrimSpace(cfg.AdminKey) == "" {
		return fmt.Errorf("admin key is required")
	}
	if cfg.CreemProductIDs != "" {
		parsed := map[string]string{}
		if err := json.Unmarshal([]byte(cfg.CreemProductIDs), &parsed); err != nil {
			return fmt.Errorf("creem product ids: %w", err)
		}
		cfg.creemProductIDMap = parsed
	}
	return nil
}

// CreemProductID resolves the payment-provider product id for a catalog code.
func (cfg *Config) CreemProductID(productCode string) (string, bool) {
	id, ok := cfg.creemProductIDMap[productCode]
	return id, ok && id != ""
}

// ParseAllowedOrigins splits comma-delimited origins into a slice.
func ParseAllowedOrigins(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	normalized := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			normalized = append(normalized, trimmed)
		}
	}
	return normalized
}

func defaultIfEmpty(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
