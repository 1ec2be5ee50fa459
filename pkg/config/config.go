// Package config loads server configuration from environment variables.
package config

import "os"

// Config holds server configuration.
type Config struct {
	Port        string
	LogLevel    string
	Domain      string
	KeysDir     string
	SCITTDBPath string
	// DatabaseURL selects postgres for the transparency log and
	// idempotency store when set; sqlite otherwise.
	DatabaseURL string
	RedisAddr   string
	// KMSKeyID holds CORSAIR_KMS_KEY_ID. No command reads it; signing
	// always uses the file-backed key manager.
	KMSKeyID     string
	LogID        string
	OTLPEndpoint string
	PolicyPath   string
}

// Load reads configuration from the environment with defaults.
func Load() *Config {
	cfg := &Config{
		Port:         getenv("PORT", "8080"),
		LogLevel:     getenv("LOG_LEVEL", "INFO"),
		Domain:       getenv("CORSAIR_DOMAIN", "localhost"),
		KeysDir:      getenv("CORSAIR_KEYS_DIR", ".corsair/keys"),
		SCITTDBPath:  getenv("CORSAIR_SCITT_DB", ".corsair/scitt.db"),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		RedisAddr:    os.Getenv("REDIS_ADDR"),
		KMSKeyID:     os.Getenv("CORSAIR_KMS_KEY_ID"),
		LogID:        getenv("CORSAIR_LOG_ID", "urn:corsair:scitt:default"),
		OTLPEndpoint: os.Getenv("OTLP_ENDPOINT"),
		PolicyPath:   os.Getenv("CORSAIR_POLICY"),
	}
	return cfg
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
