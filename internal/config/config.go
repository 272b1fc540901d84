// Package config loads application configuration from environment variables.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Graph    GraphConfig
	Sync     SyncConfig
	Storage  StorageConfig
	CORS     CORSConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string
	Port string
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// GraphConfig holds Microsoft Graph API credentials and endpoints
type GraphConfig struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	UserEmail    string
	Endpoint     string
	APIVersion   string
	// Timeout applies to each individual Graph API call
	Timeout time.Duration
}

// SyncConfig holds email synchronization settings
type SyncConfig struct {
	FetchInterval       time.Duration
	FetchHours          int
	BatchSize           int
	MaxRetries          int
	RetrieveAttachments bool
	RetrieveBody        bool
	// MinRefresh is the staleness window: a non-forced run that starts
	// within this window of the previous successful run is skipped
	MinRefresh time.Duration
}

// StorageConfig holds S3/MinIO configuration for the attachment content cache
type StorageConfig struct {
	Enabled         bool
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	UseSSL          bool
}

// CORSConfig holds CORS settings for the HTTP API
type CORSConfig struct {
	AllowedOrigins []string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
			Port: getEnv("SERVER_PORT", "8000"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "graphmail"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Graph: GraphConfig{
			TenantID:     getEnv("TENANT_ID", ""),
			ClientID:     getEnv("CLIENT_ID", ""),
			ClientSecret: getEnv("CLIENT_SECRET", ""),
			UserEmail:    getEnv("USER_EMAIL", ""),
			Endpoint:     getEnv("GRAPH_API_ENDPOINT", "https://graph.microsoft.com"),
			APIVersion:   getEnv("GRAPH_API_VERSION", "v1.0"),
			Timeout:      getDurationEnv("GRAPH_TIMEOUT_SECONDS", time.Second, 30*time.Second),
		},
		Sync: SyncConfig{
			FetchInterval:       getDurationEnv("EMAIL_FETCH_INTERVAL_MINUTES", time.Minute, 60*time.Minute),
			FetchHours:          getIntEnv("EMAIL_FETCH_HOURS", 24),
			BatchSize:           getIntEnv("EMAIL_BATCH_SIZE", 50),
			MaxRetries:          getIntEnv("EMAIL_MAX_RETRIES", 3),
			RetrieveAttachments: getBoolEnv("EMAIL_RETRIEVE_ATTACHMENTS", true),
			RetrieveBody:        getBoolEnv("EMAIL_RETRIEVE_BODY", true),
			MinRefresh:          getDurationEnv("SYNC_MIN_REFRESH_MINUTES", time.Minute, 5*time.Minute),
		},
		Storage: StorageConfig{
			Enabled:         getBoolEnv("STORAGE_ENABLED", false),
			Endpoint:        getEnv("STORAGE_ENDPOINT", "localhost:9000"),
			Region:          getEnv("STORAGE_REGION", "us-east-1"),
			AccessKeyID:     getEnv("STORAGE_ACCESS_KEY", ""),
			SecretAccessKey: getEnv("STORAGE_SECRET_KEY", ""),
			Bucket:          getEnv("STORAGE_BUCKET", "graphmail-attachments"),
			UseSSL:          getBoolEnv("STORAGE_USE_SSL", false),
		},
		CORS: CORSConfig{
			AllowedOrigins: getListEnv("CORS_ORIGINS", []string{"*"}),
		},
	}
}

// DSN returns the PostgreSQL connection string
func (d *DatabaseConfig) DSN() string {
	return "host=" + d.Host +
		" port=" + d.Port +
		" user=" + d.User +
		" password=" + d.Password +
		" dbname=" + d.DBName +
		" sslmode=" + d.SSLMode
}

// Authority returns the OAuth2 token authority URL for the configured tenant
func (g *GraphConfig) Authority() string {
	return "https://login.microsoftonline.com/" + g.TenantID
}

// BaseURL returns the versioned Graph API base URL
func (g *GraphConfig) BaseURL() string {
	return strings.TrimSuffix(g.Endpoint, "/") + "/" + g.APIVersion
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getIntEnv returns integer from environment variable or default
func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

// getDurationEnv returns a duration parsed as an integer count of unit
func getDurationEnv(key string, unit, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			return time.Duration(n) * unit
		}
	}
	return defaultValue
}

// getBoolEnv returns boolean from environment variable or default
func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(value) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
	}
	return defaultValue
}

// getListEnv returns a comma-separated list from environment variable or default
func getListEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}
