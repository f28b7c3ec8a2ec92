// Package config provides configuration management for the kiosk agent
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Settings holds the application configuration
type Settings struct {
	Server  ServerConfig  `json:"server"`
	Backend BackendConfig `json:"backend"`
	Storage StorageConfig `json:"storage"`
	Payment PaymentConfig `json:"payment"`
	Upload  UploadConfig  `json:"upload"`
	Session SessionConfig `json:"session"`
	Pricing PricingConfig `json:"pricing"`
}

// ServerConfig contains the local HTTP server configuration
type ServerConfig struct {
	Host            string   `json:"host"`
	Port            int      `json:"port"`
	AllowedOrigins  []string `json:"allowedOrigins"`
	CertFile        string   `json:"certFile"`
	KeyFile         string   `json:"keyFile"`
	ShutdownTimeout int      `json:"shutdownTimeout"`
	DataDir         string   `json:"dataDir"`
	StagingDir      string   `json:"stagingDir"`
}

// BackendConfig describes the print-shop origin pool
type BackendConfig struct {
	Servers        []string `json:"servers"`
	TimeoutSeconds int      `json:"timeoutSeconds"`
}

// StorageConfig selects and configures the upload destination
type StorageConfig struct {
	Provider string            `json:"provider"`
	Options  map[string]string `json:"options"`
}

// PaymentConfig holds gateway credentials
type PaymentConfig struct {
	RazorpayKeyID     string `json:"razorpayKeyId"`
	RazorpayKeySecret string `json:"razorpayKeySecret"`
}

// UploadConfig bounds the upload pipeline
type UploadConfig struct {
	Concurrency   int `json:"concurrency"`
	MaxFileSizeMB int `json:"maxFileSizeMB"`
	Workers       int `json:"workers"`
	QueueSize     int `json:"queueSize"`
}

// SessionConfig tunes the session lifecycle
type SessionConfig struct {
	TTLHours int `json:"ttlHours"`
}

// PricingConfig tunes the price table cache
type PricingConfig struct {
	TTLMinutes int `json:"ttlMinutes"`
}

// AppConfig is the global application configuration
var AppConfig Settings

// LoadConfig loads configuration from a file and environment variables
func LoadConfig(configFile string) error {
	AppConfig = Settings{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            8090,
			AllowedOrigins:  []string{"*"},
			ShutdownTimeout: 30,
			DataDir:         "./data",
			StagingDir:      "./data/staging",
		},
		Backend: BackendConfig{
			TimeoutSeconds: 40,
		},
		Storage: StorageConfig{
			Provider: "local",
			Options:  map[string]string{"basePath": "./data/storage"},
		},
		Upload: UploadConfig{
			Concurrency:   3,
			MaxFileSizeMB: 64,
			Workers:       2,
			QueueSize:     32,
		},
		Session: SessionConfig{TTLHours: 24},
		Pricing: PricingConfig{TTLMinutes: 30},
	}

	if configFile != "" {
		if _, err := os.Stat(configFile); err == nil {
			data, err := os.ReadFile(configFile)
			if err != nil {
				return fmt.Errorf("error reading config file: %w", err)
			}
			if err := json.Unmarshal(data, &AppConfig); err != nil {
				return fmt.Errorf("error parsing config file: %w", err)
			}
		}
	}

	overrideWithEnv()

	if len(AppConfig.Backend.Servers) == 0 {
		return fmt.Errorf("at least one backend server must be configured")
	}

	for _, dir := range []string{AppConfig.Server.DataDir, AppConfig.Server.StagingDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// overrideWithEnv applies PK_* environment overrides
func overrideWithEnv() {
	if host := os.Getenv("PK_HOST"); host != "" {
		AppConfig.Server.Host = host
	}
	if port := os.Getenv("PK_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			AppConfig.Server.Port = p
		}
	}
	if origins := os.Getenv("PK_ALLOWED_ORIGINS"); origins != "" {
		AppConfig.Server.AllowedOrigins = splitList(origins)
	}
	if certFile := os.Getenv("PK_CERT_FILE"); certFile != "" {
		AppConfig.Server.CertFile = certFile
	}
	if keyFile := os.Getenv("PK_KEY_FILE"); keyFile != "" {
		AppConfig.Server.KeyFile = keyFile
	}
	if dataDir := os.Getenv("PK_DATA_DIR"); dataDir != "" {
		AppConfig.Server.DataDir = dataDir
	}
	if stagingDir := os.Getenv("PK_STAGING_DIR"); stagingDir != "" {
		AppConfig.Server.StagingDir = stagingDir
	}

	if servers := os.Getenv("PK_BACKEND_SERVERS"); servers != "" {
		AppConfig.Backend.Servers = splitList(servers)
	}
	if timeout := os.Getenv("PK_BACKEND_TIMEOUT"); timeout != "" {
		if t, err := strconv.Atoi(timeout); err == nil {
			AppConfig.Backend.TimeoutSeconds = t
		}
	}

	if provider := os.Getenv("PK_STORAGE_PROVIDER"); provider != "" {
		AppConfig.Storage.Provider = provider
	}

	if keyID := os.Getenv("PK_RAZORPAY_KEY_ID"); keyID != "" {
		AppConfig.Payment.RazorpayKeyID = keyID
	}
	if keySecret := os.Getenv("PK_RAZORPAY_KEY_SECRET"); keySecret != "" {
		AppConfig.Payment.RazorpayKeySecret = keySecret
	}

	if conc := os.Getenv("PK_UPLOAD_CONCURRENCY"); conc != "" {
		if c, err := strconv.Atoi(conc); err == nil {
			AppConfig.Upload.Concurrency = c
		}
	}
	if maxMB := os.Getenv("PK_MAX_FILE_SIZE_MB"); maxMB != "" {
		if m, err := strconv.Atoi(maxMB); err == nil {
			AppConfig.Upload.MaxFileSizeMB = m
		}
	}
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Address returns the listen address for the local server
func Address() string {
	return fmt.Sprintf("%s:%d", AppConfig.Server.Host, AppConfig.Server.Port)
}
