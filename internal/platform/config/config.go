package config

import (
	"os"
	"strconv"
)

// Client captures everything needed to reach a PIMS server, read from the
// environment so mains stay lean.
type Client struct {
	ServerURL string
	KeyfileID int

	// Static bearer token; wins over certificate auth when set.
	Token string

	// Certificate-based service principal.
	TenantID string
	ClientID string
	APIID    string
	CertFile string
	KeyFile  string

	RedisURL    string
	Concurrency int
	LogLevel    string
}

// Mock captures the fake server's configuration.
type Mock struct {
	Addr      string
	KeyfileID int
	LogLevel  string
}

// FromEnv builds a Client config from PIMS_* environment variables.
func FromEnv() Client {
	return Client{
		ServerURL:   os.Getenv("PIMS_URL"),
		KeyfileID:   envInt("PIMS_KEYFILE_ID", 0),
		Token:       os.Getenv("PIMS_CLIENT_TOKEN"),
		TenantID:    os.Getenv("PIMS_TENANT_ID"),
		ClientID:    os.Getenv("PIMS_CLIENT_ID"),
		APIID:       os.Getenv("PIMS_API_ID"),
		CertFile:    os.Getenv("PIMS_CERT_FILE"),
		KeyFile:     os.Getenv("PIMS_KEY_FILE"),
		RedisURL:    os.Getenv("PIMS_REDIS_URL"),
		Concurrency: envInt("PIMS_CONCURRENCY", 1),
		LogLevel:    os.Getenv("PIMS_LOG_LEVEL"),
	}
}

// MockFromEnv builds a Mock config from PIMS_MOCK_* environment variables.
func MockFromEnv() Mock {
	addr := os.Getenv("PIMS_MOCK_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	return Mock{
		Addr:      addr,
		KeyfileID: envInt("PIMS_MOCK_KEYFILE_ID", 1),
		LogLevel:  os.Getenv("PIMS_LOG_LEVEL"),
	}
}

func envInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
