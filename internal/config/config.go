// Package config provides explicit start-up configuration per service role.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Role selects which subsystems a process runs.
type Role string

// Service roles
const (
	// RoleAPI runs only the HTTP front-end
	RoleAPI Role = "api"
	// RoleWorker runs only the dispatcher and its worker pool
	RoleWorker Role = "worker"
	// RoleAll runs both in one process
	RoleAll Role = "all"
)

// ParseRole converts a string to a Role
func ParseRole(str string) (Role, error) {
	switch str {
	case string(RoleAPI):
		return RoleAPI, nil
	case string(RoleWorker):
		return RoleWorker, nil
	case string(RoleAll):
		return RoleAll, nil
	default:
		return "", fmt.Errorf("invalid service role: %s", str)
	}
}

// APIConfig holds the HTTP front-end configuration
type APIConfig struct {
	ListenAddr string
}

// DispatcherConfig holds the queue dispatcher configuration.
// LeaseDuration and PollInterval are the two tunables trading recovery
// latency against claim-contention overhead.
type DispatcherConfig struct {
	// Slots is the maximum number of concurrently running fits
	Slots int
	// PollInterval is how long to sleep when no eligible job exists
	PollInterval time.Duration
	// SweepInterval is how often expired leases are re-checked
	SweepInterval time.Duration
	// LeaseDuration is the length of each lease grant
	LeaseDuration time.Duration
	// RetryBackoff is the wait after a storage error before retrying
	RetryBackoff time.Duration
}

// EngineConfig holds the NMMA inference engine configuration
type EngineConfig struct {
	// BinPath is the light_curve_analysis executable
	BinPath string
	// PriorDir contains the .prior files selected per model
	PriorDir string
	// SVDModelDir contains the surrogate model files
	SVDModelDir string
}

// GetEnv retrieves the value of an environment variable with a fallback value if not set
func GetEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// GetEnvInt retrieves an integer environment variable with a fallback value
func GetEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

// GetEnvDuration retrieves a duration environment variable with a fallback value
func GetEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

// LoadAPI builds the API configuration from the environment
func LoadAPI() APIConfig {
	return APIConfig{
		ListenAddr: ":" + GetEnv("API_PORT", "8080"),
	}
}

// LoadDispatcher builds the dispatcher configuration from the environment
func LoadDispatcher() DispatcherConfig {
	return DispatcherConfig{
		Slots:         GetEnvInt("WORKER_SLOTS", 2),
		PollInterval:  GetEnvDuration("POLL_INTERVAL", time.Second),
		SweepInterval: GetEnvDuration("SWEEP_INTERVAL", 30*time.Second),
		LeaseDuration: GetEnvDuration("LEASE_DURATION", 5*time.Minute),
		RetryBackoff:  GetEnvDuration("RETRY_BACKOFF", time.Second),
	}
}

// LoadEngine builds the engine configuration from the environment
func LoadEngine() EngineConfig {
	return EngineConfig{
		BinPath:     GetEnv("NMMA_BIN", "light_curve_analysis"),
		PriorDir:    GetEnv("NMMA_PRIOR_DIR", "./priors"),
		SVDModelDir: GetEnv("NMMA_SVDMODEL_DIR", "./svdmodels"),
	}
}
