// Package config reads the runtime settings every other collaborator in
// this module needs from its environment: advertisement cache-control
// lifetime, worker-pool sizing, HTTP timeouts and bind address, and the
// set of device/service types a control point cares about. Load reads
// UPNP_* environment variables, accumulating every validation error
// instead of failing on the first one.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/upnpgo/upnp/internal/upnp"
)

// Config holds the settings the device host and control point collaborators
// read at startup.
type Config struct {
	// BindAddress is the host:port the HTTP transport server listens on.
	BindAddress string

	// AdminBindAddress is the host:port the sample cmd/devicehost's
	// chi-routed operator API listens on, entirely separate from the core
	// UPnP transport.
	AdminBindAddress string

	// AdvertisementMaxAge is the CACHE-CONTROL max-age advertised devices
	// publish in ssdp:alive/M-SEARCH responses (default 1800s, UDA's usual
	// figure), clamped by internal/upnp.ClampMaxAge at the point of use.
	AdvertisementMaxAge int

	// WorkerPoolSize bounds the ants pool backing the HTTP transport server
	// and the registry's description/SCPD fetch pool (the rule: "bounded
	// worker pool (default 100)").
	WorkerPoolSize int

	// HTTPIdleTimeout is how long a connection may sit idle before the
	// transport server closes it (the rule: "server per-connection idle
	// 30s").
	HTTPIdleTimeout time.Duration

	// InterestingTypes holds the device/service resource types listed in
	// UPNP_INTERESTING_TYPES; empty means no filter, and Interesting reports
	// whether a type passes. Neither the registry nor cmd/controlpoint
	// consults it: every discovered device is fetched and cached whatever
	// its type.
	InterestingTypes []upnp.ResourceType

	// LogLevel is one of debug, info, warn, error.
	LogLevel string
}

// Load reads configuration from environment variables, returning every
// validation error found rather than stopping at the first one.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []string

	cfg.BindAddress = getEnvOrDefault("UPNP_BIND_ADDRESS", ":0")
	cfg.AdminBindAddress = getEnvOrDefault("UPNP_ADMIN_BIND_ADDRESS", ":8090")

	maxAgeStr := getEnvOrDefault("UPNP_ADVERTISEMENT_MAX_AGE", "1800")
	maxAge, err := strconv.Atoi(maxAgeStr)
	if err != nil || maxAge < 1 {
		errs = append(errs, fmt.Sprintf("UPNP_ADVERTISEMENT_MAX_AGE must be a positive integer (got: %s)", maxAgeStr))
	} else {
		cfg.AdvertisementMaxAge = maxAge
	}

	poolSizeStr := getEnvOrDefault("UPNP_WORKER_POOL_SIZE", "100")
	poolSize, err := strconv.Atoi(poolSizeStr)
	if err != nil || poolSize < 1 {
		errs = append(errs, fmt.Sprintf("UPNP_WORKER_POOL_SIZE must be a positive integer (got: %s)", poolSizeStr))
	} else {
		cfg.WorkerPoolSize = poolSize
	}

	idleStr := getEnvOrDefault("UPNP_HTTP_IDLE_TIMEOUT", "30s")
	idle, err := time.ParseDuration(idleStr)
	if err != nil {
		errs = append(errs, fmt.Sprintf("UPNP_HTTP_IDLE_TIMEOUT must be a valid duration (got: %s)", idleStr))
	} else {
		cfg.HTTPIdleTimeout = idle
	}

	cfg.LogLevel = strings.ToLower(getEnvOrDefault("UPNP_LOG_LEVEL", "info"))
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.LogLevel] {
		errs = append(errs, fmt.Sprintf("UPNP_LOG_LEVEL must be one of: debug, info, warn, error (got: %s)", cfg.LogLevel))
	}

	typesStr := os.Getenv("UPNP_INTERESTING_TYPES")
	if typesStr != "" {
		for _, raw := range strings.Split(typesStr, ",") {
			raw = strings.TrimSpace(raw)
			if raw == "" {
				continue
			}
			rt, err := upnp.ParseResourceType(raw)
			if err != nil {
				errs = append(errs, fmt.Sprintf("UPNP_INTERESTING_TYPES entry %q invalid: %v", raw, err))
				continue
			}
			cfg.InterestingTypes = append(cfg.InterestingTypes, rt)
		}
	}

	if len(errs) > 0 {
		return nil, errors.New("configuration errors: " + strings.Join(errs, "; "))
	}

	return cfg, nil
}

// Interesting reports whether rt matches the configured filter set, or is
// always true when no filter was configured.
func (c *Config) Interesting(rt upnp.ResourceType) bool {
	if len(c.InterestingTypes) == 0 {
		return true
	}
	for _, want := range c.InterestingTypes {
		if want.Equal(rt) {
			return true
		}
	}
	return false
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
