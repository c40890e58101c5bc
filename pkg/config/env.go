package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

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

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(strings.ToLower(v)); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration parses a float number of seconds (the convention the
// deployment uses, e.g. AGENT_CHECK_INTERVAL_SECONDS=0.25).
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if secs, err := strconv.ParseFloat(v, 64); err == nil && secs > 0 {
			return time.Duration(secs * float64(time.Second))
		}
	}
	return fallback
}

// agentEnv resolves "{AGENT}_{key}" with a fallback to the global "{key}".
func agentEnv(prefix, key, fallback string) string {
	if v := os.Getenv(prefix + "_" + key); v != "" {
		return v
	}
	return getEnv(key, fallback)
}

func agentEnvInt(prefix, key string, fallback int) int {
	if v := os.Getenv(prefix + "_" + key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return getEnvInt(key, fallback)
}

func agentEnvBool(prefix, key string, fallback bool) bool {
	if v := os.Getenv(prefix + "_" + key); v != "" {
		if b, err := strconv.ParseBool(strings.ToLower(v)); err == nil {
			return b
		}
	}
	return getEnvBool(key, fallback)
}
