// Package config loads the configuration surface of spec.md §6: env vars
// with defaults, layered over platform/envutil's parsing with a debug log
// line on every fallback-to-default decision.
package config

import (
	"time"

	"github.com/rob634/rmhgeoapi-sub015/internal/logger"
	"github.com/rob634/rmhgeoapi-sub015/internal/platform/envutil"
)

func getEnv(key, defaultVal string, log *logger.Logger) string {
	v := envutil.String(key, defaultVal)
	if v == defaultVal && log != nil {
		log.Debug("environment variable not found, using default", "env_var", key, "default", defaultVal)
	}
	return v
}

func getEnvAsInt(key string, defaultVal int, log *logger.Logger) int {
	v := envutil.Int(key, defaultVal)
	if v == defaultVal && log != nil {
		log.Debug("environment variable not found or unparsable, using default", "env_var", key, "default", defaultVal)
	}
	return v
}

func getEnvAsDuration(key string, defaultVal time.Duration, log *logger.Logger) time.Duration {
	v := envutil.Duration(key, defaultVal)
	if v == defaultVal && log != nil {
		log.Debug("environment variable not found or unparsable, using default", "env_var", key, "default", defaultVal)
	}
	return v
}
