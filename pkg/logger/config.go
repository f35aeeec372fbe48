/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package logger

import (
	"os"
	"strings"
	"time"

	"github.com/carverauto/terminal-discovery/pkg/models"
)

const (
	defaultServiceName  = "terminal-discovery"
	defaultBatchTimeout = 5 * time.Second

	// envPrefix names the daemon's own variables, which win over the
	// generic ones.
	envPrefix = "TD_"
)

// DefaultConfig reads TD_LOG_LEVEL, TD_LOG_DEBUG, TD_LOG_OUTPUT and
// TD_LOG_TIME_FORMAT, falling back to LOG_LEVEL, DEBUG, LOG_OUTPUT and
// LOG_TIME_FORMAT.
func DefaultConfig() *Config {
	return &Config{
		Level:      envString("info", envPrefix+"LOG_LEVEL", "LOG_LEVEL"),
		Debug:      envBool(false, envPrefix+"LOG_DEBUG", "DEBUG"),
		Output:     envString("stdout", envPrefix+"LOG_OUTPUT", "LOG_OUTPUT"),
		TimeFormat: envString("", envPrefix+"LOG_TIME_FORMAT", "LOG_TIME_FORMAT"),
		OTel:       DefaultOTelConfig(),
	}
}

// DefaultOTelConfig reads the OTLP log exporter settings. The logs-specific
// endpoint and headers take precedence over OTEL_EXPORTER_OTLP_*.
func DefaultOTelConfig() OTelConfig {
	batchTimeout := defaultBatchTimeout

	if raw := envString("", "OTEL_EXPORTER_OTLP_LOGS_TIMEOUT"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil {
			batchTimeout = d
		}
	}

	return OTelConfig{
		Enabled:      envBool(false, envPrefix+"OTEL_LOGS_ENABLED", "OTEL_LOGS_ENABLED"),
		Endpoint:     envString("", "OTEL_EXPORTER_OTLP_LOGS_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT"),
		Headers:      parseHeaders(envString("", "OTEL_EXPORTER_OTLP_LOGS_HEADERS", "OTEL_EXPORTER_OTLP_HEADERS")),
		ServiceName:  envString(defaultServiceName, "OTEL_SERVICE_NAME"),
		BatchTimeout: models.Duration(batchTimeout),
		Insecure:     envBool(false, "OTEL_EXPORTER_OTLP_LOGS_INSECURE", "OTEL_EXPORTER_OTLP_INSECURE"),
	}
}

// parseHeaders decodes "k1=v1,k2=v2".
func parseHeaders(raw string) map[string]string {
	headers := make(map[string]string)

	for _, pair := range strings.Split(raw, ",") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}

		if k = strings.TrimSpace(k); k != "" {
			headers[k] = strings.TrimSpace(v)
		}
	}

	return headers
}

// envString returns the first non-empty variable among keys.
func envString(def string, keys ...string) string {
	for _, key := range keys {
		if value := os.Getenv(key); value != "" {
			return value
		}
	}

	return def
}

func envBool(def bool, keys ...string) bool {
	value := envString("", keys...)
	if value == "" {
		return def
	}

	switch strings.ToLower(value) {
	case "true", "1", "yes", "on":
		return true
	default:
		return false
	}
}
