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
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/carverauto/terminal-discovery/pkg/models"
)

func TestOTelConfigDefaults(t *testing.T) {
	config := DefaultOTelConfig()

	if config.ServiceName == "" {
		t.Error("ServiceName should have a default value")
	}

	if config.BatchTimeout != models.Duration(5*time.Second) {
		t.Errorf("Expected default BatchTimeout to be 5s, got %v", config.BatchTimeout)
	}
}

func TestOTelConfigHeadersFromEnv(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_LOGS_HEADERS", "x-token = abc, tenant=lab")

	config := DefaultOTelConfig()

	if config.Headers["x-token"] != "abc" || config.Headers["tenant"] != "lab" {
		t.Errorf("unexpected headers: %v", config.Headers)
	}
}

func TestOTelConfigFallsBackToGenericEndpoint(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4317")
	t.Setenv("OTEL_EXPORTER_OTLP_HEADERS", "broken,auth=t0k")

	config := DefaultOTelConfig()

	if config.Endpoint != "collector:4317" {
		t.Errorf("Expected generic endpoint, got %q", config.Endpoint)
	}

	if len(config.Headers) != 1 || config.Headers["auth"] != "t0k" {
		t.Errorf("unexpected headers: %v", config.Headers)
	}

	t.Setenv("OTEL_EXPORTER_OTLP_LOGS_ENDPOINT", "logs:4317")

	if got := DefaultOTelConfig().Endpoint; got != "logs:4317" {
		t.Errorf("Expected logs endpoint to win, got %q", got)
	}
}

func TestOTelWriter_Disabled(t *testing.T) {
	writer, err := NewOTELWriter(context.Background(), OTelConfig{Enabled: false})
	if !errors.Is(err, ErrOTelLoggingDisabled) {
		t.Errorf("Expected ErrOTelLoggingDisabled, got %v", err)
	}

	if writer != nil {
		t.Error("Writer should be nil when OTel is disabled")
	}
}

func TestOTelWriter_NoEndpoint(t *testing.T) {
	writer, err := NewOTELWriter(context.Background(), OTelConfig{Enabled: true})
	if !errors.Is(err, ErrOTelEndpointRequired) {
		t.Errorf("Expected ErrOTelEndpointRequired, got %v", err)
	}

	if writer != nil {
		t.Error("Writer should be nil when endpoint is empty")
	}
}

func TestInitializeMetricsDisabled(t *testing.T) {
	_, err := InitializeMetrics(context.Background(), MetricsConfig{})
	if !errors.Is(err, ErrOTelMetricsDisabled) {
		t.Errorf("Expected ErrOTelMetricsDisabled, got %v", err)
	}
}

func TestInitializeTracingWithoutExporter(t *testing.T) {
	tp, err := InitializeTracing(context.Background(), TracingConfig{ServiceName: "td-test"})
	if err != nil {
		t.Fatalf("InitializeTracing: %v", err)
	}

	defer func() { _ = tp.Shutdown(context.Background()) }()

	_, span := GetTracer("td-test").Start(context.Background(), "span-check")
	defer span.End()

	if !span.SpanContext().IsValid() {
		t.Error("Expected a valid span context from the SDK provider")
	}
}

func TestMapZerologLevelToOTel(t *testing.T) {
	tests := []struct {
		zerologLevel string
		expected     string
	}{
		{"trace", "TRACE"},
		{"debug", "DEBUG"},
		{"info", "INFO"},
		{"warn", "WARN"},
		{"warning", "WARN"},
		{"error", "ERROR"},
		{"fatal", "FATAL"},
		{"panic", "FATAL"},
		{"unknown", "INFO"},
	}

	for _, test := range tests {
		result := mapZerologLevelToOTel(test.zerologLevel)
		if result.String() != test.expected {
			t.Errorf("mapZerologLevelToOTel(%s) = %s, expected %s",
				test.zerologLevel, result.String(), test.expected)
		}
	}
}

func TestTruncateString(t *testing.T) {
	got, cut := truncateString(strings.Repeat("a", 10), 8)
	if !cut || got != "aaaaa..." {
		t.Errorf("truncateString = %q, %v", got, cut)
	}

	got, cut = truncateString("short", 8)
	if cut || got != "short" {
		t.Errorf("truncateString = %q, %v", got, cut)
	}

	// never split a multi-byte rune
	got, _ = truncateString("ééééé", 6)
	if got != "é..." {
		t.Errorf("truncateString = %q", got)
	}
}

func TestMultiWriter(t *testing.T) {
	var a, b bytes.Buffer

	mw := NewMultiWriter(&a, &b)

	n, err := mw.Write([]byte("line\n"))
	if err != nil || n != 5 {
		t.Fatalf("Write = %d, %v", n, err)
	}

	if a.String() != "line\n" || b.String() != "line\n" {
		t.Errorf("writers got %q and %q", a.String(), b.String())
	}
}
