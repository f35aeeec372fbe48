package config

import (
	"encoding/json"

	"github.com/carverauto/terminal-discovery/pkg/models"
)

// Sanitized returns cfg as a JSON-shaped map without fields tagged
// `sensitive:"true"`; use it for anything shown to operators.
func Sanitized(cfg interface{}) (map[string]interface{}, error) {
	return models.FilterSensitiveFields(cfg)
}

// SanitizedJSON marshals Sanitized(cfg) with indentation.
func SanitizedJSON(cfg interface{}) ([]byte, error) {
	safe, err := Sanitized(cfg)
	if err != nil {
		return nil, err
	}

	return json.MarshalIndent(safe, "", "  ")
}
