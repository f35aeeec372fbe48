package config

import "context"

// ConfigLoader decodes configuration from one source into dst.
type ConfigLoader interface {
	Load(ctx context.Context, path string, dst interface{}) error
}

// Validator is implemented by configs that check and complete themselves
// after loading.
type Validator interface {
	Validate() error
}
