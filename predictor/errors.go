package predictor

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotInitialized is returned when artifacts have not been loaded.
var ErrNotInitialized = errors.New("predictor not initialized: artifacts not loaded")

// SchemaIncompatibilityError means the loaded schema lacks a numeric column
// the encoder always fills, so the schema and model pair cannot be trusted.
type SchemaIncompatibilityError struct {
	Missing []string
}

func (e *SchemaIncompatibilityError) Error() string {
	return fmt.Sprintf("schema incompatible with encoder: missing required column(s) %s", strings.Join(e.Missing, ", "))
}
