package common

import (
	"fmt"
	"slices"
)

// ValidateOutputFormat rejects formats outside the configured set. An empty
// set means no restriction.
func ValidateOutputFormat(format string, supportedFormats []string) error {
	if len(supportedFormats) == 0 {
		return nil
	}

	if slices.Contains(supportedFormats, format) {
		return nil
	}

	return fmt.Errorf("unsupported output format '%s'. Supported formats: %v",
		format, supportedFormats)
}

// GetSupportedFormats exposes the configured format set, for shell
// completion.
func GetSupportedFormats(supportedFormats []string) []string {
	return supportedFormats
}
