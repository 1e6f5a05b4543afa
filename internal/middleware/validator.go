package middleware

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bryanwahyu/filescope/internal/domain/content"
	"github.com/bryanwahyu/filescope/internal/domain/submission"
)

// Input validation and sanitization utilities

// ValidateVisibility accepts "public", "private" or empty (public).
func ValidateVisibility(v string) (submission.Visibility, error) {
	return submission.ParseVisibility(strings.ToLower(strings.TrimSpace(v)))
}

// ValidateCID checks the path parameter is a well-formed CID.
func ValidateCID(raw string) (content.ID, error) {
	if raw == "" {
		return "", fmt.Errorf("cid cannot be empty")
	}
	return content.Parse(raw)
}

// SanitizeFileName strips directories and control characters from an upload name.
func SanitizeFileName(name string) string {
	name = SanitizeString(filepath.Base(strings.ReplaceAll(name, "\\", "/")))
	if name == "." || name == "/" {
		return ""
	}
	return name
}

// SanitizeString removes dangerous characters from strings
func SanitizeString(input string) string {
	// Remove null bytes
	input = strings.ReplaceAll(input, "\x00", "")

	var result strings.Builder
	for _, r := range input {
		if r >= 32 || r == '\t' || r == '\n' {
			result.WriteRune(r)
		}
	}
	return strings.TrimSpace(result.String())
}

// ValidateLimit validates pagination limit
func ValidateLimit(limit int) int {
	if limit <= 0 {
		return 20 // default
	}
	if limit > 100 {
		return 100 // max limit
	}
	return limit
}

// ParseQualityMin reads quality_min; empty means no minimum.
func ParseQualityMin(raw string) (float64, error) {
	if raw == "" {
		return 0, nil
	}
	q, err := strconv.ParseFloat(raw, 64)
	if err != nil || q < 0 || q > 100 {
		return 0, fmt.Errorf("quality_min must be a number between 0 and 100")
	}
	return q, nil
}

// ParseBiasMax reads bias_max; empty means no limit.
func ParseBiasMax(raw string) (*float64, error) {
	if raw == "" {
		return nil, nil
	}
	b, err := strconv.ParseFloat(raw, 64)
	if err != nil || b < 0 || b > 100 {
		return nil, fmt.Errorf("bias_max must be a number between 0 and 100")
	}
	return &b, nil
}
