package validation

import (
	"fmt"
	"net/url"
	"time"
)

const (
	MinWorkers = 1
	MaxWorkers = 20
)

func ValidateWorkerCount(fieldName string, workers int) error {
	if workers < MinWorkers || workers > MaxWorkers {
		return fmt.Errorf("%s must be between %d and %d, got %d", fieldName, MinWorkers, MaxWorkers, workers)
	}
	return nil
}

func ValidateNonEmptyString(fieldName, value string) error {
	if value == "" {
		return fmt.Errorf("%s cannot be empty", fieldName)
	}
	return nil
}

func ValidatePositiveInt(fieldName string, n int) error {
	if n < 1 {
		return fmt.Errorf("%s must be at least 1, got %d", fieldName, n)
	}
	return nil
}

func ValidatePositiveDuration(fieldName string, d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("%s must be positive, got %s", fieldName, d)
	}
	return nil
}

// ValidateHTTPURL checks that rawURL is an absolute http or https URL.
func ValidateHTTPURL(fieldName, rawURL string) error {
	if err := ValidateNonEmptyString(fieldName, rawURL); err != nil {
		return err
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", fieldName, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s scheme must be http or https, got: %q", fieldName, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%s has no host", fieldName)
	}
	return nil
}
