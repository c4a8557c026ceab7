package validation

import (
	"testing"
	"time"
)

func TestValidateWorkerCount(t *testing.T) {
	tests := []struct {
		name    string
		workers int
		wantErr bool
	}{
		{"valid minimum", 1, false},
		{"valid middle", 10, false},
		{"valid maximum", 20, false},
		{"too low", 0, true},
		{"negative", -1, true},
		{"too high", 21, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateWorkerCount("search.workers", tt.workers)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateWorkerCount(%d) error = %v, wantErr %v", tt.workers, err, tt.wantErr)
			}
		})
	}
}

func TestValidateNonEmptyString(t *testing.T) {
	if err := ValidateNonEmptyString("field", ""); err == nil {
		t.Error("expected error for empty string")
	}
	if err := ValidateNonEmptyString("field", "value"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidatePositive(t *testing.T) {
	if err := ValidatePositiveInt("n", 0); err == nil {
		t.Error("expected error for 0")
	}
	if err := ValidatePositiveInt("n", 3); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidatePositiveDuration("d", 0); err == nil {
		t.Error("expected error for zero duration")
	}
	if err := ValidatePositiveDuration("d", time.Second); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidateHTTPURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"https", "https://proapi.example.com", false},
		{"http with port", "http://127.0.0.1:8080/token", false},
		{"empty", "", true},
		{"ftp", "ftp://example.com", true},
		{"no host", "https://", true},
		{"relative", "/open/user/info", true},
		{"bad escape", "http://%zz", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateHTTPURL("api.base_url", tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateHTTPURL(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
		})
	}
}
