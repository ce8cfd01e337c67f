package validation

import (
	"strings"
	"testing"
)

func TestValidateVersion(t *testing.T) {
	tests := []struct {
		name    string
		version string
		wantErr bool
	}{
		// Valid versions
		{"uuid", "ba3a05f8-2f1e-4c3a-9c57-0a6f0fa51e1c", false},
		{"simple", "v1", false},
		{"with dots", "release.2025.06", false},
		{"with spaces", "pre deploy", false},
		{"max length", strings.Repeat("a", 128), false},

		// Invalid versions - key injection attempts
		{"empty", "", true},
		{"colon crosses key ranges", "v1:extra", true},
		{"prefix spoof", "snapshot:other", true},
		{"newline", "v1\nv2", true},
		{"tab", "v1\tv2", true},
		{"nul byte", "v1\x00", true},
		{"too long", strings.Repeat("a", 129), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateVersion(tt.version)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateVersion(%q) error = %v, wantErr %v", tt.version, err, tt.wantErr)
			}
		})
	}
}

func TestValidateTag(t *testing.T) {
	tests := []struct {
		name    string
		tag     string
		wantErr bool
	}{
		{"empty means untagged", "", false},
		{"label", "baseline", false},
		{"label with space", "before migration", false},
		{"colon", "tag:sneaky", true},
		{"control char", "tag\x1b[31m", true},
		{"too long", strings.Repeat("t", 129), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTag(tt.tag)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateTag(%q) error = %v, wantErr %v", tt.tag, err, tt.wantErr)
			}
		})
	}
}
