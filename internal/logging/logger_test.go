package logging

import "testing"

func TestMaskSecret(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  string
	}{
		{"empty", "", ""},
		{"whitespace only", "   ", ""},
		{"short value fully hidden", "abc123", "***"},
		{"long value keeps edges", "1234567890abcdef", "123***def"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MaskSecret(tt.value); got != tt.want {
				t.Errorf("MaskSecret(%q) = %q, want %q", tt.value, got, tt.want)
			}
		})
	}
}

func TestNew_LevelFallback(t *testing.T) {
	// unknown levels must not panic, they fall back to info
	for _, level := range []string{"debug", "info", "warn", "error", "bogus", ""} {
		if logger := New(level); logger == nil {
			t.Errorf("New(%q) returned nil", level)
		}
	}
}
