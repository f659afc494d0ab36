package util

import "testing"

func TestParseBoolEnv(t *testing.T) {
	tests := []struct {
		value        string
		defaultValue bool
		want         bool
	}{
		{"true", false, true},
		{"TRUE", false, true},
		{"1", false, true},
		{"yes", false, true},
		{"on", false, true},
		{" true ", false, true},
		{"false", true, false},
		{"0", true, false},
		{"no", true, false},
		{"off", true, false},
		{"", true, true},
		{"", false, false},
		{"banana", true, true},
		{"banana", false, false},
	}
	for _, tt := range tests {
		t.Setenv("VOXPREP_TEST_BOOL", tt.value)
		if got := ParseBoolEnv("VOXPREP_TEST_BOOL", tt.defaultValue); got != tt.want {
			t.Errorf("ParseBoolEnv(%q, %v) = %v, want %v", tt.value, tt.defaultValue, got, tt.want)
		}
	}
}
