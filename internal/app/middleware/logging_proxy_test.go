package middleware

import "testing"

func TestIsIntrospectionRequest(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		expected bool
	}{
		{name: "health endpoint", path: "/health", expected: true},
		{name: "status endpoint", path: "/status", expected: true},
		{name: "diagnostics endpoint", path: "/diagnostics", expected: true},
		{name: "forwarded chat path", path: "/v1/chat/completions", expected: false},
		{name: "root path", path: "/", expected: false},
		{name: "nested health-like path is forwarded", path: "/health/check", expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsIntrospectionRequest(tt.path); got != tt.expected {
				t.Errorf("IsIntrospectionRequest(%q) = %v, want %v", tt.path, got, tt.expected)
			}
		})
	}
}
