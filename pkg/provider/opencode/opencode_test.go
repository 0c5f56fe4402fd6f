package opencode

import (
	"testing"

	"clawbridge/pkg/config"
)

func TestNewRequiresBaseURL(t *testing.T) {
	cfg := &config.Config{}

	if _, err := New(cfg); err == nil {
		t.Fatal("expected error for missing base url")
	}
}

func TestParseModelRef(t *testing.T) {
	tests := []struct {
		name         string
		input        string
		wantProvider string
		wantModel    string
		wantOK       bool
	}{
		{name: "valid ref", input: "anthropic/claude-sonnet", wantProvider: "anthropic", wantModel: "claude-sonnet", wantOK: true},
		{name: "trims whitespace", input: "  openai / gpt-5.2 ", wantProvider: "openai", wantModel: "gpt-5.2", wantOK: true},
		{name: "no slash", input: "gpt-5.2", wantOK: false},
		{name: "empty provider", input: "/model", wantOK: false},
		{name: "empty", input: "", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider, model, ok := parseModelRef(tt.input)
			if ok != tt.wantOK {
				t.Fatalf("parseModelRef(%q) ok = %v, want %v", tt.input, ok, tt.wantOK)
			}
			if provider != tt.wantProvider || model != tt.wantModel {
				t.Fatalf("parseModelRef(%q) = (%q, %q), want (%q, %q)", tt.input, provider, model, tt.wantProvider, tt.wantModel)
			}
		})
	}
}

func TestBuildBasicAuthHeader(t *testing.T) {
	t.Setenv("OPENCODE_PASSWORD", "secret")

	cfg := config.OpenCodeProviderConfig{PasswordEnv: "OPENCODE_PASSWORD"}
	header, ok := buildBasicAuthHeader(cfg)
	if !ok {
		t.Fatal("expected auth header")
	}
	// opencode:secret
	if header != "Basic b3BlbmNvZGU6c2VjcmV0" {
		t.Fatalf("header = %q", header)
	}
}

func TestBuildBasicAuthHeaderMissingPassword(t *testing.T) {
	t.Setenv("OPENCODE_PASSWORD", "")

	cfg := config.OpenCodeProviderConfig{PasswordEnv: "OPENCODE_PASSWORD"}
	if _, ok := buildBasicAuthHeader(cfg); ok {
		t.Fatal("expected no header when password env is empty")
	}
}

func TestTokenCount(t *testing.T) {
	if got := tokenCount(-3); got != 0 {
		t.Fatalf("tokenCount(-3) = %d, want 0", got)
	}
	if got := tokenCount(41.6); got != 42 {
		t.Fatalf("tokenCount(41.6) = %d, want 42", got)
	}
}
