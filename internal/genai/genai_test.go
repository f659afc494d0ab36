package genai

import "testing"

func TestNewClientRequiresAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := NewClient(); err == nil {
		t.Error("expected error without an API key")
	}
}

func TestNewClientDefaults(t *testing.T) {
	client, err := NewClient(WithAPIKey("sk-test"))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if client.model != DefaultModel {
		t.Errorf("expected default model %q, got %q", DefaultModel, client.model)
	}
	if client.temperature != DefaultTemperature {
		t.Errorf("expected default temperature %v, got %v", DefaultTemperature, client.temperature)
	}
	if client.maxTokens != DefaultMaxTokens {
		t.Errorf("expected default max tokens %d, got %d", DefaultMaxTokens, client.maxTokens)
	}
}

func TestNewClientOptions(t *testing.T) {
	client, err := NewClient(
		WithAPIKey("sk-test"),
		WithModel("gpt-4o-mini"),
		WithTemperature(0.9),
		WithMaxTokens(256),
	)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if client.model != "gpt-4o-mini" || client.temperature != 0.9 || client.maxTokens != 256 {
		t.Errorf("options not applied: model=%q temperature=%v maxTokens=%d",
			client.model, client.temperature, client.maxTokens)
	}
}

func TestNewClientEnvFallback(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-env")
	if _, err := NewClient(); err != nil {
		t.Errorf("expected environment key to satisfy NewClient, got %v", err)
	}
}
