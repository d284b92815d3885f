package providers

import "testing"

func TestNewGroqProviderDefaults(t *testing.T) {
	p := NewGroqProvider("k", "")
	if p.name != "groq" || p.chatModel != defaultGroqModel || p.baseURL != groqBaseURL {
		t.Fatalf("unexpected groq provider: %+v", p)
	}
	if p.Dimension() != 0 {
		t.Fatalf("groq should not advertise an embedding dimension, got %d", p.Dimension())
	}
}
