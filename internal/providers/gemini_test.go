package providers

import "testing"

func TestNewGeminiProviderDefaults(t *testing.T) {
	t.Setenv("LITGRAPH_GEMINI_EMBED_MODEL", "")
	t.Setenv("LITGRAPH_GEMINI_CHAT_MODEL", "")
	p := NewGeminiProvider("primary")
	if p.embedModel != "text-embedding-004" {
		t.Fatalf("unexpected embed model %q", p.embedModel)
	}
	if p.chatModel != "gemini-2.0-flash" {
		t.Fatalf("unexpected chat model %q", p.chatModel)
	}
}

func TestResolveGeminiKeyAlias(t *testing.T) {
	t.Setenv("LITGRAPH_GEMINI_KEY_PRIMARY", "alias-key")
	t.Setenv("GEMINI_API_KEY", "fallback-key")
	if got := resolveGeminiKey("primary"); got != "alias-key" {
		t.Fatalf("alias resolution failed, got %q", got)
	}
	if got := resolveGeminiKey(""); got != "fallback-key" {
		t.Fatalf("fallback resolution failed, got %q", got)
	}
}
