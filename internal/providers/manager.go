package providers

import (
	"fmt"
	"strings"
	"sync"

	"edgarrag/internal/config"
	"edgarrag/internal/util"
)

// Manager builds and caches gateway instances. It is constructed once from
// config and shared; instances built from configured credentials are cached
// per provider reference, while a caller-supplied key always yields a fresh
// instance that is never cached.
type Manager struct {
	cfg config.Config

	mu          sync.Mutex
	completions map[string]CompletionProvider
	embeddings  map[string]EmbeddingProvider
}

func NewManager(cfg config.Config) *Manager {
	return &Manager{
		cfg:         cfg,
		completions: map[string]CompletionProvider{},
		embeddings:  map[string]EmbeddingProvider{},
	}
}

// Completion resolves a completion gateway. An empty name selects the
// configured default.
func (m *Manager) Completion(name, apiKey string) (CompletionProvider, error) {
	ref := m.ref(name, m.cfg.LLMProvider)
	if strings.TrimSpace(apiKey) != "" {
		return m.buildCompletion(ref, apiKey)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.completions[ref.Raw]; ok {
		return p, nil
	}
	p, err := m.buildCompletion(ref, m.configuredKey(ref.Name))
	if err != nil {
		return nil, err
	}
	m.completions[ref.Raw] = p
	return p, nil
}

// Embedding resolves an embedding gateway. An empty name selects the
// configured default.
func (m *Manager) Embedding(name, apiKey string) (EmbeddingProvider, error) {
	ref := m.ref(name, m.cfg.EmbedProvider)
	if strings.TrimSpace(apiKey) != "" {
		return m.buildEmbedding(ref, apiKey)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.embeddings[ref.Raw]; ok {
		return p, nil
	}
	p, err := m.buildEmbedding(ref, m.configuredKey(ref.Name))
	if err != nil {
		return nil, err
	}
	m.embeddings[ref.Raw] = p
	return p, nil
}

// HasEmbeddingCredential reports whether the default embedding provider can
// be built without a caller-supplied key.
func (m *Manager) HasEmbeddingCredential() bool {
	name := ParseProviderRef(m.cfg.EmbedProvider).Name
	if !needsKey(name) {
		return true
	}
	return m.configuredKey(name) != ""
}

func (m *Manager) ref(name, fallback string) ProviderRef {
	if strings.TrimSpace(name) == "" {
		name = fallback
	}
	ref := ParseProviderRef(name)
	if ref.Name == "" {
		ref = ProviderRef{Raw: "mock", Name: "mock"}
	}
	ref.Raw = strings.ToLower(ref.Raw)
	return ref
}

func (m *Manager) configuredKey(name string) string {
	switch name {
	case "openai":
		return m.cfg.OpenAIKey
	case "anthropic":
		return m.cfg.AnthropicKey
	case "groq":
		return m.cfg.GroqKey
	default:
		return ""
	}
}

func needsKey(name string) bool {
	switch name {
	case "openai", "anthropic", "groq":
		return true
	default:
		return false
	}
}

func missingKey(name string) error {
	return fmt.Errorf("%w: %s_API_KEY is not set", util.ErrConfiguration, strings.ToUpper(name))
}

func (m *Manager) buildCompletion(ref ProviderRef, key string) (CompletionProvider, error) {
	if needsKey(ref.Name) && strings.TrimSpace(key) == "" {
		return nil, missingKey(ref.Name)
	}
	model := ref.Model
	if model == "" && ref.Name == ParseProviderRef(m.cfg.LLMProvider).Name {
		model = m.cfg.CompletionModel
	}
	switch ref.Name {
	case "openai":
		return NewOpenAIProvider(key, model, m.cfg.EmbedModel), nil
	case "anthropic":
		return NewAnthropicProvider(key, model)
	case "groq":
		return NewGroqProvider(key, model), nil
	case "mock":
		return NewMockProvider(m.cfg.EmbedDim), nil
	default:
		return nil, fmt.Errorf("%w: unsupported completion provider %q", util.ErrConfiguration, ref.Name)
	}
}

func (m *Manager) buildEmbedding(ref ProviderRef, key string) (EmbeddingProvider, error) {
	if needsKey(ref.Name) && strings.TrimSpace(key) == "" {
		return nil, missingKey(ref.Name)
	}
	model := ref.Model
	if model == "" {
		model = m.cfg.EmbedModel
	}
	switch ref.Name {
	case "openai":
		return NewOpenAIProvider(key, "", model).WithDimension(m.cfg.EmbedDim), nil
	case "ollama":
		return NewOllamaEmbeddingProvider(m.cfg.OllamaBaseURL, ref.Model, m.cfg.EmbedDim), nil
	case "mock":
		return NewMockProvider(m.cfg.EmbedDim), nil
	default:
		return nil, fmt.Errorf("%w: provider %q does not support embeddings", util.ErrConfiguration, ref.Name)
	}
}
