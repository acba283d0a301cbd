package collab

import (
	"context"
	"sync"
	"testing"

	"educube/internal/config"
	"educube/internal/llm"
	"educube/internal/persona"
	"educube/internal/types"
)

// mockClient is a scriptable generation client that records every call
// in order. Safe for concurrent use so parallel fan-out tests work.
type mockClient struct {
	mu    sync.Mutex
	calls []mockCall

	GenerateFunc func(ctx context.Context, profile persona.Profile, transcript []types.Message, opts llm.Options) (*types.Reply, error)
}

type mockCall struct {
	Persona    types.PersonaID
	Transcript []types.Message
}

func (m *mockClient) Generate(ctx context.Context, profile persona.Profile, transcript []types.Message, opts llm.Options) (*types.Reply, error) {
	snapshot := append([]types.Message(nil), transcript...)
	m.mu.Lock()
	m.calls = append(m.calls, mockCall{Persona: profile.ID, Transcript: snapshot})
	m.mu.Unlock()
	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, profile, transcript, opts)
	}
	return &types.Reply{Text: "reply from " + string(profile.ID)}, nil
}

func (m *mockClient) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func (m *mockClient) callsSnapshot() []mockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mockCall(nil), m.calls...)
}

func testRegistry(t *testing.T) *persona.Registry {
	t.Helper()
	reg, err := persona.NewRegistry(config.Default())
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return reg
}

func userBase(content string) []types.Message {
	return []types.Message{{Role: types.RoleUser, Content: content}}
}
