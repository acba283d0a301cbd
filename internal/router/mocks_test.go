package router

import (
	"context"
	"sync"

	"educube/internal/llm"
	"educube/internal/persona"
	"educube/internal/types"
)

// mockClient is a scriptable generation client that records every call.
type mockClient struct {
	mu    sync.Mutex
	calls []mockCall

	GenerateFunc func(ctx context.Context, profile persona.Profile, transcript []types.Message, opts llm.Options) (*types.Reply, error)
}

type mockCall struct {
	Profile    persona.Profile
	Transcript []types.Message
	Opts       llm.Options
}

func (m *mockClient) Generate(ctx context.Context, profile persona.Profile, transcript []types.Message, opts llm.Options) (*types.Reply, error) {
	m.mu.Lock()
	m.calls = append(m.calls, mockCall{Profile: profile, Transcript: transcript, Opts: opts})
	m.mu.Unlock()
	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, profile, transcript, opts)
	}
	return &types.Reply{Text: "ok"}, nil
}

func (m *mockClient) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// classifierReplying returns a mock whose every call yields the given
// classification JSON.
func classifierReplying(category, reason string) *mockClient {
	return &mockClient{
		GenerateFunc: func(ctx context.Context, profile persona.Profile, transcript []types.Message, opts llm.Options) (*types.Reply, error) {
			return &types.Reply{Text: `{"category": "` + category + `", "reason": "` + reason + `"}`}, nil
		},
	}
}
