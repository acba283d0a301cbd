package collab

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"educube/internal/config"
	"educube/internal/llm"
	"educube/internal/persona"
	"educube/internal/router"
	"educube/internal/types"
)

// scriptedBackend answers classification calls with a fixed category and
// persona calls with canned replies.
func scriptedBackend(category string) *mockClient {
	m := &mockClient{}
	m.GenerateFunc = func(ctx context.Context, profile persona.Profile, transcript []types.Message, opts llm.Options) (*types.Reply, error) {
		if profile.ID == types.PersonaRouter {
			return &types.Reply{Text: `{"category": "` + category + `", "reason": "scripted"}`}, nil
		}
		return &types.Reply{Text: "reply from " + string(profile.ID)}, nil
	}
	return m
}

func newOrchestrator(t *testing.T, client llm.Client) *Orchestrator {
	t.Helper()
	reg := testRegistry(t)
	rt := router.New(client, reg)
	pl := NewPipeline(client, reg, 3)
	return NewOrchestrator(rt, pl, config.Default().Collaboration)
}

func TestHandle_DirectTheoryQuestion(t *testing.T) {
	client := scriptedBackend("theory")
	orch := newOrchestrator(t, client)

	result, err := orch.Handle(context.Background(), types.Request{
		Message: "什么是导数",
		Mode:    types.ModeDirect,
	})
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	if result.Status != types.StatusOK {
		t.Errorf("expected status ok, got %s", result.Status)
	}
	if len(result.Routing.Personas) != 1 || result.Routing.Personas[0] != types.PersonaExpert {
		t.Errorf("theory question must go to the expert, got %v", result.Routing.Personas)
	}
	if result.Answer != "reply from expert" {
		t.Errorf("unexpected answer %q", result.Answer)
	}
	// One classification call plus exactly one persona call.
	if client.callCount() != 2 {
		t.Errorf("expected 2 generation calls, got %d", client.callCount())
	}
}

func TestHandle_OverrideBypassesRouter(t *testing.T) {
	client := &mockClient{}
	orch := newOrchestrator(t, client)

	result, err := orch.Handle(context.Background(), types.Request{
		Message:  "how should I plan my week?",
		Mode:     types.ModeDirect,
		Override: types.PersonaAssistant,
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != types.StatusOK {
		t.Errorf("expected ok, got %s", result.Status)
	}
	// No classification call at all.
	if client.callCount() != 1 {
		t.Errorf("expected exactly 1 call, got %d", client.callCount())
	}
	calls := client.callsSnapshot()
	if calls[0].Persona != types.PersonaAssistant {
		t.Errorf("expected assistant call, got %s", calls[0].Persona)
	}
}

func TestHandle_UnknownOverrideError(t *testing.T) {
	orch := newOrchestrator(t, &mockClient{})

	_, err := orch.Handle(context.Background(), types.Request{
		Message:  "q",
		Override: "oracle",
	})
	if !errors.Is(err, persona.ErrUnknown) {
		t.Errorf("expected ErrUnknown, got %v", err)
	}
}

func TestHandle_CollaborateSequential(t *testing.T) {
	client := scriptedBackend("theory")
	orch := newOrchestrator(t, client)

	result, err := orch.Handle(context.Background(), types.Request{
		Message: "explain limits together",
		Mode:    types.ModeCollaborate,
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Routing.Category != router.CategoryCollaboration {
		t.Errorf("expected collaboration category, got %s", result.Routing.Category)
	}
	if len(result.Turns) != 3 {
		t.Fatalf("expected 3 turns, got %d", len(result.Turns))
	}
	// Labeled multi-voice answer.
	if !strings.HasPrefix(result.Answer, "[expert] ") {
		t.Errorf("expected labeled answer, got %q", result.Answer)
	}
	// No classification call in collaboration mode: 3 persona calls only.
	if client.callCount() != 3 {
		t.Errorf("expected 3 calls, got %d", client.callCount())
	}
}

func TestHandle_Stateless(t *testing.T) {
	client := scriptedBackend("general")
	orch := newOrchestrator(t, client)

	first := []types.Message{{Role: types.RoleUser, Content: "my exam is on Friday"}}
	if _, err := orch.Handle(context.Background(), types.Request{Message: "any advice?", Mode: types.ModeDirect, History: first}); err != nil {
		t.Fatal(err)
	}

	second := []types.Message{{Role: types.RoleUser, Content: "I like chemistry"}}
	if _, err := orch.Handle(context.Background(), types.Request{Message: "suggest a topic", Mode: types.ModeDirect, History: second}); err != nil {
		t.Fatal(err)
	}

	// Nothing from the first call may leak into the second call's
	// transcripts; only caller-supplied history travels.
	for _, call := range client.callsSnapshot()[2:] {
		for _, m := range call.Transcript {
			if strings.Contains(m.Content, "exam is on Friday") {
				t.Fatal("state leaked between requests")
			}
		}
	}
}

func TestHandle_HintsFoldedIntoMessage(t *testing.T) {
	client := &mockClient{}
	orch := newOrchestrator(t, client)

	if _, err := orch.Handle(context.Background(), types.Request{
		Message:    "explain osmosis",
		Override:   types.PersonaExpert,
		Subject:    "biology",
		Difficulty: "intro",
	}); err != nil {
		t.Fatal(err)
	}

	calls := client.callsSnapshot()
	got := calls[0].Transcript[len(calls[0].Transcript)-1].Content
	if !strings.Contains(got, "explain osmosis") {
		t.Errorf("message lost: %q", got)
	}
	if !strings.Contains(got, "subject: biology") || !strings.Contains(got, "difficulty: intro") {
		t.Errorf("hints must be folded into the user message, got %q", got)
	}
}

func TestHandle_DeadlineProducesTimeoutTurns(t *testing.T) {
	client := &mockClient{
		GenerateFunc: func(ctx context.Context, profile persona.Profile, transcript []types.Message, opts llm.Options) (*types.Reply, error) {
			select {
			case <-ctx.Done():
				return nil, &llm.GenerationError{Kind: types.FailureTimeout}
			case <-time.After(5 * time.Second):
				return &types.Reply{Text: "too late"}, nil
			}
		},
	}
	orch := newOrchestrator(t, client)

	result, err := orch.Handle(context.Background(), types.Request{
		Message:  "q",
		Override: types.PersonaExpert,
		Deadline: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("deadline expiry must not be an error: %v", err)
	}
	if result.Status != types.StatusFailed {
		t.Errorf("expected failed, got %s", result.Status)
	}
	if len(result.Failures) != 1 || result.Failures[0].Kind != types.FailureTimeout {
		t.Errorf("expected a timeout failure, got %v", result.Failures)
	}
}

func TestHandle_GenerationFailureInResultNotError(t *testing.T) {
	client := &mockClient{
		GenerateFunc: func(ctx context.Context, profile persona.Profile, transcript []types.Message, opts llm.Options) (*types.Reply, error) {
			return nil, &llm.GenerationError{Kind: types.FailureAuth}
		},
	}
	orch := newOrchestrator(t, client)

	result, err := orch.Handle(context.Background(), types.Request{Message: "q", Override: types.PersonaPeer})
	if err != nil {
		t.Fatalf("generation failures belong in the result: %v", err)
	}
	if result.Status != types.StatusFailed {
		t.Errorf("expected failed, got %s", result.Status)
	}
	if result.Failures[0].Kind != types.FailureAuth {
		t.Errorf("expected auth_error verbatim, got %s", result.Failures[0].Kind)
	}
}
