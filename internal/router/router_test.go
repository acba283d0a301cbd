package router

import (
	"context"
	"errors"
	"testing"

	"educube/internal/config"
	"educube/internal/llm"
	"educube/internal/persona"
	"educube/internal/types"
)

func testRegistry(t *testing.T) *persona.Registry {
	t.Helper()
	reg, err := persona.NewRegistry(config.Default())
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return reg
}

func TestRoute_ClassifiesToPersona(t *testing.T) {
	cases := []struct {
		category string
		want     types.PersonaID
	}{
		{"theory", types.PersonaExpert},
		{"operational", types.PersonaAssistant},
		{"general", types.PersonaPeer},
	}

	for _, tc := range cases {
		t.Run(tc.category, func(t *testing.T) {
			client := classifierReplying(tc.category, "because")
			rt := New(client, testRegistry(t))

			dec, err := rt.Route(context.Background(), types.Request{Message: "什么是导数", Mode: types.ModeDirect})
			if err != nil {
				t.Fatalf("Route failed: %v", err)
			}
			if len(dec.Personas) != 1 || dec.Personas[0] != tc.want {
				t.Errorf("category %s: expected persona %s, got %v", tc.category, tc.want, dec.Personas)
			}
			if dec.Category != Category(tc.category) {
				t.Errorf("expected category %s, got %s", tc.category, dec.Category)
			}
			if dec.Rationale != "because" {
				t.Errorf("model reason must carry through, got %q", dec.Rationale)
			}
		})
	}
}

func TestRoute_ClassificationIsDeterministic(t *testing.T) {
	client := classifierReplying("theory", "math")
	rt := New(client, testRegistry(t))

	if _, err := rt.Route(context.Background(), types.Request{Message: "q", Mode: types.ModeDirect}); err != nil {
		t.Fatal(err)
	}

	client.mu.Lock()
	call := client.calls[0]
	client.mu.Unlock()

	if call.Profile.ID != types.PersonaRouter {
		t.Errorf("classification must use the router persona, got %s", call.Profile.ID)
	}
	if call.Opts.Temperature == nil || *call.Opts.Temperature != 0 {
		t.Error("classification must run at temperature zero")
	}
	if call.Opts.Schema == nil {
		t.Error("classification must request structured output")
	}
}

func TestRoute_ClassificationSeesHistory(t *testing.T) {
	client := classifierReplying("general", "context")
	rt := New(client, testRegistry(t))

	history := []types.Message{
		{Role: types.RoleUser, Content: "earlier question"},
		{Role: string(types.PersonaPeer), Content: "earlier answer"},
	}
	if _, err := rt.Route(context.Background(), types.Request{Message: "and now?", Mode: types.ModeDirect, History: history}); err != nil {
		t.Fatal(err)
	}

	client.mu.Lock()
	transcript := client.calls[0].Transcript
	client.mu.Unlock()

	// History, current message, classification instruction.
	if len(transcript) != 4 {
		t.Fatalf("expected 4 transcript entries, got %d", len(transcript))
	}
	if transcript[0].Content != "earlier question" {
		t.Error("caller history must precede the current message")
	}
	if transcript[2].Content != "and now?" {
		t.Error("current message must follow history")
	}
}

func TestRoute_GenerationFailureFallsBack(t *testing.T) {
	client := &mockClient{
		GenerateFunc: func(ctx context.Context, profile persona.Profile, transcript []types.Message, opts llm.Options) (*types.Reply, error) {
			return nil, &llm.GenerationError{Kind: types.FailureTimeout}
		},
	}
	rt := New(client, testRegistry(t))

	dec, err := rt.Route(context.Background(), types.Request{Message: "q", Mode: types.ModeDirect})
	if err != nil {
		t.Fatalf("classification failure must not surface as an error: %v", err)
	}
	if len(dec.Personas) != 1 || dec.Personas[0] != types.PersonaAssistant {
		t.Errorf("expected fallback to assistant, got %v", dec.Personas)
	}
	if dec.Category != CategoryUnknown {
		t.Errorf("expected category unknown, got %s", dec.Category)
	}
	if dec.Rationale != "fallback: classification unavailable" {
		t.Errorf("unexpected rationale %q", dec.Rationale)
	}
}

func TestRoute_UnknownCategoryFallsBack(t *testing.T) {
	client := classifierReplying("philosophy", "off the menu")
	rt := New(client, testRegistry(t))

	dec, err := rt.Route(context.Background(), types.Request{Message: "q", Mode: types.ModeDirect})
	if err != nil {
		t.Fatal(err)
	}
	if dec.Personas[0] != types.PersonaAssistant || dec.Category != CategoryUnknown {
		t.Errorf("out-of-enumeration category must fall back, got %+v", dec)
	}
}

func TestRoute_MalformedClassificationFallsBack(t *testing.T) {
	client := &mockClient{
		GenerateFunc: func(ctx context.Context, profile persona.Profile, transcript []types.Message, opts llm.Options) (*types.Reply, error) {
			return &types.Reply{Text: "definitely theory, trust me"}, nil
		},
	}
	rt := New(client, testRegistry(t))

	dec, err := rt.Route(context.Background(), types.Request{Message: "q", Mode: types.ModeDirect})
	if err != nil {
		t.Fatal(err)
	}
	if dec.Personas[0] != types.PersonaAssistant {
		t.Errorf("unparseable classification must fall back, got %v", dec.Personas)
	}
}

func TestRoute_OverrideSkipsClassification(t *testing.T) {
	client := &mockClient{}
	rt := New(client, testRegistry(t))

	dec, err := rt.Route(context.Background(), types.Request{
		Message:  "q",
		Mode:     types.ModeDirect,
		Override: types.PersonaPeer,
	})
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	if len(dec.Personas) != 1 || dec.Personas[0] != types.PersonaPeer {
		t.Errorf("override must be honored verbatim, got %v", dec.Personas)
	}
	if client.callCount() != 0 {
		t.Errorf("override must not call the classifier, got %d calls", client.callCount())
	}
}

func TestRoute_UnknownOverrideIsError(t *testing.T) {
	rt := New(&mockClient{}, testRegistry(t))

	for _, bad := range []types.PersonaID{"professor", "router"} {
		_, err := rt.Route(context.Background(), types.Request{Message: "q", Override: bad})
		if !errors.Is(err, persona.ErrUnknown) {
			t.Errorf("override %q: expected ErrUnknown, got %v", bad, err)
		}
	}
}

func TestRoute_CollaborateConvenesAll(t *testing.T) {
	client := &mockClient{}
	rt := New(client, testRegistry(t))

	dec, err := rt.Route(context.Background(), types.Request{Message: "q", Mode: types.ModeCollaborate})
	if err != nil {
		t.Fatal(err)
	}
	if len(dec.Personas) != 3 {
		t.Fatalf("expected the full persona set, got %v", dec.Personas)
	}
	for i, id := range types.ResponderPersonas {
		if dec.Personas[i] != id {
			t.Errorf("position %d: expected %s, got %s", i, id, dec.Personas[i])
		}
	}
	if dec.Category != CategoryCollaboration {
		t.Errorf("expected collaboration category, got %s", dec.Category)
	}
	if client.callCount() != 0 {
		t.Error("collaboration mode must not call the classifier")
	}
}
