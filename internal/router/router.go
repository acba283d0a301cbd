// Package router maps one request to a routing decision: which
// persona(s) answer, and why. Classification is a single deterministic
// structured call against the router persona; everything after that is
// a fixed lookup table, never a model decision.
package router

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"educube/internal/llm"
	"educube/internal/logging"
	"educube/internal/persona"
	"educube/internal/types"
)

// Category is the classification label used to pick a persona.
type Category string

const (
	// CategoryTheory covers academic/theoretical questions.
	CategoryTheory Category = "theory"
	// CategoryOperational covers how-to and study-method requests.
	CategoryOperational Category = "operational"
	// CategoryGeneral covers open discussion and emotional support.
	CategoryGeneral Category = "general"
	// CategoryUnknown marks decisions made without a usable
	// classification (fallback path).
	CategoryUnknown Category = "unknown"
	// CategoryCollaboration marks multi-persona requests, which bypass
	// classification entirely.
	CategoryCollaboration Category = "collaboration"
)

// categoryPersona is the fixed category-to-persona table.
var categoryPersona = map[Category]types.PersonaID{
	CategoryTheory:      types.PersonaExpert,
	CategoryOperational: types.PersonaAssistant,
	CategoryGeneral:     types.PersonaPeer,
}

// fallbackPersona answers when classification is unavailable.
const fallbackPersona = types.PersonaAssistant

// Decision is the routing result. Personas is never empty.
type Decision struct {
	Personas  []types.PersonaID `json:"chosen_personas"`
	Category  Category          `json:"task_category"`
	Rationale string            `json:"rationale"`
}

// classificationSchema constrains the router persona's output.
var classificationSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"category": map[string]interface{}{
			"type": "string",
			"enum": []string{string(CategoryTheory), string(CategoryOperational), string(CategoryGeneral)},
		},
		"persona": map[string]interface{}{
			"type": "string",
			"enum": []string{string(types.PersonaExpert), string(types.PersonaAssistant), string(types.PersonaPeer)},
		},
		"reason": map[string]interface{}{"type": "string"},
	},
	"required": []string{"category", "reason"},
}

// classificationInstruction rides along with the router persona's
// configured prompt; the strict format lives here rather than in config
// so the schema and the instruction cannot drift apart.
const classificationInstruction = `Classify the student's latest request into exactly one category: "theory", "operational", or "general". Respond with a single JSON object: {"category": "...", "reason": "..."}. No other text.`

// Router turns requests into routing decisions.
type Router struct {
	client   llm.Client
	registry *persona.Registry
	log      *zap.Logger
}

// New creates a Router.
func New(client llm.Client, registry *persona.Registry) *Router {
	return &Router{
		client:   client,
		registry: registry,
		log:      logging.Named("router"),
	}
}

// Route resolves req to a decision. The only error case is an override
// naming a persona that does not exist (a client-input error); every
// classification failure resolves to the fallback persona instead.
func (r *Router) Route(ctx context.Context, req types.Request) (Decision, error) {
	// Caller-selected persona: honor verbatim, no classification call.
	if req.Override != "" {
		if !req.Override.IsResponder() {
			return Decision{}, fmt.Errorf("%w: %q", persona.ErrUnknown, req.Override)
		}
		if _, err := r.registry.Get(req.Override); err != nil {
			return Decision{}, err
		}
		return Decision{
			Personas:  []types.PersonaID{req.Override},
			Category:  CategoryUnknown,
			Rationale: "override: persona selected by caller",
		}, nil
	}

	// Collaboration mode convenes the fixed ordered persona set.
	if req.Mode == types.ModeCollaborate {
		personas := make([]types.PersonaID, len(types.ResponderPersonas))
		copy(personas, types.ResponderPersonas)
		return Decision{
			Personas:  personas,
			Category:  CategoryCollaboration,
			Rationale: "collaboration mode: full persona set",
		}, nil
	}

	return r.classify(ctx, req), nil
}

// classify runs the deterministic classification call and applies the
// lookup table. Any failure degrades to the fallback persona.
func (r *Router) classify(ctx context.Context, req types.Request) Decision {
	profile, err := r.registry.Get(types.PersonaRouter)
	if err != nil {
		// Registry construction guarantees the router persona; reaching
		// this means a hand-built registry in tests.
		return r.fallback(err)
	}

	transcript := make([]types.Message, 0, len(req.History)+2)
	transcript = append(transcript, req.History...)
	transcript = append(transcript,
		types.Message{Role: types.RoleUser, Content: req.Message},
		types.Message{Role: types.RoleUser, Content: classificationInstruction},
	)

	reply, err := r.client.Generate(ctx, profile, transcript, llm.Options{
		Temperature: llm.Temp(0),
		Schema:      classificationSchema,
		SchemaName:  "routing_decision",
	})
	if err != nil {
		return r.fallback(err)
	}

	payload, err := llm.DecodeStructured(reply.Text, classificationSchema)
	if err != nil {
		return r.fallback(err)
	}

	category, _ := payload["category"].(string)
	target, known := categoryPersona[Category(category)]
	if !known {
		return r.fallback(fmt.Errorf("category %q outside known enumeration", category))
	}

	rationale, _ := payload["reason"].(string)
	if rationale == "" {
		rationale = fmt.Sprintf("classified as %s", category)
	}

	r.log.Debug("request classified",
		zap.String("category", category),
		zap.String("persona", string(target)))

	return Decision{
		Personas:  []types.PersonaID{target},
		Category:  Category(category),
		Rationale: rationale,
	}
}

func (r *Router) fallback(cause error) Decision {
	r.log.Warn("classification unavailable, using fallback persona",
		zap.String("persona", string(fallbackPersona)),
		zap.Error(cause))
	return Decision{
		Personas:  []types.PersonaID{fallbackPersona},
		Category:  CategoryUnknown,
		Rationale: "fallback: classification unavailable",
	}
}
