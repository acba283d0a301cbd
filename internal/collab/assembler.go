package collab

import (
	"fmt"
	"strings"

	"educube/internal/router"
	"educube/internal/types"
)

// RoutingInfo is the routing metadata carried on every response.
type RoutingInfo struct {
	Category  router.Category   `json:"task_category"`
	Personas  []types.PersonaID `json:"chosen_personas"`
	Rationale string            `json:"rationale,omitempty"`
}

// TurnView is one turn as exposed to callers. Exactly one of Content
// and FailureKind is set.
type TurnView struct {
	Persona     types.PersonaID   `json:"persona"`
	Round       int               `json:"round"`
	Content     string            `json:"content,omitempty"`
	FailureKind types.FailureKind `json:"failure_kind,omitempty"`
}

// Failure names one failed persona and its failure kind, surfaced on
// degraded and failed responses.
type Failure struct {
	Persona types.PersonaID   `json:"persona"`
	Kind    types.FailureKind `json:"failure_kind"`
}

// Result is the assembled outcome of one request.
type Result struct {
	Status   types.Status `json:"status"`
	Routing  RoutingInfo  `json:"routing"`
	Turns    []TurnView   `json:"turns"`
	Failures []Failure    `json:"failures,omitempty"`
	// Answer joins the successful turns in original order, labeled by
	// persona when more than one spoke. Empty when Status is failed:
	// the assembler never invents content.
	Answer string `json:"answer,omitempty"`
}

// Assemble reduces the routing decision and pipeline transcript into
// the final result. Every failure kind propagates verbatim; nothing is
// collapsed into a generic error.
func Assemble(dec router.Decision, turns []types.Turn) *Result {
	result := &Result{
		Routing: RoutingInfo{
			Category:  dec.Category,
			Personas:  dec.Personas,
			Rationale: dec.Rationale,
		},
		Turns: make([]TurnView, 0, len(turns)),
	}

	var succeeded, failed int
	var parts []string
	multiVoice := len(dec.Personas) > 1

	for _, t := range turns {
		view := TurnView{Persona: t.Persona, Round: t.Round}
		if t.OK() {
			succeeded++
			view.Content = t.Content
			if multiVoice {
				parts = append(parts, fmt.Sprintf("[%s] %s", t.Persona, t.Content))
			} else {
				parts = append(parts, t.Content)
			}
		} else {
			failed++
			view.FailureKind = t.Failure
			result.Failures = append(result.Failures, Failure{Persona: t.Persona, Kind: t.Failure})
		}
		result.Turns = append(result.Turns, view)
	}

	switch {
	case succeeded > 0 && failed == 0:
		result.Status = types.StatusOK
	case succeeded > 0:
		result.Status = types.StatusDegraded
	default:
		result.Status = types.StatusFailed
	}

	if succeeded > 0 {
		result.Answer = strings.Join(parts, "\n\n")
	}
	return result
}
