// Package persona holds the immutable persona configuration built once
// at startup. Profiles are value types shared read-only across all
// requests; the registry performs no synchronization because nothing
// mutates it after construction.
package persona

import (
	"errors"
	"fmt"
	"sort"

	"educube/internal/config"
	"educube/internal/types"
)

// ErrUnknown is returned when a caller asks for a persona that was
// never configured. Surfaced to clients as an input error.
var ErrUnknown = errors.New("unknown persona")

// Profile is one persona's fixed behavioral configuration: role
// identity, system instructions, generation parameters, and the model
// it is bound to. Never mutated after startup.
type Profile struct {
	ID           types.PersonaID
	DisplayName  string
	SystemPrompt string
	Model        string
	Temperature  float64
	MaxTokens    int
}

var displayNames = map[types.PersonaID]string{
	types.PersonaExpert:    "Expert",
	types.PersonaAssistant: "Teaching Assistant",
	types.PersonaPeer:      "Study Companion",
	types.PersonaRouter:    "Router",
}

// Registry resolves persona ids to profiles.
type Registry struct {
	profiles map[types.PersonaID]Profile
}

// NewRegistry builds the registry from validated startup configuration.
// Config validation has already guaranteed every required persona is
// present and well formed, so a failure here means the config struct
// was constructed by hand and skipped validation.
func NewRegistry(cfg *config.Config) (*Registry, error) {
	profiles := make(map[types.PersonaID]Profile, len(cfg.Personas))
	for name, pc := range cfg.Personas {
		id := types.PersonaID(name)
		if pc.SystemPrompt == "" || pc.Model == "" || pc.MaxTokens < 1 {
			return nil, fmt.Errorf("malformed profile for persona %q", id)
		}
		profiles[id] = Profile{
			ID:           id,
			DisplayName:  displayName(id),
			SystemPrompt: pc.SystemPrompt,
			Model:        pc.Model,
			Temperature:  pc.Temperature,
			MaxTokens:    pc.MaxTokens,
		}
	}

	for _, required := range append([]types.PersonaID{types.PersonaRouter}, types.ResponderPersonas...) {
		if _, ok := profiles[required]; !ok {
			return nil, fmt.Errorf("missing profile for persona %q", required)
		}
	}

	return &Registry{profiles: profiles}, nil
}

func displayName(id types.PersonaID) string {
	if name, ok := displayNames[id]; ok {
		return name
	}
	return string(id)
}

// Get returns the profile for id.
func (r *Registry) Get(id types.PersonaID) (Profile, error) {
	p, ok := r.profiles[id]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %q", ErrUnknown, id)
	}
	return p, nil
}

// Responders returns the responder profiles in collaboration order.
func (r *Registry) Responders() []Profile {
	out := make([]Profile, 0, len(types.ResponderPersonas))
	for _, id := range types.ResponderPersonas {
		if p, ok := r.profiles[id]; ok {
			out = append(out, p)
		}
	}
	return out
}

// IDs returns every configured persona id, sorted for stable output.
func (r *Registry) IDs() []types.PersonaID {
	out := make([]types.PersonaID, 0, len(r.profiles))
	for id := range r.profiles {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
