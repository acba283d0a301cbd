// Package collab executes multi-persona collaboration: the pipeline
// that issues generation calls per interaction pattern, the assembler
// that reduces the transcript into a response, and the orchestrator
// that ties routing, pipeline, and assembly together for one request.
package collab

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"educube/internal/llm"
	"educube/internal/logging"
	"educube/internal/persona"
	"educube/internal/router"
	"educube/internal/types"
)

// Pipeline coordinates generation calls for one routing decision.
type Pipeline struct {
	client    llm.Client
	registry  *persona.Registry
	maxRounds int
	log       *zap.Logger
}

// NewPipeline creates a pipeline. maxRounds caps how many collaboration
// rounds any single request may run.
func NewPipeline(client llm.Client, registry *persona.Registry, maxRounds int) *Pipeline {
	if maxRounds < 1 {
		maxRounds = 1
	}
	return &Pipeline{
		client:    client,
		registry:  registry,
		maxRounds: maxRounds,
		log:       logging.Named("pipeline"),
	}
}

// Run executes the decision's personas against the base transcript and
// returns the ordered turns. A persona failure never aborts the run;
// the turn is marked failed and execution continues. Rounds run to the
// requested count (clamped by the configured maximum) with no early
// convergence detection.
func (p *Pipeline) Run(ctx context.Context, dec router.Decision, base []types.Message, strategy types.Strategy, rounds int) []types.Turn {
	if rounds < 1 {
		rounds = 1
	}
	if rounds > p.maxRounds {
		rounds = p.maxRounds
	}
	// Single responder: one call, one turn.
	if len(dec.Personas) == 1 {
		transcript := append([]types.Message(nil), base...)
		return []types.Turn{p.callPersona(ctx, dec.Personas[0], 1, transcript)}
	}

	if strategy == types.StrategyParallel {
		return p.runParallel(ctx, dec.Personas, base, rounds)
	}
	return p.runSequential(ctx, dec.Personas, base, rounds)
}

// runSequential invokes personas in order. Each call's transcript
// includes every turn produced so far, including earlier turns of the
// same round, so later personas see earlier replies. Persona N's call
// is only issued after persona N-1 has completed.
func (p *Pipeline) runSequential(ctx context.Context, personas []types.PersonaID, base []types.Message, rounds int) []types.Turn {
	turns := make([]types.Turn, 0, len(personas)*rounds)

	for round := 1; round <= rounds; round++ {
		for _, id := range personas {
			if ctx.Err() != nil {
				// Deadline hit mid-round: the remaining personas of
				// this round become timeout failures, and no further
				// rounds start. Turns already gathered are preserved.
				turns = append(turns, types.Turn{
					Persona:   id,
					Round:     round,
					Failure:   types.FailureTimeout,
					Timestamp: time.Now(),
				})
				continue
			}
			transcript := appendTurnMessages(base, turns)
			turns = append(turns, p.callPersona(ctx, id, round, transcript))
		}
		if ctx.Err() != nil {
			break
		}
	}
	return turns
}

// runParallel fans each round out concurrently. Every persona in a
// round sees the same pre-round transcript; there is no cross
// visibility within a round. Results join before the next round.
func (p *Pipeline) runParallel(ctx context.Context, personas []types.PersonaID, base []types.Message, rounds int) []types.Turn {
	turns := make([]types.Turn, 0, len(personas)*rounds)

	for round := 1; round <= rounds; round++ {
		snapshot := appendTurnMessages(base, turns)
		roundTurns := make([]types.Turn, len(personas))

		g := new(errgroup.Group)
		for i, id := range personas {
			i, id := i, id
			g.Go(func() error {
				// Failures are recorded on the turn, never returned:
				// one slow or broken persona must not cancel the rest.
				roundTurns[i] = p.callPersona(ctx, id, round, snapshot)
				return nil
			})
		}
		_ = g.Wait()

		turns = append(turns, roundTurns...)
		if ctx.Err() != nil {
			break
		}
	}
	return turns
}

// callPersona issues one generation call and converts the outcome into
// a turn. The transcript argument is owned by the caller and never
// mutated here.
func (p *Pipeline) callPersona(ctx context.Context, id types.PersonaID, round int, transcript []types.Message) types.Turn {
	turn := types.Turn{Persona: id, Round: round, Timestamp: time.Now()}

	profile, err := p.registry.Get(id)
	if err != nil {
		turn.Failure = llm.KindOf(err)
		return turn
	}

	reply, err := p.client.Generate(ctx, profile, transcript, llm.Options{})
	if err != nil {
		turn.Failure = llm.KindOf(err)
		p.log.Warn("persona turn failed",
			zap.String("persona", string(id)),
			zap.Int("round", round),
			zap.String("failure_kind", string(turn.Failure)),
			zap.Error(err))
		return turn
	}

	turn.Content = reply.Text
	return turn
}

// appendTurnMessages extends base with the successful turns rendered as
// persona messages. Returns a fresh slice; base is never aliased into
// the result's growth.
func appendTurnMessages(base []types.Message, turns []types.Turn) []types.Message {
	out := make([]types.Message, 0, len(base)+len(turns))
	out = append(out, base...)
	for _, t := range turns {
		if !t.OK() {
			continue
		}
		out = append(out, types.Message{
			Role:      string(t.Persona),
			Content:   t.Content,
			Timestamp: t.Timestamp,
		})
	}
	return out
}
