package collab

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"educube/internal/config"
	"educube/internal/logging"
	"educube/internal/router"
	"educube/internal/types"
)

// Orchestrator is the single entry point every transport uses: route,
// run the pipeline, assemble. It owns the request deadline; callers
// pass a plain context and get it bounded here.
type Orchestrator struct {
	router          *router.Router
	pipeline        *Pipeline
	defaultDeadline time.Duration
	defaultStrategy types.Strategy
	log             *zap.Logger
}

// NewOrchestrator wires the orchestrator from its parts and the
// collaboration configuration.
func NewOrchestrator(rt *router.Router, pl *Pipeline, cfg config.CollaborationConfig) *Orchestrator {
	deadline := cfg.Deadline.Std()
	if deadline <= 0 {
		deadline = 90 * time.Second
	}
	strategy := types.Strategy(cfg.DefaultStrategy)
	if strategy != types.StrategyParallel {
		strategy = types.StrategySequential
	}
	return &Orchestrator{
		router:          rt,
		pipeline:        pl,
		defaultDeadline: deadline,
		defaultStrategy: strategy,
		log:             logging.Named("orchestrator"),
	}
}

// Handle answers one request. The only error is an invalid persona
// override; every generation failure is reflected in the result status
// instead so callers always get the per-turn failure metadata.
func (o *Orchestrator) Handle(ctx context.Context, req types.Request) (*Result, error) {
	deadline := req.Deadline
	if deadline <= 0 {
		deadline = o.defaultDeadline
	}
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	start := time.Now()
	dec, err := o.router.Route(ctx, req)
	if err != nil {
		return nil, err
	}

	strategy := req.Strategy
	if strategy == "" {
		strategy = o.defaultStrategy
	}

	turns := o.pipeline.Run(ctx, dec, baseMessages(req), strategy, req.Rounds)
	result := Assemble(dec, turns)

	o.log.Info("request handled",
		zap.String("mode", string(req.Mode)),
		zap.String("category", string(result.Routing.Category)),
		zap.String("status", string(result.Status)),
		zap.Int("turns", len(result.Turns)),
		zap.Duration("elapsed", time.Since(start).Round(time.Millisecond)))

	return result, nil
}

// baseMessages builds the pre-pipeline transcript: caller history plus
// the current message, with the optional subject/difficulty hints
// folded into the message the way the original context block worked.
func baseMessages(req types.Request) []types.Message {
	content := req.Message
	if hints := hintBlock(req); hints != "" {
		content += "\n\n" + hints
	}

	out := make([]types.Message, 0, len(req.History)+1)
	out = append(out, req.History...)
	out = append(out, types.Message{
		Role:      types.RoleUser,
		Content:   content,
		Timestamp: time.Now(),
	})
	return out
}

func hintBlock(req types.Request) string {
	var fields []string
	if req.Subject != "" {
		fields = append(fields, fmt.Sprintf("subject: %s", req.Subject))
	}
	if req.Difficulty != "" {
		fields = append(fields, fmt.Sprintf("difficulty: %s", req.Difficulty))
	}
	if len(fields) == 0 {
		return ""
	}
	return "[context] " + strings.Join(fields, "; ")
}
