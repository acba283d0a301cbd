package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"educube/internal/collab"
	"educube/internal/persona"
	"educube/internal/types"
)

// Orchestrator is what the HTTP layer needs from the core. Kept as an
// interface so handler tests can script outcomes.
type Orchestrator interface {
	Handle(ctx context.Context, req types.Request) (*collab.Result, error)
}

type agentChatRequest struct {
	AgentType  string          `json:"agent_type" binding:"required"`
	Message    string          `json:"message" binding:"required"`
	History    []types.Message `json:"history"`
	Subject    string          `json:"subject"`
	Difficulty string          `json:"difficulty"`
	DeadlineMS int64           `json:"deadline_ms"`
}

type agentChatResponse struct {
	Success     bool               `json:"success"`
	AgentType   string             `json:"agent_type"`
	Response    string             `json:"response"`
	Suggestions []string           `json:"suggestions"`
	Turns       []collab.TurnView  `json:"turns"`
	Routing     collab.RoutingInfo `json:"routing"`
}

type qaRequest struct {
	Message    string          `json:"message" binding:"required"`
	History    []types.Message `json:"history"`
	Subject    string          `json:"subject"`
	Difficulty string          `json:"difficulty"`
	DeadlineMS int64           `json:"deadline_ms"`
}

type collaborateRequest struct {
	Message    string          `json:"message" binding:"required"`
	History    []types.Message `json:"history"`
	SessionID  string          `json:"session_id"`
	Strategy   string          `json:"strategy"`
	Rounds     int             `json:"rounds"`
	DeadlineMS int64           `json:"deadline_ms"`
}

type collaborateResponse struct {
	SessionID string `json:"session_id,omitempty"`
	*collab.Result
}

type openingRemark struct {
	AgentName string `json:"agent_name"`
	Content   string `json:"content"`
}

type chatInitResponse struct {
	SessionID      string          `json:"session_id"`
	OpeningRemarks []openingRemark `json:"opening_remarks"`
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"version":  Version,
		"personas": types.ResponderPersonas,
	})
}

// handleAgentChat is the direct persona chat path: the caller names the
// persona, routing is skipped entirely.
func (s *Server) handleAgentChat(c *gin.Context) {
	var req agentChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request: " + err.Error()})
		return
	}

	result, err := s.orchestrator.Handle(c.Request.Context(), types.Request{
		Message:    req.Message,
		Mode:       types.ModeDirect,
		Override:   types.PersonaID(req.AgentType),
		History:    req.History,
		Subject:    req.Subject,
		Difficulty: req.Difficulty,
		Deadline:   time.Duration(req.DeadlineMS) * time.Millisecond,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	if result.Status == types.StatusFailed {
		s.writeFailed(c, result)
		return
	}

	c.JSON(http.StatusOK, agentChatResponse{
		Success:     true,
		AgentType:   req.AgentType,
		Response:    result.Answer,
		Suggestions: suggestionsFor(types.PersonaID(req.AgentType)),
		Turns:       result.Turns,
		Routing:     result.Routing,
	})
}

// handleQA is the routed single-responder path: the router classifies
// the question and picks the persona.
func (s *Server) handleQA(c *gin.Context) {
	var req qaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request: " + err.Error()})
		return
	}

	result, err := s.orchestrator.Handle(c.Request.Context(), types.Request{
		Message:    req.Message,
		Mode:       types.ModeDirect,
		History:    req.History,
		Subject:    req.Subject,
		Difficulty: req.Difficulty,
		Deadline:   time.Duration(req.DeadlineMS) * time.Millisecond,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	if result.Status == types.StatusFailed {
		s.writeFailed(c, result)
		return
	}
	c.JSON(http.StatusOK, result)
}

// handleChatInit bootstraps a collaboration session: a fresh id and
// the personas' opening remarks. Nothing is stored server-side; the id
// exists purely so clients can correlate their own history.
func (s *Server) handleChatInit(c *gin.Context) {
	remarks := make([]openingRemark, 0, len(types.ResponderPersonas))
	for _, id := range types.ResponderPersonas {
		profile, err := s.registry.Get(id)
		if err != nil {
			continue
		}
		remarks = append(remarks, openingRemark{
			AgentName: profile.DisplayName,
			Content:   openingRemarkFor(id),
		})
	}
	c.JSON(http.StatusOK, chatInitResponse{
		SessionID:      uuid.NewString(),
		OpeningRemarks: remarks,
	})
}

func (s *Server) handleCollaborate(c *gin.Context) {
	var req collaborateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request: " + err.Error()})
		return
	}
	if req.Strategy != "" {
		switch types.Strategy(req.Strategy) {
		case types.StrategySequential, types.StrategyParallel:
		default:
			c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid strategy: must be sequential or parallel"})
			return
		}
	}

	result, err := s.orchestrator.Handle(c.Request.Context(), types.Request{
		Message:  req.Message,
		Mode:     types.ModeCollaborate,
		History:  req.History,
		Strategy: types.Strategy(req.Strategy),
		Rounds:   req.Rounds,
		Deadline: time.Duration(req.DeadlineMS) * time.Millisecond,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}

	status := http.StatusOK
	if result.Status == types.StatusFailed {
		status = http.StatusBadGateway
	}
	c.JSON(status, collaborateResponse{SessionID: req.SessionID, Result: result})
}

// writeError maps core errors to HTTP statuses. Unknown persona is the
// caller's mistake; everything else is unexpected here because
// generation failures travel inside the result, not as errors.
func (s *Server) writeError(c *gin.Context, err error) {
	if errors.Is(err, persona.ErrUnknown) {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	id, _ := c.Get(ctxKeyRequestID)
	s.log.Error("request failed",
		zap.Any("request_id", id),
		zap.Error(err))
	c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
}

// writeFailed reports an all-personas-failed result. The per-turn
// failure kinds go out verbatim; upstream details do not.
func (s *Server) writeFailed(c *gin.Context, result *collab.Result) {
	c.JSON(http.StatusBadGateway, result)
}

// suggestionsFor returns the fixed study suggestions attached to direct
// persona chat responses.
func suggestionsFor(id types.PersonaID) []string {
	switch id {
	case types.PersonaExpert:
		return []string{
			"Dig into the theoretical background of this topic",
			"Consult authoritative academic sources",
			"Try analyzing the problem from several angles",
		}
	case types.PersonaAssistant:
		return []string{
			"Reinforce your understanding with related exercises",
			"Build a study plan and progress step by step",
			"Review regularly so the material sticks",
		}
	case types.PersonaPeer:
		return []string{
			"Discuss what you learned with classmates",
			"Share your study methods and experience",
			"Encourage each other to stay motivated",
		}
	default:
		return []string{"Keep up the enthusiasm for learning"}
	}
}

// openingRemarkFor returns each persona's fixed self-introduction for
// session bootstrap.
func openingRemarkFor(id types.PersonaID) string {
	switch id {
	case types.PersonaExpert:
		return "Hello, I am your expert. I will explain concepts and provide professional knowledge."
	case types.PersonaAssistant:
		return "Hello, I am your teaching assistant. I will break tasks down and guide you through the steps."
	case types.PersonaPeer:
		return "Hello, I am your study companion. I will walk through examples with you. Let's get started!"
	default:
		return ""
	}
}
