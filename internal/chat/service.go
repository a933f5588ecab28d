// Package chat answers typed visitor questions in the persona's voice.
package chat

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ent0n29/folio/internal/gemini"
	"github.com/ent0n29/folio/internal/observability"
	"github.com/ent0n29/folio/internal/persona"
	"github.com/ent0n29/folio/internal/policy"
)

// FallbackReply is returned whenever the provider fails or answers with nothing usable.
const FallbackReply = "Sorry, I couldn't generate a response."

var (
	ErrMissingInput = errors.New("message is required")
	ErrUnconfigured = errors.New("GEMINI_API_KEY is not configured")
)

// Generator produces text for a single-turn prompt.
type Generator interface {
	Configured() bool
	GenerateText(ctx context.Context, prompt string) (string, error)
}

type Service struct {
	gen         Generator
	instruction persona.Instruction
	log         zerolog.Logger
	metrics     *observability.Metrics
}

func NewService(gen Generator, instruction persona.Instruction, logger zerolog.Logger, metrics *observability.Metrics) *Service {
	return &Service{
		gen:         gen,
		instruction: instruction,
		log:         logger.With().Str("component", "chat").Logger(),
		metrics:     metrics,
	}
}

// Reply makes one provider call per invocation. Provider failures are
// converted into FallbackReply; only input and configuration problems are
// returned as errors.
func (s *Service) Reply(ctx context.Context, utterance string) (string, error) {
	start := time.Now()
	if strings.TrimSpace(utterance) == "" {
		s.metrics.ObserveChatReply("missing_input", time.Since(start))
		return "", ErrMissingInput
	}
	if s.gen == nil || !s.gen.Configured() {
		s.metrics.ObserveChatReply("unconfigured", time.Since(start))
		return "", ErrUnconfigured
	}

	s.log.Debug().Str("utterance", policy.ForLog(utterance, 200)).Msg("chat request")

	reply, err := s.gen.GenerateText(ctx, s.instruction.ChatPrompt(utterance))
	if err != nil {
		if errors.Is(err, gemini.ErrUnconfigured) {
			s.metrics.ObserveChatReply("unconfigured", time.Since(start))
			return "", ErrUnconfigured
		}
		code := "unknown"
		if status := gemini.StatusCode(err); status > 0 {
			code = strconv.Itoa(status)
		} else if errors.Is(err, gemini.ErrEmptyResponse) {
			code = "empty_response"
		}
		s.metrics.ObserveProviderError("chat", code)
		s.metrics.ObserveChatReply("fallback", time.Since(start))
		s.log.Error().Err(err).Str("code", code).Msg("chat generation failed; returning fallback")
		return FallbackReply, nil
	}

	s.metrics.ObserveChatReply("ok", time.Since(start))
	return reply, nil
}
