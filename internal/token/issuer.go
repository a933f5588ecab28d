// Package token issues single-use realtime credentials bound to the persona.
package token

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/ent0n29/folio/internal/gemini"
	"github.com/ent0n29/folio/internal/observability"
	"github.com/ent0n29/folio/internal/persona"
)

var (
	ErrUnconfigured    = errors.New("GEMINI_API_KEY is not configured")
	ErrProviderFailure = errors.New("failed to generate token")
)

// Grant is handed to the voice client. SystemInstruction is returned so the
// client can replay it as the opening turn.
type Grant struct {
	Token             string    `json:"token"`
	Model             string    `json:"model"`
	ExpiresAt         time.Time `json:"expiresAt"`
	SystemInstruction string    `json:"systemInstruction"`
}

// Minter creates provider-side ephemeral tokens.
type Minter interface {
	Configured() bool
	CreateLiveToken(ctx context.Context, instruction string) (gemini.LiveToken, error)
}

type Issuer struct {
	minter      Minter
	instruction persona.Instruction
	log         zerolog.Logger
	metrics     *observability.Metrics
}

func NewIssuer(minter Minter, instruction persona.Instruction, logger zerolog.Logger, metrics *observability.Metrics) *Issuer {
	return &Issuer{
		minter:      minter,
		instruction: instruction,
		log:         logger.With().Str("component", "token").Logger(),
		metrics:     metrics,
	}
}

// Issue does not track consumption; single use is enforced by the provider.
func (i *Issuer) Issue(ctx context.Context) (Grant, error) {
	start := time.Now()
	if i.minter == nil || !i.minter.Configured() {
		i.metrics.ObserveTokenIssue("unconfigured", time.Since(start))
		return Grant{}, ErrUnconfigured
	}

	tok, err := i.minter.CreateLiveToken(ctx, i.instruction.String())
	if err != nil {
		if errors.Is(err, gemini.ErrUnconfigured) {
			i.metrics.ObserveTokenIssue("unconfigured", time.Since(start))
			return Grant{}, ErrUnconfigured
		}
		code := "unknown"
		if status := gemini.StatusCode(err); status > 0 {
			code = strconv.Itoa(status)
		}
		i.metrics.ObserveProviderError("token", code)
		i.metrics.ObserveTokenIssue("failed", time.Since(start))
		i.log.Error().Err(err).Str("code", code).Msg("token issuance failed")
		return Grant{}, fmt.Errorf("%w: %w", ErrProviderFailure, err)
	}

	i.metrics.ObserveTokenIssue("ok", time.Since(start))
	i.log.Debug().Time("expires_at", tok.ExpiresAt).Str("model", tok.Model).Msg("token issued")
	return Grant{
		Token:             tok.Name,
		Model:             tok.Model,
		ExpiresAt:         tok.ExpiresAt,
		SystemInstruction: i.instruction.String(),
	}, nil
}
