package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ent0n29/folio/internal/chat"
	"github.com/ent0n29/folio/internal/config"
	"github.com/ent0n29/folio/internal/gemini"
	"github.com/ent0n29/folio/internal/httpapi"
	"github.com/ent0n29/folio/internal/observability"
	"github.com/ent0n29/folio/internal/persona"
	"github.com/ent0n29/folio/internal/profile"
	"github.com/ent0n29/folio/internal/session"
	"github.com/ent0n29/folio/internal/token"
	"github.com/ent0n29/folio/internal/voice"
)

type BuildResult struct {
	Config      config.Config
	Instruction persona.Instruction
	Gemini      *gemini.Client
	Chat        *chat.Service
	Tokens      *token.Issuer
	Calls       *session.Manager
	API         *httpapi.Server
	Metrics     *observability.Metrics

	// Cleanup should be called on shutdown to release external resources.
	Cleanup func() error
}

// Build wires the service from cfg. A missing provider key is not an error:
// the server still boots and answers provider-backed requests with an
// unconfigured error.
func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	log := observability.Component("app")
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	instruction, err := LoadInstruction(ctx, cfg)
	if err != nil {
		return nil, err
	}

	client, err := NewGeminiClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if !client.Configured() {
		log.Warn().Msg("GEMINI_API_KEY is not set; chat and voice requests will fail until it is configured")
	}

	chatService := chat.NewService(client, instruction, observability.Logger(), metrics)
	issuer := token.NewIssuer(client, instruction, observability.Logger(), metrics)

	calls := session.NewManager(cfg.CallInactivityTimeout)
	calls.SetExpireHook(func(c *session.Call) {
		metrics.ObserveCallEvent("expired")
		metrics.SetActiveCalls(calls.ActiveCount())
		log.Info().Str("call_id", c.ID).Msg("call expired after inactivity")
	})

	newBridge := func(mic voice.Microphone, speaker voice.Speaker, observer voice.Observer, logger zerolog.Logger) *voice.Bridge {
		return voice.NewBridge(issuer, voice.GeminiDialer{Client: client}, mic, speaker, voice.Config{
			GuardInterval:   cfg.VoiceGuardInterval,
			ErrorResetDelay: cfg.VoiceErrorResetDelay,
			Observer:        observer,
			Logger:          logger,
			Metrics:         metrics,
		})
	}

	api := httpapi.New(httpapi.Deps{
		Config:    cfg,
		Chat:      chatService,
		Tokens:    issuer,
		NewBridge: newBridge,
		Calls:     calls,
		Metrics:   metrics,
		Logger:    observability.Component("http"),
	})

	cleanup := func() error {
		var errs []string
		for _, c := range calls.List() {
			if c.Status == session.StatusActive {
				if _, err := calls.End(c.ID); err != nil {
					errs = append(errs, err.Error())
				}
			}
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:      cfg,
		Instruction: instruction,
		Gemini:      client,
		Chat:        chatService,
		Tokens:      issuer,
		Calls:       calls,
		API:         api,
		Metrics:     metrics,
		Cleanup:     cleanup,
	}, nil
}

// LoadInstruction reads the profile named by cfg and renders the persona
// instruction from it.
func LoadInstruction(ctx context.Context, cfg config.Config) (persona.Instruction, error) {
	doc, err := profile.Load(ctx, cfg.ProfileSource)
	if err != nil {
		return "", fmt.Errorf("profile load failed: %w", err)
	}
	builder := persona.Default()
	if path := strings.TrimSpace(cfg.PersonaTemplatePath); path != "" {
		builder, err = persona.FromFile(path)
		if err != nil {
			return "", fmt.Errorf("persona template: %w", err)
		}
	}
	instruction, err := builder.Build(doc)
	if err != nil {
		return "", fmt.Errorf("persona build failed: %w", err)
	}
	return instruction, nil
}

func NewGeminiClient(ctx context.Context, cfg config.Config) (*gemini.Client, error) {
	client, err := gemini.NewClient(ctx, gemini.Config{
		APIKey:          cfg.GeminiAPIKey,
		BaseURL:         cfg.GeminiBaseURL,
		TextModel:       cfg.GeminiTextModel,
		LiveModel:       cfg.GeminiLiveModel,
		LiveVoice:       cfg.GeminiLiveVoice,
		LiveTemperature: cfg.GeminiLiveTemperature,
		TokenTTL:        cfg.GeminiTokenTTL,
		RequestTimeout:  cfg.GeminiRequestTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini client init failed: %w", err)
	}
	return client, nil
}
