// Package gemini adapts the Gemini SDK to the three calls the service makes:
// single-turn text generation, ephemeral live tokens, and live audio sessions.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"
)

const liveAPIVersion = "v1alpha"

var (
	ErrUnconfigured    = errors.New("gemini: API key is not configured")
	ErrProviderFailure = errors.New("gemini: provider request failed")
	ErrEmptyResponse   = errors.New("gemini: response contained no text")
)

type Config struct {
	APIKey          string
	BaseURL         string
	TextModel       string
	LiveModel       string
	LiveVoice       string
	LiveTemperature float32
	TokenTTL        time.Duration
	RequestTimeout  time.Duration
	HTTPClient      *http.Client
}

// Client is safe for concurrent use. A Client built without an API key
// answers every call with ErrUnconfigured and never touches the network.
type Client struct {
	cfg Config
	sdk *genai.Client
	now func() time.Time
}

func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 30 * time.Minute
	}
	c := &Client{cfg: cfg, now: time.Now}
	if cfg.APIKey == "" {
		return c, nil
	}
	sdk, err := genai.NewClient(ctx, c.clientConfig(cfg.APIKey, ""))
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	c.sdk = sdk
	return c, nil
}

func (c *Client) Configured() bool {
	return c != nil && c.sdk != nil
}

func (c *Client) TextModel() string { return c.cfg.TextModel }
func (c *Client) LiveModel() string { return c.cfg.LiveModel }

func (c *Client) clientConfig(apiKey, apiVersion string) *genai.ClientConfig {
	opts := genai.HTTPOptions{
		BaseURL:    c.cfg.BaseURL,
		APIVersion: apiVersion,
	}
	if c.cfg.RequestTimeout > 0 {
		opts.Timeout = genai.Ptr(c.cfg.RequestTimeout)
	}
	return &genai.ClientConfig{
		APIKey:      apiKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPClient:  c.cfg.HTTPClient,
		HTTPOptions: opts,
	}
}

// GenerateText sends prompt as one user turn and returns the first
// candidate's first text part.
func (c *Client) GenerateText(ctx context.Context, prompt string) (string, error) {
	if !c.Configured() {
		return "", ErrUnconfigured
	}
	resp, err := c.sdk.Models.GenerateContent(ctx, c.cfg.TextModel, genai.Text(prompt), nil)
	if err != nil {
		return "", wrapProviderError("generate_content", err)
	}
	text, ok := firstText(resp)
	if !ok {
		return "", &ProviderError{Op: "generate_content", Err: ErrEmptyResponse}
	}
	return text, nil
}

func firstText(resp *genai.GenerateContentResponse) (string, bool) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", false
	}
	cand := resp.Candidates[0]
	if cand == nil || cand.Content == nil || len(cand.Content.Parts) == 0 || cand.Content.Parts[0] == nil {
		return "", false
	}
	text := cand.Content.Parts[0].Text
	if text == "" {
		return "", false
	}
	return text, true
}

// LiveToken is a single-use credential for one live session.
type LiveToken struct {
	Name      string
	Model     string
	ExpiresAt time.Time
}

// CreateLiveToken requests a token usable once, expiring after the configured
// TTL, and locked to the live model and persona configuration.
func (c *Client) CreateLiveToken(ctx context.Context, instruction string) (LiveToken, error) {
	if !c.Configured() {
		return LiveToken{}, ErrUnconfigured
	}
	expiresAt := c.now().Add(c.cfg.TokenTTL).UTC()
	tok, err := c.sdk.AuthTokens.Create(ctx, &genai.CreateAuthTokenConfig{
		HTTPOptions: &genai.HTTPOptions{APIVersion: liveAPIVersion},
		ExpireTime:  expiresAt,
		Uses:        genai.Ptr[int32](1),
		LiveConnectConstraints: &genai.LiveConnectConstraints{
			Model:  c.cfg.LiveModel,
			Config: c.liveConfig(instruction),
		},
	})
	if err != nil {
		return LiveToken{}, wrapProviderError("create_auth_token", err)
	}
	if tok == nil || tok.Name == "" {
		return LiveToken{}, &ProviderError{Op: "create_auth_token", Err: errors.New("empty token name")}
	}
	return LiveToken{Name: tok.Name, Model: c.cfg.LiveModel, ExpiresAt: expiresAt}, nil
}

func (c *Client) liveConfig(instruction string) *genai.LiveConnectConfig {
	cfg := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityAudio},
		Temperature:        genai.Ptr(c.cfg.LiveTemperature),
	}
	if instruction != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: instruction}}}
	}
	if c.cfg.LiveVoice != "" {
		cfg.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: c.cfg.LiveVoice},
			},
		}
	}
	return cfg
}

// ProviderError carries the failed operation and the upstream HTTP status, if any.
type ProviderError struct {
	Op     string
	Status int
	Err    error
}

func (e *ProviderError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("gemini %s: status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("gemini %s: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

func (e *ProviderError) Is(target error) bool { return target == ErrProviderFailure }

func wrapProviderError(op string, err error) error {
	pe := &ProviderError{Op: op, Err: err}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		pe.Status = apiErr.Code
	}
	return pe
}

// StatusCode returns the upstream HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Status
	}
	return 0
}
