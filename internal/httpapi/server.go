package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ent0n29/folio/internal/config"
	"github.com/ent0n29/folio/internal/observability"
	"github.com/ent0n29/folio/internal/protocol"
	"github.com/ent0n29/folio/internal/session"
	"github.com/ent0n29/folio/internal/token"
	"github.com/ent0n29/folio/internal/voice"
)

// Banner is the plain-text liveness response of GET /.
const Banner = "AI Portfolio Backend is running!"

type ChatReplier interface {
	Reply(ctx context.Context, utterance string) (string, error)
}

type TokenIssuer interface {
	Issue(ctx context.Context) (token.Grant, error)
}

// BridgeFactory builds a voice bridge around relay-provided devices.
type BridgeFactory func(mic voice.Microphone, speaker voice.Speaker, observer voice.Observer, logger zerolog.Logger) *voice.Bridge

type Deps struct {
	Config    config.Config
	Chat      ChatReplier
	Tokens    TokenIssuer
	NewBridge BridgeFactory
	Calls     *session.Manager
	Metrics   *observability.Metrics
	Logger    zerolog.Logger
}

type Server struct {
	cfg       config.Config
	chat      ChatReplier
	tokens    TokenIssuer
	newBridge BridgeFactory
	calls     *session.Manager
	metrics   *observability.Metrics
	log       zerolog.Logger
	upgrader  websocket.Upgrader
}

func New(d Deps) *Server {
	cfg := d.Config
	calls := d.Calls
	if calls == nil {
		calls = session.NewManager(cfg.CallInactivityTimeout)
	}
	return &Server{
		cfg:       cfg,
		chat:      d.Chat,
		tokens:    d.Tokens,
		newBridge: d.NewBridge,
		calls:     calls,
		metrics:   d.Metrics,
		log:       d.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only allow browser websocket connections from the same origin
				// unless explicitly opened up.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

// Router builds the HTTP handler. ctx bounds background work owned by the
// router, such as rate limiter cleanup.
func (s *Server) Router(ctx context.Context) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if s.cfg.TrustProxyHeaders {
		r.Use(middleware.RealIP)
	}
	r.Use(RequestLogger(s.log))
	r.Use(middleware.Recoverer)
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		respondError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
	})
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		respondError(w, http.StatusNotFound, "not_found", "Not found")
	})

	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(Banner))
	})
	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	limiter := RateLimiter(ctx, s.cfg.RateLimitRPS, s.cfg.RateLimitBurst, s.log)
	r.Group(func(r chi.Router) {
		r.Use(CORS(s.cfg.CORSOrigins))
		for _, prefix := range []string{"", "/api"} {
			r.Options(prefix+"/chat", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
			r.Options(prefix+"/token", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
			r.With(limiter).Post(prefix+"/chat", s.handleChat)
			r.With(limiter).Get(prefix+"/token", s.handleToken)
		}
	})

	r.Get("/v1/voice/ws", s.handleVoiceWS)
	r.Get("/v1/voice/calls", s.handleListCalls)
	r.Post("/v1/voice/calls/{id}/end", s.handleEndCall)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":              "ready",
		"provider_configured": s.cfg.ProviderConfigured(),
		"voice_enabled":       s.newBridge != nil,
		"active_calls":        s.calls.ActiveCount(),
	})
}

func (s *Server) handleListCalls(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, session.ListResponse{
		Calls:           s.calls.List(),
		Active:          s.calls.ActiveCount(),
		InactivityTTLMS: s.calls.InactivityTimeout().Milliseconds(),
	})
}

func (s *Server) handleEndCall(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_call_id", "missing call id")
		return
	}
	call, err := s.calls.End(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "call_not_found", err.Error())
		return
	}
	s.metrics.ObserveCallEvent("ended_by_api")
	respondJSON(w, http.StatusOK, call)
}

type errorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.ClientAudioChunk:
		return m.Type, true
	case protocol.ClientControl:
		return m.Type, true
	case protocol.CallStarted:
		return m.Type, true
	case protocol.VoiceState:
		return m.Type, true
	case protocol.MicLevel:
		return m.Type, true
	case protocol.AssistantAudioChunk:
		return m.Type, true
	case protocol.AssistantText:
		return m.Type, true
	case protocol.SystemEvent:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
