package httpapi

import (
	"errors"
	"net/http"

	"github.com/ent0n29/folio/internal/chat"
	"github.com/ent0n29/folio/internal/policy"
	"github.com/ent0n29/folio/internal/token"
)

type chatRequest struct {
	Message string `json:"message"`
}

type chatResponse struct {
	Reply string `json:"reply"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if s.chat == nil {
		respondError(w, http.StatusInternalServerError, "unconfigured", chat.ErrUnconfigured.Error())
		return
	}

	reply, err := s.chat.Reply(r.Context(), req.Message)
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, chatResponse{Reply: reply})
	case errors.Is(err, chat.ErrMissingInput):
		respondError(w, http.StatusBadRequest, "missing_input", "Message is required")
	case errors.Is(err, chat.ErrUnconfigured):
		respondError(w, http.StatusInternalServerError, "unconfigured", chat.ErrUnconfigured.Error())
	default:
		respondJSON(w, http.StatusInternalServerError, errorResponse{
			Error:   "Failed to generate response",
			Code:    "provider_failure",
			Details: policy.RedactSecrets(err.Error()),
		})
	}
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if s.tokens == nil {
		respondError(w, http.StatusInternalServerError, "unconfigured", token.ErrUnconfigured.Error())
		return
	}
	grant, err := s.tokens.Issue(r.Context())
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, grant)
	case errors.Is(err, token.ErrUnconfigured):
		respondError(w, http.StatusInternalServerError, "unconfigured", token.ErrUnconfigured.Error())
	default:
		respondJSON(w, http.StatusInternalServerError, errorResponse{
			Error:   "Failed to generate token",
			Code:    "provider_failure",
			Details: policy.RedactSecrets(providerDetail(err)),
		})
	}
}

// providerDetail strips the sentinel from a wrapped provider failure.
func providerDetail(err error) string {
	if multi, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range multi.Unwrap() {
			if e != token.ErrProviderFailure {
				return e.Error()
			}
		}
	}
	return err.Error()
}
