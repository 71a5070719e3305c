package backend

import (
	"context"
	"net/http"
	"strings"

	"github.com/dgellow/bxm/internal/identity"
	jsonwriter "github.com/dgellow/bxm/internal/json"
	"github.com/dgellow/bxm/internal/log"
)

// TokenAuthority verifies callers and mints custom tokens
type TokenAuthority interface {
	VerifyIDToken(ctx context.Context, token string) (identity.Session, error)
	MintCustomToken(s identity.Session) (string, error)
}

// Handler serves the backend command endpoint
type Handler struct {
	tokens TokenAuthority
}

// NewHandler creates a backend handler backed by tokens
func NewHandler(tokens TokenAuthority) *Handler {
	return &Handler{tokens: tokens}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonwriter.WriteMethodNotAllowed(w, http.MethodPost)
		return
	}

	bearer, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || bearer == "" {
		jsonwriter.WriteUnauthorized(w, "missing bearer token")
		return
	}

	session, err := h.tokens.VerifyIDToken(r.Context(), bearer)
	if err != nil {
		log.LogDebugWithFields("backend", "Rejected id token", map[string]any{
			"error": err.Error(),
		})
		jsonwriter.WriteUnauthorized(w, "invalid id token")
		return
	}

	var req CommandRequest
	if err := jsonwriter.Decode(r, &req); err != nil {
		jsonwriter.WriteBadRequest(w, err.Error())
		return
	}

	switch req.Command {
	case CommandCreateCustomToken:
		token, err := h.tokens.MintCustomToken(session)
		if err != nil {
			log.LogErrorWithFields("backend", "Failed to mint custom token", map[string]any{
				"uid":   session.UID,
				"error": err.Error(),
			})
			jsonwriter.WriteInternalServerError(w, "failed to mint custom token")
			return
		}

		var resp CommandResponse
		resp.Response.Token = token
		_ = jsonwriter.Write(w, resp)
	default:
		jsonwriter.WriteBadRequest(w, "unknown command: "+req.Command)
	}
}
