package json

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/dgellow/bxm/internal/ioutil"
	"github.com/dgellow/bxm/internal/log"
)

// MaxBodySize bounds every JSON request body read by Decode
const MaxBodySize = 64 << 10

// ErrorResponse is the body of every error reply. Error is a stable code
// derived from the status, Message is for humans.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// WriteResponse writes data as JSON with the given status code
func WriteResponse(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.LogError("Failed to encode JSON response: %v", err)
		return err
	}
	return nil
}

// Write writes data as JSON with 200 OK
func Write(w http.ResponseWriter, data any) error {
	return WriteResponse(w, http.StatusOK, data)
}

// Decode reads a JSON request body of at most MaxBodySize bytes into v
func Decode(r *http.Request, v any) error {
	return ioutil.DecodeLimited(r.Body, MaxBodySize, v)
}

// ErrorCode turns a status into its snake_case code, "Service Unavailable"
// becoming "service_unavailable".
func ErrorCode(statusCode int) string {
	text := http.StatusText(statusCode)
	if text == "" {
		return "error"
	}
	return strings.ReplaceAll(strings.ToLower(text), " ", "_")
}

// WriteError writes an ErrorResponse for statusCode
func WriteError(w http.ResponseWriter, statusCode int, message string) {
	resp := ErrorResponse{Error: ErrorCode(statusCode), Message: message}
	if err := WriteResponse(w, statusCode, resp); err != nil {
		http.Error(w, resp.Error+": "+message, statusCode)
	}
}

// WriteUnauthorized writes a 401 with a Bearer challenge
func WriteUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="bxm"`)
	WriteError(w, http.StatusUnauthorized, message)
}

// WriteMethodNotAllowed writes a 405 listing the accepted methods
func WriteMethodNotAllowed(w http.ResponseWriter, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, message)
}

func WriteInternalServerError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, message)
}

func WriteServiceUnavailable(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusServiceUnavailable, message)
}
