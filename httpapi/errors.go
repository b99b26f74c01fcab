package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	goIdentity "github.com/MrEthical07/goIdentity"
)

type errorResponse struct {
	Error      string   `json:"error"`
	Message    string   `json:"message"`
	Violations []string `json:"violations,omitempty"`
	Fields     []string `json:"fields,omitempty"`
}

// fieldError lists request fields that failed struct validation.
type fieldError struct {
	fields []string
}

func (e *fieldError) Error() string {
	return goIdentity.ErrInvalidInput.Message + ": " + strings.Join(e.fields, ", ")
}

func (e *fieldError) Unwrap() error {
	return goIdentity.ErrInvalidInput
}

func statusOf(kind goIdentity.ErrorKind) int {
	switch kind {
	case goIdentity.KindValidation:
		return http.StatusBadRequest
	case goIdentity.KindConflict:
		return http.StatusConflict
	case goIdentity.KindNotFound:
		return http.StatusNotFound
	case goIdentity.KindUnauthorized:
		return http.StatusUnauthorized
	case goIdentity.KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err by kind. The message is always the sentinel's own
// text so wrapped backend detail never reaches the client.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	kind := goIdentity.KindOf(err)
	status := statusOf(kind)

	resp := errorResponse{Error: "internal", Message: "internal error"}
	var typed *goIdentity.Error
	if status != http.StatusInternalServerError && errors.As(err, &typed) {
		resp.Error = typed.Code
		resp.Message = typed.Message
	}
	if status == http.StatusInternalServerError {
		s.logger.Printf("goIdentity: request failed: %v", err)
	}

	var policy *goIdentity.PolicyError
	if errors.As(err, &policy) {
		for _, v := range policy.Violations {
			resp.Violations = append(resp.Violations, string(v))
		}
	}
	var fields *fieldError
	if errors.As(err, &fields) {
		resp.Fields = fields.fields
	}

	writeJSON(w, status, resp)
}

// rejected adapts writeError to middleware.ErrorWriter.
func (s *Server) rejected(w http.ResponseWriter, _ *http.Request, err error) {
	s.writeError(w, err)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
