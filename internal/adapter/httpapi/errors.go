package httpapi

import (
	"encoding/json"
	"net/http"

	"agentroute/internal/domain"
)

var statusByCode = map[domain.ErrorCode]int{
	domain.CodeValidation:        http.StatusBadRequest,
	domain.CodeInvalidInput:      http.StatusBadRequest,
	domain.CodeUnknownStrategy:   http.StatusBadRequest,
	domain.CodeNotFound:          http.StatusNotFound,
	domain.CodeWorkflowNotFound:  http.StatusNotFound,
	domain.CodeAgentNotFound:     http.StatusNotFound,
	domain.CodeTemplateNotFound:  http.StatusNotFound,
	domain.CodeInvalidTransition: http.StatusConflict,
	domain.CodeDuplicate:         http.StatusConflict,
	domain.CodeAgentUnavailable:  http.StatusServiceUnavailable,
	domain.CodeNoAgentAvailable:  http.StatusServiceUnavailable,
	domain.CodeAmbiguousRoute:    http.StatusUnprocessableEntity,
	domain.CodeQualityGate:       http.StatusUnprocessableEntity,
	domain.CodeExecution:         http.StatusUnprocessableEntity,
	domain.CodeTimeout:           http.StatusGatewayTimeout,
	domain.CodePhaseTimeout:      http.StatusGatewayTimeout,
	domain.CodeLimitReached:      http.StatusTooManyRequests,
}

// StatusFor maps an error to the HTTP status reported to clients.
func StatusFor(err error) int {
	if status, ok := statusByCode[domain.ErrorCodeOf(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// errorBody is the JSON shape of every error reply. Workflow is set when the
// failing operation still produced a workflow snapshot.
type errorBody struct {
	Error     string                    `json:"error"`
	Code      domain.ErrorCode          `json:"code"`
	Retryable bool                      `json:"retryable,omitempty"`
	Workflow  *domain.WorkflowExecution `json:"workflow,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error, wf *domain.WorkflowExecution) {
	status := StatusFor(err)
	body := errorBody{
		Error:     err.Error(),
		Code:      domain.ErrorCodeOf(err),
		Retryable: domain.IsRetryableError(err),
		Workflow:  wf,
	}
	if status == http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		body.Error = "internal error"
	}
	writeJSON(w, status, body)
}

// badRequest reports a malformed request body or query parameter.
func badRequest(field, reason string) error {
	return &domain.ValidationError{Field: field, Reason: reason}
}
