package domain

import (
	"errors"
	"fmt"
)

// Category sentinels.
var (
	ErrNotFound     = fmt.Errorf("not found")
	ErrDuplicate    = fmt.Errorf("duplicate")
	ErrTimeout      = fmt.Errorf("operation timed out")
	ErrLimitReached = fmt.Errorf("limit reached")
	ErrInvalidInput = fmt.Errorf("invalid input")
	ErrConfigLoad   = fmt.Errorf("failed to load configuration")
	ErrDecryption   = fmt.Errorf("decryption failed")
	ErrEncryption   = fmt.Errorf("encryption operation failed")
)

// Sentinels for the routing and workflow core.
var (
	ErrValidation        = fmt.Errorf("validation failed")
	ErrNoAgentAvailable  = fmt.Errorf("no agent available")
	ErrAmbiguousRoute    = fmt.Errorf("ambiguous routing decision")
	ErrUnknownStrategy   = fmt.Errorf("unknown routing strategy")
	ErrQualityGate       = fmt.Errorf("quality gate not met")
	ErrAgentUnavailable  = fmt.Errorf("agent unavailable")
	ErrExecution         = fmt.Errorf("phase execution failed")
	ErrInvalidTransition = fmt.Errorf("invalid workflow transition")
	ErrStorage           = fmt.Errorf("workflow storage failed")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op        string // operation name (e.g., "Router.Route")
	Err       error  // underlying sentinel or wrapped error
	Detail    string // human-readable detail
	SubSystem string // subsystem identifier (e.g., "workflow", "agent"); used for ErrorCode dispatch
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// NewSubSystemError creates a DomainError tagged with a subsystem for ErrorCode dispatch.
func NewSubSystemError(subsystem, op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail, SubSystem: subsystem}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// ValidationError reports malformed input to an analysis or planning operation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// RoutingFailure reports that no candidate qualified under a strategy.
// Workflow state is never mutated when this is returned.
type RoutingFailure struct {
	Strategy   StrategyKind
	Candidates int
	Err        error
}

func (e *RoutingFailure) Error() string {
	return fmt.Sprintf("routing (%s, %d candidates): %s", e.Strategy, e.Candidates, e.Err)
}

func (e *RoutingFailure) Unwrap() error { return e.Err }

// QualityGateFailure reports a phase quality score below a gate threshold.
type QualityGateFailure struct {
	Gate      string
	Threshold float64
	Score     float64
	Blocking  bool
}

func (e *QualityGateFailure) Error() string {
	return fmt.Sprintf("quality gate %q: score %.2f below threshold %.2f", e.Gate, e.Score, e.Threshold)
}

func (e *QualityGateFailure) Unwrap() error { return ErrQualityGate }

// AgentUnavailable reports an agent that is at capacity or offline.
type AgentUnavailable struct {
	Agent  string
	Reason string
}

func (e *AgentUnavailable) Error() string {
	return fmt.Sprintf("agent %q unavailable: %s", e.Agent, e.Reason)
}

func (e *AgentUnavailable) Unwrap() error { return ErrAgentUnavailable }

// ExecutionFailure reports an error from the delegated phase execution.
type ExecutionFailure struct {
	Agent string
	Task  string
	Err   error
}

func (e *ExecutionFailure) Error() string {
	return fmt.Sprintf("agent %q task %q: %v", e.Agent, e.Task, e.Err)
}

// Unwrap exposes both the execution sentinel and the underlying cause.
func (e *ExecutionFailure) Unwrap() []error { return []error{ErrExecution, e.Err} }

// ErrorCode is a machine-parseable error category for monitoring and alerting.
type ErrorCode string

const (
	CodeUnknown           ErrorCode = "UNKNOWN"
	CodeNotFound          ErrorCode = "NOT_FOUND"
	CodeDuplicate         ErrorCode = "DUPLICATE"
	CodeTimeout           ErrorCode = "TIMEOUT"
	CodeLimitReached      ErrorCode = "LIMIT_REACHED"
	CodeInvalidInput      ErrorCode = "INVALID_INPUT"
	CodeConfigLoad        ErrorCode = "CONFIG_LOAD"
	CodeDecryption        ErrorCode = "DECRYPTION"
	CodeEncryption        ErrorCode = "ENCRYPTION"
	CodeValidation        ErrorCode = "VALIDATION"
	CodeNoAgentAvailable  ErrorCode = "NO_AGENT_AVAILABLE"
	CodeAmbiguousRoute    ErrorCode = "AMBIGUOUS_ROUTE"
	CodeUnknownStrategy   ErrorCode = "UNKNOWN_STRATEGY"
	CodeQualityGate       ErrorCode = "QUALITY_GATE"
	CodeAgentUnavailable  ErrorCode = "AGENT_UNAVAILABLE"
	CodeExecution         ErrorCode = "EXECUTION_FAILURE"
	CodeInvalidTransition ErrorCode = "INVALID_TRANSITION"
	CodeStorage           ErrorCode = "STORAGE"

	// Subsystem-specific codes resolved through subSystemCodeMap.
	CodeWorkflowNotFound ErrorCode = "WORKFLOW_NOT_FOUND"
	CodeAgentNotFound    ErrorCode = "AGENT_NOT_FOUND"
	CodeTemplateNotFound ErrorCode = "TEMPLATE_NOT_FOUND"
	CodePhaseTimeout     ErrorCode = "PHASE_TIMEOUT"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrNotFound:          CodeNotFound,
	ErrDuplicate:         CodeDuplicate,
	ErrTimeout:           CodeTimeout,
	ErrLimitReached:      CodeLimitReached,
	ErrInvalidInput:      CodeInvalidInput,
	ErrConfigLoad:        CodeConfigLoad,
	ErrDecryption:        CodeDecryption,
	ErrEncryption:        CodeEncryption,
	ErrValidation:        CodeValidation,
	ErrNoAgentAvailable:  CodeNoAgentAvailable,
	ErrAmbiguousRoute:    CodeAmbiguousRoute,
	ErrUnknownStrategy:   CodeUnknownStrategy,
	ErrQualityGate:       CodeQualityGate,
	ErrAgentUnavailable:  CodeAgentUnavailable,
	ErrExecution:         CodeExecution,
	ErrInvalidTransition: CodeInvalidTransition,
	ErrStorage:           CodeStorage,
}

// subSystemCodeMap maps (category sentinel, subsystem) pairs to specific ErrorCodes.
var subSystemCodeMap = map[error]map[string]ErrorCode{
	ErrNotFound: {
		"workflow": CodeWorkflowNotFound,
		"agent":    CodeAgentNotFound,
		"template": CodeTemplateNotFound,
	},
	ErrTimeout: {
		"phase": CodePhaseTimeout,
	},
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// A tagged DomainError anywhere in the chain wins, so a phase timeout wrapped
// in an ExecutionFailure reports PHASE_TIMEOUT. Typed kinds come next, then
// plain sentinels.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	var de *DomainError
	if errors.As(err, &de) {
		if code := de.Code(); code != CodeUnknown {
			return code
		}
	}

	switch {
	case errors.Is(err, ErrExecution):
		return CodeExecution
	case errors.Is(err, ErrQualityGate):
		return CodeQualityGate
	case errors.Is(err, ErrAgentUnavailable):
		return CodeAgentUnavailable
	case errors.Is(err, ErrValidation):
		return CodeValidation
	}

	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}

	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
// If SubSystem is set, checks the subSystemCodeMap for a specific code.
func (e *DomainError) Code() ErrorCode {
	if e.SubSystem != "" {
		if subsysMap, ok := subSystemCodeMap[e.Err]; ok {
			if code, ok := subsysMap[e.SubSystem]; ok {
				return code
			}
		}
	}
	if code, ok := errorCodeMap[e.Err]; ok {
		return code
	}
	return CodeUnknown
}

// IsRetryableError reports whether a later attempt may succeed without any
// change to the input: a busy or offline agent, an empty candidate pool or a
// timed out call. An ExecutionFailure never is: it has already failed its
// workflow, whatever its cause.
func IsRetryableError(err error) bool {
	if err == nil || errors.Is(err, ErrExecution) {
		return false
	}
	return errors.Is(err, ErrAgentUnavailable) ||
		errors.Is(err, ErrNoAgentAvailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrLimitReached)
}
