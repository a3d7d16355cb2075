package domain

import (
	"errors"
	"fmt"
)

// Category sentinels. Prefer these with NewSubSystemError for new code.
var (
	ErrNotFound      = fmt.Errorf("not found")
	ErrDuplicate     = fmt.Errorf("duplicate")
	ErrTimeout       = fmt.Errorf("operation timed out")
	ErrLimitReached  = fmt.Errorf("limit reached")
	ErrInvalidInput  = fmt.Errorf("invalid input")
	ErrProviderError = fmt.Errorf("provider error")
)

// Stream pipeline errors.
var (
	// ErrMissingParameter is returned when prompt or message id is absent.
	ErrMissingParameter = fmt.Errorf("missing required parameters: %w", ErrInvalidInput)
	// ErrDuplicateRequest marks a message id that is active or already processed.
	ErrDuplicateRequest = fmt.Errorf("message already processed: %w", ErrDuplicate)
	// ErrUpstreamGeneration is raised by the token source during generation.
	ErrUpstreamGeneration = fmt.Errorf("upstream generation failed: %w", ErrProviderError)
	// ErrChannelTimeout is an internal signal: no event arrived within the wait window.
	ErrChannelTimeout = fmt.Errorf("event channel wait: %w", ErrTimeout)
	// ErrStreamFailure covers unexpected failures while writing a stream.
	ErrStreamFailure = fmt.Errorf("stream failure")
	// ErrPoolFull is returned when the generation worker queue is saturated.
	ErrPoolFull = fmt.Errorf("generation queue full: %w", ErrLimitReached)
)

// Sentinel errors for the domain layer.
var (
	ErrProviderNotFound = fmt.Errorf("llm provider not found")
	ErrSessionNotFound  = fmt.Errorf("session not found")
	ErrConfigLoad       = fmt.Errorf("failed to load configuration")
	ErrDecryption       = fmt.Errorf("decryption failed")
	ErrEncryption       = fmt.Errorf("encryption operation failed")
	ErrHistoryStore     = fmt.Errorf("history store failed")

	// Resilience errors.
	ErrContextOverflow = fmt.Errorf("context window exceeded")
	ErrRateLimit       = fmt.Errorf("rate limit exceeded")
	ErrAuthInvalid     = fmt.Errorf("authentication failed")

	ErrGatewayAuthFailed = fmt.Errorf("gateway: %w", ErrAuthInvalid)
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op        string // operation name (e.g., "Registry.Register")
	Err       error  // underlying sentinel or wrapped error
	Detail    string // human-readable detail
	SubSystem string // subsystem identifier (e.g., "stream", "history"); used for ErrorCode dispatch
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

// IsRetryableError reports whether err is a transient error that may succeed on retry.
func IsRetryableError(err error) bool {
	return errors.Is(err, ErrRateLimit) || errors.Is(err, ErrPoolFull)
}

// ErrorCode is a machine-parseable error category for monitoring and alerting.
type ErrorCode string

const (
	CodeUnknown            ErrorCode = "UNKNOWN"
	CodeMissingParameter   ErrorCode = "MISSING_PARAMETER"
	CodeDuplicateRequest   ErrorCode = "DUPLICATE_REQUEST"
	CodeUpstreamGeneration ErrorCode = "UPSTREAM_GENERATION"
	CodeChannelTimeout     ErrorCode = "CHANNEL_TIMEOUT"
	CodeStreamFailure      ErrorCode = "STREAM_FAILURE"
	CodePoolFull           ErrorCode = "POOL_FULL"
	CodeProviderNotFound   ErrorCode = "PROVIDER_NOT_FOUND"
	CodeSessionNotFound    ErrorCode = "SESSION_NOT_FOUND"
	CodeConfigLoad         ErrorCode = "CONFIG_LOAD"
	CodeDecryption         ErrorCode = "DECRYPTION"
	CodeEncryption         ErrorCode = "ENCRYPTION"
	CodeHistoryStore       ErrorCode = "HISTORY_STORE"
	CodeContextOverflow    ErrorCode = "CONTEXT_OVERFLOW"
	CodeRateLimit          ErrorCode = "RATE_LIMIT"
	CodeAuthInvalid        ErrorCode = "AUTH_INVALID"
	CodeGatewayAuth        ErrorCode = "GATEWAY_AUTH"

	// Subsystem-specific codes used by subSystemCodeMap.
	CodeModelNotFound  ErrorCode = "MODEL_NOT_FOUND"
	CodeCircuitOpen    ErrorCode = "CIRCUIT_OPEN"
	CodeTranscriptGone ErrorCode = "TRANSCRIPT_NOT_FOUND"

	// Category error codes; fallback when no specific code matches.
	CodeNotFound      ErrorCode = "NOT_FOUND"
	CodeDuplicate     ErrorCode = "DUPLICATE"
	CodeTimeout       ErrorCode = "TIMEOUT"
	CodeLimitReached  ErrorCode = "LIMIT_REACHED"
	CodeInvalidInput  ErrorCode = "INVALID_INPUT"
	CodeProviderError ErrorCode = "PROVIDER_ERROR"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrNotFound:      CodeNotFound,
	ErrDuplicate:     CodeDuplicate,
	ErrTimeout:       CodeTimeout,
	ErrLimitReached:  CodeLimitReached,
	ErrInvalidInput:  CodeInvalidInput,
	ErrProviderError: CodeProviderError,

	ErrMissingParameter:   CodeMissingParameter,
	ErrDuplicateRequest:   CodeDuplicateRequest,
	ErrUpstreamGeneration: CodeUpstreamGeneration,
	ErrChannelTimeout:     CodeChannelTimeout,
	ErrStreamFailure:      CodeStreamFailure,
	ErrPoolFull:           CodePoolFull,
	ErrProviderNotFound:   CodeProviderNotFound,
	ErrSessionNotFound:    CodeSessionNotFound,
	ErrConfigLoad:         CodeConfigLoad,
	ErrDecryption:         CodeDecryption,
	ErrEncryption:         CodeEncryption,
	ErrHistoryStore:       CodeHistoryStore,
	ErrContextOverflow:    CodeContextOverflow,
	ErrRateLimit:          CodeRateLimit,
	ErrAuthInvalid:        CodeAuthInvalid,
	ErrGatewayAuthFailed:  CodeGatewayAuth,
}

// specificity orders wrapped sentinels before the categories they wrap, so the
// chain walk in ErrorCodeOf reports the most specific code.
var specificity = []error{
	ErrMissingParameter,
	ErrDuplicateRequest,
	ErrUpstreamGeneration,
	ErrChannelTimeout,
	ErrPoolFull,
	ErrGatewayAuthFailed,
}

// subSystemCodeMap maps (category sentinel, subsystem) pairs to specific ErrorCodes.
var subSystemCodeMap = map[error]map[string]ErrorCode{
	ErrNotFound: {
		"model":   CodeModelNotFound,
		"history": CodeTranscriptGone,
		"stream":  CodeSessionNotFound,
	},
	ErrProviderError: {
		"breaker": CodeCircuitOpen,
	},
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// It unwraps DomainError and uses errors.Is to match sentinel errors.
// Returns CodeUnknown if no matching sentinel is found.
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

	for _, sentinel := range specificity {
		if errors.Is(err, sentinel) {
			return errorCodeMap[sentinel]
		}
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
