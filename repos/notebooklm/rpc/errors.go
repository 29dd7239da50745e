package rpc

import (
	"errors"
	"fmt"
	"strings"

	vo "github.com/crosszan/nblm/vo/notebooklm_vo"
)

var (
	ErrNoResult      = errors.New("no result found for RPC ID")
	ErrRPCError      = errors.New("RPC error")
	ErrAuthError     = errors.New("authentication error")
	ErrRateLimited   = errors.New("rate limited")
	ErrInvalidFormat = errors.New("invalid response format")
	ErrTransport     = errors.New("transport error")
	ErrValidation    = errors.New("validation error")
	ErrUpload        = errors.New("upload failed")
)

// CodeUnauthenticated is the embedded code that signals stale credentials
const CodeUnauthenticated = 16

// errorCodeNames maps google.rpc.Code values seen in error signals
var errorCodeNames = map[int]string{
	1:  "CANCELLED",
	2:  "UNKNOWN",
	3:  "INVALID_ARGUMENT",
	4:  "DEADLINE_EXCEEDED",
	5:  "NOT_FOUND",
	7:  "PERMISSION_DENIED",
	8:  "RESOURCE_EXHAUSTED",
	13: "INTERNAL",
	14: "UNAVAILABLE",
	16: "UNAUTHENTICATED",
}

// CodeName returns the symbolic name of an error code, UNKNOWN when unmapped
func CodeName(code int) string {
	if name, ok := errorCodeNames[code]; ok {
		return name
	}
	return "UNKNOWN"
}

// TransportError is a network or HTTP-layer failure. Callers may retry.
type TransportError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.StatusCode, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: status %d", e.Op, e.StatusCode)
	default:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
}

func (e *TransportError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrTransport}
	}
	return []error{ErrTransport, e.Err}
}

// AuthError means the credentials are stale: HTTP 401/403 or embedded code 16
type AuthError struct {
	StatusCode int
	Code       int
}

func (e *AuthError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("authentication error: status %d", e.StatusCode)
	}
	return fmt.Sprintf("authentication error: error code %d (%s)", e.Code, CodeName(e.Code))
}

func (e *AuthError) Unwrap() error { return ErrAuthError }

// RejectionError is a well-formed error signal decoded from a chunk
type RejectionError struct {
	Code      int
	CodeName  string
	ErrorType string
	RawDetail string
}

func (e *RejectionError) Error() string {
	msg := fmt.Sprintf("Google rejected the query (error code %d: %s)", e.Code, e.CodeName)
	if e.ErrorType != "" {
		msg += " [" + e.ErrorType + "]"
	}
	return msg
}

func (e *RejectionError) Unwrap() error { return ErrRPCError }

// Is lets code 16 match ErrAuthError and quota rejections match ErrRateLimited
func (e *RejectionError) Is(target error) bool {
	switch target {
	case ErrAuthError:
		return e.Code == CodeUnauthenticated
	case ErrRateLimited:
		return e.Code == 8 || strings.Contains(e.ErrorType, "UserDisplayableError")
	}
	return false
}

// UploadError reports which upload phase failed
type UploadError struct {
	Phase    vo.UploadPhase
	Filename string
	SourceID string
	Err      error
}

func (e *UploadError) Error() string {
	msg := fmt.Sprintf("upload %q failed in phase %s", e.Filename, e.Phase)
	if e.SourceID != "" {
		msg += " (registered source " + e.SourceID + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *UploadError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrUpload}
	}
	return []error{ErrUpload, e.Err}
}

// ValidationError is a local pre-flight failure that never touched the network
type ValidationError struct {
	Path   string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Reason, e.Path)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// ErrorSignal is an embedded backend error found in a wrb.fr entry
type ErrorSignal struct {
	Code       int
	TypeName   string
	RawExcerpt string
}

// Err converts the signal into the typed error callers branch on
func (s ErrorSignal) Err() error {
	if s.Code == CodeUnauthenticated {
		return errors.Join(&AuthError{Code: s.Code}, s.Rejection())
	}
	return s.Rejection()
}

// Rejection converts the signal into a RejectionError
func (s ErrorSignal) Rejection() *RejectionError {
	return &RejectionError{
		Code:      s.Code,
		CodeName:  CodeName(s.Code),
		ErrorType: s.TypeName,
		RawDetail: s.RawExcerpt,
	}
}

// Offsets inside a wrb.fr entry
const (
	entryPayload   = 2
	entryErrorInfo = 5
	errInfoCode    = 0
	errInfoDetails = 2
	rawExcerptMax  = 500
)

// errorSignalFromEntry detects ["wrb.fr", id, null, _, _, [code, _, [[type, ...]]]]
func errorSignalFromEntry(item []any) (ErrorSignal, bool) {
	if len(item) <= entryErrorInfo {
		return ErrorSignal{}, false
	}
	if tag, _ := item[0].(string); tag != tagResult {
		return ErrorSignal{}, false
	}
	if item[entryPayload] != nil {
		return ErrorSignal{}, false
	}

	info, ok := item[entryErrorInfo].([]any)
	if !ok || len(info) == 0 {
		return ErrorSignal{}, false
	}
	code, ok := AsInt(info[errInfoCode])
	if !ok {
		return ErrorSignal{}, false
	}

	sig := ErrorSignal{Code: code, RawExcerpt: excerpt(item)}
	if details, ok := ListAt(info, errInfoDetails); ok {
		for _, d := range details {
			if t, ok := StringAt(d, 0); ok {
				sig.TypeName = t
				break
			}
		}
	}
	return sig, true
}

// ExtractErrorSignal returns the first error signal inside one chunk
func ExtractErrorSignal(chunk any) (ErrorSignal, bool) {
	for _, item := range resultEntries(chunk) {
		if sig, ok := errorSignalFromEntry(item); ok {
			return sig, true
		}
	}
	return ErrorSignal{}, false
}

func excerpt(v any) string {
	s, err := compactJSON(v)
	if err != nil {
		s = fmt.Sprintf("%v", v)
	}
	return Truncate(s, rawExcerptMax)
}

// IsAuthError checks if an error is authentication-related
func IsAuthError(err error) bool {
	return err != nil && errors.Is(err, ErrAuthError)
}

// IsRetryable reports whether a caller may retry the failed call as-is
func IsRetryable(err error) bool {
	if err == nil || IsAuthError(err) {
		return false
	}
	var te *TransportError
	if !errors.As(err, &te) {
		return false
	}
	if te.StatusCode == 0 {
		return true
	}
	return te.StatusCode == 429 || te.StatusCode >= 500
}
