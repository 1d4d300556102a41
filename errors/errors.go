package errors

import (
	errs "errors"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"strings"
)

type ErrorLevel string

func (e ErrorLevel) String() string {
	return string(e)
}

const (
	ERR_INFRASTRUCTURE ErrorLevel = "infrastructure"
	ERR_DOMAIN         ErrorLevel = "domain"
	ERR_VALIDATION     ErrorLevel = "validation"
	ERR_UNKNOWN        ErrorLevel = "unknown"
)

type ExtendError struct {
	Level      ErrorLevel     `json:"level"`
	Err        error          `json:"error"`
	Code       string         `json:"code,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	StackTrace string         `json:"-"`
}

func (e *ExtendError) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	msg := e.Err.Error()
	if e.Code != "" {
		msg = fmt.Sprintf("[%s] %s", e.Code, msg)
	}
	return msg
}

func (e *ExtendError) Unwrap() error {
	return e.Err
}

func (e *ExtendError) WithCode(code string) *ExtendError {
	e.Code = code
	return e
}

func (e *ExtendError) WithMetadata(key string, value any) *ExtendError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]any)
	}
	e.Metadata[key] = value
	return e
}

// LogValue renders the error as a slog group so handlers keep the level,
// code and metadata as separate attributes.
func (e *ExtendError) LogValue() slog.Value {
	if e == nil {
		return slog.StringValue("")
	}
	attrs := []slog.Attr{
		slog.String("msg", e.Error()),
		slog.String("level", e.Level.String()),
	}
	if e.Code != "" {
		attrs = append(attrs, slog.String("code", e.Code))
	}
	keys := make([]string, 0, len(e.Metadata))
	for k := range e.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, slog.Any(k, e.Metadata[k]))
	}
	return slog.GroupValue(attrs...)
}

func New(message string) error {
	return errs.New(message)
}

// Is reports whether err matches target. Note the argument order: target first.
func Is(target, err error) bool {
	return errs.Is(err, target)
}

func As(err error, target interface{}) bool {
	return errs.As(err, target)
}

func captureStackTrace() string {
	var sb strings.Builder
	// Skip captureStackTrace, wrap and the level constructor.
	for i := 3; i < 15; i++ {
		_, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}
		fmt.Fprintf(&sb, "%s:%d\n", file, line)
	}
	return sb.String()
}

func wrap(err error, level ErrorLevel) *ExtendError {
	var extendErr *ExtendError
	if errs.As(err, &extendErr) {
		// Keep the existing code and metadata.
		return extendErr
	}
	return &ExtendError{
		Level:      level,
		Err:        err,
		StackTrace: captureStackTrace(),
	}
}

func InfraError(err error) *ExtendError {
	return wrap(err, ERR_INFRASTRUCTURE)
}

func DomainError(err error) *ExtendError {
	return wrap(err, ERR_DOMAIN)
}

func ValidationError(err error) *ExtendError {
	return wrap(err, ERR_VALIDATION)
}

func UnknownError(err error) *ExtendError {
	return wrap(err, ERR_UNKNOWN)
}

func GetLevel(err error) ErrorLevel {
	var extendErr *ExtendError
	if errs.As(err, &extendErr) && extendErr != nil {
		return extendErr.Level
	}
	return ERR_UNKNOWN
}

// GetCode returns the code of the first ExtendError in the chain, or "".
func GetCode(err error) string {
	var extendErr *ExtendError
	if errs.As(err, &extendErr) && extendErr != nil {
		return extendErr.Code
	}
	return ""
}

// GetMetadata returns the metadata of the first ExtendError in the chain.
func GetMetadata(err error) map[string]any {
	var extendErr *ExtendError
	if errs.As(err, &extendErr) && extendErr != nil {
		return extendErr.Metadata
	}
	return nil
}

func IsInfraError(err error) bool {
	return GetLevel(err) == ERR_INFRASTRUCTURE
}

func IsDomainError(err error) bool {
	return GetLevel(err) == ERR_DOMAIN
}

func IsValidationError(err error) bool {
	return GetLevel(err) == ERR_VALIDATION
}

func IsUnknownError(err error) bool {
	return GetLevel(err) == ERR_UNKNOWN
}
