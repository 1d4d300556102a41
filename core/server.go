package core

import "context"

// Server is a long-running surface of the application, such as the debug server.
type Server interface {
	Run() error
	Shutdown(ctx context.Context) error
}

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
	TraceID string `json:"trace_id,omitempty"`
}

type BaseResponse[T any] struct {
	Success bool      `json:"success"`
	Data    T         `json:"data,omitempty"`
	Error   *APIError `json:"error,omitempty"`
}

// OK wraps data in a successful response.
func OK[T any](data T) BaseResponse[T] {
	return BaseResponse[T]{Success: true, Data: data}
}

// Fail builds an error response.
func Fail(code, message string) BaseResponse[any] {
	return BaseResponse[any]{Error: &APIError{Code: code, Message: message}}
}
