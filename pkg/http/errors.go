package http

import (
	"errors"
	"net/http"
)

// AppError is an error the API reports to the client as is.
type AppError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Field   string                 `json:"field,omitempty"`
	Params  map[string]interface{} `json:"params,omitempty"`
	Status  int                    `json:"-"`
	Err     error                  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Message == "" && e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Err }

func NewAppError(code, field, message string, status int) *AppError {
	return &AppError{Code: code, Message: message, Field: field, Status: status}
}

func (e *AppError) WithParam(key string, value interface{}) *AppError {
	if e.Params == nil {
		e.Params = make(map[string]interface{})
	}
	e.Params[key] = value
	return e
}

// ErrorRule maps a sentinel error to the code and status it is reported with.
type ErrorRule struct {
	Err    error
	Code   string
	Status int
}

// ErrorMapper translates wrapped sentinel errors into AppErrors using the
// first matching rule.
type ErrorMapper []ErrorRule

// Map returns an *AppError for a known error and err unchanged otherwise.
func (m ErrorMapper) Map(err error) error {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	for _, r := range m {
		if errors.Is(err, r.Err) {
			return &AppError{Code: r.Code, Message: err.Error(), Status: r.Status, Err: err}
		}
	}
	return err
}

// StatusOf returns the status an error is rendered with.
func StatusOf(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return http.StatusInternalServerError
}
