// Package server provides the HTTP control API of the content pipeline.
package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/jonathan/content-pipeline/internal/db"
	"github.com/jonathan/content-pipeline/internal/pipeline"
)

// ErrValidation indicates a malformed request.
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	if e.Field == "" {
		return "validation error: " + e.Message
	}
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}

// HTTPStatus returns the HTTP status code for an error.
func HTTPStatus(err error) int {
	var (
		invalid    *ErrValidation
		fieldErrs  validator.ValidationErrors
		invalidArg *validator.InvalidValidationError
	)
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &invalid), errors.As(err, &fieldErrs), errors.As(err, &invalidArg):
		return http.StatusBadRequest
	case errors.Is(err, pipeline.ErrPipelineNotFound),
		errors.Is(err, pipeline.ErrPersonaNotFound),
		errors.Is(err, pipeline.ErrRunNotFound),
		errors.Is(err, db.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, pipeline.ErrRunTerminal), errors.Is(err, db.ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, pipeline.ErrEngineNotReady):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
