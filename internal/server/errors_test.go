package server

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jonathan/content-pipeline/internal/db"
	"github.com/jonathan/content-pipeline/internal/pipeline"
	"github.com/jonathan/content-pipeline/internal/types"
)

func TestErrValidation(t *testing.T) {
	err := &ErrValidation{Field: "count", Message: "must be positive"}
	assert.Equal(t, "validation error: count - must be positive", err.Error())
	assert.Equal(t, "validation error: bad json", (&ErrValidation{Message: "bad json"}).Error())
}

func TestHTTPStatus(t *testing.T) {
	invalidBatch := (&types.TriggerBatchRequest{Count: 0}).Validate()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"validation", &ErrValidation{Field: "id", Message: "required"}, http.StatusBadRequest},
		{"validator field errors", invalidBatch, http.StatusBadRequest},
		{"pipeline not found", fmt.Errorf("%w: daily", pipeline.ErrPipelineNotFound), http.StatusNotFound},
		{"persona not found", fmt.Errorf("%w: bea", pipeline.ErrPersonaNotFound), http.StatusNotFound},
		{"run not found", fmt.Errorf("%w: r1", pipeline.ErrRunNotFound), http.StatusNotFound},
		{"record not found", fmt.Errorf("get project: %w", db.ErrNotFound), http.StatusNotFound},
		{"run terminal", fmt.Errorf("%w: r1 is completed", pipeline.ErrRunTerminal), http.StatusConflict},
		{"duplicate", db.ErrDuplicate, http.StatusConflict},
		{"engine not ready", pipeline.ErrEngineNotReady, http.StatusServiceUnavailable},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}
