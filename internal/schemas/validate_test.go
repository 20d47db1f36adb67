package schemas

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_Shots(t *testing.T) {
	tests := []struct {
		name      string
		document  string
		wantError bool
	}{
		{
			name:     "valid shot list",
			document: `{"shots":[{"image_prompt":"a barista pouring latte art","duration_seconds":4,"transition":"fade"}]}`,
		},
		{
			name:      "empty shot list",
			document:  `{"shots":[]}`,
			wantError: true,
		},
		{
			name:      "missing image prompt",
			document:  `{"shots":[{"narration":"hello"}]}`,
			wantError: true,
		},
		{
			name:      "duration wrong type",
			document:  `{"shots":[{"image_prompt":"x","duration_seconds":"five"}]}`,
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(Shots, []byte(tt.document))
			if !tt.wantError {
				assert.NoError(t, err)
				return
			}
			var validationErr *ValidationError
			require.True(t, errors.As(err, &validationErr), "got %T: %v", err, err)
			assert.NotEmpty(t, validationErr.Errors)
		})
	}
}

func TestValidate_Script(t *testing.T) {
	assert.NoError(t, Validate(Script, []byte(`{"title":"t","script":"hello","hashtags":["coffee"]}`)))
	assert.Error(t, Validate(Script, []byte(`{"title":"t","script":""}`)))
	assert.Error(t, Validate(Script, []byte(`{"title":"t"}`)))
}

func TestValidate_UnknownSchema(t *testing.T) {
	err := Validate("nope", []byte(`{}`))
	var loadErr *SchemaLoadError
	require.True(t, errors.As(err, &loadErr))
	assert.Contains(t, err.Error(), "schema not found")
}

func TestValidate_MalformedDocument(t *testing.T) {
	assert.Error(t, Validate(Shots, []byte(`{ invalid json }`)))
}

func TestValidateJSONString_NestedField(t *testing.T) {
	schemaContent := `{
		"$schema": "http://json-schema.org/draft-07/schema#",
		"type": "object",
		"required": ["person"],
		"properties": {
			"person": {
				"type": "object",
				"required": ["name"],
				"properties": {"name": {"type": "string"}}
			}
		}
	}`

	err := ValidateJSONString(schemaContent, `{"person": {}}`)
	require.Error(t, err)
	var validationErr *ValidationError
	require.True(t, errors.As(err, &validationErr))
	assert.Equal(t, "person", validationErr.Errors[0].Field)
}

func TestValidationError_Error(t *testing.T) {
	err := &ValidationError{
		Errors: []FieldError{
			{Field: "shots", Message: "is required"},
			{Field: "shots.0.image_prompt", Message: "must be a string"},
		},
	}

	msg := err.Error()
	assert.Contains(t, msg, "validation failed")
	assert.Contains(t, msg, "1. shots: is required")
	assert.Contains(t, msg, "2. shots.0.image_prompt")
}
