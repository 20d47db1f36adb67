package types

import "github.com/go-playground/validator/v10"

// TriggerRunRequest starts one pipeline run.
type TriggerRunRequest struct {
	Topic                string         `json:"topic" validate:"max=500"`
	CustomScript         string         `json:"custom_script,omitempty"`
	SkipScriptGeneration bool           `json:"skip_script_generation,omitempty"`
	ScriptOptions        *ScriptOptions `json:"script_options,omitempty"`
}

// TriggerBatchRequest starts a batch of runs.
type TriggerBatchRequest struct {
	Count       int      `json:"count" validate:"required,min=1,max=100"`
	Concurrency int      `json:"concurrency,omitempty" validate:"gte=0,lte=16"`
	Topics      []string `json:"topics,omitempty" validate:"dive,max=500"`
}

// Validate validates the TriggerRunRequest using the validator.
func (r *TriggerRunRequest) Validate() error {
	validate := validator.New()
	return validate.Struct(r)
}

// Validate validates the TriggerBatchRequest using the validator.
func (r *TriggerBatchRequest) Validate() error {
	validate := validator.New()
	return validate.Struct(r)
}

// Validate validates the Pipeline using the validator.
func (p *Pipeline) Validate() error {
	validate := validator.New()
	if err := validate.Struct(p); err != nil {
		return err
	}
	_, _, err := p.Dimensions()
	return err
}

// Validate validates the Persona using the validator.
func (p *Persona) Validate() error {
	validate := validator.New()
	return validate.Struct(p)
}
