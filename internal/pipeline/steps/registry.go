// Package steps provides stage definitions and input validation for the
// content pipeline.
package steps

import (
	"fmt"
	"strings"

	"github.com/jonathan/content-pipeline/internal/types"
)

// Stage inputs. A stage runs only when every required input is available.
const (
	InputScript   = "script"
	InputPersona  = "persona"
	InputShots    = "shots"
	InputWorkflow = "workflow"
	InputFrames   = "frames"
)

// StageDefinition defines metadata for a pipeline stage
type StageDefinition struct {
	Name     string
	Position int // 1-based execution order
	Progress int // project progress once the stage has finished
	Requires []string
	Produces string
}

// Stages lists every stage in execution order.
var Stages = []StageDefinition{
	{
		Name:     types.StageScriptGeneration,
		Position: 1,
		Progress: 25,
		Requires: []string{},
		Produces: InputScript,
	},
	{
		Name:     types.StageShotDecomposition,
		Position: 2,
		Progress: 40,
		Requires: []string{InputScript, InputPersona},
		Produces: InputShots,
	},
	{
		Name:     types.StageFrameGeneration,
		Position: 3,
		Progress: 80,
		Requires: []string{InputShots, InputWorkflow},
		Produces: InputFrames,
	},
	{
		Name:     types.StageAssembly,
		Position: 4,
		Progress: 100,
		Requires: []string{InputFrames},
	},
}

// Lookup returns the definition for name.
func Lookup(name string) (StageDefinition, bool) {
	for _, def := range Stages {
		if def.Name == name {
			return def, true
		}
	}
	return StageDefinition{}, false
}

// DependencyError represents a stage whose inputs are not available
type DependencyError struct {
	Stage         string
	MissingInputs []string
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("%s requires %s", e.Stage, strings.Join(e.MissingInputs, ", "))
}

// ValidateInputs checks that every input required by stageName is available.
// It returns a *DependencyError listing the missing ones.
func ValidateInputs(stageName string, available map[string]bool) error {
	def, ok := Lookup(stageName)
	if !ok {
		return fmt.Errorf("unknown stage: %s", stageName)
	}

	var missing []string
	for _, input := range def.Requires {
		if !available[input] {
			missing = append(missing, input)
		}
	}

	if len(missing) > 0 {
		return &DependencyError{
			Stage:         stageName,
			MissingInputs: missing,
		}
	}

	return nil
}
