package steps

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/content-pipeline/internal/types"
)

func TestStagesOrder(t *testing.T) {
	expected := []string{
		types.StageScriptGeneration,
		types.StageShotDecomposition,
		types.StageFrameGeneration,
		types.StageAssembly,
	}

	require.Len(t, Stages, len(expected))
	lastProgress := 0
	for i, name := range expected {
		assert.Equal(t, name, Stages[i].Name)
		assert.Equal(t, i+1, Stages[i].Position)
		assert.Greater(t, Stages[i].Progress, lastProgress, "progress must increase")
		lastProgress = Stages[i].Progress
	}
	assert.Equal(t, 100, lastProgress)
}

func TestLookup(t *testing.T) {
	def, ok := Lookup(types.StageFrameGeneration)
	require.True(t, ok)
	assert.Equal(t, []string{InputShots, InputWorkflow}, def.Requires)

	_, ok = Lookup("render_latex")
	assert.False(t, ok)
}

func TestDependencyError(t *testing.T) {
	err := &DependencyError{
		Stage:         "shot_decomposition",
		MissingInputs: []string{"script", "persona"},
	}

	assert.Error(t, err)
	assert.Equal(t, "shot_decomposition requires script, persona", err.Error())
}

func TestValidateInputs(t *testing.T) {
	t.Run("all inputs available", func(t *testing.T) {
		err := ValidateInputs(types.StageShotDecomposition, map[string]bool{InputScript: true, InputPersona: true})
		assert.NoError(t, err)
	})

	t.Run("missing persona", func(t *testing.T) {
		err := ValidateInputs(types.StageShotDecomposition, map[string]bool{InputScript: true})
		var depErr *DependencyError
		require.True(t, errors.As(err, &depErr))
		assert.Equal(t, []string{InputPersona}, depErr.MissingInputs)
	})

	t.Run("script generation has no inputs", func(t *testing.T) {
		assert.NoError(t, ValidateInputs(types.StageScriptGeneration, nil))
	})

	t.Run("unknown stage", func(t *testing.T) {
		err := ValidateInputs("nope", nil)
		require.Error(t, err)
		var depErr *DependencyError
		assert.False(t, errors.As(err, &depErr))
	})
}
