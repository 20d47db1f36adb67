package comfy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testWorkflow = `{
  "3": {"class_type": "KSampler", "inputs": {"seed": "{{seed}}", "steps": 20}},
  "6": {"class_type": "CLIPTextEncode", "inputs": {"text": "{{prompt}}"}},
  "7": {"class_type": "CLIPTextEncode", "inputs": {"text": "{{negative_prompt}}"}},
  "5": {"class_type": "EmptyLatentImage", "inputs": {"width": "{{width}}", "height": "{{height}}"}},
  "9": {"class_type": "SaveImage", "inputs": {"filename_prefix": "shot_{{ shot_index }}", "tags": ["{{unknown}}"]}}
}`

func writeWorkflow(t *testing.T, dir, id, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, id+".json"), []byte(body), 0644))
}

func TestWorkflowStore_Load(t *testing.T) {
	dir := t.TempDir()
	writeWorkflow(t, dir, "txt2img", testWorkflow)
	store := NewWorkflowStore(dir)

	graph, err := store.Load("txt2img")
	require.NoError(t, err)
	assert.Len(t, graph, 5)

	again, err := store.Load("txt2img")
	require.NoError(t, err)
	assert.Equal(t, graph, again)
}

func TestWorkflowStore_LoadErrors(t *testing.T) {
	dir := t.TempDir()
	writeWorkflow(t, dir, "broken", "{not json")
	writeWorkflow(t, dir, "empty", "{}")
	store := NewWorkflowStore(dir)

	for _, id := range []string{"missing", "broken", "empty", "../etc/passwd", ""} {
		t.Run(id, func(t *testing.T) {
			_, err := store.Load(id)
			assert.Error(t, err)
		})
	}
}

func TestRender(t *testing.T) {
	dir := t.TempDir()
	writeWorkflow(t, dir, "txt2img", testWorkflow)
	template, err := NewWorkflowStore(dir).Load("txt2img")
	require.NoError(t, err)

	graph := Render(template, Params{
		"seed":            int64(42),
		"prompt":          "a cup of coffee",
		"negative_prompt": "blurry",
		"width":           768,
		"height":          1344,
		"shot_index":      3,
	})

	inputs := func(node string) map[string]any {
		return graph[node].(map[string]any)["inputs"].(map[string]any)
	}
	assert.Equal(t, int64(42), inputs("3")["seed"])
	assert.Equal(t, float64(20), inputs("3")["steps"])
	assert.Equal(t, "a cup of coffee", inputs("6")["text"])
	assert.Equal(t, 768, inputs("5")["width"])
	assert.Equal(t, "shot_3", inputs("9")["filename_prefix"])
	assert.Equal(t, []any{"{{unknown}}"}, inputs("9")["tags"])

	// template is untouched
	assert.Equal(t, "{{seed}}", template["3"].(map[string]any)["inputs"].(map[string]any)["seed"])
}
