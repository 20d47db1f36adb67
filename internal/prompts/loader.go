// Package prompts holds the system and user prompt templates sent to the text model.
// Templates live in JSON files embedded at compile time, one file per generation step.
package prompts

import (
	"embed"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
)

//go:embed *.json
var promptFiles embed.FS

// Prompt files
const (
	ScriptFile = "script.json"
	ShotsFile  = "shots.json"
)

var (
	cache   = make(map[string]map[string]string)
	cacheMu sync.RWMutex
)

// Get retrieves a prompt by filename and key (e.g. Get(ScriptFile, "system")).
func Get(filename, key string) (string, error) {
	set, err := loadFile(filename)
	if err != nil {
		return "", err
	}

	prompt, exists := set[key]
	if !exists {
		return "", fmt.Errorf("prompt key %q not found in %s", key, filename)
	}
	return prompt, nil
}

// MustGet is Get for prompts that ship with the binary; a miss is a build defect.
func MustGet(filename, key string) string {
	prompt, err := Get(filename, key)
	if err != nil {
		panic(fmt.Sprintf("failed to load prompt: %v", err))
	}
	return prompt
}

// Format replaces {{.Key}} placeholders with values from data.
// Unknown placeholders are left in place.
func Format(template string, data map[string]string) string {
	if len(data) == 0 {
		return template
	}
	pairs := make([]string, 0, len(data)*2)
	for key, value := range data {
		pairs = append(pairs, "{{."+key+"}}", value)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

// Render loads a template and formats it in one step.
func Render(filename, key string, data map[string]string) (string, error) {
	template, err := Get(filename, key)
	if err != nil {
		return "", err
	}
	return Format(template, data), nil
}

func loadFile(filename string) (map[string]string, error) {
	cacheMu.RLock()
	set, exists := cache[filename]
	cacheMu.RUnlock()
	if exists {
		return set, nil
	}

	data, err := promptFiles.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompt file %s: %w", filename, err)
	}
	if err := json.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("failed to parse prompt file %s: %w", filename, err)
	}

	cacheMu.Lock()
	cache[filename] = set
	cacheMu.Unlock()
	return set, nil
}

// ClearCache drops parsed files. Tests use it to force a reload.
func ClearCache() {
	cacheMu.Lock()
	cache = make(map[string]map[string]string)
	cacheMu.Unlock()
}

// List returns the sorted prompt keys in a file.
func List(filename string) ([]string, error) {
	set, err := loadFile(filename)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}
