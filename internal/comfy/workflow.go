package comfy

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
)

// Params are the per-job values substituted into a workflow template.
type Params map[string]any

var (
	workflowIDPattern  = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)
	placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_]+)\s*\}\}`)
)

// WorkflowStore loads workflow graph templates named <id>.json from a directory.
type WorkflowStore struct {
	dir   string
	mu    sync.RWMutex
	cache map[string]map[string]any
}

// NewWorkflowStore creates a store rooted at dir.
func NewWorkflowStore(dir string) *WorkflowStore {
	return &WorkflowStore{dir: dir, cache: make(map[string]map[string]any)}
}

// Load returns the parsed template for id. The returned graph is shared and must
// not be mutated; use Render to produce a job graph.
func (s *WorkflowStore) Load(id string) (map[string]any, error) {
	if !workflowIDPattern.MatchString(id) || strings.Contains(id, "..") {
		return nil, fmt.Errorf("invalid workflow id %q", id)
	}

	s.mu.RLock()
	graph, ok := s.cache[id]
	s.mu.RUnlock()
	if ok {
		return graph, nil
	}

	data, err := os.ReadFile(filepath.Join(s.dir, id+".json"))
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow %s: %w", id, err)
	}
	if err := json.Unmarshal(data, &graph); err != nil {
		return nil, fmt.Errorf("failed to parse workflow %s: %w", id, err)
	}
	if len(graph) == 0 {
		return nil, fmt.Errorf("workflow %s has no nodes", id)
	}

	s.mu.Lock()
	s.cache[id] = graph
	s.mu.Unlock()
	return graph, nil
}

// Render deep-copies graph substituting {{name}} placeholders from params.
// A string that is exactly one placeholder takes the param's typed value;
// placeholders embedded in longer strings are replaced textually.
// Placeholders without a param are left untouched.
func Render(graph map[string]any, params Params) map[string]any {
	return renderValue(graph, params).(map[string]any)
}

func renderValue(value any, params Params) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, child := range v {
			out[key] = renderValue(child, params)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, child := range v {
			out[i] = renderValue(child, params)
		}
		return out
	case string:
		return renderString(v, params)
	default:
		return v
	}
}

func renderString(s string, params Params) any {
	if m := placeholderPattern.FindStringSubmatchIndex(s); m != nil && m[0] == 0 && m[1] == len(s) {
		if param, ok := params[s[m[2]:m[3]]]; ok {
			return param
		}
		return s
	}
	return placeholderPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := placeholderPattern.FindStringSubmatch(match)[1]
		if param, ok := params[name]; ok {
			return fmt.Sprint(param)
		}
		return match
	})
}
