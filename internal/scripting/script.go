// Package scripting generates persona-voiced narration scripts from a topic using the text model.
package scripting

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/jonathan/content-pipeline/internal/llm"
	"github.com/jonathan/content-pipeline/internal/prompts"
	"github.com/jonathan/content-pipeline/internal/schemas"
	"github.com/jonathan/content-pipeline/internal/types"
)

const (
	defaultTargetSeconds = 30
	defaultTone          = "conversational"
	wordsPerSecond       = 2.5
	maxHashtags          = 8
	maxTitleLength       = 60
	maxDescriptionLength = 150
)

// Result is a generated script with its publishing metadata.
type Result struct {
	Title       string   `json:"title"`
	Script      string   `json:"script"`
	Description string   `json:"description"`
	Hashtags    []string `json:"hashtags"`
	// Fallback is set when the model reply could not be parsed and the raw text was used.
	Fallback bool `json:"fallback,omitempty"`
}

var outputSchema = llm.OutputSchema{
	Name: "Script",
	Fields: []llm.SchemaField{
		{Name: "title", Description: "catchy title under 60 characters", Required: true},
		{Name: "script", Description: "the spoken narration", Required: true},
		{Name: "description", Description: "one or two sentence post description"},
		{Name: "hashtags", Type: "[\"string\"]", Description: "3 to 8 hashtags without the # sign"},
	},
}

// GenerateScript asks the model for a script about topic in the persona's voice.
// The returned script is never empty. Only transport failures are returned as errors;
// an unparsable reply takes the fallback path.
func GenerateScript(ctx context.Context, client llm.Client, persona *types.Persona, topic string, opts types.ScriptOptions) (*Result, error) {
	topic = strings.TrimSpace(topic)
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: buildSystemPrompt(persona, opts)},
		{Role: llm.RoleUser, Content: prompts.Format(prompts.MustGet(prompts.ScriptFile, "user"), map[string]string{"Topic": topic})},
	}

	resp, err := client.Chat(ctx, messages)
	switch {
	case llm.IsParseError(err):
		// A reply with no usable text is handled like an empty reply.
		resp = &llm.ChatResponse{}
	case err != nil:
		return nil, fmt.Errorf("generate script: %w", err)
	}

	if result, ok := parseResponse(resp.Content); ok {
		result.Hashtags = normalizeHashtags(result.Hashtags)
		if result.Title == "" {
			result.Title = deriveTitle(result.Script, topic)
		}
		if result.Description == "" {
			result.Description = truncate(result.Script, maxDescriptionLength)
		}
		if len(result.Hashtags) == 0 {
			result.Hashtags = topicHashtags(topic)
		}
		return result, nil
	}
	return fallbackScript(resp.Content, topic), nil
}

func buildSystemPrompt(persona *types.Persona, opts types.ScriptOptions) string {
	seconds := opts.TargetSeconds
	if seconds <= 0 {
		seconds = defaultTargetSeconds
	}
	tone := strings.TrimSpace(opts.Tone)
	if tone == "" {
		tone = defaultTone
	}

	name, traits, style, focus := "a friendly narrator", "curious, clear", "plain and direct", "general interest"
	if persona != nil {
		name = persona.Name
		if len(persona.Traits) > 0 {
			traits = strings.Join(persona.Traits, ", ")
		}
		if persona.WritingStyle != "" {
			style = persona.WritingStyle
		}
		if len(persona.TopicFocus) > 0 {
			focus = strings.Join(persona.TopicFocus, ", ")
		}
	}

	hook := prompts.MustGet(prompts.ScriptFile, "no-hook")
	if opts.IncludeHook {
		hook = prompts.MustGet(prompts.ScriptFile, "hook")
	}
	cta := prompts.MustGet(prompts.ScriptFile, "no-cta")
	if opts.IncludeCallToAction {
		cta = prompts.MustGet(prompts.ScriptFile, "cta")
	}

	return prompts.Format(prompts.MustGet(prompts.ScriptFile, "system"), map[string]string{
		"PersonaName":     name,
		"Traits":          traits,
		"WritingStyle":    style,
		"TopicFocus":      focus,
		"TargetSeconds":   strconv.Itoa(seconds),
		"TargetWords":     strconv.Itoa(int(float64(seconds) * wordsPerSecond)),
		"Tone":            tone,
		"HookInstruction": hook,
		"CTAInstruction":  cta,
		"OutputSchema":    outputSchema.Render(),
	})
}

// parseResponse accepts the first JSON object in the reply when it carries a script.
func parseResponse(text string) (*Result, bool) {
	object, ok := llm.ExtractJSONObject(llm.CleanJSONBlock(text))
	if !ok {
		return nil, false
	}
	if err := schemas.Validate(schemas.Script, []byte(object)); err != nil {
		return nil, false
	}
	var result Result
	if err := json.Unmarshal([]byte(object), &result); err != nil {
		return nil, false
	}
	result.Title = strings.TrimSpace(result.Title)
	result.Script = strings.TrimSpace(result.Script)
	result.Description = strings.TrimSpace(result.Description)
	if result.Script == "" {
		return nil, false
	}
	return &result, true
}

// fallbackScript treats the raw reply as the script and synthesizes the metadata.
func fallbackScript(raw, topic string) *Result {
	script := strings.TrimSpace(llm.CleanJSONBlock(raw))
	if script == "" {
		subject := topic
		if subject == "" {
			subject = "today's topic"
		}
		script = fmt.Sprintf("Here is what you need to know about %s.", subject)
	}
	return &Result{
		Title:       deriveTitle(script, topic),
		Script:      script,
		Description: truncate(script, maxDescriptionLength),
		Hashtags:    topicHashtags(topic),
		Fallback:    true,
	}
}

func deriveTitle(script, topic string) string {
	if topic != "" {
		runes := []rune(topic)
		return truncate(strings.ToUpper(string(runes[0]))+string(runes[1:]), maxTitleLength)
	}
	first := script
	if idx := strings.IndexAny(script, ".!?\n"); idx > 0 {
		first = script[:idx]
	}
	return truncate(strings.TrimSpace(first), maxTitleLength)
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	cut := string(runes[:limit-3])
	if idx := strings.LastIndexByte(cut, ' '); idx > limit/2 {
		cut = cut[:idx]
	}
	return strings.TrimSpace(cut) + "..."
}

func normalizeHashtags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool)
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimLeft(strings.TrimSpace(tag), "#"))
		tag = strings.Map(func(r rune) rune {
			if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
				return r
			}
			return -1
		}, tag)
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
		if len(out) == maxHashtags {
			break
		}
	}
	return out
}

// topicHashtags turns the significant words of the topic into hashtags.
func topicHashtags(topic string) []string {
	var words []string
	for _, word := range strings.Fields(topic) {
		if len([]rune(word)) > 3 {
			words = append(words, word)
		}
	}
	return normalizeHashtags(words)
}
