// Package storyboard decomposes a narration script into an ordered chain of image prompts.
package storyboard

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jonathan/content-pipeline/internal/llm"
	"github.com/jonathan/content-pipeline/internal/prompts"
	"github.com/jonathan/content-pipeline/internal/schemas"
	"github.com/jonathan/content-pipeline/internal/types"
)

// Shot defaults applied when the model leaves a field out.
const (
	DefaultShotSeconds     = 5.0
	DefaultTransition      = "cut"
	FallbackShotSeconds    = 10.0
	fallbackPromptMaxRunes = 300
)

type shotList struct {
	Shots []rawShot `json:"shots"`
}

type rawShot struct {
	ImagePrompt     string  `json:"image_prompt"`
	NegativePrompt  string  `json:"negative_prompt"`
	DurationSeconds float64 `json:"duration_seconds"`
	CameraMovement  string  `json:"camera_movement"`
	Narration       string  `json:"narration"`
	Transition      string  `json:"transition"`
}

// CreatePromptChain asks the model to split script into shots styled for persona.
// The chain is never empty: an unusable reply yields a single shot covering the whole script.
// Only transport failures are returned as errors.
func CreatePromptChain(ctx context.Context, client llm.Client, persona *types.Persona, script string) ([]types.PromptChainItem, error) {
	if persona == nil {
		return nil, fmt.Errorf("create prompt chain: persona is required")
	}

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: prompts.Format(prompts.MustGet(prompts.ShotsFile, "system"), map[string]string{
			"VisualStyle":    orDefault(persona.VisualStyle, "cinematic, high detail"),
			"NegativePrompt": orDefault(persona.NegativePrompt, "blurry, low quality, text, watermark"),
		})},
		{Role: llm.RoleUser, Content: prompts.Format(prompts.MustGet(prompts.ShotsFile, "user"), map[string]string{
			"Script": script,
		})},
	}

	resp, err := client.Chat(ctx, messages)
	switch {
	case llm.IsParseError(err):
		return fallbackChain(script, persona), nil
	case err != nil:
		return nil, fmt.Errorf("create prompt chain: %w", err)
	}

	chain, ok := parseShots(resp.Content, persona)
	if !ok {
		return fallbackChain(script, persona), nil
	}
	return chain, nil
}

func parseShots(text string, persona *types.Persona) ([]types.PromptChainItem, bool) {
	object, ok := llm.ExtractJSONObject(llm.CleanJSONBlock(text))
	if !ok {
		return nil, false
	}
	if err := schemas.Validate(schemas.Shots, []byte(object)); err != nil {
		return nil, false
	}
	var list shotList
	if err := json.Unmarshal([]byte(object), &list); err != nil {
		return nil, false
	}

	chain := make([]types.PromptChainItem, 0, len(list.Shots))
	for _, shot := range list.Shots {
		prompt := strings.TrimSpace(shot.ImagePrompt)
		if prompt == "" {
			continue
		}
		chain = append(chain, normalizeShot(len(chain), shot, prompt, persona))
	}
	return chain, len(chain) > 0
}

func normalizeShot(index int, shot rawShot, prompt string, persona *types.Persona) types.PromptChainItem {
	item := types.PromptChainItem{
		Index:           index,
		ImagePrompt:     prompt,
		NegativePrompt:  strings.TrimSpace(shot.NegativePrompt),
		DurationSeconds: shot.DurationSeconds,
		CameraMovement:  strings.TrimSpace(shot.CameraMovement),
		Narration:       strings.TrimSpace(shot.Narration),
		Transition:      strings.ToLower(strings.TrimSpace(shot.Transition)),
	}
	if item.DurationSeconds <= 0 {
		item.DurationSeconds = DefaultShotSeconds
	}
	if item.Transition == "" {
		item.Transition = DefaultTransition
	}
	if item.NegativePrompt == "" {
		item.NegativePrompt = persona.NegativePrompt
	}
	return item
}

// fallbackChain covers the whole script with one shot.
func fallbackChain(script string, persona *types.Persona) []types.PromptChainItem {
	script = strings.TrimSpace(script)
	prompt := script
	if runes := []rune(prompt); len(runes) > fallbackPromptMaxRunes {
		prompt = string(runes[:fallbackPromptMaxRunes])
	}
	if prompt == "" {
		prompt = persona.Name
	}
	return []types.PromptChainItem{{
		Index:           0,
		ImagePrompt:     prompt,
		NegativePrompt:  persona.NegativePrompt,
		DurationSeconds: FallbackShotSeconds,
		Narration:       script,
		Transition:      DefaultTransition,
	}}
}

// EnhancePrompt returns the image prompt conditioned on the persona: the embedding
// token first, then the shot prompt verbatim, then the visual style.
func EnhancePrompt(item types.PromptChainItem, persona *types.Persona) string {
	if persona == nil {
		return item.ImagePrompt
	}
	parts := make([]string, 0, 3)
	if ref := strings.TrimSpace(persona.EmbeddingRef); ref != "" {
		parts = append(parts, ref)
	}
	parts = append(parts, item.ImagePrompt)
	if style := strings.TrimSpace(persona.VisualStyle); style != "" {
		parts = append(parts, style)
	}
	return strings.Join(parts, ", ")
}

// TotalDuration sums the shot durations in seconds.
func TotalDuration(chain []types.PromptChainItem) float64 {
	var total float64
	for _, item := range chain {
		total += item.DurationSeconds
	}
	return total
}

func orDefault(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
