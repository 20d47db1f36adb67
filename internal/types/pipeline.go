// Package types provides type definitions for structured data used throughout the content pipeline.
package types

import (
	"fmt"
	"strconv"
	"strings"
)

// Pipeline is a reusable content-generation configuration.
type Pipeline struct {
	ID           string        `json:"id" yaml:"id"`
	Name         string        `json:"name" yaml:"name" validate:"required"`
	PersonaID    string        `json:"persona_id,omitempty" yaml:"persona_id"`
	WorkflowID   string        `json:"workflow_id,omitempty" yaml:"workflow_id"`
	OutputFormat string        `json:"output_format,omitempty" yaml:"output_format" validate:"omitempty,oneof=mp4 webm gif manifest"`
	Resolution   string        `json:"resolution,omitempty" yaml:"resolution"`
	DefaultTopic string        `json:"default_topic,omitempty" yaml:"default_topic"`
	Script       ScriptOptions `json:"script_options" yaml:"script_options"`
}

// ScriptOptions shape the generated script.
type ScriptOptions struct {
	TargetSeconds       int    `json:"target_seconds,omitempty" yaml:"target_seconds" validate:"gte=0,lte=600"`
	Tone                string `json:"tone,omitempty" yaml:"tone"`
	IncludeHook         bool   `json:"include_hook,omitempty" yaml:"include_hook"`
	IncludeCallToAction bool   `json:"include_call_to_action,omitempty" yaml:"include_call_to_action"`
}

// Dimensions parses Resolution ("1280x720") into width and height.
// An empty resolution yields the 1024x1024 default.
func (p *Pipeline) Dimensions() (int, int, error) {
	if strings.TrimSpace(p.Resolution) == "" {
		return 1024, 1024, nil
	}
	parts := strings.Split(strings.ToLower(p.Resolution), "x")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid resolution %q", p.Resolution)
	}
	w, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || w <= 0 {
		return 0, 0, fmt.Errorf("invalid resolution width %q", p.Resolution)
	}
	h, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil || h <= 0 {
		return 0, 0, fmt.Errorf("invalid resolution height %q", p.Resolution)
	}
	return w, h, nil
}

// Persona is a reusable content voice that conditions both text and image generation.
type Persona struct {
	ID             string   `json:"id" yaml:"id"`
	Name           string   `json:"name" yaml:"name" validate:"required"`
	Traits         []string `json:"traits,omitempty" yaml:"traits"`
	WritingStyle   string   `json:"writing_style,omitempty" yaml:"writing_style"`
	TopicFocus     []string `json:"topic_focus,omitempty" yaml:"topic_focus"`
	VisualStyle    string   `json:"visual_style,omitempty" yaml:"visual_style"`
	NegativePrompt string   `json:"negative_prompt,omitempty" yaml:"negative_prompt"`
	EmbeddingRef   string   `json:"embedding_ref,omitempty" yaml:"embedding_ref"`
}
