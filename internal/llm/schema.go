// Package llm - schema.go renders the expected JSON output shape into prompts.
package llm

import (
	"fmt"
	"strings"
)

// OutputSchema describes the JSON object a prompt asks the model to return.
type OutputSchema struct {
	Name   string        // Schema name (e.g., "Script", "ShotList")
	Fields []SchemaField // Expected output fields
}

// SchemaField defines a single field in the expected output.
type SchemaField struct {
	Name        string // JSON field name
	Type        string // Type hint rendered verbatim, e.g. "\"string\"" or "[\"string\"]"
	Description string // Description for the LLM
	Required    bool   // Whether this field is required
}

// Render returns the "Return ONLY valid JSON" block appended to system prompts.
func (s OutputSchema) Render() string {
	var sb strings.Builder

	sb.WriteString("Return ONLY valid JSON matching this exact structure:\n{\n")
	for i, field := range s.Fields {
		typeHint := field.Type
		if typeHint == "" {
			typeHint = "\"string\""
		}
		requiredHint := ""
		if field.Required {
			requiredHint = " (required)"
		}
		sb.WriteString(fmt.Sprintf("  \"%s\": %s%s", field.Name, typeHint, requiredHint))
		if field.Description != "" {
			sb.WriteString(fmt.Sprintf(" // %s", field.Description))
		}
		if i < len(s.Fields)-1 {
			sb.WriteString(",")
		}
		sb.WriteString("\n")
	}
	sb.WriteString("}\n")
	sb.WriteString("Return ONLY the JSON object, no markdown, no explanation.\n")

	return sb.String()
}
