package prompts

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/promptsheet/promptsheet/constants"
)

// Prompt is a user-defined template producing one output column. A later
// prompt may reference an earlier prompt's output column in its template.
type Prompt struct {
	Name          string   `json:"name"`
	OutputColumn  string   `json:"outputColumn"`
	Template      string   `json:"template"`
	Active        bool     `json:"active"`
	// Provider optionally pins this prompt to one backend; empty means the
	// run default.
	Provider      string   `json:"provider,omitempty"`
	VisionEnabled bool     `json:"visionEnabled,omitempty"`
	VisionModel   string   `json:"visionModel,omitempty"`
	DependsOn     []string `json:"dependsOn,omitempty"`
}

// Load reads a prompt list from a JSON file, validating it against the prompt
// schema before unmarshaling.
func Load(path string) ([]Prompt, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompts file: %w", err)
	}
	return Parse(raw)
}

// Parse validates and decodes a prompt list.
func Parse(raw []byte) ([]Prompt, error) {
	if err := ValidateJSONAgainstSchema(BuildPromptsJSONSchema(), raw); err != nil {
		return nil, err
	}
	var list []Prompt
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("unmarshal prompts: %w", err)
	}
	return list, nil
}

// Active filters to the prompts that should run, preserving user order.
func Active(list []Prompt) []Prompt {
	var out []Prompt
	for _, p := range list {
		if p.Active {
			out = append(out, p)
		}
	}
	return out
}

// BuildPromptsJSONSchema returns a JSON-Schema (draft 2020-12 subset) as a generic map.
// We validate prompt files locally before a run so a malformed entry fails fast
// instead of mid-dataset.
func BuildPromptsJSONSchema() map[string]any {
	var providerNames []string
	for _, p := range constants.Providers {
		providerNames = append(providerNames, string(p))
	}

	item := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"name":          map[string]any{"type": "string", "minLength": 1},
			"outputColumn":  map[string]any{"type": "string", "minLength": 1},
			"template":      map[string]any{"type": "string", "minLength": 1},
			"provider":      map[string]any{"type": "string", "enum": providerNames},
			"active":        map[string]any{"type": "boolean"},
			"visionEnabled": map[string]any{"type": "boolean"},
			"visionModel":   map[string]any{"type": "string"},
			"dependsOn": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
		},
		"required": []string{"name", "outputColumn", "template"},
	}

	return map[string]any{
		"type":     "array",
		"minItems": 1,
		"items":    item,
	}
}
