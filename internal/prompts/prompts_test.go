package prompts

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validPrompts = `[
  {
    "name": "summary",
    "outputColumn": "summary",
    "template": "Summarize {title}",
    "active": true
  },
  {
    "name": "caption",
    "outputColumn": "caption",
    "template": "Caption {image}",
    "active": false,
    "provider": "anthropic",
    "visionEnabled": true,
    "visionModel": "claude-3-5-sonnet-latest"
  }
]`

func TestParse(t *testing.T) {
	list, err := Parse([]byte(validPrompts))
	require.NoError(t, err)
	require.Len(t, list, 2)

	assert.Equal(t, "summary", list[0].Name)
	assert.True(t, list[0].Active)
	assert.Equal(t, "anthropic", list[1].Provider)
	assert.True(t, list[1].VisionEnabled)
}

func TestParseRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"missing template", `[{"name": "x", "outputColumn": "y"}]`},
		{"empty name", `[{"name": "", "outputColumn": "y", "template": "z"}]`},
		{"unknown field", `[{"name": "x", "outputColumn": "y", "template": "z", "extra": 1}]`},
		{"unknown provider", `[{"name": "x", "outputColumn": "y", "template": "z", "provider": "bard"}]`},
		{"empty list", `[]`},
		{"not an array", `{"name": "x"}`},
		{"not json", `prompts!`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.raw))
			assert.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.json")
	require.NoError(t, os.WriteFile(path, []byte(validPrompts), 0o644))

	list, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestActive(t *testing.T) {
	list, err := Parse([]byte(validPrompts))
	require.NoError(t, err)

	active := Active(list)
	require.Len(t, active, 1)
	assert.Equal(t, "summary", active[0].Name)
}
