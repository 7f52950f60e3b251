package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpand(t *testing.T) {
	tests := []struct {
		name     string
		tmpl     string
		row      map[string]string
		outputs  map[string]string
		wantText string
		wantMiss bool
	}{
		{
			name:     "substitutes row values",
			tmpl:     "Summarize {title} by {author}",
			row:      map[string]string{"title": "Dune", "author": "Herbert"},
			wantText: "Summarize Dune by Herbert",
		},
		{
			name:     "output column wins over row column",
			tmpl:     "Refine: {summary}",
			row:      map[string]string{"summary": "stale"},
			outputs:  map[string]string{"summary": "fresh"},
			wantText: "Refine: fresh",
		},
		{
			name:     "unknown placeholder passes through literally",
			tmpl:     "Value is {missing} for {title}",
			row:      map[string]string{"title": "Dune"},
			wantText: "Value is {missing} for Dune",
		},
		{
			name:     "all values empty marks expansion empty",
			tmpl:     "Describe {a} and {b}",
			row:      map[string]string{"a": "", "b": ""},
			wantText: "Describe  and ",
			wantMiss: true,
		},
		{
			name:     "no placeholders at all is empty",
			tmpl:     "static prompt",
			row:      map[string]string{"a": "x"},
			wantText: "static prompt",
			wantMiss: true,
		},
		{
			name:     "one non-empty value is enough",
			tmpl:     "{a}{b}",
			row:      map[string]string{"a": "", "b": "x"},
			wantText: "x",
			wantMiss: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Expand(tt.tmpl, tt.row, tt.outputs, false)
			assert.Equal(t, tt.wantText, got.Text)
			assert.Equal(t, tt.wantMiss, got.Empty)
		})
	}
}

func TestExpandCollectsImages(t *testing.T) {
	row := map[string]string{
		"photos": "https://cdn.example.com/a.jpg\nhttps://cdn.example.com/b.png",
		"note":   "not a url",
	}
	got := Expand("Look at {photos} and {note}", row, nil, true)
	require.Len(t, got.Images, 2)
	assert.Equal(t, "https://cdn.example.com/a.jpg", got.Images[0])
	assert.Equal(t, "https://cdn.example.com/b.png", got.Images[1])

	// vision off means no image scan at all
	got = Expand("Look at {photos}", row, nil, false)
	assert.Empty(t, got.Images)
}

func TestExtractImageURLs(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  []string
	}{
		{
			name:  "comma and semicolon separated",
			value: "https://x.io/a.png, https://x.io/b.webp ; https://x.io/c.gif",
			want:  []string{"https://x.io/a.png", "https://x.io/b.webp", "https://x.io/c.gif"},
		},
		{
			name:  "non-image and non-http fragments dropped",
			value: "https://x.io/doc.pdf\nftp://x.io/a.png\nplain text\nhttps://x.io/ok.jpeg",
			want:  []string{"https://x.io/ok.jpeg"},
		},
		{
			name:  "extension check ignores query string",
			value: "https://x.io/a.jpg?width=300",
			want:  []string{"https://x.io/a.jpg?width=300"},
		},
		{
			name:  "nothing usable",
			value: "no urls here",
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractImageURLs(tt.value))
		})
	}
}
