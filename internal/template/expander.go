package template

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/promptsheet/promptsheet/constants"
)

// placeholderPattern matches {columnName} references. Column names are
// whatever the spreadsheet header held, minus braces.
var placeholderPattern = regexp.MustCompile(`\{([^{}]+)\}`)

// Expansion is the result of resolving a template against one row.
type Expansion struct {
	Text   string
	Images []string
	// Empty means no placeholder substituted a non-empty value; callers skip
	// dispatch for the row without consuming rate budget.
	Empty bool
}

// Expand resolves {column} placeholders in tmpl against row data. Values in
// outputs take precedence over row values with the same name, which is what
// lets a later prompt chain off an earlier prompt's output column. Unresolved
// placeholders pass through literally.
//
// When vision is true, every substituted value is also scanned for image URLs
// in order of appearance.
func Expand(tmpl string, row map[string]string, outputs map[string]string, vision bool) Expansion {
	substituted := false
	var images []string

	text := placeholderPattern.ReplaceAllStringFunc(tmpl, func(match string) string {
		name := match[1 : len(match)-1]

		value, ok := outputs[name]
		if !ok {
			value, ok = row[name]
		}
		if !ok {
			// column absent: keep the placeholder literally
			return match
		}
		if value != "" {
			substituted = true
			if vision {
				images = append(images, ExtractImageURLs(value)...)
			}
		}
		return value
	})

	return Expansion{
		Text:   text,
		Images: images,
		Empty:  !substituted,
	}
}

// ExtractImageURLs splits value on newlines, commas and semicolons and keeps
// the fragments that look like http(s) image URLs. Everything else is
// discarded from the image list but still counts toward the substituted text.
func ExtractImageURLs(value string) []string {
	var urls []string
	for _, fragment := range strings.FieldsFunc(value, func(r rune) bool {
		return r == '\n' || r == ',' || r == ';'
	}) {
		fragment = strings.TrimSpace(fragment)
		if isImageURL(fragment) {
			urls = append(urls, fragment)
		}
	}
	return urls
}

func isImageURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	path := u.Path
	i := strings.LastIndex(path, ".")
	if i < 0 {
		return false
	}
	_, ok := constants.ImageExtensions[constants.NormalizeExt(path[i:])]
	return ok
}
