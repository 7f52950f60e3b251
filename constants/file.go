package constants

import "strings"

// DatasetExtensions holds the file extensions accepted by the dataset loader.
var DatasetExtensions = map[string]struct{}{
	"csv":  {},
	"xlsx": {},
}

// ImageExtensions holds the extensions a substituted value must end with to be
// treated as an image reference in vision mode.
var ImageExtensions = map[string]struct{}{
	"jpg":  {},
	"jpeg": {},
	"png":  {},
	"gif":  {},
	"webp": {},
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}
