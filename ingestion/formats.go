// Package ingestion selects data files under a source folder, decides which of
// them changed since the previous run and parses the ones that did.
package ingestion

import (
	"path/filepath"
	"sort"
	"strings"
)

// Format enumerates supported data file formats.
type Format string

const (
	// FormatUnknown represents an unsupported or undetected format.
	FormatUnknown Format = ""
	// FormatCSV represents comma separated tabular files.
	FormatCSV Format = "csv"
	// FormatXML represents hierarchical markup files.
	FormatXML Format = "xml"
)

// DetectFormat infers a format from the provided path's extension.
func DetectFormat(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return FormatCSV
	case ".xml":
		return FormatXML
	default:
		return FormatUnknown
	}
}

// NormalizeExtensions lower-cases extension tokens, adds the leading dot when
// missing and drops blanks and duplicates. The result is sorted.
func NormalizeExtensions(exts []string) []string {
	seen := make(map[string]struct{}, len(exts))
	out := make([]string, 0, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" || ext == "." {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		if _, ok := seen[ext]; ok {
			continue
		}
		seen[ext] = struct{}{}
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}
