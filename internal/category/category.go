// Package category classifies device files by extension.
package category

import (
	"fmt"
	"path"
	"sort"
	"strings"
)

// Category is the coarse kind of a device file.
type Category int

const (
	Other Category = iota
	Media
	Document
	Package
)

var names = [...]string{
	Other:    "other",
	Media:    "media",
	Document: "document",
	Package:  "package",
}

func (c Category) String() string {
	if int(c) >= 0 && int(c) < len(names) {
		return names[c]
	}
	return "unknown"
}

// Parse converts a category name (case-insensitive) into a Category.
// "documents" and "apk" are accepted as aliases.
func Parse(s string) (Category, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "media":
		return Media, nil
	case "document", "documents":
		return Document, nil
	case "package", "packages", "apk":
		return Package, nil
	case "other":
		return Other, nil
	default:
		return Other, fmt.Errorf("unknown category %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (c Category) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Category) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Rules maps lower-case extensions (with the leading dot) to categories.
type Rules struct {
	byExt map[string]Category
}

var defaultTable = map[Category][]string{
	Media: {
		".jpg", ".jpeg", ".png", ".gif", ".webp", ".heic", ".heif", ".bmp",
		".raw", ".cr2", ".nef", ".arw", ".dng",
		".mp4", ".mkv", ".avi", ".mov", ".wmv", ".flv", ".webm", ".3gp", ".m4v",
		".mp3", ".m4a", ".aac", ".ogg", ".opus", ".flac", ".wav", ".amr",
	},
	Document: {
		".pdf", ".doc", ".docx", ".xls", ".xlsx", ".ppt", ".pptx", ".txt",
		".odt", ".ods", ".odp", ".rtf", ".csv", ".md", ".json", ".xml",
		".html", ".htm", ".epub",
	},
	Package: {".apk", ".xapk", ".apkm", ".apks", ".obb"},
}

// DefaultRules returns the built-in extension table.
func DefaultRules() *Rules {
	r := &Rules{byExt: make(map[string]Category)}
	for cat, exts := range defaultTable {
		for _, ext := range exts {
			r.byExt[ext] = cat
		}
	}
	return r
}

// Set maps ext to cat, overriding any previous mapping. ext may be given
// with or without the leading dot.
func (r *Rules) Set(ext string, cat Category) {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext == "" {
		return
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	r.byExt[ext] = cat
}

// Classify returns the category of a file name or path.
func (r *Rules) Classify(name string) Category {
	ext := strings.ToLower(path.Ext(name))
	if ext == "" {
		return Other
	}
	if cat, ok := r.byExt[ext]; ok {
		return cat
	}
	return Other
}

// Extensions returns the sorted extensions mapped to cat.
func (r *Rules) Extensions(cat Category) []string {
	var out []string
	for ext, c := range r.byExt {
		if c == cat {
			out = append(out, ext)
		}
	}
	sort.Strings(out)
	return out
}

// Set is a selection of categories. The zero value selects everything.
type Set map[Category]bool

// ParseSet parses a list of category names. An empty list selects all.
func ParseSet(list []string) (Set, error) {
	s := Set{}
	for _, item := range list {
		for _, part := range strings.Split(item, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			cat, err := Parse(part)
			if err != nil {
				return nil, err
			}
			s[cat] = true
		}
	}
	return s, nil
}

// Has reports whether cat is selected.
func (s Set) Has(cat Category) bool {
	if len(s) == 0 {
		return true
	}
	return s[cat]
}
