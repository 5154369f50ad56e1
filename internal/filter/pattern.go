package filter

import (
	"regexp"
	"strings"
)

type compiledPattern struct {
	re       *regexp.Regexp
	original string
	dirOnly  bool
}

func compilePattern(pattern string, foldCase bool) (*compiledPattern, error) {
	cp := &compiledPattern{original: pattern}

	body := pattern
	if strings.HasSuffix(body, "/") {
		cp.dirOnly = true
		body = strings.TrimSuffix(body, "/")
	}

	anchored := strings.Contains(body, "/")
	body = strings.TrimPrefix(body, "/")

	var b strings.Builder
	if foldCase {
		b.WriteString("(?i)")
	}
	if anchored {
		b.WriteString("^")
	} else {
		b.WriteString("(^|/)")
	}
	b.WriteString(globToRegex(body))
	b.WriteString("$")

	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, err
	}
	cp.re = re
	return cp, nil
}

func (cp *compiledPattern) match(relPath string, isDir bool) bool {
	if cp.dirOnly && !isDir {
		return false
	}
	return cp.re.MatchString(relPath)
}

// globToRegex translates *, **, ? and [...] classes; everything else is
// matched literally.
func globToRegex(glob string) string {
	var b strings.Builder
	for i := 0; i < len(glob); {
		switch c := glob[i]; c {
		case '*':
			n := starRun(glob[i:])
			switch {
			case n >= 2 && i+n < len(glob) && glob[i+n] == '/':
				b.WriteString("(.*/)?")
				i += n + 1
			case n >= 2:
				b.WriteString(".*")
				i += n
			default:
				b.WriteString("[^/]*")
				i++
			}
		case '?':
			b.WriteString("[^/]")
			i++
		case '[':
			cls, width := charClass(glob[i:])
			if width == 0 {
				b.WriteString(`\[`)
				i++
				continue
			}
			b.WriteString(cls)
			i += width
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
			i++
		}
	}
	return b.String()
}

func starRun(s string) int {
	n := 0
	for n < len(s) && s[n] == '*' {
		n++
	}
	return n
}

// charClass converts a leading [...] glob class into regex syntax and
// returns how many bytes it consumed, or 0 if the class is unterminated.
func charClass(s string) (string, int) {
	j := 1
	if j < len(s) && s[j] == '!' {
		j++
	}
	if j < len(s) && s[j] == ']' {
		j++
	}
	for j < len(s) && s[j] != ']' {
		j++
	}
	if j >= len(s) {
		return "", 0
	}
	inner := s[1:j]
	if strings.HasPrefix(inner, "!") {
		inner = "^" + inner[1:]
	}
	inner = strings.ReplaceAll(inner, `\`, `\\`)
	return "[" + inner + "]", j + 1
}
