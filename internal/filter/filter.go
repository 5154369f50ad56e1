// Package filter decides which device paths a scan lists or descends into.
//
// Patterns follow rsync conventions: a trailing slash restricts the rule to
// directories, a leading slash (or any inner slash) anchors it to the scan
// root, and first match wins.
package filter

import (
	"fmt"
	"strings"
)

// DefaultExcludes are pruned on every scan unless the chain is built empty.
// They hold per-app private data, caches and trash that either cannot be
// read over the link or are regenerated by the device.
var DefaultExcludes = []string{
	"Android/data/",
	"Android/obb/",
	".thumbnails/",
	".cache/",
	"cache/",
	".trash/",
	".Trash*/",
	"lost+found/",
}

// Rule is a single include or exclude rule.
type Rule struct {
	pattern *compiledPattern
	Include bool
}

// String renders the rule in filter-file syntax.
func (r Rule) String() string {
	if r.Include {
		return "+ " + r.pattern.original
	}
	return "- " + r.pattern.original
}

// Chain holds an ordered list of rules plus optional size bounds.
type Chain struct {
	rules    []Rule
	minSize  int64
	maxSize  int64
	foldCase bool
}

// Option configures a Chain.
type Option func(*Chain)

// FoldCase makes every pattern added afterwards match case-insensitively,
// as Android shared storage does.
func FoldCase() Option {
	return func(c *Chain) { c.foldCase = true }
}

// NewChain creates an empty chain.
func NewChain(opts ...Option) *Chain {
	c := &Chain{}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Default returns a chain preloaded with DefaultExcludes.
func Default(opts ...Option) *Chain {
	c := NewChain(opts...)
	for _, p := range DefaultExcludes {
		if err := c.AddExclude(p); err != nil {
			panic(fmt.Sprintf("filter: bad default pattern %q: %v", p, err))
		}
	}
	return c
}

// AddExclude appends an exclude rule.
func (c *Chain) AddExclude(pattern string) error {
	return c.add(pattern, false)
}

// AddInclude appends an include rule.
func (c *Chain) AddInclude(pattern string) error {
	return c.add(pattern, true)
}

// AddRule parses a single filter-file line ("+ pat", "- pat" or a bare
// pattern, which excludes). Blank lines and comments are ignored.
func (c *Chain) AddRule(line string) error {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return nil
	}
	switch {
	case strings.HasPrefix(line, "+ "):
		return c.AddInclude(strings.TrimSpace(line[2:]))
	case strings.HasPrefix(line, "- "):
		return c.AddExclude(strings.TrimSpace(line[2:]))
	default:
		return c.AddExclude(line)
	}
}

func (c *Chain) add(pattern string, include bool) error {
	if strings.TrimSpace(pattern) == "" {
		return fmt.Errorf("empty pattern")
	}
	cp, err := compilePattern(pattern, c.foldCase)
	if err != nil {
		return fmt.Errorf("pattern %q: %w", pattern, err)
	}
	c.rules = append(c.rules, Rule{pattern: cp, Include: include})
	return nil
}

// SetMinSize drops files smaller than n bytes.
func (c *Chain) SetMinSize(n int64) { c.minSize = n }

// SetMaxSize drops files larger than n bytes.
func (c *Chain) SetMaxSize(n int64) { c.maxSize = n }

// Empty reports whether the chain has no rules and no size bounds.
func (c *Chain) Empty() bool {
	return len(c.rules) == 0 && c.minSize == 0 && c.maxSize == 0
}

// Rules returns the rules in evaluation order, rendered as filter lines.
func (c *Chain) Rules() []string {
	out := make([]string, len(c.rules))
	for i, r := range c.rules {
		out[i] = r.String()
	}
	return out
}

// Match reports whether relPath (slash-separated, relative to the scan root)
// is kept. A directory that does not match is pruned without descent.
func (c *Chain) Match(relPath string, isDir bool, size int64) bool {
	if c == nil {
		return true
	}
	relPath = strings.TrimPrefix(relPath, "/")
	if !isDir && !c.sizeOK(size) {
		return false
	}
	for _, rule := range c.rules {
		if rule.pattern.match(relPath, isDir) {
			return rule.Include
		}
	}
	return true
}

func (c *Chain) sizeOK(size int64) bool {
	if c.minSize > 0 && size < c.minSize {
		return false
	}
	if c.maxSize > 0 && size > c.maxSize {
		return false
	}
	return true
}
