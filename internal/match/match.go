// Package match evaluates include/exclude glob patterns against filesystem
// entries.
package match

import (
	"path"

	"github.com/bmatcuk/doublestar/v4"
)

// Matcher decides whether a file belongs in a backup. A file is eligible
// when it matches at least one include pattern and no exclude pattern;
// exclude always wins over include.
type Matcher struct {
	include []string
	exclude []string
}

func New(include, exclude []string) *Matcher {
	return &Matcher{include: include, exclude: exclude}
}

// Eligible reports whether the file at relPath (slash-separated, relative to
// the collection root) should be backed up. Patterns are tried against both
// the base name and the full relative path, so "*.db" and "cache/**" both
// behave as an operator would expect.
func (m *Matcher) Eligible(relPath string) bool {
	return m.anyMatch(m.include, relPath) && !m.anyMatch(m.exclude, relPath)
}

func (m *Matcher) anyMatch(patterns []string, relPath string) bool {
	base := path.Base(relPath)
	for _, pattern := range patterns {
		if ok, err := doublestar.Match(pattern, base); err == nil && ok {
			return true
		}
		if ok, err := doublestar.Match(pattern, relPath); err == nil && ok {
			return true
		}
	}
	return false
}
