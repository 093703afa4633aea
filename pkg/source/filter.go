package source

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

// SourceFilter decides which sentiment sources are recorded. Sources are
// matched lowercased against glob patterns such as "twitter*" or "*bot*".
type SourceFilter struct {
	allowedPatterns []glob.Glob
	ignoredPatterns []glob.Glob
}

// NewSourceFilter compiles the allow and ignore patterns.
func NewSourceFilter(allowed, ignored []string) (*SourceFilter, error) {
	f := &SourceFilter{}

	for _, pattern := range allowed {
		g, err := glob.Compile(strings.ToLower(pattern))
		if err != nil {
			return nil, fmt.Errorf("invalid allowed source pattern '%s': %w", pattern, err)
		}
		f.allowedPatterns = append(f.allowedPatterns, g)
	}

	for _, pattern := range ignored {
		g, err := glob.Compile(strings.ToLower(pattern))
		if err != nil {
			return nil, fmt.Errorf("invalid ignored source pattern '%s': %w", pattern, err)
		}
		f.ignoredPatterns = append(f.ignoredPatterns, g)
	}

	return f, nil
}

// Allows reports whether readings from source should be recorded. A nil
// filter allows everything.
func (f *SourceFilter) Allows(source string) bool {
	if f == nil {
		return true
	}
	source = strings.ToLower(strings.TrimSpace(source))

	// Ignore patterns take precedence
	for _, pattern := range f.ignoredPatterns {
		if pattern.Match(source) {
			return false
		}
	}

	if len(f.allowedPatterns) == 0 {
		return true
	}
	for _, pattern := range f.allowedPatterns {
		if pattern.Match(source) {
			return true
		}
	}
	return false
}
