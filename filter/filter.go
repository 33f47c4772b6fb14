package filter

import (
	"fmt"
	"path"
	"strings"

	"github.com/gobwas/glob"
)

// Options captures the filtering configuration.
type Options struct {
	Include []string
	Exclude []string
}

// Filter holds compiled glob patterns for filtering walked paths.
type Filter struct {
	includeMode bool
	excludeMode bool
	include     []glob.Glob
	exclude     []glob.Glob
}

// New creates a new Filter from the provided options.
func New(opts Options) (*Filter, error) {
	include, err := compilePatterns(opts.Include)
	if err != nil {
		return nil, fmt.Errorf("compile include pattern: %w", err)
	}
	exclude, err := compilePatterns(opts.Exclude)
	if err != nil {
		return nil, fmt.Errorf("compile exclude pattern: %w", err)
	}

	if len(include) > 0 && len(exclude) > 0 {
		return nil, fmt.Errorf("include and exclude filters are mutually exclusive")
	}

	return &Filter{
		includeMode: len(include) > 0,
		excludeMode: len(exclude) > 0,
		include:     include,
		exclude:     exclude,
	}, nil
}

// Active reports whether any pattern was configured.
func (f *Filter) Active() bool {
	return f != nil && (f.includeMode || f.excludeMode)
}

// Allows returns true if relPath, a slash separated path relative to the
// walk root, passes the filter criteria. A nil Filter allows everything.
func (f *Filter) Allows(relPath string) bool {
	if f == nil {
		return true
	}
	relPath = strings.TrimPrefix(path.Clean(strings.ReplaceAll(relPath, "\\", "/")), "./")

	if f.includeMode {
		return matchAny(f.include, relPath)
	}

	if f.excludeMode {
		if matchAny(f.exclude, relPath) {
			return false
		}
	}

	return true
}

func compilePatterns(patterns []string) ([]glob.Glob, error) {
	compiled := make([]glob.Glob, 0, len(patterns))
	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, fmt.Errorf("compile %q: %w", pattern, err)
		}
		compiled = append(compiled, g)

		// "**/x" must match "x" at the root too.
		if rest, ok := strings.CutPrefix(pattern, "**/"); ok && rest != "" {
			g, err := glob.Compile(rest, '/')
			if err != nil {
				return nil, fmt.Errorf("compile %q: %w", pattern, err)
			}
			compiled = append(compiled, g)
		}
	}
	return compiled, nil
}

func matchAny(patterns []glob.Glob, text string) bool {
	if len(patterns) == 0 {
		return false
	}
	for _, g := range patterns {
		if g.Match(text) {
			return true
		}
	}
	return false
}
