package scanner

import (
	"bufio"
	"io"
	"path"
	"strings"
)

// IgnorePattern is one gitignore style line of a .pystructignore file
type IgnorePattern struct {
	pattern  string
	negate   bool
	dirOnly  bool
	anchored bool
	// base is the slash separated directory holding the ignore file, "" for the root
	base     string
	segments []string
}

// ParseIgnorePattern parses one pattern declared in the ignore file of base
func ParseIgnorePattern(line, base string) IgnorePattern {
	p := IgnorePattern{pattern: line, base: strings.Trim(base, "/")}
	if strings.HasPrefix(line, "!") {
		p.negate = true
		line = line[1:]
	}
	if strings.HasSuffix(line, "/") {
		p.dirOnly = true
		line = strings.TrimSuffix(line, "/")
	}
	// a slash anywhere but the end anchors the pattern to its base
	if strings.Contains(line, "/") {
		p.anchored = true
		line = strings.TrimPrefix(line, "/")
	}
	p.segments = strings.Split(line, "/")
	return p
}

// ParseIgnoreFile reads patterns line by line, skipping blanks and comments
func ParseIgnoreFile(r io.Reader, base string) ([]IgnorePattern, error) {
	var patterns []IgnorePattern
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, ParseIgnorePattern(line, base))
	}
	return patterns, sc.Err()
}

// IsNegation reports whether the pattern re-includes paths
func (p IgnorePattern) IsNegation() bool {
	return p.negate
}

func (p IgnorePattern) String() string {
	return p.pattern
}

// Match reports whether a root relative slash path matches the pattern
func (p IgnorePattern) Match(rel string, isDir bool) bool {
	if p.dirOnly && !isDir {
		return false
	}
	if p.base != "" {
		if !strings.HasPrefix(rel, p.base+"/") {
			return false
		}
		rel = strings.TrimPrefix(rel, p.base+"/")
	}
	parts := strings.Split(rel, "/")
	if p.anchored {
		return matchSegments(p.segments, parts)
	}
	// an unanchored pattern may match at any depth
	for i := range parts {
		if matchSegments(p.segments, parts[i:]) {
			return true
		}
	}
	return false
}

// matchSegments matches pattern segments against path segments; "**" spans
// any number of segments.
func matchSegments(pattern, parts []string) bool {
	if len(pattern) == 0 {
		return len(parts) == 0
	}
	if pattern[0] == "**" {
		for i := 0; i <= len(parts); i++ {
			if matchSegments(pattern[1:], parts[i:]) {
				return true
			}
		}
		return false
	}
	if len(parts) == 0 {
		return false
	}
	ok, err := path.Match(pattern[0], parts[0])
	if err != nil || !ok {
		return false
	}
	return matchSegments(pattern[1:], parts[1:])
}

// ignored applies patterns in order so later negations win over earlier matches
func ignored(rel string, isDir bool, patterns []IgnorePattern) bool {
	out := false
	for _, p := range patterns {
		if p.Match(rel, isDir) {
			out = !p.IsNegation()
		}
	}
	return out
}
