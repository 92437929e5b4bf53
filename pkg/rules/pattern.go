package rules

import (
	"fmt"
	"strconv"
	"strings"
)

// Path syntax, shared by patterns and the concrete paths the comparator
// produces: `$` root, `.key` object member, `[N]` array index. Patterns may
// use `.*` for any member and `[*]` for any index; a bare `$` addresses the
// whole body. Keys containing dots or brackets are not addressable.

type segKind int

const (
	segKey segKind = iota
	segIndex
	segAnyKey
	segAnyIndex
)

type segment struct {
	kind  segKind
	key   string
	index int
}

func parsePath(path string) ([]segment, error) {
	if !strings.HasPrefix(path, "$") {
		return nil, fmt.Errorf("path must start with $")
	}
	rest := path[1:]
	var segs []segment
	for len(rest) > 0 {
		switch rest[0] {
		case '.':
			rest = rest[1:]
			end := strings.IndexAny(rest, ".[")
			if end < 0 {
				end = len(rest)
			}
			key := rest[:end]
			if key == "" {
				return nil, fmt.Errorf("empty segment in %q", path)
			}
			if key == "*" {
				segs = append(segs, segment{kind: segAnyKey})
			} else {
				segs = append(segs, segment{kind: segKey, key: key})
			}
			rest = rest[end:]
		case '[':
			end := strings.IndexByte(rest, ']')
			if end < 0 {
				return nil, fmt.Errorf("unterminated index in %q", path)
			}
			idx := rest[1:end]
			if idx == "*" {
				segs = append(segs, segment{kind: segAnyIndex})
			} else {
				n, err := strconv.Atoi(idx)
				if err != nil || n < 0 {
					return nil, fmt.Errorf("bad index %q in %q", idx, path)
				}
				segs = append(segs, segment{kind: segIndex, index: n})
			}
			rest = rest[end+1:]
		default:
			return nil, fmt.Errorf("unexpected %q in %q", rest[0], path)
		}
	}
	// A bare "$" yields zero segments: the root itself, matching only the
	// whole body.
	return segs, nil
}

// matchSegments reports whether a pattern matches a concrete path. Lengths
// must agree; `.*` covers only object members and `[*]` only array indices.
func matchSegments(pattern, path []segment) bool {
	if len(pattern) != len(path) {
		return false
	}
	for i, p := range pattern {
		c := path[i]
		switch p.kind {
		case segKey:
			if c.kind != segKey || c.key != p.key {
				return false
			}
		case segIndex:
			if c.kind != segIndex || c.index != p.index {
				return false
			}
		case segAnyKey:
			if c.kind != segKey {
				return false
			}
		case segAnyIndex:
			if c.kind != segIndex {
				return false
			}
		}
	}
	return true
}
