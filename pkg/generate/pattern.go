package generate

import (
	"fmt"
	"regexp"
	"regexp/syntax"
	"strings"
)

const patternDepthLimit = 64

// fromPattern synthesizes a string matching the pattern by walking its
// parsed syntax tree. JSON Schema pattern semantics are unanchored, so the
// verification at the end is a substring match.
func (g *Generator) fromPattern(pattern string) (string, error) {
	re, err := syntax.Parse(pattern, syntax.Perl)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	if err := g.emitPattern(re, &b, 0); err != nil {
		return "", err
	}
	out := b.String()
	ok, err := regexp.MatchString(pattern, out)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("synthesized %q does not match", out)
	}
	return out, nil
}

func (g *Generator) emitPattern(re *syntax.Regexp, b *strings.Builder, depth int) error {
	if depth > patternDepthLimit {
		return fmt.Errorf("pattern nesting exceeds %d levels", patternDepthLimit)
	}
	switch re.Op {
	case syntax.OpLiteral:
		b.WriteString(string(re.Rune))
	case syntax.OpCharClass:
		r, err := g.classRune(re)
		if err != nil {
			return err
		}
		b.WriteRune(r)
	case syntax.OpAnyChar, syntax.OpAnyCharNotNL:
		b.WriteByte(letters[g.rng.Intn(len(letters))])
	case syntax.OpStar:
		return g.repeatPattern(re.Sub[0], b, depth, g.rng.Intn(3))
	case syntax.OpPlus:
		return g.repeatPattern(re.Sub[0], b, depth, 1+g.rng.Intn(3))
	case syntax.OpQuest:
		return g.repeatPattern(re.Sub[0], b, depth, g.rng.Intn(2))
	case syntax.OpRepeat:
		hi := re.Max
		if hi < 0 || hi > re.Min+2 {
			hi = re.Min + 2
		}
		n := re.Min
		if hi > re.Min {
			n += g.rng.Intn(hi - re.Min + 1)
		}
		return g.repeatPattern(re.Sub[0], b, depth, n)
	case syntax.OpConcat:
		for _, sub := range re.Sub {
			if err := g.emitPattern(sub, b, depth+1); err != nil {
				return err
			}
		}
	case syntax.OpAlternate:
		return g.emitPattern(re.Sub[g.rng.Intn(len(re.Sub))], b, depth+1)
	case syntax.OpCapture:
		return g.emitPattern(re.Sub[0], b, depth+1)
	case syntax.OpBeginLine, syntax.OpEndLine, syntax.OpBeginText, syntax.OpEndText,
		syntax.OpWordBoundary, syntax.OpNoWordBoundary, syntax.OpEmptyMatch:
		// zero width
	default:
		return fmt.Errorf("unsupported pattern construct %v", re.Op)
	}
	return nil
}

func (g *Generator) repeatPattern(sub *syntax.Regexp, b *strings.Builder, depth, n int) error {
	for i := 0; i < n; i++ {
		if err := g.emitPattern(sub, b, depth+1); err != nil {
			return err
		}
	}
	return nil
}

// classRune picks a rune from a character class, preferring printable ASCII
// so parameter values stay transportable.
func (g *Generator) classRune(re *syntax.Regexp) (rune, error) {
	type span struct{ lo, hi rune }
	var printable, all []span
	for i := 0; i+1 < len(re.Rune); i += 2 {
		lo, hi := re.Rune[i], re.Rune[i+1]
		all = append(all, span{lo, hi})
		if lo < 0x20 {
			lo = 0x20
		}
		if hi > 0x7e {
			hi = 0x7e
		}
		if lo <= hi {
			printable = append(printable, span{lo, hi})
		}
	}
	pool := printable
	if len(pool) == 0 {
		pool = all
	}
	if len(pool) == 0 {
		return 0, fmt.Errorf("empty character class")
	}
	s := pool[g.rng.Intn(len(pool))]
	return s.lo + rune(g.rng.Int63n(int64(s.hi-s.lo+1))), nil
}
