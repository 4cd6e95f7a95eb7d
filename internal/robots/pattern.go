package robots

import "strings"

type segmentKind int

const (
	literalSegment segmentKind = iota
	wildcardSegment
)

type segment struct {
	kind segmentKind
	text string
}

// agentPattern is a compiled User-agent value. Matching is a
// case-insensitive "found anywhere" search where '*' spans any run of
// characters, including none.
type agentPattern struct {
	raw      string
	key      string
	segments []segment
}

func compileAgentPattern(raw string) agentPattern {
	folded := strings.ToLower(raw)
	p := agentPattern{raw: raw, key: folded}
	for i, part := range strings.Split(folded, "*") {
		if i > 0 && (len(p.segments) == 0 || p.segments[len(p.segments)-1].kind != wildcardSegment) {
			p.segments = append(p.segments, segment{kind: wildcardSegment})
		}
		if part != "" {
			p.segments = append(p.segments, segment{kind: literalSegment, text: part})
		}
	}
	return p
}

// foundIn reports whether the pattern occurs somewhere in target.
// Literals are located left to right at their earliest position, which is
// enough because wildcards between them accept anything.
func (p agentPattern) foundIn(target string) bool {
	rest := strings.ToLower(target)
	for _, seg := range p.segments {
		if seg.kind == wildcardSegment {
			continue
		}
		idx := strings.Index(rest, seg.text)
		if idx < 0 {
			return false
		}
		rest = rest[idx+len(seg.text):]
	}
	return true
}

// specificity ranks matches. The catch-all "*" always ranks lowest.
func (p agentPattern) specificity() int {
	if p.raw == Wildcard {
		return 0
	}
	return len(p.raw)
}
