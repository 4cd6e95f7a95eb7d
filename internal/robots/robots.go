// Package robots holds robots.txt rules and answers crawl permission and
// crawl-delay questions for a user agent.
//
// Rules are collected through a Builder and published as an immutable
// RobotsTxt, which is safe to share between goroutines.
package robots

import "slices"

type entry struct {
	pattern   agentPattern
	directive Directive
}

type pendingEntry struct {
	pattern   agentPattern
	directive *Directive
}

// Builder collects directives and sitemaps while a robots.txt body is read.
// A Builder is not safe for concurrent use.
type Builder struct {
	entries  []pendingEntry
	sitemaps []string
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// AddDirective registers d under its compiled User-agent pattern. A later
// directive with the same case-folded pattern replaces the earlier one and
// takes over its position. The directive is snapshotted by Build, so it may
// keep being filled in after it is added.
func (b *Builder) AddDirective(d *Directive) {
	if d == nil {
		return
	}
	pattern := compileAgentPattern(d.userAgent)
	for i := range b.entries {
		if b.entries[i].pattern.key == pattern.key {
			b.entries[i] = pendingEntry{pattern: pattern, directive: d}
			return
		}
	}
	b.entries = append(b.entries, pendingEntry{pattern: pattern, directive: d})
}

// AddSitemap appends url unless it is already listed.
func (b *Builder) AddSitemap(url string) {
	if !slices.Contains(b.sitemaps, url) {
		b.sitemaps = append(b.sitemaps, url)
	}
}

// Build publishes the collected rules. The Builder may be reused afterwards
// without affecting the returned value.
func (b *Builder) Build() *RobotsTxt {
	out := &RobotsTxt{
		entries:  make([]entry, len(b.entries)),
		sitemaps: slices.Clip(slices.Clone(b.sitemaps)),
	}
	for i, e := range b.entries {
		out.entries[i] = entry{pattern: e.pattern, directive: e.directive.clone()}
	}
	return out
}

// RobotsTxt is the read-only rule set of one robots.txt document.
// A nil *RobotsTxt allows everything.
type RobotsTxt struct {
	entries  []entry
	sitemaps []string
}

// MatchedDirective picks the directive that applies to userAgent. A
// directive applies when its pattern occurs anywhere in userAgent; the one
// with the longest raw User-agent wins, "*" counting as zero, and ties go
// to the earlier directive.
func (r *RobotsTxt) MatchedDirective(userAgent string) (Directive, bool) {
	if r == nil {
		return Directive{}, false
	}
	best := -1
	bestScore := -1
	for i, e := range r.entries {
		if !e.pattern.foundIn(userAgent) {
			continue
		}
		if score := e.pattern.specificity(); score > bestScore {
			best, bestScore = i, score
		}
	}
	if best < 0 {
		return Directive{}, false
	}
	return r.entries[best].directive.clone(), true
}

// Allows reports whether userAgent may fetch path. Missing rules allow.
func (r *RobotsTxt) Allows(path, userAgent string) bool {
	d, ok := r.MatchedDirective(userAgent)
	if !ok {
		return true
	}
	return d.Allows(path)
}

// CrawlDelay returns the crawl delay in seconds for userAgent, 0 if none.
func (r *RobotsTxt) CrawlDelay(userAgent string) int {
	d, ok := r.MatchedDirective(userAgent)
	if !ok {
		return 0
	}
	return d.CrawlDelay()
}

// ExactDirective looks a directive up by its literal User-agent value.
// The empty agent never matches.
func (r *RobotsTxt) ExactDirective(userAgent string) (Directive, bool) {
	if r == nil || userAgent == "" {
		return Directive{}, false
	}
	for _, e := range r.entries {
		if e.directive.userAgent == userAgent {
			return e.directive.clone(), true
		}
	}
	return Directive{}, false
}

// Sitemaps returns the Sitemap URLs in the order they were declared.
func (r *RobotsTxt) Sitemaps() []string {
	if r == nil {
		return nil
	}
	return slices.Clone(r.sitemaps)
}

// Directives returns every directive in declaration order.
func (r *RobotsTxt) Directives() []Directive {
	if r == nil {
		return nil
	}
	out := make([]Directive, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.directive.clone())
	}
	return out
}
