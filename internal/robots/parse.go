package robots

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// Parse reads a robots.txt body. Unknown or malformed lines are skipped;
// only read failures are reported.
func Parse(r io.Reader) (*RobotsTxt, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read robots.txt: %w", err)
	}
	return ParseString(string(body)), nil
}

// ParseString parses an in-memory robots.txt body.
func ParseString(body string) *RobotsTxt {
	body = strings.TrimPrefix(body, "\ufeff")
	body = strings.ReplaceAll(body, "\r\n", "\n")
	body = strings.ReplaceAll(body, "\r", "\n")
	p := &parser{builder: NewBuilder()}
	for _, line := range strings.Split(body, "\n") {
		p.line(line)
	}
	return p.builder.Build()
}

type parser struct {
	builder *Builder
	group   []*Directive
	// groupClosed is set once a rule line follows the User-agent lines.
	groupClosed bool
}

func (p *parser) line(raw string) {
	if idx := strings.IndexByte(raw, '#'); idx >= 0 {
		raw = raw[:idx]
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return
	}
	name, value, ok := strings.Cut(raw, ":")
	if !ok {
		return
	}
	name = strings.ToLower(strings.TrimSpace(name))
	value = strings.TrimSpace(value)

	switch name {
	case "user-agent":
		if p.groupClosed {
			p.group = nil
			p.groupClosed = false
		}
		d := NewDirective(value)
		p.builder.AddDirective(d)
		p.group = append(p.group, d)
	case "allow":
		p.groupClosed = true
		if value == "" {
			return
		}
		for _, d := range p.group {
			d.AddAllow(value)
		}
	case "disallow":
		p.groupClosed = true
		if value == "" {
			return
		}
		for _, d := range p.group {
			d.AddDisallow(value)
		}
	case "crawl-delay":
		p.groupClosed = true
		seconds, ok := parseDelay(value)
		if !ok {
			return
		}
		for _, d := range p.group {
			d.SetCrawlDelay(seconds)
		}
	case "sitemap":
		if value != "" {
			p.builder.AddSitemap(value)
		}
	}
}

func parseDelay(value string) (int, bool) {
	if n, err := strconv.Atoi(value); err == nil {
		return n, n >= 0
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil || f < 0 || math.IsNaN(f) || math.IsInf(f, 0) || f > math.MaxInt32 {
		return 0, false
	}
	return int(f), true
}
