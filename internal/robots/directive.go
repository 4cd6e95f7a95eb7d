package robots

import (
	"slices"
	"strings"
)

// Wildcard is the catch-all User-agent value.
const Wildcard = "*"

// Directive holds the rules of one User-agent block.
type Directive struct {
	userAgent       string
	crawlDelay      int
	allowedPaths    []string
	disallowedPaths []string
}

// NewDirective creates an empty directive for the raw User-agent value.
func NewDirective(userAgent string) *Directive {
	return &Directive{userAgent: userAgent}
}

// UserAgent returns the raw User-agent value, wildcards included.
func (d Directive) UserAgent() string { return d.userAgent }

// CrawlDelay returns the delay in whole seconds.
func (d Directive) CrawlDelay() int { return d.crawlDelay }

// AllowedPaths returns the Allow prefixes in insertion order.
func (d Directive) AllowedPaths() []string { return slices.Clone(d.allowedPaths) }

// DisallowedPaths returns the Disallow prefixes in insertion order.
func (d Directive) DisallowedPaths() []string { return slices.Clone(d.disallowedPaths) }

// SetCrawlDelay stores the delay. Negative values are ignored.
func (d *Directive) SetCrawlDelay(seconds int) {
	if seconds < 0 {
		return
	}
	d.crawlDelay = seconds
}

// AddAllow appends an Allow prefix unless it is already present.
func (d *Directive) AddAllow(path string) {
	if !slices.Contains(d.allowedPaths, path) {
		d.allowedPaths = append(d.allowedPaths, path)
	}
}

// AddDisallow appends a Disallow prefix unless it is already present.
func (d *Directive) AddDisallow(path string) {
	if !slices.Contains(d.disallowedPaths, path) {
		d.disallowedPaths = append(d.disallowedPaths, path)
	}
}

// Allows checks path against the Allow prefixes first and the Disallow
// prefixes second. The first matching prefix decides; no match allows.
func (d Directive) Allows(path string) bool {
	for _, prefix := range d.allowedPaths {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	for _, prefix := range d.disallowedPaths {
		if strings.HasPrefix(path, prefix) {
			return false
		}
	}
	return true
}

func (d Directive) clone() Directive {
	return Directive{
		userAgent:       d.userAgent,
		crawlDelay:      d.crawlDelay,
		allowedPaths:    slices.Clip(slices.Clone(d.allowedPaths)),
		disallowedPaths: slices.Clip(slices.Clone(d.disallowedPaths)),
	}
}
