package crawler

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrNotCrawlable reports a URL that is not absolute http(s).
var ErrNotCrawlable = errors.New("url is not an absolute http(s) url")

// NormalizeURL standardizes a URL to avoid duplicates.
// It lowercases the scheme and host, removes default ports, and sorts query parameters.
// It also removes fragments.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if !IsCrawlable(u) {
		return "", fmt.Errorf("normalize %q: %w", rawURL, ErrNotCrawlable)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""
	u.RawFragment = ""

	if u.RawQuery != "" {
		u.RawQuery = u.Query().Encode()
	}

	return u.String(), nil
}

// IsCrawlable reports whether u is an absolute http or https URL with a host.
func IsCrawlable(u *url.URL) bool {
	if u == nil || u.Host == "" {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	return scheme == "http" || scheme == "https"
}

// HostKey identifies the robots.txt scope of u: lowercased scheme and host with port.
func HostKey(u *url.URL) string {
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host)
}

// RobotsURL returns the robots.txt location for u's origin.
func RobotsURL(u *url.URL) string {
	return HostKey(u) + "/robots.txt"
}

// RobotsPath is the string robots rules are matched against: the escaped
// path plus "?query", or "/" when the path is empty.
func RobotsPath(u *url.URL) string {
	p := u.EscapedPath()
	if p == "" {
		p = "/"
	}
	if u.RawQuery != "" {
		p += "?" + u.RawQuery
	}
	return p
}
