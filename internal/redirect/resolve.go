// Package redirect turns a Location header value into the absolute URL a
// crawler should request next.
package redirect

import "strings"

const upperHex = "0123456789ABCDEF"

// Resolve combines base, the URL of the response that redirected, with the
// raw Location value. It never fails: anything it cannot make sense of is
// joined onto whatever scheme and host base provides.
//
// Absolute locations, including schemes the crawler will not fetch such as
// mailto: and data:, are returned untouched. Scheme-relative locations take
// the scheme of base. Everything else keeps the scheme, userinfo, host and
// port of base byte for byte, has its dot-segments removed and is
// percent-encoded where it holds characters that may not appear in a URL.
func Resolve(base, location string) string {
	location = strings.TrimSpace(location)
	if location == "" {
		return base
	}
	if schemeEnd(location) > 0 {
		return location
	}
	b := splitURL(base)
	switch {
	case strings.HasPrefix(location, "//"):
		if b.scheme == "" {
			return location
		}
		return b.scheme + ":" + location
	case location[0] == '/':
		return b.origin() + escape(cleanPath(location))
	case location[0] == '?':
		return b.origin() + escape(b.pathOrRoot()) + escape(location)
	case location[0] == '#':
		return b.origin() + escape(b.pathOrRoot()+b.query) + escape(location)
	default:
		return b.origin() + escape(cleanPath(b.dir()+location))
	}
}

// urlParts is a lossless split of a URL string. query and fragment keep
// their leading '?' and '#'.
type urlParts struct {
	scheme       string
	authority    string
	hasAuthority bool
	path         string
	query        string
	fragment     string
}

func splitURL(raw string) urlParts {
	var p urlParts
	rest := raw
	if i := schemeEnd(raw); i > 0 {
		p.scheme = raw[:i]
		rest = raw[i+1:]
	}
	if i := strings.IndexByte(rest, '#'); i >= 0 {
		p.fragment = rest[i:]
		rest = rest[:i]
	}
	if i := strings.IndexByte(rest, '?'); i >= 0 {
		p.query = rest[i:]
		rest = rest[:i]
	}
	if strings.HasPrefix(rest, "//") {
		p.hasAuthority = true
		rest = rest[2:]
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			p.authority = rest[:i]
			rest = rest[i:]
		} else {
			p.authority = rest
			rest = ""
		}
	}
	p.path = rest
	return p
}

func (p urlParts) origin() string {
	var sb strings.Builder
	if p.scheme != "" {
		sb.WriteString(p.scheme)
		sb.WriteByte(':')
	}
	if p.hasAuthority {
		sb.WriteString("//")
		sb.WriteString(p.authority)
	}
	return sb.String()
}

func (p urlParts) pathOrRoot() string {
	if p.path == "" && p.hasAuthority {
		return "/"
	}
	return p.path
}

// dir is the path up to and including its last slash.
func (p urlParts) dir() string {
	path := p.pathOrRoot()
	i := strings.LastIndexByte(path, '/')
	if i < 0 {
		return ""
	}
	return path[:i+1]
}

// schemeEnd returns the index of the colon ending a leading URI scheme,
// or -1 when s does not start with one.
func schemeEnd(s string) int {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z':
		case '0' <= c && c <= '9', c == '+', c == '-', c == '.':
			if i == 0 {
				return -1
			}
		case c == ':':
			if i == 0 {
				return -1
			}
			return i
		default:
			return -1
		}
	}
	return -1
}

// cleanPath removes dot-segments from the path part of ref and leaves any
// query or fragment alone.
func cleanPath(ref string) string {
	end := strings.IndexAny(ref, "?#")
	if end < 0 {
		return removeDotSegments(ref)
	}
	return removeDotSegments(ref[:end]) + ref[end:]
}

// removeDotSegments follows RFC 3986 section 5.2.4.
func removeDotSegments(path string) string {
	var out strings.Builder
	in := path
	for in != "" {
		switch {
		case strings.HasPrefix(in, "../"):
			in = in[3:]
		case strings.HasPrefix(in, "./"):
			in = in[2:]
		case strings.HasPrefix(in, "/./"):
			in = in[2:]
		case in == "/.":
			in = "/"
		case strings.HasPrefix(in, "/../"):
			in = in[3:]
			dropLastSegment(&out)
		case in == "/..":
			in = "/"
			dropLastSegment(&out)
		case in == "." || in == "..":
			in = ""
		default:
			start := 0
			if in[0] == '/' {
				start = 1
			}
			next := strings.IndexByte(in[start:], '/')
			if next < 0 {
				out.WriteString(in)
				in = ""
			} else {
				out.WriteString(in[:start+next])
				in = in[start+next:]
			}
		}
	}
	return out.String()
}

func dropLastSegment(out *strings.Builder) {
	s := out.String()
	i := strings.LastIndexByte(s, '/')
	out.Reset()
	if i > 0 {
		out.WriteString(s[:i])
	}
}

// escape percent-encodes every byte outside the RFC 3986 unreserved and
// reserved sets. A '%' that already starts a %XX escape is kept so escaping
// twice changes nothing; any other '%' becomes %25.
func escape(s string) string {
	n := 0
	for i := 0; i < len(s); i++ {
		if !keep(s, i) {
			n++
		}
	}
	if n == 0 {
		return s
	}
	var sb strings.Builder
	sb.Grow(len(s) + 2*n)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if keep(s, i) {
			sb.WriteByte(c)
			continue
		}
		sb.WriteByte('%')
		sb.WriteByte(upperHex[c>>4])
		sb.WriteByte(upperHex[c&0x0f])
	}
	return sb.String()
}

// keep reports whether s[i] may appear in a URL as is.
func keep(s string, i int) bool {
	if s[i] == '%' {
		return i+2 < len(s) && isHex(s[i+1]) && isHex(s[i+2])
	}
	return isSafe(s[i])
}

func isHex(c byte) bool {
	return '0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F'
}

func isSafe(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	switch c {
	case '-', '.', '_', '~', // unreserved
		':', '/', '?', '#', '[', ']', '@', // gen-delims
		'!', '$', '&', '\'', '(', ')', '*', '+', ',', ';', '=': // sub-delims
		return true
	}
	return false
}
