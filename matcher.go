package kvgate

import (
	"net"
	"net/http"
	"strings"
)

// matchPath checks whether a request path matches a glob-style pattern.
//
// Supported patterns:
//   - "/static/*" matches "/static" and anything below it
//   - "/api/*/health" where "*" matches any non-empty run of characters
//   - "/healthz" exact match
func matchPath(path, pattern string) bool {
	if path != "/" {
		path = strings.TrimRight(path, "/")
	}
	if pattern != "/" {
		pattern = strings.TrimRight(pattern, "/")
	}

	if pattern == path {
		return true
	}

	if prefix, ok := strings.CutSuffix(pattern, "/*"); ok {
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return true
		}
	}

	return wildcardMatch(pattern, path)
}

// wildcardMatch handles * as matching any non-empty sequence of characters.
func wildcardMatch(pattern, s string) bool {
	if pattern == "*" {
		return s != ""
	}

	for pattern != "" {
		if pattern[0] != '*' {
			if s == "" || pattern[0] != s[0] {
				return false
			}
			pattern, s = pattern[1:], s[1:]
			continue
		}

		rest := pattern[1:]
		if rest == "" {
			return s != ""
		}
		for i := 1; i <= len(s); i++ {
			if wildcardMatch(rest, s[i:]) {
				return true
			}
		}
		return false
	}

	return s == ""
}

// clientIP returns the address of the caller. The first X-Forwarded-For hop
// is only used when trustForwarded is set; otherwise RemoteAddr is used.
// It returns "" when no address can be resolved.
func clientIP(r *http.Request, trustForwarded bool) string {
	if trustForwarded {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
				return ip.String()
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.String()
	}
	return ""
}
