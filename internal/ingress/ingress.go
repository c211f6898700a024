// Package ingress resolves an inbound public HTTP request to a tunnel
// session, by subdomain or by path prefix.
package ingress

import (
	"regexp"
	"strings"
)

// idPattern matches the two-word session id shape: lowercase letters, a
// single hyphen separator.
var idPattern = regexp.MustCompile(`^[a-z]+-[a-z]+$`)

// Match describes a resolved tunnel request.
type Match struct {
	// SessionID is the candidate session id extracted from the request.
	// ValidShape reports whether it matched ^[a-z]+-[a-z]+$; callers must
	// still confirm the session actually exists.
	SessionID  string
	ValidShape bool
	// RewrittenPath is the path to forward to the developer: for subdomain
	// matches this is the original path; for path-prefix matches the
	// "/tunnel/<id>" prefix is stripped.
	RewrittenPath string
}

// Resolve attempts, in order, a subdomain match against host and then a
// path-prefix match against path. ok is false if neither form applies and
// the request should fall through to the normal HTTP handler.
func Resolve(host, path, baseDomain string) (Match, bool) {
	if m, ok := resolveSubdomain(host, baseDomain); ok {
		m.RewrittenPath = path
		return m, true
	}
	if m, ok := resolvePathPrefix(path); ok {
		return m, true
	}
	return Match{}, false
}

// resolveSubdomain strips an explicit port suffix before matching
// "<id>.<base-domain>".
func resolveSubdomain(host, baseDomain string) (Match, bool) {
	if host == "" || baseDomain == "" {
		return Match{}, false
	}
	host = stripPort(host)
	base := stripPort(baseDomain)

	suffix := "." + base
	if !strings.HasSuffix(host, suffix) {
		return Match{}, false
	}
	id := strings.TrimSuffix(host, suffix)
	if id == "" || strings.Contains(id, ".") {
		return Match{}, false
	}
	return Match{SessionID: id, ValidShape: idPattern.MatchString(id)}, true
}

// resolvePathPrefix matches "/tunnel/<id>/<rest>", rewriting the forwarded
// path to "/<rest>" (or "/" if rest is empty).
func resolvePathPrefix(path string) (Match, bool) {
	const prefix = "/tunnel/"
	if !strings.HasPrefix(path, prefix) {
		return Match{}, false
	}
	rest := strings.TrimPrefix(path, prefix)
	id := rest
	rewritten := "/"
	if idx := strings.Index(rest, "/"); idx >= 0 {
		id = rest[:idx]
		rewritten = rest[idx:]
	}
	if id == "" {
		return Match{}, false
	}
	return Match{
		SessionID:     id,
		ValidShape:    idPattern.MatchString(id),
		RewrittenPath: rewritten,
	}, true
}

func stripPort(hostport string) string {
	if idx := strings.LastIndex(hostport, ":"); idx >= 0 {
		// Only strip if what follows looks like a numeric port, so IPv6
		// literals without brackets are left alone (an edge case not
		// expected in this deployment model).
		if isAllDigits(hostport[idx+1:]) {
			return hostport[:idx]
		}
	}
	return hostport
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
