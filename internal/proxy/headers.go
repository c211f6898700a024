package proxy

import (
	"net/http"
	"strings"

	"github.com/glamp/wingman-tunnel/internal/protocol"
)

// hopByHopHeaders is the canonical RFC 7230 set stripped in both directions.
var hopByHopHeaders = map[string]bool{
	"connection":          true,
	"keep-alive":          true,
	"proxy-authenticate":  true,
	"proxy-authorization": true,
	"te":                  true,
	"trailers":            true,
	"transfer-encoding":   true,
	"upgrade":             true,
}

// FrameHeadersFromRequest converts an http.Header into the lowercased,
// hop-by-hop-stripped HeaderMap carried on a RequestFrame, overriding "host"
// to the value the developer should see.
func FrameHeadersFromRequest(h http.Header, host string) protocol.HeaderMap {
	out := protocol.HeaderMap{}
	for key, values := range h {
		lower := strings.ToLower(key)
		if hopByHopHeaders[lower] {
			continue
		}
		out[lower] = append([]string{}, values...)
	}
	out["host"] = []string{host}
	return out
}

// ApplyResponseHeaders writes headers onto w, stripping hop-by-hop names.
func ApplyResponseHeaders(w http.ResponseWriter, headers protocol.HeaderMap) {
	for key, values := range headers {
		if hopByHopHeaders[strings.ToLower(key)] {
			continue
		}
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
}

// AppendForwardedHeaders injects X-Forwarded-* onto an outgoing frame's
// header map, matching the common reverse-proxy convention.
func AppendForwardedHeaders(headers protocol.HeaderMap, clientIP, proto, host string) {
	if clientIP != "" {
		headers["x-forwarded-for"] = append(headers["x-forwarded-for"], clientIP)
	}
	headers["x-forwarded-proto"] = []string{proto}
	headers["x-forwarded-host"] = []string{host}
}
