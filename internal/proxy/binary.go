package proxy

import "strings"

// sniffLen is the prefix length inspected when content-type alone does not
// settle whether a body is binary.
const sniffLen = 512

var binaryContentTypePrefixes = []string{"image/", "video/", "audio/"}

var binaryContentTypes = map[string]bool{
	"application/octet-stream": true,
	"application/pdf":          true,
	"application/zip":          true,
	"application/gzip":         true,
}

// DetectBinary reports whether a body should be base64-encoded on the wire,
// using the content-type first and falling back to a byte-level sniff of
// the first sniffLen bytes.
func DetectBinary(contentType string, body []byte) bool {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if idx := strings.Index(ct, ";"); idx >= 0 {
		ct = ct[:idx]
	}
	for _, prefix := range binaryContentTypePrefixes {
		if strings.HasPrefix(ct, prefix) {
			return true
		}
	}
	if binaryContentTypes[ct] {
		return true
	}
	return sniffNonText(body)
}

// sniffNonText implements the spec's "30% non-text bytes in first 512
// bytes" heuristic. Bytes below 32 other than tab/newline/CR count as
// non-text.
func sniffNonText(body []byte) bool {
	n := len(body)
	if n > sniffLen {
		n = sniffLen
	}
	if n == 0 {
		return false
	}
	nonText := 0
	for _, b := range body[:n] {
		if b < 32 && b != '\t' && b != '\n' && b != '\r' {
			nonText++
		}
	}
	return float64(nonText)/float64(n) > 0.30
}
