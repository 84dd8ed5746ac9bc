// Package sanitize contains the input hygiene rules shared by the sync
// protocol handler: filename and session code sanitization, client id
// validation, and human-readable size formatting.
package sanitize

import (
	"fmt"
	"net/netip"
	"net/url"
	"path"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

const (
	// MaxFilenameLength guards against filesystem limits across platforms.
	MaxFilenameLength = 255

	minCodeLength = 3
	maxCodeLength = 128

	minClientIDLength = 8
	maxClientIDLength = 64
)

var (
	codeStripRe = regexp.MustCompile(`[^a-zA-Z0-9\-_]`)
	clientIDRe  = regexp.MustCompile(`^[a-zA-Z0-9\-_]+$`)
)

// DecodeFilename decodes a multipart filename that may arrive RFC 2231
// encoded (filename*=UTF-8''...) or URL-escaped.
func DecodeFilename(name string) string {
	if name == "" {
		return name
	}
	if rest, ok := strings.CutPrefix(name, "UTF-8''"); ok {
		if dec, err := url.PathUnescape(rest); err == nil {
			return dec
		}
		return rest
	}
	if dec, err := url.PathUnescape(name); err == nil && dec != name {
		return dec
	}
	return name
}

// Filename strips directory components and rejects anything that could
// escape the session directory. Returns "" when the name is unusable.
func Filename(name string) string {
	if name == "" {
		return ""
	}
	decoded := DecodeFilename(name)
	if strings.ContainsRune(decoded, 0) {
		return ""
	}
	// Strip both Unix and Windows directory components.
	decoded = decoded[strings.LastIndexByte(decoded, '/')+1:]
	decoded = decoded[strings.LastIndexByte(decoded, '\\')+1:]
	safe := path.Clean(decoded)
	if safe == "" || safe == "." || safe == ".." || strings.Contains(safe, "..") {
		return ""
	}
	if strings.HasPrefix(safe, "/") || strings.HasPrefix(safe, ".") {
		return ""
	}
	if len(safe) > MaxFilenameLength {
		return ""
	}
	return safe
}

// NormalizeFilename sanitizes and NFC-normalizes a filename. macOS submits
// NFD-decomposed names; storing NFC keeps listings and downloads consistent
// for everyone else.
func NormalizeFilename(name string) string {
	safe := Filename(name)
	if safe == "" {
		return ""
	}
	return norm.NFC.String(safe)
}

// FileExt returns the lowercased extension of name including the dot, or "".
func FileExt(name string) string {
	ext := path.Ext(strings.ToLower(name))
	return ext
}

// SessionCode validates and canonicalizes a session code. Returns "" for
// anything containing path separators, traversal sequences, or too little
// usable content.
func SessionCode(code string) string {
	if code == "" {
		return ""
	}
	if strings.Contains(code, "..") || strings.ContainsAny(code, `/\`) {
		return ""
	}
	cleaned := codeStripRe.ReplaceAllString(code, "")
	if len(cleaned) < minCodeLength {
		return ""
	}
	if len(cleaned) > maxCodeLength {
		cleaned = cleaned[:maxCodeLength]
	}
	return cleaned
}

// ValidClientID reports whether id looks like a well-formed opaque client
// identifier. Client ids are caller-supplied; this is shape validation, not
// authentication.
func ValidClientID(id string) bool {
	if len(id) < minClientIDLength || len(id) > maxClientIDLength {
		return false
	}
	return clientIDRe.MatchString(id)
}

// FormatSize renders a byte count as kB or MB for display.
func FormatSize(n int64) string {
	if n < 1024*1024 {
		return fmt.Sprintf("%.1f kB", float64(n)/1024)
	}
	return fmt.Sprintf("%.1f MB", float64(n)/(1024*1024))
}

// ClientIP resolves the originating client address. The X-Forwarded-For
// header is only honored when the direct peer belongs to one of the trusted
// proxy networks; otherwise it is spoofable and ignored.
func ClientIP(remoteAddr, forwardedFor string, trustedProxies []netip.Prefix) string {
	host := remoteAddr
	if ap, err := netip.ParseAddrPort(remoteAddr); err == nil {
		host = ap.Addr().String()
	}
	if forwardedFor == "" || len(trustedProxies) == 0 {
		return host
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return host
	}
	for _, pfx := range trustedProxies {
		if pfx.Contains(addr) {
			// Leftmost entry is the originating client.
			first, _, _ := strings.Cut(forwardedFor, ",")
			return strings.TrimSpace(first)
		}
	}
	return host
}
