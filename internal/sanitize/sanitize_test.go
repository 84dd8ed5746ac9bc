package sanitize

import (
	"net/netip"
	"strings"
	"testing"
)

func TestFilename(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"report.pdf", "report.pdf"},
		{"../../etc/passwd", "passwd"},
		{`..\..\boot.ini`, "boot.ini"},
		{"dir/nested/file.txt", "file.txt"},
		{".hidden", ""},
		{"..", ""},
		{"", ""},
		{"name\x00.txt", ""},
		{"UTF-8''%EC%95%88%EB%85%95.txt", "안녕.txt"},
		{"hello%20world.txt", "hello world.txt"},
		{strings.Repeat("a", 300) + ".bin", ""},
	}
	for _, tc := range cases {
		if got := Filename(tc.in); got != tc.want {
			t.Errorf("Filename(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeFilenameComposesNFC(t *testing.T) {
	// "한.txt" with the hangul syllable decomposed (NFD), as macOS submits it.
	decomposed := "한.txt"
	got := NormalizeFilename(decomposed)
	if got != "한.txt" {
		t.Fatalf("expected NFC composition, got %q", got)
	}
}

func TestSessionCode(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"abc12", "abc12"},
		{"AB-cd_9", "AB-cd_9"},
		{"../x", ""},
		{"a/b/c", ""},
		{"a!b", ""}, // strips to "ab", below min length
		{"a!bc1", "abc1"},
		{"", ""},
		{strings.Repeat("z", 200), strings.Repeat("z", 128)},
	}
	for _, tc := range cases {
		if got := SessionCode(tc.in); got != tc.want {
			t.Errorf("SessionCode(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestValidClientID(t *testing.T) {
	if !ValidClientID("3f2a9c81-77aa-4b1e-9c70-1f0932dd41b2") {
		t.Error("uuid-shaped id should be valid")
	}
	if ValidClientID("short") {
		t.Error("too-short id should be invalid")
	}
	if ValidClientID(strings.Repeat("a", 65)) {
		t.Error("too-long id should be invalid")
	}
	if ValidClientID("has spaces here") {
		t.Error("id with spaces should be invalid")
	}
}

func TestFormatSize(t *testing.T) {
	if got := FormatSize(512); got != "0.5 kB" {
		t.Errorf("got %q", got)
	}
	if got := FormatSize(31457280); got != "30.0 MB" {
		t.Errorf("got %q", got)
	}
}

func TestClientIP(t *testing.T) {
	trusted := []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}

	// Peer inside trusted range: honor XFF, leftmost entry.
	got := ClientIP("10.1.2.3:4455", "203.0.113.9, 10.1.2.3", trusted)
	if got != "203.0.113.9" {
		t.Errorf("trusted proxy: got %q", got)
	}

	// Peer outside trusted range: XFF is spoofable, ignore it.
	got = ClientIP("198.51.100.4:1000", "203.0.113.9", trusted)
	if got != "198.51.100.4" {
		t.Errorf("untrusted peer: got %q", got)
	}

	// No trusted proxies configured: never trust XFF.
	got = ClientIP("198.51.100.4:1000", "203.0.113.9", nil)
	if got != "198.51.100.4" {
		t.Errorf("no proxies: got %q", got)
	}
}
