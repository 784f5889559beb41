package chat

import (
	"strings"
	"unicode"
)

// StripInvisibleChars removes control and zero-width characters that
// clients abuse to fake system messages or hide text. The pipe character
// is left alone; link checking handles it.
func StripInvisibleChars(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if r < 0x20 || r == 0x7F {
			continue
		}
		if unicode.In(r, unicode.Cf, unicode.Zl, unicode.Zp) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// IsPlainLatin reports whether the text passes the English-only filter:
// every byte printable ASCII.
func IsPlainLatin(text string) bool {
	for i := 0; i < len(text); i++ {
		if text[i] >= 0x80 {
			return false
		}
	}
	return true
}

// CheckLinks validates every pipe-escape sequence in the text. Clients
// encode item and spell links as
//
//	|cAARRGGBB|Hkind:payload|h[display]|h|r
//
// plus the bare escapes || (literal pipe). Strict mode additionally
// requires the color to be 8 hex digits and a known link kind. Returns
// false when any sequence is malformed; free text without pipes always
// passes.
func CheckLinks(text string, strict bool) bool {
	i := 0
	n := len(text)
	for i < n {
		if text[i] != '|' {
			i++
			continue
		}
		if i+1 >= n {
			return false
		}
		switch text[i+1] {
		case '|': // escaped literal pipe
			i += 2
		default:
			consumed, ok := parseLink(text[i:], strict)
			if !ok {
				return false
			}
			i += consumed
		}
	}
	return true
}

// knownLinkKinds are the payload kinds a well-formed client produces.
var knownLinkKinds = map[string]bool{
	"item":    true,
	"spell":   true,
	"enchant": true,
	"quest":   true,
	"player":  true,
}

// parseLink consumes one full |c...|H...|h[...]|h|r sequence from the
// start of s and returns the number of bytes consumed.
func parseLink(s string, strict bool) (int, bool) {
	pos := 0

	// |cAARRGGBB
	if !strings.HasPrefix(s[pos:], "|c") {
		return 0, false
	}
	pos += 2
	colorEnd := strings.Index(s[pos:], "|H")
	if colorEnd < 0 {
		return 0, false
	}
	color := s[pos : pos+colorEnd]
	if strict {
		if len(color) != 8 || !isHex(color) {
			return 0, false
		}
	}
	pos += colorEnd

	// |Hkind:payload|h
	pos += 2
	dataEnd := strings.Index(s[pos:], "|h")
	if dataEnd < 0 {
		return 0, false
	}
	data := s[pos : pos+dataEnd]
	kind, _, found := strings.Cut(data, ":")
	if !found || kind == "" {
		return 0, false
	}
	if strict && !knownLinkKinds[kind] {
		return 0, false
	}
	pos += dataEnd + 2

	// [display]
	if pos >= len(s) || s[pos] != '[' {
		return 0, false
	}
	displayEnd := strings.IndexByte(s[pos:], ']')
	if displayEnd < 0 {
		return 0, false
	}
	pos += displayEnd + 1

	// |h|r
	if !strings.HasPrefix(s[pos:], "|h|r") {
		return 0, false
	}
	pos += 4
	return pos, true
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

// NormalizePlayerName canonicalizes a whisper target: trimmed, first rune
// upper, rest lower. Empty input stays empty.
func NormalizePlayerName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	runes := []rune(strings.ToLower(name))
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
