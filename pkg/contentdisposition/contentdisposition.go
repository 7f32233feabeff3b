// Package contentdisposition builds RFC 6266 Content-Disposition header values.
//
// Plain ASCII filenames produce the short quoted form:
//
//	inline; filename="report.pdf"
//
// Filenames that cannot be carried verbatim in a quoted-string get an ASCII
// fallback plus an RFC 5987 extended parameter:
//
//	inline; filename="resume.pdf"; filename*=UTF-8''r%C3%A9sum%C3%A9.pdf
package contentdisposition

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	DispositionInline     = "inline"
	DispositionAttachment = "attachment"
)

// Inline returns an inline disposition for filename.
func Inline(filename string) string {
	return Format(DispositionInline, filename)
}

// Attachment returns an attachment disposition for filename.
func Attachment(filename string) string {
	return Format(DispositionAttachment, filename)
}

// Format renders disposition with an optional filename parameter.
func Format(disposition, filename string) string {
	if filename == "" {
		return disposition
	}
	fallback, exact := asciiFallback(filename)
	var b strings.Builder
	b.WriteString(disposition)
	b.WriteString(`; filename="`)
	b.WriteString(quote(fallback))
	b.WriteByte('"')
	if !exact {
		b.WriteString("; filename*=UTF-8''")
		b.WriteString(percentEncode(filename))
	}
	return b.String()
}

var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// asciiFallback reports the printable ASCII rendition of name and whether it
// is identical to name.
func asciiFallback(name string) (string, bool) {
	if isPrintableASCII(name) {
		return name, true
	}
	stripped, _, err := transform.String(stripMarks, name)
	if err != nil {
		stripped = name
	}
	var b strings.Builder
	for _, r := range stripped {
		if r < 0x20 || r >= 0x7f {
			b.WriteByte('?')
			continue
		}
		b.WriteRune(r)
	}
	return b.String(), false
}

func isPrintableASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 0x20 || s[i] >= 0x7f {
			return false
		}
	}
	return true
}

func quote(s string) string {
	if !strings.ContainsAny(s, `"\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '"' || s[i] == '\\' {
			b.WriteByte('\\')
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

const upperhex = "0123456789ABCDEF"

// percentEncode escapes everything outside the RFC 5987 attr-char set.
func percentEncode(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isAttrChar(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperhex[c>>4])
		b.WriteByte(upperhex[c&0x0f])
	}
	return b.String()
}

func isAttrChar(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	}
	return strings.IndexByte("!#$&+-.^_`|~", c) >= 0
}
