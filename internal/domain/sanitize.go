package domain

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/text/unicode/norm"
)

// MaxAddressLength caps sanitized free text, in runes.
const MaxAddressLength = 255

// SanitizeText reduces user input to a single line of plain text. Markup is
// removed along with script and style bodies and entities are decoded. Control
// characters and stray angle brackets become spaces, whitespace runs collapse,
// and the result is NFC normalized and capped at MaxAddressLength runes.
func SanitizeText(s string) string {
	if s == "" {
		return ""
	}
	s = strings.ToValidUTF8(s, "")
	s = stripMarkup(s)

	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) || r == '<' || r == '>' {
			return ' '
		}
		return r
	}, s)

	s = norm.NFC.String(s)
	s = strings.Join(strings.Fields(s), " ")

	if utf8.RuneCountInString(s) > MaxAddressLength {
		s = strings.TrimSpace(string([]rune(s)[:MaxAddressLength]))
	}
	return s
}

// stripMarkup keeps only the text nodes of s. Tag boundaries become spaces so
// "Main St<br>Springfield" does not run together.
func stripMarkup(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return s
	}

	z := html.NewTokenizer(strings.NewReader(s))
	var sb strings.Builder
	skipDepth := 0

	for {
		switch z.Next() {
		case html.ErrorToken:
			// io.EOF or a malformed tail; either way we are done.
			return sb.String()
		case html.StartTagToken:
			if name, _ := z.TagName(); isRawTextTag(name) {
				skipDepth++
			}
			sb.WriteByte(' ')
		case html.EndTagToken:
			if name, _ := z.TagName(); isRawTextTag(name) && skipDepth > 0 {
				skipDepth--
			}
			sb.WriteByte(' ')
		case html.SelfClosingTagToken:
			sb.WriteByte(' ')
		case html.TextToken:
			if skipDepth == 0 {
				sb.Write(z.Text())
			}
		}
	}
}

func isRawTextTag(name []byte) bool {
	switch string(name) {
	case "script", "style", "noscript", "template", "iframe":
		return true
	}
	return false
}
