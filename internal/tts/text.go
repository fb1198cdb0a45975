package tts

import (
	"encoding/xml"
	"errors"
	"io"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	whitespaceRe = regexp.MustCompile(`\s+`)
	xmlDeclRe    = regexp.MustCompile(`^\s*<\?xml[^>]*\?>`)
)

// zero-width non-joiner, common in Persian text pasted from editors
const zwnj = "\u200c"

// NormalizeText prepares plain text for synthesis: NFC composition, no
// zero-width non-joiners, single spaces, no surrounding whitespace.
func NormalizeText(s string) string {
	s = norm.NFC.String(s)
	s = strings.ReplaceAll(s, zwnj, "")
	s = whitespaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// Prepared returns the request with its content as it will be hashed and
// synthesized. Markup is never normalized.
func (r Request) Prepared() Request {
	if r.Normalize && !r.Markup {
		r.Content = NormalizeText(r.Content)
	}
	return r
}

// StripMarkup reduces SSML to its spoken text. Breaks and sentence or
// paragraph boundaries become spaces. The input must be well-formed XML,
// with or without a <speak> root.
func StripMarkup(s string) (string, error) {
	s = xmlDeclRe.ReplaceAllString(s, "")
	dec := xml.NewDecoder(strings.NewReader("<ssml>" + s + "</ssml>"))
	dec.Strict = true

	var b strings.Builder
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.CharData:
			b.Write(t)
		case xml.StartElement:
			if t.Name.Local == "break" {
				b.WriteByte(' ')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "p", "s", "paragraph", "sentence":
				b.WriteByte(' ')
			}
		}
	}

	return NormalizeText(b.String()), nil
}
