package tts

import (
	"fmt"
	"strings"
	"time"
)

// Selector chooses which provider serves a request.
type Selector string

const (
	// SelectAuto tries the primary provider and falls back on outage.
	SelectAuto Selector = "auto"

	// SelectPrimary is the online engine with markup and pitch support.
	SelectPrimary Selector = "primary"

	// SelectFallback is the offline engine backed by locally installed voices.
	SelectFallback Selector = "fallback"
)

// ParseSelector parses an engine selector. Provider names are accepted as
// aliases so that "google" and "piper" work wherever a selector does.
func ParseSelector(s string) (Selector, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "auto", "":
		return SelectAuto, nil
	case "primary", "google", "online":
		return SelectPrimary, nil
	case "fallback", "piper", "offline":
		return SelectFallback, nil
	default:
		return "", NewError(KindValidation, "parse engine", fmt.Sprintf("unsupported engine %q", s), nil)
	}
}

func (s Selector) String() string { return string(s) }

// Format is an output container format.
type Format string

const (
	FormatMP3 Format = "mp3"
	FormatOGG Format = "ogg"
	FormatWAV Format = "wav"
)

// Formats lists every supported output format.
var Formats = []Format{FormatMP3, FormatOGG, FormatWAV}

// ParseFormat parses a format token case-insensitively.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	switch f {
	case FormatMP3, FormatOGG, FormatWAV:
		return f, nil
	default:
		return "", NewError(KindValidation, "parse format", fmt.Sprintf("unsupported format %q", s), nil)
	}
}

// Ext returns the file extension without the leading dot.
func (f Format) Ext() string { return string(f) }

// ContentType returns the MIME type served for the format.
func (f Format) ContentType() string {
	switch f {
	case FormatMP3:
		return "audio/mpeg"
	case FormatOGG:
		return "audio/ogg"
	case FormatWAV:
		return "audio/wav"
	default:
		return "application/octet-stream"
	}
}

// Request describes one synthesis. It is treated as immutable once built;
// helpers that adjust it return copies.
type Request struct {
	Engine    Selector
	Voice     string
	Content   string
	Markup    bool
	Rate      int // percent
	Pitch     int // semitones
	Format    Format
	Normalize bool
}

// ForFallback returns the request as the offline engine should see it:
// pitch is dropped and markup is reduced to plain text.
func (r Request) ForFallback() (Request, error) {
	out := r
	out.Engine = SelectFallback
	out.Pitch = 0
	if r.Markup {
		text, err := StripMarkup(r.Content)
		if err != nil {
			return Request{}, NewError(KindUnsupportedFeature, "strip markup", "markup could not be converted for the offline engine", err)
		}
		out.Content = text
		out.Markup = false
	}
	return out, nil
}

// Voice is a provider-scoped voice description.
type Voice struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Locale string `json:"locale"`
	Gender string `json:"gender"`
}

// Audio is the output of a provider call.
type Audio struct {
	Data     []byte
	Format   Format
	Duration time.Duration // zero when the provider cannot tell

	// Voice is the voice that actually spoke, after provider defaults.
	Voice string
}
