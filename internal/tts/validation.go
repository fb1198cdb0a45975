package tts

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Domains for the tunable request fields.
const (
	RateMin  = -50
	RateMax  = 50
	PitchMin = -12
	PitchMax = 12

	// DefaultMaxChars is the content limit used when none is configured.
	DefaultMaxChars = 3000
)

// Limits holds the configurable validation bounds.
type Limits struct {
	MaxChars int
}

// Validate checks a request before it is fingerprinted. Length is measured
// in characters (runes), not bytes. Every failure is a KindValidation error
// naming the violated constraint.
func Validate(req Request, limits Limits) error {
	maxChars := limits.MaxChars
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}

	if strings.TrimSpace(req.Content) == "" {
		return NewError(KindValidation, "validate", "text must not be empty", ErrEmptyText)
	}
	if n := utf8.RuneCountInString(req.Content); n > maxChars {
		return NewError(KindValidation, "validate",
			fmt.Sprintf("text is %d characters, maximum is %d", n, maxChars), ErrTextTooLong)
	}
	if req.Rate < RateMin || req.Rate > RateMax {
		return NewError(KindValidation, "validate",
			fmt.Sprintf("rate %d outside %d..%d", req.Rate, RateMin, RateMax), ErrOutOfRange)
	}
	if req.Pitch < PitchMin || req.Pitch > PitchMax {
		return NewError(KindValidation, "validate",
			fmt.Sprintf("pitch %d outside %d..%d", req.Pitch, PitchMin, PitchMax), ErrOutOfRange)
	}
	if _, err := ParseFormat(string(req.Format)); err != nil {
		return err
	}
	switch req.Engine {
	case SelectAuto, SelectPrimary, SelectFallback:
	default:
		return NewError(KindValidation, "validate", fmt.Sprintf("unsupported engine %q", req.Engine), nil)
	}
	return nil
}
