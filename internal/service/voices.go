package service

import (
	"strings"

	"github.com/dgnsrekt/ttscache/internal/tts"
	"github.com/sahilm/fuzzy"
)

type voiceSource []tts.Voice

func (v voiceSource) String(i int) string {
	return v[i].ID + " " + v[i].Name + " " + v[i].Locale + " " + v[i].Gender
}

func (v voiceSource) Len() int { return len(v) }

// FilterVoices returns the voices matching query, best match first. An
// empty query returns voices unchanged.
func FilterVoices(voices []tts.Voice, query string) []tts.Voice {
	query = strings.TrimSpace(query)
	if query == "" {
		return voices
	}
	matches := fuzzy.FindFrom(query, voiceSource(voices))
	out := make([]tts.Voice, 0, len(matches))
	for _, m := range matches {
		out = append(out, voices[m.Index])
	}
	return out
}
