package tts

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// Fingerprint is the hex SHA-256 content key of a request.
type Fingerprint string

// FingerprintLen is the length of a fingerprint in hex characters.
const FingerprintLen = sha256.Size * 2

// canonicalKey is the hashed tuple. Field order is alphabetical and must
// never change: every stored entry is addressed by it.
type canonicalKey struct {
	Engine string `json:"engine"`
	Format string `json:"format"`
	Pitch  int    `json:"pitch"`
	Rate   int    `json:"rate"`
	SSML   bool   `json:"ssml"`
	Text   string `json:"text"`
	Voice  string `json:"voice"`
}

// FingerprintOf derives the content key of req. It is pure: the content is
// canonicalized (line endings, surrounding whitespace, format case) but
// rate and pitch are hashed as given.
func FingerprintOf(req Request) Fingerprint {
	key := canonicalKey{
		Engine: string(req.Engine),
		Format: strings.ToLower(strings.TrimSpace(string(req.Format))),
		Pitch:  req.Pitch,
		Rate:   req.Rate,
		SSML:   req.Markup,
		Text:   canonicalContent(req.Content),
		Voice:  strings.TrimSpace(req.Voice),
	}

	var b strings.Builder
	enc := json.NewEncoder(&b)
	enc.SetEscapeHTML(false)
	// encoding a struct of strings, ints and bools cannot fail
	_ = enc.Encode(key)

	sum := sha256.Sum256([]byte(strings.TrimSuffix(b.String(), "\n")))
	return Fingerprint(hex.EncodeToString(sum[:]))
}

func canonicalContent(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return strings.TrimSpace(s)
}

// ParseFingerprint validates a hex fingerprint, accepting upper case.
func ParseFingerprint(s string) (Fingerprint, error) {
	if len(s) != FingerprintLen {
		return "", fmt.Errorf("fingerprint must be %d hex characters", FingerprintLen)
	}
	s = strings.ToLower(s)
	if _, err := hex.DecodeString(s); err != nil {
		return "", fmt.Errorf("invalid fingerprint: %w", err)
	}
	return Fingerprint(s), nil
}

// Shard returns the two-character directory prefix.
func (f Fingerprint) Shard() string {
	if len(f) < 2 {
		return "00"
	}
	return string(f[:2])
}

func (f Fingerprint) String() string { return string(f) }

// Short returns an abbreviated form for logs.
func (f Fingerprint) Short() string {
	if len(f) <= 12 {
		return string(f)
	}
	return string(f[:12])
}
