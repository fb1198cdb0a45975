package tts

import "context"

// Provider is a synthesis backend. Implementations classify their own
// failures as *Error before returning them.
type Provider interface {
	// Name is the provenance recorded on entries, e.g. "google" or "piper".
	Name() string

	// Kind reports which slot of the registry the provider fills.
	Kind() Selector

	// NativeFormat is the format Synthesize returns without transcoding.
	NativeFormat() Format

	// ListVoices queries the provider's live voice catalog.
	ListVoices(ctx context.Context) ([]Voice, error)

	// Synthesize produces audio in NativeFormat.
	Synthesize(ctx context.Context, req Request) (*Audio, error)

	// Close releases any resources held by the provider.
	Close() error
}
