// Package engines contains the synthesis providers. Google Cloud
// Text-to-Speech is the online primary and Piper is the offline fallback.
// Both implement tts.Provider and classify their own failures.
package engines
