// Package tts defines synthesis requests, their content fingerprints, the
// classified error taxonomy and the provider registry shared by the cache,
// the production coordinator and the HTTP layer.
package tts
