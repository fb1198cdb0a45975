// Package cache stores synthesized audio on disk keyed by request
// fingerprint. Artifacts live in a two-level sharded tree next to JSON
// sidecars, are committed with temp-file-and-rename so readers never see
// partial files, and are never modified once written. Stores can be
// exported to and imported from zstd-compressed tar archives.
package cache
