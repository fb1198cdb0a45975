// Package codec wraps the external media tools used on a cache miss:
// ffmpeg for format conversion and ffprobe for duration probing. WAV
// headers are parsed and written natively.
package codec
