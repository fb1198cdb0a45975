// Package api serves the synthesis service over HTTP: JSON endpoints for
// synthesis, voices, health and stats, plus static and download access to
// committed audio.
package api
