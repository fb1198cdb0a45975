package codec

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/dgnsrekt/ttscache/internal/tts"
)

func writeTool(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
	return path
}

func TestTranscodeArgs(t *testing.T) {
	args, err := TranscodeArgs(tts.FormatWAV, tts.FormatOGG)
	if err != nil {
		t.Fatalf("TranscodeArgs() error: %v", err)
	}
	want := []string{"-hide_banner", "-loglevel", "error", "-f", "wav", "-i", "pipe:0", "-vn",
		"-c:a", "libvorbis", "-q:a", "4", "-f", "ogg", "pipe:1"}
	if !slices.Equal(args, want) {
		t.Errorf("TranscodeArgs() = %v, want %v", args, want)
	}

	args, err = TranscodeArgs(tts.FormatWAV, tts.FormatMP3)
	if err != nil {
		t.Fatalf("TranscodeArgs() error: %v", err)
	}
	if args[len(args)-1] != "pipe:1" || !slices.Contains(args, "libmp3lame") {
		t.Errorf("TranscodeArgs() = %v", args)
	}

	if _, err := TranscodeArgs(tts.FormatWAV, tts.Format("flac")); err == nil {
		t.Error("TranscodeArgs() should reject unknown output formats")
	}
	if _, err := TranscodeArgs(tts.Format("flac"), tts.FormatMP3); err == nil {
		t.Error("TranscodeArgs() should reject unknown input formats")
	}
}

func TestParseProbeDuration(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"1.500000\n", 1500 * time.Millisecond, false},
		{"2.500000\n", 2500 * time.Millisecond, false},
		{"0.25", 250 * time.Millisecond, false},
		{"N/A", 0, true},
		{"", 0, true},
		{"abc", 0, true},
	}
	for _, tt := range tests {
		got, err := parseProbeDuration(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseProbeDuration(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("parseProbeDuration(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestCodec_Transcode(t *testing.T) {
	ffmpeg := writeTool(t, "ffmpeg", "cat > /dev/null; printf 'mp3data'")
	c := New(Config{FFmpeg: ffmpeg})

	out, err := c.Transcode(t.Context(), []byte("wav"), tts.FormatWAV, tts.FormatMP3)
	if err != nil {
		t.Fatalf("Transcode() error: %v", err)
	}
	if string(out) != "mp3data" {
		t.Errorf("Transcode() = %q", out)
	}

	same, err := c.Transcode(t.Context(), []byte("wav"), tts.FormatWAV, tts.FormatWAV)
	if err != nil || string(same) != "wav" {
		t.Errorf("Transcode() with equal formats = %q, %v", same, err)
	}
}

func TestCodec_TranscodeSameFormat(t *testing.T) {
	c := New(Config{FFmpeg: "ffmpeg-that-does-not-exist"})
	out, err := c.Transcode(t.Context(), []byte("RIFF"), tts.FormatWAV, tts.FormatWAV)
	if err != nil {
		t.Fatalf("Transcode() same format: %v", err)
	}
	if string(out) != "RIFF" {
		t.Error("same-format transcode must return input unchanged")
	}
}

func TestCodec_MissingBinary(t *testing.T) {
	c := New(Config{FFmpeg: "ffmpeg-that-does-not-exist"})
	_, err := c.Transcode(t.Context(), []byte("RIFF"), tts.FormatWAV, tts.FormatMP3)
	if !tts.IsKind(err, tts.KindCodec) {
		t.Errorf("Transcode() error = %v, want codec error", err)
	}
	if !errors.Is(err, ErrBinaryNotFound) {
		t.Errorf("Transcode() error = %v, want ErrBinaryNotFound in chain", err)
	}
}

func TestCodec_TranscodeErrors(t *testing.T) {
	tests := []struct {
		name   string
		ffmpeg string
		want   string
	}{
		{"missing binary", filepath.Join(t.TempDir(), "ffmpeg"), "is required"},
		{"failure", writeTool(t, "ffmpeg", "echo 'bad input' >&2; exit 1"), "conversion failed"},
		{"no output", writeTool(t, "ffmpeg", "cat > /dev/null"), "no output"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(Config{FFmpeg: tt.ffmpeg})
			_, err := c.Transcode(t.Context(), []byte("wav"), tts.FormatWAV, tts.FormatOGG)
			if !tts.IsKind(err, tts.KindCodec) {
				t.Fatalf("Transcode() error = %v, want codec error", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Transcode() error = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestCodec_Duration(t *testing.T) {
	ffprobe := writeTool(t, "ffprobe", "cat > /dev/null; echo 2.000000")
	c := New(Config{FFprobe: ffprobe})

	d, err := c.Duration(t.Context(), []byte("mp3"), tts.FormatMP3)
	if err != nil || d != 2*time.Second {
		t.Errorf("Duration(mp3) = %v, %v", d, err)
	}

	wav := PCMToWAV(make([]byte, 32000), DefaultPCMFormat())
	want := DefaultPCMFormat().Duration(32000)
	if d, err := c.Duration(t.Context(), wav, tts.FormatWAV); err != nil || d != want {
		t.Errorf("Duration(wav) = %v, %v, want %v", d, err, want)
	}
}

func TestRunner_Run(t *testing.T) {
	r := NewRunner(1)

	echo := writeTool(t, "upper", "tr a-z A-Z")
	out, err := r.Run(t.Context(), []byte("hello"), echo)
	if err != nil || string(out) != "HELLO" {
		t.Errorf("Run() = %q, %v", out, err)
	}

	_, err = r.Run(t.Context(), nil, filepath.Join(t.TempDir(), "nope"))
	if !errors.Is(err, ErrBinaryNotFound) {
		t.Errorf("Run() error = %v, want ErrBinaryNotFound", err)
	}

	fail := writeTool(t, "fail", "echo boom >&2; exit 3")
	if _, err := r.Run(t.Context(), nil, fail); err == nil || !strings.Contains(err.Error(), "boom") {
		t.Errorf("Run() error = %v, want stderr in message", err)
	}
}
