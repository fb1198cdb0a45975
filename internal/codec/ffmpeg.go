package codec

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/ttscache/internal/tts"
)

// Config names the external tools.
type Config struct {
	FFmpeg      string
	FFprobe     string
	Concurrency int
	Logger      *log.Logger
}

// Codec transcodes and probes audio through ffmpeg and ffprobe. WAV
// duration is read natively and never needs ffprobe.
type Codec struct {
	ffmpeg  string
	ffprobe string
	runner  *Runner
	logger  *log.Logger
}

// New creates a codec. Binaries default to "ffmpeg" and "ffprobe" on PATH.
func New(cfg Config) *Codec {
	if cfg.FFmpeg == "" {
		cfg.FFmpeg = "ffmpeg"
	}
	if cfg.FFprobe == "" {
		cfg.FFprobe = "ffprobe"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Codec{
		ffmpeg:  cfg.FFmpeg,
		ffprobe: cfg.FFprobe,
		runner:  NewRunner(cfg.Concurrency),
		logger:  logger.WithPrefix("codec"),
	}
}

// encoder arguments per output format
var encoders = map[tts.Format][]string{
	tts.FormatMP3: {"-c:a", "libmp3lame", "-q:a", "4", "-f", "mp3"},
	tts.FormatOGG: {"-c:a", "libvorbis", "-q:a", "4", "-f", "ogg"},
	tts.FormatWAV: {"-c:a", "pcm_s16le", "-f", "wav"},
}

// TranscodeArgs returns the ffmpeg command line converting from to to
// through stdin and stdout.
func TranscodeArgs(from, to tts.Format) ([]string, error) {
	enc, ok := encoders[to]
	if !ok {
		return nil, fmt.Errorf("no encoder for %s", to)
	}
	if _, ok := encoders[from]; !ok {
		return nil, fmt.Errorf("no decoder for %s", from)
	}
	args := []string{"-hide_banner", "-loglevel", "error", "-f", from.Ext(), "-i", "pipe:0", "-vn"}
	args = append(args, enc...)
	return append(args, "pipe:1"), nil
}

// Transcode converts audio between formats. Identical formats are returned
// unchanged without spawning ffmpeg.
func (c *Codec) Transcode(ctx context.Context, data []byte, from, to tts.Format) ([]byte, error) {
	if from == to {
		return data, nil
	}

	args, err := TranscodeArgs(from, to)
	if err != nil {
		return nil, tts.NewError(tts.KindCodec, "transcode", err.Error(), nil)
	}

	start := time.Now()
	out, err := c.runner.Run(ctx, data, c.ffmpeg, args...)
	if err != nil {
		if errors.Is(err, ErrBinaryNotFound) {
			return nil, tts.NewError(tts.KindCodec, "transcode",
				fmt.Sprintf("%s is required to produce %s from %s", c.ffmpeg, to, from), err)
		}
		return nil, tts.NewError(tts.KindCodec, "transcode", "conversion failed", err)
	}
	if len(out) == 0 {
		return nil, tts.NewError(tts.KindCodec, "transcode", "ffmpeg produced no output", nil)
	}

	c.logger.Debug("Transcoded audio", "from", from, "to", to, "in", len(data), "out", len(out), "took", time.Since(start))
	return out, nil
}

// Duration returns the playing time of data. WAV is parsed directly; other
// formats are probed with ffprobe.
func (c *Codec) Duration(ctx context.Context, data []byte, format tts.Format) (time.Duration, error) {
	if format == tts.FormatWAV {
		return WAVDuration(data)
	}

	out, err := c.runner.Run(ctx, data, c.ffprobe,
		"-hide_banner", "-loglevel", "error",
		"-f", format.Ext(), "-i", "pipe:0",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1")
	if err != nil {
		return 0, fmt.Errorf("probe %s: %w", format, err)
	}
	return parseProbeDuration(string(out))
}

func parseProbeDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "N/A" {
		return 0, errors.New("ffprobe reported no duration")
	}
	secs, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse ffprobe duration %q: %w", s, err)
	}
	return time.Duration(secs * float64(time.Second)), nil
}
