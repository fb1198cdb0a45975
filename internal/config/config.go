package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/ttscache/internal/tts"
	"github.com/mitchellh/go-homedir"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/viper"
)

// AppName names config, data and log locations.
const AppName = "ttscache"

// Config is the resolved service configuration.
type Config struct {
	Listen       string
	BaseURL      string
	AudioDir     string
	CacheEnabled bool
	MaxChars     int

	DefaultEngine string
	DefaultVoice  string
	DefaultFormat string

	RateLimit   int
	CORSOrigins []string

	ProviderTimeout   time.Duration
	ProductionTimeout time.Duration

	LogLevel  string
	LogFormat string

	Engines Engines
}

// Engines holds engine knobs read from the environment.
type Engines struct {
	PiperBinary    string `env:"PIPER_BINARY"     envDefault:"piper"`
	PiperModelsDir string `env:"PIPER_MODELS_DIR" envDefault:"~/.local/share/piper/voices"`
	PiperVoice     string `env:"PIPER_VOICE"`

	FFmpegBinary  string `env:"FFMPEG_BINARY"  envDefault:"ffmpeg"`
	FFprobeBinary string `env:"FFPROBE_BINARY" envDefault:"ffprobe"`

	// MediaConcurrency bounds concurrent piper, ffmpeg and ffprobe processes.
	MediaConcurrency int `env:"TTSCACHE_MEDIA_CONCURRENCY" envDefault:"4"`

	GoogleCredentials       string `env:"GOOGLE_APPLICATION_CREDENTIALS"`
	GoogleEndpoint          string `env:"GOOGLE_TTS_ENDPOINT"`
	GoogleRequestsPerMinute int    `env:"GOOGLE_TTS_REQUESTS_PER_MINUTE"`

	// Offline skips the primary provider entirely.
	Offline bool `env:"TTSCACHE_OFFLINE"`
}

// SetDefaults registers every key with its default.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("listen", ":8000")
	v.SetDefault("base_url", "")
	v.SetDefault("audio_dir", defaultAudioDir())
	v.SetDefault("cache.enabled", true)
	v.SetDefault("max_chars", tts.DefaultMaxChars)
	v.SetDefault("defaults.engine", string(tts.SelectAuto))
	v.SetDefault("defaults.voice", "en-US-Neural2-F")
	v.SetDefault("defaults.format", string(tts.FormatMP3))
	v.SetDefault("rate_limit.per_minute", 30)
	v.SetDefault("cors.origins", []string{"*"})
	v.SetDefault("providers.timeout", "30s")
	v.SetDefault("production.timeout", "2m")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

func defaultAudioDir() string {
	p, err := gap.NewScope(gap.User, AppName).DataPath("audio")
	if err != nil {
		return "audio"
	}
	return p
}

// Load resolves the configuration from v and the process environment.
func Load(v *viper.Viper) (Config, error) {
	engines, err := env.ParseAs[Engines]()
	if err != nil {
		return Config{}, fmt.Errorf("error parsing engine environment: %w", err)
	}
	return load(v, engines)
}

func load(v *viper.Viper, engines Engines) (Config, error) {
	cfg := Config{
		Listen:            v.GetString("listen"),
		BaseURL:           strings.TrimRight(v.GetString("base_url"), "/"),
		AudioDir:          v.GetString("audio_dir"),
		CacheEnabled:      v.GetBool("cache.enabled"),
		MaxChars:          v.GetInt("max_chars"),
		DefaultEngine:     v.GetString("defaults.engine"),
		DefaultVoice:      v.GetString("defaults.voice"),
		DefaultFormat:     v.GetString("defaults.format"),
		RateLimit:         v.GetInt("rate_limit.per_minute"),
		CORSOrigins:       v.GetStringSlice("cors.origins"),
		ProviderTimeout:   v.GetDuration("providers.timeout"),
		ProductionTimeout: v.GetDuration("production.timeout"),
		LogLevel:          v.GetString("log.level"),
		LogFormat:         v.GetString("log.format"),
		Engines:           engines,
	}

	var err error
	if cfg.AudioDir, err = homedir.Expand(cfg.AudioDir); err != nil {
		return cfg, fmt.Errorf("audio_dir: %w", err)
	}
	if cfg.Engines.PiperModelsDir, err = homedir.Expand(cfg.Engines.PiperModelsDir); err != nil {
		return cfg, fmt.Errorf("PIPER_MODELS_DIR: %w", err)
	}
	if cfg.Engines.GoogleCredentials, err = homedir.Expand(cfg.Engines.GoogleCredentials); err != nil {
		return cfg, fmt.Errorf("GOOGLE_APPLICATION_CREDENTIALS: %w", err)
	}

	return cfg, cfg.Validate()
}

// Validate checks value domains.
func (c Config) Validate() error {
	var errs []error
	if c.AudioDir == "" {
		errs = append(errs, errors.New("audio_dir must be set"))
	}
	if c.MaxChars < 1 {
		errs = append(errs, fmt.Errorf("max_chars must be positive, got %d", c.MaxChars))
	}
	if _, err := tts.ParseSelector(c.DefaultEngine); err != nil {
		errs = append(errs, fmt.Errorf("defaults.engine: %w", err))
	}
	if _, err := tts.ParseFormat(c.DefaultFormat); err != nil {
		errs = append(errs, fmt.Errorf("defaults.format: %w", err))
	}
	if c.ProviderTimeout <= 0 {
		errs = append(errs, fmt.Errorf("providers.timeout must be positive, got %s", c.ProviderTimeout))
	}
	if c.ProductionTimeout < c.ProviderTimeout {
		errs = append(errs, fmt.Errorf("production.timeout (%s) must not be shorter than providers.timeout (%s)", c.ProductionTimeout, c.ProviderTimeout))
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	switch c.LogFormat {
	case "text", "json", "logfmt":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text, json or logfmt, got %q", c.LogFormat))
	}
	return errors.Join(errs...)
}

// Limits returns the validation bounds.
func (c Config) Limits() tts.Limits {
	return tts.Limits{MaxChars: c.MaxChars}
}
