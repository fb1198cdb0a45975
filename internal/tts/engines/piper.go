package engines

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/ttscache/internal/codec"
	"github.com/dgnsrekt/ttscache/internal/tts"
	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/go-homedir"
)

const modelExt = ".onnx"

// PiperConfig holds configuration for the Piper engine.
type PiperConfig struct {
	// Binary is the piper executable; defaults to "piper" on PATH.
	Binary string

	// ModelsDir holds installed voices as <id>.onnx with <id>.onnx.json.
	ModelsDir string

	// DefaultVoice is used when a request names no voice. Empty picks the
	// first installed voice.
	DefaultVoice string

	// Watch rescans the catalog when the models directory changes.
	Watch bool

	// Runner bounds concurrent piper processes; nil creates one.
	Runner *codec.Runner

	Logger *log.Logger
}

// piperVoice is one installed model.
type piperVoice struct {
	tts.Voice
	model  string
	config string
	pcm    codec.PCMFormat
}

// PiperEngine is the offline fallback provider. A fresh piper process runs
// per synthesis with stdin prepared before start; raw PCM output is wrapped
// into WAV using the model's sample rate.
type PiperEngine struct {
	binary       string
	dir          string
	defaultVoice string
	runner       *codec.Runner
	logger       *log.Logger

	mu     sync.RWMutex
	voices map[string]piperVoice

	dirty   atomic.Bool
	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
}

var _ tts.Provider = (*PiperEngine)(nil)

// NewPiperEngine scans the models directory. A directory with no voices is
// not an error; synthesis then reports the provider as unavailable.
func NewPiperEngine(cfg PiperConfig) (*PiperEngine, error) {
	if cfg.ModelsDir == "" {
		return nil, errors.New("models directory is required")
	}
	dir, err := homedir.Expand(cfg.ModelsDir)
	if err != nil {
		return nil, fmt.Errorf("expand models directory: %w", err)
	}
	if cfg.Binary == "" {
		cfg.Binary = "piper"
	}
	if cfg.Runner == nil {
		cfg.Runner = codec.NewRunner(0)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	e := &PiperEngine{
		binary:       cfg.Binary,
		dir:          dir,
		defaultVoice: cfg.DefaultVoice,
		runner:       cfg.Runner,
		logger:       logger.WithPrefix("piper"),
		done:         make(chan struct{}),
	}
	if err := e.rescan(); err != nil {
		return nil, err
	}

	if cfg.Watch {
		if err := e.watch(); err != nil {
			e.logger.Warn("Voice catalog will not refresh", "dir", dir, "err", err)
		}
	}
	return e, nil
}

func (e *PiperEngine) Name() string             { return "piper" }
func (e *PiperEngine) Kind() tts.Selector       { return tts.SelectFallback }
func (e *PiperEngine) NativeFormat() tts.Format { return tts.FormatWAV }

// ListVoices returns the installed voices sorted by ID.
func (e *PiperEngine) ListVoices(_ context.Context) ([]tts.Voice, error) {
	if err := e.refresh(); err != nil {
		return nil, tts.Unavailable("piper list voices", err)
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]tts.Voice, 0, len(e.voices))
	for _, v := range e.voices {
		out = append(out, v.Voice)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Synthesize runs piper for plain text. Pitch is ignored; markup must be
// stripped by the caller.
func (e *PiperEngine) Synthesize(ctx context.Context, req tts.Request) (*tts.Audio, error) {
	const op = "piper synthesize"

	if req.Markup {
		return nil, tts.Unsupported(op, "markup input")
	}
	if err := e.refresh(); err != nil {
		return nil, tts.Unavailable(op, err)
	}

	voice, err := e.resolve(req.Voice)
	if err != nil {
		return nil, err
	}

	args := []string{
		"--model", voice.model,
		"--config", voice.config,
		"--output_raw",
		"--length_scale", lengthScale(req.Rate),
	}

	pcm, err := e.runner.Run(ctx, []byte(req.Content), e.binary, args...)
	if err != nil {
		if errors.Is(err, codec.ErrBinaryNotFound) || ctx.Err() != nil {
			return nil, tts.Unavailable(op, err)
		}
		return nil, tts.NewError(tts.KindProviderUnavailable, op, "piper exited with an error", err)
	}
	if len(pcm) == 0 {
		return nil, tts.Unavailable(op, errors.New("piper produced no audio"))
	}

	e.logger.Debug("Synthesized", "voice", voice.ID, "chars", len(req.Content), "bytes", len(pcm))
	return &tts.Audio{
		Data:     codec.PCMToWAV(pcm, voice.pcm),
		Format:   tts.FormatWAV,
		Duration: voice.pcm.Duration(len(pcm)),
		Voice:    voice.ID,
	}, nil
}

// Close stops the directory watcher.
func (e *PiperEngine) Close() error {
	if e.watcher == nil {
		return nil
	}
	close(e.done)
	err := e.watcher.Close()
	e.wg.Wait()
	e.watcher = nil
	return err
}

func (e *PiperEngine) resolve(id string) (piperVoice, error) {
	id = strings.TrimSpace(id)

	e.mu.RLock()
	defer e.mu.RUnlock()

	if len(e.voices) == 0 {
		return piperVoice{}, tts.Unavailable("piper synthesize", fmt.Errorf("no voices installed in %s", e.dir))
	}
	if id == "" {
		id = e.defaultVoice
	}
	if id == "" {
		ids := make([]string, 0, len(e.voices))
		for k := range e.voices {
			ids = append(ids, k)
		}
		sort.Strings(ids)
		id = ids[0]
	}
	v, ok := e.voices[id]
	if !ok {
		return piperVoice{}, tts.InvalidVoice("piper synthesize", id, nil)
	}
	return v, nil
}

// refresh rescans the catalog if the watcher saw a change.
func (e *PiperEngine) refresh() error {
	if !e.dirty.CompareAndSwap(true, false) {
		return nil
	}
	return e.rescan()
}

func (e *PiperEngine) rescan() error {
	entries, err := os.ReadDir(e.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			e.setVoices(nil)
			return nil
		}
		return fmt.Errorf("read models directory: %w", err)
	}

	voices := make(map[string]piperVoice)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, modelExt) {
			continue
		}
		v, err := loadPiperVoice(filepath.Join(e.dir, name))
		if err != nil {
			e.logger.Warn("Skipping voice", "model", name, "err", err)
			continue
		}
		voices[v.ID] = v
	}
	e.setVoices(voices)
	e.logger.Debug("Scanned voices", "dir", e.dir, "count", len(voices))
	return nil
}

func (e *PiperEngine) setVoices(v map[string]piperVoice) {
	e.mu.Lock()
	e.voices = v
	e.mu.Unlock()
}

func (e *PiperEngine) watch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(e.dir); err != nil {
		_ = w.Close()
		return err
	}
	e.watcher = w

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for {
			select {
			case <-e.done:
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if strings.HasSuffix(ev.Name, modelExt) || strings.HasSuffix(ev.Name, modelExt+".json") {
					e.dirty.Store(true)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				e.logger.Warn("Watcher error", "err", err)
			}
		}
	}()
	return nil
}

// piperModelConfig is the part of <model>.onnx.json we read.
type piperModelConfig struct {
	Dataset string `json:"dataset"`
	Audio   struct {
		SampleRate int    `json:"sample_rate"`
		Quality    string `json:"quality"`
	} `json:"audio"`
	Language struct {
		Code string `json:"code"`
	} `json:"language"`
}

func loadPiperVoice(model string) (piperVoice, error) {
	config := model + ".json"
	data, err := os.ReadFile(config)
	if err != nil {
		return piperVoice{}, fmt.Errorf("read model config: %w", err)
	}
	var mc piperModelConfig
	if err := json.Unmarshal(data, &mc); err != nil {
		return piperVoice{}, fmt.Errorf("parse model config: %w", err)
	}

	pcm := codec.DefaultPCMFormat()
	if mc.Audio.SampleRate > 0 {
		pcm.SampleRate = mc.Audio.SampleRate
	}

	id := strings.TrimSuffix(filepath.Base(model), modelExt)
	name := mc.Dataset
	if name == "" {
		name = id
	}
	if mc.Audio.Quality != "" {
		name += " (" + mc.Audio.Quality + ")"
	}

	return piperVoice{
		Voice: tts.Voice{
			ID:     id,
			Name:   name,
			Locale: strings.ReplaceAll(mc.Language.Code, "_", "-"),
		},
		model:  model,
		config: config,
		pcm:    pcm,
	}, nil
}

// lengthScale converts a percent rate to piper's phoneme length multiplier.
func lengthScale(percent int) string {
	return strconv.FormatFloat(1/(1+float64(percent)/100), 'f', 3, 64)
}
