package service

import (
	"context"
	"errors"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/ttscache/internal/cache"
	"github.com/dgnsrekt/ttscache/internal/production"
	"github.com/dgnsrekt/ttscache/internal/tts"
)

// StaticPrefix is the URL path under which the audio root is served.
const StaticPrefix = "/static/audio/"

// Defaults fill in fields a caller left empty.
type Defaults struct {
	Engine string
	Voice  string // applied only when the primary serves the request
	Format string
}

// Options wires a Service.
type Options struct {
	Coordinator *production.Coordinator
	Registry    *tts.Registry
	Store       *cache.Store
	Limits      tts.Limits
	Defaults    Defaults

	// BaseURL prefixes audio URLs; empty yields root-relative URLs.
	BaseURL string

	Logger *log.Logger
}

// Input is a synthesis request as received from a client.
type Input struct {
	Text      string `json:"text"`
	Engine    string `json:"engine"`
	Voice     string `json:"voice"`
	Rate      int    `json:"rate"`
	Pitch     int    `json:"pitch"`
	Format    string `json:"format"`
	SSML      bool   `json:"ssml"`
	Normalize *bool  `json:"normalize"` // nil means true
}

// Response describes the audio serving a request.
type Response struct {
	AudioURL    string          `json:"audio_url"`
	Duration    *float64        `json:"duration"`
	Engine      string          `json:"engine"`
	Voice       string          `json:"voice"`
	Format      tts.Format      `json:"format"`
	Cached      bool            `json:"cached"`
	Fingerprint tts.Fingerprint `json:"fingerprint"`
}

// Stats combines coordinator and store counters.
type Stats struct {
	Production production.Stats `json:"production"`
	Cache      cache.Stats      `json:"cache"`
}

// Service is the request layer: it resolves defaults, validates and
// normalizes input, and shapes coordinator results for clients.
type Service struct {
	coord    *production.Coordinator
	registry *tts.Registry
	store    *cache.Store
	limits   tts.Limits
	defaults Defaults
	baseURL  string
	logger   *log.Logger
}

// New creates a service.
func New(opts Options) (*Service, error) {
	if opts.Coordinator == nil || opts.Registry == nil || opts.Store == nil {
		return nil, errors.New("service: coordinator, registry and store are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Service{
		coord:    opts.Coordinator,
		registry: opts.Registry,
		store:    opts.Store,
		limits:   opts.Limits,
		defaults: opts.Defaults,
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		logger:   logger.WithPrefix("service"),
	}, nil
}

// Request turns client input into a validated, prepared request.
func (s *Service) Request(in Input) (tts.Request, error) {
	engine := in.Engine
	if strings.TrimSpace(engine) == "" {
		engine = s.defaults.Engine
	}
	sel, err := tts.ParseSelector(engine)
	if err != nil {
		return tts.Request{}, err
	}

	format := in.Format
	if strings.TrimSpace(format) == "" {
		format = s.defaults.Format
	}
	if strings.TrimSpace(format) == "" {
		format = string(tts.FormatMP3)
	}
	f, err := tts.ParseFormat(format)
	if err != nil {
		return tts.Request{}, err
	}

	voice := strings.TrimSpace(in.Voice)
	if voice == "" && s.servedByPrimary(sel) {
		voice = s.defaults.Voice
	}

	normalize := in.Normalize == nil || *in.Normalize
	req := tts.Request{
		Engine:    sel,
		Voice:     voice,
		Content:   in.Text,
		Markup:    in.SSML,
		Rate:      in.Rate,
		Pitch:     in.Pitch,
		Format:    f,
		Normalize: normalize,
	}

	// limits apply to the text as submitted, before normalization
	if err := tts.Validate(req, s.limits); err != nil {
		return tts.Request{}, err
	}
	req = req.Prepared()
	if err := tts.Validate(req, s.limits); err != nil {
		return tts.Request{}, err
	}
	return req, nil
}

func (s *Service) servedByPrimary(sel tts.Selector) bool {
	p, err := s.registry.Get(sel)
	return err == nil && p.Kind() == tts.SelectPrimary
}

// Synthesize serves in from the cache or produces it.
func (s *Service) Synthesize(ctx context.Context, in Input) (*Response, error) {
	req, err := s.Request(in)
	if err != nil {
		return nil, err
	}

	res, err := s.coord.Produce(ctx, req)
	if err != nil {
		return nil, err
	}
	return s.response(res), nil
}

func (s *Service) response(res *production.Result) *Response {
	e := res.Entry
	return &Response{
		AudioURL:    s.AudioURL(e),
		Duration:    e.Duration,
		Engine:      e.Engine,
		Voice:       e.Voice,
		Format:      e.Format,
		Cached:      res.Cached,
		Fingerprint: e.Fingerprint,
	}
}

// AudioURL returns the public URL of an entry's artifact.
func (s *Service) AudioURL(e *cache.Entry) string {
	return s.baseURL + StaticPrefix + e.RelPath
}

// Voices lists the voices of the provider selected by engine. Empty
// selects the configured default engine.
func (s *Service) Voices(ctx context.Context, engine string) (tts.Selector, []tts.Voice, error) {
	if strings.TrimSpace(engine) == "" {
		engine = s.defaults.Engine
	}
	sel, err := tts.ParseSelector(engine)
	if err != nil {
		return "", nil, err
	}
	voices, err := s.registry.Voices(ctx, sel)
	if err != nil {
		return sel, nil, err
	}
	return sel, voices, nil
}

// Lookup returns the committed entry for a fingerprint.
func (s *Service) Lookup(fp tts.Fingerprint) (*cache.Entry, bool, error) {
	return s.store.Lookup(fp)
}

// Stats returns the current counters.
func (s *Service) Stats() (Stats, error) {
	cs, err := s.store.Stats()
	if err != nil {
		return Stats{}, err
	}
	return Stats{Production: s.coord.Stats(), Cache: cs}, nil
}

// Store returns the cache store backing the service.
func (s *Service) Store() *cache.Store { return s.store }
