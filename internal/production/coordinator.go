package production

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/ttscache/internal/cache"
	"github.com/dgnsrekt/ttscache/internal/tts"
	"golang.org/x/sync/singleflight"
)

// Default timeouts.
const (
	DefaultProviderTimeout   = 30 * time.Second
	DefaultProductionTimeout = 2 * time.Minute
)

// Codec converts and probes audio. *codec.Codec satisfies it.
type Codec interface {
	Transcode(ctx context.Context, data []byte, from, to tts.Format) ([]byte, error)
	Duration(ctx context.Context, data []byte, format tts.Format) (time.Duration, error)
}

// Config wires a Coordinator.
type Config struct {
	Store    *cache.Store
	Registry *tts.Registry
	Codec    Codec

	// ProviderTimeout bounds each provider call.
	ProviderTimeout time.Duration

	// ProductionTimeout bounds one whole production, including retry,
	// transcoding and commit.
	ProductionTimeout time.Duration

	Logger *log.Logger
}

// Result is the outcome of Produce.
type Result struct {
	Entry *cache.Entry

	// Cached is true when no synthesis was needed for this call.
	Cached bool
}

// Stats counts coordinator outcomes since start.
type Stats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Joins     int64 `json:"joins"`
	Fallbacks int64 `json:"fallbacks"`
	Failures  int64 `json:"failures"`
}

// Coordinator turns requests into cache entries, producing each
// fingerprint at most once at a time.
type Coordinator struct {
	store    *cache.Store
	registry *tts.Registry
	codec    Codec

	providerTimeout   time.Duration
	productionTimeout time.Duration
	logger            *log.Logger

	flights singleflight.Group

	hits, misses, joins, fallbacks, failures atomic.Int64
}

// New creates a coordinator.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Store == nil {
		return nil, errors.New("production: store is required")
	}
	if cfg.Registry == nil {
		return nil, errors.New("production: registry is required")
	}
	if cfg.Codec == nil {
		return nil, errors.New("production: codec is required")
	}
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = DefaultProviderTimeout
	}
	if cfg.ProductionTimeout <= 0 {
		cfg.ProductionTimeout = DefaultProductionTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &Coordinator{
		store:             cfg.Store,
		registry:          cfg.Registry,
		codec:             cfg.Codec,
		providerTimeout:   cfg.ProviderTimeout,
		productionTimeout: cfg.ProductionTimeout,
		logger:            logger.WithPrefix("production"),
	}, nil
}

// Produce returns the entry for req, synthesizing it on a miss. req must
// already be validated and prepared; its fingerprint is the cache key.
//
// Concurrent callers for one fingerprint share a single production. A
// caller whose ctx ends gets ctx.Err() while the production runs on and
// commits for later callers.
func (c *Coordinator) Produce(ctx context.Context, req tts.Request) (*Result, error) {
	fp := tts.FingerprintOf(req)

	entry, ok, err := c.store.Lookup(fp)
	if err != nil {
		return nil, err
	}
	if ok {
		c.hits.Add(1)
		c.logger.Debug("Cache hit", "fp", fp.Short(), "engine", entry.Engine)
		return &Result{Entry: entry, Cached: true}, nil
	}

	var leader atomic.Bool
	ch := c.flights.DoChan(string(fp), func() (any, error) {
		leader.Store(true)
		// Detached so that no single waiter can cancel the shared work.
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.productionTimeout)
		defer cancel()
		return c.produce(pctx, fp, req)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if !leader.Load() {
			c.joins.Add(1)
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Result), nil
	}
}

// produce runs inside the flight.
func (c *Coordinator) produce(ctx context.Context, fp tts.Fingerprint, req tts.Request) (*Result, error) {
	// A flight that finished between our lookup and joining has committed.
	if entry, ok, err := c.store.Lookup(fp); err == nil && ok {
		c.hits.Add(1)
		return &Result{Entry: entry, Cached: true}, nil
	}
	c.misses.Add(1)

	start := time.Now()
	audio, provider, err := c.synthesize(ctx, req)
	if err != nil {
		c.failures.Add(1)
		c.logger.Warn("Synthesis failed", "fp", fp.Short(), "engine", req.Engine, "kind", tts.KindOf(err), "err", err)
		return nil, err
	}

	data := audio.Data
	if audio.Format != req.Format {
		data, err = c.codec.Transcode(ctx, audio.Data, audio.Format, req.Format)
		if err != nil {
			c.failures.Add(1)
			c.logger.Warn("Transcode failed", "fp", fp.Short(), "from", audio.Format, "to", req.Format, "err", err)
			return nil, err
		}
	}

	duration := audio.Duration
	if duration == 0 || audio.Format != req.Format {
		d, err := c.codec.Duration(ctx, data, req.Format)
		if err != nil {
			// unknown duration is recorded as null
			c.logger.Debug("Duration probe failed", "fp", fp.Short(), "err", err)
		} else {
			duration = d
		}
	}

	voice := audio.Voice
	if voice == "" {
		voice = req.Voice
	}
	entry, err := c.store.Commit(fp, data, cache.Meta{
		Format:   req.Format,
		Duration: duration,
		Engine:   provider.Name(),
		Voice:    voice,
	})
	if err != nil {
		c.failures.Add(1)
		c.logger.Error("Commit failed", "fp", fp.Short(), "err", err)
		return nil, err
	}

	c.logger.Info("Produced",
		"fp", fp.Short(),
		"engine", provider.Name(),
		"voice", voice,
		"format", req.Format,
		"took", time.Since(start).Round(time.Millisecond))
	return &Result{Entry: entry}, nil
}

// synthesize calls the selected provider, retrying once on the fallback
// when the primary is unavailable.
func (c *Coordinator) synthesize(ctx context.Context, req tts.Request) (*tts.Audio, tts.Provider, error) {
	provider, err := c.registry.Get(req.Engine)
	if err != nil && !tts.IsKind(err, tts.KindProviderUnavailable) {
		return nil, nil, err
	}

	var audio *tts.Audio
	primaryName := "primary"
	if provider != nil {
		if provider.Kind() == tts.SelectFallback {
			freq, err := req.ForFallback()
			if err != nil {
				return nil, nil, err
			}
			out, err := c.call(ctx, provider, freq)
			return out, provider, err
		}

		primaryName = provider.Name()
		audio, err = c.call(ctx, provider, req)
		if err == nil {
			return audio, provider, nil
		}
		if !tts.IsKind(err, tts.KindProviderUnavailable) {
			return nil, nil, err
		}
	}

	// an unconfigured primary is handled like an outage
	fallback := c.registry.Fallback()
	if fallback == nil {
		return nil, nil, err
	}

	freq, ferr := req.ForFallback()
	if ferr != nil {
		c.logger.Warn("Primary unavailable and request cannot be converted for fallback", "err", ferr)
		return nil, nil, ferr
	}
	// primary voice ids mean nothing to the fallback; use its default
	freq.Voice = ""

	c.fallbacks.Add(1)
	c.logger.Warn("Primary unavailable, using fallback", "primary", primaryName, "fallback", fallback.Name(), "err", err)

	audio, ferr = c.call(ctx, fallback, freq)
	if ferr != nil {
		return nil, nil, fmt.Errorf("fallback after %s failure: %w", primaryName, ferr)
	}
	return audio, fallback, nil
}

// call runs one provider call under the provider timeout. Expiry and
// unclassified failures are reported as an outage.
func (c *Coordinator) call(ctx context.Context, p tts.Provider, req tts.Request) (*tts.Audio, error) {
	cctx, cancel := context.WithTimeout(ctx, c.providerTimeout)
	defer cancel()

	audio, err := p.Synthesize(cctx, req)
	if err != nil {
		var te *tts.Error
		if !errors.As(err, &te) {
			return nil, tts.Unavailable(p.Name()+" synthesize", err)
		}
		return nil, err
	}
	if audio == nil || len(audio.Data) == 0 {
		return nil, tts.Unavailable(p.Name()+" synthesize", errors.New("provider returned no audio"))
	}
	if audio.Format == "" {
		audio.Format = p.NativeFormat()
	}
	return audio, nil
}

// Stats returns a snapshot of the counters.
func (c *Coordinator) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Joins:     c.joins.Load(),
		Fallbacks: c.fallbacks.Load(),
		Failures:  c.failures.Load(),
	}
}
