package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/ttscache/internal/cache"
	"github.com/dgnsrekt/ttscache/internal/codec"
	"github.com/dgnsrekt/ttscache/internal/config"
	"github.com/dgnsrekt/ttscache/internal/production"
	"github.com/dgnsrekt/ttscache/internal/service"
	"github.com/dgnsrekt/ttscache/internal/tts"
	"github.com/dgnsrekt/ttscache/internal/tts/engines"
)

// app is the wired object graph shared by serve, synth and voices.
type app struct {
	store    *cache.Store
	registry *tts.Registry
	coord    *production.Coordinator
	svc      *service.Service
}

func openStore(cfg config.Config) (*cache.Store, error) {
	return cache.NewStore(cache.Options{
		Root:    cfg.AudioDir,
		Enabled: cfg.CacheEnabled,
		Logger:  log.Default(),
	})
}

// newApp builds every component. An engine that cannot start is logged and
// left out; having neither is an error. watch enables voice catalog
// refreshes for long-running processes.
func newApp(ctx context.Context, cfg config.Config, watch bool) (*app, error) {
	store, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	var primary, fallback tts.Provider
	if cfg.Engines.Offline {
		log.Info("Offline mode, primary engine disabled")
	} else {
		g, err := engines.NewGoogle(ctx, engines.GoogleConfig{
			CredentialsFile:   cfg.Engines.GoogleCredentials,
			Endpoint:          cfg.Engines.GoogleEndpoint,
			DefaultVoice:      cfg.DefaultVoice,
			RequestsPerMinute: cfg.Engines.GoogleRequestsPerMinute,
			Logger:            log.Default(),
		})
		if err != nil {
			log.Warn("Primary engine unavailable", "engine", "google", "err", err)
		} else {
			primary = g
		}
	}

	p, err := engines.NewPiperEngine(engines.PiperConfig{
		Binary:       cfg.Engines.PiperBinary,
		ModelsDir:    cfg.Engines.PiperModelsDir,
		DefaultVoice: cfg.Engines.PiperVoice,
		Watch:        watch,
		Runner:       codec.NewRunner(cfg.Engines.MediaConcurrency),
		Logger:       log.Default(),
	})
	if err != nil {
		log.Warn("Fallback engine unavailable", "engine", "piper", "err", err)
	} else {
		fallback = p
	}

	if primary == nil && fallback == nil {
		return nil, errors.New("no synthesis engine could be started, run `ttscache doctor`")
	}
	registry := tts.NewRegistry(primary, fallback)

	coord, err := production.New(production.Config{
		Store:    store,
		Registry: registry,
		Codec: codec.New(codec.Config{
			FFmpeg:      cfg.Engines.FFmpegBinary,
			FFprobe:     cfg.Engines.FFprobeBinary,
			Concurrency: cfg.Engines.MediaConcurrency,
			Logger:      log.Default(),
		}),
		ProviderTimeout:   cfg.ProviderTimeout,
		ProductionTimeout: cfg.ProductionTimeout,
		Logger:            log.Default(),
	})
	if err != nil {
		_ = registry.Close()
		return nil, err
	}

	svc, err := service.New(service.Options{
		Coordinator: coord,
		Registry:    registry,
		Store:       store,
		Limits:      cfg.Limits(),
		Defaults: service.Defaults{
			Engine: cfg.DefaultEngine,
			Voice:  cfg.DefaultVoice,
			Format: cfg.DefaultFormat,
		},
		BaseURL: cfg.BaseURL,
		Logger:  log.Default(),
	})
	if err != nil {
		_ = registry.Close()
		return nil, err
	}

	names := make([]string, 0, 2)
	for _, p := range registry.Providers() {
		names = append(names, fmt.Sprintf("%s (%s)", p.Name(), p.Kind()))
	}
	log.Debug("Engines ready", "engines", names)

	return &app{store: store, registry: registry, coord: coord, svc: svc}, nil
}

func (a *app) Close() error {
	return a.registry.Close()
}
