package bootstrap

import (
	"context"
	"errors"
	"net/http"

	"aura/internal/audio"
	"aura/internal/config"
	"aura/internal/logger"
	"aura/internal/metrics"
	"aura/internal/ports"
	"aura/internal/providers/analysis"
	"aura/internal/providers/deepgram"
	"aura/internal/rules"
	"aura/internal/server"
	"aura/internal/usecase"
)

// Options customizes the runtime graph.
type Options struct {
	// ConfigPath overrides AURA_CONFIG when set.
	ConfigPath string
	Clipboard  ports.Clipboard
	// Sinks receive session events after the display state and hub.
	Sinks []ports.EventSink
}

// Services is the assembled runtime graph.
type Services struct {
	Config     config.Config
	Logger     *logger.Logger
	Metrics    *metrics.Metrics
	Controller *usecase.SessionController
	Display    *usecase.DisplayState
	Events     *usecase.Broadcaster
	Hub        *server.Hub
	Router     http.Handler
	// Server is nil when server.address is empty.
	Server *server.Server
}

// Build wires all backend dependencies for the current runtime.
func Build(opts Options) (*Services, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	log, err := logger.New(logger.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	if err != nil {
		return nil, err
	}

	rulesEngine, err := rules.NewEngine(cfg.Rules.Path, cfg.Rules.IterationLimit)
	if err != nil {
		return nil, err
	}
	log.Info("Rules loaded",
		logger.String("path", cfg.Rules.Path),
		logger.Int("rules", rulesEngine.Len()))

	m := metrics.New()
	display := usecase.NewDisplayState()
	hub := server.NewHub(display.Snapshot, log)
	events := usecase.NewBroadcaster(display, hub)
	for _, sink := range opts.Sinks {
		events.Subscribe(sink)
	}

	coordinator := usecase.NewAnalysisCoordinator(
		analysis.NewClient(analysis.Config{
			Endpoint: cfg.Analysis.Endpoint,
			Timeout:  cfg.Analysis.Timeout(),
		}, log),
		rulesEngine,
		events,
		cfg.Analysis.Timeout(),
		log,
		m,
	)

	controller := usecase.NewSessionController(usecase.Dependencies{
		Audio: audio.NewFFMPEGCapture(cfg.Audio.RecorderCommand, log),
		Provider: deepgram.NewProvider(deepgram.Config{
			APIKey:      cfg.Deepgram.APIKey,
			APIBaseURL:  cfg.Deepgram.APIBaseURL,
			Model:       cfg.Deepgram.Model,
			Language:    cfg.Deepgram.Language,
			SmartFormat: cfg.Deepgram.SmartFormat,
		}, log, m),
		Analysis:  coordinator,
		Rules:     rulesEngine,
		Clipboard: opts.Clipboard,
		Events:    events,
		Logger:    log,
		Metrics:   m,
	}, usecase.Config{
		Audio: ports.AudioConfig{
			SampleRate:       cfg.Audio.SampleRate,
			Channels:         cfg.Audio.Channels,
			BlockSize:        cfg.Audio.BlockSize,
			InputFormat:      cfg.Audio.InputFormat,
			InputDevice:      cfg.Audio.InputDevice,
			EchoCancellation: cfg.Audio.EchoCancellation,
			EchoCancelDevice: cfg.Audio.EchoCancelDevice,
			NoiseSuppression: cfg.Audio.NoiseSuppression,
			AutoGain:         cfg.Audio.AutoGain,
		},
		Streaming: ports.StreamingConfig{
			SampleRate:     cfg.Audio.SampleRate,
			Channels:       cfg.Audio.Channels,
			Encoding:       "linear16",
			Punctuate:      cfg.Deepgram.Punctuate,
			InterimResults: true,
		},
	})

	router := server.NewRouter(server.RouterDeps{
		Sessions: controller,
		State:    display,
		Hub:      hub,
		Metrics:  m.Handler(),
		Logger:   log,
	})

	services := &Services{
		Config:     cfg,
		Logger:     log,
		Metrics:    m,
		Controller: controller,
		Display:    display,
		Events:     events,
		Hub:        hub,
		Router:     router,
	}
	if cfg.Server.Address != "" {
		services.Server = server.New(cfg.Server.Address, router, hub, log)
	}
	return services, nil
}

// Shutdown stops the session, waits for in-flight analysis, then stops the
// observer surface.
func (s *Services) Shutdown(ctx context.Context) error {
	var errs []error
	if err := s.Controller.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if s.Server != nil {
		if err := s.Server.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	} else {
		s.Hub.Close()
	}
	_ = s.Logger.Sync()
	return errors.Join(errs...)
}
