/*
Copyright (C) 2026 jkjh8

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package server wires the whole controller together: database, state
// document, engine subprocess, ingest path, command surface, and the
// three control transports.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/jkjh8/vp-app/internal/api"
	"github.com/jkjh8/vp-app/internal/broadcast"
	"github.com/jkjh8/vp-app/internal/config"
	"github.com/jkjh8/vp-app/internal/control"
	"github.com/jkjh8/vp-app/internal/db"
	"github.com/jkjh8/vp-app/internal/engine"
	"github.com/jkjh8/vp-app/internal/eventbus"
	"github.com/jkjh8/vp-app/internal/events"
	"github.com/jkjh8/vp-app/internal/ingest"
	"github.com/jkjh8/vp-app/internal/logbuffer"
	"github.com/jkjh8/vp-app/internal/state"
	"github.com/jkjh8/vp-app/internal/store"
	"github.com/jkjh8/vp-app/internal/telemetry"
)

// Server bundles every long-lived component of the controller.
type Server struct {
	cfg    *config.Config
	logger zerolog.Logger

	// OnEngineCrash is invoked when the engine subprocess exits without
	// being asked to. There is no resumable state without the engine, so
	// the default tears the process down. Set before Start.
	OnEngineCrash func(code int)

	db         *gorm.DB
	store      *store.Store
	state      *state.Store
	bus        *events.Bus
	caster     *broadcast.Broadcaster
	engine     *engine.Port
	ingestor   *ingest.Ingestor
	handlers   *control.Handlers
	tcp        *control.TCPServer
	udp        *control.UDPServer
	api        *api.API
	mirror     *eventbus.Redis
	router     chi.Router
	httpServer *http.Server

	mirrorCancel context.CancelFunc
}

// New constructs the server and wires dependencies. Nothing listens or
// spawns until Start.
func New(cfg *config.Config, logBuf *logbuffer.Buffer, logger zerolog.Logger) (*Server, error) {
	gormDB, err := db.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := db.Migrate(gormDB); err != nil {
		db.Close(gormDB)
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	s := &Server{
		cfg:    cfg,
		logger: logger.With().Str("component", "server").Logger(),
		db:     gormDB,
	}
	s.store = store.New(gormDB, logger)
	s.state = state.New(state.Ports{
		HTTP: cfg.HTTPPort,
		TCP:  cfg.TCPPort,
		UDP:  cfg.UDPPort,
	})
	s.bus = events.NewBus()
	s.caster = broadcast.New(s.bus, logger)
	s.engine = engine.New(engine.Config{Bin: cfg.EngineBin, Args: cfg.EngineArgs}, logger)
	s.handlers = control.New(s.state, s.store, s.engine, s.caster, logger)
	// Engine events and transport commands take turns on the same lock.
	s.ingestor = ingest.New(s.state, s.store, s.engine, s.caster, s.handlers.Locker(), logger)
	s.tcp = control.NewTCPServer(s.handlers, s.caster, logger)
	s.udp = control.NewUDPServer(s.handlers, logger)
	s.api = api.New(s.state, s.store, s.handlers, s.bus, logBuf, logger)

	redisCfg := eventbus.DefaultRedisConfig()
	redisCfg.Addr = cfg.RedisAddr
	redisCfg.Password = cfg.RedisPassword
	redisCfg.DB = cfg.RedisDB
	s.mirror = eventbus.NewRedis(redisCfg, s.bus, logger)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(telemetry.MetricsMiddleware)
	router.Handle("/metrics", telemetry.Handler())
	s.api.Routes(router)
	s.router = router

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.HTTPBind, cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s, nil
}

// Start restores persisted settings, spawns the engine, and brings up
// all three transports. It returns once everything is listening.
func (s *Server) Start(ctx context.Context) error {
	if err := s.restoreSettings(ctx); err != nil {
		return err
	}

	s.engine.OnLine = func(line string) {
		// One line at a time, stream order preserved.
		s.ingestor.HandleLine(ctx, line)
	}
	s.engine.OnExit = func(code int) {
		s.logger.Error().Int("code", code).Msg("engine exited unexpectedly")
		if s.OnEngineCrash != nil {
			s.OnEngineCrash(code)
		}
	}

	if err := s.engine.Start(s.state.Read()); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	// The device list arrives later as an audiodevices event.
	if err := s.engine.Send(engine.GetAudioDevices()); err != nil {
		s.logger.Warn().Err(err).Msg("audio device handshake failed")
	}

	if err := s.tcp.Listen(ctx, fmt.Sprintf(":%d", s.cfg.TCPPort)); err != nil {
		return err
	}
	if err := s.udp.Listen(ctx, fmt.Sprintf(":%d", s.cfg.UDPPort)); err != nil {
		return err
	}

	mirrorCtx, cancel := context.WithCancel(context.Background())
	s.mirrorCancel = cancel
	s.mirror.Run(mirrorCtx)

	go func() {
		s.logger.Info().Str("addr", s.httpServer.Addr).Msg("http listening")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("http server exited")
		}
	}()
	return nil
}

// restoreSettings replays persisted configuration into the state
// document so the engine is initialized with what the user last set.
func (s *Server) restoreSettings(ctx context.Context) error {
	settings, err := s.store.Settings(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	for _, setting := range settings {
		switch setting.Type {
		case "background":
			if v, ok := setting.Value["value"].(string); ok && v != "" {
				s.state.Merge(map[string]any{"background": v})
			}
		case "image_time":
			if v, ok := setting.Value["value"].(float64); ok && v > 0 {
				s.state.Merge(map[string]any{"imageTime": v})
			}
		case "repeat":
			if v, ok := setting.Value["value"].(string); ok && state.ValidRepeat(v) {
				s.state.Merge(map[string]any{"repeat": v})
			}
		case "audio_device":
			if v, ok := setting.Value["value"].(string); ok && v != "" {
				s.state.Merge(map[string]any{"device": map[string]any{"audiodevice": v}})
			}
		case "playlist_mode":
			if v, ok := setting.Value["value"].(bool); ok {
				s.state.Merge(map[string]any{"playlistMode": v})
			}
		case "logo":
			s.state.Merge(map[string]any{"logo": map[string]any(setting.Value)})
		case "playlist":
			s.restorePlaylist(ctx, setting.Value)
		case "fullscreen":
			// Display state, not restored: a fresh engine starts windowed.
		default:
			s.logger.Debug().Str("type", setting.Type).Msg("unknown persisted setting")
		}
	}
	return nil
}

// restorePlaylist reloads the last playlist's tracks without starting
// playback.
func (s *Server) restorePlaylist(ctx context.Context, value map[string]any) {
	id, ok := value["id"].(string)
	if !ok || id == "" {
		return
	}
	lists, err := s.store.Playlists(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("playlist restore failed")
		return
	}
	for i := range lists {
		if lists[i].ID != id {
			continue
		}
		files, err := s.store.ResolveTracks(ctx, &lists[i])
		if err != nil {
			s.logger.Warn().Err(err).Str("playlist", id).Msg("track resolve failed")
			return
		}
		tracks := make([]any, 0, len(files))
		for _, f := range files {
			tracks = append(tracks, f.Doc())
		}
		s.state.Merge(map[string]any{
			"currentPlaylistId":  id,
			"tracks":             tracks,
			"playlistTrackIndex": float64(0),
		})
		return
	}
	s.logger.Warn().Str("playlist", id).Msg("persisted playlist no longer exists")
}

// Close tears everything down: engine first so no more events flow,
// then the transports, then storage.
func (s *Server) Close() error {
	s.engine.Stop()

	if s.mirrorCancel != nil {
		s.mirrorCancel()
	}

	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	record(s.tcp.Close())
	record(s.udp.Close())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	record(s.httpServer.Shutdown(shutdownCtx))
	cancel()

	record(s.mirror.Close())
	record(db.Close(s.db))
	return firstErr
}
