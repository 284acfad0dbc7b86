package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"os"
	"sync"
	"time"

	"github.com/siohaza/tapserv/internal/gamestate"
	"github.com/siohaza/tapserv/internal/hooks"
	"github.com/siohaza/tapserv/internal/metrics"
	"github.com/siohaza/tapserv/internal/network"
	"github.com/siohaza/tapserv/internal/ping"
	"github.com/siohaza/tapserv/pkg/config"
)

const (
	GameMode = "bomber"

	shutdownTimeout = 5 * time.Second
)

type Server struct {
	config      *config.Config
	transport   *network.Transport
	engine      *gamestate.Engine
	handler     *Handler
	hooks       *hooks.Chain
	events      *hooks.Async
	pingHandler *ping.Handler
	logger      *slog.Logger
	version     string
	startTime   time.Time
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	stopOnce    sync.Once
}

func New(cfg *config.Config, version string, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}

	transport, err := network.New(network.OptionsFromConfig(cfg.Transport), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create transport: %w", err)
	}

	engine, err := gamestate.NewEngine(cfg.Game, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create game engine: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	srv := &Server{
		config:    cfg,
		transport: transport,
		engine:    engine,
		hooks:     hooks.NewChain(),
		logger:    logger,
		version:   version,
		ctx:       ctx,
		cancel:    cancel,
	}
	// scripts run on their own goroutine so the receive loop never waits on them
	srv.events = hooks.NewAsync(srv.hooks, hooks.DefaultQueueSize, logger)
	srv.handler = NewHandler(engine, transport, srv.events, logger)

	if cfg.Server.QueryEnabled {
		listenAddr := fmt.Sprintf(":%d", cfg.Server.Port+1)
		srv.pingHandler = ping.NewHandler(listenAddr, srv.serverInfo, logger)
	}

	return srv, nil
}

// RegisterHooks adds an observer. Call it before Start.
func (s *Server) RegisterHooks(h hooks.Hooks) {
	s.hooks.Register(h)
}

func (s *Server) Start() error {
	if path := s.config.Scripting.HookScript; path != "" {
		luaHooks, err := hooks.NewLuaHooks(path, s.logger)
		if err != nil {
			return fmt.Errorf("failed to load hooks: %w", err)
		}
		s.hooks.Register(luaHooks)
	}

	if err := s.transport.Listen(fmt.Sprintf(":%d", s.config.Server.Port)); err != nil {
		return fmt.Errorf("failed to start transport: %w", err)
	}

	if s.pingHandler != nil {
		if err := s.pingHandler.Start(); err != nil {
			s.logger.Warn("failed to start query handler", "error", err)
			s.pingHandler = nil
		}
	}

	s.startTime = time.Now()

	s.wg.Add(3)
	go func() {
		defer s.wg.Done()
		s.engine.Run(s.ctx)
	}()
	go func() {
		defer s.wg.Done()
		err := s.transport.Serve(s.ctx, func(payload []byte, from netip.AddrPort) {
			s.handler.Handle(s.ctx, payload, from)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("transport stopped", "error", err)
		}
	}()
	go func() {
		defer s.wg.Done()
		s.run()
	}()

	s.logger.Info("server started", "name", s.config.Server.Name, "addr", s.transport.LocalAddr())
	return nil
}

func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		s.logger.Info("stopping server")

		s.cancel()
		if err := s.transport.Close(); err != nil {
			s.logger.Warn("failed to close transport", "error", err)
		}
		if s.pingHandler != nil {
			s.pingHandler.Stop()
		}

		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(shutdownTimeout):
			s.logger.Warn("timed out waiting for server loops")
		}
		s.events.Close()

		s.logger.Info("server stopped", "uptime", s.Uptime().Round(time.Second))
	})
}

func (s *Server) Addr() netip.AddrPort {
	return s.transport.LocalAddr()
}

func (s *Server) Uptime() time.Duration {
	if s.startTime.IsZero() {
		return 0
	}
	return time.Since(s.startTime)
}

// run drives round after round until the server stops.
func (s *Server) run() {
	info, err := s.engine.Info(s.ctx)
	if err != nil {
		return
	}
	roundID := info.RoundID

	for {
		s.logger.Info("round started", "round", roundID, "timer", info.Timer)
		s.events.OnRoundStart(roundID.String())

		if !s.playRound() {
			return
		}

		summary, next, err := s.engine.Reset(s.ctx)
		if err != nil {
			if s.ctx.Err() == nil {
				s.logger.Error("failed to reset round", "error", err)
			}
			return
		}

		metrics.RecordRoundCompleted()
		s.logger.Info("round ended", "round", summary.RoundID, "players", len(summary.Scores))
		s.events.OnRoundEnd(summary.RoundID.String(), summary.Scores)

		roundID = next
		info.Timer = s.config.Game.RoundSeconds
	}
}

// playRound runs the round tasks until the countdown expires. It reports false when
// the server is shutting down instead.
func (s *Server) playRound() bool {
	roundCtx, endRound := context.WithCancel(s.ctx)
	defer endRound()

	var wg sync.WaitGroup
	newRoundTasks(s.engine, s.config.Game, s.events, s.logger).start(roundCtx, endRound, &wg)

	<-roundCtx.Done()
	wg.Wait()

	return s.ctx.Err() == nil
}

func (s *Server) serverInfo(ctx context.Context) (ping.ServerInfo, error) {
	info, err := s.engine.Info(ctx)
	if err != nil {
		return ping.ServerInfo{}, err
	}

	return ping.ServerInfo{
		Name:           s.config.Server.Name,
		PlayersCurrent: info.Players,
		PlayersMax:     s.config.Server.MaxPlayers,
		Map:            fmt.Sprintf("generated %dx%d", s.config.Game.MapWidth, s.config.Game.MapHeight),
		GameMode:       GameMode,
		GameVersion:    s.version,
		RoundTimer:     info.Timer,
		MapVersion:     info.MapVersion,
	}, nil
}
