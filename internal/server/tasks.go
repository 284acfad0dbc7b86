package server

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/siohaza/tapserv/internal/gamestate"
	"github.com/siohaza/tapserv/internal/hooks"
	"github.com/siohaza/tapserv/pkg/config"
)

const countdownInterval = time.Second

// roundTasks are the loops that run for the lifetime of one round. They all stop when
// the round context is cancelled; the countdown cancels it when the timer runs out.
type roundTasks struct {
	engine            *gamestate.Engine
	cfg               config.GameConfig
	hooks             hooks.Hooks
	logger            *slog.Logger
	countdownInterval time.Duration
	seed              int64
}

func newRoundTasks(engine *gamestate.Engine, cfg config.GameConfig, h hooks.Hooks, logger *slog.Logger) *roundTasks {
	return &roundTasks{
		engine:            engine,
		cfg:               cfg,
		hooks:             h,
		logger:            logger,
		countdownInterval: countdownInterval,
		seed:              time.Now().UnixNano(),
	}
}

// start launches every loop. endRound is called once the countdown goes below zero.
func (t *roundTasks) start(ctx context.Context, endRound context.CancelFunc, wg *sync.WaitGroup) {
	loops := []func(context.Context){
		func(ctx context.Context) {
			t.spawnLoop(ctx, "chest", t.cfg.ChestSpawnMin, t.cfg.ChestSpawnMax, t.seed, t.engine.SpawnChest)
		},
		func(ctx context.Context) {
			t.spawnLoop(ctx, "bomb", t.cfg.BombSpawnMin, t.cfg.BombSpawnMax, t.seed+1, t.engine.SpawnBomb)
		},
		t.resolveLoop,
		t.livenessLoop,
		func(ctx context.Context) { t.countdownLoop(ctx, endRound) },
	}

	wg.Add(len(loops))
	for _, loop := range loops {
		go func(loop func(context.Context)) {
			defer wg.Done()
			loop(ctx)
		}(loop)
	}
}

// spawnDelay picks uniform[lo,hi] seconds and divides by the player count.
func spawnDelay(rng *rand.Rand, lo, hi float64, players int) time.Duration {
	secs := lo
	if hi > lo {
		secs += rng.Float64() * (hi - lo)
	}
	if players > 1 {
		secs /= float64(players)
	}
	return time.Duration(secs * float64(time.Second))
}

func (t *roundTasks) spawnLoop(ctx context.Context, kind string, lo, hi float64, seed int64,
	spawn func(context.Context) (gamestate.SpawnResult, error)) {
	rng := rand.New(rand.NewSource(seed))

	for {
		info, err := t.engine.Info(ctx)
		if err != nil {
			t.stopped(ctx, kind+" spawner", err)
			return
		}

		timer := time.NewTimer(spawnDelay(rng, lo, hi, info.Players))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		res, err := spawn(ctx)
		if err != nil {
			t.stopped(ctx, kind+" spawner", err)
			return
		}
		if res.Spawned {
			t.logger.Debug("spawned "+kind, "id", res.ID, "players", res.Divisor)
		}
	}
}

func (t *roundTasks) resolveLoop(ctx context.Context) {
	ticker := time.NewTicker(t.cfg.ResolverInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			explosions, err := t.engine.Resolve(ctx)
			if err != nil {
				t.stopped(ctx, "damage resolver", err)
				return
			}
			for _, ex := range explosions {
				t.hooks.OnExplosion(ex.BombID, ex.Cell.X, ex.Cell.Y, len(ex.Cleared))
				for _, id := range ex.Killed {
					t.logger.Info("player killed", "player", id, "bomb", ex.BombID)
					t.hooks.OnPlayerKilled(id, ex.BombID)
				}
			}
		}
	}
}

func (t *roundTasks) livenessLoop(ctx context.Context) {
	ticker := time.NewTicker(t.cfg.LivenessInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			evicted, err := t.engine.SweepLiveness(ctx)
			if err != nil {
				t.stopped(ctx, "liveness sweep", err)
				return
			}
			for _, id := range evicted {
				t.logger.Info("player timed out", "player", id)
				t.hooks.OnPlayerLeave(id, hooks.LeaveTimeout)
			}
		}
	}
}

func (t *roundTasks) countdownLoop(ctx context.Context, endRound context.CancelFunc) {
	ticker := time.NewTicker(t.countdownInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			timer, err := t.engine.Countdown(ctx)
			if err != nil {
				t.stopped(ctx, "countdown", err)
				return
			}
			if timer < 0 {
				endRound()
				return
			}
		}
	}
}

func (t *roundTasks) stopped(ctx context.Context, task string, err error) {
	if ctx.Err() != nil || errors.Is(err, gamestate.ErrEngineStopped) {
		return
	}
	t.logger.Error(task+" stopped", "error", err)
}
