package gamestate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/siohaza/tapserv/internal/codec"
	"github.com/siohaza/tapserv/internal/metrics"
	"github.com/siohaza/tapserv/pkg/config"
)

var ErrEngineStopped = errors.New("game engine stopped")

// Engine serializes every read and write of the current Round through one goroutine.
// Callers send a command and wait for its reply, so each command sees the effects of
// all earlier ones and none of its own effects are visible half-done.
type Engine struct {
	inbox  chan any
	done   chan struct{}
	round  *Round
	cfg    config.GameConfig
	rng    *rand.Rand
	now    func() time.Time
	logger *slog.Logger
}

type Option func(*Engine)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithRand(rng *rand.Rand) Option {
	return func(e *Engine) { e.rng = rng }
}

func NewEngine(cfg config.GameConfig, logger *slog.Logger, opts ...Option) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{
		inbox:  make(chan any, 256),
		done:   make(chan struct{}),
		cfg:    cfg,
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.rng == nil {
		e.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	round, err := NewRound(cfg, e.rng, e.now())
	if err != nil {
		return nil, err
	}
	e.round = round
	return e, nil
}

// Joined is the result of registering a player.
type Joined struct {
	RoundID  uuid.UUID
	Response codec.InitialResponse
}

type UpdateResult struct {
	Found   bool
	Applied bool
	State   codec.State
}

type PickResult struct {
	OK    bool
	Score int
}

// SpawnResult reports a chest or bomb placement. Divisor is the player count used to
// scale the next spawner sleep.
type SpawnResult struct {
	Spawned bool
	ID      int
	Divisor int
}

// Summary identifies a round and its final scores.
type Summary struct {
	RoundID uuid.UUID
	Scores  map[int]int
	Timer   int
}

type Info struct {
	RoundID    uuid.UUID
	Players    int
	Bombs      int
	Chests     int
	Timer      int
	MapVersion int
}

type (
	registerCmd struct {
		name  string
		reply chan<- Joined
	}
	updateCmd struct {
		req   codec.UpdateRequest
		reply chan<- UpdateResult
	}
	pickChestCmd struct {
		playerID, chestID int
		reply             chan<- PickResult
	}
	disconnectCmd struct {
		playerID int
		reply    chan<- bool
	}
	spawnChestCmd struct {
		reply chan<- SpawnResult
	}
	spawnBombCmd struct {
		reply chan<- SpawnResult
	}
	resolveCmd struct {
		reply chan<- []Explosion
	}
	livenessCmd struct {
		reply chan<- []int
	}
	countdownCmd struct {
		reply chan<- int
	}
	resetCmd struct {
		reply chan<- resetResult
	}
	infoCmd struct {
		reply chan<- Info
	}
)

type resetResult struct {
	prev Summary
	next uuid.UUID
	err  error
}

// Run processes commands until ctx is cancelled. Calls made after that return ErrEngineStopped.
func (e *Engine) Run(ctx context.Context) {
	defer close(e.done)

	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-e.inbox:
			e.handleCommand(cmd)
			e.publishGauges()
		}
	}
}

func (e *Engine) handleCommand(cmd any) {
	r := e.round
	now := e.now()

	switch c := cmd.(type) {
	case registerCmd:
		p, spawn := r.Register(c.name, now)
		c.reply <- Joined{RoundID: r.ID, Response: r.InitialResponse(p.ID, spawn)}
	case updateCmd:
		applied, found := r.ApplyUpdate(c.req, now)
		res := UpdateResult{Found: found, Applied: applied}
		if found {
			res.State = r.State(c.req.MapVersion)
		}
		c.reply <- res
	case pickChestCmd:
		score, ok := r.PickChest(c.playerID, c.chestID)
		c.reply <- PickResult{OK: ok, Score: score}
	case disconnectCmd:
		c.reply <- r.Disconnect(c.playerID)
	case spawnChestCmd:
		chest, ok := r.SpawnChest()
		c.reply <- SpawnResult{Spawned: ok, ID: chest.ID, Divisor: r.SpawnDivisor()}
	case spawnBombCmd:
		bomb, ok := r.SpawnBomb()
		c.reply <- SpawnResult{Spawned: ok, ID: bomb.ID, Divisor: r.SpawnDivisor()}
	case resolveCmd:
		explosions := r.TickBombs(now)
		for _, ex := range explosions {
			metrics.RecordExplosion(len(ex.Cleared))
			metrics.RecordKills(len(ex.Killed))
			e.logger.Debug("bomb exploded", "round", r.ID, "bomb", ex.BombID,
				"x", ex.Cell.X, "y", ex.Cell.Y, "cleared", len(ex.Cleared), "killed", len(ex.Killed),
				"map_version", r.Changes.Version())
		}
		c.reply <- explosions
	case livenessCmd:
		evicted := r.SweepLiveness(now, e.cfg.LivenessTimeout())
		metrics.RecordEvictions(len(evicted))
		c.reply <- evicted
	case countdownCmd:
		c.reply <- r.Countdown()
	case resetCmd:
		prev := Summary{RoundID: r.ID, Scores: r.Players.Scores(), Timer: r.Timer}
		next, err := NewRound(e.cfg, e.rng, now)
		if err != nil {
			c.reply <- resetResult{prev: prev, err: err}
			return
		}
		e.round = next
		c.reply <- resetResult{prev: prev, next: next.ID}
	case infoCmd:
		c.reply <- Info{
			RoundID:    r.ID,
			Players:    r.Players.Count(),
			Bombs:      len(r.Bombs),
			Chests:     len(r.Chests),
			Timer:      r.Timer,
			MapVersion: r.Changes.Version(),
		}
	default:
		e.logger.Warn("unknown engine command", "type", fmt.Sprintf("%T", cmd))
	}
}

func (e *Engine) publishGauges() {
	r := e.round
	metrics.UpdateRound(r.Players.Count(), len(r.Bombs), len(r.Chests), r.Timer)
}

// call delivers the command built around a fresh reply channel and waits for the answer.
func call[T any](ctx context.Context, e *Engine, build func(chan<- T) any) (T, error) {
	var zero T
	reply := make(chan T, 1)

	select {
	case e.inbox <- build(reply):
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-e.done:
		return zero, ErrEngineStopped
	}

	select {
	case v := <-reply:
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-e.done:
		return zero, ErrEngineStopped
	}
}

func (e *Engine) Register(ctx context.Context, name string) (Joined, error) {
	return call(ctx, e, func(reply chan<- Joined) any { return registerCmd{name: name, reply: reply} })
}

func (e *Engine) Update(ctx context.Context, req codec.UpdateRequest) (UpdateResult, error) {
	return call(ctx, e, func(reply chan<- UpdateResult) any { return updateCmd{req: req, reply: reply} })
}

func (e *Engine) PickChest(ctx context.Context, playerID, chestID int) (PickResult, error) {
	return call(ctx, e, func(reply chan<- PickResult) any {
		return pickChestCmd{playerID: playerID, chestID: chestID, reply: reply}
	})
}

func (e *Engine) Disconnect(ctx context.Context, playerID int) (bool, error) {
	return call(ctx, e, func(reply chan<- bool) any { return disconnectCmd{playerID: playerID, reply: reply} })
}

func (e *Engine) SpawnChest(ctx context.Context) (SpawnResult, error) {
	return call(ctx, e, func(reply chan<- SpawnResult) any { return spawnChestCmd{reply: reply} })
}

func (e *Engine) SpawnBomb(ctx context.Context) (SpawnResult, error) {
	return call(ctx, e, func(reply chan<- SpawnResult) any { return spawnBombCmd{reply: reply} })
}

// Resolve runs one damage-resolver pass and returns the bombs that went off.
func (e *Engine) Resolve(ctx context.Context) ([]Explosion, error) {
	return call(ctx, e, func(reply chan<- []Explosion) any { return resolveCmd{reply: reply} })
}

func (e *Engine) SweepLiveness(ctx context.Context) ([]int, error) {
	return call(ctx, e, func(reply chan<- []int) any { return livenessCmd{reply: reply} })
}

// Countdown drops the round timer by one and returns the new value.
func (e *Engine) Countdown(ctx context.Context) (int, error) {
	return call(ctx, e, func(reply chan<- int) any { return countdownCmd{reply: reply} })
}

// Reset replaces the current round with a fresh one and returns the final state of
// the old round along with the new round id.
func (e *Engine) Reset(ctx context.Context) (Summary, uuid.UUID, error) {
	res, err := call(ctx, e, func(reply chan<- resetResult) any { return resetCmd{reply: reply} })
	if err != nil {
		return Summary{}, uuid.Nil, err
	}
	if res.err != nil {
		return res.prev, uuid.Nil, fmt.Errorf("failed to start round: %w", res.err)
	}
	return res.prev, res.next, nil
}

func (e *Engine) Info(ctx context.Context) (Info, error) {
	return call(ctx, e, func(reply chan<- Info) any { return infoCmd{reply: reply} })
}
