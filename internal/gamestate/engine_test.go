package gamestate

import (
	"context"
	"errors"
	"math/rand"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/siohaza/tapserv/internal/codec"
	"github.com/siohaza/tapserv/pkg/config"
)

func startEngine(t *testing.T, opts ...Option) (*Engine, context.CancelFunc) {
	t.Helper()
	opts = append([]Option{WithRand(rand.New(rand.NewSource(11)))}, opts...)
	e, err := NewEngine(config.Default().Game, nil, opts...)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go e.Run(ctx)
	t.Cleanup(cancel)
	return e, cancel
}

func TestConcurrentRegistrationsGetDistinctIDs(t *testing.T) {
	e, _ := startEngine(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make([]int, 3)
	errs := make([]error, 3)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			joined, err := e.Register(ctx, "p")
			ids[i], errs[i] = joined.Response.PlayerID, err
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			t.Fatalf("register failed: %v", err)
		}
	}
	sort.Ints(ids)
	for i, id := range ids {
		if id != i {
			t.Fatalf("ids = %v, want [0 1 2]", ids)
		}
	}
}

func TestRegisterReturnsMapAndEmptySpawn(t *testing.T) {
	e, _ := startEngine(t)

	joined, err := e.Register(context.Background(), "ana")
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	resp := joined.Response
	if resp.Type != codec.MessageInitial || resp.Width != 40 || resp.Height != 25 {
		t.Fatalf("unexpected response header %+v", resp)
	}
	if len(resp.Map) != 40 || len(resp.Map[0]) != 25 {
		t.Fatalf("map is %dx%d", len(resp.Map), len(resp.Map[0]))
	}
	if resp.Map[resp.Spawn.X][resp.Spawn.Y] != 0 {
		t.Fatalf("spawn cell is not empty")
	}
}

func TestUpdateRoundTrip(t *testing.T) {
	e, _ := startEngine(t)
	ctx := context.Background()

	joined, _ := e.Register(ctx, "ana")
	id := joined.Response.PlayerID

	res, err := e.Update(ctx, codec.UpdateRequest{PlayerID: id, ClientTimeStamp: codec.NewTimestamp(time.Now())})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if !res.Found || !res.Applied {
		t.Fatalf("update not applied: %+v", res)
	}
	if _, ok := res.State.Players[id]; !ok {
		t.Fatalf("state missing player %d", id)
	}

	res, _ = e.Update(ctx, codec.UpdateRequest{PlayerID: id + 1})
	if res.Found {
		t.Fatalf("unknown player reported as found")
	}

	ok, _ := e.Disconnect(ctx, id)
	if !ok {
		t.Fatalf("disconnect of known player failed")
	}
	ok, _ = e.Disconnect(ctx, id)
	if ok {
		t.Fatalf("second disconnect should be a no-op")
	}
}

func TestCountdownAndReset(t *testing.T) {
	e, _ := startEngine(t)
	ctx := context.Background()

	e.Register(ctx, "ana")
	e.SpawnChest(ctx)
	before, _ := e.Info(ctx)

	var timer int
	for i := 0; i < 91; i++ {
		timer, _ = e.Countdown(ctx)
	}
	if timer != -1 {
		t.Fatalf("timer after 91 ticks = %d, want -1", timer)
	}

	summary, next, err := e.Reset(ctx)
	if err != nil {
		t.Fatalf("reset failed: %v", err)
	}
	if summary.RoundID != before.RoundID || next == before.RoundID {
		t.Fatalf("reset did not replace the round")
	}
	if _, ok := summary.Scores[0]; !ok {
		t.Fatalf("summary missing player scores: %v", summary.Scores)
	}

	info, _ := e.Info(ctx)
	if info.Players != 0 || info.Chests != 0 || info.Bombs != 0 || info.MapVersion != 0 || info.Timer != 90 {
		t.Fatalf("round not reset: %+v", info)
	}

	joined, _ := e.Register(ctx, "bo")
	if joined.Response.PlayerID != 0 || joined.RoundID != next {
		t.Fatalf("ids should restart from 0 in the new round, got %d", joined.Response.PlayerID)
	}
}

func TestResolveUsesEngineClock(t *testing.T) {
	var mu sync.Mutex
	now := time.Now()
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		now = now.Add(d)
		mu.Unlock()
	}

	e, _ := startEngine(t, WithClock(clock))
	ctx := context.Background()
	e.Register(ctx, "ana")

	res, _ := e.SpawnBomb(ctx)
	if !res.Spawned || res.Divisor != 1 {
		t.Fatalf("spawn bomb = %+v", res)
	}

	advance(4 * time.Second)
	if ex, _ := e.Resolve(ctx); len(ex) != 0 {
		t.Fatalf("bomb went off after 4s")
	}
	advance(time.Second)
	ex, _ := e.Resolve(ctx)
	if len(ex) != 1 || ex[0].BombID != res.ID {
		t.Fatalf("explosions = %+v", ex)
	}
}

func TestCallsAfterStopFail(t *testing.T) {
	e, cancel := startEngine(t)
	cancel()
	<-e.done

	if _, err := e.Info(context.Background()); !errors.Is(err, ErrEngineStopped) {
		t.Fatalf("got %v, want ErrEngineStopped", err)
	}
}

func TestCallRespectsContext(t *testing.T) {
	e, err := NewEngine(config.Default().Game, nil)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	// not running, so the reply never comes
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := e.Info(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got %v, want deadline exceeded", err)
	}
}
