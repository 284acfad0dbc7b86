package hooks

import (
	"log/slog"
	"sync"
)

const DefaultQueueSize = 256

// Async delivers events to the wrapped hooks on one background goroutine, in the order
// they were raised. Callers never wait on a script; when the queue is full the event
// is dropped and logged.
type Async struct {
	next   Hooks
	queue  chan func()
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func NewAsync(next Hooks, queueSize int, logger *slog.Logger) *Async {
	if logger == nil {
		logger = slog.Default()
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	a := &Async{
		next:   next,
		queue:  make(chan func(), queueSize),
		logger: logger,
		done:   make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *Async) run() {
	defer close(a.done)
	for fn := range a.queue {
		fn()
	}
}

func (a *Async) enqueue(event string, fn func()) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return
	}

	select {
	case a.queue <- fn:
	default:
		a.logger.Warn("hook queue full, dropping event", "event", event)
	}
}

// Close stops accepting events and waits until the queued ones have run.
func (a *Async) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()

	<-a.done
}

func (a *Async) OnRoundStart(roundID string) {
	a.enqueue("round_start", func() { a.next.OnRoundStart(roundID) })
}

func (a *Async) OnRoundEnd(roundID string, scores map[int]int) {
	a.enqueue("round_end", func() { a.next.OnRoundEnd(roundID, scores) })
}

func (a *Async) OnPlayerJoin(playerID int, name string) {
	a.enqueue("player_join", func() { a.next.OnPlayerJoin(playerID, name) })
}

func (a *Async) OnPlayerLeave(playerID int, reason string) {
	a.enqueue("player_leave", func() { a.next.OnPlayerLeave(playerID, reason) })
}

func (a *Async) OnChestPicked(playerID, chestID, score int) {
	a.enqueue("chest_picked", func() { a.next.OnChestPicked(playerID, chestID, score) })
}

func (a *Async) OnPlayerKilled(playerID, bombID int) {
	a.enqueue("player_killed", func() { a.next.OnPlayerKilled(playerID, bombID) })
}

func (a *Async) OnExplosion(bombID, x, y, cleared int) {
	a.enqueue("explosion", func() { a.next.OnExplosion(bombID, x, y, cleared) })
}
