package player

import (
	"math"
	"testing"
	"time"

	"github.com/siohaza/tapserv/internal/protocol"
)

func TestRosterIDsAreSequentialAndNotReused(t *testing.T) {
	now := time.Now()
	r := NewRoster()

	for want := 0; want < 3; want++ {
		if p := r.Register("p", now); p.ID != want {
			t.Fatalf("id = %d, want %d", p.ID, want)
		}
	}

	r.Remove(1)
	if p := r.Register("q", now); p.ID != 3 {
		t.Fatalf("id after removal = %d, want 3", p.ID)
	}
	if r.Count() != 3 {
		t.Fatalf("count = %d, want 3", r.Count())
	}

	all := r.All()
	for i := 1; i < len(all); i++ {
		if all[i-1].ID >= all[i].ID {
			t.Fatalf("All is not ordered by id")
		}
	}
}

func TestApplyUpdateRequiresNewerTimestamp(t *testing.T) {
	now := time.Now()
	p := New(0, "ana", now)

	t1 := now.Add(-time.Second)
	if !p.ApplyUpdate(protocol.Vector2f{X: 1}, protocol.Vector2f{Y: 1}, t1, now) {
		t.Fatalf("first update should apply")
	}
	if p.ClientTime != t1 || p.Position.X != 1 {
		t.Fatalf("update not applied: %+v", p)
	}

	if p.ApplyUpdate(protocol.Vector2f{X: 9}, protocol.Vector2f{}, t1, now.Add(time.Second)) {
		t.Fatalf("equal timestamp should be rejected")
	}
	if p.ApplyUpdate(protocol.Vector2f{X: 9}, protocol.Vector2f{}, t1.Add(-time.Millisecond), now) {
		t.Fatalf("older timestamp should be rejected")
	}
	if p.Position.X != 1 || p.Velocity.Y != 1 || !p.ServerTime.Equal(now) {
		t.Fatalf("stale update changed player: %+v", p)
	}
}

func TestEstimatePosition(t *testing.T) {
	now := time.Now()
	p := New(0, "ana", now)
	p.Position = protocol.Vector2f{X: 10, Y: 10}
	p.Velocity = protocol.Vector2f{X: 2, Y: -1}

	got := p.EstimatePosition(now.Add(1500 * time.Millisecond))
	if math.Abs(got.X-13) > 1e-9 || math.Abs(got.Y-8.5) > 1e-9 {
		t.Fatalf("estimate = %+v, want {13 8.5}", got)
	}
}

func TestStale(t *testing.T) {
	now := time.Now()
	r := NewRoster()
	old := r.Register("old", now.Add(-1500*time.Millisecond))
	r.Register("fresh", now.Add(-500*time.Millisecond))

	stale := r.Stale(now, time.Second)
	if len(stale) != 1 || stale[0] != old.ID {
		t.Fatalf("stale = %v, want [%d]", stale, old.ID)
	}
}

func TestStateOmitsClientTimeUntilUpdate(t *testing.T) {
	now := time.Now()
	p := New(4, "ana", now)
	if p.State().ClientTimeStamp != nil {
		t.Fatalf("client timestamp should be nil before any update")
	}
	p.ApplyUpdate(protocol.Vector2f{}, protocol.Vector2f{}, now, now)
	if st := p.State(); st.ClientTimeStamp == nil || !st.ClientTimeStamp.Equal(now) {
		t.Fatalf("client timestamp not reported: %+v", st)
	}
}
