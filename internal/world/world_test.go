package world

import (
	"math/rand"
	"slices"
	"testing"
)

func TestGenerateObstacleIDs(t *testing.T) {
	g, err := Generate(rand.New(rand.NewSource(1)), DefaultWidth, DefaultHeight, DefaultThreshold)
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if len(g.Tiles) != DefaultWidth || len(g.Tiles[0]) != DefaultHeight {
		t.Fatalf("grid is %dx%d, want column-major %dx%d", len(g.Tiles), len(g.Tiles[0]), DefaultWidth, DefaultHeight)
	}

	seen := make(map[int]bool)
	for x := 0; x < g.Width; x++ {
		for y := 0; y < g.Height; y++ {
			id := g.Tiles[x][y]
			if id == 0 {
				continue
			}
			if seen[id] {
				t.Fatalf("obstacle id %d used twice", id)
			}
			seen[id] = true
		}
	}
	for id := 1; id <= len(seen); id++ {
		if !seen[id] {
			t.Fatalf("obstacle ids are not sequential from 1, missing %d", id)
		}
	}
}

func TestGenerateThresholdBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(2))

	g, _ := Generate(rng, 10, 10, 100)
	if g.Obstacles() != 0 {
		t.Fatalf("threshold 100 should leave the map empty, got %d obstacles", g.Obstacles())
	}
	g, _ = Generate(rng, 10, 10, 0)
	if g.Obstacles() != 100 {
		t.Fatalf("threshold 0 should fill the map, got %d obstacles", g.Obstacles())
	}

	if _, err := Generate(rng, 0, 10, 80); err == nil {
		t.Fatalf("expected error for zero width")
	}
}

func TestRandomEmptyCellIsEmpty(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	g, _ := Generate(rng, DefaultWidth, DefaultHeight, 30)

	for i := 0; i < 500; i++ {
		c := g.RandomEmptyCell(rng)
		if g.Tiles[c.X][c.Y] != 0 {
			t.Fatalf("spawn cell (%d,%d) holds obstacle %d", c.X, c.Y, g.Tiles[c.X][c.Y])
		}
	}
}

func TestExplodeClearsObstacleInRange(t *testing.T) {
	g, _ := NewGrid(DefaultWidth, DefaultHeight)
	g.Set(10, 12, 77)

	cleared := g.Explode(10, 10, 3)
	if !slices.Equal(cleared, []int{77}) {
		t.Fatalf("cleared = %v, want [77]", cleared)
	}
	if g.At(10, 12) != 0 {
		t.Fatalf("tile not cleared")
	}

	var log ChangeLog
	log.Append(cleared)
	if log.Version() != 1 {
		t.Fatalf("version = %d, want 1", log.Version())
	}
	if got := log.Since(0); len(got) != 1 || len(got[0]) != 1 || got[0][0] != 77 {
		t.Fatalf("since(0) = %v", got)
	}
}

func TestExplodeUsesEuclideanRadius(t *testing.T) {
	g, _ := NewGrid(20, 20)
	g.Set(13, 10, 1) // distance 3
	g.Set(12, 12, 2) // distance 2.83
	g.Set(13, 12, 3) // distance 3.6, inside the box
	g.Set(14, 10, 4) // outside the box

	cleared := g.Explode(10, 10, 3)
	slices.Sort(cleared)
	if !slices.Equal(cleared, []int{1, 2}) {
		t.Fatalf("cleared = %v, want [1 2]", cleared)
	}
	if g.At(13, 12) != 3 || g.At(14, 10) != 4 {
		t.Fatalf("tiles out of range were cleared")
	}
}

func TestExplodeClipsAtEdges(t *testing.T) {
	g, _ := NewGrid(DefaultWidth, DefaultHeight)
	g.Set(0, 0, 1)
	g.Set(2, 0, 2)
	g.Set(DefaultWidth-1, DefaultHeight-1, 3)

	cleared := g.Explode(0, 0, 3)
	slices.Sort(cleared)
	if !slices.Equal(cleared, []int{1, 2}) {
		t.Fatalf("corner explosion cleared %v", cleared)
	}

	// the far edge is inclusive
	if got := g.Explode(DefaultWidth-1, DefaultHeight-1, 3); !slices.Equal(got, []int{3}) {
		t.Fatalf("far corner explosion cleared %v", got)
	}
}

func TestChangeLogSince(t *testing.T) {
	var log ChangeLog
	if log.Append(nil) {
		t.Fatalf("empty batch should not be recorded")
	}
	log.Append([]int{1})
	log.Append([]int{2, 3})
	log.Append([]int{4})

	tests := []struct {
		version int
		want    int
	}{
		{-1, 3},
		{0, 3},
		{2, 1},
		{3, 0},
		{10, 0},
	}
	for _, tt := range tests {
		got := log.Since(tt.version)
		if got == nil || len(got) != tt.want {
			t.Fatalf("since(%d) = %v, want %d batches", tt.version, got, tt.want)
		}
	}

	ids := []int{9}
	log.Append(ids)
	ids[0] = 10
	if log.Since(3)[0][0] != 9 {
		t.Fatalf("log aliases caller slice")
	}
}
