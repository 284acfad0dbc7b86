// Package world holds the destructible tile map and its change log.
//
// Tiles are stored column-major, so Tiles[x][y] addresses column x, row y.
// A zero tile is empty. Any other value is the id of the obstacle occupying it.
package world

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/siohaza/tapserv/internal/protocol"
)

const (
	DefaultWidth     = 40
	DefaultHeight    = 25
	DefaultThreshold = 80
)

type Grid struct {
	Width  int
	Height int
	Tiles  [][]int
}

func NewGrid(width, height int) (*Grid, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid map size %dx%d", width, height)
	}

	tiles := make([][]int, width)
	for x := range tiles {
		tiles[x] = make([]int, height)
	}
	return &Grid{Width: width, Height: height, Tiles: tiles}, nil
}

// Generate fills a new grid. Each cell rolls [0,100); rolls under threshold stay empty,
// the rest get the next obstacle id starting at 1.
func Generate(rng *rand.Rand, width, height, threshold int) (*Grid, error) {
	g, err := NewGrid(width, height)
	if err != nil {
		return nil, err
	}

	next := 1
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			if rng.Intn(100) < threshold {
				continue
			}
			g.Tiles[x][y] = next
			next++
		}
	}
	return g, nil
}

func (g *Grid) InBounds(x, y int) bool {
	return x >= 0 && x < g.Width && y >= 0 && y < g.Height
}

func (g *Grid) At(x, y int) int {
	if !g.InBounds(x, y) {
		return 0
	}
	return g.Tiles[x][y]
}

func (g *Grid) Set(x, y, v int) {
	if g.InBounds(x, y) {
		g.Tiles[x][y] = v
	}
}

func (g *Grid) Empty(x, y int) bool {
	return g.InBounds(x, y) && g.Tiles[x][y] == 0
}

// RandomEmptyCell samples cells until it hits an empty one. It never returns on a full map.
func (g *Grid) RandomEmptyCell(rng *rand.Rand) protocol.Cell {
	for {
		x := rng.Intn(g.Width)
		y := rng.Intn(g.Height)
		if g.Empty(x, y) {
			return protocol.Cell{X: x, Y: y}
		}
	}
}

// Explode clears every obstacle within Euclidean distance r of (cx, cy) and returns
// the cleared ids in scan order.
func (g *Grid) Explode(cx, cy, r int) []int {
	minX, maxX := clamp(cx-r, 0, g.Width-1), clamp(cx+r, 0, g.Width-1)
	minY, maxY := clamp(cy-r, 0, g.Height-1), clamp(cy+r, 0, g.Height-1)

	var cleared []int
	for x := minX; x <= maxX; x++ {
		for y := minY; y <= maxY; y++ {
			id := g.At(x, y)
			if id == 0 {
				continue
			}
			if Distance(float64(cx), float64(cy), float64(x), float64(y)) > float64(r) {
				continue
			}
			g.Tiles[x][y] = 0
			cleared = append(cleared, id)
		}
	}
	return cleared
}

// Clone copies the tiles so the result can leave the engine goroutine.
func (g *Grid) Clone() [][]int {
	out := make([][]int, len(g.Tiles))
	for x, col := range g.Tiles {
		out[x] = append([]int(nil), col...)
	}
	return out
}

func (g *Grid) Obstacles() int {
	n := 0
	for _, col := range g.Tiles {
		for _, v := range col {
			if v != 0 {
				n++
			}
		}
	}
	return n
}

func Distance(x1, y1, x2, y2 float64) float64 {
	return math.Hypot(x2-x1, y2-y1)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
