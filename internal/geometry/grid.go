package geometry

import "fmt"

// Grid is a row-major 2D array backed by one slice.
type Grid[T any] struct {
	W, H int
	Data []T
}

// NewGrid allocates a zeroed w×h grid.
func NewGrid[T any](w, h int) *Grid[T] {
	return &Grid[T]{W: w, H: h, Data: make([]T, w*h)}
}

func (g *Grid[T]) In(x, y int) bool { return x >= 0 && y >= 0 && x < g.W && y < g.H }

func (g *Grid[T]) At(x, y int) T { return g.Data[y*g.W+x] }

func (g *Grid[T]) Set(x, y int, v T) { g.Data[y*g.W+x] = v }

// Clone returns a deep copy.
func (g *Grid[T]) Clone() *Grid[T] {
	c := &Grid[T]{W: g.W, H: g.H, Data: make([]T, len(g.Data))}
	copy(c.Data, g.Data)
	return c
}

// Tensor3 is a read-only C×H×W view over a flat buffer.
type Tensor3 struct {
	C, H, W int
	Data    []float32
}

// NewTensor3 wraps data after checking that it holds exactly c*h*w values.
func NewTensor3(c, h, w int, data []float32) (Tensor3, error) {
	if c <= 0 || h <= 0 || w <= 0 {
		return Tensor3{}, fmt.Errorf("invalid tensor dims %dx%dx%d", c, h, w)
	}
	if len(data) != c*h*w {
		return Tensor3{}, fmt.Errorf("tensor %dx%dx%d needs %d values, got %d", c, h, w, c*h*w, len(data))
	}
	return Tensor3{C: c, H: h, W: w, Data: data}, nil
}

// Plane returns channel k as a contiguous H*W slice.
func (t Tensor3) Plane(k int) []float32 {
	n := t.H * t.W
	return t.Data[k*n : (k+1)*n]
}

func (t Tensor3) At(k, y, x int) float32 { return t.Data[(k*t.H+y)*t.W+x] }
