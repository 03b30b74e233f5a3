package geom

import (
	"fmt"
	"strings"
)

// Point is an immutable n-dimensional integer coordinate.
type Point struct {
	c []int
}

func NewPoint(coords ...int) Point {
	c := make([]int, len(coords))
	copy(c, coords)
	return Point{c: c}
}

// Dims returns the number of dimensions of the point.
func (p Point) Dims() int {
	return len(p.c)
}

func (p Point) At(i int) int {
	return p.c[i]
}

// Coords returns a copy of the point coordinates.
func (p Point) Coords() []int {
	c := make([]int, len(p.c))
	copy(c, p.c)
	return c
}

func (p Point) Equal(o Point) bool {
	if len(p.c) != len(o.c) {
		return false
	}
	for i := range p.c {
		if p.c[i] != o.c[i] {
			return false
		}
	}
	return true
}

func (p Point) Add(o Point) Point {
	mustSameDims(p.Dims(), o.Dims())

	c := make([]int, len(p.c))
	for i := range c {
		c[i] = p.c[i] + o.c[i]
	}
	return Point{c: c}
}

func (p Point) Sub(o Point) Point {
	mustSameDims(p.Dims(), o.Dims())

	c := make([]int, len(p.c))
	for i := range c {
		c[i] = p.c[i] - o.c[i]
	}
	return Point{c: c}
}

// Wrap returns the point with every coordinate taken modulo size, the
// result always being in [0, size).
func (p Point) Wrap(size []int) Point {
	mustSameDims(p.Dims(), len(size))

	c := make([]int, len(p.c))
	for i := range c {
		c[i] = ((p.c[i] % size[i]) + size[i]) % size[i]
	}
	return Point{c: c}
}

func (p Point) String() string {
	var b strings.Builder
	b.WriteByte('(')
	for i, v := range p.c {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprint(&b, v)
	}
	b.WriteByte(')')
	return b.String()
}

func mustSameDims(a, b int) {
	if a != b {
		panic(fmt.Sprintf("geom: dimension mismatch: %d != %d", a, b))
	}
}
