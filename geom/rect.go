package geom

import "fmt"

// HyperRect is an axis-aligned n-dimensional box made of half-open
// intervals [lo, hi) on every axis.
type HyperRect struct {
	lo Point
	hi Point
}

func NewHyperRect(lo, hi Point) HyperRect {
	mustSameDims(lo.Dims(), hi.Dims())
	return HyperRect{lo: lo, hi: hi}
}

// FromSize returns the box anchored at the origin with the given size.
func FromSize(size ...int) HyperRect {
	return HyperRect{
		lo: NewPoint(make([]int, len(size))...),
		hi: NewPoint(size...),
	}
}

func (r HyperRect) Lo() Point {
	return r.lo
}

func (r HyperRect) Hi() Point {
	return r.hi
}

func (r HyperRect) Dims() int {
	return r.lo.Dims()
}

// Size returns the extent of the box on every axis.
func (r HyperRect) Size() []int {
	size := make([]int, r.Dims())
	for i := range size {
		size[i] = r.hi.c[i] - r.lo.c[i]
	}
	return size
}

// Area returns the number of integer points covered by the box. Empty boxes
// have a zero area.
func (r HyperRect) Area() int {
	if r.Empty() {
		return 0
	}

	area := 1
	for i := 0; i < r.Dims(); i++ {
		area *= r.hi.c[i] - r.lo.c[i]
	}
	return area
}

func (r HyperRect) Center() Point {
	c := make([]int, r.Dims())
	for i := range c {
		c[i] = r.lo.c[i] + (r.hi.c[i]-r.lo.c[i])/2
	}
	return Point{c: c}
}

// Empty reports whether the box covers no point.
func (r HyperRect) Empty() bool {
	if r.Dims() == 0 {
		return true
	}
	for i := 0; i < r.Dims(); i++ {
		if r.lo.c[i] >= r.hi.c[i] {
			return true
		}
	}
	return false
}

func (r HyperRect) Contains(p Point) bool {
	mustSameDims(r.Dims(), p.Dims())

	for i := 0; i < r.Dims(); i++ {
		if p.c[i] < r.lo.c[i] || p.c[i] >= r.hi.c[i] {
			return false
		}
	}
	return true
}

// ContainsRect reports whether o is fully inside r.
func (r HyperRect) ContainsRect(o HyperRect) bool {
	mustSameDims(r.Dims(), o.Dims())

	for i := 0; i < r.Dims(); i++ {
		if o.lo.c[i] < r.lo.c[i] || o.hi.c[i] > r.hi.c[i] {
			return false
		}
	}
	return true
}

func (r HyperRect) Intersects(o HyperRect) bool {
	_, ok := r.Intersection(o)
	return ok
}

// Intersection returns the overlap of both boxes. The boolean is false when
// the boxes are disjoint.
func (r HyperRect) Intersection(o HyperRect) (HyperRect, bool) {
	mustSameDims(r.Dims(), o.Dims())

	lo := make([]int, r.Dims())
	hi := make([]int, r.Dims())
	for i := range lo {
		lo[i] = max(r.lo.c[i], o.lo.c[i])
		hi[i] = min(r.hi.c[i], o.hi.c[i])
		if lo[i] >= hi[i] {
			return HyperRect{}, false
		}
	}
	return HyperRect{lo: Point{c: lo}, hi: Point{c: hi}}, true
}

func (r HyperRect) Equal(o HyperRect) bool {
	return r.lo.Equal(o.lo) && r.hi.Equal(o.hi)
}

// Expand grows the box by margin on both sides of every axis.
func (r HyperRect) Expand(margin []int) HyperRect {
	mustSameDims(r.Dims(), len(margin))

	lo := make([]int, r.Dims())
	hi := make([]int, r.Dims())
	for i := range lo {
		lo[i] = r.lo.c[i] - margin[i]
		hi[i] = r.hi.c[i] + margin[i]
	}
	return HyperRect{lo: Point{c: lo}, hi: Point{c: hi}}
}

// Shift translates the box by offset.
func (r HyperRect) Shift(offset []int) HyperRect {
	o := NewPoint(offset...)
	return HyperRect{lo: r.lo.Add(o), hi: r.hi.Add(o)}
}

// Split cuts the box at p along every axis and returns the 2^d resulting
// boxes. Child k takes the upper part of axis j when bit d-1-j of k is set,
// so children are ordered with the first axis varying slowest.
func (r HyperRect) Split(p Point) []HyperRect {
	mustSameDims(r.Dims(), p.Dims())

	d := r.Dims()
	children := make([]HyperRect, 1<<d)
	for k := range children {
		lo := make([]int, d)
		hi := make([]int, d)
		for j := 0; j < d; j++ {
			if k>>(d-1-j)&1 == 1 {
				lo[j], hi[j] = p.c[j], r.hi.c[j]
			} else {
				lo[j], hi[j] = r.lo.c[j], p.c[j]
			}
		}
		children[k] = HyperRect{lo: Point{c: lo}, hi: Point{c: hi}}
	}
	return children
}

func (r HyperRect) String() string {
	return fmt.Sprintf("[%s,%s)", r.lo, r.hi)
}

// Shifts returns every offset in {-size, 0, size}^d, the zero offset first.
// It enumerates the images of a box in a toroidal domain of the given size.
func Shifts(size []int) [][]int {
	d := len(size)
	shifts := make([][]int, 0, pow(3, d))
	shifts = append(shifts, make([]int, d))

	for k := 0; k < pow(3, d); k++ {
		offset := make([]int, d)
		zero := true
		for j, n := 0, k; j < d; j, n = j+1, n/3 {
			offset[j] = (n%3 - 1) * size[j]
			if offset[j] != 0 {
				zero = false
			}
		}
		if !zero {
			shifts = append(shifts, offset)
		}
	}
	return shifts
}

func pow(b, e int) int {
	r := 1
	for i := 0; i < e; i++ {
		r *= b
	}
	return r
}
