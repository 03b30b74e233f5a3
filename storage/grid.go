// Package storage holds the dense element buffer a process keeps for its
// region of the domain.
package storage

import (
	"github.com/aukilabs/dquad/geom"
	"github.com/aukilabs/dquad/quadtree"
	"github.com/aukilabs/go-tooling/pkg/errors"
)

// Grid is a row-major buffer of elements covering a region of the domain.
// Elements are addressed with absolute domain coordinates.
type Grid[T any] struct {
	shape  geom.HyperRect
	stride []int
	data   []T
	codec  Codec[T]
}

// NewGrid allocates a grid over the given region with zero valued elements.
func NewGrid[T any](shape geom.HyperRect, codec Codec[T]) *Grid[T] {
	g := &Grid[T]{codec: codec}
	g.alloc(shape)
	return g
}

func (g *Grid[T]) alloc(shape geom.HyperRect) {
	g.shape = shape
	g.stride = Strides(shape.Size())
	g.data = make([]T, shape.Area())
}

// Shape returns the region covered by the grid.
func (g *Grid[T]) Shape() geom.HyperRect {
	return g.shape
}

// Stride returns the row-major strides of the buffer.
func (g *Grid[T]) Stride() []int {
	stride := make([]int, len(g.stride))
	copy(stride, g.stride)
	return stride
}

func (g *Grid[T]) Len() int {
	return len(g.data)
}

// Data returns the underlying buffer. It is reallocated by Reshape.
func (g *Grid[T]) Data() []T {
	return g.data
}

func (g *Grid[T]) Codec() Codec[T] {
	return g.codec
}

// Get returns the element at the given absolute point.
func (g *Grid[T]) Get(p geom.Point) (T, error) {
	var zero T
	if !g.shape.Contains(p) {
		return zero, g.outside(p)
	}
	return g.data[g.FlatIndex(p)], nil
}

// Set stores the element at the given absolute point.
func (g *Grid[T]) Set(p geom.Point, v T) error {
	if !g.shape.Contains(p) {
		return g.outside(p)
	}
	g.data[g.FlatIndex(p)] = v
	return nil
}

func (g *Grid[T]) outside(p geom.Point) error {
	return errors.New("point is outside of the grid").
		WithType(quadtree.ErrTypeNotFound).
		WithTag("point", p.String()).
		WithTag("shape", g.shape.String())
}

// FlatIndex returns the buffer offset of an absolute point of the grid.
func (g *Grid[T]) FlatIndex(p geom.Point) int {
	idx := 0
	for i, s := range g.stride {
		idx += (p.At(i) - g.shape.Lo().At(i)) * s
	}
	return idx
}

// PointAt returns the absolute point stored at the given buffer offset.
func (g *Grid[T]) PointAt(idx int) geom.Point {
	coords := make([]int, len(g.stride))
	for i, s := range g.stride {
		coords[i] = g.shape.Lo().At(i) + idx/s
		idx %= s
	}
	return geom.NewPoint(coords...)
}

// Pack returns the elements of a sub-region in the row-major order of the
// sub-region itself.
func (g *Grid[T]) Pack(region geom.HyperRect) ([]T, error) {
	if err := g.checkRegion(region); err != nil {
		return nil, err
	}

	values := make([]T, 0, region.Area())
	eachPoint(region, func(p geom.Point) {
		values = append(values, g.data[g.FlatIndex(p)])
	})

	instrumentPacked(g.codec, "pack", len(values))
	return values, nil
}

// Unpack stores values produced by Pack over the same sub-region.
func (g *Grid[T]) Unpack(region geom.HyperRect, values []T) error {
	if err := g.checkRegion(region); err != nil {
		return err
	}
	if len(values) != region.Area() {
		return errors.New("value count does not match region area").
			WithType(quadtree.ErrTypeInvalidOperation).
			WithTag("region", region.String()).
			WithTag("area", region.Area()).
			WithTag("values", len(values))
	}

	i := 0
	eachPoint(region, func(p geom.Point) {
		g.data[g.FlatIndex(p)] = values[i]
		i++
	})

	instrumentPacked(g.codec, "unpack", len(values))
	return nil
}

// PackBytes is Pack followed by the grid codec encoding.
func (g *Grid[T]) PackBytes(region geom.HyperRect) ([]byte, error) {
	values, err := g.Pack(region)
	if err != nil {
		return nil, err
	}
	return g.codec.Append(nil, values), nil
}

// UnpackBytes decodes a PackBytes buffer into the sub-region.
func (g *Grid[T]) UnpackBytes(region geom.HyperRect, b []byte) error {
	values, err := g.codec.Decode(b, region.Area())
	if err != nil {
		return errors.New("decoding region elements failed").
			WithType(quadtree.ErrTypeInvalidOperation).
			WithTag("region", region.String()).
			WithTag("codec", g.codec.Name()).
			Wrap(err)
	}
	return g.Unpack(region, values)
}

func (g *Grid[T]) checkRegion(region geom.HyperRect) error {
	if region.Dims() != g.shape.Dims() || !g.shape.ContainsRect(region) {
		return errors.New("region is not inside of the grid").
			WithType(quadtree.ErrTypeInvalidOperation).
			WithTag("region", region.String()).
			WithTag("shape", g.shape.String())
	}
	return nil
}

// Reshape moves the grid to a new region. Elements inside both regions are
// preserved, the others are zero valued. Reshaping to the current region does
// nothing.
func (g *Grid[T]) Reshape(shape geom.HyperRect) error {
	if g.shape.Equal(shape) {
		instrumentReshape("unchanged")
		return nil
	}

	overlap, ok := g.shape.Intersection(shape)
	if !ok {
		g.alloc(shape)
		instrumentReshape("discarded")
		return nil
	}

	buf, err := g.Pack(overlap)
	if err != nil {
		return errors.New("packing reshape overlap failed").
			WithType(errors.Type(err)).
			WithTag("from", g.shape.String()).
			WithTag("to", shape.String()).
			Wrap(err)
	}

	g.alloc(shape)
	if err := g.Unpack(overlap, buf); err != nil {
		return errors.New("unpacking reshape overlap failed").
			WithType(errors.Type(err)).
			WithTag("to", shape.String()).
			Wrap(err)
	}

	instrumentReshape("preserved")
	return nil
}

// Strides returns the row-major strides of a buffer with the given size: the
// last axis has stride 1.
func Strides(size []int) []int {
	stride := make([]int, len(size))
	s := 1
	for i := len(size) - 1; i >= 0; i-- {
		stride[i] = s
		s *= size[i]
	}
	return stride
}

// FlatIndex returns the row-major offset of a point relative to the origin of
// a buffer with the given size.
func FlatIndex(p geom.Point, size []int) int {
	idx := 0
	for i, s := range Strides(size) {
		idx += p.At(i) * s
	}
	return idx
}

func eachPoint(r geom.HyperRect, fn func(geom.Point)) {
	if r.Empty() {
		return
	}

	lo := r.Lo().Coords()
	hi := r.Hi().Coords()
	coords := make([]int, len(lo))
	copy(coords, lo)

	for {
		fn(geom.NewPoint(coords...))

		i := len(coords) - 1
		for ; i >= 0; i-- {
			coords[i]++
			if coords[i] < hi[i] {
				break
			}
			coords[i] = lo[i]
		}
		if i < 0 {
			return
		}
	}
}
