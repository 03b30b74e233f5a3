package partition

import (
	"context"

	"github.com/aukilabs/dquad/comm"
	"github.com/aukilabs/dquad/geom"
	"github.com/aukilabs/dquad/quadtree"
	"github.com/aukilabs/dquad/storage"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

const (
	sliceField  protowire.Number = 1
	boundsField protowire.Number = 1
	valuesField protowire.Number = 2
)

// HaloSlice is a piece of a neighbor region received during a halo exchange.
// Region is expressed in the coordinates of the receiving process: on a
// toroidal domain it may lie outside of the domain, next to the receiver
// region.
type HaloSlice[T any] struct {
	From   int
	Region geom.HyperRect
	Values []T
}

// ExchangeHalo sends to every neighbor the part of the own region held by the
// grid that lies in the neighbor halo, and returns the pieces received from
// each neighbor. The grid must cover the own region. It is collective over
// the world communicator.
func ExchangeHalo[T any](ctx context.Context, p *Partition, grid *storage.Grid[T]) (map[int][]HaloSlice[T], error) {
	if err := p.checkInitialized(); err != nil {
		return nil, err
	}

	own := p.OwnRegion()
	if !grid.Shape().ContainsRect(own) {
		return nil, errors.New("grid does not cover the own region").
			WithType(quadtree.ErrTypeInvalidOperation).
			WithTag("grid", grid.Shape().String()).
			WithTag("region", own.String())
	}

	out := make(map[int][]byte, len(p.neighbors))
	for _, n := range p.neighbors {
		payload, err := p.packHalo(own, n, grid)
		if err != nil {
			return nil, err
		}
		out[n] = payload
	}

	in, err := p.graph.NeighborExchange(ctx, out)
	if err != nil {
		return nil, errors.New("exchanging halos failed").
			WithType(comm.ErrTypeTransportFailure).
			WithTag("proc", p.world.Rank()).
			Wrap(err)
	}

	res := make(map[int][]HaloSlice[T], len(in))
	for n, payload := range in {
		slices, err := unpackHalo(n, payload, grid.Codec())
		if err != nil {
			return nil, errors.New("decoding halo failed").
				WithType(comm.ErrTypeTransportFailure).
				WithTag("proc", p.world.Rank()).
				WithTag("from", n).
				Wrap(err)
		}
		res[n] = slices
	}
	return res, nil
}

// UnpackHalo stores into the grid the received pieces that it covers and
// returns how many were stored.
func UnpackHalo[T any](grid *storage.Grid[T], halo map[int][]HaloSlice[T]) (int, error) {
	count := 0
	for _, slices := range halo {
		for _, s := range slices {
			if !grid.Shape().ContainsRect(s.Region) {
				continue
			}
			if err := grid.Unpack(s.Region, s.Values); err != nil {
				return count, err
			}
			count++
		}
	}
	return count, nil
}

// haloRegions returns, for each image of the own region, the part lying in
// the halo of the neighbor, in the neighbor coordinates, along with the shift
// that maps the own region to that image.
func (p *Partition) haloRegions(own geom.HyperRect, neighbor int) ([]geom.HyperRect, [][]int, error) {
	region, err := p.RegionOf(neighbor)
	if err != nil {
		return nil, nil, err
	}
	halo := region.Expand(p.conf.AOI)

	shifts := [][]int{make([]int, p.domain.Dims())}
	if p.conf.Toroidal {
		shifts = geom.Shifts(p.conf.Size)
	}

	var regions []geom.HyperRect
	var used [][]int
	for _, shift := range shifts {
		if r, ok := own.Shift(shift).Intersection(halo); ok {
			regions = append(regions, r)
			used = append(used, shift)
		}
	}
	return regions, used, nil
}

func (p *Partition) packHalo(own geom.HyperRect, neighbor int, grid packer) ([]byte, error) {
	regions, shifts, err := p.haloRegions(own, neighbor)
	if err != nil {
		return nil, err
	}

	var b []byte
	for i, r := range regions {
		back := make([]int, len(shifts[i]))
		for j, s := range shifts[i] {
			back[j] = -s
		}

		values, err := grid.PackBytes(r.Shift(back))
		if err != nil {
			return nil, errors.New("packing halo failed").
				WithType(errors.Type(err)).
				WithTag("neighbor", neighbor).
				WithTag("region", r.String()).
				Wrap(err)
		}

		var slice []byte
		bounds := append(r.Lo().Coords(), r.Hi().Coords()...)
		slice = protowire.AppendTag(slice, boundsField, protowire.BytesType)
		slice = protowire.AppendBytes(slice, comm.EncodeInts(bounds))
		slice = protowire.AppendTag(slice, valuesField, protowire.BytesType)
		slice = protowire.AppendBytes(slice, values)

		b = protowire.AppendTag(b, sliceField, protowire.BytesType)
		b = protowire.AppendBytes(b, slice)
	}
	return b, nil
}

type packer interface {
	PackBytes(region geom.HyperRect) ([]byte, error)
}

func unpackHalo[T any](from int, b []byte, codec storage.Codec[T]) ([]HaloSlice[T], error) {
	var slices []HaloSlice[T]
	for len(b) > 0 {
		s, n, err := consumeBytesField(b, sliceField)
		if err != nil {
			return nil, err
		}
		b = b[n:]

		rawBounds, n, err := consumeBytesField(s, boundsField)
		if err != nil {
			return nil, err
		}
		s = s[n:]

		bounds, err := comm.DecodeInts(rawBounds)
		if err != nil {
			return nil, err
		}
		if len(bounds) == 0 || len(bounds)%2 != 0 {
			return nil, errors.New("invalid halo bounds").
				WithTag("bounds", bounds)
		}
		dims := len(bounds) / 2
		region := geom.NewHyperRect(
			geom.NewPoint(bounds[:dims]...),
			geom.NewPoint(bounds[dims:]...),
		)

		raw, _, err := consumeBytesField(s, valuesField)
		if err != nil {
			return nil, err
		}

		values, err := codec.Decode(raw, region.Area())
		if err != nil {
			return nil, err
		}

		slices = append(slices, HaloSlice[T]{
			From:   from,
			Region: region,
			Values: values,
		})
	}
	return slices, nil
}

func consumeBytesField(b []byte, field protowire.Number) ([]byte, int, error) {
	num, typ, n := protowire.ConsumeTag(b)
	if n < 0 {
		return nil, 0, errors.New("decoding halo tag failed").Wrap(protowire.ParseError(n))
	}
	if num != field || typ != protowire.BytesType {
		return nil, 0, errors.New("unexpected halo field").
			WithTag("field", num).
			WithTag("type", typ)
	}

	v, m := protowire.ConsumeBytes(b[n:])
	if m < 0 {
		return nil, 0, errors.New("decoding halo field failed").Wrap(protowire.ParseError(m))
	}
	return v, n + m, nil
}
