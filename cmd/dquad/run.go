package main

import (
	"context"

	"github.com/aukilabs/dquad/comm"
	"github.com/aukilabs/dquad/featureflag"
	"github.com/aukilabs/dquad/partition"
	"github.com/aukilabs/dquad/storage"
	"gonum.org/v1/gonum/floats"
)

// summary describes the outcome of a run on one process.
type summary struct {
	Rank        int                    `json:"rank"`
	Region      string                 `json:"region"`
	Neighbors   []int                  `json:"neighbors"`
	Levels      int                    `json:"levels"`
	HaloSlices  int                    `json:"halo_slices"`
	HaloCells   int                    `json:"halo_cells"`
	GridSum     float64                `json:"grid_sum"`
	Diagnostics *partition.Diagnostics `json:"diagnostics,omitempty"`
}

// run initializes the partition described by the layout, fills the own
// region of a grid with the process rank and exchanges halos with the
// neighbors. It is collective over the world communicator.
func run(ctx context.Context, world *comm.Comm, l layout, flags featureflag.FeatureFlag) (summary, error) {
	conf := l.partitionConfig()
	conf.Flags = flags

	p, err := partition.New(world, conf)
	if err != nil {
		return summary{}, err
	}

	if l.Uniform {
		err = p.InitUniform(ctx)
	} else {
		err = p.InitFromSplitPoints(ctx, l.splitPoints())
	}
	if err != nil {
		return summary{}, err
	}

	own := p.OwnRegion()
	grid := storage.NewGrid[float64](own.Expand(p.Config().AOI), storage.Float64Codec{})
	for i := 0; i < grid.Len(); i++ {
		if own.Contains(grid.PointAt(i)) {
			grid.Data()[i] = float64(world.Rank())
		}
	}

	halo, err := partition.ExchangeHalo(ctx, p, grid)
	if err != nil {
		return summary{}, err
	}

	slices, err := partition.UnpackHalo(grid, halo)
	if err != nil {
		return summary{}, err
	}

	cells := 0
	for _, received := range halo {
		for _, slice := range received {
			if grid.Shape().ContainsRect(slice.Region) {
				cells += slice.Region.Area()
			}
		}
	}

	d, err := p.Diagnostics(ctx)
	if err != nil {
		return summary{}, err
	}

	s := summary{
		Rank:       world.Rank(),
		Region:     own.String(),
		Neighbors:  p.NeighborIDs(),
		Levels:     p.Topology().Levels(),
		HaloSlices: slices,
		HaloCells:  cells,
		GridSum:    floats.Sum(grid.Data()),
	}
	if world.Rank() == 0 {
		s.Diagnostics = &d
	}
	return s, nil
}
