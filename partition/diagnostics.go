package partition

import (
	"context"

	"github.com/aukilabs/dquad/comm"
	"github.com/aukilabs/dquad/quadtree"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Diagnostics summarizes how evenly the domain is spread over processes.
type Diagnostics struct {
	Procs int `json:"procs"`

	// Leaf region areas.
	Areas      []float64 `json:"areas"`
	MeanArea   float64   `json:"mean_area"`
	StdDevArea float64   `json:"stddev_area"`
	MinArea    float64   `json:"min_area"`
	MaxArea    float64   `json:"max_area"`
	Imbalance  float64   `json:"imbalance"`
	TotalArea  float64   `json:"total_area"`
	DomainArea float64   `json:"domain_area"`
	Neighbors  []float64 `json:"neighbors"`
	MeanDegree float64   `json:"mean_degree"`
	MaxDegree  float64   `json:"max_degree"`
	Components int       `json:"components"`
}

// Diagnostics gathers the region area and neighbor count of every process.
// It is collective over the world communicator.
func (p *Partition) Diagnostics(ctx context.Context) (Diagnostics, error) {
	if err := p.checkInitialized(); err != nil {
		return Diagnostics{}, err
	}

	res, err := p.world.AllGatherInts(ctx, []int{
		p.OwnRegion().Area(),
		p.NeighborCount(),
	})
	if err != nil {
		return Diagnostics{}, errors.New("gathering diagnostics failed").
			WithType(comm.ErrTypeTransportFailure).
			Wrap(err)
	}

	d := Diagnostics{
		Procs:      len(res),
		Areas:      make([]float64, len(res)),
		Neighbors:  make([]float64, len(res)),
		DomainArea: float64(p.domain.Area()),
		Components: len(p.graph.Components()),
	}
	for i, values := range res {
		if len(values) != 2 {
			return Diagnostics{}, errors.New("unexpected diagnostics values").
				WithType(quadtree.ErrTypeInvalidOperation).
				WithTag("proc", i).
				WithTag("values", values)
		}
		d.Areas[i] = float64(values[0])
		d.Neighbors[i] = float64(values[1])
	}

	d.MeanArea, d.StdDevArea = stat.MeanStdDev(d.Areas, nil)
	if d.Procs == 1 {
		d.StdDevArea = 0
	}
	d.MinArea = floats.Min(d.Areas)
	d.MaxArea = floats.Max(d.Areas)
	d.TotalArea = floats.Sum(d.Areas)
	if d.MeanArea > 0 {
		d.Imbalance = d.MaxArea / d.MeanArea
	}

	d.MeanDegree = stat.Mean(d.Neighbors, nil)
	d.MaxDegree = floats.Max(d.Neighbors)
	return d, nil
}

func (d Diagnostics) log(proc int) {
	logs.WithTag("proc", proc).
		WithTag("procs", d.Procs).
		WithTag("mean_area", d.MeanArea).
		WithTag("stddev_area", d.StdDevArea).
		WithTag("min_area", d.MinArea).
		WithTag("max_area", d.MaxArea).
		WithTag("imbalance", d.Imbalance).
		WithTag("mean_degree", d.MeanDegree).
		WithTag("components", d.Components).
		Info("partition diagnostics")
}
