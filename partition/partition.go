// Package partition binds a partition tree to the processes of a job: every
// process builds the same tree, owns one of its leaves, joins the group
// communicators of the levels above its leaf and exchanges halos with the
// processes whose regions are within its area of interest.
package partition

import (
	"context"

	"github.com/aukilabs/dquad/comm"
	"github.com/aukilabs/dquad/featureflag"
	"github.com/aukilabs/dquad/geom"
	"github.com/aukilabs/dquad/quadtree"
	"github.com/aukilabs/dquad/topology"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
)

// Config describes the domain shared by every process of a job.
type Config struct {
	// The domain size on each axis. The domain starts at the origin.
	Size []int

	// Whether the domain edges wrap around.
	Toroidal bool

	// The halo margin on each axis. Defaults to zero on every axis.
	AOI []int

	Flags featureflag.FeatureFlag
}

// Partition is the per-process view of a distributed partition.
type Partition struct {
	world  *comm.Comm
	conf   Config
	domain geom.HyperRect

	tree      *quadtree.Tree
	leaf      quadtree.NodeID
	topology  *topology.Topology
	graph     *comm.GraphComm
	neighbors []int
}

// New returns an uninitialized partition of the domain over the processes of
// the world communicator.
func New(world *comm.Comm, conf Config) (*Partition, error) {
	if len(conf.Size) == 0 {
		return nil, errors.New("domain has no dimensions").
			WithType(quadtree.ErrTypeInvalidConfiguration)
	}

	for i, s := range conf.Size {
		if s <= 0 {
			return nil, errors.New("domain size must be positive").
				WithType(quadtree.ErrTypeInvalidConfiguration).
				WithTag("axis", i).
				WithTag("size", conf.Size)
		}
	}

	if conf.AOI == nil {
		conf.AOI = make([]int, len(conf.Size))
	}
	if len(conf.AOI) != len(conf.Size) {
		return nil, errors.New("halo margin dimensions do not match the domain").
			WithType(quadtree.ErrTypeInvalidConfiguration).
			WithTag("aoi", conf.AOI).
			WithTag("size", conf.Size)
	}
	for i, m := range conf.AOI {
		if m < 0 {
			return nil, errors.New("halo margin must not be negative").
				WithType(quadtree.ErrTypeInvalidConfiguration).
				WithTag("axis", i).
				WithTag("aoi", conf.AOI)
		}
	}

	if conf.Flags == nil {
		conf.Flags = featureflag.New(nil)
	}

	return &Partition{
		world:  world,
		conf:   conf,
		domain: geom.FromSize(conf.Size...),
		leaf:   quadtree.NoNode,
	}, nil
}

// InitFromSplitPoints builds the tree by splitting the domain at the given
// points, in order, then sets up the process groups and the neighbor graph.
// It is collective over the world communicator.
func (p *Partition) InitFromSplitPoints(ctx context.Context, points []geom.Point) error {
	for _, pt := range points {
		if pt.Dims() != p.domain.Dims() {
			return errors.New("split point dimensions do not match the domain").
				WithType(quadtree.ErrTypeInvalidConfiguration).
				WithTag("point", pt.String()).
				WithTag("domain", p.domain.String())
		}
	}

	tree := quadtree.New(p.domain)
	if err := tree.Split(points...); err != nil {
		return err
	}
	return p.init(ctx, tree)
}

// InitUniform builds the tree by splitting the domain evenly until there is
// one leaf per process, then sets up the process groups and the neighbor
// graph. It is collective over the world communicator.
func (p *Partition) InitUniform(ctx context.Context) error {
	tree := quadtree.New(p.domain)
	if err := tree.SplitUniform(p.world.Size()); err != nil {
		return err
	}
	return p.init(ctx, tree)
}

func (p *Partition) init(ctx context.Context, tree *quadtree.Tree) error {
	if err := tree.MapNodeToProc(p.world.Size()); err != nil {
		return err
	}

	leaf, err := tree.LeafOf(p.world.Rank())
	if err != nil {
		return err
	}

	topo, err := topology.Build(ctx, p.world, tree, leaf)
	if err != nil {
		return err
	}

	if p.conf.Flags.IsSet(featureflag.FlagVerifyGroups) {
		if err := topo.Verify(ctx, p.world); err != nil {
			return err
		}
	}

	neighbors := tree.NeighborProcs(leaf, p.conf.AOI, p.conf.Toroidal)
	graph, err := p.world.CreateGraph(ctx, neighbors)
	if err != nil {
		return err
	}

	p.tree = tree
	p.leaf = leaf
	p.topology = topo
	p.graph = graph
	p.neighbors = neighbors

	logs.WithTag("proc", p.world.Rank()).
		WithTag("region", p.OwnRegion().String()).
		WithTag("neighbors", neighbors).
		WithTag("levels", topo.Levels()).
		WithTag("master_levels", topo.MasterLevels()).
		Info("partition initialized")

	if p.conf.Flags.IsSet(featureflag.FlagLogDiagnostics) {
		d, err := p.Diagnostics(ctx)
		if err != nil {
			return err
		}
		d.log(p.world.Rank())
	}
	return nil
}

// Config returns the configuration with defaults applied.
func (p *Partition) Config() Config {
	return p.conf
}

func (p *Partition) Domain() geom.HyperRect {
	return p.domain
}

// World returns the communicator spanning every process of the job.
func (p *Partition) World() *comm.Comm {
	return p.world
}

// Tree returns the partition tree, nil before initialization.
func (p *Partition) Tree() *quadtree.Tree {
	return p.tree
}

// Leaf returns the leaf owned by the calling process.
func (p *Partition) Leaf() quadtree.NodeID {
	return p.leaf
}

func (p *Partition) Topology() *topology.Topology {
	return p.topology
}

// Graph returns the neighbor graph communicator.
func (p *Partition) Graph() *comm.GraphComm {
	return p.graph
}

// OwnRegion returns the region of the calling process. It is empty before
// initialization.
func (p *Partition) OwnRegion() geom.HyperRect {
	if p.tree == nil {
		return geom.HyperRect{}
	}
	return p.tree.Node(p.leaf).Shape
}

// RegionOf returns the region owned by the given process.
func (p *Partition) RegionOf(proc int) (geom.HyperRect, error) {
	if err := p.checkInitialized(); err != nil {
		return geom.HyperRect{}, err
	}

	leaf, err := p.tree.LeafOf(proc)
	if err != nil {
		return geom.HyperRect{}, err
	}
	return p.tree.Node(leaf).Shape, nil
}

// Locate returns the process owning the point. On a toroidal domain, the
// point is wrapped into the domain first.
func (p *Partition) Locate(pt geom.Point) (int, error) {
	if err := p.checkInitialized(); err != nil {
		return quadtree.NoProc, err
	}

	if pt.Dims() != p.domain.Dims() {
		return quadtree.NoProc, errors.New("point dimensions do not match the domain").
			WithType(quadtree.ErrTypeNotFound).
			WithTag("point", pt.String()).
			WithTag("domain", p.domain.String())
	}

	if p.conf.Toroidal {
		pt = pt.Wrap(p.conf.Size)
	}

	leaf, err := p.tree.LeafNode(pt)
	if err != nil {
		return quadtree.NoProc, err
	}
	return p.tree.Node(leaf).Proc, nil
}

func (p *Partition) NeighborCount() int {
	return len(p.neighbors)
}

// NeighborIDs returns the sorted ids of the processes within the halo of the
// calling process.
func (p *Partition) NeighborIDs() []int {
	neighbors := make([]int, len(p.neighbors))
	copy(neighbors, p.neighbors)
	return neighbors
}

func (p *Partition) IsGroupMaster(level int) bool {
	return p.topology != nil && p.topology.IsGroupMaster(level)
}

func (p *Partition) GroupComm(level int) (*topology.Group, bool) {
	if p.topology == nil {
		return nil, false
	}
	return p.topology.GroupComm(level)
}

func (p *Partition) NodeShapeAtLevel(level int) (geom.HyperRect, bool) {
	if p.topology == nil {
		return geom.HyperRect{}, false
	}
	return p.topology.NodeShapeAtLevel(level)
}

func (p *Partition) checkInitialized() error {
	if p.tree == nil {
		return errors.New("partition is not initialized").
			WithType(quadtree.ErrTypeInvalidOperation).
			WithTag("proc", p.world.Rank())
	}
	return nil
}
