// Package topology builds, level by level, the communication groups of a
// partition tree: one intra-group communicator per node spanning the
// processes owning a leaf under it, and one inter-group communicator per
// level linking the processes that hold the master role of each node.
//
// Every process runs the same construction in lockstep. Processes that are
// not members of a node group still synchronize on that node so that no
// process runs ahead of its peers.
package topology

import (
	"context"
	"fmt"

	"github.com/aukilabs/dquad/comm"
	"github.com/aukilabs/dquad/geom"
	"github.com/aukilabs/dquad/quadtree"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
)

// State is a step of the level by level construction.
type State int

const (
	// The next level is about to be read from the tree.
	LevelPending State = iota

	// Node groups of the current level are being created, one node per step.
	NodesProcessing

	// Masters of the current level are being linked.
	MastersLinking

	// The current level is finished.
	LevelDone

	// Every level is built.
	Complete
)

func (s State) String() string {
	switch s {
	case LevelPending:
		return "level_pending"
	case NodesProcessing:
		return "nodes_processing"
	case MastersLinking:
		return "masters_linking"
	case LevelDone:
		return "level_done"
	case Complete:
		return "complete"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Group is the communication group of a process at a tree level.
type Group struct {
	Level int

	// The node at this level that is an ancestor of the process leaf.
	Master quadtree.NodeID

	// The process holding the master role for the node.
	MasterProc int

	// The region of the master node.
	Shape geom.HyperRect

	// Spans every process owning a leaf under the master node.
	Comm *comm.Comm

	// Spans the masters of every node of the level. Only set on the
	// process holding the master role.
	InterComm *comm.Comm
}

// Topology is the group hierarchy of a process.
type Topology struct {
	tree   *quadtree.Tree
	leaf   quadtree.NodeID
	proc   int
	levels int
	groups map[int]*Group
}

// Levels returns the number of tree levels.
func (t *Topology) Levels() int {
	return t.levels
}

// GroupComm returns the group of the process at the given level. The boolean
// is false when the process leaf is not under any node of that level.
func (t *Topology) GroupComm(level int) (*Group, bool) {
	g, ok := t.groups[level]
	return g, ok
}

// IsGroupMaster reports whether the process holds the master role of its
// ancestor node at the given level.
func (t *Topology) IsGroupMaster(level int) bool {
	g, ok := t.groups[level]
	return ok && g.MasterProc == t.proc
}

// NodeShapeAtLevel returns the region of the master node at the given level.
// The boolean is false when the process is not the master of that level.
func (t *Topology) NodeShapeAtLevel(level int) (geom.HyperRect, bool) {
	if !t.IsGroupMaster(level) {
		return geom.HyperRect{}, false
	}
	return t.groups[level].Shape, true
}

// MasterLevels returns the levels where the process holds the master role.
func (t *Topology) MasterLevels() []int {
	var levels []int
	for l := 0; l < t.levels; l++ {
		if t.IsGroupMaster(l) {
			levels = append(levels, l)
		}
	}
	return levels
}

// Builder is the state machine that creates the groups of a topology. All
// processes of the world communicator must drive their builder through the
// same sequence of steps.
type Builder struct {
	world *comm.Comm
	tree  *quadtree.Tree
	leaf  quadtree.NodeID

	state  State
	level  int
	curr   []quadtree.NodeID
	next   []quadtree.NodeID
	node   int
	groups map[int]*Group
}

// NewBuilder returns a builder for the process owning the given leaf. The
// tree must be mapped to processes.
func NewBuilder(world *comm.Comm, tree *quadtree.Tree, leaf quadtree.NodeID) *Builder {
	return &Builder{
		world:  world,
		tree:   tree,
		leaf:   leaf,
		state:  LevelPending,
		curr:   []quadtree.NodeID{tree.Root()},
		groups: make(map[int]*Group),
	}
}

func (b *Builder) State() State {
	return b.state
}

// Level returns the level being built.
func (b *Builder) Level() int {
	return b.level
}

// Step performs the next transition of the construction.
func (b *Builder) Step(ctx context.Context) error {
	switch b.state {
	case LevelPending:
		if len(b.curr) == 0 {
			b.state = Complete
			return nil
		}

		b.next = nil
		for _, id := range b.curr {
			b.next = append(b.next, b.tree.Node(id).Children...)
		}
		b.node = 0
		b.state = NodesProcessing
		return nil

	case NodesProcessing:
		if err := b.processNode(ctx, b.curr[b.node]); err != nil {
			return err
		}

		b.node++
		if b.node == len(b.curr) {
			b.state = MastersLinking
		}
		return nil

	case MastersLinking:
		if err := b.linkMasters(ctx); err != nil {
			return err
		}
		b.state = LevelDone
		return nil

	case LevelDone:
		logs.WithTag("level", b.level).
			WithTag("nodes", len(b.curr)).
			WithTag("proc", b.world.Rank()).
			WithTag("member", b.groups[b.level] != nil).
			Debug("topology level built")

		b.curr = b.next
		b.next = nil
		b.level++
		b.state = LevelPending
		return nil

	default:
		return errors.New("topology construction is already complete").
			WithType(quadtree.ErrTypeInvalidOperation).
			WithTag("levels", b.level)
	}
}

// processNode creates the group of the node when the process leaf is under
// it. Every process then waits on the world barrier.
func (b *Builder) processNode(ctx context.Context, id quadtree.NodeID) error {
	node := b.tree.Node(id)

	if b.tree.IsAncestorOf(id, b.leaf) {
		members := b.tree.LeafProcs(id)

		c, err := b.world.CreateGroup(ctx, members)
		if err != nil {
			return errors.New("creating node group failed").
				WithType(comm.ErrTypeTransportFailure).
				WithTag("level", b.level).
				WithTag("node", node.Shape.String()).
				WithTag("members", members).
				Wrap(err)
		}

		b.groups[b.level] = &Group{
			Level:      b.level,
			Master:     id,
			MasterProc: node.Proc,
			Shape:      node.Shape,
			Comm:       c,
		}
	}

	if err := b.world.Barrier(ctx); err != nil {
		return errors.New("synchronizing node group failed").
			WithType(comm.ErrTypeTransportFailure).
			WithTag("level", b.level).
			WithTag("node", node.Shape.String()).
			Wrap(err)
	}
	return nil
}

// linkMasters creates the inter-group communicator of the level on the
// master processes. Every process then waits on the world barrier.
func (b *Builder) linkMasters(ctx context.Context) error {
	if g, ok := b.groups[b.level]; ok && g.MasterProc == b.world.Rank() {
		masters := make([]int, len(b.curr))
		for i, id := range b.curr {
			masters[i] = b.tree.Node(id).Proc
		}

		c, err := b.world.CreateGroup(ctx, masters)
		if err != nil {
			return errors.New("linking level masters failed").
				WithType(comm.ErrTypeTransportFailure).
				WithTag("level", b.level).
				WithTag("masters", masters).
				Wrap(err)
		}
		g.InterComm = c
	}

	if err := b.world.Barrier(ctx); err != nil {
		return errors.New("synchronizing level masters failed").
			WithType(comm.ErrTypeTransportFailure).
			WithTag("level", b.level).
			Wrap(err)
	}
	return nil
}

// Topology returns the built topology. It must only be called once the
// builder is complete.
func (b *Builder) Topology() *Topology {
	return &Topology{
		tree:   b.tree,
		leaf:   b.leaf,
		proc:   b.world.Rank(),
		levels: b.level,
		groups: b.groups,
	}
}

// Build drives a builder to completion.
func Build(ctx context.Context, world *comm.Comm, tree *quadtree.Tree, leaf quadtree.NodeID) (*Topology, error) {
	b := NewBuilder(world, tree, leaf)
	for b.State() != Complete {
		if err := b.Step(ctx); err != nil {
			return nil, err
		}
	}
	return b.Topology(), nil
}
