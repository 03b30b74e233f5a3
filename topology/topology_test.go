package topology

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aukilabs/dquad/comm"
	"github.com/aukilabs/dquad/comm/local"
	"github.com/aukilabs/dquad/geom"
	"github.com/aukilabs/dquad/quadtree"
	"github.com/stretchr/testify/require"
)

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	t.Cleanup(cancel)
	return ctx
}

func uniformTree(t *testing.T, np int) *quadtree.Tree {
	tree := quadtree.New(geom.FromSize(64, 64))
	require.NoError(t, tree.SplitUniform(np))
	require.NoError(t, tree.MapNodeToProc(np))
	return tree
}

func splitTree(t *testing.T) *quadtree.Tree {
	tree := quadtree.New(geom.FromSize(100, 100))
	require.NoError(t, tree.Split(
		geom.NewPoint(50, 50),
		geom.NewPoint(25, 25),
		geom.NewPoint(75, 75),
	))
	require.NoError(t, tree.MapNodeToProc(10))
	return tree
}

func buildAll(t *testing.T, np int, newTree func() *quadtree.Tree) []*Topology {
	topologies := make([]*Topology, np)
	var mutex sync.Mutex

	err := local.Run(testContext(t), np, func(ctx context.Context, world *comm.Comm) error {
		tree := newTree()
		leaf, err := tree.LeafOf(world.Rank())
		if err != nil {
			return err
		}

		topo, err := Build(ctx, world, tree, leaf)
		if err != nil {
			return err
		}
		if err := topo.Verify(ctx, world); err != nil {
			return err
		}

		mutex.Lock()
		topologies[world.Rank()] = topo
		mutex.Unlock()
		return nil
	})
	require.NoError(t, err)
	return topologies
}

func TestBuildUniform(t *testing.T) {
	const np = 16
	topologies := buildAll(t, np, func() *quadtree.Tree { return uniformTree(t, np) })

	for _, topo := range topologies {
		require.Equal(t, 3, topo.Levels())
	}

	masters := func(level int) map[int]struct{} {
		res := make(map[int]struct{})
		for _, topo := range topologies {
			g, ok := topo.GroupComm(level)
			require.True(t, ok)
			res[g.MasterProc] = struct{}{}
		}
		return res
	}

	require.Equal(t, map[int]struct{}{0: {}}, masters(0))
	require.Len(t, masters(1), 4)
	require.Len(t, masters(2), np)

	for proc, topo := range topologies {
		require.True(t, topo.IsGroupMaster(2), "proc %d", proc)
		require.Equal(t, proc == 0, topo.IsGroupMaster(0))

		g, _ := topo.GroupComm(0)
		require.Equal(t, np, g.Comm.Size())

		g, _ = topo.GroupComm(1)
		require.Equal(t, 4, g.Comm.Size())
		require.Equal(t, topo.IsGroupMaster(1), g.InterComm != nil)
		if g.InterComm != nil {
			require.Equal(t, 4, g.InterComm.Size())
		}

		g, _ = topo.GroupComm(2)
		require.Equal(t, 1, g.Comm.Size())
		require.Equal(t, np, g.InterComm.Size())
	}

	shape, ok := topologies[0].NodeShapeAtLevel(0)
	require.True(t, ok)
	require.True(t, geom.FromSize(64, 64).Equal(shape))

	_, ok = topologies[1].NodeShapeAtLevel(0)
	require.False(t, ok)

	shape, ok = topologies[4].NodeShapeAtLevel(1)
	require.True(t, ok)
	require.Equal(t, 32*32, shape.Area())

	_, ok = topologies[0].GroupComm(3)
	require.False(t, ok)
}

func TestBuildUneven(t *testing.T) {
	const np = 10
	topologies := buildAll(t, np, func() *quadtree.Tree { return splitTree(t) })

	tree := splitTree(t)
	for proc, topo := range topologies {
		require.Equal(t, 3, topo.Levels())

		leaf, err := tree.LeafOf(proc)
		require.NoError(t, err)

		_, ok := topo.GroupComm(2)
		require.Equal(t, tree.Node(leaf).Level == 2, ok, "proc %d", proc)

		g, ok := topo.GroupComm(1)
		require.True(t, ok)
		require.Equal(t, len(tree.LeafProcs(g.Master)), g.Comm.Size())
	}

	require.Equal(t, []int{0, 1, 2}, topologies[0].MasterLevels())
}

func TestBuilderStates(t *testing.T) {
	err := local.Run(testContext(t), 4, func(ctx context.Context, world *comm.Comm) error {
		tree := quadtree.New(geom.FromSize(10, 10))
		require.NoError(t, tree.SplitUniform(4))
		require.NoError(t, tree.MapNodeToProc(4))
		leaf, err := tree.LeafOf(world.Rank())
		require.NoError(t, err)

		b := NewBuilder(world, tree, leaf)
		var states []State
		for b.State() != Complete {
			states = append(states, b.State())
			if err := b.Step(ctx); err != nil {
				return err
			}
		}

		require.Equal(t, []State{
			LevelPending, NodesProcessing, MastersLinking, LevelDone,
			LevelPending, NodesProcessing, NodesProcessing, NodesProcessing, NodesProcessing, MastersLinking, LevelDone,
			LevelPending,
		}, states)
		require.Equal(t, 2, b.Level())
		require.Error(t, b.Step(ctx))
		return nil
	})
	require.NoError(t, err)
}

func TestStateString(t *testing.T) {
	require.Equal(t, "masters_linking", MastersLinking.String())
	require.Equal(t, "state(42)", State(42).String())
}
