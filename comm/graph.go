package comm

import (
	"context"
	"sort"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// GraphComm is a communicator with an undirected process adjacency graph.
type GraphComm struct {
	*Comm

	graph     *simple.UndirectedGraph
	neighbors []int
}

// CreateGraph builds an unweighted undirected adjacency graph from the
// neighbor ranks given by every member. It is collective over the
// communicator. Neighbor lists must be symmetric: if a lists b, b lists a.
func (c *Comm) CreateGraph(ctx context.Context, neighbors []int) (*GraphComm, error) {
	defer instrumentCollective("create_graph", time.Now())

	lists, err := c.AllGatherInts(ctx, neighbors)
	if err != nil {
		return nil, errors.New("gathering neighbor lists failed").
			WithType(ErrTypeTransportFailure).
			WithTag("comm", c.id).
			Wrap(err)
	}

	g := simple.NewUndirectedGraph()
	for r := range lists {
		g.AddNode(simple.Node(r))
	}

	for a, list := range lists {
		for _, b := range list {
			if b < 0 || b >= len(lists) || b == a {
				return nil, errors.New("invalid neighbor rank").
					WithType(ErrTypeAsymmetricGraph).
					WithTag("comm", c.id).
					WithTag("rank", a).
					WithTag("neighbor", b)
			}
			if !containsInt(lists[b], a) {
				return nil, errors.New("neighbor lists are not symmetric").
					WithType(ErrTypeAsymmetricGraph).
					WithTag("comm", c.id).
					WithTag("rank", a).
					WithTag("neighbor", b)
			}
			g.SetEdge(g.NewEdge(simple.Node(a), simple.Node(b)))
		}
	}

	own := make([]int, 0, len(neighbors))
	for _, n := range graph.NodesOf(g.From(int64(c.rank))) {
		own = append(own, int(n.ID()))
	}
	sort.Ints(own)

	return &GraphComm{
		Comm:      c,
		graph:     g,
		neighbors: own,
	}, nil
}

// Neighbors returns the sorted ranks adjacent to the calling process.
func (g *GraphComm) Neighbors() []int {
	neighbors := make([]int, len(g.neighbors))
	copy(neighbors, g.neighbors)
	return neighbors
}

func (g *GraphComm) Degree() int {
	return len(g.neighbors)
}

// HasEdge reports whether the two ranks are adjacent.
func (g *GraphComm) HasEdge(a, b int) bool {
	return g.graph.HasEdgeBetween(int64(a), int64(b))
}

// Components returns the connected components of the graph, each one being a
// sorted list of ranks. Components are sorted by their lowest rank.
func (g *GraphComm) Components() [][]int {
	var components [][]int
	for _, nodes := range topo.ConnectedComponents(g.graph) {
		ranks := make([]int, len(nodes))
		for i, n := range nodes {
			ranks[i] = int(n.ID())
		}
		sort.Ints(ranks)
		components = append(components, ranks)
	}

	sort.Slice(components, func(i, j int) bool {
		return components[i][0] < components[j][0]
	})
	return components
}

// NeighborExchange sends out[n] to every neighbor n and returns the payload
// received from each neighbor. It is collective over the communicator.
func (g *GraphComm) NeighborExchange(ctx context.Context, out map[int][]byte) (map[int][]byte, error) {
	defer instrumentCollective("neighbor_exchange", time.Now())

	key := g.nextCollectiveKey("nx")
	for _, n := range g.neighbors {
		if err := g.send(ctx, n, key, out[n]); err != nil {
			return nil, err
		}
	}

	in := make(map[int][]byte, len(g.neighbors))
	for _, n := range g.neighbors {
		payload, err := g.recv(ctx, n, key)
		if err != nil {
			return nil, err
		}
		in[n] = payload
	}
	return in, nil
}

func containsInt(s []int, v int) bool {
	for _, e := range s {
		if e == v {
			return true
		}
	}
	return false
}
