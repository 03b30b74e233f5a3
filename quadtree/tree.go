// Package quadtree implements the hierarchical decomposition of an
// n-dimensional domain into disjoint leaf regions, each owned by a process.
//
// The tree is an arena: nodes live in a slice and reference each other by
// NodeID. Each split cuts a leaf into 2^d children at a point.
package quadtree

import (
	"fmt"
	"sort"
	"strings"

	"github.com/aukilabs/dquad/geom"
	"github.com/aukilabs/go-tooling/pkg/errors"
)

const (
	ErrTypeInvalidConfiguration = "invalid_configuration"
	ErrTypeNotFound             = "not_found"
	ErrTypeInvalidOperation     = "invalid_operation"
)

// NodeID addresses a node in a tree.
type NodeID int

// NoNode is the id of a missing node, such as the parent of the root.
const NoNode NodeID = -1

// NoProc is the process id of a node that is not mapped yet.
const NoProc = -1

// Node is a region of the domain.
type Node struct {
	ID       NodeID
	Shape    geom.HyperRect
	Proc     int
	Level    int
	Parent   NodeID
	Children []NodeID
}

// IsLeaf reports whether the node has no children.
func (n Node) IsLeaf() bool {
	return len(n.Children) == 0
}

// Tree is a partition tree rooted at the whole domain.
type Tree struct {
	nodes []Node
}

// New creates a tree made of a single root node covering the domain.
func New(domain geom.HyperRect) *Tree {
	return &Tree{
		nodes: []Node{{
			ID:     0,
			Shape:  domain,
			Proc:   NoProc,
			Parent: NoNode,
		}},
	}
}

func (t *Tree) Root() NodeID {
	return 0
}

func (t *Tree) Dims() int {
	return t.nodes[0].Shape.Dims()
}

// Len returns the number of nodes in the tree.
func (t *Tree) Len() int {
	return len(t.nodes)
}

// Node returns the node with the given id. The children slice is shared with
// the tree and must not be modified.
func (t *Tree) Node(id NodeID) Node {
	return t.nodes[id]
}

// Split splits, in order, the leaf containing each point at that point.
func (t *Tree) Split(points ...geom.Point) error {
	for _, p := range points {
		leaf, err := t.LeafNode(p)
		if err != nil {
			return err
		}

		if err := t.SplitNode(leaf, p); err != nil {
			return err
		}
	}
	return nil
}

// SplitNode cuts the given leaf into 2^d children at p. p must lie strictly
// inside the node on its lower bounds so that no child is empty.
func (t *Tree) SplitNode(id NodeID, p geom.Point) error {
	node := t.nodes[id]

	if !node.IsLeaf() {
		return errors.New("splitting a node that already has children").
			WithType(ErrTypeInvalidOperation).
			WithTag("node", node.Shape.String()).
			WithTag("point", p.String())
	}

	if !node.Shape.Contains(p) {
		return errors.New("split point is outside of the node").
			WithType(ErrTypeInvalidOperation).
			WithTag("node", node.Shape.String()).
			WithTag("point", p.String())
	}

	lo := node.Shape.Lo()
	for i := 0; i < p.Dims(); i++ {
		if p.At(i) == lo.At(i) {
			return errors.New("split point is on the node lower bound").
				WithType(ErrTypeInvalidOperation).
				WithTag("node", node.Shape.String()).
				WithTag("point", p.String()).
				WithTag("axis", i)
		}
	}

	shapes := node.Shape.Split(p)
	children := make([]NodeID, len(shapes))
	for i, shape := range shapes {
		child := NodeID(len(t.nodes))
		t.nodes = append(t.nodes, Node{
			ID:     child,
			Shape:  shape,
			Proc:   NoProc,
			Level:  node.Level + 1,
			Parent: id,
		})
		children[i] = child
	}
	t.nodes[id].Children = children
	return nil
}

// SplitUniform repeatedly splits every leaf at its center until the tree has
// np leaves. np must be a power of 2^d.
func (t *Tree) SplitUniform(np int) error {
	d := t.Dims()

	depth, ok := uniformDepth(np, d)
	if !ok {
		return errors.New("uniform decomposition requires a process count that is a power of 2^d").
			WithType(ErrTypeInvalidConfiguration).
			WithTag("np", np).
			WithTag("dims", d).
			WithTag("fanout", 1<<d)
	}

	for level := 0; level < depth; level++ {
		for _, leaf := range t.Leaves() {
			if err := t.SplitNode(leaf, t.nodes[leaf].Shape.Center()); err != nil {
				return errors.New("uniform split failed").
					WithType(ErrTypeInvalidConfiguration).
					WithTag("np", np).
					WithTag("level", level).
					Wrap(err)
			}
		}
	}
	return nil
}

// uniformDepth returns k such that np == (2^d)^k.
func uniformDepth(np, d int) (int, bool) {
	if np <= 0 || np&(np-1) != 0 {
		return 0, false
	}

	zeros := 0
	for np>>zeros&1 != 1 {
		zeros++
	}
	if zeros%d != 0 {
		return 0, false
	}
	return zeros / d, true
}

// Leaves returns every leaf in pre-order. This order is the process id
// assignment order.
func (t *Tree) Leaves() []NodeID {
	return t.LeavesUnder(t.Root())
}

// LeavesUnder returns the leaves of the subtree rooted at id, in pre-order.
func (t *Tree) LeavesUnder(id NodeID) []NodeID {
	var leaves []NodeID
	t.walk(id, func(n *Node) {
		if n.IsLeaf() {
			leaves = append(leaves, n.ID)
		}
	})
	return leaves
}

// LeafProcs returns the process ids of the leaves under id, in pre-order.
func (t *Tree) LeafProcs(id NodeID) []int {
	leaves := t.LeavesUnder(id)
	procs := make([]int, len(leaves))
	for i, l := range leaves {
		procs[i] = t.nodes[l].Proc
	}
	return procs
}

func (t *Tree) walk(id NodeID, fn func(*Node)) {
	fn(&t.nodes[id])
	for _, c := range t.nodes[id].Children {
		t.walk(c, fn)
	}
}

// Levels returns the nodes grouped by depth. Each level is the
// concatenation of the children of the previous level, in order.
func (t *Tree) Levels() [][]NodeID {
	var levels [][]NodeID
	for curr := []NodeID{t.Root()}; len(curr) != 0; {
		levels = append(levels, curr)

		var next []NodeID
		for _, id := range curr {
			next = append(next, t.nodes[id].Children...)
		}
		curr = next
	}
	return levels
}

// LeafNode descends from the root to the leaf containing p.
func (t *Tree) LeafNode(p geom.Point) (NodeID, error) {
	id := t.Root()
	if !t.nodes[id].Shape.Contains(p) {
		return NoNode, errors.New("point is outside of the domain").
			WithType(ErrTypeNotFound).
			WithTag("point", p.String()).
			WithTag("domain", t.nodes[id].Shape.String())
	}

	for !t.nodes[id].IsLeaf() {
		next := NoNode
		for _, c := range t.nodes[id].Children {
			if t.nodes[c].Shape.Contains(p) {
				next = c
				break
			}
		}

		if next == NoNode {
			return NoNode, errors.New("no child contains the point").
				WithType(ErrTypeNotFound).
				WithTag("point", p.String()).
				WithTag("node", t.nodes[id].Shape.String())
		}
		id = next
	}
	return id, nil
}

// IsAncestorOf reports whether a is b or one of its ancestors.
func (t *Tree) IsAncestorOf(a, b NodeID) bool {
	for id := b; id != NoNode; id = t.nodes[id].Parent {
		if id == a {
			return true
		}
	}
	return false
}

// MapNodeToProc assigns process i to the i-th leaf in pre-order, then gives
// every parent the process id of its first child.
func (t *Tree) MapNodeToProc(np int) error {
	leaves := t.Leaves()
	if len(leaves) != np {
		return errors.New("the number of leaves does not equal the number of processes").
			WithType(ErrTypeInvalidConfiguration).
			WithTag("leaves", len(leaves)).
			WithTag("np", np)
	}

	for i := range t.nodes {
		t.nodes[i].Proc = NoProc
	}
	for i, l := range leaves {
		t.nodes[l].Proc = i
	}

	queue := leaves
	for len(queue) != 0 {
		curr := queue[0]
		queue = queue[1:]

		parent := t.nodes[curr].Parent
		if parent == NoNode || t.nodes[parent].Children[0] != curr {
			continue
		}
		t.nodes[parent].Proc = t.nodes[curr].Proc
		queue = append(queue, parent)
	}
	return nil
}

// LeafOf returns the leaf owned by the given process.
func (t *Tree) LeafOf(proc int) (NodeID, error) {
	for _, l := range t.Leaves() {
		if t.nodes[l].Proc == proc {
			return l, nil
		}
	}

	return NoNode, errors.New("no leaf is owned by the process").
		WithType(ErrTypeNotFound).
		WithTag("proc", proc)
}

// NeighborProcs returns the sorted distinct process ids, other than the
// leaf's own, of the leaves intersecting the leaf region expanded by margin.
// On a toroidal domain, the expanded region wraps around the domain edges.
func (t *Tree) NeighborProcs(leaf NodeID, margin []int, toroidal bool) []int {
	halo := t.nodes[leaf].Shape.Expand(margin)
	self := t.nodes[leaf].Proc

	shifts := [][]int{make([]int, t.Dims())}
	if toroidal {
		shifts = geom.Shifts(t.nodes[t.Root()].Shape.Size())
	}

	seen := make(map[int]struct{})
	for _, l := range t.Leaves() {
		proc := t.nodes[l].Proc
		if l == leaf || proc == self {
			continue
		}
		if _, ok := seen[proc]; ok {
			continue
		}

		for _, shift := range shifts {
			if halo.Intersects(t.nodes[l].Shape.Shift(shift)) {
				seen[proc] = struct{}{}
				break
			}
		}
	}

	procs := make([]int, 0, len(seen))
	for p := range seen {
		procs = append(procs, p)
	}
	sort.Ints(procs)
	return procs
}

func (t *Tree) String() string {
	var b strings.Builder
	t.walk(t.Root(), func(n *Node) {
		fmt.Fprintf(&b, "%s%s proc=%d\n", strings.Repeat("  ", n.Level), n.Shape, n.Proc)
	})
	return b.String()
}
