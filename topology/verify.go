package topology

import (
	"context"
	"slices"

	"github.com/aukilabs/dquad/comm"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
)

const ErrTypeGroupMismatch = "group_mismatch"

// Verify checks, level by level, that every intra-group and inter-group
// communicator contains exactly the processes the tree expects, by gathering
// process ids over each of them. It is collective over the world
// communicator.
func (t *Topology) Verify(ctx context.Context, world *comm.Comm) error {
	levels := t.tree.Levels()

	for level := 0; level < t.levels; level++ {
		if g, ok := t.groups[level]; ok {
			expected := t.tree.LeafProcs(g.Master)
			if err := verifyMembers(ctx, g.Comm, expected); err != nil {
				return errors.New("intra group verification failed").
					WithType(errors.Type(err)).
					WithTag("level", level).
					Wrap(err)
			}
		}

		if err := world.Barrier(ctx); err != nil {
			return err
		}

		if t.IsGroupMaster(level) {
			expected := make([]int, len(levels[level]))
			for i, id := range levels[level] {
				expected[i] = t.tree.Node(id).Proc
			}

			if err := verifyMembers(ctx, t.groups[level].InterComm, expected); err != nil {
				return errors.New("inter group verification failed").
					WithType(errors.Type(err)).
					WithTag("level", level).
					Wrap(err)
			}
		}

		if err := world.Barrier(ctx); err != nil {
			return err
		}
	}

	logs.WithTag("proc", t.proc).
		WithTag("levels", t.levels).
		WithTag("master_levels", t.MasterLevels()).
		Debug("topology verified")
	return nil
}

func verifyMembers(ctx context.Context, c *comm.Comm, expected []int) error {
	if c == nil {
		return errors.New("missing communicator").
			WithType(ErrTypeGroupMismatch).
			WithTag("expected", expected)
	}

	res, err := c.AllGatherInts(ctx, []int{c.WorldRank(c.Rank())})
	if err != nil {
		return err
	}

	gathered := make([]int, 0, len(res))
	for _, r := range res {
		gathered = append(gathered, r...)
	}

	if !slices.Equal(gathered, expected) {
		return errors.New("communicator members do not match the tree").
			WithType(ErrTypeGroupMismatch).
			WithTag("expected", expected).
			WithTag("gathered", gathered)
	}
	return nil
}
