package comm_test

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/aukilabs/dquad/comm"
	"github.com/aukilabs/dquad/comm/local"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/stretchr/testify/require"
)

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	t.Cleanup(cancel)
	return ctx
}

func TestCommSendRecv(t *testing.T) {
	err := local.Run(testContext(t), 2, func(ctx context.Context, c *comm.Comm) error {
		switch c.Rank() {
		case 0:
			if err := c.Send(ctx, 1, 7, []byte("first")); err != nil {
				return err
			}
			return c.Send(ctx, 1, 7, []byte("second"))

		default:
			first, err := c.Recv(ctx, 0, 7)
			if err != nil {
				return err
			}
			second, err := c.Recv(ctx, 0, 7)
			if err != nil {
				return err
			}
			require.Equal(t, "first", string(first))
			require.Equal(t, "second", string(second))
			return nil
		}
	})
	require.NoError(t, err)
}

func TestCommBarrier(t *testing.T) {
	const np = 5

	var mutex sync.Mutex
	var arrived int

	err := local.Run(testContext(t), np, func(ctx context.Context, c *comm.Comm) error {
		mutex.Lock()
		arrived++
		mutex.Unlock()

		if err := c.Barrier(ctx); err != nil {
			return err
		}

		mutex.Lock()
		defer mutex.Unlock()
		require.Equal(t, np, arrived)
		return nil
	})
	require.NoError(t, err)
}

func TestCommAllGather(t *testing.T) {
	err := local.Run(testContext(t), 4, func(ctx context.Context, c *comm.Comm) error {
		res, err := c.AllGatherInts(ctx, []int{c.Rank(), c.Rank() * 10})
		if err != nil {
			return err
		}

		require.Len(t, res, 4)
		for r, values := range res {
			require.Equal(t, []int{r, r * 10}, values)
		}
		return nil
	})
	require.NoError(t, err)
}

func TestCommBcast(t *testing.T) {
	err := local.Run(testContext(t), 3, func(ctx context.Context, c *comm.Comm) error {
		var payload []byte
		if c.Rank() == 2 {
			payload = []byte("hello")
		}

		res, err := c.Bcast(ctx, 2, payload)
		if err != nil {
			return err
		}
		require.Equal(t, "hello", string(res))
		return nil
	})
	require.NoError(t, err)
}

func TestCommCreateGroup(t *testing.T) {
	err := local.Run(testContext(t), 6, func(ctx context.Context, c *comm.Comm) error {
		members := []int{1, 3, 5}
		if c.Rank()%2 == 0 {
			members = []int{4, 2, 0}
		}

		group, err := c.CreateGroup(ctx, members)
		if err != nil {
			return err
		}
		require.Equal(t, 3, group.Size())
		require.Equal(t, c.Rank(), group.WorldRank(group.Rank()))
		require.Equal(t, members, group.Ranks())

		res, err := group.AllGatherInts(ctx, []int{c.Rank()})
		if err != nil {
			return err
		}

		var gathered []int
		for _, v := range res {
			gathered = append(gathered, v...)
		}
		require.Equal(t, members, gathered)

		return c.Barrier(ctx)
	})
	require.NoError(t, err)
}

func TestCommCreateGroupTwice(t *testing.T) {
	err := local.Run(testContext(t), 2, func(ctx context.Context, c *comm.Comm) error {
		a, err := c.CreateGroup(ctx, []int{0, 1})
		if err != nil {
			return err
		}
		b, err := c.CreateGroup(ctx, []int{0, 1})
		if err != nil {
			return err
		}
		require.NotEqual(t, a.ID(), b.ID())
		return nil
	})
	require.NoError(t, err)
}

func TestCommCreateGroupNotMember(t *testing.T) {
	err := local.Run(testContext(t), 2, func(ctx context.Context, c *comm.Comm) error {
		if c.Rank() != 0 {
			return nil
		}

		_, err := c.CreateGroup(ctx, []int{1})
		require.Error(t, err)
		require.Equal(t, comm.ErrTypeNotMember, errors.Type(err))
		return nil
	})
	require.NoError(t, err)
}

func TestCommFailureReleasesPeers(t *testing.T) {
	err := local.Run(testContext(t), 3, func(ctx context.Context, c *comm.Comm) error {
		if c.Rank() == 1 {
			return errors.New("rank failed").WithType(comm.ErrTypeTransportFailure)
		}
		return c.Barrier(ctx)
	})
	require.Error(t, err)
}

func TestCommCreateGraph(t *testing.T) {
	t.Run("ring", func(t *testing.T) {
		const np = 5

		err := local.Run(testContext(t), np, func(ctx context.Context, c *comm.Comm) error {
			neighbors := []int{(c.Rank() + 1) % np, (c.Rank() + np - 1) % np}

			g, err := c.CreateGraph(ctx, neighbors)
			if err != nil {
				return err
			}

			sort.Ints(neighbors)
			require.Equal(t, neighbors, g.Neighbors())
			require.Equal(t, 2, g.Degree())
			require.True(t, g.HasEdge(0, np-1))
			require.False(t, g.HasEdge(0, 2))
			require.Len(t, g.Components(), 1)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("disconnected pairs", func(t *testing.T) {
		err := local.Run(testContext(t), 4, func(ctx context.Context, c *comm.Comm) error {
			g, err := c.CreateGraph(ctx, []int{c.Rank() ^ 1})
			if err != nil {
				return err
			}
			require.Equal(t, [][]int{{0, 1}, {2, 3}}, g.Components())
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("asymmetric", func(t *testing.T) {
		err := local.Run(testContext(t), 3, func(ctx context.Context, c *comm.Comm) error {
			var neighbors []int
			if c.Rank() == 0 {
				neighbors = []int{1}
			}

			_, err := c.CreateGraph(ctx, neighbors)
			require.Error(t, err)
			require.Equal(t, comm.ErrTypeAsymmetricGraph, errors.Type(err))
			return nil
		})
		require.NoError(t, err)
	})
}

func TestGraphCommNeighborExchange(t *testing.T) {
	const np = 4

	err := local.Run(testContext(t), np, func(ctx context.Context, c *comm.Comm) error {
		neighbors := []int{(c.Rank() + 1) % np, (c.Rank() + np - 1) % np}

		g, err := c.CreateGraph(ctx, neighbors)
		if err != nil {
			return err
		}

		out := make(map[int][]byte)
		for _, n := range g.Neighbors() {
			out[n] = comm.EncodeInts([]int{c.Rank(), n})
		}

		in, err := g.NeighborExchange(ctx, out)
		if err != nil {
			return err
		}

		require.Len(t, in, 2)
		for n, payload := range in {
			values, err := comm.DecodeInts(payload)
			require.NoError(t, err)
			require.Equal(t, []int{n, c.Rank()}, values)
		}
		return nil
	})
	require.NoError(t, err)
}

func TestMailboxesClose(t *testing.T) {
	var m comm.Mailboxes
	m.Put(0, 1, "k", []byte("queued"))
	m.Close(nil)

	payload, err := m.Take(context.Background(), 0, 1, "k")
	require.NoError(t, err)
	require.Equal(t, "queued", string(payload))

	_, err = m.Take(context.Background(), 0, 1, "k")
	require.Error(t, err)
	require.Equal(t, comm.ErrTypeTransportFailure, errors.Type(err))
}

func TestEncodeInts(t *testing.T) {
	values, err := comm.DecodeInts(comm.EncodeInts([]int{-3, 0, 42, 1 << 40}))
	require.NoError(t, err)
	require.Equal(t, []int{-3, 0, 42, 1 << 40}, values)

	values, err = comm.DecodeInts(comm.EncodeInts(nil))
	require.NoError(t, err)
	require.Empty(t, values)
}
