package websocket

import (
	"context"
	"testing"
	"time"

	"github.com/aukilabs/dquad/comm"
	"github.com/aukilabs/dquad/geom"
	"github.com/aukilabs/dquad/models"
	"github.com/aukilabs/dquad/partition"
	"github.com/aukilabs/dquad/storage"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"
	"golang.org/x/sync/errgroup"
)

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	t.Cleanup(cancel)
	return ctx
}

// runRanks connects np ranks of a new job to the hub and runs fn on each of
// them.
func runRanks(t *testing.T, endpoint string, np int, fn func(context.Context, *comm.Comm) error) error {
	jobID := uuid.NewString()
	g, ctx := errgroup.WithContext(testContext(t))

	for rank := 0; rank < np; rank++ {
		rank := rank
		g.Go(func() error {
			c, err := Dial(ctx, endpoint, jobID, rank, np)
			if err != nil {
				return err
			}
			defer c.Close()

			return fn(ctx, comm.NewWorld(c))
		})
	}
	return g.Wait()
}

func waitForJobs(t *testing.T, jobs *models.JobStore, count int) {
	require.Eventually(t, func() bool {
		return jobs.Len() == count
	}, time.Second*5, time.Millisecond*10)
}

func TestClientCollectives(t *testing.T) {
	endpoint, jobs, close := NewTestingEnv(t)
	defer close()

	const np = 3

	err := runRanks(t, endpoint, np, func(ctx context.Context, world *comm.Comm) error {
		require.Equal(t, np, world.Size())

		if err := world.Barrier(ctx); err != nil {
			return err
		}

		gathered, err := world.AllGatherInts(ctx, []int{world.Rank() * 10, -world.Rank()})
		if err != nil {
			return err
		}
		require.Equal(t, [][]int{{0, 0}, {10, -1}, {20, -2}}, gathered)

		payload, err := world.Bcast(ctx, 1, []byte("from rank 1"))
		if err != nil {
			return err
		}
		require.Equal(t, "from rank 1", string(payload))

		next := (world.Rank() + 1) % np
		prev := (world.Rank() + np - 1) % np
		for tag := 0; tag < 3; tag++ {
			if err := world.Send(ctx, next, tag, []byte{byte(world.Rank()), byte(tag)}); err != nil {
				return err
			}
		}
		for tag := 2; tag >= 0; tag-- {
			msg, err := world.Recv(ctx, prev, tag)
			if err != nil {
				return err
			}
			require.Equal(t, []byte{byte(prev), byte(tag)}, msg)
		}

		if world.Rank() != 1 {
			group, err := world.CreateGroup(ctx, []int{2, 0})
			if err != nil {
				return err
			}
			require.Equal(t, 2, group.Size())
			require.Equal(t, world.Rank() == 2, group.Rank() == 0)

			res, err := group.AllGatherInts(ctx, []int{world.Rank()})
			if err != nil {
				return err
			}
			require.Equal(t, [][]int{{2}, {0}}, res)
		}

		return world.Barrier(ctx)
	})
	require.NoError(t, err)
	waitForJobs(t, jobs, 0)
}

func TestClientPartition(t *testing.T) {
	endpoint, jobs, close := NewTestingEnv(t)
	defer close()

	size := []int{8, 8}

	err := runRanks(t, endpoint, 4, func(ctx context.Context, world *comm.Comm) error {
		p, err := partition.New(world, partition.Config{
			Size:     size,
			Toroidal: true,
			AOI:      []int{1, 1},
		})
		if err != nil {
			return err
		}
		if err := p.InitUniform(ctx); err != nil {
			return err
		}
		require.Equal(t, 16, p.OwnRegion().Area())

		own := p.OwnRegion()
		grid := storage.NewGrid[int64](own.Expand(p.Config().AOI), storage.Int64Codec{})
		for i := 0; i < grid.Len(); i++ {
			pt := grid.PointAt(i)
			if own.Contains(pt) {
				require.NoError(t, grid.Set(pt, cellValue(world.Rank(), pt, size)))
			}
		}

		halo, err := partition.ExchangeHalo(ctx, p, grid)
		if err != nil {
			return err
		}
		if _, err := partition.UnpackHalo(grid, halo); err != nil {
			return err
		}

		for i := 0; i < grid.Len(); i++ {
			pt := grid.PointAt(i)
			owner, err := p.Locate(pt)
			require.NoError(t, err)

			v, err := grid.Get(pt)
			require.NoError(t, err)
			require.Equal(t, cellValue(owner, pt.Wrap(size), size), v, "rank %d %s", world.Rank(), pt)
		}

		d, err := p.Diagnostics(ctx)
		if err != nil {
			return err
		}
		require.Equal(t, 1.0, d.Imbalance)
		return nil
	})
	require.NoError(t, err)
	waitForJobs(t, jobs, 0)
}

func cellValue(owner int, pt geom.Point, size []int) int64 {
	return int64(owner*1000 + storage.FlatIndex(pt, size) + 1)
}

func TestClientDialInvalidRank(t *testing.T) {
	_, err := Dial(testContext(t), "http://localhost:1", uuid.NewString(), 2, 2)
	require.Error(t, err)
	require.Equal(t, comm.ErrTypeTransportFailure, errors.Type(err))
}

func TestClientRejectedByHub(t *testing.T) {
	endpoint, jobs, close := NewTestingEnv(t)
	defer close()

	tests := []struct {
		scenario string
		prepare  func(t *testing.T, jobID string) *Client
		rank     int
		size     int
		jobID    string
	}{
		{
			scenario: "invalid job id",
			jobID:    "not-a-uuid",
			rank:     0,
			size:     2,
		},
		{
			scenario: "job size mismatch",
			prepare: func(t *testing.T, jobID string) *Client {
				c, err := Dial(testContext(t), endpoint, jobID, 0, 2)
				require.NoError(t, err)
				return c
			},
			rank: 1,
			size: 3,
		},
		{
			scenario: "rank already connected",
			prepare: func(t *testing.T, jobID string) *Client {
				c, err := Dial(testContext(t), endpoint, jobID, 1, 2)
				require.NoError(t, err)
				return c
			},
			rank: 1,
			size: 2,
		},
	}

	for _, test := range tests {
		t.Run(test.scenario, func(t *testing.T) {
			jobID := test.jobID
			if jobID == "" {
				jobID = uuid.NewString()
			}

			if test.prepare != nil {
				first := test.prepare(t, jobID)
				defer first.Close()

				require.Eventually(t, func() bool {
					job, ok := jobs.Get(jobID)
					return ok && job.RankCount() == 1
				}, time.Second*5, time.Millisecond*10)
			}

			c, err := Dial(testContext(t), endpoint, jobID, test.rank, test.size)
			require.NoError(t, err)
			defer c.Close()

			_, err = c.Recv(testContext(t), 0, "w|t0")
			require.Error(t, err)
			require.Equal(t, comm.ErrTypeTransportFailure, errors.Type(err))
		})
	}
}

func TestClientSpoofedSourceIsDisconnected(t *testing.T) {
	endpoint, _, close := NewTestingEnv(t)
	defer close()

	c, err := Dial(testContext(t), endpoint, uuid.NewString(), 0, 2)
	require.NoError(t, err)
	defer c.Close()

	f := Frame{Src: 1, Dst: 0, Key: "w|t0", Payload: []byte("spoofed")}
	require.NoError(t, websocket.Message.Send(c.conn, f.Marshal()))

	_, err = c.Recv(testContext(t), 1, "w|t0")
	require.Error(t, err)
	require.Equal(t, comm.ErrTypeTransportFailure, errors.Type(err))
}

func TestClientFramesBeforeJoinAreDelivered(t *testing.T) {
	endpoint, jobs, close := NewTestingEnv(t)
	defer close()

	ctx := testContext(t)
	jobID := uuid.NewString()

	sender, err := Dial(ctx, endpoint, jobID, 0, 2)
	require.NoError(t, err)
	defer sender.Close()

	for i := 0; i < 3; i++ {
		require.NoError(t, sender.Send(ctx, 1, "w|t5", []byte{byte(i)}))
	}

	require.Eventually(t, func() bool {
		job, ok := jobs.Get(jobID)
		return ok && job.PendingCount() == 3
	}, time.Second*5, time.Millisecond*10)

	receiver, err := Dial(ctx, endpoint, jobID, 1, 2)
	require.NoError(t, err)
	defer receiver.Close()

	for i := 0; i < 3; i++ {
		payload, err := receiver.Recv(ctx, 0, "w|t5")
		require.NoError(t, err)
		require.Equal(t, []byte{byte(i)}, payload)
	}
}
