package models

import (
	"context"
	"sync"
	"testing"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type testSender struct {
	mutex  sync.Mutex
	frames []string
}

func (s *testSender) SendFrame(frame []byte) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.frames = append(s.frames, string(frame))
}

func TestJobJoin(t *testing.T) {
	job := NewJob(1, uuid.NewString(), 2)

	r := &Rank{ID: 1, Sender: &testSender{}}
	require.NoError(t, job.Join(r))
	require.Equal(t, []int{1}, job.Ranks())

	err := job.Join(&Rank{ID: 1, Sender: &testSender{}})
	require.Error(t, err)
	require.Equal(t, ErrTypeRankConnected, errors.Type(err))

	err = job.Join(&Rank{ID: 2, Sender: &testSender{}})
	require.Error(t, err)
	require.Equal(t, ErrTypeInvalidRank, errors.Type(err))

	err = job.Join(&Rank{ID: -1, Sender: &testSender{}})
	require.Error(t, err)
	require.Equal(t, ErrTypeInvalidRank, errors.Type(err))
}

func TestJobRelay(t *testing.T) {
	job := NewJob(1, uuid.NewString(), 3)

	delivered, err := job.Relay(2, []byte("early-1"))
	require.NoError(t, err)
	require.False(t, delivered)

	delivered, err = job.Relay(2, []byte("early-2"))
	require.NoError(t, err)
	require.False(t, delivered)
	require.Equal(t, 2, job.PendingCount())

	sender := &testSender{}
	r := &Rank{ID: 2, Sender: sender}
	require.NoError(t, job.Join(r))
	require.Zero(t, job.PendingCount())

	delivered, err = job.Relay(2, []byte("late"))
	require.NoError(t, err)
	require.True(t, delivered)

	require.Equal(t, []string{"early-1", "early-2", "late"}, sender.frames)
	require.Equal(t, 3, r.Received())

	status := job.Status()
	require.Equal(t, []int{2}, status.Ranks)
	require.Equal(t, 1, status.Joined)
	require.Equal(t, 3, status.Relayed)
	require.Zero(t, status.Pending)

	_, err = job.Relay(3, []byte("nowhere"))
	require.Error(t, err)
	require.Equal(t, ErrTypeInvalidRank, errors.Type(err))
}

func TestJobLeave(t *testing.T) {
	job := NewJob(1, uuid.NewString(), 2)

	a := &Rank{ID: 0, Sender: &testSender{}}
	b := &Rank{ID: 1, Sender: &testSender{}}

	require.NoError(t, job.Join(a))
	job.Leave(a)
	require.False(t, job.Done())
	require.Zero(t, job.RankCount())

	require.NoError(t, job.Join(b))
	require.False(t, job.Done())

	job.Leave(&Rank{ID: 1})
	require.Equal(t, 1, job.RankCount())

	job.Leave(b)
	require.True(t, job.Done())
}

func TestJobStoreGetOrCreate(t *testing.T) {
	var store JobStore
	ctx := context.Background()
	id := uuid.NewString()

	job, err := store.GetOrCreate(ctx, id, 4)
	require.NoError(t, err)
	require.Equal(t, uint32(1), job.ID)
	require.Equal(t, 4, job.Size)

	same, err := store.GetOrCreate(ctx, id, 4)
	require.NoError(t, err)
	require.Same(t, job, same)

	tests := []struct {
		scenario string
		uuid     string
		size     int
	}{
		{
			scenario: "size mismatch",
			uuid:     id,
			size:     3,
		},
		{
			scenario: "invalid uuid",
			uuid:     "job-42",
			size:     4,
		},
		{
			scenario: "invalid size",
			uuid:     uuid.NewString(),
			size:     0,
		},
	}

	for _, test := range tests {
		t.Run(test.scenario, func(t *testing.T) {
			_, err := store.GetOrCreate(ctx, test.uuid, test.size)
			require.Error(t, err)
			require.Equal(t, ErrTypeInvalidJob, errors.Type(err))
		})
	}

	require.Equal(t, 1, store.Len())
}

func TestJobStoreRemove(t *testing.T) {
	var store JobStore
	ctx := context.Background()

	a, err := store.GetOrCreate(ctx, uuid.NewString(), 1)
	require.NoError(t, err)
	b, err := store.GetOrCreate(ctx, uuid.NewString(), 1)
	require.NoError(t, err)
	require.Equal(t, uint32(2), b.ID)

	store.Remove(ctx, a)
	_, ok := store.Get(a.JobUUID)
	require.False(t, ok)
	require.Equal(t, 1, store.Len())

	store.Remove(ctx, a)
	require.Equal(t, 1, store.Len())

	c, err := store.GetOrCreate(ctx, uuid.NewString(), 1)
	require.NoError(t, err)
	require.Equal(t, a.ID, c.ID)

	jobs := store.Jobs()
	require.Len(t, jobs, 2)
	require.Same(t, c, jobs[0])
	require.Same(t, b, jobs[1])
}
