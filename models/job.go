package models

import (
	"context"
	"sort"
	"sync"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/google/uuid"
)

const (
	ErrTypeInvalidJob    = "invalid_job"
	ErrTypeInvalidRank   = "invalid_rank"
	ErrTypeRankConnected = "rank_connected"
)

// Job is a set of processes exchanging frames through the hub. Frames sent to
// a rank that is not connected yet are kept until it connects.
type Job struct {
	ID      uint32
	JobUUID string
	Size    int

	mutex   sync.Mutex
	ranks   map[int]*Rank
	pending map[int][][]byte
	joined  int
	relayed int
}

func NewJob(id uint32, jobUUID string, size int) *Job {
	return &Job{
		ID:      id,
		JobUUID: jobUUID,
		Size:    size,
		ranks:   make(map[int]*Rank),
		pending: make(map[int][][]byte),
	}
}

// Join connects a rank and delivers the frames that were sent to it before.
func (j *Job) Join(r *Rank) error {
	j.mutex.Lock()
	defer j.mutex.Unlock()

	if r.ID < 0 || r.ID >= j.Size {
		return errors.New("rank is out of the job").
			WithType(ErrTypeInvalidRank).
			WithTag("job", j.JobUUID).
			WithTag("rank", r.ID).
			WithTag("size", j.Size)
	}

	if _, ok := j.ranks[r.ID]; ok {
		return errors.New("rank is already connected").
			WithType(ErrTypeRankConnected).
			WithTag("job", j.JobUUID).
			WithTag("rank", r.ID)
	}

	j.ranks[r.ID] = r
	j.joined++

	for _, f := range j.pending[r.ID] {
		r.Sender.SendFrame(f)
		r.received++
	}
	delete(j.pending, r.ID)
	return nil
}

// Leave disconnects a rank.
func (j *Job) Leave(r *Rank) {
	j.mutex.Lock()
	defer j.mutex.Unlock()

	if j.ranks[r.ID] == r {
		delete(j.ranks, r.ID)
	}
}

// Relay delivers a frame to the given rank, or keeps it until the rank
// connects. It reports whether the frame was delivered.
func (j *Job) Relay(dst int, frame []byte) (bool, error) {
	if dst < 0 || dst >= j.Size {
		return false, errors.New("destination rank is out of the job").
			WithType(ErrTypeInvalidRank).
			WithTag("job", j.JobUUID).
			WithTag("dst", dst).
			WithTag("size", j.Size)
	}

	j.mutex.Lock()
	defer j.mutex.Unlock()

	j.relayed++

	r, ok := j.ranks[dst]
	if !ok {
		j.pending[dst] = append(j.pending[dst], frame)
		return false, nil
	}

	r.Sender.SendFrame(frame)
	r.received++
	return true, nil
}

// Ranks returns the sorted ids of the connected ranks.
func (j *Job) Ranks() []int {
	j.mutex.Lock()
	defer j.mutex.Unlock()

	ranks := make([]int, 0, len(j.ranks))
	for id := range j.ranks {
		ranks = append(ranks, id)
	}
	sort.Ints(ranks)
	return ranks
}

func (j *Job) RankCount() int {
	j.mutex.Lock()
	defer j.mutex.Unlock()

	return len(j.ranks)
}

// PendingCount returns the number of frames waiting for ranks to connect.
func (j *Job) PendingCount() int {
	j.mutex.Lock()
	defer j.mutex.Unlock()

	count := 0
	for _, frames := range j.pending {
		count += len(frames)
	}
	return count
}

// JobStatus is a snapshot of a job.
type JobStatus struct {
	ID      uint32 `json:"id"`
	JobUUID string `json:"job_uuid"`
	Size    int    `json:"size"`
	Ranks   []int  `json:"ranks"`
	Joined  int    `json:"joined"`
	Pending int    `json:"pending"`
	Relayed int    `json:"relayed"`
}

func (j *Job) Status() JobStatus {
	ranks := j.Ranks()
	pending := j.PendingCount()

	j.mutex.Lock()
	defer j.mutex.Unlock()

	return JobStatus{
		ID:      j.ID,
		JobUUID: j.JobUUID,
		Size:    j.Size,
		Ranks:   ranks,
		Joined:  j.joined,
		Pending: pending,
		Relayed: j.relayed,
	}
}

// Done reports whether every rank joined once and all of them left.
func (j *Job) Done() bool {
	j.mutex.Lock()
	defer j.mutex.Unlock()

	return j.joined >= j.Size && len(j.ranks) == 0
}

type JobStore struct {
	initOnce sync.Once
	mutex    sync.RWMutex
	jobs     map[string]*Job
	ids      SequentialIDGenerator
}

func (s *JobStore) init() {
	s.jobs = make(map[string]*Job)
}

// GetOrCreate returns the job with the given uuid, creating it when it does
// not exist. All the processes of a job must agree on its size.
func (s *JobStore) GetOrCreate(ctx context.Context, jobUUID string, size int) (*Job, error) {
	s.initOnce.Do(s.init)

	if _, err := uuid.Parse(jobUUID); err != nil {
		return nil, errors.New("invalid job uuid").
			WithType(ErrTypeInvalidJob).
			WithTag("job", jobUUID).
			Wrap(err)
	}
	if size <= 0 {
		return nil, errors.New("job size must be positive").
			WithType(ErrTypeInvalidJob).
			WithTag("job", jobUUID).
			WithTag("size", size)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if j, ok := s.jobs[jobUUID]; ok {
		if j.Size != size {
			return nil, errors.New("job size mismatch").
				WithType(ErrTypeInvalidJob).
				WithTag("job", jobUUID).
				WithTag("size", j.Size).
				WithTag("requested_size", size)
		}
		return j, nil
	}

	j := NewJob(s.ids.New(), jobUUID, size)
	s.jobs[jobUUID] = j

	logs.WithTag("job", jobUUID).
		WithTag("job_id", j.ID).
		WithTag("size", size).
		Info("job created")

	instrumentIncreaseJobGauge()
	instrumentCountJob()
	return j, nil
}

func (s *JobStore) Get(jobUUID string) (*Job, bool) {
	s.initOnce.Do(s.init)

	s.mutex.RLock()
	defer s.mutex.RUnlock()

	j, ok := s.jobs[jobUUID]
	return j, ok
}

func (s *JobStore) Remove(ctx context.Context, j *Job) {
	s.initOnce.Do(s.init)
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.jobs[j.JobUUID] != j {
		return
	}

	delete(s.jobs, j.JobUUID)
	s.ids.Reuse(j.ID)

	instrumentDecreaseJobGauge()
}

// Jobs returns the running jobs ordered by id.
func (s *JobStore) Jobs() []*Job {
	s.initOnce.Do(s.init)

	s.mutex.RLock()
	defer s.mutex.RUnlock()

	jobs := make([]*Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	sort.Slice(jobs, func(a, b int) bool {
		return jobs[a].ID < jobs[b].ID
	})
	return jobs
}

func (s *JobStore) Len() int {
	s.initOnce.Do(s.init)

	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return len(s.jobs)
}
