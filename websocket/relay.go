package websocket

import (
	"context"
	"strconv"
	"time"

	"github.com/aukilabs/dquad/models"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"golang.org/x/net/websocket"
)

// The query parameters identifying a rank connection.
const (
	JobParam  = "job"
	RankParam = "rank"
	SizeParam = "size"
)

// RelayHandler is the hub handler that forwards the frames of a rank to the
// other ranks of its job.
type RelayHandler struct {
	// The time a rank is idle before being disconnected.
	ClientIdleTimeout time.Duration

	// The store that contains the running jobs.
	Jobs *models.JobStore

	conn *websocket.Conn
	job  *models.Job
	rank *models.Rank
}

func (h *RelayHandler) HandleConnect(ctx context.Context, conn *websocket.Conn, send func(frame []byte)) error {
	h.conn = conn

	query := conn.Request().URL.Query()
	jobID := query.Get(JobParam)

	rankID, err := strconv.Atoi(query.Get(RankParam))
	if err != nil {
		return errors.New("parsing rank failed").
			WithType(models.ErrTypeInvalidRank).
			WithTag("job", jobID).
			WithTag("rank", query.Get(RankParam)).
			Wrap(err)
	}

	size, err := strconv.Atoi(query.Get(SizeParam))
	if err != nil {
		return errors.New("parsing job size failed").
			WithType(models.ErrTypeInvalidJob).
			WithTag("job", jobID).
			WithTag("size", query.Get(SizeParam)).
			Wrap(err)
	}

	job, err := h.Jobs.GetOrCreate(ctx, jobID, size)
	if err != nil {
		return err
	}

	rank := &models.Rank{
		ID:     rankID,
		Sender: frameSender(send),
	}
	if err := job.Join(rank); err != nil {
		h.removeIfDone(ctx, job)
		return err
	}

	h.job = job
	h.rank = rank
	return nil
}

func (h *RelayHandler) HandleFrame(ctx context.Context, f Frame) error {
	if f.Src != h.rank.ID {
		return errors.New("frame source is not the connected rank").
			WithType(ErrTypeInvalidFrame).
			WithTag("job", h.job.JobUUID).
			WithTag("rank", h.rank.ID).
			WithTag("src", f.Src)
	}

	_, err := h.job.Relay(f.Dst, f.Marshal())
	return err
}

func (h *RelayHandler) HandleDisconnect(err error) {
	if h.job == nil {
		return
	}

	h.job.Leave(h.rank)
	h.removeIfDone(context.Background(), h.job)
}

func (h *RelayHandler) removeIfDone(ctx context.Context, job *models.Job) {
	if job.Done() || (job.RankCount() == 0 && job.PendingCount() == 0) {
		h.Jobs.Remove(ctx, job)
	}
}

func (h *RelayHandler) Receiver() Receiver {
	return func() (Frame, int, error) {
		var b []byte
		if err := websocket.Message.Receive(h.conn, &b); err != nil {
			return Frame{}, 0, err
		}

		f, err := UnmarshalFrame(b)
		return f, len(b), err
	}
}

func (h *RelayHandler) Sender() Sender {
	return func(frame []byte) (int, error) {
		if err := websocket.Message.Send(h.conn, frame); err != nil {
			return 0, err
		}
		return len(frame), nil
	}
}

func (h *RelayHandler) IdleTimeout() time.Duration {
	return h.ClientIdleTimeout
}

func (h *RelayHandler) Close() {
}

func (h *RelayHandler) JobID() string {
	if h.job == nil {
		return ""
	}
	return h.job.JobUUID
}

func (h *RelayHandler) RankID() int {
	if h.rank == nil {
		return -1
	}
	return h.rank.ID
}

type frameSender func(frame []byte)

func (s frameSender) SendFrame(frame []byte) {
	s(frame)
}
