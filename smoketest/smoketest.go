// Package smoketest checks that a hub relays a small job end to end.
package smoketest

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/aukilabs/dquad/comm"
	"github.com/aukilabs/dquad/websocket"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/google/uuid"
	"github.com/segmentio/encoding/json"
	"golang.org/x/sync/errgroup"
)

const (
	StatusSuccess = "success"
	StatusFailed  = "failed"

	ErrTypeSmokeTestFailed = "smoke_test_failed"

	defaultProcs   = 2
	defaultTimeout = time.Second * 5
)

// Request describes a smoke test. Zero fields take their default value.
type Request struct {
	Endpoint string        `json:"endpoint"`
	Procs    int           `json:"procs"`
	Timeout  time.Duration `json:"timeout"`
}

type Result struct {
	FromEndpoint    string  `json:"from_endpoint"`
	ToEndpoint      string  `json:"to_endpoint"`
	JobID           string  `json:"job_id"`
	Procs           int     `json:"procs"`
	Status          string  `json:"status"`
	LatencyMilliSec float64 `json:"latency_ms"`
	Error           string  `json:"error,omitempty"`
}

type Options struct {
	// The relay endpoint of the hub running the smoke test. It is the target
	// of requests without endpoint.
	Endpoint string

	// The bearer token given to the hub by the smoke test ranks.
	Token string

	// Reports the result of a smoke test.
	SendResult func(context.Context, Result) error
}

// HandleSmokeTest starts the requested smoke test in the background and
// reports its result with opts.SendResult.
func HandleSmokeTest(ctx context.Context, opts Options) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := io.ReadAll(r.Body)
		if err != nil {
			logs.Warn(errors.New("reading body failed").Wrap(err))
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		var req Request
		if len(b) != 0 {
			if err := json.Unmarshal(b, &req); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
		}
		if req.Endpoint == "" {
			req.Endpoint = opts.Endpoint
		}

		go func() {
			res := Run(ctx, req, opts.Token)
			res.FromEndpoint = opts.Endpoint

			if err := opts.SendResult(ctx, res); err != nil {
				logs.WithTag("from_endpoint", opts.Endpoint).
					WithTag("to_endpoint", req.Endpoint).
					Warn(errors.New("sending smoke test result failed").Wrap(err))
			}
		}()

		w.WriteHeader(http.StatusOK)
	}
}

// Run connects the ranks of a new job to the hub and makes them synchronize
// and exchange a payload.
func Run(ctx context.Context, req Request, token string) Result {
	if req.Procs <= 0 {
		req.Procs = defaultProcs
	}
	if req.Timeout <= 0 {
		req.Timeout = defaultTimeout
	}

	res := Result{
		ToEndpoint: req.Endpoint,
		JobID:      uuid.NewString(),
		Procs:      req.Procs,
		Status:     StatusFailed,
	}

	ctx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	start := time.Now()
	g, ctx := errgroup.WithContext(ctx)

	for rank := 0; rank < req.Procs; rank++ {
		rank := rank
		g.Go(func() error {
			c, err := websocket.Dial(ctx, req.Endpoint, res.JobID, rank, req.Procs, websocket.WithToken(token))
			if err != nil {
				return err
			}
			defer c.Close()

			return exchange(ctx, comm.NewWorld(c))
		})
	}

	if err := g.Wait(); err != nil {
		err = errors.New("smoke test failed").
			WithType(ErrTypeSmokeTestFailed).
			WithTag("endpoint", req.Endpoint).
			WithTag("job", res.JobID).
			Wrap(err)
		logs.Warn(err)

		res.Error = err.Error()
		return res
	}

	res.Status = StatusSuccess
	res.LatencyMilliSec = float64(time.Since(start)) / float64(time.Millisecond)
	return res
}

func exchange(ctx context.Context, world *comm.Comm) error {
	if err := world.Barrier(ctx); err != nil {
		return err
	}

	gathered, err := world.AllGatherInts(ctx, []int{world.Rank()})
	if err != nil {
		return err
	}
	for rank, values := range gathered {
		if len(values) != 1 || values[0] != rank {
			return errors.New("unexpected gathered values").
				WithType(ErrTypeSmokeTestFailed).
				WithTag("rank", rank).
				WithTag("values", values)
		}
	}

	payload, err := world.Bcast(ctx, 0, []byte("smoke"))
	if err != nil {
		return err
	}
	if string(payload) != "smoke" {
		return errors.New("unexpected broadcast payload").
			WithType(ErrTypeSmokeTestFailed).
			WithTag("payload", string(payload))
	}

	return world.Barrier(ctx)
}
