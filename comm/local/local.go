// Package local runs every process of a job inside the current process, one
// goroutine per rank, connected through shared in-memory mailboxes.
package local

import (
	"context"

	"github.com/aukilabs/dquad/comm"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"golang.org/x/sync/errgroup"
)

type transport struct {
	rank      int
	size      int
	mailboxes *comm.Mailboxes
}

// NewWorld returns one transport per rank of a job of the given size.
func NewWorld(size int) []comm.Transport {
	mailboxes := &comm.Mailboxes{}

	transports := make([]comm.Transport, size)
	for i := range transports {
		transports[i] = &transport{
			rank:      i,
			size:      size,
			mailboxes: mailboxes,
		}
	}
	return transports
}

func (t *transport) Rank() int {
	return t.rank
}

func (t *transport) Size() int {
	return t.size
}

func (t *transport) Send(ctx context.Context, dst int, key string, payload []byte) error {
	if dst < 0 || dst >= t.size {
		return errors.New("destination process does not exist").
			WithType(comm.ErrTypeTransportFailure).
			WithTag("dst", dst).
			WithTag("size", t.size)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mailboxes.Put(t.rank, dst, key, payload)
	return nil
}

func (t *transport) Recv(ctx context.Context, src int, key string) ([]byte, error) {
	return t.mailboxes.Take(ctx, src, t.rank, key)
}

func (t *transport) Close() error {
	return nil
}

// Run executes fn once per rank, each with its world communicator, and waits
// for all of them. The first rank returning an error cancels the context of
// every other rank so that peers blocked in a collective are released.
func Run(ctx context.Context, size int, fn func(context.Context, *comm.Comm) error) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, t := range NewWorld(size) {
		t := t
		g.Go(func() error {
			if err := fn(ctx, comm.NewWorld(t)); err != nil {
				return errors.New("process failed").
					WithType(errors.Type(err)).
					WithTag("rank", t.Rank()).
					Wrap(err)
			}
			return nil
		})
	}
	return g.Wait()
}
