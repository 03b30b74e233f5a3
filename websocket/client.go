package websocket

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/aukilabs/dquad/comm"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"golang.org/x/net/websocket"
)

// Client is the rank side of a hub connection. It implements comm.Transport.
type Client struct {
	jobID string
	rank  int
	size  int

	conn      *websocket.Conn
	mailboxes comm.Mailboxes
	closeOnce sync.Once
	done      chan struct{}
}

// DialOption customizes the hub handshake.
type DialOption func(*websocket.Config)

// WithToken authenticates the rank to the hub with a bearer token.
func WithToken(token string) DialOption {
	return func(c *websocket.Config) {
		if token != "" {
			c.Header.Set("Authorization", "Bearer "+token)
		}
	}
}

// Dial connects the given rank of a job to the hub listening at endpoint. The
// endpoint scheme is either http, https, ws or wss.
func Dial(ctx context.Context, endpoint, jobID string, rank, size int, opts ...DialOption) (*Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if rank < 0 || rank >= size {
		return nil, errors.New("rank is out of the job").
			WithType(comm.ErrTypeTransportFailure).
			WithTag("rank", rank).
			WithTag("size", size)
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, errors.New("parsing hub endpoint failed").
			WithType(comm.ErrTypeTransportFailure).
			WithTag("endpoint", endpoint).
			Wrap(err)
	}
	origin := *u
	u.Scheme = strings.Replace(u.Scheme, "http", "ws", 1)
	origin.Scheme = strings.Replace(origin.Scheme, "ws", "http", 1)

	query := u.Query()
	query.Set(JobParam, jobID)
	query.Set(RankParam, strconv.Itoa(rank))
	query.Set(SizeParam, strconv.Itoa(size))
	u.RawQuery = query.Encode()

	config, err := websocket.NewConfig(u.String(), origin.String())
	if err != nil {
		return nil, errors.New("initializing web socket failed").
			WithType(comm.ErrTypeTransportFailure).
			WithTag("endpoint", endpoint).
			Wrap(err)
	}
	config.Header.Set("User-Agent", "dquad-rank/"+strconv.Itoa(rank))
	for _, opt := range opts {
		opt(config)
	}

	conn, err := config.DialContext(ctx)
	if err != nil {
		return nil, errors.New("dialing hub failed").
			WithType(comm.ErrTypeTransportFailure).
			WithTag("endpoint", endpoint).
			WithTag("job", jobID).
			WithTag("rank", rank).
			Wrap(err)
	}

	c := &Client{
		jobID: jobID,
		rank:  rank,
		size:  size,
		conn:  conn,
		done:  make(chan struct{}),
	}
	go c.receive()
	return c, nil
}

func (c *Client) Rank() int {
	return c.rank
}

func (c *Client) Size() int {
	return c.size
}

func (c *Client) Send(ctx context.Context, dst int, key string, payload []byte) error {
	if dst < 0 || dst >= c.size {
		return errors.New("destination process does not exist").
			WithType(comm.ErrTypeTransportFailure).
			WithTag("dst", dst).
			WithTag("size", c.size)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	f := Frame{
		Src:     c.rank,
		Dst:     dst,
		Key:     key,
		Payload: payload,
	}
	if err := websocket.Message.Send(c.conn, f.Marshal()); err != nil {
		return errors.New("sending frame failed").
			WithType(comm.ErrTypeTransportFailure).
			WithTag("job", c.jobID).
			WithTag("dst", dst).
			WithTag("key", key).
			Wrap(err)
	}
	return nil
}

func (c *Client) Recv(ctx context.Context, src int, key string) ([]byte, error) {
	return c.mailboxes.Take(ctx, src, c.rank, key)
}

// Close disconnects from the hub. Pending and future receives on empty
// queues fail.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close()
		<-c.done
	})
	return err
}

func (c *Client) receive() {
	defer close(c.done)

	for {
		var b []byte
		if err := websocket.Message.Receive(c.conn, &b); err != nil {
			c.mailboxes.Close(errors.New("hub connection closed").
				WithType(comm.ErrTypeTransportFailure).
				WithTag("job", c.jobID).
				WithTag("rank", c.rank).
				Wrap(err))
			return
		}

		f, err := UnmarshalFrame(b)
		if err != nil {
			c.mailboxes.Close(errors.New("decoding frame failed").
				WithType(comm.ErrTypeTransportFailure).
				WithTag("job", c.jobID).
				WithTag("rank", c.rank).
				Wrap(err))
			c.conn.Close()
			return
		}

		if f.Dst != c.rank {
			logs.WithTag("job", c.jobID).
				WithTag("rank", c.rank).
				WithTag("dst", f.Dst).
				WithTag("key", f.Key).
				Warn("dropping frame addressed to another rank")
			continue
		}

		c.mailboxes.Put(f.Src, f.Dst, f.Key, f.Payload)
	}
}
