// Package comm provides the message-passing substrate used by the partition:
// communicators over subsets of processes, collective operations and process
// adjacency graphs, built on top of a point-to-point Transport.
//
// Collective operations must be called by every member of a communicator in
// the same order. A member skipping a collective leaves its peers blocked.
package comm

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
)

const (
	ErrTypeTransportFailure = "transport_failure"
	ErrTypeAsymmetricGraph  = "asymmetric_graph"
	ErrTypeNotMember        = "not_member"
)

const worldID = "w"

// Comm is a communicator: an ordered set of processes that exchange
// messages and take part in collective operations together.
type Comm struct {
	transport Transport
	id        string
	ranks     []int
	rank      int

	mutex       sync.Mutex
	collectives int
	groups      map[string]int
}

// NewWorld returns the communicator spanning every process of the transport.
func NewWorld(t Transport) *Comm {
	ranks := make([]int, t.Size())
	for i := range ranks {
		ranks[i] = i
	}

	return &Comm{
		transport: t,
		id:        worldID,
		ranks:     ranks,
		rank:      t.Rank(),
		groups:    make(map[string]int),
	}
}

// ID returns the communicator context id. Members of a communicator share the
// same id.
func (c *Comm) ID() string {
	return c.id
}

// Rank returns the rank of the calling process in the communicator.
func (c *Comm) Rank() int {
	return c.rank
}

func (c *Comm) Size() int {
	return len(c.ranks)
}

// WorldRank translates a communicator rank into a job process id.
func (c *Comm) WorldRank(rank int) int {
	return c.ranks[rank]
}

// Ranks returns the job process ids of the members, in rank order.
func (c *Comm) Ranks() []int {
	ranks := make([]int, len(c.ranks))
	copy(ranks, c.ranks)
	return ranks
}

// Send sends a payload to the given rank with a user tag.
func (c *Comm) Send(ctx context.Context, dst, tag int, payload []byte) error {
	return c.send(ctx, dst, c.userKey(tag), payload)
}

// Recv receives the next payload sent by the given rank with a user tag.
func (c *Comm) Recv(ctx context.Context, src, tag int) ([]byte, error) {
	return c.recv(ctx, src, c.userKey(tag))
}

func (c *Comm) userKey(tag int) string {
	return c.id + "|t" + strconv.Itoa(tag)
}

func (c *Comm) send(ctx context.Context, dst int, key string, payload []byte) error {
	if err := c.transport.Send(ctx, c.ranks[dst], key, payload); err != nil {
		err = errors.New("sending message failed").
			WithType(ErrTypeTransportFailure).
			WithTag("comm", c.id).
			WithTag("dst", c.ranks[dst]).
			WithTag("key", key).
			Wrap(err)
		instrumentTransportError(err)
		return err
	}

	instrumentBytesSent(len(payload))
	return nil
}

func (c *Comm) recv(ctx context.Context, src int, key string) ([]byte, error) {
	payload, err := c.transport.Recv(ctx, c.ranks[src], key)
	if err != nil {
		err = errors.New("receiving message failed").
			WithType(ErrTypeTransportFailure).
			WithTag("comm", c.id).
			WithTag("src", c.ranks[src]).
			WithTag("key", key).
			Wrap(err)
		instrumentTransportError(err)
		return nil, err
	}
	return payload, nil
}

// nextCollectiveKey returns the key of the next collective operation. Members
// call collectives in the same order so they derive the same keys.
func (c *Comm) nextCollectiveKey(op string) string {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.collectives++
	return fmt.Sprintf("%s|%s%d", c.id, op, c.collectives)
}

// Barrier blocks until every member called Barrier.
func (c *Comm) Barrier(ctx context.Context) error {
	defer instrumentCollective("barrier", time.Now())

	_, err := c.gatherAndRelease(ctx, c.nextCollectiveKey("b"), nil)
	return err
}

// Bcast returns the payload given by the root rank on every member.
func (c *Comm) Bcast(ctx context.Context, root int, payload []byte) ([]byte, error) {
	defer instrumentCollective("bcast", time.Now())

	key := c.nextCollectiveKey("bc")
	if c.rank == root {
		for r := range c.ranks {
			if r == root {
				continue
			}
			if err := c.send(ctx, r, key, payload); err != nil {
				return nil, err
			}
		}
		return payload, nil
	}
	return c.recv(ctx, root, key)
}

// AllGather returns, on every member, the payloads given by all members
// indexed by rank.
func (c *Comm) AllGather(ctx context.Context, payload []byte) ([][]byte, error) {
	defer instrumentCollective("allgather", time.Now())
	return c.gatherAndRelease(ctx, c.nextCollectiveKey("ag"), payload)
}

// AllGatherInts is AllGather for integer lists.
func (c *Comm) AllGatherInts(ctx context.Context, values []int) ([][]int, error) {
	payloads, err := c.AllGather(ctx, EncodeInts(values))
	if err != nil {
		return nil, err
	}

	res := make([][]int, len(payloads))
	for i, p := range payloads {
		if res[i], err = DecodeInts(p); err != nil {
			return nil, errors.New("decoding gathered ints failed").
				WithType(ErrTypeTransportFailure).
				WithTag("comm", c.id).
				WithTag("rank", i).
				Wrap(err)
		}
	}
	return res, nil
}

// gatherAndRelease collects every member payload on rank 0 which then sends
// the whole list back to each member.
func (c *Comm) gatherAndRelease(ctx context.Context, key string, payload []byte) ([][]byte, error) {
	const root = 0

	if c.rank != root {
		if err := c.send(ctx, root, key, payload); err != nil {
			return nil, err
		}

		res, err := c.recv(ctx, root, key)
		if err != nil {
			return nil, err
		}

		payloads, err := decodePayloads(res)
		if err != nil {
			return nil, errors.New("decoding gathered payloads failed").
				WithType(ErrTypeTransportFailure).
				WithTag("comm", c.id).
				Wrap(err)
		}
		if len(payloads) != c.Size() {
			return nil, errors.New("unexpected number of gathered payloads").
				WithType(ErrTypeTransportFailure).
				WithTag("comm", c.id).
				WithTag("expected", c.Size()).
				WithTag("got", len(payloads))
		}
		return payloads, nil
	}

	payloads := make([][]byte, c.Size())
	payloads[root] = payload
	for r := range c.ranks {
		if r == root {
			continue
		}

		p, err := c.recv(ctx, r, key)
		if err != nil {
			return nil, err
		}
		payloads[r] = p
	}

	res := encodePayloads(payloads)
	for r := range c.ranks {
		if r == root {
			continue
		}
		if err := c.send(ctx, r, key, res); err != nil {
			return nil, err
		}
	}
	return payloads, nil
}

// CreateGroup creates a communicator made of the given job processes, in the
// given order. It is collective over the listed processes only: every one of
// them must call it with the same list, and the calling process must be in
// the list. Processes outside of the list do not take part.
func (c *Comm) CreateGroup(ctx context.Context, worldRanks []int) (*Comm, error) {
	defer instrumentCollective("create_group", time.Now())

	rank := -1
	for i, r := range worldRanks {
		if r == c.ranks[c.rank] {
			rank = i
		}
	}
	if rank < 0 {
		return nil, errors.New("calling process is not a member of the group").
			WithType(ErrTypeNotMember).
			WithTag("comm", c.id).
			WithTag("process", c.ranks[c.rank]).
			WithTag("members", worldRanks)
	}

	members := make([]string, len(worldRanks))
	for i, r := range worldRanks {
		members[i] = strconv.Itoa(r)
	}
	signature := strings.Join(members, ",")

	c.mutex.Lock()
	c.groups[signature]++
	count := c.groups[signature]
	c.mutex.Unlock()

	ranks := make([]int, len(worldRanks))
	copy(ranks, worldRanks)

	group := &Comm{
		transport: c.transport,
		id:        fmt.Sprintf("%s/g[%s]#%d", c.id, signature, count),
		ranks:     ranks,
		rank:      rank,
		groups:    make(map[string]int),
	}

	if err := group.Barrier(ctx); err != nil {
		return nil, errors.New("synchronizing group creation failed").
			WithType(ErrTypeTransportFailure).
			WithTag("comm", c.id).
			WithTag("group", group.id).
			Wrap(err)
	}
	return group, nil
}
