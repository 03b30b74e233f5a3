package comm

import (
	"context"
	"sync"

	"github.com/aukilabs/go-tooling/pkg/errors"
)

// Transport moves keyed payloads between the processes of a job. Payloads
// sent from src to dst with the same key are received in order. Send must
// not wait for the matching Recv.
type Transport interface {
	// The process id in the job.
	Rank() int

	// The number of processes in the job.
	Size() int

	// Sends a payload to the given process.
	Send(ctx context.Context, dst int, key string, payload []byte) error

	// Receives the next payload sent by the given process with the given key.
	// It blocks until a payload is available or the context is done.
	Recv(ctx context.Context, src int, key string) ([]byte, error)

	// Releases the transport resources.
	Close() error
}

type mailboxKey struct {
	src int
	dst int
	key string
}

type mailbox struct {
	queue [][]byte
	ready chan struct{}
}

// Mailboxes is a store of FIFO queues indexed by source, destination and key.
// Each queue has a single consumer.
type Mailboxes struct {
	initOnce sync.Once
	mutex    sync.Mutex
	boxes    map[mailboxKey]*mailbox
	closed   chan struct{}
	err      error
}

func (m *Mailboxes) init() {
	m.boxes = make(map[mailboxKey]*mailbox)
	m.closed = make(chan struct{})
}

func (m *Mailboxes) box(k mailboxKey) *mailbox {
	b, ok := m.boxes[k]
	if !ok {
		b = &mailbox{ready: make(chan struct{}, 1)}
		m.boxes[k] = b
	}
	return b
}

// Put queues a payload. It never blocks.
func (m *Mailboxes) Put(src, dst int, key string, payload []byte) {
	m.initOnce.Do(m.init)
	m.mutex.Lock()
	defer m.mutex.Unlock()

	b := m.box(mailboxKey{src: src, dst: dst, key: key})
	b.queue = append(b.queue, payload)

	select {
	case b.ready <- struct{}{}:
	default:
	}
}

// Take dequeues the oldest payload for the given source, destination and
// key, waiting until one is available.
func (m *Mailboxes) Take(ctx context.Context, src, dst int, key string) ([]byte, error) {
	m.initOnce.Do(m.init)
	k := mailboxKey{src: src, dst: dst, key: key}

	for {
		m.mutex.Lock()
		b := m.box(k)
		if len(b.queue) != 0 {
			payload := b.queue[0]
			b.queue = b.queue[1:]
			if len(b.queue) == 0 {
				delete(m.boxes, k)
			}
			m.mutex.Unlock()
			return payload, nil
		}
		err := m.err
		m.mutex.Unlock()

		if err != nil {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case <-m.closed:

		case <-b.ready:
		}
	}
}

// Close makes every pending and future Take on an empty queue return the
// given error.
func (m *Mailboxes) Close(err error) {
	m.initOnce.Do(m.init)
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.err != nil {
		return
	}
	if err == nil {
		err = errors.New("mailboxes closed").WithType(ErrTypeTransportFailure)
	}
	m.err = err
	close(m.closed)
}
