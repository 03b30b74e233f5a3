// Package websocket relays frames between the ranks of distributed jobs over
// WebSocket connections. The hub side is a Handler served for each rank
// connection, the rank side is a Client implementing comm.Transport.
package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"golang.org/x/net/websocket"
)

const (
	sendChanSize = 512
)

// Receiver reads the next frame of a connection. It also returns the number
// of bytes read.
type Receiver func() (Frame, int, error)

// Sender writes an encoded frame to a connection and returns the number of
// bytes written.
type Sender func(frame []byte) (int, error)

// Handler represents the hub side of a rank connection.
type Handler interface {
	// Handles a rank connection. Frames passed to send are queued and written
	// to the connection in order.
	HandleConnect(ctx context.Context, conn *websocket.Conn, send func(frame []byte)) error

	// Handles a frame sent by the connected rank.
	HandleFrame(ctx context.Context, f Frame) error

	// Handles a rank disconnection.
	HandleDisconnect(error)

	// Creates a frame receiver used to read incoming frames.
	Receiver() Receiver

	// Creates a frame sender used to write queued frames.
	Sender() Sender

	// The time a rank is idle before being disconnected. Zero disables the
	// idle check.
	IdleTimeout() time.Duration

	// Closes the handler and releases its allocated resources.
	Close()

	// The job of the connected rank, empty before it is connected.
	JobID() string

	// The id of the connected rank, -1 before it is connected.
	RankID() int
}

// Handle runs the given handler over the connection until the rank
// disconnects or the context is done.
func Handle(ctx context.Context, conn *websocket.Conn, h Handler) {
	handler := handler{
		Conn:    conn,
		Handler: h,
	}

	handler.Handle(ctx)
}

type received struct {
	frame Frame
	err   error
}

type handler struct {
	// The WebSocket connection.
	Conn *websocket.Conn

	// The hub handler.
	Handler Handler

	sendChan       chan []byte
	receiveChan    chan received
	sender         Sender
	receiver       Receiver
	disconnectChan chan error
	done           chan struct{}
}

func (h *handler) Handle(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	h.disconnectChan = make(chan error, 8)
	defer func() {
		for len(h.disconnectChan) != 0 {
			<-h.disconnectChan
		}
	}()

	h.done = make(chan struct{})
	defer close(h.done)

	var wg sync.WaitGroup

	h.sendChan = make(chan []byte, sendChanSize)
	h.sender = h.Handler.Sender()

	wg.Add(1)
	go func() {
		defer wg.Done()
		h.startSending(ctx)
	}()

	h.receiveChan = make(chan received, sendChanSize)
	if err := h.Handler.HandleConnect(ctx, h.Conn, h.send); err != nil {
		h.disconnect(errors.New("connecting rank failed").Wrap(err))
	} else {
		h.receiver = h.Handler.Receiver()
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.startReceiving(ctx)
		}()
	}

	var idleChan <-chan time.Time
	idleTimeout := h.Handler.IdleTimeout()
	idleTimer := time.NewTimer(idleTimeout)
	defer idleTimer.Stop()
	if idleTimeout > 0 {
		idleChan = idleTimer.C
	}

	for {
		select {
		case <-ctx.Done():
			h.handleDisconnect(ctx.Err())
			wg.Wait()
			return

		case <-idleChan:
			h.disconnect(errors.New("idle connection").WithTag("duration", idleTimeout))

		case r := <-h.receiveChan:
			if r.err != nil {
				h.disconnect(errors.New("receiving frame failed").Wrap(r.err))
				continue
			}

			if idleTimeout > 0 {
				idleTimer.Stop()
				idleTimer.Reset(idleTimeout)
			}

			if err := h.Handler.HandleFrame(ctx, r.frame); err != nil {
				h.disconnect(errors.New("handling frame failed").
					WithTag("key", r.frame.Key).
					Wrap(err))
			}

		case err := <-h.disconnectChan:
			h.handleDisconnect(err)
			// cancel context so go routines can cleanly exit
			cancel()
			wg.Wait()
			return
		}
	}
}

// send queues an encoded frame. Frames queued after the connection ended are
// dropped.
func (h *handler) send(frame []byte) {
	select {
	case h.sendChan <- frame:
	case <-h.done:
	}
}

func (h *handler) startSending(ctx context.Context) {
	defer func() {
		for len(h.sendChan) != 0 {
			<-h.sendChan
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case frame := <-h.sendChan:
			if _, err := h.sender(frame); err != nil {
				h.disconnect(errors.New("sending frame failed").Wrap(err))
				return
			}
		}
	}
}

// startReceiving forwards incoming frames to the handling loop. The read
// error ending the connection is forwarded after the frames read before it.
func (h *handler) startReceiving(ctx context.Context) {
	for {
		f, _, err := h.receiver()

		select {
		case <-ctx.Done():
			return

		case h.receiveChan <- received{frame: f, err: err}:
		}

		if err != nil {
			return
		}
	}
}

func (h *handler) disconnect(err error) {
	select {
	case h.disconnectChan <- err:
	default:
	}
}

func (h *handler) handleDisconnect(err error) {
	h.Conn.Close()
	h.Handler.HandleDisconnect(err)
}
