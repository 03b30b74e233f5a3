package websocket

import (
	"context"
	"io"
	"net"
	"sync"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"golang.org/x/net/websocket"
)

// HandlerWithLogs decorates the handler with logs. Received frames are
// counted by kind and summarized at the given interval.
func HandlerWithLogs(h Handler, summaryInterval time.Duration) Handler {
	ctx, cancel := context.WithCancel(context.Background())

	handler := &handlerWithLogs{
		Handler:            h,
		summaryInterval:    summaryInterval,
		closeSummaryWorker: cancel,
		counter:            make(map[string]int),
	}

	go handler.startSummaryWorker(ctx)
	return handler
}

type handlerWithLogs struct {
	Handler

	remoteAddr string
	userAgent  string

	summaryInterval    time.Duration
	closeSummaryWorker func()
	counterMutex       sync.Mutex
	counter            map[string]int
}

func (h *handlerWithLogs) HandleConnect(ctx context.Context, conn *websocket.Conn, send func(frame []byte)) error {
	req := conn.Request()
	h.remoteAddr = req.RemoteAddr
	h.userAgent = req.UserAgent()

	if err := h.Handler.HandleConnect(ctx, conn, send); err != nil {
		logs.WithTag("remote_addr", h.remoteAddr).
			WithTag("user_agent", h.userAgent).
			WithTag("query", req.URL.RawQuery).
			Warn(errors.New("rank failed to connect").
				WithType(errors.Type(err)).
				Wrap(err))
		return err
	}

	h.entry().
		WithTag("remote_addr", h.remoteAddr).
		WithTag("user_agent", h.userAgent).
		Info("rank connected")
	return nil
}

func (h *handlerWithLogs) HandleDisconnect(err error) {
	h.Handler.HandleDisconnect(err)

	entry := h.entry().WithTag("remote_addr", h.remoteAddr)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
		entry = entry.WithTag("reason", err.Error())
	}
	entry.Info("rank disconnected")
}

func (h *handlerWithLogs) Receiver() Receiver {
	receive := h.Handler.Receiver()

	return func() (Frame, int, error) {
		f, n, err := receive()
		if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
			h.entry().Error(errors.New("receiving frame failed").Wrap(err))
		} else if err == nil {
			h.entry().
				WithTag("dst", f.Dst).
				WithTag("key", f.Key).
				WithTag("bytes", n).
				Debug("frame received")
			h.incCounter(f.Kind())
		}
		return f, n, err
	}
}

func (h *handlerWithLogs) Sender() Sender {
	sender := h.Handler.Sender()

	return func(frame []byte) (int, error) {
		n, err := sender(frame)
		if err != nil && !errors.Is(err, net.ErrClosed) {
			h.entry().Error(errors.New("sending frame failed").Wrap(err))
		} else if err == nil {
			h.entry().
				WithTag("bytes", n).
				Debug("frame sent")
		}
		return n, err
	}
}

func (h *handlerWithLogs) Close() {
	h.Handler.Close()
	h.closeSummaryWorker()
	h.logSummary()
}

func (h *handlerWithLogs) entry() logs.Entry {
	return logs.WithTag("job", h.JobID()).
		WithTag("rank", h.RankID())
}

func (h *handlerWithLogs) startSummaryWorker(ctx context.Context) {
	ticker := time.NewTicker(h.summaryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			h.logSummary()
		}
	}
}

func (h *handlerWithLogs) incCounter(kind string) {
	h.counterMutex.Lock()
	defer h.counterMutex.Unlock()

	h.counter[kind]++
}

func (h *handlerWithLogs) logSummary() {
	h.counterMutex.Lock()
	defer h.counterMutex.Unlock()

	if len(h.counter) == 0 {
		return
	}

	entry := h.entry().WithTag("time_interval", h.summaryInterval)
	for k, v := range h.counter {
		entry = entry.WithTag(k, v)
		delete(h.counter, k)
	}

	entry.Info("inbound frame summary")
}
