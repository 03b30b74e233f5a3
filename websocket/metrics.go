package websocket

import (
	"context"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/net/websocket"
)

const (
	errTypeLabel        = "error_type"
	frameKindLabel      = "frame_kind"
	publicEndpointLabel = "public_endpoint"
)

var (
	wsConnectedRanks = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ws_connected_ranks",
		Help: "The number of connected ranks.",
	}, []string{
		publicEndpointLabel,
	})

	wsReceivedFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_received_frames",
		Help: "The number of frames received from WebSocket connections.",
	}, []string{
		publicEndpointLabel,
		frameKindLabel,
	})

	wsReceivedBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_received_bytes",
		Help: "The number of bytes received from WebSocket connections.",
	}, []string{
		publicEndpointLabel,
		frameKindLabel,
	})

	wsReceiveError = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_receive_errors",
		Help: "The errors that occured while receiving a websocket frame.",
	}, []string{
		publicEndpointLabel,
		errTypeLabel,
	})

	wsSentFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_sent_frames",
		Help: "The number of frames sent to WebSocket connections.",
	}, []string{
		publicEndpointLabel,
	})

	wsSentBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_sent_bytes",
		Help: "The number of bytes sent to WebSocket connections.",
	}, []string{
		publicEndpointLabel,
	})

	wsSendError = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_send_errors",
		Help: "The errors that occured while sending a websocket frame.",
	}, []string{
		publicEndpointLabel,
		errTypeLabel,
	})

	wsRelayLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "ws_relay_latency",
		Help: "The time to relay a frame to its destination rank.",
	}, []string{
		publicEndpointLabel,
		frameKindLabel,
	})
)

// HandlerWithMetrics decorates the handler with Prometheus metrics labeled
// with the given public endpoint.
func HandlerWithMetrics(h Handler, publicEndpoint string) Handler {
	return &handlerWithMetrics{
		Handler:        h,
		publicEndpoint: publicEndpoint,
	}
}

type handlerWithMetrics struct {
	Handler

	publicEndpoint string
	connected      bool
}

func (h *handlerWithMetrics) HandleConnect(ctx context.Context, conn *websocket.Conn, send func(frame []byte)) error {
	if err := h.Handler.HandleConnect(ctx, conn, send); err != nil {
		return err
	}

	h.connected = true
	wsConnectedRanks.
		With(prometheus.Labels{
			publicEndpointLabel: h.publicEndpoint,
		}).
		Inc()
	return nil
}

func (h *handlerWithMetrics) HandleFrame(ctx context.Context, f Frame) error {
	start := time.Now()
	err := h.Handler.HandleFrame(ctx, f)

	wsRelayLatency.With(prometheus.Labels{
		publicEndpointLabel: h.publicEndpoint,
		frameKindLabel:      f.Kind(),
	}).Observe(time.Since(start).Seconds())

	return err
}

func (h *handlerWithMetrics) HandleDisconnect(err error) {
	if h.connected {
		h.connected = false
		wsConnectedRanks.
			With(prometheus.Labels{
				publicEndpointLabel: h.publicEndpoint,
			}).
			Dec()
	}

	h.Handler.HandleDisconnect(err)
}

func (h *handlerWithMetrics) Receiver() Receiver {
	receive := h.Handler.Receiver()

	return func() (Frame, int, error) {
		f, n, err := receive()
		if err != nil {
			wsReceiveError.
				With(prometheus.Labels{
					publicEndpointLabel: h.publicEndpoint,
					errTypeLabel:        errors.Type(err),
				}).
				Inc()
		} else {
			wsReceivedFrames.
				With(prometheus.Labels{
					publicEndpointLabel: h.publicEndpoint,
					frameKindLabel:      f.Kind(),
				}).
				Inc()
		}

		if n != 0 {
			wsReceivedBytes.
				With(prometheus.Labels{
					publicEndpointLabel: h.publicEndpoint,
					frameKindLabel:      f.Kind(),
				}).
				Add(float64(n))
		}

		return f, n, err
	}
}

func (h *handlerWithMetrics) Sender() Sender {
	sender := h.Handler.Sender()

	return func(frame []byte) (int, error) {
		n, err := sender(frame)
		if err != nil {
			wsSendError.
				With(prometheus.Labels{
					publicEndpointLabel: h.publicEndpoint,
					errTypeLabel:        errors.Type(err),
				}).
				Inc()
		}

		if n != 0 {
			wsSentFrames.
				With(prometheus.Labels{
					publicEndpointLabel: h.publicEndpoint,
				}).
				Inc()
			wsSentBytes.
				With(prometheus.Labels{
					publicEndpointLabel: h.publicEndpoint,
				}).
				Add(float64(n))
		}

		return n, err
	}
}
