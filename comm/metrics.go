package comm

import (
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	errTypeLabel = "error_type"
	opLabel      = "op"
)

var (
	commCollectives = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "comm_collectives",
		Help: "The number of collective operations performed.",
	}, []string{
		opLabel,
	})

	commCollectiveLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "comm_collective_latency",
		Help: "The time spent waiting in a collective operation.",
	}, []string{
		opLabel,
	})

	commSentBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "comm_sent_bytes",
		Help: "The number of payload bytes sent to other processes.",
	})

	commTransportErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "comm_transport_errors",
		Help: "The errors that occured while sending or receiving a message.",
	}, []string{
		errTypeLabel,
	})
)

func instrumentCollective(op string, start time.Time) {
	commCollectives.With(prometheus.Labels{opLabel: op}).Inc()
	commCollectiveLatency.
		With(prometheus.Labels{opLabel: op}).
		Observe(time.Since(start).Seconds())
}

func instrumentBytesSent(n int) {
	commSentBytes.Add(float64(n))
}

func instrumentTransportError(err error) {
	commTransportErrors.
		With(prometheus.Labels{errTypeLabel: errors.Type(err)}).
		Inc()
}
