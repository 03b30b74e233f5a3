package storage

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	codecLabel   = "codec"
	opLabel      = "op"
	outcomeLabel = "outcome"
)

var (
	storageReshapes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storage_reshapes",
		Help: "The number of grid reshapes by outcome.",
	}, []string{
		outcomeLabel,
	})

	storageElements = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storage_elements",
		Help: "The number of grid elements packed or unpacked.",
	}, []string{
		codecLabel,
		opLabel,
	})
)

func instrumentReshape(outcome string) {
	storageReshapes.WithLabelValues(outcome).Inc()
}

func instrumentPacked[T any](codec Codec[T], op string, n int) {
	name := "none"
	if codec != nil {
		name = codec.Name()
	}
	storageElements.WithLabelValues(name, op).Add(float64(n))
}
