package models

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "job_count",
		Help: "The number of jobs relayed by the hub.",
	})

	jobCountTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "job_count_total",
		Help: "The total number of jobs.",
	})
)

func instrumentIncreaseJobGauge() {
	jobCount.Inc()
}

func instrumentDecreaseJobGauge() {
	jobCount.Dec()
}

func instrumentCountJob() {
	jobCountTotal.Inc()
}
