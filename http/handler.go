package http

import (
	"net/http"

	"github.com/aukilabs/dquad/models"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/segmentio/encoding/json"
)

func HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// HandleReadyCheck responds with 503 until the readiness check passes.
func HandleReadyCheck(readinessCheck func() bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !readinessCheck() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func HandleVersion(version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(version))
	}
}

// HandleJobs responds with the status of the jobs relayed by the hub.
func HandleJobs(jobs *models.JobStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list := jobs.Jobs()
		res := make([]models.JobStatus, len(list))
		for i, j := range list {
			res[i] = j.Status()
		}

		b, err := json.Marshal(res)
		if err != nil {
			logs.Warn(errors.New("encoding jobs failed").Wrap(err))
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(b)
	}
}
