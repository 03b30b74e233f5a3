package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aukilabs/dquad/models"
	"github.com/google/uuid"
	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"
)

func TestMetricsPathFormatter(t *testing.T) {
	tests := []struct {
		status int
		path   string
		res    string
	}{
		{status: http.StatusOK, path: "/ws", res: "/ws"},
		{status: http.StatusOK, path: "/jobs/", res: "/jobs"},
		{status: http.StatusOK, path: "/", res: "/"},
		{status: http.StatusNotFound, path: "/unknown", res: ""},
		{status: http.StatusBadRequest, path: "/ws", res: ""},
		{status: http.StatusMovedPermanently, path: "/ws", res: ""},
		{status: http.StatusMethodNotAllowed, path: "/ws", res: ""},
	}

	for _, test := range tests {
		t.Run(test.path, func(t *testing.T) {
			require.Equal(t, test.res, MetricsPathFormatter(test.status, test.path))
		})
	}
}

func TestHandleReadyCheck(t *testing.T) {
	ready := false
	h := HandleReadyCheck(func() bool { return ready })

	w := httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	ready = true
	w = httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	require.Equal(t, http.StatusOK, w.Code)
}

func TestHandleVersion(t *testing.T) {
	w := httptest.NewRecorder()
	HandleVersion("v1.2.3")(w, httptest.NewRequest(http.MethodGet, "/version", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "v1.2.3", w.Body.String())
}

func TestHandleJobs(t *testing.T) {
	var jobs models.JobStore
	req := httptest.NewRequest(http.MethodGet, "/jobs", nil)

	job, err := jobs.GetOrCreate(req.Context(), uuid.NewString(), 2)
	require.NoError(t, err)
	_, err = job.Relay(1, []byte("frame"))
	require.NoError(t, err)

	w := httptest.NewRecorder()
	HandleJobs(&jobs)(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var res []models.JobStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.Len(t, res, 1)
	require.Equal(t, job.JobUUID, res[0].JobUUID)
	require.Equal(t, 2, res[0].Size)
	require.Equal(t, 1, res[0].Pending)
	require.Empty(t, res[0].Ranks)
}

func TestVerifyToken(t *testing.T) {
	tests := []struct {
		scenario string
		token    string
		header   string
		err      bool
	}{
		{
			scenario: "no token configured",
		},
		{
			scenario: "valid token",
			token:    "secret",
			header:   "Bearer secret",
		},
		{
			scenario: "invalid token",
			token:    "secret",
			header:   "Bearer nope",
			err:      true,
		},
		{
			scenario: "missing token",
			token:    "secret",
			err:      true,
		},
	}

	for _, test := range tests {
		t.Run(test.scenario, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/ws", nil)
			if test.header != "" {
				req.Header.Set("Authorization", test.header)
			}

			err := VerifyToken(test.token)(&websocket.Config{}, req)
			if test.err {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}

			w := httptest.NewRecorder()
			VerifyTokenHandler(test.token, HandleHealthCheck)(w, req)
			if test.err {
				require.Equal(t, http.StatusUnauthorized, w.Code)
			} else {
				require.Equal(t, http.StatusOK, w.Code)
			}
		})
	}
}
