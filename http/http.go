// Package http serves the hub endpoints: the rank WebSocket relay, the
// health checks and the admin endpoints.
package http

import (
	"context"
	"net/http"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"golang.org/x/sync/errgroup"
)

const (
	ErrTypeServerStopped = "server_stopped"
)

// ListenAndServe runs the servers until the context is done, then shuts them
// down gracefully within the given timeout. It returns the first error that
// stopped a server.
func ListenAndServe(ctx context.Context, shutdownTimeout time.Duration, servers ...*http.Server) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		for _, s := range servers {
			if err := s.Shutdown(shutdownCtx); err != nil {
				logs.Warn(errors.Newf("shutting down the server failed").
					WithTag("addr", s.Addr).
					Wrap(err))
			}
		}
		return nil
	})

	for _, s := range servers {
		s := s

		g.Go(func() error {
			logs.WithTag("addr", s.Addr).Info("starting server")

			switch err := s.ListenAndServe(); err {
			case nil, http.ErrServerClosed, context.Canceled:
				logs.WithTag("addr", s.Addr).Info("stopping server")
				return nil

			default:
				return errors.Newf("server stopped").
					WithType(ErrTypeServerStopped).
					WithTag("addr", s.Addr).
					Wrap(err)
			}
		})
	}

	return g.Wait()
}

// MetricsPathFormatter returns an empty path for the responses that would
// otherwise create a metric per unknown path: 301, 400, 404 and 405. Other
// paths are returned without their trailing slash.
func MetricsPathFormatter(statusCode int, path string) string {
	if statusCode == http.StatusMovedPermanently ||
		statusCode == http.StatusBadRequest ||
		statusCode == http.StatusNotFound ||
		statusCode == http.StatusMethodNotAllowed {
		return ""
	}

	if len(path) > 1 && path[len(path)-1] == '/' {
		return path[:len(path)-1]
	}
	return path
}
