package prometheus

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/blkcp/blkcp/internal/logger"
	"github.com/blkcp/blkcp/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Serve exposes the metrics registry over HTTP at /metrics on addr and
// returns a shutdown function. Binding errors surface synchronously; the
// server itself runs in the background for the lifetime of the copy.
//
// With metrics disabled the returned shutdown function is a no-op.
func Serve(addr string) (func(ctx context.Context) error, error) {
	if !metrics.IsEnabled() {
		return func(context.Context) error { return nil }, nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics listener failed", "addr", addr, "error", err)
		}
	}()

	logger.Debug("metrics listener started", "addr", addr)
	return srv.Shutdown, nil
}
