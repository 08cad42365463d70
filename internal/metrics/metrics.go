package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	jokesServed  = prometheus.NewCounter(prometheus.CounterOpts{Name: "shep_jokes_served_total", Help: "Jokes selected"})
	runsByStatus = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "shep_agent_runs_total", Help: "Agent run status transitions"}, []string{"status"})
	agentErrors  = prometheus.NewCounter(prometheus.CounterOpts{Name: "shep_agent_errors_total", Help: "Agent executor errors"})
	checkpoints  = prometheus.NewCounter(prometheus.CounterOpts{Name: "shep_checkpoints_written_total", Help: "Checkpoints persisted"})
	notifyErrors = prometheus.NewCounter(prometheus.CounterOpts{Name: "shep_notify_errors_total", Help: "Notification delivery errors"})
)

func init() {
	prometheus.MustRegister(jokesServed, runsByStatus, agentErrors, checkpoints, notifyErrors)
}

// Start serves /metrics on listen until ctx is done. An empty listen is a no-op.
// It returns once the listener is bound so callers see address errors.
func Start(ctx context.Context, listen string, log *slog.Logger) (net.Addr, error) {
	if listen == "" {
		return nil, nil
	}
	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			if log != nil {
				log.Error("metrics server failed", slog.String("err", err.Error()))
			}
		}
	}()
	return ln.Addr(), nil
}

func IncJoke() { jokesServed.Inc() }

func IncRun(status string) { runsByStatus.WithLabelValues(status).Inc() }

func IncAgentError() { agentErrors.Inc() }

func IncCheckpoint() { checkpoints.Inc() }

func IncNotifyError() { notifyErrors.Inc() }
