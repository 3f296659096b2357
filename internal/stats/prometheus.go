package stats

import (
	"context"
	"log/slog"
	"net"
	"net/http"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Exporter exposes the Stats counters as Prometheus counters on a
// loopback-only HTTP endpoint, reading a fresh snapshot on each scrape.
type Exporter struct {
	stats  *Stats
	srv    *http.Server
	logger *slog.Logger

	seen    prometheus.CounterFunc
	blocked prometheus.CounterFunc
	allowed prometheus.CounterFunc
	errs    prometheus.CounterFunc
}

// NewExporter creates an Exporter for st, registered in its own registry so
// it never collides with the default global one.  l must not be nil.
func NewExporter(st *Stats, l *slog.Logger) (e *Exporter) {
	e = &Exporter{stats: st, logger: l}

	reg := prometheus.NewRegistry()

	e.seen = promauto.With(reg).NewCounterFunc(prometheus.CounterOpts{
		Namespace: "netshield",
		Subsystem: "dns",
		Name:      "queries_seen_total",
		Help:      "Total number of DNS queries received.",
	}, func() float64 { return float64(st.Snapshot().QueriesSeen) })

	e.blocked = promauto.With(reg).NewCounterFunc(prometheus.CounterOpts{
		Namespace: "netshield",
		Subsystem: "dns",
		Name:      "queries_blocked_total",
		Help:      "Total number of DNS queries answered with a sinkhole.",
	}, func() float64 { return float64(st.Snapshot().QueriesBlocked) })

	e.allowed = promauto.With(reg).NewCounterFunc(prometheus.CounterOpts{
		Namespace: "netshield",
		Subsystem: "dns",
		Name:      "queries_allowed_total",
		Help:      "Total number of DNS queries forwarded upstream.",
	}, func() float64 { return float64(st.Snapshot().QueriesAllowed) })

	e.errs = promauto.With(reg).NewCounterFunc(prometheus.CounterOpts{
		Namespace: "netshield",
		Subsystem: "dns",
		Name:      "forward_errors_total",
		Help:      "Total number of malformed queries or forwarding errors.",
	}, func() float64 { return float64(st.Snapshot().ForwardErrors) })

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	e.srv = &http.Server{Handler: mux}

	return e
}

// Start binds the metrics endpoint to addr (which must be a loopback
// address) and serves until the returned error (or Stop).
func (e *Exporter) Start(ctx context.Context, addr string) (err error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	e.srv.Addr = addr

	go func() {
		srvErr := e.srv.Serve(ln)
		if srvErr != nil && srvErr != http.ErrServerClosed {
			e.logger.ErrorContext(ctx, "metrics server exited", slogutil.KeyError, srvErr)
		}
	}()

	return nil
}

// Stop shuts the metrics endpoint down.
func (e *Exporter) Stop(ctx context.Context) (err error) {
	return e.srv.Shutdown(ctx)
}
