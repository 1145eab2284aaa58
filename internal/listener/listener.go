package listener

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"github.com/icinga/icinga-calendar/internal/calendar"
	"github.com/icinga/icinga-calendar/internal/expansion"
	"github.com/icinga/icingadb/pkg/logging"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"net"
	"net/http"
	"strconv"
	"time"
)

// Expander runs expansion passes on request.
type Expander interface {
	ExpandAll(ctx context.Context, now time.Time) (expansion.Stats, error)
	ExpandOne(ctx context.Context, id int64, now time.Time) (expansion.Stats, error)
}

// Listener serves HTTP endpoints that trigger expansion passes.
type Listener struct {
	address       string
	debugPassword string
	expander      Expander
	logger        *logging.Logger
	mux           http.ServeMux
}

// NewListener creates a Listener serving the expansion endpoints on address.
//
// The endpoints require HTTP basic auth with the debug password as password, if there is none they are disabled.
func NewListener(address, debugPassword string, expander Expander, logger *logging.Logger) *Listener {
	l := &Listener{address: address, debugPassword: debugPassword, expander: expander, logger: logger}
	l.mux.HandleFunc("/expand-all", l.requirePost(l.ExpandAll))
	l.mux.HandleFunc("/expand-series", l.requirePost(l.ExpandSeries))
	return l
}

// ServeHTTP implements the http.Handler interface.
func (l *Listener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	l.mux.ServeHTTP(w, r)
}

// Run serves HTTP requests until ctx is canceled.
func (l *Listener) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              l.address,
		Handler:           l,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	l.logger.Infof("Starting listener on http://%s", l.address)

	errs := make(chan error, 1)
	go func() { errs <- server.ListenAndServe() }()

	select {
	case err := <-errs:
		return errors.Wrap(err, "listener failed")
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		return errors.Wrap(server.Shutdown(shutdownCtx), "can't shut down listener")
	}
}

func (l *Listener) ExpandAll(w http.ResponseWriter, r *http.Request) {
	stats, err := l.expander.ExpandAll(r.Context(), time.Now())
	if err != nil {
		l.logger.Errorw("Requested expansion failed", zap.Error(err))

		w.WriteHeader(http.StatusInternalServerError)
		_, _ = fmt.Fprintf(w, "expansion failed: %v\n", err)
		return
	}

	l.writeStats(w, stats)
}

func (l *Listener) ExpandSeries(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.URL.Query().Get("id"), 10, 64)
	if err != nil || id <= 0 {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = fmt.Fprintln(w, "positive integer series id required")
		return
	}

	stats, err := l.expander.ExpandOne(r.Context(), id, time.Now())
	if errors.Is(err, calendar.ErrSeriesNotFound) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = fmt.Fprintf(w, "series %d not found\n", id)
		return
	} else if err != nil {
		l.logger.Errorw("Requested regeneration failed", zap.Int64("series", id), zap.Error(err))

		w.WriteHeader(http.StatusInternalServerError)
		_, _ = fmt.Fprintf(w, "regeneration failed: %v\n", err)
		return
	}

	l.writeStats(w, stats)
}

func (l *Listener) writeStats(w http.ResponseWriter, stats expansion.Stats) {
	w.Header().Set("Content-Type", "application/json")

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(stats); err != nil {
		l.logger.Errorw("Can't write response", zap.Error(err))
	}
}

// requirePost wraps handler, rejecting requests that are not authenticated POST requests.
func (l *Listener) requirePost(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			w.WriteHeader(http.StatusMethodNotAllowed)
			_, _ = fmt.Fprintln(w, "POST required")
			return
		}

		if l.debugPassword == "" {
			w.WriteHeader(http.StatusForbidden)
			_, _ = fmt.Fprintln(w, "config debug-password not set, expansion endpoints are disabled")
			return
		}

		_, password, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(password), []byte(l.debugPassword)) != 1 {
			l.logger.Warnw("Rejecting unauthenticated request",
				zap.String("path", r.URL.Path), zap.String("remote", r.RemoteAddr))

			w.Header().Set("WWW-Authenticate", `Basic realm="debug"`)
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = fmt.Fprintln(w, "please provide the debug-password as basic auth credentials (user is ignored)")
			return
		}

		handler(w, r)
	}
}
