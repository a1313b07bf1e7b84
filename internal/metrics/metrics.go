package metrics

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/goodtune/tracktime/internal/hms"
	"github.com/goodtune/tracktime/internal/ledger"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Sampling metrics
	TicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracktime_ticks_total",
			Help: "Sampler ticks by outcome",
		},
		[]string{"outcome", "reason"},
	)

	TrackedSecondsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracktime_tracked_seconds_total",
			Help: "Seconds attributed to each app",
		},
		[]string{"app"},
	)

	DiscardedSecondsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tracktime_discarded_seconds_total",
			Help: "Seconds dropped because the gap between ticks exceeded max_gap",
		},
	)

	TodaySeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tracktime_today_seconds",
			Help: "Total seconds tracked so far today",
		},
	)

	// Ledger metrics
	LedgerWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracktime_ledger_writes_total",
			Help: "Ledger file writes by result",
		},
		[]string{"result"},
	)

	LedgerRollovers = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tracktime_ledger_rollovers_total",
			Help: "Day changes observed by the accumulator",
		},
	)

	// Upload metrics
	UploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracktime_uploads_total",
			Help: "Ledger uploads by destination and result",
		},
		[]string{"destination", "result"},
	)

	UploadDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tracktime_upload_duration_seconds",
			Help:    "Upload duration in seconds, retries included",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"destination"},
	)

	UploadBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tracktime_upload_breaker_state",
			Help: "Upload circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"destination"},
	)

	TokenRefreshesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracktime_token_refreshes_total",
			Help: "Access token refresh attempts by result",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(
		TicksTotal,
		TrackedSecondsTotal,
		DiscardedSecondsTotal,
		TodaySeconds,
		LedgerWritesTotal,
		LedgerRollovers,
		UploadsTotal,
		UploadDuration,
		UploadBreakerState,
		TokenRefreshesTotal,
	)
}

// TodayFunc returns a consistent copy of the ledger being accumulated.
type TodayFunc func(ctx context.Context) (*ledger.Ledger, error)

// Server is the metrics and status HTTP server
type Server struct {
	server   *http.Server
	today    TodayFunc
	logger   zerolog.Logger
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
}

// NewServer creates a new metrics server. today may be nil, in which case
// /api/today is not served.
func NewServer(addr string, today TodayFunc, logger zerolog.Logger) *Server {
	s := &Server{
		today:  today,
		logger: logger.With().Str("component", "metrics").Logger(),
	}

	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}).Methods(http.MethodGet)
	if today != nil {
		r.HandleFunc("/api/today", s.handleToday).Methods(http.MethodGet)
	}

	s.server = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

type appTotal struct {
	App      string `json:"app"`
	Duration string `json:"duration"`
	Seconds  int64  `json:"seconds"`
}

type todayResponse struct {
	Date  string     `json:"date"`
	Total string     `json:"total"`
	Apps  []appTotal `json:"apps"`
}

func (s *Server) handleToday(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	l, err := s.today(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Snapshot unavailable")
		http.Error(w, "snapshot unavailable", http.StatusServiceUnavailable)
		return
	}

	resp := todayResponse{
		Date:  l.DateString(),
		Total: hms.FromSeconds(l.Total()),
		Apps:  make([]appTotal, 0, len(l.Apps)),
	}
	for _, e := range l.Entries() {
		resp.Apps = append(resp.Apps, appTotal{App: e.App, Duration: hms.FromSeconds(e.Seconds), Seconds: e.Seconds})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Debug().Err(err).Msg("Failed to write /api/today response")
	}
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the metrics server
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")
	go func() {
		var err error
		if s.listener != nil {
			s.logger.Debug().Msg("Using systemd socket-activated metrics listener")
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
	return nil
}

// Stop stops the metrics server
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping metrics server")
	return s.server.Close()
}
