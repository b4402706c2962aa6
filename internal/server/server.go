// Package server exposes fulfillment over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tournevent/fulfillment/internal/fulfillment"
	"github.com/tournevent/fulfillment/pkg/shipper"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Fulfiller is the single-order surface the server exposes.
type Fulfiller interface {
	FulfillOrder(ctx context.Context, orderID string, opts fulfillment.FulfillOptions) (*fulfillment.Result, error)
	GetCourierQuotes(ctx context.Context, orderID string) ([]shipper.CourierOption, error)
	GenerateDocument(ctx context.Context, kind shipper.DocumentKind, orderIDs []string) (*shipper.Document, error)
	CancelOrder(ctx context.Context, orderID string) error
	TrackOrder(ctx context.Context, orderID string) (*shipper.Tracking, error)
	ListShipments(ctx context.Context, filter shipper.ShipmentFilter) ([]shipper.ShipmentSummary, error)
}

// BatchRunner runs batch fulfillments.
type BatchRunner interface {
	Run(ctx context.Context, orderIDs []string, courierID int, progress func(fulfillment.BatchResult)) fulfillment.BatchResult
}

// Config holds server configuration.
type Config struct {
	Port            int
	ShutdownTimeout time.Duration
}

// Server is the HTTP server for the fulfillment service.
type Server struct {
	cfg      Config
	svc      Fulfiller
	batch    BatchRunner
	gatherer prometheus.Gatherer
	logger   *otelzap.Logger
}

// New creates a new server instance. A nil gatherer serves the default
// Prometheus registry.
func New(cfg Config, svc Fulfiller, batch BatchRunner, gatherer prometheus.Gatherer, logger *otelzap.Logger) *Server {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		cfg:      cfg,
		svc:      svc,
		batch:    batch,
		gatherer: gatherer,
		logger:   logger,
	}
}

// Handler returns the instrumented router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(v chi.Router) {
		v.Route("/orders/{orderID}", func(o chi.Router) {
			o.Post("/fulfill", s.handleFulfill)
			o.Get("/courier-quotes", s.handleQuotes)
			o.Post("/cancel", s.handleCancel)
			o.Get("/tracking", s.handleTracking)
		})
		v.Post("/fulfillments/batch", s.handleBatch)
		v.Post("/documents/{kind}", s.handleDocument)
		v.Get("/shipments", s.handleListShipments)
	})

	return otelhttp.NewHandler(r, "fulfillment",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

// Run starts the HTTP server and blocks until ctx is cancelled or the
// listener fails.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("Starting server", zap.Int("port", s.cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
			return
		}
		s.logger.Ctx(r.Context()).Info("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
