package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/meridianerp/entitlements/pkg/membership"
	"github.com/meridianerp/entitlements/pkg/observability"
	"github.com/meridianerp/entitlements/pkg/reconcile"
	"github.com/meridianerp/entitlements/pkg/resolve"
	"github.com/meridianerp/entitlements/pkg/rights"
)

// Server is the HTTP surface of the entitlement engine.
type Server struct {
	registry   *rights.Registry
	caches     *membership.TenantCaches
	resolver   *resolve.Resolver
	reconciler *reconcile.Reconciler
	log        *observability.Logger
	metrics    *observability.Metrics
	router     *mux.Router
}

// Options carries the Server's dependencies.
type Options struct {
	Registry   *rights.Registry
	Caches     *membership.TenantCaches
	Resolver   *resolve.Resolver
	Reconciler *reconcile.Reconciler
	Logger     *observability.Logger
	Metrics    *observability.Metrics
}

// NewServer builds the router and wires the middleware chain.
func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = observability.NopLogger()
	}
	s := &Server{
		registry:   opts.Registry,
		caches:     opts.Caches,
		resolver:   opts.Resolver,
		reconciler: opts.Reconciler,
		log:        opts.Logger,
		metrics:    opts.Metrics,
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.metricsMiddleware)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.Use(s.tenantMiddleware)

	v1.HandleFunc("/rights", s.handleListRights).Methods(http.MethodGet)

	v1.HandleFunc("/users/{userID:[0-9]+}/groups", s.handleUserGroups).Methods(http.MethodGet)
	v1.HandleFunc("/users/{userID:[0-9]+}/groups/{groupID:[0-9]+}", s.handleGroupMembership).Methods(http.MethodGet)
	v1.HandleFunc("/users/{userID:[0-9]+}/special/{kind}", s.handleSpecialMembership).Methods(http.MethodGet)
	v1.HandleFunc("/users/{userID:[0-9]+}/rights", s.handleResolveAll).Methods(http.MethodGet)
	v1.HandleFunc("/users/{userID:[0-9]+}/rights/{rightID}", s.handleResolveOne).Methods(http.MethodGet)
	v1.HandleFunc("/users/{userID:[0-9]+}/assignments", s.handleReconcile).Methods(http.MethodPut)

	v1.HandleFunc("/cache/invalidate", s.handleInvalidate).Methods(http.MethodPost)
	v1.HandleFunc("/cache/refresh", s.handleRefresh).Methods(http.MethodPost)

	return r
}

// Handler returns the server's handler wrapped with tracing.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, "entitlements.api")
}

// ListenAndServe runs the API until the context is cancelled, then shuts
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", addr).Info("api server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
