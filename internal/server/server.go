package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"SimBank/internal/interbank"
	"SimBank/internal/ledger"
	"SimBank/internal/loan"
	"SimBank/internal/observability"
	"SimBank/internal/simulation"

	"github.com/go-chi/chi/v5"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// Deps holds everything the HTTP API calls into.
type Deps struct {
	Ledger     *ledger.Engine
	Directory  *ledger.Directory
	Loans      *loan.Engine
	Interbank  *interbank.Gateway
	Simulation *simulation.Controller
	Health     *observability.HealthChecker
	Metrics    *observability.Metrics

	// IsAdmin reports whether a team may call the admin routes.
	IsAdmin func(team string) bool
	Logger  zerolog.Logger
}

// Server serves the JSON API over HTTP and a gRPC listener carrying the
// standard health service and reflection.
type Server struct {
	deps Deps
	log  zerolog.Logger

	handler    http.Handler
	grpcServer *grpc.Server
	grpcHealth *health.Server
	httpServer *http.Server

	grpcAddr string
	httpAddr string
}

func New(grpcAddr, httpAddr string, deps Deps) (*Server, error) {
	if deps.IsAdmin == nil {
		deps.IsAdmin = func(string) bool { return false }
	}
	if deps.Health == nil {
		deps.Health = observability.NewHealthChecker()
	}
	s := &Server{
		deps:     deps,
		log:      deps.Logger,
		grpcAddr: grpcAddr,
		httpAddr: httpAddr,
	}

	gw := runtime.NewServeMux(runtime.WithRoutingErrorHandler(s.routingError))
	for _, rt := range s.routes() {
		if err := gw.HandlePath(rt.method, rt.pattern, s.wrap(rt)); err != nil {
			return nil, fmt.Errorf("register %s %s: %w", rt.method, rt.pattern, err)
		}
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(recoverMiddleware(s.log))
	r.Use(accessLogMiddleware(s.log))
	r.Get("/healthz", deps.Health.LivenessHandler)
	r.Get("/readyz", deps.Health.ReadinessHandler)
	r.Group(func(r chi.Router) {
		r.Use(identityMiddleware)
		r.Handle("/v1/*", gw)
	})
	s.handler = r

	s.grpcServer = grpc.NewServer()
	s.grpcHealth = health.NewServer()
	healthpb.RegisterHealthServer(s.grpcServer, s.grpcHealth)
	s.grpcHealth.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	reflection.Register(s.grpcServer)

	return s, nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.handler }

// StartGRPC serves gRPC until ctx is cancelled.
func (s *Server) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	go func() {
		<-ctx.Done()
		s.log.Info().Msg("gRPC server shutting down")
		s.grpcHealth.Shutdown()
		s.grpcServer.GracefulStop()
	}()

	s.log.Info().Str("addr", s.grpcAddr).Msg("gRPC server listening")
	return s.grpcServer.Serve(lis)
}

// StartHTTP serves the JSON API until ctx is cancelled.
func (s *Server) StartHTTP(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.httpAddr,
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.log.Info().Msg("HTTP server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	s.log.Info().Str("addr", s.httpAddr).Msg("HTTP server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type access int

const (
	anyone access = iota
	team
	admin
)

// handlerFunc answers a matched route. A returned error is written as the
// response.
type handlerFunc func(w http.ResponseWriter, r *http.Request, params map[string]string) error

type route struct {
	method  string
	pattern string
	access  access
	handle  handlerFunc
}

func (s *Server) wrap(rt route) runtime.HandlerFunc {
	name := rt.method + " " + rt.pattern
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}

		err := s.authorize(r, rt.access)
		if err == nil {
			err = rt.handle(rec, r, params)
		}
		if err != nil {
			writeError(rec, s.log.With().Str("request_id", requestIDFromContext(r.Context())).Str("route", name).Logger(), err, nil)
		}

		if m := s.deps.Metrics; m != nil {
			m.HTTPRequests.WithLabelValues(name, strconv.Itoa(rec.Status())).Inc()
			m.HTTPDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		}
	}
}

func (s *Server) authorize(r *http.Request, a access) error {
	if a == anyone {
		return nil
	}
	team := teamFromContext(r.Context())
	if team == "" {
		return errUnauthenticated
	}
	if a == admin && !s.deps.IsAdmin(team) {
		return errForbidden
	}
	return nil
}

func (s *Server) routingError(_ context.Context, _ *runtime.ServeMux, _ runtime.Marshaler, w http.ResponseWriter, r *http.Request, status int) {
	msg := "no such route"
	if status == http.StatusMethodNotAllowed {
		msg = "method not allowed"
	}
	writeJSON(w, status, errorBody{Code: "route_not_found", Message: msg})
}
