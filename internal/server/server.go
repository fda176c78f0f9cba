// Copyright Contributors to the AgentRun project

// Package server exposes a read-only HTTP API over run resources, for
// dashboards and scripts that should not need cluster credentials.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"

	agentrunv1alpha1 "github.com/agentrun-io/agentrun/api/v1alpha1"
)

var log = ctrl.Log.WithName("server")

var scheme = runtime.NewScheme()

func init() {
	utilruntime.Must(clientgoscheme.AddToScheme(scheme))
	utilruntime.Must(agentrunv1alpha1.AddToScheme(scheme))
}

// Options holds the server configuration.
type Options struct {
	// Address is the address the server listens on (e.g., ":8090")
	Address string
}

// Server serves the read-only run API.
type Server struct {
	opts       Options
	httpServer *http.Server
	k8sClient  client.Client
}

// New creates a new Server instance.
func New(opts Options) (*Server, error) {
	cfg, err := ctrl.GetConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to get kubeconfig: %w", err)
	}

	k8sClient, err := client.New(cfg, client.Options{Scheme: scheme})
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes client: %w", err)
	}

	return &Server{opts: opts, k8sClient: k8sClient}, nil
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	router := s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:              s.opts.Address,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		log.Info("Starting HTTP server", "address", s.opts.Address)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		log.Info("Shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

// setupRoutes configures the HTTP router.
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))

	r.Get("/health", s.healthHandler)
	r.Get("/ready", s.readyHandler)

	runs := newRunHandler(s.k8sClient)
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/namespaces/{namespace}/coderuns", func(r chi.Router) {
			r.Get("/", runs.ListCodeRuns)
			r.Get("/{name}", runs.GetCodeRun)
		})
		r.Route("/namespaces/{namespace}/docsruns", func(r chi.Router) {
			r.Get("/", runs.ListDocsRuns)
			r.Get("/{name}", runs.GetDocsRun)
		})
		r.Route("/namespaces/{namespace}/scheduleddocsruns", func(r chi.Router) {
			r.Get("/", runs.ListScheduled)
			r.Get("/{name}", runs.GetScheduled)
		})
	})

	return r
}

// healthHandler returns 200 if the server is healthy.
func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// readyHandler returns 200 once the cluster API is reachable.
func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	var runs agentrunv1alpha1.DocsRunList
	if err := s.k8sClient.List(ctx, &runs, client.Limit(1)); err != nil {
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}
