// Package server exposes a provider over HTTP: WebDAV, a health endpoint and
// Prometheus metrics on a separate listener.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fruitsalade/lifionfs/internal/app"
	"github.com/fruitsalade/lifionfs/internal/logging"
	"github.com/fruitsalade/lifionfs/internal/metrics"
	"github.com/fruitsalade/lifionfs/internal/webdav"
)

const (
	healthCheckInterval = 30 * time.Second
	shutdownTimeout     = 10 * time.Second
)

// Server serves one App.
type Server struct {
	app *app.App
	dav http.Handler
	log *zap.Logger
}

// New creates a server for a.
func New(a *app.App) *Server {
	return &Server{
		app: a,
		dav: webdav.NewHandler(webdav.NewFS(a.Provider, a.Root)),
		log: logging.Named("server"),
	}
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle(webdav.Prefix+"/", s.dav)

	return logging.Middleware(nil)(metrics.Middleware(mux))
}

type healthResponse struct {
	Status       string `json:"status"`
	Provider     string `json:"provider"`
	Root         string `json:"root"`
	Remote       string `json:"remote"`
	Online       bool   `json:"online"`
	CacheEntries int    `json:"cache_entries"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:       "ok",
		Provider:     s.app.Provider.String(),
		Root:         s.app.Root.String(),
		Remote:       s.app.Client.BaseURL(),
		Online:       s.app.Client.IsOnline(),
		CacheEntries: s.app.Cache.Len(),
	}
	if !resp.Online {
		resp.Status = "degraded"
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// Run serves on listenAddr and metricsAddr until ctx is cancelled, then
// shuts both listeners down. An empty metricsAddr disables the metrics
// listener.
func (s *Server) Run(ctx context.Context, listenAddr, metricsAddr string) error {
	httpServer := &http.Server{
		Addr:         listenAddr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	servers := []*http.Server{httpServer}
	if metricsAddr != "" {
		servers = append(servers, &http.Server{
			Addr:    metricsAddr,
			Handler: metrics.Handler(),
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		g.Go(func() error {
			s.log.Info("listening", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		s.healthLoop(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.log.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		var errs []error
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
	return g.Wait()
}

// healthLoop pings the store so /health reflects reachability between
// requests.
func (s *Server) healthLoop(ctx context.Context) {
	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			wasOnline := s.app.Client.IsOnline()
			err := s.app.Client.Ping(ctx)
			switch {
			case err != nil && wasOnline:
				s.log.Warn("remote store unreachable", zap.Error(err))
			case err == nil && !wasOnline:
				s.log.Info("remote store reachable again")
			}
		}
	}
}
