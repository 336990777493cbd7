// lifion-docstore is a development document store.
//
// It serves every regular file of a directory as a document over the remote
// document API:
//   - GET /health
//   - GET /documents
//   - GET /document_size/{id}
//   - GET /document_script/{id}
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/lifionfs/internal/docstore"
	"github.com/fruitsalade/lifionfs/internal/logging"
)

func main() {
	addr := flag.String("addr", ":8000", "Listen address")
	dataDir := flag.String("data", "./testdata", "Directory containing documents to serve")
	logLevel := flag.String("log-level", "info", "Log level: debug, info, warn, error")
	logFormat := flag.String("log-format", "console", "Log format: json or console")
	flag.Parse()

	if err := logging.Init(logging.Config{Level: *logLevel, Format: *logFormat}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	if _, err := os.Stat(*dataDir); os.IsNotExist(err) {
		logging.Info("creating data directory", zap.String("dir", *dataDir))
		if err := os.MkdirAll(*dataDir, 0755); err != nil {
			logging.Fatal("failed to create data directory", zap.Error(err))
		}
		sample := filepath.Join(*dataDir, "hello.txt")
		if err := os.WriteFile(sample, []byte("Hello from lifion!\n"), 0644); err != nil {
			logging.Warn("couldn't create sample document", zap.Error(err))
		} else {
			logging.Info("created sample document", zap.String("path", sample))
		}
	}

	store, err := docstore.NewLocal(*dataDir)
	if err != nil {
		logging.Fatal("failed to initialize store", zap.Error(err))
	}

	httpServer := &http.Server{
		Addr:         *addr,
		Handler:      docstore.NewServer(store).Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logging.Info("document store listening",
			zap.String("addr", *addr),
			zap.String("data", *dataDir))
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			logging.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logging.Error("server shutdown error", zap.Error(err))
	}
	logging.Info("server stopped")
}
