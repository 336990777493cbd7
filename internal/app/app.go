// Package app wires the remote client, directory cache and provider from a
// configuration.
package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/lifionfs/internal/config"
	"github.com/fruitsalade/lifionfs/internal/logging"
	"github.com/fruitsalade/lifionfs/pkg/client"
	"github.com/fruitsalade/lifionfs/pkg/dircache"
	"github.com/fruitsalade/lifionfs/pkg/provider"
	"github.com/fruitsalade/lifionfs/pkg/vpath"
)

// App is one provider instance and the components behind it.
type App struct {
	Config   *config.Config
	Client   *client.Client
	Cache    *dircache.Cache
	Provider *provider.Provider
	Root     vpath.URI
}

// New validates cfg and builds the component graph. Nothing contacts the
// store until the first operation.
func New(cfg *config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cachePolicy, err := dircache.ParsePolicy(cfg.CachePolicy)
	if err != nil {
		return nil, err
	}
	errorPolicy, err := provider.ParseErrorPolicy(cfg.ErrorPolicy)
	if err != nil {
		return nil, err
	}
	sizeSource, err := provider.ParseSizeSource(cfg.SizeSource)
	if err != nil {
		return nil, err
	}

	c := client.New(client.Config{
		BaseURL:     cfg.Endpoint,
		Timeout:     cfg.RequestTimeout,
		RetryConfig: cfg.Retry(),
		AuthToken:   cfg.AuthToken,
		RateLimit:   cfg.RateLimit,
		Logger:      logging.Named("client"),
	})

	// A shared listing may run every retry attempt to its timeout.
	cache, err := dircache.New(c, dircache.Config{
		Size:        cfg.CacheSize,
		Policy:      cachePolicy,
		ListTimeout: time.Duration(cfg.RetryAttempts+1) * cfg.RequestTimeout,
		Logger:      logging.Named("dircache"),
	})
	if err != nil {
		return nil, err
	}

	prov, err := provider.New(cache, c, provider.Config{
		Scheme:      cfg.Scheme,
		RootName:    cfg.RootName,
		Encoding:    cfg.Encoding,
		ErrorPolicy: errorPolicy,
		SizeSource:  sizeSource,
		Logger:      logging.Named("provider"),
	})
	if err != nil {
		return nil, err
	}

	logging.Info("provider ready",
		zap.String("provider", prov.String()),
		zap.String("endpoint", c.BaseURL()),
		zap.String("root", cfg.RootURI().String()),
		zap.String("encoding", prov.Encoding()),
		zap.String("capabilities", prov.Capabilities().String()))

	return &App{
		Config:   cfg,
		Client:   c,
		Cache:    cache,
		Provider: prov,
		Root:     cfg.RootURI(),
	}, nil
}

// URI resolves a command-line argument. Arguments carrying a scheme are
// parsed as URIs; bare names are joined to the root.
func (a *App) URI(arg string) (vpath.URI, error) {
	if arg == "" {
		return a.Root, nil
	}
	if u, err := vpath.ParseURI(arg); err == nil {
		if u.Scheme != a.Provider.Scheme() {
			return vpath.URI{}, fmt.Errorf("%s: scheme %q is not served, want %q", arg, u.Scheme, a.Provider.Scheme())
		}
		return u, nil
	}
	return a.Root.Join(arg), nil
}

// Warm lists the directory once so names resolve.
func (a *App) Warm(ctx context.Context) error {
	_, err := a.Provider.ReadDir(ctx, a.Root)
	return err
}

// Close disposes the provider.
func (a *App) Close() error {
	return a.Provider.Dispose()
}
