// lifionfs projects a remote document store into the lifion: namespace.
//
// Commands:
//   - ls            list the documents of the root directory
//   - cat NAME      print a document
//   - stat NAME     describe a document or the directory
//   - mount         mount the directory with FUSE
//   - serve         serve the directory over WebDAV with /health and /metrics
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"go.uber.org/zap"

	"github.com/fruitsalade/lifionfs/internal/app"
	"github.com/fruitsalade/lifionfs/internal/config"
	"github.com/fruitsalade/lifionfs/internal/fuse"
	"github.com/fruitsalade/lifionfs/internal/logging"
	"github.com/fruitsalade/lifionfs/internal/server"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// overrides holds the global flags. Empty values leave the loaded
// configuration untouched.
type overrides struct {
	configFile  string
	endpoint    string
	token       string
	encoding    string
	cachePolicy string
	errorPolicy string
	sizeSource  string
	logLevel    string
	logFormat   string
}

func (o *overrides) register(fs *flag.FlagSet) {
	fs.StringVar(&o.configFile, "config", "", "YAML config file (default $LIFIONFS_CONFIG)")
	fs.StringVar(&o.endpoint, "endpoint", "", "Remote document store URL")
	fs.StringVar(&o.token, "token", "", "Bearer token for the remote store")
	fs.StringVar(&o.encoding, "encoding", "", "Encoding of file contents (utf-8, latin1, utf-16le, ...)")
	fs.StringVar(&o.cachePolicy, "cache-policy", "", "Directory cache policy: prune or accumulate")
	fs.StringVar(&o.errorPolicy, "error-policy", "", "Remote failure policy: degrade or propagate")
	fs.StringVar(&o.sizeSource, "size-source", "", "File size source: script or endpoint")
	fs.StringVar(&o.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	fs.StringVar(&o.logFormat, "log-format", "", "Log format: json or console")
}

func (o *overrides) load() (*config.Config, error) {
	var cfg *config.Config
	var err error
	if o.configFile != "" {
		envFile := os.Getenv("LIFIONFS_ENV_FILE")
		if envFile == "" {
			envFile = ".env"
		}
		cfg, err = config.LoadFiles(envFile, o.configFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&cfg.Endpoint, o.endpoint)
	set(&cfg.AuthToken, o.token)
	set(&cfg.Encoding, o.encoding)
	set(&cfg.CachePolicy, o.cachePolicy)
	set(&cfg.ErrorPolicy, o.errorPolicy)
	set(&cfg.SizeSource, o.sizeSource)
	set(&cfg.LogLevel, o.logLevel)
	set(&cfg.LogFormat, o.logFormat)
	return cfg, nil
}

func usage(fs *flag.FlagSet) func() {
	return func() {
		out := fs.Output()
		fmt.Fprintf(out, "Usage: lifionfs [flags] <command> [args]\n\n")
		fmt.Fprintf(out, "Commands:\n")
		fmt.Fprintf(out, "  ls [-l]          list documents\n")
		fmt.Fprintf(out, "  cat NAME         print a document\n")
		fmt.Fprintf(out, "  stat NAME        describe a document or the directory\n")
		fmt.Fprintf(out, "  mount [-mount DIR]\n")
		fmt.Fprintf(out, "                   mount the directory with FUSE\n")
		fmt.Fprintf(out, "  serve [-listen ADDR] [-metrics ADDR]\n")
		fmt.Fprintf(out, "                   serve WebDAV, /health and /metrics\n\n")
		fmt.Fprintf(out, "Flags:\n")
		fs.PrintDefaults()
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	global := flag.NewFlagSet("lifionfs", flag.ContinueOnError)
	global.SetOutput(stderr)
	global.Usage = usage(global)

	var o overrides
	o.register(global)
	if err := global.Parse(args); err != nil {
		return err
	}
	if global.NArg() == 0 {
		global.Usage()
		return fmt.Errorf("no command given")
	}

	cfg, err := o.load()
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	if err := logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}); err != nil {
		return fmt.Errorf("logging init error: %w", err)
	}
	defer logging.Sync()

	cmd, cmdArgs := global.Arg(0), global.Args()[1:]
	switch cmd {
	case "ls":
		return runLs(ctx, cfg, cmdArgs, stdout, stderr)
	case "cat":
		return runCat(ctx, cfg, cmdArgs, stdout)
	case "stat":
		return runStat(ctx, cfg, cmdArgs, stdout)
	case "mount":
		return runMount(ctx, cfg, cmdArgs, stderr)
	case "serve":
		return runServe(ctx, cfg, cmdArgs, stderr)
	default:
		global.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func runLs(ctx context.Context, cfg *config.Config, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("ls", flag.ContinueOnError)
	fs.SetOutput(stderr)
	long := fs.Bool("l", false, "Show type and size")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	dir := a.Root
	if fs.NArg() > 0 {
		if dir, err = a.URI(fs.Arg(0)); err != nil {
			return err
		}
	}

	entries, err := a.Provider.ReadDir(ctx, dir)
	if err != nil {
		return err
	}
	if !*long {
		for _, e := range entries {
			fmt.Fprintln(stdout, e.Name)
		}
		return nil
	}

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	for _, e := range entries {
		st, err := a.Provider.Stat(ctx, a.Root.Join(e.Name))
		if err != nil {
			fmt.Fprintf(tw, "%s\t?\t%s\n", e.Type, e.Name)
			continue
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\n", st.Type, st.Size, e.Name)
	}
	return tw.Flush()
}

func runCat(ctx context.Context, cfg *config.Config, args []string, stdout io.Writer) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: lifionfs cat NAME")
	}
	a, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	uri, err := a.URI(args[0])
	if err != nil {
		return err
	}
	if err := a.Warm(ctx); err != nil {
		return err
	}
	data, err := a.Provider.ReadFile(ctx, uri)
	if err != nil {
		return err
	}
	_, err = stdout.Write(data)
	return err
}

func runStat(ctx context.Context, cfg *config.Config, args []string, stdout io.Writer) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: lifionfs stat NAME")
	}
	a, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	uri, err := a.URI(args[0])
	if err != nil {
		return err
	}
	if !a.Provider.IsDirectory(uri) {
		if err := a.Warm(ctx); err != nil {
			return err
		}
	}
	st, err := a.Provider.Stat(ctx, uri)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(stdout, 0, 4, 1, ' ', 0)
	fmt.Fprintf(tw, "URI:\t%s\n", uri)
	fmt.Fprintf(tw, "Path:\t%s\n", a.Provider.FSPath(uri))
	fmt.Fprintf(tw, "Type:\t%s\n", st.Type)
	fmt.Fprintf(tw, "Size:\t%d\n", st.Size)
	fmt.Fprintf(tw, "CTime:\t%d\n", st.CTime)
	fmt.Fprintf(tw, "MTime:\t%d\n", st.MTime)
	if id, ok := a.Cache.ResolveID(a.Provider.DisplayName(uri)); ok && !st.IsDir() {
		fmt.Fprintf(tw, "ID:\t%s\n", id)
	}
	return tw.Flush()
}

func runMount(ctx context.Context, cfg *config.Config, args []string, stderr io.Writer) error {
	fs := flag.NewFlagSet("mount", flag.ContinueOnError)
	fs.SetOutput(stderr)
	mountPoint := fs.String("mount", cfg.MountPoint, "Mount point for the lifion: directory (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *mountPoint == "" {
		fs.Usage()
		return fmt.Errorf("-mount is required")
	}

	a, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	logging.Info("fetching listing...")
	if err := a.Warm(ctx); err != nil {
		return fmt.Errorf("fetch listing: %w", err)
	}

	srv, err := fuse.New(a.Provider, a.Cache, a.Root).Mount(*mountPoint)
	if err != nil {
		return err
	}
	logging.Info("filesystem mounted, press Ctrl+C to unmount",
		zap.String("mount_point", *mountPoint))

	<-ctx.Done()
	logging.Info("unmounting...")
	return srv.Unmount()
}

func runServe(ctx context.Context, cfg *config.Config, args []string, stderr io.Writer) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	listen := fs.String("listen", cfg.ListenAddr, "WebDAV listen address")
	metricsAddr := fs.String("metrics", cfg.MetricsAddr, "Metrics listen address (empty to disable)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	logging.Info("lifionfs server starting...",
		zap.String("listen", *listen),
		zap.String("metrics", *metricsAddr),
		zap.String("remote", a.Client.BaseURL()))

	return server.New(a).Run(ctx, *listen, *metricsAddr)
}
