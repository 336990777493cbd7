// Package provider implements the lifion: virtual file system on top of a
// remote document store.
//
// The namespace is flat. A resource whose terminal segment is the root name
// (or empty) is the directory; anything else is a document addressed by its
// display name. Names resolve to identifiers only after a ReadDir has listed
// them.
package provider

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fruitsalade/lifionfs/internal/logging"
	"github.com/fruitsalade/lifionfs/internal/metrics"
	"github.com/fruitsalade/lifionfs/pkg/models"
	"github.com/fruitsalade/lifionfs/pkg/textenc"
	"github.com/fruitsalade/lifionfs/pkg/vpath"
)

// Synthetic stat values. The store has no timestamps.
const (
	CTime         int64 = 0
	MTime         int64 = 1000000
	DirectorySize int64 = 10

	// DefaultRootName is the terminal segment that denotes the directory.
	DefaultRootName = "test"

	fixedDescriptor  = 1
	placeholderCount = 3
)

// Name is returned by String.
const Name = "Lifion File System Provider"

// Directory lists documents and resolves names. *dircache.Cache implements it.
type Directory interface {
	ListNames(ctx context.Context) ([]string, error)
	ResolveID(name string) (string, bool)
}

// Documents fetches document content. *client.Client implements it.
type Documents interface {
	DocumentScript(ctx context.Context, id string) (string, error)
	DocumentSize(ctx context.Context, id string) (int64, error)
}

// Config holds provider configuration.
type Config struct {
	Scheme      string
	RootName    string
	Encoding    string
	ErrorPolicy ErrorPolicy
	SizeSource  SizeSource
	Logger      *zap.Logger
}

// Provider is the lifion: file system provider. It is safe for concurrent use.
type Provider struct {
	dir      Directory
	docs     Documents
	resolver vpath.Resolver
	scheme   string
	rootName string
	encoder  *textenc.Encoder
	policy   ErrorPolicy
	sizes    SizeSource
	caps     Capability
	log      *zap.Logger

	capabilitiesChanged *Emitter[struct{}]
	fileChanged         *Emitter[[]FileChange]
	watchError          *Emitter[struct{}]
	toDispose           DisposableCollection
}

// New creates a provider that resolves names through dir and fetches content
// through docs.
func New(dir Directory, docs Documents, cfg Config) (*Provider, error) {
	if dir == nil || docs == nil {
		return nil, errors.New("provider: directory and documents are required")
	}
	if cfg.Scheme == "" {
		cfg.Scheme = vpath.DefaultScheme
	}
	if cfg.RootName == "" {
		cfg.RootName = DefaultRootName
	}
	if cfg.ErrorPolicy == "" {
		cfg.ErrorPolicy = PolicyDegrade
	}
	if cfg.SizeSource == "" {
		cfg.SizeSource = SizeFromScript
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Named("provider")
	}
	enc, err := textenc.Lookup(cfg.Encoding)
	if err != nil {
		return nil, fmt.Errorf("provider: %w", err)
	}

	p := &Provider{
		dir:                 dir,
		docs:                docs,
		resolver:            vpath.NewResolver(cfg.Scheme),
		scheme:              cfg.Scheme,
		rootName:            cfg.RootName,
		encoder:             enc,
		policy:              cfg.ErrorPolicy,
		sizes:               cfg.SizeSource,
		caps:                DefaultCapabilities,
		log:                 cfg.Logger.With(zap.String("scheme", cfg.Scheme)),
		capabilitiesChanged: NewEmitter[struct{}](1),
		fileChanged:         NewEmitter[[]FileChange](16),
		watchError:          NewEmitter[struct{}](1),
	}
	p.toDispose.Push(p.fileChanged)
	p.toDispose.Push(p.capabilitiesChanged)
	p.toDispose.Push(p.watchError)
	return p, nil
}

// Scheme returns the URI scheme served by the provider.
func (p *Provider) Scheme() string {
	return p.scheme
}

// RootName returns the terminal segment that denotes the directory.
func (p *Provider) RootName() string {
	return p.rootName
}

// Encoding returns the charset ReadFile produces.
func (p *Provider) Encoding() string {
	return p.encoder.Name()
}

// Capabilities returns the advertised capability set.
func (p *Provider) Capabilities() Capability {
	return p.caps
}

func (p *Provider) String() string {
	return Name
}

// isDirectoryName is the only place deciding whether a terminal segment is
// the directory.
func (p *Provider) isDirectoryName(name string) bool {
	return name == "" || name == p.rootName
}

// IsDirectory reports whether uri denotes the directory.
func (p *Provider) IsDirectory(uri vpath.URI) bool {
	return p.isDirectoryName(p.name(uri))
}

// DisplayName returns the document name uri selects, resolved the same way
// ReadFile and Stat resolve it. Empty selects no document.
func (p *Provider) DisplayName(uri vpath.URI) string {
	return p.resolver.Name(uri.String())
}

func (p *Provider) name(uri vpath.URI) string {
	return p.DisplayName(uri)
}

// resolve maps the terminal segment of uri to a document identifier.
func (p *Provider) resolve(op string, uri vpath.URI) (string, string, error) {
	name := p.name(uri)
	id, ok := p.dir.ResolveID(name)
	if !ok {
		metrics.RecordResolutionMiss()
		p.log.Info("name not listed", zap.String("op", op), zap.String("name", name))
		return "", name, missError(op, uri.String(), name)
	}
	return id, name, nil
}

// Stat describes uri. The directory always reports DirectorySize. A file
// must have been listed; its size comes from the configured source.
func (p *Provider) Stat(ctx context.Context, uri vpath.URI) (st *models.Stat, err error) {
	defer func() { metrics.RecordProviderOp("stat", err == nil) }()

	if p.IsDirectory(uri) {
		return &models.Stat{Type: models.FileTypeDirectory, CTime: CTime, MTime: MTime, Size: DirectorySize}, nil
	}

	id, name, err := p.resolve("stat", uri)
	if err != nil {
		return nil, err
	}

	size, err := p.size(ctx, id)
	if err != nil {
		if p.policy == PolicyPropagate {
			return nil, unavailableError("stat", uri.String(), err)
		}
		p.log.Warn("size unavailable, reporting 0",
			zap.String("name", name),
			zap.String("id", id),
			zap.Error(err),
		)
		size = 0
	}
	return &models.Stat{Type: models.FileTypeFile, CTime: CTime, MTime: MTime, Size: size}, nil
}

func (p *Provider) size(ctx context.Context, id string) (int64, error) {
	if p.sizes == SizeFromEndpoint {
		return p.docs.DocumentSize(ctx, id)
	}
	b, err := p.content(ctx, id)
	if err != nil {
		return 0, err
	}
	return int64(len(b)), nil
}

// ReadDir lists the directory. Every entry is a file. The uri is not
// inspected beyond logging.
func (p *Provider) ReadDir(ctx context.Context, uri vpath.URI) (entries []models.DirEntry, err error) {
	defer func() { metrics.RecordProviderOp("readdir", err == nil) }()

	names, listErr := p.dir.ListNames(ctx)
	entries = make([]models.DirEntry, 0, len(names))
	for _, n := range names {
		entries = append(entries, models.DirEntry{Name: n, Type: models.FileTypeFile})
	}
	if listErr != nil {
		if p.policy == PolicyPropagate {
			return entries, unavailableError("readdir", uri.String(), listErr)
		}
		p.log.Warn("listing failed, returning partial result",
			zap.String("uri", uri.String()),
			zap.Int("entries", len(entries)),
			zap.Error(listErr),
		)
	}
	p.log.Debug("readdir", zap.String("uri", uri.String()), zap.Int("entries", len(entries)))
	return entries, nil
}

// ReadFile returns the document named by uri encoded in the configured
// charset. Fetch failures are always returned.
func (p *Provider) ReadFile(ctx context.Context, uri vpath.URI) (b []byte, err error) {
	defer func() { metrics.RecordProviderOp("readfile", err == nil) }()

	if p.IsDirectory(uri) {
		return nil, &Error{Op: "readfile", URI: uri.String(), Kind: KindInvalid, Err: fmt.Errorf("is a directory: %w", ErrInvalid)}
	}
	id, _, err := p.resolve("readfile", uri)
	if err != nil {
		return nil, err
	}
	b, err = p.content(ctx, id)
	if err != nil {
		return nil, unavailableError("readfile", uri.String(), err)
	}
	metrics.RecordDocumentRead(len(b))
	return b, nil
}

func (p *Provider) content(ctx context.Context, id string) ([]byte, error) {
	script, err := p.docs.DocumentScript(ctx, id)
	if err != nil {
		return nil, err
	}
	return p.encoder.Encode(script)
}

// WriteFile accepts content without persisting it. The cache is untouched.
func (p *Provider) WriteFile(ctx context.Context, uri vpath.URI, content []byte, opts WriteOptions) error {
	p.log.Debug("write discarded", zap.String("uri", uri.String()), zap.Int("bytes", len(content)))
	metrics.RecordProviderOp("writefile", true)
	return nil
}

// Open returns a fixed descriptor. No resource is opened.
func (p *Provider) Open(ctx context.Context, uri vpath.URI, opts OpenOptions) (int, error) {
	p.log.Debug("open", zap.String("uri", uri.String()))
	return fixedDescriptor, nil
}

// Close is a no-op.
func (p *Provider) Close(fd int) error {
	return nil
}

// Read reports a fixed placeholder count, capped at length. data is not
// touched.
func (p *Provider) Read(fd int, pos int64, data []byte, offset, length int) (int, error) {
	return placeholder(length), nil
}

// Write reports a fixed placeholder count, capped at length. Nothing is
// written.
func (p *Provider) Write(fd int, pos int64, data []byte, offset, length int) (int, error) {
	return placeholder(length), nil
}

func placeholder(length int) int {
	if length < 0 {
		return 0
	}
	return min(placeholderCount, length)
}

// Delete is accepted and ignored.
func (p *Provider) Delete(ctx context.Context, uri vpath.URI, opts DeleteOptions) error {
	p.log.Info("delete ignored", zap.String("uri", uri.String()))
	return nil
}

// Rename is accepted and ignored.
func (p *Provider) Rename(ctx context.Context, from, to vpath.URI, opts OverwriteOptions) error {
	p.log.Info("rename ignored", zap.String("from", from.String()), zap.String("to", to.String()))
	return nil
}

// Mkdir is accepted and ignored.
func (p *Provider) Mkdir(ctx context.Context, uri vpath.URI) error {
	p.log.Debug("mkdir ignored", zap.String("uri", uri.String()))
	return nil
}

// Access always succeeds.
func (p *Provider) Access(ctx context.Context, uri vpath.URI, mode int) error {
	return nil
}

// Copy always fails with ErrUnsupported.
func (p *Provider) Copy(ctx context.Context, from, to vpath.URI, opts OverwriteOptions) error {
	metrics.RecordProviderOp("copy", false)
	return &Error{Op: "copy", URI: from.String(), Kind: KindUnsupported, Err: ErrUnsupported}
}

// Watch registers nothing and returns an inert handle. No change events are
// ever published; hosts must poll.
func (p *Provider) Watch(uri vpath.URI, opts WatchOptions) Disposable {
	p.log.Debug("watch", zap.String("uri", uri.String()))
	return NopDisposable
}

// FSPath returns the display name of uri.
func (p *Provider) FSPath(uri vpath.URI) string {
	if name := p.name(uri); name != "" {
		return name
	}
	if uri.Path == "/" {
		return uri.Path
	}
	return ""
}

// OnDidChangeCapabilities subscribes to capability changes.
func (p *Provider) OnDidChangeCapabilities() (<-chan struct{}, Disposable) {
	return p.capabilitiesChanged.Subscribe()
}

// OnDidChangeFile subscribes to file changes.
func (p *Provider) OnDidChangeFile() (<-chan []FileChange, Disposable) {
	return p.fileChanged.Subscribe()
}

// OnFileWatchError subscribes to watch errors.
func (p *Provider) OnFileWatchError() (<-chan struct{}, Disposable) {
	return p.watchError.Subscribe()
}

// Dispose closes the notification channels. The directory cache is not
// cleared and operations keep working.
func (p *Provider) Dispose() error {
	p.log.Debug("dispose")
	return p.toDispose.Dispose()
}
