// Package fuse mounts a lifion: provider as a FUSE filesystem.
package fuse

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	gofuse "github.com/hanwen/go-fuse/v2/fuse"
	"go.uber.org/zap"

	"github.com/fruitsalade/lifionfs/internal/logging"
	"github.com/fruitsalade/lifionfs/pkg/models"
	"github.com/fruitsalade/lifionfs/pkg/provider"
	"github.com/fruitsalade/lifionfs/pkg/vpath"
)

// Extended attributes exposed on files.
const (
	XattrID  = "user.lifion.id"
	XattrURI = "user.lifion.uri"
)

// Resolver maps display names to identifiers for xattrs.
type Resolver interface {
	ResolveID(name string) (string, bool)
}

// LifionFS adapts a provider to go-fuse.
type LifionFS struct {
	prov     *provider.Provider
	resolver Resolver
	root     vpath.URI
	uid, gid uint32
	log      *zap.Logger
}

// New creates a filesystem rooted at root. resolver may be nil, in which
// case user.lifion.id is not available.
func New(prov *provider.Provider, resolver Resolver, root vpath.URI) *LifionFS {
	return &LifionFS{
		prov:     prov,
		resolver: resolver,
		root:     root,
		uid:      uint32(os.Getuid()),
		gid:      uint32(os.Getgid()),
		log:      logging.Named("fuse"),
	}
}

// Root returns the directory node.
func (f *LifionFS) Root() *Node {
	return &Node{fsys: f, uri: f.root, dir: true}
}

// Mount mounts the filesystem at the given path.
func (f *LifionFS) Mount(mountPoint string) (*gofuse.Server, error) {
	if err := os.MkdirAll(mountPoint, 0755); err != nil {
		return nil, fmt.Errorf("create mount point: %w", err)
	}

	opts := &fs.Options{
		MountOptions: gofuse.MountOptions{
			FsName: "lifionfs",
			Name:   "lifionfs",
		},
		UID: f.uid,
		GID: f.gid,
	}

	server, err := fs.Mount(mountPoint, f.Root(), opts)
	if err != nil {
		return nil, fmt.Errorf("mount: %w", err)
	}
	f.log.Info("mounted", zap.String("mount_point", mountPoint), zap.String("root", f.root.String()))
	return server, nil
}

// Node is the directory or one document.
type Node struct {
	fs.Inode

	fsys *LifionFS
	uri  vpath.URI
	dir  bool
}

var _ fs.InodeEmbedder = (*Node)(nil)
var _ fs.NodeGetattrer = (*Node)(nil)
var _ fs.NodeLookuper = (*Node)(nil)
var _ fs.NodeReaddirer = (*Node)(nil)
var _ fs.NodeOpener = (*Node)(nil)
var _ fs.NodeReader = (*Node)(nil)
var _ fs.NodeSetattrer = (*Node)(nil)
var _ fs.NodeGetxattrer = (*Node)(nil)
var _ fs.NodeListxattrer = (*Node)(nil)
var _ fs.NodeUnlinker = (*Node)(nil)
var _ fs.NodeRenamer = (*Node)(nil)

// Getattr returns attributes from the provider's Stat.
func (n *Node) Getattr(ctx context.Context, fh fs.FileHandle, out *gofuse.AttrOut) syscall.Errno {
	st, err := n.fsys.prov.Stat(ctx, n.uri)
	if err != nil {
		return errnoFor(err)
	}
	n.fsys.fillAttr(&out.Attr, st)
	return 0
}

// Lookup finds a document by name. A name the cache has not seen yet causes
// one listing before giving up.
func (n *Node) Lookup(ctx context.Context, name string, out *gofuse.EntryOut) (*fs.Inode, syscall.Errno) {
	if !n.dir {
		return nil, syscall.ENOTDIR
	}
	uri := n.uri.Join(name)
	st, err := n.fsys.prov.Stat(ctx, uri)
	if errors.Is(err, provider.ErrResolutionMiss) {
		if _, lerr := n.fsys.prov.ReadDir(ctx, n.uri); lerr != nil {
			return nil, errnoFor(lerr)
		}
		st, err = n.fsys.prov.Stat(ctx, uri)
	}
	if err != nil {
		return nil, errnoFor(err)
	}

	n.fsys.fillAttr(&out.Attr, st)
	child := &Node{fsys: n.fsys, uri: uri, dir: st.IsDir()}
	return n.NewInode(ctx, child, fs.StableAttr{Mode: out.Mode}), 0
}

// Readdir lists the documents. Duplicate names are reported once.
func (n *Node) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	if !n.dir {
		return nil, syscall.ENOTDIR
	}
	list, err := n.fsys.prov.ReadDir(ctx, n.uri)
	if err != nil {
		return nil, errnoFor(err)
	}
	return fs.NewListDirStream(dirEntries(list)), 0
}

func dirEntries(list []models.DirEntry) []gofuse.DirEntry {
	seen := make(map[string]struct{}, len(list))
	entries := make([]gofuse.DirEntry, 0, len(list))
	for _, e := range list {
		if e.Name == "" || e.Name == "." || e.Name == ".." {
			continue
		}
		if _, dup := seen[e.Name]; dup {
			continue
		}
		seen[e.Name] = struct{}{}
		mode := uint32(syscall.S_IFREG)
		if e.Type == models.FileTypeDirectory {
			mode = syscall.S_IFDIR
		}
		entries = append(entries, gofuse.DirEntry{Name: e.Name, Mode: mode})
	}
	return entries
}

// Open reads the whole document for read-only opens. Writable opens get a
// buffer that is handed to WriteFile on flush.
func (n *Node) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	if n.dir {
		return nil, 0, syscall.EISDIR
	}
	if _, err := n.fsys.prov.Open(ctx, n.uri, provider.OpenOptions{Create: flags&syscall.O_CREAT != 0}); err != nil {
		return nil, 0, errnoFor(err)
	}

	if flags&(syscall.O_WRONLY|syscall.O_RDWR) != 0 {
		return &FileHandle{node: n, writable: true}, gofuse.FOPEN_DIRECT_IO, 0
	}

	data, err := n.fsys.prov.ReadFile(ctx, n.uri)
	if err != nil {
		n.fsys.log.Warn("read failed", zap.String("uri", n.uri.String()), zap.Error(err))
		return nil, 0, errnoFor(err)
	}
	return &FileHandle{node: n, data: data}, gofuse.FOPEN_KEEP_CACHE, 0
}

// Read serves bytes from the handle.
func (n *Node) Read(ctx context.Context, fh fs.FileHandle, dest []byte, off int64) (gofuse.ReadResult, syscall.Errno) {
	handle, ok := fh.(*FileHandle)
	if !ok {
		return nil, syscall.EIO
	}
	return handle.readAt(dest, off), 0
}

// Setattr accepts truncation and mode changes without effect.
func (n *Node) Setattr(ctx context.Context, fh fs.FileHandle, in *gofuse.SetAttrIn, out *gofuse.AttrOut) syscall.Errno {
	return n.Getattr(ctx, fh, out)
}

// Getxattr returns extended attribute value.
func (n *Node) Getxattr(ctx context.Context, attr string, dest []byte) (uint32, syscall.Errno) {
	value, ok := n.xattr(attr)
	if !ok {
		return 0, syscall.ENODATA
	}
	if len(dest) == 0 {
		return uint32(len(value)), 0
	}
	if len(dest) < len(value) {
		return 0, syscall.ERANGE
	}
	copy(dest, value)
	return uint32(len(value)), 0
}

func (n *Node) xattr(attr string) (string, bool) {
	switch attr {
	case XattrURI:
		return n.uri.String(), true
	case XattrID:
		if n.dir || n.fsys.resolver == nil {
			return "", false
		}
		return n.fsys.resolver.ResolveID(n.fsys.prov.DisplayName(n.uri))
	}
	return "", false
}

// Listxattr lists extended attributes.
func (n *Node) Listxattr(ctx context.Context, dest []byte) (uint32, syscall.Errno) {
	attrs := []string{XattrURI}
	if !n.dir && n.fsys.resolver != nil {
		attrs = append(attrs, XattrID)
	}

	var total int
	for _, attr := range attrs {
		total += len(attr) + 1
	}
	if len(dest) == 0 {
		return uint32(total), 0
	}
	if len(dest) < total {
		return 0, syscall.ERANGE
	}

	offset := 0
	for _, attr := range attrs {
		copy(dest[offset:], attr)
		offset += len(attr)
		dest[offset] = 0
		offset++
	}
	return uint32(total), 0
}

// Unlink is passed to the provider, which ignores it.
func (n *Node) Unlink(ctx context.Context, name string) syscall.Errno {
	if err := n.fsys.prov.Delete(ctx, n.uri.Join(name), provider.DeleteOptions{}); err != nil {
		return errnoFor(err)
	}
	return 0
}

// Rename is passed to the provider, which ignores it.
func (n *Node) Rename(ctx context.Context, name string, newParent fs.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	target, ok := newParent.(*Node)
	if !ok {
		return syscall.EXDEV
	}
	err := n.fsys.prov.Rename(ctx, n.uri.Join(name), target.uri.Join(newName), provider.OverwriteOptions{Overwrite: true})
	if err != nil {
		return errnoFor(err)
	}
	return 0
}

// FileHandle holds the bytes of an open document.
type FileHandle struct {
	node     *Node
	writable bool

	mu    sync.Mutex
	data  []byte
	dirty bool
}

var _ fs.FileWriter = (*FileHandle)(nil)
var _ fs.FileFlusher = (*FileHandle)(nil)

func (fh *FileHandle) readAt(dest []byte, off int64) gofuse.ReadResult {
	fh.mu.Lock()
	defer fh.mu.Unlock()
	if off >= int64(len(fh.data)) {
		return gofuse.ReadResultData(nil)
	}
	end := off + int64(len(dest))
	if end > int64(len(fh.data)) {
		end = int64(len(fh.data))
	}
	return gofuse.ReadResultData(fh.data[off:end])
}

// Write buffers data.
func (fh *FileHandle) Write(ctx context.Context, data []byte, off int64) (uint32, syscall.Errno) {
	fh.mu.Lock()
	defer fh.mu.Unlock()
	if !fh.writable {
		return 0, syscall.EBADF
	}
	end := off + int64(len(data))
	if end > int64(len(fh.data)) {
		grown := make([]byte, end)
		copy(grown, fh.data)
		fh.data = grown
	}
	copy(fh.data[off:], data)
	fh.dirty = true
	return uint32(len(data)), 0
}

// Flush hands buffered content to WriteFile.
func (fh *FileHandle) Flush(ctx context.Context) syscall.Errno {
	fh.mu.Lock()
	defer fh.mu.Unlock()
	if !fh.dirty {
		return 0
	}
	err := fh.node.fsys.prov.WriteFile(ctx, fh.node.uri, fh.data, provider.WriteOptions{Create: true, Overwrite: true})
	if err != nil {
		return errnoFor(err)
	}
	fh.dirty = false
	return 0
}

func (f *LifionFS) fillAttr(out *gofuse.Attr, st *models.Stat) {
	if st.IsDir() {
		out.Mode = 0755 | syscall.S_IFDIR
	} else {
		out.Mode = 0644 | syscall.S_IFREG
	}
	out.Size = uint64(st.Size)
	out.Mtime = uint64(st.MTime / 1000)
	out.Mtimensec = uint32(st.MTime%1000) * 1e6
	out.Ctime = uint64(st.CTime / 1000)
	out.Ctimensec = uint32(st.CTime%1000) * 1e6
	out.Atime = out.Mtime
	out.Atimensec = out.Mtimensec
	out.Uid = f.uid
	out.Gid = f.gid
}

// errnoFor maps provider errors to errno values.
func errnoFor(err error) syscall.Errno {
	if errors.Is(err, context.Canceled) {
		return syscall.EINTR
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return syscall.ETIMEDOUT
	}
	switch provider.KindOf(err) {
	case provider.KindResolutionMiss:
		return syscall.ENOENT
	case provider.KindUnsupported:
		return syscall.ENOTSUP
	case provider.KindInvalid:
		return syscall.EISDIR
	default:
		return syscall.EIO
	}
}
