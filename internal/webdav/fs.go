// Package webdav serves a lifion: provider over WebDAV.
package webdav

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/webdav"

	"github.com/fruitsalade/lifionfs/internal/logging"
	"github.com/fruitsalade/lifionfs/pkg/models"
	"github.com/fruitsalade/lifionfs/pkg/provider"
	"github.com/fruitsalade/lifionfs/pkg/vpath"
)

// LifionFS implements webdav.FileSystem on top of a provider. The WebDAV root
// is the provider's directory; every other path addresses a document by its
// last segment.
type LifionFS struct {
	prov *provider.Provider
	root vpath.URI
	log  *zap.Logger
}

var _ webdav.FileSystem = (*LifionFS)(nil)

// NewFS creates a WebDAV filesystem whose root maps to root.
func NewFS(prov *provider.Provider, root vpath.URI) *LifionFS {
	return &LifionFS{prov: prov, root: root, log: logging.Named("webdav")}
}

func normalizePath(name string) string {
	return path.Clean("/" + name)
}

func (fs *LifionFS) uri(name string) vpath.URI {
	if name == "/" {
		return fs.root
	}
	return fs.root.Join(strings.TrimPrefix(name, "/"))
}

// stat asks the provider, listing the directory once when the name has not
// been seen yet.
func (fs *LifionFS) stat(ctx context.Context, name string) (*models.Stat, error) {
	uri := fs.uri(name)
	st, err := fs.prov.Stat(ctx, uri)
	if errors.Is(err, provider.ErrResolutionMiss) {
		if _, lerr := fs.prov.ReadDir(ctx, fs.root); lerr != nil {
			return nil, lerr
		}
		st, err = fs.prov.Stat(ctx, uri)
	}
	return st, err
}

// Mkdir is passed to the provider, which ignores it.
func (fs *LifionFS) Mkdir(ctx context.Context, name string, perm os.FileMode) error {
	name = normalizePath(name)
	if name == "/" {
		return nil
	}
	return pathError("mkdir", name, fs.prov.Mkdir(ctx, fs.uri(name)))
}

// OpenFile opens a document or the directory. Writable opens buffer their
// content and hand it to WriteFile on close.
func (fs *LifionFS) OpenFile(ctx context.Context, name string, flag int, perm os.FileMode) (webdav.File, error) {
	name = normalizePath(name)
	uri := fs.uri(name)

	writable := flag&(os.O_WRONLY|os.O_RDWR|os.O_CREATE|os.O_TRUNC) != 0
	if writable {
		if fs.prov.IsDirectory(uri) {
			return nil, pathError("open", name, &provider.Error{Op: "open", URI: uri.String(), Kind: provider.KindInvalid, Err: provider.ErrInvalid})
		}
		if _, err := fs.prov.Open(ctx, uri, provider.OpenOptions{Create: flag&os.O_CREATE != 0}); err != nil {
			return nil, pathError("open", name, err)
		}
		return &File{
			fs:       fs,
			name:     name,
			uri:      uri,
			ctx:      ctx,
			writable: true,
			buf:      &bytes.Buffer{},
		}, nil
	}

	st, err := fs.stat(ctx, name)
	if err != nil {
		return nil, pathError("open", name, err)
	}
	f := &File{fs: fs, name: name, uri: uri, ctx: ctx, stat: st}
	if st.IsDir() {
		return f, nil
	}

	data, err := fs.prov.ReadFile(ctx, uri)
	if err != nil {
		return nil, pathError("open", name, err)
	}
	f.reader = bytes.NewReader(data)
	return f, nil
}

// RemoveAll is passed to the provider, which ignores it.
func (fs *LifionFS) RemoveAll(ctx context.Context, name string) error {
	name = normalizePath(name)
	if name == "/" {
		return fmt.Errorf("cannot remove root")
	}
	return pathError("remove", name, fs.prov.Delete(ctx, fs.uri(name), provider.DeleteOptions{Recursive: true}))
}

// Rename is passed to the provider, which ignores it.
func (fs *LifionFS) Rename(ctx context.Context, oldName, newName string) error {
	oldName = normalizePath(oldName)
	newName = normalizePath(newName)
	err := fs.prov.Rename(ctx, fs.uri(oldName), fs.uri(newName), provider.OverwriteOptions{Overwrite: true})
	return pathError("rename", oldName, err)
}

// Stat returns file info for a path.
func (fs *LifionFS) Stat(ctx context.Context, name string) (os.FileInfo, error) {
	name = normalizePath(name)
	st, err := fs.stat(ctx, name)
	if err != nil {
		return nil, pathError("stat", name, err)
	}
	return newFileInfo(path.Base(name), st), nil
}

// pathError maps provider errors to the os errors the WebDAV handler turns
// into status codes.
func pathError(op, name string, err error) error {
	if err == nil {
		return nil
	}
	switch provider.KindOf(err) {
	case provider.KindResolutionMiss:
		return &os.PathError{Op: op, Path: name, Err: os.ErrNotExist}
	case provider.KindInvalid:
		return &os.PathError{Op: op, Path: name, Err: os.ErrInvalid}
	case provider.KindUnsupported:
		return &os.PathError{Op: op, Path: name, Err: errors.ErrUnsupported}
	}
	return &os.PathError{Op: op, Path: name, Err: err}
}

// File implements webdav.File.
type File struct {
	fs       *LifionFS
	name     string
	uri      vpath.URI
	ctx      context.Context
	stat     *models.Stat
	writable bool
	buf      *bytes.Buffer
	reader   *bytes.Reader

	// Directory cursor: the listing taken by the first Readdir and the
	// number of entries already returned.
	dirInfos []os.FileInfo
	dirPos   int
}

var _ webdav.File = (*File)(nil)

// Close hands buffered content to the provider.
func (f *File) Close() error {
	if !f.writable {
		return nil
	}
	content := f.buf.Bytes()
	if err := f.fs.prov.WriteFile(f.ctx, f.uri, content, provider.WriteOptions{Create: true, Overwrite: true}); err != nil {
		return pathError("write", f.name, err)
	}
	f.fs.log.Debug("webdav file written",
		zap.String("path", f.name),
		zap.Int("size", len(content)))
	return nil
}

func (f *File) Read(p []byte) (int, error) {
	if f.writable {
		return 0, fmt.Errorf("file opened for writing")
	}
	if f.reader == nil {
		return 0, io.EOF
	}
	return f.reader.Read(p)
}

func (f *File) Write(p []byte) (int, error) {
	if !f.writable {
		return 0, fmt.Errorf("file not opened for writing")
	}
	return f.buf.Write(p)
}

func (f *File) Seek(offset int64, whence int) (int64, error) {
	if f.reader == nil {
		if offset == 0 {
			if whence == io.SeekStart {
				f.dirInfos, f.dirPos = nil, 0
			}
			return 0, nil
		}
		return 0, fmt.Errorf("seek on %s: not a readable file", f.name)
	}
	return f.reader.Seek(offset, whence)
}

// Readdir lists the directory, statting every document. Entries that cannot
// be statted are skipped. It follows os.File.Readdir: with count > 0 it
// returns the next count entries and io.EOF once the listing is exhausted,
// otherwise every remaining entry and a nil error.
func (f *File) Readdir(count int) ([]os.FileInfo, error) {
	if f.stat == nil || !f.stat.IsDir() {
		return nil, fmt.Errorf("not a directory")
	}

	if f.dirInfos == nil {
		infos, err := f.list()
		if err != nil {
			return nil, err
		}
		f.dirInfos, f.dirPos = infos, 0
	}

	rest := f.dirInfos[f.dirPos:]
	if count <= 0 {
		f.dirPos = len(f.dirInfos)
		return rest, nil
	}
	if len(rest) == 0 {
		return nil, io.EOF
	}
	if len(rest) > count {
		rest = rest[:count]
	}
	f.dirPos += len(rest)
	return rest, nil
}

func (f *File) list() ([]os.FileInfo, error) {
	entries, err := f.fs.prov.ReadDir(f.ctx, f.uri)
	if err != nil {
		return nil, pathError("readdir", f.name, err)
	}

	seen := make(map[string]struct{}, len(entries))
	infos := make([]os.FileInfo, 0, len(entries))
	for _, e := range entries {
		if e.Name == "" || strings.Contains(e.Name, "/") {
			continue
		}
		if _, dup := seen[e.Name]; dup {
			continue
		}
		seen[e.Name] = struct{}{}

		st, err := f.fs.prov.Stat(f.ctx, f.fs.root.Join(e.Name))
		if err != nil {
			f.fs.log.Warn("stat failed", zap.String("name", e.Name), zap.Error(err))
			continue
		}
		infos = append(infos, newFileInfo(e.Name, st))
	}
	return infos, nil
}

func (f *File) Stat() (os.FileInfo, error) {
	if f.stat != nil {
		return newFileInfo(path.Base(f.name), f.stat), nil
	}
	if f.writable {
		return &fileInfo{
			name:    path.Base(f.name),
			size:    int64(f.buf.Len()),
			modTime: time.UnixMilli(provider.MTime),
		}, nil
	}
	return nil, os.ErrNotExist
}

// fileInfo implements os.FileInfo.
type fileInfo struct {
	name    string
	size    int64
	isDir   bool
	modTime time.Time
}

func newFileInfo(name string, st *models.Stat) *fileInfo {
	return &fileInfo{
		name:    name,
		size:    st.Size,
		isDir:   st.IsDir(),
		modTime: time.UnixMilli(st.MTime),
	}
}

func (fi *fileInfo) Name() string       { return fi.name }
func (fi *fileInfo) Size() int64        { return fi.size }
func (fi *fileInfo) IsDir() bool        { return fi.isDir }
func (fi *fileInfo) ModTime() time.Time { return fi.modTime }
func (fi *fileInfo) Sys() interface{}   { return nil }

func (fi *fileInfo) Mode() os.FileMode {
	if fi.isDir {
		return os.ModeDir | 0755
	}
	return 0644
}
