package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"

	"github.com/fruitsalade/lifionfs/pkg/client"
	"github.com/fruitsalade/lifionfs/pkg/dircache"
	"github.com/fruitsalade/lifionfs/pkg/models"
	"github.com/fruitsalade/lifionfs/pkg/retry"
	"github.com/fruitsalade/lifionfs/pkg/vpath"
)

type doc struct {
	id, name, script string
}

// fakeStore serves the remote document API from a fixed slice.
type fakeStore struct {
	docs         []doc
	listStatus   atomic.Int32
	scriptStatus atomic.Int32
	scriptCalls  int32
}

func (s *fakeStore) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.URL.Path == "/documents":
		if code := s.listStatus.Load(); code != 0 {
			w.WriteHeader(int(code))
			return
		}
		ids := make([][2]string, 0, len(s.docs))
		for _, d := range s.docs {
			ids = append(ids, [2]string{d.id, d.name})
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"ids": ids})
	case strings.HasPrefix(r.URL.Path, "/document_script/"):
		atomic.AddInt32(&s.scriptCalls, 1)
		if code := s.scriptStatus.Load(); code != 0 {
			w.WriteHeader(int(code))
			return
		}
		d, ok := s.find(strings.TrimPrefix(r.URL.Path, "/document_script/"))
		if !ok {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"script": d.script})
	case strings.HasPrefix(r.URL.Path, "/document_size/"):
		d, ok := s.find(strings.TrimPrefix(r.URL.Path, "/document_size/"))
		if !ok {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(map[string]int{"size": 1000 + len(d.script)})
	default:
		http.NotFound(w, r)
	}
}

func (s *fakeStore) find(id string) (doc, bool) {
	for _, d := range s.docs {
		if d.id == id {
			return d, true
		}
	}
	return doc{}, false
}

func newTestProvider(t *testing.T, s *fakeStore, cfg Config) (*Provider, *dircache.Cache) {
	t.Helper()
	return newTestProviderWithCache(t, s, cfg, dircache.Config{})
}

func newTestProviderWithCache(t *testing.T, s *fakeStore, cfg Config, cacheCfg dircache.Config) (*Provider, *dircache.Cache) {
	t.Helper()
	ts := httptest.NewServer(s)
	t.Cleanup(ts.Close)

	c := client.New(client.Config{
		BaseURL:     ts.URL,
		RetryConfig: retry.NoRetry(),
		Logger:      zap.NewNop(),
	})
	cacheCfg.Logger = zap.NewNop()
	cache, err := dircache.New(c, cacheCfg)
	if err != nil {
		t.Fatalf("dircache.New: %v", err)
	}
	cfg.Logger = zap.NewNop()
	p, err := New(cache, c, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p, cache
}

func twoDocs() *fakeStore {
	return &fakeStore{docs: []doc{
		{"d1", "alpha.txt", "print('alpha')"},
		{"d2", "beta.txt", "café"},
	}}
}

var (
	rootURI     = vpath.MustParseURI("lifion:/test/a/test/")
	rootNameURI = vpath.MustParseURI("lifion:/test")
)

func TestReadDirListsDocumentsAsFiles(t *testing.T) {
	p, cache := newTestProvider(t, twoDocs(), Config{})

	entries, err := p.ReadDir(context.Background(), rootURI)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	want := []models.DirEntry{
		{Name: "alpha.txt", Type: models.FileTypeFile},
		{Name: "beta.txt", Type: models.FileTypeFile},
	}
	if len(entries) != len(want) {
		t.Fatalf("got %v, want %v", entries, want)
	}
	for i := range want {
		if entries[i] != want[i] {
			t.Errorf("entry %d = %v, want %v", i, entries[i], want[i])
		}
	}
	if id, ok := cache.ResolveID("alpha.txt"); !ok || id != "d1" {
		t.Errorf("cache resolves alpha.txt to %q, %v", id, ok)
	}
}

func TestReadDirDegradesOnServerError(t *testing.T) {
	s := twoDocs()
	s.listStatus.Store(http.StatusInternalServerError)
	p, _ := newTestProvider(t, s, Config{})

	entries, err := p.ReadDir(context.Background(), rootURI)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected empty listing, got %v", entries)
	}
}

func TestReadDirPropagatePolicy(t *testing.T) {
	s := twoDocs()
	s.listStatus.Store(http.StatusInternalServerError)
	p, _ := newTestProvider(t, s, Config{ErrorPolicy: PolicyPropagate})

	_, err := p.ReadDir(context.Background(), rootURI)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	se, ok := client.AsStatus(err)
	if !ok || se.StatusCode != http.StatusInternalServerError {
		t.Errorf("cause not preserved: %v", err)
	}
}

func TestStatDirectoryIgnoresRemote(t *testing.T) {
	s := twoDocs()
	s.listStatus.Store(http.StatusInternalServerError)
	s.scriptStatus.Store(http.StatusInternalServerError)
	p, _ := newTestProvider(t, s, Config{})

	for _, uri := range []vpath.URI{rootURI, rootNameURI, vpath.MustParseURI("lifion:/elsewhere/test")} {
		st, err := p.Stat(context.Background(), uri)
		if err != nil {
			t.Fatalf("Stat(%s): %v", uri, err)
		}
		if !st.IsDir() {
			t.Errorf("Stat(%s) type = %v, want directory", uri, st.Type)
		}
		if st.Size != DirectorySize || st.CTime != 0 || st.MTime != 1000000 {
			t.Errorf("Stat(%s) = %+v", uri, st)
		}
	}
	if n := atomic.LoadInt32(&s.scriptCalls); n != 0 {
		t.Errorf("directory stat fetched %d scripts", n)
	}
}

func TestStatFileSizeFromScript(t *testing.T) {
	tests := []struct {
		encoding string
		want     int64
	}{
		{"", 5},
		{"latin1", 4},
		{"utf-16le", 8},
	}
	for _, tt := range tests {
		t.Run(tt.encoding, func(t *testing.T) {
			p, _ := newTestProvider(t, twoDocs(), Config{Encoding: tt.encoding})
			p.ReadDir(context.Background(), rootURI)

			st, err := p.Stat(context.Background(), rootURI.Join("beta.txt"))
			if err != nil {
				t.Fatalf("Stat: %v", err)
			}
			if st.Type != models.FileTypeFile {
				t.Errorf("type = %v", st.Type)
			}
			if st.Size != tt.want {
				t.Errorf("size = %d, want %d", st.Size, tt.want)
			}
		})
	}
}

func TestStatFileSizeFromEndpoint(t *testing.T) {
	p, _ := newTestProvider(t, twoDocs(), Config{SizeSource: SizeFromEndpoint})
	p.ReadDir(context.Background(), rootURI)

	st, err := p.Stat(context.Background(), rootURI.Join("beta.txt"))
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if st.Size != 1000+int64(len("café")) {
		t.Errorf("size = %d", st.Size)
	}
}

func TestStatFetchFailure(t *testing.T) {
	s := twoDocs()
	p, _ := newTestProvider(t, s, Config{})
	p.ReadDir(context.Background(), rootURI)
	s.scriptStatus.Store(http.StatusBadGateway)

	st, err := p.Stat(context.Background(), rootURI.Join("alpha.txt"))
	if err != nil {
		t.Fatalf("degrade policy returned error: %v", err)
	}
	if st.Size != 0 || st.Type != models.FileTypeFile {
		t.Errorf("stat = %+v, want file of size 0", st)
	}

	strict, _ := newTestProvider(t, s, Config{ErrorPolicy: PolicyPropagate})
	s.scriptStatus.Store(0)
	strict.ReadDir(context.Background(), rootURI)
	s.scriptStatus.Store(http.StatusBadGateway)
	if _, err := strict.Stat(context.Background(), rootURI.Join("alpha.txt")); !errors.Is(err, ErrUnavailable) {
		t.Errorf("propagate policy: err = %v, want ErrUnavailable", err)
	}
}

func TestStatUnlistedNameIsMiss(t *testing.T) {
	p, _ := newTestProvider(t, twoDocs(), Config{})
	_, err := p.Stat(context.Background(), rootURI.Join("alpha.txt"))
	if !errors.Is(err, ErrResolutionMiss) {
		t.Errorf("err = %v, want ErrResolutionMiss", err)
	}
}

func TestReadFileRequiresListing(t *testing.T) {
	s := twoDocs()
	p, _ := newTestProvider(t, s, Config{})

	b, err := p.ReadFile(context.Background(), rootURI.Join("alpha.txt"))
	if !errors.Is(err, ErrResolutionMiss) {
		t.Fatalf("err = %v, want ErrResolutionMiss", err)
	}
	if KindOf(err) != KindResolutionMiss {
		t.Errorf("KindOf = %v", KindOf(err))
	}
	if b != nil {
		t.Errorf("expected no bytes, got %q", b)
	}
	if n := atomic.LoadInt32(&s.scriptCalls); n != 0 {
		t.Errorf("a miss fetched %d scripts", n)
	}
}

func TestReadFileRoundTripAndIdempotence(t *testing.T) {
	p, _ := newTestProvider(t, twoDocs(), Config{})
	entries, err := p.ReadDir(context.Background(), rootURI)
	if err != nil {
		t.Fatal(err)
	}

	for _, e := range entries {
		first, err := p.ReadFile(context.Background(), rootURI.Join(e.Name))
		if err != nil {
			t.Fatalf("ReadFile(%s): %v", e.Name, err)
		}
		second, err := p.ReadFile(context.Background(), rootURI.Join(e.Name))
		if err != nil {
			t.Fatalf("ReadFile(%s) again: %v", e.Name, err)
		}
		if !bytes.Equal(first, second) {
			t.Errorf("%s: reads differ: %q vs %q", e.Name, first, second)
		}
	}

	got, _ := p.ReadFile(context.Background(), rootURI.Join("alpha.txt"))
	if string(got) != "print('alpha')" {
		t.Errorf("content = %q", got)
	}
}

func TestReadFileDoubledPath(t *testing.T) {
	p, _ := newTestProvider(t, twoDocs(), Config{})
	p.ReadDir(context.Background(), rootURI)

	uri := vpath.URI{Scheme: "lifion", Path: "/ws/lifion:/test/a/test/beta.txt"}
	got, err := p.ReadFile(context.Background(), uri)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "café" {
		t.Errorf("content = %q", got)
	}
}

func TestReadFileEncoding(t *testing.T) {
	p, _ := newTestProvider(t, twoDocs(), Config{Encoding: "latin1"})
	p.ReadDir(context.Background(), rootURI)

	got, err := p.ReadFile(context.Background(), rootURI.Join("beta.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte{'c', 'a', 'f', 0xe9}) {
		t.Errorf("content = % x", got)
	}
	if p.Encoding() != "windows-1252" {
		t.Errorf("Encoding() = %q", p.Encoding())
	}
}

func TestReadFileFetchFailurePropagates(t *testing.T) {
	s := twoDocs()
	p, _ := newTestProvider(t, s, Config{})
	p.ReadDir(context.Background(), rootURI)
	s.scriptStatus.Store(http.StatusServiceUnavailable)

	if _, err := p.ReadFile(context.Background(), rootURI.Join("alpha.txt")); !errors.Is(err, ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
}

func TestReadFileOnDirectory(t *testing.T) {
	p, _ := newTestProvider(t, twoDocs(), Config{})
	if _, err := p.ReadFile(context.Background(), rootURI); !errors.Is(err, ErrInvalid) {
		t.Errorf("err = %v, want ErrInvalid", err)
	}
}

func TestWriteFileIsNotPersisted(t *testing.T) {
	p, cache := newTestProvider(t, twoDocs(), Config{})
	p.ReadDir(context.Background(), rootURI)
	uri := rootURI.Join("alpha.txt")

	if err := p.WriteFile(context.Background(), uri, []byte("changed"), WriteOptions{Overwrite: true}); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := p.WriteFile(context.Background(), rootURI.Join("new.txt"), []byte("x"), WriteOptions{Create: true}); err != nil {
		t.Fatalf("WriteFile new: %v", err)
	}
	got, _ := p.ReadFile(context.Background(), uri)
	if string(got) != "print('alpha')" {
		t.Errorf("content changed to %q", got)
	}
	if _, ok := cache.ResolveID("new.txt"); ok {
		t.Error("WriteFile touched the cache")
	}
}

func TestNoOpOperations(t *testing.T) {
	p, _ := newTestProvider(t, twoDocs(), Config{})
	ctx := context.Background()
	a, b := rootURI.Join("alpha.txt"), rootURI.Join("gamma.txt")

	if err := p.Delete(ctx, a, DeleteOptions{UseTrash: true}); err != nil {
		t.Errorf("Delete: %v", err)
	}
	if err := p.Rename(ctx, a, b, OverwriteOptions{}); err != nil {
		t.Errorf("Rename: %v", err)
	}
	if err := p.Mkdir(ctx, rootURI.Join("dir")); err != nil {
		t.Errorf("Mkdir: %v", err)
	}
	if err := p.Access(ctx, a, 0); err != nil {
		t.Errorf("Access: %v", err)
	}
}

func TestCopyUnsupported(t *testing.T) {
	p, _ := newTestProvider(t, twoDocs(), Config{})
	err := p.Copy(context.Background(), rootURI.Join("alpha.txt"), rootURI.Join("beta.txt"), OverwriteOptions{Overwrite: true})
	if !errors.Is(err, ErrUnsupported) {
		t.Fatalf("err = %v, want ErrUnsupported", err)
	}
	if !strings.Contains(err.Error(), "method not implemented") {
		t.Errorf("message = %q", err.Error())
	}
}

func TestDescriptorPlaceholders(t *testing.T) {
	p, _ := newTestProvider(t, twoDocs(), Config{})
	fd, err := p.Open(context.Background(), rootURI.Join("alpha.txt"), OpenOptions{})
	if err != nil || fd != 1 {
		t.Fatalf("Open = %d, %v", fd, err)
	}

	buf := make([]byte, 16)
	tests := []struct {
		length int
		want   int
	}{
		{16, 3},
		{2, 2},
		{0, 0},
		{-1, 0},
	}
	for _, tt := range tests {
		if n, _ := p.Read(fd, 0, buf, 0, tt.length); n != tt.want {
			t.Errorf("Read(length=%d) = %d, want %d", tt.length, n, tt.want)
		}
		if n, _ := p.Write(fd, 0, buf, 0, tt.length); n != tt.want {
			t.Errorf("Write(length=%d) = %d, want %d", tt.length, n, tt.want)
		}
	}
	if !bytes.Equal(buf, make([]byte, 16)) {
		t.Error("Read modified the buffer")
	}
	if err := p.Close(fd); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestCapabilities(t *testing.T) {
	p, _ := newTestProvider(t, twoDocs(), Config{})
	caps := p.Capabilities()
	if caps != CapFileReadWrite|CapAccess|CapTrash|CapUpdate {
		t.Errorf("capabilities = %v", caps)
	}
	if caps.Has(CapFileOpenReadWriteClose) || caps.Has(CapFileFolderCopy) || caps.Has(CapReadonly) {
		t.Errorf("stub capabilities advertised: %v", caps)
	}
	if caps.String() != "FileReadWrite|Access|Trash|Update" {
		t.Errorf("String() = %q", caps.String())
	}
}

func TestWatchAndDispose(t *testing.T) {
	p, cache := newTestProvider(t, twoDocs(), Config{})
	p.ReadDir(context.Background(), rootURI)

	h := p.Watch(rootURI, WatchOptions{Recursive: true})
	if err := h.Dispose(); err != nil {
		t.Errorf("watch dispose: %v", err)
	}

	caps, _ := p.OnDidChangeCapabilities()
	files, _ := p.OnDidChangeFile()
	watchErrs, _ := p.OnFileWatchError()

	if err := p.Dispose(); err != nil {
		t.Fatalf("Dispose: %v", err)
	}
	if _, ok := <-caps; ok {
		t.Error("capabilities channel still open")
	}
	if _, ok := <-files; ok {
		t.Error("file change channel still open")
	}
	if _, ok := <-watchErrs; ok {
		t.Error("watch error channel still open")
	}
	if cache.Len() != 2 {
		t.Errorf("dispose cleared the cache: %d entries", cache.Len())
	}
	if err := p.Dispose(); err != nil {
		t.Errorf("second Dispose: %v", err)
	}
}

func TestDescriptiveNames(t *testing.T) {
	p, _ := newTestProvider(t, twoDocs(), Config{})
	if p.String() != "Lifion File System Provider" {
		t.Errorf("String() = %q", p.String())
	}
	if got := p.FSPath(rootURI.Join("alpha.txt")); got != "alpha.txt" {
		t.Errorf("FSPath = %q", got)
	}
	if got := p.FSPath(vpath.MustParseURI("lifion:/")); got != "/" {
		t.Errorf("FSPath(rootURI) = %q", got)
	}
}

func TestListedNamesReadBackBeyondCacheSize(t *testing.T) {
	s := &fakeStore{docs: []doc{
		{"d1", "alpha.txt", "a"},
		{"d2", "beta.txt", "b"},
		{"d3", "gamma.txt", "c"},
	}}
	p, _ := newTestProviderWithCache(t, s, Config{}, dircache.Config{Size: 2})

	entries, err := p.ReadDir(context.Background(), rootURI)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Fatalf("entries = %v", entries)
	}
	for _, e := range entries {
		if _, err := p.ReadFile(context.Background(), rootURI.Join(e.Name)); err != nil {
			t.Errorf("ReadFile(%s): %v", e.Name, err)
		}
	}
}

func TestFSPathMatchesResolvedName(t *testing.T) {
	p, _ := newTestProvider(t, twoDocs(), Config{})
	tests := []struct {
		uri  string
		want string
	}{
		{"lifion:/test/a/test/alpha.txt", "alpha.txt"},
		{"lifion:/ws/lifion:/test/alpha.txt", "alpha.txt"},
		{"lifion:/test/xlifion:alpha.txt", "lifion:alpha.txt"},
	}
	for _, tt := range tests {
		u := vpath.MustParseURI(tt.uri)
		if got := p.DisplayName(u); got != tt.want {
			t.Errorf("DisplayName(%s) = %q, want %q", tt.uri, got, tt.want)
		}
		if got := p.FSPath(u); got != tt.want {
			t.Errorf("FSPath(%s) = %q, want %q", tt.uri, got, tt.want)
		}
	}

	u := vpath.MustParseURI("lifion:/ws/lifion:/test/alpha.txt")
	if _, err := p.ReadDir(context.Background(), rootURI); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Stat(context.Background(), u); err != nil {
		t.Errorf("Stat(%s): %v", u, err)
	}
}

func TestNewRejectsUnknownEncoding(t *testing.T) {
	c := client.New(client.Config{BaseURL: "http://127.0.0.1:1", Logger: zap.NewNop()})
	cache, _ := dircache.New(c, dircache.Config{Logger: zap.NewNop()})
	if _, err := New(cache, c, Config{Encoding: "klingon", Logger: zap.NewNop()}); err == nil {
		t.Error("expected error for unknown encoding")
	}
}
