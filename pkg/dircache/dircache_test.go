package dircache

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/lifionfs/pkg/models"
)

type fakeLister struct {
	mu    sync.Mutex
	refs  []models.DocumentRef
	err   error
	calls int32

	started chan struct{}
	release chan struct{}
	ctxErr  error // ctx.Err() seen once the fetch completes
}

func (f *fakeLister) ListDocuments(ctx context.Context) ([]models.DocumentRef, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.started != nil {
		f.started <- struct{}{}
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ctxErr = ctx.Err()
	return append([]models.DocumentRef(nil), f.refs...), f.err
}

func (f *fakeLister) set(refs []models.DocumentRef, err error) {
	f.mu.Lock()
	f.refs, f.err = refs, err
	f.mu.Unlock()
}

func newTestCache(t *testing.T, l Lister, cfg Config) *Cache {
	t.Helper()
	cfg.Logger = zap.NewNop()
	c, err := New(l, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func refs(pairs ...string) []models.DocumentRef {
	var out []models.DocumentRef
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, models.DocumentRef{ID: pairs[i], Name: pairs[i+1]})
	}
	return out
}

func TestListNamesPopulatesCache(t *testing.T) {
	l := &fakeLister{refs: refs("d1", "alpha.txt", "d2", "beta.txt")}
	c := newTestCache(t, l, Config{})

	if _, ok := c.ResolveID("alpha.txt"); ok {
		t.Fatal("empty cache resolved a name")
	}

	names, err := c.ListNames(context.Background())
	if err != nil {
		t.Fatalf("ListNames: %v", err)
	}
	if !reflect.DeepEqual(names, []string{"alpha.txt", "beta.txt"}) {
		t.Errorf("names = %v", names)
	}
	if id, ok := c.ResolveID("alpha.txt"); !ok || id != "d1" {
		t.Errorf("ResolveID(alpha.txt) = %q, %v", id, ok)
	}
	if c.Len() != 2 {
		t.Errorf("Len = %d, want 2", c.Len())
	}
}

func TestResolveIDNeverLists(t *testing.T) {
	l := &fakeLister{refs: refs("d1", "alpha.txt")}
	c := newTestCache(t, l, Config{})

	if _, ok := c.ResolveID("alpha.txt"); ok {
		t.Error("resolved a name that was never listed")
	}
	if atomic.LoadInt32(&l.calls) != 0 {
		t.Errorf("ResolveID triggered %d listings", l.calls)
	}
}

func TestListNamesReturnsPartialOnError(t *testing.T) {
	boom := errors.New("malformed pair 1")
	l := &fakeLister{refs: refs("d1", "alpha.txt"), err: boom}
	c := newTestCache(t, l, Config{})

	names, err := c.ListNames(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped %v", err, boom)
	}
	if !reflect.DeepEqual(names, []string{"alpha.txt"}) {
		t.Errorf("partial names = %v", names)
	}
	if id, _ := c.ResolveID("alpha.txt"); id != "d1" {
		t.Errorf("partial pair not cached: %q", id)
	}
}

func TestPruneDropsAbsentNames(t *testing.T) {
	l := &fakeLister{refs: refs("d1", "alpha.txt", "d2", "beta.txt")}
	c := newTestCache(t, l, Config{Policy: PolicyPrune})
	if _, err := c.ListNames(context.Background()); err != nil {
		t.Fatal(err)
	}

	l.set(refs("d2", "beta.txt"), nil)
	if _, err := c.ListNames(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, ok := c.ResolveID("alpha.txt"); ok {
		t.Error("alpha.txt should have been pruned")
	}

	// A failed listing never prunes.
	l.set(nil, errors.New("store down"))
	c.ListNames(context.Background())
	if _, ok := c.ResolveID("beta.txt"); !ok {
		t.Error("beta.txt pruned by a failed listing")
	}
}

func TestAccumulateKeepsStaleNames(t *testing.T) {
	l := &fakeLister{refs: refs("d1", "alpha.txt")}
	c := newTestCache(t, l, Config{Policy: PolicyAccumulate})
	c.ListNames(context.Background())

	l.set(refs("d2", "beta.txt"), nil)
	names, _ := c.ListNames(context.Background())
	if !reflect.DeepEqual(names, []string{"beta.txt"}) {
		t.Errorf("names = %v", names)
	}
	if id, ok := c.ResolveID("alpha.txt"); !ok || id != "d1" {
		t.Error("accumulate policy dropped alpha.txt")
	}
}

func TestLastWriterWins(t *testing.T) {
	l := &fakeLister{refs: refs("d1", "alpha.txt")}
	c := newTestCache(t, l, Config{})
	c.ListNames(context.Background())

	l.set(refs("d9", "alpha.txt"), nil)
	c.ListNames(context.Background())
	if id, _ := c.ResolveID("alpha.txt"); id != "d9" {
		t.Errorf("ResolveID = %q, want d9", id)
	}
}

func TestSizeBound(t *testing.T) {
	l := &fakeLister{refs: refs("d1", "a", "d2", "b", "d3", "c")}
	c := newTestCache(t, l, Config{Size: 2, Policy: PolicyAccumulate})

	names, err := c.ListNames(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 3 {
		t.Errorf("listing should report every name, got %v", names)
	}
	for _, n := range names {
		if _, ok := c.ResolveID(n); !ok {
			t.Errorf("listed name %q does not resolve", n)
		}
	}

	// A smaller listing restores the bound by evicting the oldest names
	// outside it.
	l.set(refs("d4", "d"), nil)
	if _, err := c.ListNames(context.Background()); err != nil {
		t.Fatal(err)
	}
	if c.Len() != 2 {
		t.Errorf("Len = %d, want 2", c.Len())
	}
	if _, ok := c.ResolveID("d"); !ok {
		t.Error("listed name d does not resolve")
	}
	if !reflect.DeepEqual(c.Names(), []string{"c", "d"}) {
		t.Errorf("Names = %v, want [c d]", c.Names())
	}
}

func TestSizeBoundPrunePolicy(t *testing.T) {
	l := &fakeLister{refs: refs("d1", "a", "d2", "b", "d3", "c")}
	c := newTestCache(t, l, Config{Size: 2})

	for round := 0; round < 2; round++ {
		names, err := c.ListNames(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		for _, n := range names {
			if _, ok := c.ResolveID(n); !ok {
				t.Errorf("round %d: listed name %q does not resolve", round, n)
			}
		}
	}
	if c.Len() != 3 {
		t.Errorf("Len = %d, want 3", c.Len())
	}
}

func TestConcurrentListingsShareOneFetch(t *testing.T) {
	l := &fakeLister{
		refs:    refs("d1", "alpha.txt"),
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	c := newTestCache(t, l, Config{})

	var wg sync.WaitGroup
	results := make([][]string, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = c.ListNames(context.Background())
		}(i)
	}

	<-l.started
	time.Sleep(100 * time.Millisecond)
	close(l.release)
	wg.Wait()

	if n := atomic.LoadInt32(&l.calls); n != 1 {
		t.Errorf("expected 1 fetch, got %d", n)
	}
	for i, r := range results {
		if !reflect.DeepEqual(r, []string{"alpha.txt"}) {
			t.Errorf("caller %d got %v", i, r)
		}
	}
}

func TestCancelledCallerDoesNotFailJoinedCallers(t *testing.T) {
	l := &fakeLister{
		refs:    refs("d1", "alpha.txt"),
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	c := newTestCache(t, l, Config{})

	firstCtx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := c.ListNames(firstCtx)
		firstErr <- err
	}()
	<-l.started

	type result struct {
		names []string
		err   error
	}
	second := make(chan result, 1)
	go func() {
		names, err := c.ListNames(context.Background())
		second <- result{names, err}
	}()
	time.Sleep(100 * time.Millisecond)

	cancel()
	select {
	case err := <-firstErr:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("cancelled caller err = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled caller did not return while the fetch was in flight")
	}

	close(l.release)
	r := <-second
	if r.err != nil {
		t.Fatalf("joined caller err = %v", r.err)
	}
	if !reflect.DeepEqual(r.names, []string{"alpha.txt"}) {
		t.Errorf("joined caller names = %v", r.names)
	}
	if _, ok := c.ResolveID("alpha.txt"); !ok {
		t.Error("listing was not recorded")
	}
	if n := atomic.LoadInt32(&l.calls); n != 1 {
		t.Errorf("expected 1 fetch, got %d", n)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ctxErr != nil {
		t.Errorf("fetch ctx err = %v, want nil", l.ctxErr)
	}
}

func TestListTimeoutBoundsSharedFetch(t *testing.T) {
	c := newTestCache(t, ctxLister{}, Config{ListTimeout: 10 * time.Millisecond})

	_, err := c.ListNames(context.Background())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want context.DeadlineExceeded", err)
	}
}

// ctxLister blocks until its ctx ends.
type ctxLister struct{}

func (ctxLister) ListDocuments(ctx context.Context) ([]models.DocumentRef, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    Policy
		wantErr bool
	}{
		{"", PolicyPrune, false},
		{"prune", PolicyPrune, false},
		{"Accumulate", PolicyAccumulate, false},
		{"forever", "", true},
	}
	for _, tt := range tests {
		got, err := ParsePolicy(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParsePolicy(%q) = %q, %v", tt.in, got, err)
		}
	}
}
