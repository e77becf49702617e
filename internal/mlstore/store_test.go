package mlstore

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/mohammed-shakir/geo-udf/internal/core/httpclient"
	"github.com/mohammed-shakir/geo-udf/internal/invalidation"
	"github.com/mohammed-shakir/geo-udf/internal/mlstore/catalog"
	"github.com/mohammed-shakir/geo-udf/internal/udferr"
)

type fakeNotifier struct {
	mu     sync.Mutex
	events []invalidation.Event
}

func (f *fakeNotifier) Publish(ev invalidation.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
}

func (f *fakeNotifier) ops() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.events))
	for _, e := range f.events {
		out = append(out, e.Op)
	}
	return out
}

type fakeEvictor struct{ evicted []string }

func (f *fakeEvictor) Evict(hash string) bool {
	f.evicted = append(f.evicted, hash)
	return true
}

func writeSource(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write source: %v", err)
	}
	return p
}

func newStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "models"), opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestStore_SameContentTwoPaths_OneFile(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	a := writeSource(t, "a.bin", "weights-v1")
	b := writeSource(t, "b.bin", "weights-v1")

	h1, err := s.Store(ctx, a)
	if err != nil {
		t.Fatalf("Store a: %v", err)
	}
	h2, err := s.Store(ctx, b)
	if err != nil {
		t.Fatalf("Store b: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("hash differs for identical content: %s vs %s", h1, h2)
	}
	if !ValidHash(h1) {
		t.Fatalf("hash %q not a digest", h1)
	}

	list, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if !slices.Equal(list, []string{h1}) {
		t.Fatalf("list=%v want [%s]", list, h1)
	}
	tmp, _ := os.ReadDir(filepath.Join(s.Root(), tmpDir))
	if len(tmp) != 0 {
		t.Fatalf("temp files left behind: %d", len(tmp))
	}
}

func TestStore_KnownDigest(t *testing.T) {
	s := newStore(t)
	// md5("") is well known
	h, err := s.Store(context.Background(), writeSource(t, "empty", ""))
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if h != "d41d8cd98f00b204e9800998ecf8427e" {
		t.Fatalf("hash=%s", h)
	}
}

func TestStore_DifferentContent_DistinctHashes(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	h1, _ := s.Store(ctx, writeSource(t, "a", "one"))
	h2, _ := s.Store(ctx, writeSource(t, "b", "two"))
	if h1 == h2 {
		t.Fatalf("expected distinct hashes")
	}
	list, _ := s.List(ctx)
	if len(list) != 2 {
		t.Fatalf("list=%v", list)
	}
}

func TestStore_Errors(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	if _, err := s.Store(ctx, filepath.Join(t.TempDir(), "missing")); !errors.Is(err, udferr.ErrNotFound) {
		t.Fatalf("missing file: want ErrNotFound, got %v", err)
	}
	if _, err := s.Store(ctx, t.TempDir()); !udferr.IsValidation(err) {
		t.Fatalf("directory: want validation error, got %v", err)
	}
	if _, err := s.Store(ctx, "ftp://host/file"); !udferr.IsValidation(err) {
		t.Fatalf("ftp: want validation error, got %v", err)
	}
	if _, err := s.Store(ctx, "https://example.invalid/m.bin"); !errors.Is(err, udferr.ErrUnreachable) {
		t.Fatalf("no http client: want ErrUnreachable, got %v", err)
	}
	if _, err := s.Store(ctx, "s3://bucket/key"); !errors.Is(err, udferr.ErrUnreachable) {
		t.Fatalf("no s3 client: want ErrUnreachable, got %v", err)
	}

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := s.Store(canceled, writeSource(t, "x", "x")); !errors.Is(err, context.Canceled) {
		t.Fatalf("canceled: got %v", err)
	}
}

func TestStore_HTTPSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/model.bin":
			_, _ = w.Write([]byte("remote weights"))
		case "/boom":
			w.WriteHeader(http.StatusBadGateway)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	s := newStore(t, WithFetcher(Sources{HTTP: httpclient.NewOutbound(2 * time.Second)}))
	ctx := context.Background()

	remote, err := s.Store(ctx, srv.URL+"/model.bin")
	if err != nil {
		t.Fatalf("Store http: %v", err)
	}
	local, err := s.Store(ctx, writeSource(t, "m", "remote weights"))
	if err != nil {
		t.Fatalf("Store local: %v", err)
	}
	if remote != local {
		t.Fatalf("hash depends on source: %s vs %s", remote, local)
	}

	if _, err := s.Store(ctx, srv.URL+"/nope"); !errors.Is(err, udferr.ErrNotFound) {
		t.Fatalf("404: want ErrNotFound, got %v", err)
	}
	if _, err := s.Store(ctx, srv.URL+"/boom"); !errors.Is(err, udferr.ErrUnreachable) {
		t.Fatalf("502: want ErrUnreachable, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	n := &fakeNotifier{}
	ev := &fakeEvictor{}
	s := newStore(t, WithNotifier(n), WithEvictor(ev))
	ctx := context.Background()

	h, err := s.Store(ctx, writeSource(t, "m", "abc"))
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	// dedup does not announce again
	if _, err := s.Store(ctx, writeSource(t, "m2", "abc")); err != nil {
		t.Fatalf("Store again: %v", err)
	}
	if err := s.Delete(ctx, h); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(ctx, h); !errors.Is(err, udferr.ErrNotFound) {
		t.Fatalf("second Delete: want ErrNotFound, got %v", err)
	}
	if _, err := s.Path(h); !errors.Is(err, udferr.ErrNotFound) {
		t.Fatalf("Path after delete: want ErrNotFound, got %v", err)
	}
	for _, bad := range []string{"not-a-hash", "../../etc/passwd", strings.ToUpper(h)} {
		if err := s.Delete(ctx, bad); !errors.Is(err, udferr.ErrNotFound) {
			t.Fatalf("Delete(%q): want ErrNotFound, got %v", bad, err)
		}
		if _, err := s.Path(bad); !errors.Is(err, udferr.ErrNotFound) {
			t.Fatalf("Path(%q): want ErrNotFound, got %v", bad, err)
		}
	}

	if got := n.ops(); !slices.Equal(got, []string{invalidation.OpStored, invalidation.OpDeleted}) {
		t.Fatalf("events=%v", got)
	}
	for _, e := range n.events {
		if err := e.Validate(); err != nil {
			t.Fatalf("published invalid event: %v", err)
		}
	}
	if !slices.Equal(ev.evicted, []string{h}) {
		t.Fatalf("evicted=%v", ev.evicted)
	}
}

func TestList_IgnoresStrayFiles(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	h, _ := s.Store(ctx, writeSource(t, "m", "abc"))
	_ = os.WriteFile(filepath.Join(s.Root(), "README"), []byte("x"), 0o600)
	_ = os.WriteFile(filepath.Join(s.Root(), "ABCDEF0123456789ABCDEF0123456789"), []byte("x"), 0o600)

	list, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if !slices.Equal(list, []string{h}) {
		t.Fatalf("list=%v", list)
	}
}

func TestOpenAndInfo_WithCatalog(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()
	cat, err := catalog.New(context.Background(), mr.Addr())
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	defer func() { _ = cat.Close() }()

	s := newStore(t, WithCatalog(cat))
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s.now = func() time.Time { return at }
	ctx := context.Background()

	src := writeSource(t, "m", "catalogued")
	h, err := s.Store(ctx, src)
	if err != nil {
		t.Fatalf("Store: %v", err)
	}

	f, err := s.Open(h)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	buf := make([]byte, 64)
	n, _ := f.Read(buf)
	_ = f.Close()
	if string(buf[:n]) != "catalogued" {
		t.Fatalf("content=%q", buf[:n])
	}

	info, err := s.Info(ctx, h)
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if info.Source != src || info.Size != int64(len("catalogued")) || !info.StoredAt.Equal(at) {
		t.Fatalf("info=%+v", info)
	}

	if err := s.Delete(ctx, h); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := cat.Get(ctx, h); !errors.Is(err, catalog.ErrNoEntry) {
		t.Fatalf("catalog entry survived delete: %v", err)
	}
}

func TestStore_ConcurrentSameContent(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	src := writeSource(t, "m", "racing bytes")

	var wg sync.WaitGroup
	hashes := make([]string, 8)
	errs := make([]error, 8)
	for i := range hashes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			hashes[i], errs[i] = s.Store(ctx, src)
		}(i)
	}
	wg.Wait()
	for i := range hashes {
		if errs[i] != nil {
			t.Fatalf("store %d: %v", i, errs[i])
		}
		if hashes[i] != hashes[0] {
			t.Fatalf("hash mismatch at %d", i)
		}
	}
	list, _ := s.List(ctx)
	if len(list) != 1 {
		t.Fatalf("list=%v", list)
	}
}
