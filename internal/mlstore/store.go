// Package mlstore is the content-addressed model store. Each stored file is
// named by the MD5 hex digest of its bytes, so storing the same content twice
// from different sources yields one file and one hash.
package mlstore

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/mohammed-shakir/geo-udf/internal/core/observability"
	"github.com/mohammed-shakir/geo-udf/internal/invalidation"
	"github.com/mohammed-shakir/geo-udf/internal/mlstore/catalog"
	"github.com/mohammed-shakir/geo-udf/internal/udferr"
)

const tmpDir = ".tmp"

// Catalog records provenance per hash. *catalog.Client satisfies it.
type Catalog interface {
	Put(ctx context.Context, e catalog.Entry) error
	Get(ctx context.Context, hash string) (catalog.Entry, error)
	Del(ctx context.Context, hash string) error
}

// Notifier announces store and delete events to other replicas.
type Notifier interface {
	Publish(ev invalidation.Event)
}

// Evictor drops a hash from a local model cache.
type Evictor interface {
	Evict(hash string) bool
}

type Option func(*Store)

func WithCatalog(c Catalog) Option   { return func(s *Store) { s.catalog = c } }
func WithNotifier(n Notifier) Option { return func(s *Store) { s.notifier = n } }
func WithFetcher(f Fetcher) Option   { return func(s *Store) { s.fetcher = f } }
func WithEvictor(e Evictor) Option   { return func(s *Store) { s.evictor = e } }
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

type Store struct {
	root     string
	fetcher  Fetcher
	catalog  Catalog
	notifier Notifier
	evictor  Evictor
	log      *slog.Logger
	now      func() time.Time
}

// Info describes one stored model.
type Info struct {
	Hash     string    `json:"hash"`
	Size     int64     `json:"size"`
	Source   string    `json:"source,omitempty"`
	StoredAt time.Time `json:"stored_at"`
}

// New opens (creating if needed) a store rooted at root. Without WithFetcher
// only local paths can be stored.
func New(root string, opts ...Option) (*Store, error) {
	if root == "" {
		return nil, udferr.Missing("mlstore", "root")
	}
	if err := os.MkdirAll(filepath.Join(root, tmpDir), 0o755); err != nil {
		return nil, fmt.Errorf("create store root %s: %w", root, err)
	}
	s := &Store{
		root:    root,
		fetcher: Sources{},
		log:     slog.Default(),
		now:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With(slog.String("component", "mlstore"))
	return s, nil
}

func (s *Store) Root() string { return s.root }

// ValidHash reports whether h is a 32 character lowercase hex digest.
func ValidHash(h string) bool {
	if len(h) != 2*md5.Size {
		return false
	}
	for i := 0; i < len(h); i++ {
		c := h[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// checkHash keeps names that could escape the root out of path joins. No
// such name can be stored, so it reads as not found.
func checkHash(h string) error {
	if !ValidHash(h) {
		return fmt.Errorf("model %q: not a stored hash: %w", h, udferr.ErrNotFound)
	}
	return nil
}

// Store copies the bytes behind source into the store and returns their hash.
// Content already present is not rewritten.
func (s *Store) Store(ctx context.Context, source string) (string, error) {
	start := time.Now()
	hash, written, err := s.store(ctx, source)
	observability.ObserveStoreOp("store", err, time.Since(start).Seconds())
	if err != nil {
		s.log.Warn("store failed", slog.String("source", source), slog.Any("err", err))
		return "", err
	}
	if written < 0 {
		observability.IncStoreDedup()
		s.log.Debug("store dedup", slog.String("hash", hash), slog.String("source", source))
		return hash, nil
	}
	observability.AddStoreBytes(written)
	s.log.Info("model stored", slog.String("hash", hash), slog.Int64("bytes", written), slog.String("source", source))

	if s.catalog != nil {
		e := catalog.Entry{Hash: hash, Source: source, Size: written, StoredAt: s.now().UTC()}
		if err := s.catalog.Put(ctx, e); err != nil {
			s.log.Warn("catalog put failed", slog.String("hash", hash), slog.Any("err", err))
		}
	}
	s.notify(invalidation.OpStored, hash, written)
	return hash, nil
}

// store returns written == -1 when the hash was already present.
func (s *Store) store(ctx context.Context, source string) (string, int64, error) {
	if err := ctx.Err(); err != nil {
		return "", 0, err
	}
	rc, err := s.fetcher.Fetch(ctx, source)
	if err != nil {
		return "", 0, err
	}
	defer func() { _ = rc.Close() }()

	tmp, err := os.CreateTemp(filepath.Join(s.root, tmpDir), "model-*")
	if err != nil {
		return "", 0, fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	h := md5.New()
	n, err := io.Copy(io.MultiWriter(tmp, h), rc)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", 0, fmt.Errorf("copy %s: %w", source, err)
	}
	if err := ctx.Err(); err != nil {
		return "", 0, err
	}

	hash := hex.EncodeToString(h.Sum(nil))
	dst := filepath.Join(s.root, hash)
	if _, err := os.Stat(dst); err == nil {
		return hash, -1, nil
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return "", 0, fmt.Errorf("chmod %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		return "", 0, fmt.Errorf("commit %s: %w", hash, err)
	}
	committed = true
	return hash, n, nil
}

// List returns every stored hash in lexical order. Stray files that are not
// digests are ignored.
func (s *Store) List(ctx context.Context) ([]string, error) {
	start := time.Now()
	entries, err := os.ReadDir(s.root)
	observability.ObserveStoreOp("list", err, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", s.root, err)
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() && ValidHash(e.Name()) {
			out = append(out, e.Name())
		}
	}
	slices.Sort(out)
	return out, nil
}

// Delete removes hash from the store. Missing hashes fail with ErrNotFound.
func (s *Store) Delete(ctx context.Context, hash string) error {
	start := time.Now()
	err := s.remove(hash)
	observability.ObserveStoreOp("delete", err, time.Since(start).Seconds())
	if err != nil {
		return err
	}
	s.log.Info("model deleted", slog.String("hash", hash))

	if s.evictor != nil {
		s.evictor.Evict(hash)
	}
	if s.catalog != nil {
		if err := s.catalog.Del(ctx, hash); err != nil {
			s.log.Warn("catalog del failed", slog.String("hash", hash), slog.Any("err", err))
		}
	}
	s.notify(invalidation.OpDeleted, hash, 0)
	return nil
}

func (s *Store) remove(hash string) error {
	if err := checkHash(hash); err != nil {
		return err
	}
	err := os.Remove(filepath.Join(s.root, hash))
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("model %s: %w", hash, udferr.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("delete %s: %w", hash, err)
	}
	return nil
}

// Path returns the file holding hash. It fails with ErrNotFound when the
// hash is absent, including when a concurrent Delete won the race.
func (s *Store) Path(hash string) (string, error) {
	if err := checkHash(hash); err != nil {
		return "", err
	}
	p := filepath.Join(s.root, hash)
	if _, err := os.Stat(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("model %s: %w", hash, udferr.ErrNotFound)
		}
		return "", fmt.Errorf("stat %s: %w", hash, err)
	}
	return p, nil
}

func (s *Store) Open(hash string) (*os.File, error) {
	p, err := s.Path(hash)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("model %s: %w", hash, udferr.ErrNotFound)
	}
	return f, err
}

// Info merges the file's stat with its catalog record when one exists.
func (s *Store) Info(ctx context.Context, hash string) (Info, error) {
	p, err := s.Path(hash)
	if err != nil {
		return Info{}, err
	}
	st, err := os.Stat(p)
	if err != nil {
		return Info{}, fmt.Errorf("model %s: %w", hash, udferr.ErrNotFound)
	}
	info := Info{Hash: hash, Size: st.Size(), StoredAt: st.ModTime().UTC()}
	if s.catalog != nil {
		e, err := s.catalog.Get(ctx, hash)
		switch {
		case err == nil:
			info.Source = e.Source
			info.StoredAt = e.StoredAt
		case !errors.Is(err, catalog.ErrNoEntry):
			s.log.Warn("catalog get failed", slog.String("hash", hash), slog.Any("err", err))
		}
	}
	return info, nil
}

func (s *Store) notify(op, hash string, size int64) {
	if s.notifier == nil {
		return
	}
	ev := invalidation.NewEvent(op, hash)
	ev.Size = size
	ev.Source = "mlstore"
	s.notifier.Publish(ev)
}
