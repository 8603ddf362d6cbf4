package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/dharsanguruparan/HashDrop/internal/metrics"
	"github.com/dharsanguruparan/HashDrop/internal/model"
)

const defaultKnownCacheSize = 4096

// Backend is the physical medium behind a Store. Write must be durable when
// it returns; Open must return an error wrapping model.ErrNotFound for ids
// that were never written.
type Backend interface {
	Exists(ctx context.Context, id ID) (bool, error)
	Write(ctx context.Context, id ID, data []byte) error
	Open(ctx context.Context, id ID) (io.ReadCloser, error)
}

// Reclaimer is consulted when a catalog record referencing id is deleted.
// The store itself never deletes bytes; a reference-counting or
// mark-and-sweep collector would plug in here.
type Reclaimer interface {
	Release(ctx context.Context, id ID) error
}

// RetainForever keeps every blob. It is the default Reclaimer.
type RetainForever struct{}

// Release implements Reclaimer.
func (RetainForever) Release(context.Context, ID) error { return nil }

// Store deduplicates writes on top of a Backend.
type Store struct {
	backend   Backend
	reclaimer Reclaimer
	logger    *slog.Logger
	// known holds ids confirmed present. Blobs are never removed by this
	// package so entries cannot go stale.
	known *lru.Cache[ID, struct{}]
	// inflight collapses concurrent commits of identical content.
	inflight singleflight.Group
}

// Option customises a Store.
type Option func(*Store)

// WithReclaimer installs a reclamation hook.
func WithReclaimer(r Reclaimer) Option {
	return func(s *Store) { s.reclaimer = r }
}

// WithLogger sets the logger used for dedup and write events.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New wraps backend in a deduplicating Store.
func New(backend Backend, opts ...Option) (*Store, error) {
	known, err := lru.New[ID, struct{}](defaultKnownCacheSize)
	if err != nil {
		return nil, fmt.Errorf("init known-blob cache: %w", err)
	}
	s := &Store{
		backend:   backend,
		reclaimer: RetainForever{},
		logger:    slog.Default(),
		known:     known,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Put stores data and returns its content id. Repeated puts of identical
// bytes return the same id without writing again.
func (s *Store) Put(ctx context.Context, data []byte) (ID, error) {
	id := Sum(data)
	if err := s.Commit(ctx, id, data); err != nil {
		return "", err
	}
	return id, nil
}

// Commit stores data under an id the caller already computed with NewHasher.
//
// Concurrent commits of the same id share one backend write. The write runs
// detached from any single caller's context, so a caller that goes away
// returns its own context error while the others still see the shared result.
func (s *Store) Commit(ctx context.Context, id ID, data []byte) error {
	if !id.Valid() {
		return fmt.Errorf("commit: invalid content id %q", id)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.known.Contains(id) {
		metrics.BlobWrites.WithLabelValues("dedup").Inc()
		return nil
	}
	flight := s.inflight.DoChan(string(id), func() (any, error) {
		return nil, s.write(context.WithoutCancel(ctx), id, data)
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-flight:
		if res.Err != nil {
			return res.Err
		}
		if res.Shared {
			s.logger.Debug("blob commit shared with concurrent writer", slog.String("content_id", string(id)))
		}
	}
	s.known.Add(id, struct{}{})
	return nil
}

func (s *Store) write(ctx context.Context, id ID, data []byte) error {
	exists, err := s.backend.Exists(ctx, id)
	if err != nil {
		return storageErr("stat", id, err)
	}
	if exists {
		metrics.BlobWrites.WithLabelValues("dedup").Inc()
		return nil
	}
	if err := s.backend.Write(ctx, id, data); err != nil {
		metrics.BlobWrites.WithLabelValues("error").Inc()
		return storageErr("write", id, err)
	}
	metrics.BlobWrites.WithLabelValues("written").Inc()
	s.logger.Debug("blob written", slog.String("content_id", string(id)), slog.Int("size", len(data)))
	return nil
}

// storageErr tags backend failures with model.ErrStorageIO. Context errors
// pass through untagged since they describe the caller, not the medium.
func storageErr(op string, id ID, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s %s: %w", op, id, err)
	}
	return fmt.Errorf("%w: %s %s: %w", model.ErrStorageIO, op, id, err)
}

// Get opens the payload for id. The caller must close the reader.
func (s *Store) Get(ctx context.Context, id ID) (io.ReadCloser, error) {
	if !id.Valid() {
		return nil, fmt.Errorf("blob %q: %w", id, model.ErrNotFound)
	}
	rc, err := s.backend.Open(ctx, id)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, err
		}
		return nil, storageErr("open", id, err)
	}
	return rc, nil
}

// Has reports whether id is stored.
func (s *Store) Has(ctx context.Context, id ID) (bool, error) {
	if !id.Valid() {
		return false, nil
	}
	if s.known.Contains(id) {
		return true, nil
	}
	ok, err := s.backend.Exists(ctx, id)
	if err != nil {
		return false, storageErr("stat", id, err)
	}
	if ok {
		s.known.Add(id, struct{}{})
	}
	return ok, nil
}

// Release forwards to the configured Reclaimer.
func (s *Store) Release(ctx context.Context, id ID) error {
	return s.reclaimer.Release(ctx, id)
}
