package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dharsanguruparan/HashDrop/internal/model"
	"github.com/dharsanguruparan/HashDrop/internal/signing"
)

// Sink persists finished archives built off the request path and hands out
// time-limited download URLs for them. Missing archives are reported with
// model.ErrNotFound.
type Sink interface {
	Put(ctx context.Context, name string, r io.Reader, size int64) error
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	URL(ctx context.Context, name string, ttl time.Duration) (string, error)
}

var archiveName = regexp.MustCompile(`^export-[0-9TZ]+-[0-9a-f]{8}\.zip$`)

// NewArchiveName returns a unique, sortable archive name.
func NewArchiveName(now time.Time) string {
	return fmt.Sprintf("export-%s-%s.zip", now.UTC().Format("20060102T150405Z"), uuid.NewString()[:8])
}

// ValidName reports whether name could have come from NewArchiveName. Sinks
// check it before turning a name into a path or object key.
func ValidName(name string) bool {
	return archiveName.MatchString(name)
}

// DirSink keeps archives in a local directory and signs download URLs with
// an HMAC so the API can serve them without a bearer token.
type DirSink struct {
	dir     string
	baseURL string
	signer  *signing.Signer
}

// NewDirSink creates dir if needed. baseURL is the public origin of the API,
// e.g. "https://drop.example.com"; it may be empty for relative URLs.
func NewDirSink(dir, baseURL string, signer *signing.Signer) (*DirSink, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create export dir: %w", err)
	}
	return &DirSink{dir: dir, baseURL: strings.TrimRight(baseURL, "/"), signer: signer}, nil
}

// Put implements Sink.
func (d *DirSink) Put(ctx context.Context, name string, r io.Reader, _ int64) error {
	if !ValidName(name) {
		return fmt.Errorf("invalid archive name %q", name)
	}
	tmp, err := os.CreateTemp(d.dir, ".partial-*")
	if err != nil {
		return fmt.Errorf("create temp archive: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return fmt.Errorf("write archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close archive: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), filepath.Join(d.dir, name)); err != nil {
		return fmt.Errorf("publish archive: %w", err)
	}
	return nil
}

// Open implements Sink.
func (d *DirSink) Open(_ context.Context, name string) (io.ReadCloser, error) {
	if !ValidName(name) {
		return nil, fmt.Errorf("archive %q: %w", name, model.ErrNotFound)
	}
	f, err := os.Open(filepath.Join(d.dir, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("archive %s: %w", name, model.ErrNotFound)
		}
		return nil, fmt.Errorf("open archive: %w", err)
	}
	return f, nil
}

// URL implements Sink. The URL points back at the API, which checks the
// signature with Verify before streaming the file.
func (d *DirSink) URL(_ context.Context, name string, ttl time.Duration) (string, error) {
	if !ValidName(name) {
		return "", fmt.Errorf("archive %q: %w", name, model.ErrNotFound)
	}
	if _, err := os.Stat(filepath.Join(d.dir, name)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("archive %s: %w", name, model.ErrNotFound)
		}
		return "", fmt.Errorf("stat archive: %w", err)
	}
	return d.baseURL + "/api/exports/" + url.PathEscape(name) + "?" + d.signer.Query(name, ttl).Encode(), nil
}

// Verify checks a signed download request for name.
func (d *DirSink) Verify(name string, q url.Values) error {
	return d.signer.Verify(name, q)
}
