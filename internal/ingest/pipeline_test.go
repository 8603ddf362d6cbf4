package ingest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/HashDrop/internal/blobstore"
	"github.com/dharsanguruparan/HashDrop/internal/catalog"
	"github.com/dharsanguruparan/HashDrop/internal/model"
	"github.com/dharsanguruparan/HashDrop/internal/settings"
)

var txtOnly = Limits{MaxBytes: 64, Extensions: []string{".txt", ".json"}}

type fixture struct {
	pipeline *Pipeline
	backend  *blobstore.MemoryBackend
	catalog  *catalog.MemoryCatalog
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	backend := blobstore.NewMemoryBackend()
	store, err := blobstore.New(backend)
	require.NoError(t, err)
	cat := catalog.NewMemoryCatalog()
	return fixture{pipeline: New(store, cat, nil), backend: backend, catalog: cat}
}

func (f fixture) count(t *testing.T) int {
	t.Helper()
	page, err := f.catalog.List(context.Background(), model.Principal{ID: "root", Role: model.RoleSuperAdmin}, catalog.Query{})
	require.NoError(t, err)
	return page.Total
}

// trackingReader records whether it was ever read.
type trackingReader struct {
	r    io.Reader
	read bool
}

func (t *trackingReader) Read(p []byte) (int, error) {
	t.read = true
	return t.r.Read(p)
}

func TestIngestCommitsBlobAndRecord(t *testing.T) {
	f := newFixture(t)
	payload := []byte("0123456789")

	rec, err := f.pipeline.Ingest(context.Background(), bytes.NewReader(payload), Meta{
		Filename: "notes.TXT",
		MimeType: "text/plain",
		OwnerID:  "alice",
		Tags:     []string{"ds", "ds"},
	}, txtOnly)
	require.NoError(t, err)

	assert.Equal(t, blobstore.Sum(payload).String(), rec.ContentID)
	assert.EqualValues(t, 10, rec.SizeBytes)
	assert.Equal(t, model.VisibilityPublic, rec.Visibility)
	assert.Equal(t, []string{"ds"}, rec.Tags)
	assert.Equal(t, "text/plain", rec.MimeType)
	assert.Equal(t, time.UTC, rec.CreatedAt.Location())
	assert.Equal(t, 1, f.backend.Len())
	assert.Equal(t, 1, f.count(t))
}

func TestIngestRejectsExtensionWithoutReading(t *testing.T) {
	f := newFixture(t)
	src := &trackingReader{r: strings.NewReader("a,b,c")}

	_, err := f.pipeline.Ingest(context.Background(), src, Meta{Filename: "data.csv"}, txtOnly)
	require.ErrorIs(t, err, model.ErrUnsupportedType)
	assert.False(t, src.read)

	_, err = f.pipeline.Ingest(context.Background(), src, Meta{Filename: "README"}, txtOnly)
	require.ErrorIs(t, err, model.ErrUnsupportedType)
	assert.False(t, src.read)
}

func TestIngestAgreesWithPolicyExtensionCheck(t *testing.T) {
	f := newFixture(t)
	pol, err := settings.Parse(map[string]string{settings.KeyAllowedExtensions: "TXT, .Json"})
	require.NoError(t, err)
	limits := Limits{Extensions: pol.AllowedExtensions}

	for _, name := range []string{"notes.TXT", "data.json", "script.js", "README"} {
		_, err := f.pipeline.Ingest(context.Background(), strings.NewReader("{}"), Meta{Filename: name}, limits)
		if pol.ExtensionAllowed(name) {
			assert.NoError(t, err, name)
		} else {
			assert.ErrorIs(t, err, model.ErrUnsupportedType, name)
		}
	}
	assert.Equal(t, 2, f.count(t))
}

func TestIngestTooLargeCommitsNothing(t *testing.T) {
	f := newFixture(t)
	payload := bytes.Repeat([]byte("x"), int(txtOnly.MaxBytes)+1)

	// One byte per read so the limit trips mid-stream rather than on the first chunk.
	_, err := f.pipeline.Ingest(context.Background(), iotest.OneByteReader(bytes.NewReader(payload)), Meta{Filename: "big.txt"}, txtOnly)
	require.ErrorIs(t, err, model.ErrPayloadTooLarge)
	assert.Zero(t, f.backend.Len())
	assert.Zero(t, f.count(t))
}

func TestIngestExactlyAtLimit(t *testing.T) {
	f := newFixture(t)
	payload := bytes.Repeat([]byte("x"), int(txtOnly.MaxBytes))

	rec, err := f.pipeline.Ingest(context.Background(), bytes.NewReader(payload), Meta{Filename: "edge.txt"}, txtOnly)
	require.NoError(t, err)
	assert.Equal(t, txtOnly.MaxBytes, rec.SizeBytes)
}

func TestIngestZeroBytes(t *testing.T) {
	f := newFixture(t)

	rec, err := f.pipeline.Ingest(context.Background(), bytes.NewReader(nil), Meta{Filename: "empty.txt"}, txtOnly)
	require.NoError(t, err)
	assert.Zero(t, rec.SizeBytes)
	assert.Equal(t, blobstore.Sum(nil).String(), rec.ContentID)
	assert.Equal(t, "application/octet-stream", rec.MimeType)
}

func TestIngestZeroLimitDisablesSizeCheck(t *testing.T) {
	f := newFixture(t)
	payload := bytes.Repeat([]byte("y"), 200*1024)

	rec, err := f.pipeline.Ingest(context.Background(), bytes.NewReader(payload), Meta{Filename: "huge.json"},
		Limits{Extensions: txtOnly.Extensions})
	require.NoError(t, err)
	assert.EqualValues(t, len(payload), rec.SizeBytes)
}

func TestIngestDuplicateBytesShareBlob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.pipeline.Ingest(ctx, strings.NewReader("same bytes"), Meta{Filename: "a.txt"}, txtOnly)
	require.NoError(t, err)
	second, err := f.pipeline.Ingest(ctx, strings.NewReader("same bytes"), Meta{Filename: "b.txt"}, txtOnly)
	require.NoError(t, err)

	assert.Equal(t, first.ContentID, second.ContentID)
	assert.NotEqual(t, first.ID, second.ID)
	assert.EqualValues(t, 1, f.backend.Writes())
	assert.Equal(t, 2, f.count(t))
}

func TestIngestCancelledContext(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.pipeline.Ingest(ctx, strings.NewReader("bytes"), Meta{Filename: "a.txt"}, txtOnly)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, f.backend.Len())
	assert.Zero(t, f.count(t))
}

func TestIngestReadErrorCommitsNothing(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("connection reset")
	src := io.MultiReader(strings.NewReader("partial"), iotest.ErrReader(boom))

	_, err := f.pipeline.Ingest(context.Background(), src, Meta{Filename: "a.txt"}, txtOnly)
	require.ErrorIs(t, err, boom)
	assert.Zero(t, f.backend.Len())
}

func TestIngestPrivateRequiresOwner(t *testing.T) {
	f := newFixture(t)
	src := &trackingReader{r: strings.NewReader("secret")}

	_, err := f.pipeline.Ingest(context.Background(), src, Meta{Filename: "a.txt", Visibility: model.VisibilityPrivate}, txtOnly)
	require.ErrorIs(t, err, model.ErrAuthenticationRequired)
	assert.False(t, src.read)
}
