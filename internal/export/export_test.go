package export

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/url"
	"strings"
	"testing"
	"testing/iotest"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/HashDrop/internal/blobstore"
	"github.com/dharsanguruparan/HashDrop/internal/catalog"
	"github.com/dharsanguruparan/HashDrop/internal/model"
	"github.com/dharsanguruparan/HashDrop/internal/settings"
	"github.com/dharsanguruparan/HashDrop/internal/signing"
)

func TestRoute(t *testing.T) {
	tests := []struct {
		name   string
		tags   []string
		want   string
		wantOK bool
	}{
		{"config.json", nil, "json/", true},
		{"README.TXT", nil, "json/", true},
		{"live.m3u", nil, "json/", true},
		{"spider.js", []string{"dr2"}, "spider/js_dr2/", true},
		{"spider.js", []string{"ds", "dr"}, "spider/js/", true},
		{"spider.js", nil, "spider/js/", true},
		{"index.php", []string{"dr2"}, "spider/php/", true},
		{"crawl.py", nil, "spider/py/", true},
		{"table.csv", []string{"dr2"}, "", false},
		{"noext", nil, "", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := Route(tc.name, tc.tags, "dr2")
			assert.Equal(t, tc.wantOK, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestHiddenAndBaseName(t *testing.T) {
	assert.True(t, Hidden("_draft.json"))
	assert.True(t, Hidden(`dir\_draft.json`))
	assert.False(t, Hidden("draft_.json"))
	assert.Equal(t, "passwd.txt", baseName("../../etc/passwd.txt"))
	assert.Equal(t, "unnamed", baseName(".."))
}

type fixture struct {
	packager *Packager
	catalog  *catalog.MemoryCatalog
	blobs    *blobstore.Store
	settings *settings.MemoryStore
	clock    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	blobs, err := blobstore.New(blobstore.NewMemoryBackend())
	require.NoError(t, err)
	cat := catalog.NewMemoryCatalog()
	st := settings.NewMemoryStore(nil)
	return &fixture{
		packager: NewPackager(cat, blobs, st, nil),
		catalog:  cat,
		blobs:    blobs,
		settings: st,
		clock:    time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (f *fixture) add(t *testing.T, name, content string, vis model.Visibility, tags ...string) *model.FileRecord {
	t.Helper()
	id, err := f.blobs.Put(context.Background(), []byte(content))
	require.NoError(t, err)
	f.clock = f.clock.Add(time.Second)
	rec := &model.FileRecord{
		ID:         uuid.NewString(),
		ContentID:  id.String(),
		Filename:   name,
		SizeBytes:  int64(len(content)),
		OwnerID:    "alice",
		Visibility: vis,
		Tags:       tags,
		CreatedAt:  f.clock,
	}
	require.NoError(t, f.catalog.Insert(context.Background(), rec))
	return rec
}

func readArchive(t *testing.T, data []byte) map[string]string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	out := make(map[string]string, len(zr.File))
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		body, err := io.ReadAll(rc)
		require.NoError(t, err)
		rc.Close()
		out[f.Name] = string(body)
	}
	return out
}

func TestExportPublicRoutesAndExcludes(t *testing.T) {
	f := newFixture(t)
	f.add(t, "marked.js", "var a", model.VisibilityPublic, "dr2")
	f.add(t, "plain.js", "var b", model.VisibilityPublic)
	f.add(t, "data.csv", "a,b", model.VisibilityPublic)
	f.add(t, "_hidden.json", "{}", model.VisibilityPublic)
	f.add(t, "secret.json", `{"k":1}`, model.VisibilityPrivate)
	f.add(t, "list.m3u", "#EXTM3U", model.VisibilityPublic)

	var buf bytes.Buffer
	summary, err := f.packager.ExportPublic(context.Background(), &buf, nil)
	require.NoError(t, err)

	entries := readArchive(t, buf.Bytes())
	assert.Equal(t, map[string]string{
		"spider/js_dr2/marked.js": "var a",
		"spider/js/plain.js":      "var b",
		"json/list.m3u":           "#EXTM3U",
	}, entries)
	assert.Len(t, summary.Files, 3)
	assert.Empty(t, summary.Errors)
	assert.Equal(t, 2, summary.Skipped)
}

func TestExportUsesConfiguredMarker(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.settings.Set(context.Background(), settings.KeyExportMarkerTag, "hipy"))
	f.add(t, "a.js", "a", model.VisibilityPublic, "hipy")
	f.add(t, "b.js", "b", model.VisibilityPublic, "dr2")

	var buf bytes.Buffer
	_, err := f.packager.ExportPublic(context.Background(), &buf, nil)
	require.NoError(t, err)

	entries := readArchive(t, buf.Bytes())
	assert.Contains(t, entries, "spider/js_hipy/a.js")
	assert.Contains(t, entries, "spider/js/b.js")
}

func TestExportMissingBlobBecomesErrorEntry(t *testing.T) {
	f := newFixture(t)
	f.add(t, "ok.txt", "fine", model.VisibilityPublic)
	require.NoError(t, f.catalog.Insert(context.Background(), &model.FileRecord{
		ID:         uuid.NewString(),
		ContentID:  blobstore.Sum([]byte("never stored")).String(),
		Filename:   "gone.py",
		Visibility: model.VisibilityPublic,
		CreatedAt:  f.clock.Add(time.Hour),
	}))

	var buf bytes.Buffer
	summary, err := f.packager.ExportPublic(context.Background(), &buf, nil)
	require.NoError(t, err)

	entries := readArchive(t, buf.Bytes())
	assert.Equal(t, "fine", entries["json/ok.txt"])
	require.Contains(t, entries, "errors/gone.py.txt")
	assert.Contains(t, entries["errors/gone.py.txt"], "gone.py")
	assert.Equal(t, []string{"errors/gone.py.txt"}, summary.Errors)
}

// truncatingBackend fails reads of one blob after a few bytes.
type truncatingBackend struct {
	*blobstore.MemoryBackend
	broken blobstore.ID
}

func (b *truncatingBackend) Open(ctx context.Context, id blobstore.ID) (io.ReadCloser, error) {
	if id != b.broken {
		return b.MemoryBackend.Open(ctx, id)
	}
	return io.NopCloser(io.MultiReader(
		strings.NewReader(`{"par`),
		iotest.ErrReader(errors.New("connection reset")),
	)), nil
}

func TestExportReadFailureLeavesNoPartialEntry(t *testing.T) {
	broken := []byte(`{"partial": true}`)
	backend := &truncatingBackend{MemoryBackend: blobstore.NewMemoryBackend(), broken: blobstore.Sum(broken)}
	blobs, err := blobstore.New(backend)
	require.NoError(t, err)
	f := newFixture(t)
	f.blobs = blobs
	f.packager = NewPackager(f.catalog, blobs, f.settings, nil)

	f.add(t, "ok.json", "{}", model.VisibilityPublic)
	f.add(t, "a.json", string(broken), model.VisibilityPublic)

	var buf bytes.Buffer
	summary, err := f.packager.ExportPublic(context.Background(), &buf, nil)
	require.NoError(t, err)

	entries := readArchive(t, buf.Bytes())
	assert.NotContains(t, entries, "json/a.json")
	assert.Equal(t, "{}", entries["json/ok.json"])
	require.Contains(t, entries, "errors/a.json.txt")
	assert.Contains(t, entries["errors/a.json.txt"], "connection reset")
	assert.Equal(t, []string{"json/ok.json"}, summary.Files)
	assert.Equal(t, []string{"errors/a.json.txt"}, summary.Errors)
}

func TestExportDisambiguatesDuplicateNames(t *testing.T) {
	f := newFixture(t)
	first := f.add(t, "same.json", `{"v":1}`, model.VisibilityPublic)
	second := f.add(t, "same.json", `{"v":1}`, model.VisibilityPublic)
	third := f.add(t, "same.json", `{"v":2}`, model.VisibilityPublic)

	var buf bytes.Buffer
	_, err := f.packager.ExportPublic(context.Background(), &buf, nil)
	require.NoError(t, err)

	entries := readArchive(t, buf.Bytes())
	require.Len(t, entries, 3)
	// Newest first: third claims the plain name.
	assert.Equal(t, third.ContentID, blobstore.Sum([]byte(entries["json/same.json"])).String())
	assert.Contains(t, entries, "json/same_"+blobstore.ID(second.ContentID).Short()+".json")
	// first shares content with second, so the short id alone still clashes.
	assert.Contains(t, entries, "json/same_"+blobstore.ID(first.ContentID).Short()+"_2.json")
}

func TestExportFilter(t *testing.T) {
	f := newFixture(t)
	f.add(t, "a.txt", "a", model.VisibilityPublic, "cat")
	f.add(t, "b.txt", "b", model.VisibilityPublic, "ds")

	var buf bytes.Buffer
	summary, err := f.packager.ExportPublic(context.Background(), &buf, TagFilter("CA"))
	require.NoError(t, err)
	assert.Equal(t, []string{"json/a.txt"}, summary.Files)
	assert.Nil(t, TagFilter("  "))
}

func TestExportCancelled(t *testing.T) {
	f := newFixture(t)
	f.add(t, "a.txt", "a", model.VisibilityPublic)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.packager.ExportPublic(ctx, io.Discard, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDirSink(t *testing.T) {
	ctx := context.Background()
	sink, err := NewDirSink(t.TempDir(), "https://drop.example.com/", signing.NewSigner([]byte("k")))
	require.NoError(t, err)

	name := NewArchiveName(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	require.True(t, ValidName(name), name)
	assert.False(t, ValidName("../etc/passwd"))

	_, err = sink.URL(ctx, name, time.Minute)
	assert.ErrorIs(t, err, model.ErrNotFound)

	require.NoError(t, sink.Put(ctx, name, strings.NewReader("zipbytes"), 8))

	raw, err := sink.URL(ctx, name, time.Minute)
	require.NoError(t, err)
	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "/api/exports/"+name, u.Path)
	assert.Equal(t, "drop.example.com", u.Host)
	require.NoError(t, sink.Verify(name, u.Query()))
	assert.Error(t, sink.Verify("export-other.zip", u.Query()))

	rc, err := sink.Open(ctx, name)
	require.NoError(t, err)
	defer rc.Close()
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "zipbytes", string(body))

	_, err = sink.Open(ctx, "../../etc/passwd")
	assert.ErrorIs(t, err, model.ErrNotFound)
}
