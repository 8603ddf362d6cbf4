package worker

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/HashDrop/internal/blobstore"
	"github.com/dharsanguruparan/HashDrop/internal/catalog"
	"github.com/dharsanguruparan/HashDrop/internal/export"
	"github.com/dharsanguruparan/HashDrop/internal/model"
	"github.com/dharsanguruparan/HashDrop/internal/queue"
	"github.com/dharsanguruparan/HashDrop/internal/settings"
	"github.com/dharsanguruparan/HashDrop/internal/signing"
)

func newProcessor(t *testing.T) (*Processor, *export.DirSink) {
	t.Helper()
	ctx := context.Background()
	blobs, err := blobstore.New(blobstore.NewMemoryBackend())
	require.NoError(t, err)
	cat := catalog.NewMemoryCatalog()
	for i, name := range []string{"a.json", "b.py"} {
		id, err := blobs.Put(ctx, []byte(name))
		require.NoError(t, err)
		require.NoError(t, cat.Insert(ctx, &model.FileRecord{
			ID:         uuid.NewString(),
			ContentID:  id.String(),
			Filename:   name,
			Visibility: model.VisibilityPublic,
			Tags:       []string{[]string{"ds", "cat"}[i]},
			CreatedAt:  time.Unix(int64(i), 0),
		}))
	}
	sink, err := export.NewDirSink(t.TempDir(), "", signing.NewSigner([]byte("k")))
	require.NoError(t, err)
	packager := export.NewPackager(cat, blobs, settings.NewMemoryStore(nil), nil)
	return NewProcessor(packager, sink, nil), sink
}

func entries(t *testing.T, sink *export.DirSink, name string) []string {
	t.Helper()
	rc, err := sink.Open(context.Background(), name)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	var out []string
	for _, f := range zr.File {
		out = append(out, f.Name)
	}
	return out
}

func TestRunStoresArchive(t *testing.T) {
	p, sink := newProcessor(t)
	name := export.NewArchiveName(time.Now())

	require.NoError(t, p.Run(context.Background(), queue.ExportPayload{Name: name}))
	assert.ElementsMatch(t, []string{"json/a.json", "spider/py/b.py"}, entries(t, sink, name))
}

func TestRunAppliesTagFilter(t *testing.T) {
	p, sink := newProcessor(t)
	name := export.NewArchiveName(time.Now())

	require.NoError(t, p.Run(context.Background(), queue.ExportPayload{Name: name, Tag: "cat"}))
	assert.Equal(t, []string{"spider/py/b.py"}, entries(t, sink, name))
}

func TestRunRejectsBadName(t *testing.T) {
	p, _ := newProcessor(t)
	assert.Error(t, p.Run(context.Background(), queue.ExportPayload{Name: "../x.zip"}))
}

func TestHandlerDispatchesExportTask(t *testing.T) {
	p, sink := newProcessor(t)
	name := export.NewArchiveName(time.Now())
	task, err := queue.NewExportTask(queue.ExportPayload{Name: name})
	require.NoError(t, err)

	require.NoError(t, p.Handler().ProcessTask(context.Background(), task))
	assert.Len(t, entries(t, sink, name), 2)

	err = p.Handler().ProcessTask(context.Background(), asynq.NewTask(queue.ExportPublicTask, []byte("nope")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}
