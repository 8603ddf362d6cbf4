package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/HashDrop/internal/auth"
	"github.com/dharsanguruparan/HashDrop/internal/blobstore"
	"github.com/dharsanguruparan/HashDrop/internal/catalog"
	"github.com/dharsanguruparan/HashDrop/internal/export"
	"github.com/dharsanguruparan/HashDrop/internal/files"
	"github.com/dharsanguruparan/HashDrop/internal/model"
	"github.com/dharsanguruparan/HashDrop/internal/queue"
	"github.com/dharsanguruparan/HashDrop/internal/settings"
	"github.com/dharsanguruparan/HashDrop/internal/signing"
)

type recordingEnqueuer struct {
	mu   sync.Mutex
	jobs []queue.ExportPayload
	err  error
}

func (e *recordingEnqueuer) EnqueueExport(_ context.Context, p queue.ExportPayload) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return e.err
	}
	e.jobs = append(e.jobs, p)
	return nil
}

func (e *recordingEnqueuer) snapshot() []queue.ExportPayload {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]queue.ExportPayload(nil), e.jobs...)
}

type testEnv struct {
	srv      *httptest.Server
	settings *settings.MemoryStore
	sink     *export.DirSink
	enqueuer *recordingEnqueuer
	resolver *auth.Resolver
}

func newTestEnv(t *testing.T, overrides map[string]string) *testEnv {
	t.Helper()
	blobs, err := blobstore.New(blobstore.NewMemoryBackend())
	require.NoError(t, err)
	st := settings.NewMemoryStore(overrides)
	cat := catalog.NewMemoryCatalog()
	sink, err := export.NewDirSink(t.TempDir(), "", signing.NewSigner([]byte("sign-key")))
	require.NoError(t, err)
	resolver := auth.NewResolver([]byte("jwt-key"))
	enq := &recordingEnqueuer{}

	s := New(Deps{
		Files:    files.NewService(st, cat, blobs, nil),
		Packager: export.NewPackager(cat, blobs, st, nil),
		Exports:  sink,
		Enqueuer: enq,
		Resolver: resolver,
		URLTTL:   time.Minute,
	})
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, settings: st, sink: sink, enqueuer: enq, resolver: resolver}
}

func (e *testEnv) token(t *testing.T, id string, role model.Role) string {
	t.Helper()
	tok, err := e.resolver.Issue(model.Principal{ID: id, Role: role}, time.Hour)
	require.NoError(t, err)
	return tok
}

func (e *testEnv) do(t *testing.T, method, path, token string, body io.Reader, contentType string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, body)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *testEnv) upload(t *testing.T, token, query, filename, content string, tags ...string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, tag := range tags {
		require.NoError(t, mw.WriteField("tags", tag))
	}
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = io.WriteString(fw, content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return e.do(t, http.MethodPost, "/api/files/upload"+query, token, &buf, mw.FormDataContentType())
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func errorCode(t *testing.T, resp *http.Response) string {
	t.Helper()
	return decode[errorBody](t, resp).Error.Code
}

func TestHealth(t *testing.T) {
	e := newTestEnv(t, nil)
	resp := e.do(t, http.MethodGet, "/healthz", "", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	e := newTestEnv(t, nil)
	e.do(t, http.MethodGet, "/healthz", "", nil, "")
	resp := e.do(t, http.MethodGet, "/metrics", "", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "hashdrop_http_requests_total")
}

func TestUploadErrors(t *testing.T) {
	e := newTestEnv(t, map[string]string{settings.KeyMaxFileSize: "16"})
	alice := e.token(t, "alice", model.RoleUser)

	tests := []struct {
		name     string
		token    string
		query    string
		filename string
		content  string
		tags     []string
		status   int
		code     string
	}{
		{"anonymous disabled", "", "", "a.json", "{}", nil, http.StatusUnauthorized, CodeUnauthorized},
		{"bad extension", alice, "", "a.csv", "x", nil, http.StatusBadRequest, CodeUnsupportedType},
		{"too large", alice, "", "a.txt", strings.Repeat("x", 17), nil, http.StatusRequestEntityTooLarge, CodeFileTooLarge},
		{"unknown tag", alice, "", "a.txt", "x", []string{"nope"}, http.StatusBadRequest, CodeInvalidTag},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp := e.upload(t, tc.token, tc.query, tc.filename, tc.content, tc.tags...)
			assert.Equal(t, tc.status, resp.StatusCode)
			assert.Equal(t, tc.code, errorCode(t, resp))
		})
	}
}

func TestUploadMissingFilePart(t *testing.T) {
	e := newTestEnv(t, nil)
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("note", "hi"))
	require.NoError(t, mw.Close())
	resp := e.do(t, http.MethodPost, "/api/files/upload", e.token(t, "alice", model.RoleUser), &buf, mw.FormDataContentType())
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, CodeValidation, errorCode(t, resp))
}

func TestAnonymousPrivateUploadNeedsAccount(t *testing.T) {
	e := newTestEnv(t, map[string]string{settings.KeyAnonymousUpload: "true"})
	resp := e.upload(t, "", "?is_public=false", "a.json", "{}")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestUploadListDownloadLifecycle(t *testing.T) {
	e := newTestEnv(t, map[string]string{settings.KeyAnonymousPreview: "true"})
	alice := e.token(t, "alice", model.RoleUser)
	bob := e.token(t, "bob", model.RoleUser)

	resp := e.upload(t, alice, "", "spider.py", "print('hi')", "cat,ds")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	pub := decode[model.FileRecord](t, resp)
	assert.Equal(t, model.VisibilityPublic, pub.Visibility)
	assert.Equal(t, []string{"cat", "ds"}, pub.Tags)
	assert.Equal(t, "alice", pub.OwnerID)

	resp = e.upload(t, alice, "?is_public=false", "secret.txt", "hidden")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	priv := decode[model.FileRecord](t, resp)

	t.Run("list respects visibility", func(t *testing.T) {
		page := decode[catalog.Page](t, e.do(t, http.MethodGet, "/api/files/list", "", nil, ""))
		assert.Equal(t, 1, page.Total)

		page = decode[catalog.Page](t, e.do(t, http.MethodGet, "/api/files/list?limit=1", alice, nil, ""))
		assert.Equal(t, 2, page.Total)
		assert.Equal(t, 2, page.TotalPages)
		assert.Len(t, page.Records, 1)

		page = decode[catalog.Page](t, e.do(t, http.MethodGet, "/api/files/list?tag=CAT", bob, nil, ""))
		require.Len(t, page.Records, 1)
		assert.Equal(t, pub.ID, page.Records[0].ID)
	})

	t.Run("anonymous preview forces plain text", func(t *testing.T) {
		resp := e.do(t, http.MethodGet, "/api/files/download/"+pub.ContentID+"?preview=true", "", nil, "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "text/plain; charset=utf-8", resp.Header.Get("Content-Type"))
		assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Disposition"), "inline"))
		body, _ := io.ReadAll(resp.Body)
		assert.Equal(t, "print('hi')", string(body))
	})

	t.Run("anonymous download stays disabled", func(t *testing.T) {
		resp := e.do(t, http.MethodGet, "/api/files/download/"+pub.ContentID, "", nil, "")
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("token query parameter authenticates", func(t *testing.T) {
		resp := e.do(t, http.MethodGet, "/api/files/download/"+priv.ContentID+"?token="+url.QueryEscape(alice), "", nil, "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Disposition"), "attachment"))
	})

	t.Run("private record is forbidden to others", func(t *testing.T) {
		resp := e.do(t, http.MethodGet, "/api/files/download/"+priv.ContentID, bob, nil, "")
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		resp = e.do(t, http.MethodGet, "/api/files/"+priv.ID, bob, nil, "")
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("unknown content is not found", func(t *testing.T) {
		resp := e.do(t, http.MethodGet, "/api/files/download/"+strings.Repeat("0", 64), alice, nil, "")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("retag", func(t *testing.T) {
		resp := e.do(t, http.MethodPut, "/api/files/"+pub.ID+"/tags", alice, strings.NewReader(`{"tags":["bogus"]}`), "application/json")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, CodeInvalidTag, errorCode(t, resp))

		resp = e.do(t, http.MethodPut, "/api/files/"+pub.ID+"/tags", bob, strings.NewReader(`{"tags":["ds"]}`), "application/json")
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)

		resp = e.do(t, http.MethodPut, "/api/files/"+pub.ID+"/tags", alice, strings.NewReader(`{"tags":["hipy"]}`), "application/json")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, []string{"hipy"}, decode[model.FileRecord](t, resp).Tags)

		resp = e.do(t, http.MethodPut, "/api/files/"+pub.ID+"/tags", alice, strings.NewReader(`nope`), "application/json")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("toggle visibility", func(t *testing.T) {
		resp := e.do(t, http.MethodPost, "/api/files/"+pub.ID+"/toggle-visibility", alice, nil, "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, model.VisibilityPrivate, decode[model.FileRecord](t, resp).Visibility)

		page := decode[catalog.Page](t, e.do(t, http.MethodGet, "/api/files/list", "", nil, ""))
		assert.Equal(t, 0, page.Total)
	})

	t.Run("delete", func(t *testing.T) {
		resp := e.do(t, http.MethodDelete, "/api/files/"+priv.ID, bob, nil, "")
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)

		resp = e.do(t, http.MethodDelete, "/api/files/"+priv.ID, alice, nil, "")
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)

		resp = e.do(t, http.MethodGet, "/api/files/"+priv.ID, alice, nil, "")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestPublicSettings(t *testing.T) {
	e := newTestEnv(t, map[string]string{settings.KeyAnonymousUpload: "true"})
	resp := e.do(t, http.MethodGet, "/api/settings/public", "", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decode[files.PublicSettings](t, resp)
	assert.True(t, out.AnonymousUpload)
	assert.Contains(t, out.AllowedExtensions, ".json")
}

func TestStreamedExport(t *testing.T) {
	e := newTestEnv(t, nil)
	alice := e.token(t, "alice", model.RoleUser)
	require.Equal(t, http.StatusCreated, e.upload(t, alice, "", "list.m3u", "#EXTM3U", "ds").StatusCode)
	require.Equal(t, http.StatusCreated, e.upload(t, alice, "", "a.js", "1", "dr2").StatusCode)
	require.Equal(t, http.StatusCreated, e.upload(t, alice, "?is_public=false", "b.js", "2").StatusCode)

	resp := e.do(t, http.MethodGet, "/api/exports/public", "", nil, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "anonymous export follows anonymous_download")

	resp = e.do(t, http.MethodGet, "/api/exports/public", alice, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/zip", resp.Header.Get("Content-Type"))
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.ElementsMatch(t, []string{"json/list.m3u", "spider/js_dr2/a.js"}, names)
}

func TestBackgroundExport(t *testing.T) {
	e := newTestEnv(t, nil)
	alice := e.token(t, "alice", model.RoleUser)

	resp := e.do(t, http.MethodPost, "/api/exports?tag=ds", "", nil, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = e.do(t, http.MethodPost, "/api/exports?tag=ds", alice, nil, "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	accepted := decode[exportAccepted](t, resp)
	require.True(t, export.ValidName(accepted.Name))
	jobs := e.enqueuer.snapshot()
	require.Len(t, jobs, 1)
	assert.Equal(t, queue.ExportPayload{Name: accepted.Name, Tag: "ds", RequestedBy: "alice"}, jobs[0])

	resp = e.do(t, http.MethodGet, "/api/exports/"+accepted.Name+"/url", alice, nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "archive not built yet")

	require.NoError(t, e.sink.Put(context.Background(), accepted.Name, strings.NewReader("zipbytes"), 8))

	resp = e.do(t, http.MethodGet, "/api/exports/"+accepted.Name+"/url", alice, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	link := decode[exportURL](t, resp)
	assert.Equal(t, int64(60), link.ExpiresIn)

	resp = e.do(t, http.MethodGet, link.URL, "", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "zipbytes", string(body))

	tampered := strings.Replace(link.URL, "signature=", "signature=00", 1)
	resp = e.do(t, http.MethodGet, tampered, "", nil, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = e.do(t, http.MethodGet, "/api/exports/nope.zip?expires=1&signature=x", "", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestBackgroundExportQueueFailure(t *testing.T) {
	e := newTestEnv(t, nil)
	e.enqueuer.mu.Lock()
	e.enqueuer.err = assert.AnError
	e.enqueuer.mu.Unlock()
	resp := e.do(t, http.MethodPost, "/api/exports", e.token(t, "alice", model.RoleUser), nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, CodeQueueUnavailable, errorCode(t, resp))
}

func TestCORSPreflight(t *testing.T) {
	e := newTestEnv(t, nil)
	resp := e.do(t, http.MethodOptions, "/api/files/list", "", nil, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}
