package fetch

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/popflow/internal/common"
	"github.com/Veraticus/popflow/internal/storage"
)

const listingHTML = `<html><head><title>download.bls.gov - /pub/time.series/pr/</title></head>
<body><h1>download.bls.gov - /pub/time.series/pr/</h1><hr>
<pre><a href="/pub/time.series/">[To Parent Directory]</a><br><br>
 3/27/2025  8:30 AM      3102 <a href="/pub/time.series/pr/pr.class">pr.class</a><br>
 3/27/2025  8:30 AM   2515210 <a href="/pub/time.series/pr/pr.data.0.Current">pr.data.0.Current</a><br>
 3/27/2025  8:30 AM       412 <a href="pr.footnote">pr.footnote</a><br>
                        &lt;dir&gt; <a href="/pub/time.series/pr/archive/">archive</a><br>
<a href="?C=N;O=D">Name</a> <a href="#top">top</a> <a href="https://elsewhere.example/pr.series">offsite</a>
</pre><hr></body></html>`

// fileServer serves a mutable set of files under /pub/time.series/pr/ with
// ETag support and counts requests per path.
type fileServer struct {
	files map[string]string
	hits  map[string]int
	mu    sync.Mutex
}

func newFileServer(files map[string]string) (*fileServer, *httptest.Server) {
	s := &fileServer{files: files, hits: make(map[string]int)}
	return s, httptest.NewServer(s)
}

func (s *fileServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hits[r.URL.Path]++

	if r.URL.Path == "/pub/time.series/pr/" {
		var buf bytes.Buffer
		buf.WriteString("<html><body><pre>")
		buf.WriteString(`<a href="/pub/time.series/">[To Parent Directory]</a>`)
		for name := range s.files {
			fmt.Fprintf(&buf, `<a href="/pub/time.series/pr/%s">%s</a><br>`, name, name)
		}
		buf.WriteString("</pre></body></html>")
		_, _ = w.Write(buf.Bytes())
		return
	}

	body, ok := s.files[filepath.Base(r.URL.Path)]
	if !ok {
		http.NotFound(w, r)
		return
	}
	etag := `"` + checksum([]byte(body))[:16] + `"`
	w.Header().Set("ETag", etag)
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	_, _ = w.Write([]byte(body))
}

func (s *fileServer) count(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

func (s *fileServer) set(name, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if body == "" {
		delete(s.files, name)
		return
	}
	s.files[name] = body
}

func newManifest(t *testing.T) *storage.SQLiteStorage {
	t.Helper()
	store, err := storage.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestClient_FetchSendsUserAgent(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		_, _ = w.Write([]byte("hello"))
	}))
	defer srv.Close()

	client := NewClient(Options{UserAgent: "popflow-test (ops@example.com)"})
	body, err := client.Fetch(context.Background(), srv.URL+"/file")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(body))
	assert.Equal(t, "popflow-test (ops@example.com)", gotUA)
}

func TestClient_FetchErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	client := NewClient(Options{Timeout: 5 * time.Second})

	_, err := client.Fetch(context.Background(), srv.URL+"/file")
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrNetwork)
	var netErr *common.NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Equal(t, http.StatusForbidden, netErr.StatusCode)

	closed := httptest.NewServer(http.NotFoundHandler())
	closedURL := closed.URL
	closed.Close()

	_, err = client.Fetch(context.Background(), closedURL+"/file")
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrNetwork)
}

func TestClient_FetchShortBody(t *testing.T) {
	tests := []struct {
		name          string
		contentLength string
	}{
		{name: "slightly longer than body", contentLength: "10"},
		{name: "huge declared length", contentLength: "4611686018427387904"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Length", tt.contentLength)
				_, _ = w.Write([]byte("abc"))
			}))
			defer srv.Close()

			client := NewClient(Options{Timeout: 5 * time.Second})
			var err error
			assert.NotPanics(t, func() {
				_, err = client.Fetch(context.Background(), srv.URL+"/file")
			})
			require.Error(t, err)
			assert.ErrorIs(t, err, common.ErrNetwork)
		})
	}
}

func TestClient_FetchWithProgress(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(bytes.Repeat([]byte("x"), 4096))
	}))
	defer srv.Close()

	var progress bytes.Buffer
	client := NewClient(Options{Progress: &progress})
	body, err := client.Fetch(context.Background(), srv.URL+"/big.bin")
	require.NoError(t, err)
	assert.Len(t, body, 4096)
}

func TestParseListing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(listingHTML))
	}))
	defer srv.Close()

	client := NewClient(Options{})
	files, err := client.List(context.Background(), srv.URL+"/pub/time.series/pr")
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"pr.class":          srv.URL + "/pub/time.series/pr/pr.class",
		"pr.data.0.Current": srv.URL + "/pub/time.series/pr/pr.data.0.Current",
		"pr.footnote":       srv.URL + "/pub/time.series/pr/pr.footnote",
	}, files)
}

func TestParseListing_NoLinks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><body><a href="../">up</a></body></html>`))
	}))
	defer srv.Close()

	_, err := NewClient(Options{}).List(context.Background(), srv.URL+"/pub/")
	assert.ErrorIs(t, err, common.ErrParse)
}

func TestDownloader_CachesWithinMaxAge(t *testing.T) {
	files, srv := newFileServer(map[string]string{"pr.data.0.Current": "series_id\tyear\tperiod\tvalue\n"})
	defer srv.Close()

	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	d := NewDownloader(NewClient(Options{}), DownloaderOptions{
		Manifest: newManifest(t),
		MaxAge:   time.Hour,
		Now:      func() time.Time { return now },
	})

	url := srv.URL + "/pub/time.series/pr/pr.data.0.Current"
	path := filepath.Join(t.TempDir(), "dataset1", "pr.data.0.Current")
	ctx := context.Background()

	first, err := d.Download(ctx, url, path)
	require.NoError(t, err)
	assert.False(t, first.FromCache)
	assert.Equal(t, 1, files.count("/pub/time.series/pr/pr.data.0.Current"))

	onDisk, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, first.Body, onDisk)

	second, err := d.Download(ctx, url, path)
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, first.SHA256, second.SHA256)
	assert.Equal(t, 1, files.count("/pub/time.series/pr/pr.data.0.Current"))

	now = now.Add(2 * time.Hour)
	third, err := d.Download(ctx, url, path)
	require.NoError(t, err)
	assert.True(t, third.Revalidated)
	assert.Equal(t, first.Body, third.Body)
	assert.Equal(t, 2, files.count("/pub/time.series/pr/pr.data.0.Current"))
}

func TestDownloader_RefreshAndChangedFile(t *testing.T) {
	files, srv := newFileServer(map[string]string{"usa_population.json": `{"data":[]}`})
	defer srv.Close()

	manifest := newManifest(t)
	url := srv.URL + "/pub/time.series/pr/usa_population.json"
	path := filepath.Join(t.TempDir(), "usa_population.json")
	ctx := context.Background()

	d := NewDownloader(NewClient(Options{}), DownloaderOptions{Manifest: manifest, MaxAge: time.Hour})
	_, err := d.Download(ctx, url, path)
	require.NoError(t, err)

	// A local edit invalidates the cache entry.
	require.NoError(t, os.WriteFile(path, []byte("tampered"), 0o644))
	dl, err := d.Download(ctx, url, path)
	require.NoError(t, err)
	assert.False(t, dl.FromCache)
	assert.Equal(t, `{"data":[]}`, string(dl.Body))

	files.set("usa_population.json", `{"data":[{"Year":"2019"}]}`)
	refresh := NewDownloader(NewClient(Options{}), DownloaderOptions{Manifest: manifest, MaxAge: time.Hour, Refresh: true})
	dl, err = refresh.Download(ctx, url, path)
	require.NoError(t, err)
	assert.False(t, dl.FromCache)
	assert.False(t, dl.Revalidated)
	assert.Equal(t, `{"data":[{"Year":"2019"}]}`, string(dl.Body))
}

func TestDownloader_FailureKeepsPreviousFile(t *testing.T) {
	files, srv := newFileServer(map[string]string{"pr.data.0.Current": "old"})
	defer srv.Close()

	url := srv.URL + "/pub/time.series/pr/pr.data.0.Current"
	path := filepath.Join(t.TempDir(), "pr.data.0.Current")
	ctx := context.Background()

	d := NewDownloader(NewClient(Options{}), DownloaderOptions{})
	_, err := d.Download(ctx, url, path)
	require.NoError(t, err)

	files.set("pr.data.0.Current", "")
	_, err = d.Download(ctx, url, path)
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrNetwork)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "old", string(got))
}

func TestDownloader_Mirror(t *testing.T) {
	files, srv := newFileServer(map[string]string{
		"pr.class":          "class_code\tclass_text\n",
		"pr.data.0.Current": "series_id\tyear\tperiod\tvalue\n",
	})
	defer srv.Close()

	dir := filepath.Join(t.TempDir(), "dataset1")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pr.stale"), []byte("gone upstream"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".keep"), []byte(""), 0o644))

	manifest := newManifest(t)
	d := NewDownloader(NewClient(Options{}), DownloaderOptions{
		Manifest: manifest,
		MaxAge:   time.Hour,
		Limiter:  NewLimiter(6000),
	})
	ctx := context.Background()
	dirURL := srv.URL + "/pub/time.series/pr/"

	result, err := d.Mirror(ctx, dirURL, dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"pr.class", "pr.data.0.Current"}, result.Listed)
	assert.Equal(t, []string{"pr.class", "pr.data.0.Current"}, result.Downloaded)
	assert.Equal(t, []string{"pr.stale"}, result.Removed)
	assert.NoFileExists(t, filepath.Join(dir, "pr.stale"))
	assert.FileExists(t, filepath.Join(dir, ".keep"))

	files.set("pr.class", "")
	result, err = d.Mirror(ctx, dirURL, dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"pr.data.0.Current"}, result.Cached)
	assert.Empty(t, result.Downloaded)
	assert.Equal(t, []string{"pr.class"}, result.Removed)

	records, err := manifest.ListFetches(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, dirURL+"pr.data.0.Current", records[0].URL)
}

func TestNewLimiter(t *testing.T) {
	assert.Nil(t, NewLimiter(0))
	l := NewLimiter(30)
	require.NotNil(t, l)
	assert.InDelta(t, 0.5, float64(l.Limit()), 1e-9)
	assert.Equal(t, 1, l.Burst())
}
