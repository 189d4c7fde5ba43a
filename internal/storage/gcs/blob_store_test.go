package gcs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	defer client.Close()
	_, err = New(client, Config{})
	require.Error(t, err)
}

func TestPutObjectUploadsToBucket(t *testing.T) {
	t.Parallel()

	var (
		mu    sync.Mutex
		paths []string
		body  string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		mu.Lock()
		paths = append(paths, r.URL.Path)
		body += string(data)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintln(w, `{"name":"results/job-1.json","bucket":"crawl-results"}`)
	}))
	defer server.Close()

	client, err := storage.NewClient(context.Background(),
		option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	defer client.Close()

	store, err := New(client, Config{Bucket: "crawl-results"})
	require.NoError(t, err)

	uri, err := store.PutObject(context.Background(), "results/job-1.json", "application/json",
		strings.NewReader(`{"id":"job-1"}`))
	require.NoError(t, err)
	require.Equal(t, "gs://crawl-results/results/job-1.json", uri)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, paths)
	require.Contains(t, paths[0], "/b/crawl-results/o")
	require.Contains(t, body, `{"id":"job-1"}`)
	require.NoError(t, store.Close())
}

func TestPutObjectRequiresPath(t *testing.T) {
	t.Parallel()

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	defer client.Close()
	store, err := New(client, Config{Bucket: "b"})
	require.NoError(t, err)

	_, err = store.PutObject(context.Background(), " ", "", strings.NewReader("x"))
	require.Error(t, err)
}
