package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/loqalabs/loqa-podcast/internal/config"
)

func TestFilesystemPutOverwrites(t *testing.T) {
	root := t.TempDir()
	store, err := NewFilesystemStore(root)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()
	if _, err := store.Put(ctx, "podcasts", "abc.wav", []byte("first"), "audio/wav"); err != nil {
		t.Fatalf("put: %v", err)
	}
	path, err := store.Put(ctx, "podcasts", "abc.wav", []byte("second"), "audio/wav")
	if err != nil {
		t.Fatalf("put again: %v", err)
	}
	if path != filepath.Join(root, "podcasts", "abc.wav") {
		t.Fatalf("unexpected path %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "second" {
		t.Fatalf("expected upsert, got %q", data)
	}
	entries, _ := os.ReadDir(filepath.Join(root, "podcasts"))
	if len(entries) != 1 {
		t.Fatalf("expected temp files cleaned up, found %d entries", len(entries))
	}
}

func TestFilesystemNestedKeys(t *testing.T) {
	store, _ := NewFilesystemStore(t.TempDir())
	path, err := store.Put(context.Background(), "podcast-authors", "pod-1/host.png", []byte{1}, "image/png")
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if filepath.Base(filepath.Dir(path)) != "pod-1" {
		t.Fatalf("expected nested key, got %s", path)
	}
}

func TestRejectsEscapingKeys(t *testing.T) {
	store, _ := NewFilesystemStore(t.TempDir())
	for _, key := range []string{"../evil", "/abs", "a/../../b", ""} {
		if _, err := store.Put(context.Background(), "podcasts", key, []byte{1}, ""); err == nil {
			t.Fatalf("expected key %q to be rejected", key)
		}
	}
	if _, err := store.Put(context.Background(), "../up", "k", []byte{1}, ""); err == nil {
		t.Fatal("expected bucket to be rejected")
	}
}

func TestS3PutUsesPathStyleEndpoint(t *testing.T) {
	var (
		mu          sync.Mutex
		gotPath     string
		gotBody     string
		contentType string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		gotPath, gotBody, contentType = r.URL.Path, string(body), r.Header.Get("Content-Type")
		mu.Unlock()
		if r.Method != http.MethodPut {
			t.Errorf("unexpected method %s", r.Method)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store, err := NewS3Store(S3Options{
		Region:         "us-east-1",
		Endpoint:       srv.URL,
		ForcePathStyle: true,
		Credentials:    credentials.NewStaticCredentials("id", "secret", ""),
	})
	if err != nil {
		t.Fatalf("new s3 store: %v", err)
	}
	url, err := store.Put(context.Background(), "podcasts", "pod-1.wav", []byte("RIFF"), "audio/wav")
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if gotPath != "/podcasts/pod-1.wav" || gotBody != "RIFF" || contentType != "audio/wav" {
		t.Fatalf("unexpected request path=%s body=%q type=%s", gotPath, gotBody, contentType)
	}
	if url != srv.URL+"/podcasts/pod-1.wav" {
		t.Fatalf("unexpected url %s", url)
	}
}

func TestNewSelectsBackend(t *testing.T) {
	if _, err := New(config.StorageConfig{Mode: "filesystem", Root: t.TempDir()}); err != nil {
		t.Fatalf("filesystem: %v", err)
	}
	if _, err := New(config.StorageConfig{Mode: "ftp"}); err == nil {
		t.Fatal("expected unknown mode error")
	}
}
