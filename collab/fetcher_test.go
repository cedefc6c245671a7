package collab

import (
	"archive/zip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestFetchDownloadsAndCaches(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		_, _ = w.Write([]byte("payload"))
	}))
	defer srv.Close()

	f, err := NewFetcher(FetcherConfig{CacheDir: t.TempDir()})
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}

	path1, err := f.Fetch(context.Background(), "proj-1", srv.URL, "", false, "")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	path2, err := f.Fetch(context.Background(), "proj-1", srv.URL, "", false, "")
	if err != nil {
		t.Fatalf("second Fetch: %v", err)
	}
	if path1 != path2 {
		t.Fatalf("expected cached path to match, got %q and %q", path1, path2)
	}
	if hits != 1 {
		t.Fatalf("expected exactly one download, got %d", hits)
	}
}

func TestFetchVerifiesChecksum(t *testing.T) {
	body := []byte("payload")
	sum := sha256.Sum256(body)
	hash := hex.EncodeToString(sum[:])

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	f, err := NewFetcher(FetcherConfig{CacheDir: t.TempDir()})
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}

	if _, err := f.Fetch(context.Background(), "proj-1", srv.URL, hash, false, ""); err != nil {
		t.Fatalf("expected matching checksum to succeed, got %v", err)
	}
	if _, err := f.Fetch(context.Background(), "proj-2", srv.URL, "deadbeef", false, ""); err == nil {
		t.Fatal("expected checksum mismatch to fail")
	}
}

func TestFetchNonRetriable4xxFailsImmediately(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f, err := NewFetcher(FetcherConfig{CacheDir: t.TempDir(), Retries: 3})
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}

	if _, err := f.Fetch(context.Background(), "proj-1", srv.URL, "", false, ""); err == nil {
		t.Fatal("expected 404 to fail")
	}
	if hits != 1 {
		t.Fatalf("expected no retries on 4xx, got %d attempts", hits)
	}
}

func TestExtractZipRejectsPathEscape(t *testing.T) {
	dir := t.TempDir()
	zipPath := filepath.Join(dir, "evil.zip")
	writeEvilZip(t, zipPath)

	if err := extractZip(zipPath, filepath.Join(dir, "dest")); err == nil {
		t.Fatal("expected path-escape entry to be rejected")
	}
}

func writeEvilZip(t *testing.T, path string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create zip: %v", err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	w, err := zw.Create("../escape.txt")
	if err != nil {
		t.Fatalf("zip create entry: %v", err)
	}
	if _, err := w.Write([]byte("x")); err != nil {
		t.Fatalf("zip write entry: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
}
