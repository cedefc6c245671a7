package executor

import (
	"archive/zip"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pithecene-io/workernode/types"
)

func TestASTDenylistScannerFlagsCall(t *testing.T) {
	dir := t.TempDir()
	script := "import os\nos.system('rm -rf /')\n"
	if err := os.WriteFile(filepath.Join(dir, "bad.py"), []byte(script), 0o644); err != nil {
		t.Fatal(err)
	}
	s := ASTDenylistScanner{}
	if err := s.Scan(types.ExecPlan{Cwd: dir}); err == nil {
		t.Fatal("expected denylist violation to be flagged")
	}
}

func TestASTDenylistScannerIgnoresCommentsAndStrings(t *testing.T) {
	dir := t.TempDir()
	script := "# os.system('safe in a comment')\nmsg = \"os.system(also safe)\"\nprint(msg)\n"
	if err := os.WriteFile(filepath.Join(dir, "ok.py"), []byte(script), 0o644); err != nil {
		t.Fatal(err)
	}
	s := ASTDenylistScanner{}
	if err := s.Scan(types.ExecPlan{Cwd: dir}); err != nil {
		t.Fatalf("expected no violation, got %v", err)
	}
}

func TestZipBombScannerFlagsFileCount(t *testing.T) {
	dir := t.TempDir()
	zipPath := filepath.Join(dir, "bomb.zip")
	f, err := os.Create(zipPath)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(f)
	for i := 0; i < 3; i++ {
		w, err := zw.Create("file.txt")
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte("data")); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	f.Close()

	s := ZipBombScanner{MaxFileCount: 2}
	err = s.Scan(types.ExecPlan{Cwd: dir})
	if err == nil || !strings.Contains(err.Error(), "exceeds limit") {
		t.Fatalf("expected file-count violation, got %v", err)
	}
}

func TestZipBombScannerAllowsNormalArchive(t *testing.T) {
	dir := t.TempDir()
	zipPath := filepath.Join(dir, "normal.zip")
	f, err := os.Create(zipPath)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(f)
	w, err := zw.Create("file.txt")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte("hello world")); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	f.Close()

	s := ZipBombScanner{}
	if err := s.Scan(types.ExecPlan{Cwd: dir}); err != nil {
		t.Fatalf("expected no violation, got %v", err)
	}
}
