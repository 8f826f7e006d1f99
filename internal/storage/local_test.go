package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func newLocal(t *testing.T) *LocalStorage {
	t.Helper()
	storage, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}
	return storage
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "src.json")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}
	return path
}

func TestLocalStorage_UploadDownload(t *testing.T) {
	storage := newLocal(t)
	ctx := context.Background()
	srcPath := writeFile(t, `{"hello":"world"}`)

	objectPath := "snapshots/a.json"
	if err := storage.Upload(ctx, srcPath, objectPath); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}

	exists, err := storage.Exists(ctx, objectPath)
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if !exists {
		t.Error("expected object to exist")
	}

	dstPath := filepath.Join(t.TempDir(), "nested", "downloaded.json")
	if err := storage.Download(ctx, objectPath, dstPath); err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	downloaded, err := os.ReadFile(dstPath)
	if err != nil {
		t.Fatalf("failed to read downloaded file: %v", err)
	}
	if string(downloaded) != `{"hello":"world"}` {
		t.Errorf("content mismatch: got %q", downloaded)
	}

	if err := storage.Delete(ctx, objectPath); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	exists, err = storage.Exists(ctx, objectPath)
	if err != nil {
		t.Fatalf("Exists after delete failed: %v", err)
	}
	if exists {
		t.Error("expected object to not exist after delete")
	}

	if err := storage.Delete(ctx, objectPath); err != nil {
		t.Errorf("deleting a missing object should succeed, got %v", err)
	}
}

func TestLocalStorage_UploadOverwrites(t *testing.T) {
	storage := newLocal(t)
	ctx := context.Background()

	if err := storage.Upload(ctx, writeFile(t, "one"), "obj.json"); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if err := storage.Upload(ctx, writeFile(t, "two"), "obj.json"); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}

	dst := filepath.Join(t.TempDir(), "out")
	if err := storage.Download(ctx, "obj.json", dst); err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	got, _ := os.ReadFile(dst)
	if string(got) != "two" {
		t.Errorf("got %q, want %q", got, "two")
	}
}

func TestLocalStorage_DownloadNotFound(t *testing.T) {
	storage := newLocal(t)
	dstPath := filepath.Join(t.TempDir(), "downloaded.txt")

	err := storage.Download(context.Background(), "nonexistent/object.txt", dstPath)
	if !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("expected ErrObjectNotFound, got %v", err)
	}
}

func TestLocalStorage_ListObjects(t *testing.T) {
	storage := newLocal(t)
	ctx := context.Background()
	src := writeFile(t, "{}")

	for _, p := range []string{"snapshots/b.json", "snapshots/a.json", "other/c.json", "snapshots/deep/d.json"} {
		if err := storage.Upload(ctx, src, p); err != nil {
			t.Fatalf("Upload %s failed: %v", p, err)
		}
	}

	got, err := storage.ListObjects(ctx, "snapshots")
	if err != nil {
		t.Fatalf("ListObjects failed: %v", err)
	}
	want := []string{"snapshots/a.json", "snapshots/b.json", "snapshots/deep/d.json"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ListObjects = %v, want %v", got, want)
	}

	empty, err := storage.ListObjects(ctx, "missing")
	if err != nil {
		t.Fatalf("ListObjects on missing prefix failed: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("expected no objects, got %v", empty)
	}
}

func TestLocalStorage_CanceledContext(t *testing.T) {
	storage := newLocal(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := storage.Upload(ctx, writeFile(t, "x"), "x.json"); !errors.Is(err, context.Canceled) {
		t.Errorf("Upload: expected context.Canceled, got %v", err)
	}
	if _, err := storage.ListObjects(ctx, ""); !errors.Is(err, context.Canceled) {
		t.Errorf("ListObjects: expected context.Canceled, got %v", err)
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, Options{Path: t.TempDir()})
	if err != nil {
		t.Fatalf("Open local failed: %v", err)
	}
	if _, ok := s.(*LocalStorage); !ok {
		t.Errorf("expected *LocalStorage, got %T", s)
	}

	if _, err := Open(ctx, Options{Type: TypeS3}); err == nil {
		t.Error("expected an error for s3 without a bucket")
	}
	if _, err := Open(ctx, Options{Type: "ftp"}); err == nil {
		t.Error("expected an error for an unknown type")
	}
}

func TestJoinPath(t *testing.T) {
	tests := []struct {
		elem []string
		want string
	}{
		{[]string{"snapshots", "a.json"}, "snapshots/a.json"},
		{[]string{"/snapshots/", "/a.json"}, "snapshots/a.json"},
		{[]string{"", "a.json"}, "a.json"},
		{[]string{"a/b", "c"}, "a/b/c"},
	}
	for _, tt := range tests {
		if got := JoinPath(tt.elem...); got != tt.want {
			t.Errorf("JoinPath(%q) = %q, want %q", tt.elem, got, tt.want)
		}
	}
}
