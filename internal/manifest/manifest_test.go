package manifest

import (
	"compress/gzip"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestReadSkipsHeaderAndDuplicates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pubmed24n0001.csv")
	content := "pmid,size\n100,10\n101,20\n100,10\n\n102,5\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	p, err := Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if p.ID != "pubmed24n0001" {
		t.Fatalf("unexpected partition id %q", p.ID)
	}
	want := []string{"100", "101", "102"}
	if len(p.Items) != len(want) {
		t.Fatalf("unexpected items %v", p.Items)
	}
	for i := range want {
		if p.Items[i] != want[i] {
			t.Fatalf("item %d: got %q want %q", i, p.Items[i], want[i])
		}
	}
	if p.Duplicates != 1 {
		t.Fatalf("expected 1 duplicate, got %d", p.Duplicates)
	}
	if p.TotalBytes != 35 {
		t.Fatalf("expected 35 bytes, got %d", p.TotalBytes)
	}
}

func TestReadGzipTSV(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "batch_07.tsv.gz")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	gz := gzip.NewWriter(f)
	if _, err := gz.Write([]byte("a\t1\nb\t2\n")); err != nil {
		t.Fatalf("write gzip: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("close gzip: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close file: %v", err)
	}

	p, err := Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if p.ID != "batch_07" || p.Len() != 2 || p.TotalBytes != 3 {
		t.Fatalf("unexpected partition %+v", p)
	}
}

func TestReadMissingFileIsManifestError(t *testing.T) {
	_, err := Read(filepath.Join(t.TempDir(), "gone.csv"))
	if !errors.Is(err, ErrManifest) {
		t.Fatalf("expected ErrManifest, got %v", err)
	}
	var merr *ManifestError
	if !errors.As(err, &merr) || merr.Partition != "gone" {
		t.Fatalf("expected ManifestError for partition gone, got %v", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected wrapped ErrNotExist, got %v", err)
	}
}

func TestDiscoverAndFind(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.csv", "a.txt", "notes.md", "c.tsv.gz"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	paths, err := Discover(dir)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(paths) != 3 {
		t.Fatalf("expected 3 manifests, got %v", paths)
	}
	if PartitionID(paths[0]) != "a" || PartitionID(paths[2]) != "c" {
		t.Fatalf("unexpected ordering %v", paths)
	}
	found, err := Find(dir, "b")
	if err != nil || filepath.Base(found) != "b.csv" {
		t.Fatalf("Find b: %q %v", found, err)
	}
	if _, err := Find(dir, "zzz"); !errors.Is(err, ErrManifest) {
		t.Fatalf("expected ErrManifest for unknown partition, got %v", err)
	}
}
