package manifest

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/odvcencio/inhabit/pkg/errors"
)

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.txt")
	content := "# phase two roster\n0xaaa\n\n0xbbb\n0xaaa\n  0xccc  \n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	ids, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	want := []string{"0xaaa", "0xbbb", "0xccc"}
	if !reflect.DeepEqual(ids, want) {
		t.Errorf("Load() = %v, want %v", ids, want)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.txt")); err == nil {
		t.Error("Load() succeeded on a missing file")
	} else if !errors.IsCode(err, errors.ErrCodeManifestLoad) {
		t.Errorf("error code = %v, want MANIFEST_LOAD", errors.GetCode(err))
	}

	empty := filepath.Join(t.TempDir(), "empty.txt")
	if err := os.WriteFile(empty, []byte("# only comments\n\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(empty); err == nil {
		t.Error("Load() accepted a manifest with no ids")
	}
}

func TestWriteRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.txt")
	want := []string{"0xaaa", "0xbbb"}
	if err := Write(path, want); err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("round trip = %v, want %v", got, want)
	}
}

func TestScanDir(t *testing.T) {
	root := t.TempDir()
	for _, unit := range []string{"0xbbb", "0xaaa"} {
		dir := filepath.Join(root, unit)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dir, "interface.json"), []byte("{}"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	// A flat document, a dir without an interface, and noise.
	if err := os.WriteFile(filepath.Join(root, "0xccc.json"), []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(root, "not-a-unit"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "README.md"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	ids, err := ScanDir(root)
	if err != nil {
		t.Fatalf("ScanDir() error: %v", err)
	}
	want := []string{"0xaaa", "0xbbb", "0xccc"}
	if !reflect.DeepEqual(ids, want) {
		t.Errorf("ScanDir() = %v, want %v", ids, want)
	}
}

func TestScanDirEmpty(t *testing.T) {
	if _, err := ScanDir(t.TempDir()); err == nil {
		t.Error("ScanDir() accepted a corpus with no units")
	} else if !errors.IsCode(err, errors.ErrCodeManifestLoad) {
		t.Errorf("error code = %v, want MANIFEST_LOAD", errors.GetCode(err))
	}
}

func TestSample(t *testing.T) {
	ids := []string{"0xa", "0xb", "0xc", "0xd", "0xe"}

	got := Sample(ids, 3, 7)
	if len(got) != 3 {
		t.Fatalf("Sample() returned %d ids, want 3", len(got))
	}
	// Winners keep manifest order.
	pos := map[string]int{}
	for i, id := range ids {
		pos[id] = i
	}
	for i := 1; i < len(got); i++ {
		if pos[got[i-1]] >= pos[got[i]] {
			t.Errorf("Sample() order %v does not follow the manifest", got)
		}
	}

	// Same seed, same pick.
	again := Sample(ids, 3, 7)
	if !reflect.DeepEqual(got, again) {
		t.Errorf("Sample() is not deterministic: %v then %v", got, again)
	}

	// A different seed eventually picks a different subset.
	differs := false
	for seed := int64(0); seed < 32; seed++ {
		if !reflect.DeepEqual(Sample(ids, 3, seed), got) {
			differs = true
			break
		}
	}
	if !differs {
		t.Error("Sample() ignored the seed")
	}
}

func TestSampleBounds(t *testing.T) {
	ids := []string{"0xa", "0xb"}
	if got := Sample(ids, 0, 1); !reflect.DeepEqual(got, ids) {
		t.Errorf("Sample(k=0) = %v, want all ids", got)
	}
	if got := Sample(ids, 5, 1); !reflect.DeepEqual(got, ids) {
		t.Errorf("Sample(k>len) = %v, want all ids", got)
	}
	if got := Sample(nil, 3, 1); len(got) != 0 {
		t.Errorf("Sample(nil) = %v, want empty", got)
	}

	// The input slice is never reordered.
	orig := []string{"0xc", "0xa", "0xb"}
	Sample(orig, 2, 3)
	if !reflect.DeepEqual(orig, []string{"0xc", "0xa", "0xb"}) {
		t.Errorf("Sample() mutated its input: %v", orig)
	}
}
