// Package manifest manages benchmark unit rosters: package id lists
// on disk, corpus discovery, and deterministic sampling.
package manifest

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/odvcencio/inhabit/pkg/errors"
)

// Load reads a manifest of package ids, one per line. Blank lines and
// lines starting with # are skipped, and duplicates keep their first
// position.
func Load(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeManifestLoad, "failed to open manifest").
			WithContext("path", path)
	}
	defer f.Close()

	var ids []string
	seen := make(map[string]struct{})
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if _, dup := seen[line]; dup {
			continue
		}
		seen[line] = struct{}{}
		ids = append(ids, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeManifestLoad, "failed to read manifest").
			WithContext("path", path)
	}
	if len(ids) == 0 {
		return nil, errors.New(errors.ErrCodeManifestLoad, "manifest contains no package ids").
			WithContext("path", path)
	}
	return ids, nil
}

// Write saves a manifest, one package id per line.
func Write(path string, ids []string) error {
	var b strings.Builder
	for _, id := range ids {
		b.WriteString(id)
		b.WriteByte('\n')
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return errors.Wrap(err, errors.ErrCodeStorageWrite, "failed to write manifest").
			WithContext("path", path)
	}
	return nil
}

// ScanDir discovers benchmark units under a corpus root. A unit is
// either a subdirectory holding interface.json or a top-level
// <id>.json document. Ids come back sorted.
func ScanDir(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeManifestLoad, "failed to scan corpus root").
			WithContext("root", root)
	}

	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		if entry.IsDir() {
			if _, err := os.Stat(filepath.Join(root, name, "interface.json")); err == nil {
				ids = append(ids, name)
			}
			continue
		}
		if strings.HasSuffix(name, ".json") {
			ids = append(ids, strings.TrimSuffix(name, ".json"))
		}
	}
	if len(ids) == 0 {
		return nil, errors.New(errors.ErrCodeManifestLoad, "no interface documents found under corpus root").
			WithContext("root", root).
			WithRemediation("expected <root>/<id>/interface.json or <root>/<id>.json")
	}
	sort.Strings(ids)
	return ids, nil
}

// Sample picks k ids deterministically. Ids are ranked by the digest
// of seed and id, the first k win, and the winners keep their
// manifest order. k <= 0 or k >= len(ids) returns everything.
func Sample(ids []string, k int, seed int64) []string {
	out := make([]string, len(ids))
	copy(out, ids)
	if k <= 0 || k >= len(ids) {
		return out
	}

	ranked := make([]string, len(ids))
	copy(ranked, ids)
	sort.SliceStable(ranked, func(i, j int) bool {
		return sampleRank(seed, ranked[i]) < sampleRank(seed, ranked[j])
	})

	picked := make(map[string]struct{}, k)
	for _, id := range ranked[:k] {
		picked[id] = struct{}{}
	}

	out = out[:0]
	for _, id := range ids {
		if _, ok := picked[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

func sampleRank(seed int64, id string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d|%s", seed, id)))
	return hex.EncodeToString(sum[:])
}
