package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/blevesearch/bleve/v2"
)

// CurrentFileName names the file holding the active generation.
const CurrentFileName = "CURRENT"

const genPrefix = "gen-"

func genDirName(gen int) string {
	return fmt.Sprintf("%s%06d", genPrefix, gen)
}

func parseGenDirName(name string) (int, bool) {
	if !strings.HasPrefix(name, genPrefix) {
		return 0, false
	}
	var gen int
	if _, err := fmt.Sscanf(strings.TrimPrefix(name, genPrefix), "%d", &gen); err != nil || gen <= 0 {
		return 0, false
	}
	return gen, true
}

// readCurrent returns the active generation of dir, or 0 when CURRENT does
// not exist.
func readCurrent(dir string) (int, error) {
	data, err := os.ReadFile(filepath.Join(dir, CurrentFileName))
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("cannot read %s: %w", CurrentFileName, err)
	}
	gen, ok := parseGenDirName(strings.TrimSpace(string(data)))
	if !ok {
		return 0, fmt.Errorf("%s is corrupt: %q", CurrentFileName, strings.TrimSpace(string(data)))
	}
	return gen, nil
}

// writeCurrent points dir at gen. The rename makes the switch atomic for
// concurrent readers of CURRENT.
func writeCurrent(dir string, gen int) error {
	tmp := filepath.Join(dir, CurrentFileName+".tmp")
	if err := os.WriteFile(tmp, []byte(genDirName(gen)+"\n"), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, CurrentFileName)); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to publish generation %d: %w", gen, err)
	}
	return nil
}

// listGenerations returns the generation numbers present under dir.
func listGenerations(dir string) ([]int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var gens []int
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if gen, ok := parseGenDirName(e.Name()); ok {
			gens = append(gens, gen)
		}
	}
	return gens, nil
}

// validateIndexIntegrity checks that a bleve index directory has a readable
// index_meta.json before it is opened.
func validateIndexIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("index directory missing")
	}

	metaPath := filepath.Join(path, "index_meta.json")
	info, err := os.Stat(metaPath)
	if os.IsNotExist(err) {
		return fmt.Errorf("index_meta.json missing (corrupted index)")
	}
	if err != nil {
		return fmt.Errorf("cannot stat index_meta.json: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("index_meta.json is empty (corrupted)")
	}

	data, err := os.ReadFile(metaPath)
	if err != nil {
		return fmt.Errorf("cannot read index_meta.json: %w", err)
	}
	var meta map[string]any
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is corrupt: %w", err)
	}
	return nil
}

// isCorruptionError reports whether a bleve open error means the index is
// unusable rather than temporarily unavailable.
func isCorruptionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, bleve.ErrorIndexMetaCorrupt) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "unexpected end of JSON") ||
		strings.Contains(msg, "error parsing mapping JSON") ||
		strings.Contains(msg, "failed to load segment") ||
		strings.Contains(msg, "no such file or directory")
}
