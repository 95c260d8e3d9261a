package vfs

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/GriffinCanCode/vsite/internal/shared/types"
	"github.com/bytedance/sonic"
	"github.com/goccy/go-yaml"
	"github.com/pelletier/go-toml/v2"
)

// ManifestFormat selects the encoding of the extracted tree manifest.
type ManifestFormat string

const (
	ManifestJSON ManifestFormat = "json"
	ManifestYAML ManifestFormat = "yaml"
	ManifestTOML ManifestFormat = "toml"
)

// manifestDataLimit is how much of each record's data the manifest keeps.
const manifestDataLimit = 100

// ExtractResult summarises an extraction.
type ExtractResult struct {
	Files    int
	Bytes    int64
	Manifest string
}

// Extract writes every record below dir and a file_tree manifest next to them.
// Store keys never contain "..", so every file lands inside dir.
func Extract(s *Store, dir string, format ManifestFormat) (*ExtractResult, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	res := &ExtractResult{}
	for _, p := range s.Paths() {
		rec, _ := s.Get(p)
		data, err := Decode(rec)
		if err != nil {
			return res, err
		}

		target := filepath.Join(dir, filepath.FromSlash(p))
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return res, err
		}
		if err := os.WriteFile(target, data, 0o644); err != nil {
			return res, err
		}
		res.Files++
		res.Bytes += int64(len(data))
	}

	body, err := Manifest(s, format)
	if err != nil {
		return res, err
	}
	res.Manifest = filepath.Join(dir, "file_tree."+string(format))
	if err := os.WriteFile(res.Manifest, body, 0o644); err != nil {
		return res, err
	}
	return res, nil
}

// Manifest encodes the tree with every data field truncated.
func Manifest(s *Store, format ManifestFormat) ([]byte, error) {
	tree := make(types.FileTree, s.Len())
	for _, p := range s.Paths() {
		rec, _ := s.Get(p)
		if len(rec.Data) > manifestDataLimit {
			rec.Data = rec.Data[:manifestDataLimit] + "..."
		}
		tree[p] = rec
	}

	switch format {
	case ManifestJSON:
		return sonic.ConfigStd.MarshalIndent(tree, "", "  ")
	case ManifestYAML:
		return yaml.Marshal(tree)
	case ManifestTOML:
		return toml.Marshal(tree)
	default:
		return nil, fmt.Errorf("unknown manifest format %q", format)
	}
}
