package vfs

import (
	"sort"

	"github.com/GriffinCanCode/vsite/internal/resolver"
	"github.com/GriffinCanCode/vsite/internal/shared/types"
)

// Store is the read-only virtual file tree.
type Store struct {
	files types.FileTree
	paths []string
}

// NewStore builds a store from a decoded tree. Keys are normalized; when two
// keys normalize to the same path the lexically first one wins.
func NewStore(tree types.FileTree) *Store {
	raw := make([]string, 0, len(tree))
	for k := range tree {
		raw = append(raw, k)
	}
	sort.Strings(raw)

	files := make(types.FileTree, len(tree))
	for _, k := range raw {
		p := resolver.Normalize(k, "")
		if _, dup := files[p]; dup || p == "" {
			continue
		}
		rec := tree[k]
		rec.Path = p
		files[p] = rec
	}

	return &Store{files: files, paths: files.Paths()}
}

// Get looks up a normalized path.
func (s *Store) Get(path string) (types.FileRecord, bool) {
	rec, ok := s.files[path]
	return rec, ok
}

// Paths returns every path in lexical order.
func (s *Store) Paths() []string {
	return append([]string(nil), s.paths...)
}

// Len returns the number of records.
func (s *Store) Len() int {
	return len(s.files)
}

// Tree returns a copy of the tree, for sandboxes that read files directly.
func (s *Store) Tree() types.FileTree {
	out := make(types.FileTree, len(s.files))
	for k, v := range s.files {
		out[k] = v
	}
	return out
}
