// Package audio assembles synthesized fragments into a single output file
// and removes the intermediate files afterwards.
package audio

import (
	"fmt"
	"path/filepath"
)

// Fragment is one synthesized chunk on disk. Index is the chunk index the
// audio was produced from; it decides the fragment's place in the output.
type Fragment struct {
	Index int
	Path  string
}

// FragmentPath returns the index-keyed location of a fragment inside a run
// directory.
func FragmentPath(dir string, index int, ext string) string {
	return filepath.Join(dir, fmt.Sprintf("fragment-%05d%s", index, ext))
}

// Paths returns the fragment paths in slice order.
func Paths(fragments []Fragment) []string {
	out := make([]string, len(fragments))
	for i, f := range fragments {
		out[i] = f.Path
	}
	return out
}

func checkOrder(fragments []Fragment) error {
	for i := 1; i < len(fragments); i++ {
		if fragments[i].Index <= fragments[i-1].Index {
			return fmt.Errorf("fragment %d follows %d: indices must be strictly ascending", fragments[i].Index, fragments[i-1].Index)
		}
	}
	return nil
}
