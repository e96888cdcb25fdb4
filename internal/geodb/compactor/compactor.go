// Package compactor implements component C: a predicate-driven rewrite
// of a GeoDB search tree that replaces every leaf record matching the
// predicate with trie.BlockMarker in its parent's child slot. The data
// section and metadata trailer are left untouched — only the returned
// copy of the search tree bytes changes.
package compactor

import (
	"fmt"

	"github.com/ishanjain28/geofw/internal/geodb/decoder"
	"github.com/ishanjain28/geofw/internal/geodb/trie"
	geoerr "github.com/ishanjain28/geofw/internal/pkg/errors"
)

// maxDepth bounds the DFS stack: no well-formed GeoDB search tree
// descends deeper than one bit test per address bit, so 128 covers
// both IPv4 and IPv6 trees with room to spare.
const maxDepth = 128

// Predicate decides whether the data record at a leaf should be
// blocked. It is called at most once per distinct record encountered
// during the walk (shared subtrees are only visited once).
type Predicate func(record decoder.Value) (bool, error)

type frame struct {
	node  uint32
	depth int
}

// Compact walks t's search tree from its root and returns a rewritten
// copy in which every leaf record satisfying predicate has been
// replaced, in its parent node, with trie.BlockMarker. Compact never
// modifies t itself.
//
// Compact is idempotent: nodes already carrying trie.BlockMarker are
// left as-is rather than re-resolved as data pointers, so running it
// again on its own output changes nothing.
func Compact(t *trie.Tree, predicate Predicate) ([]byte, error) {
	meta := t.Metadata()
	src := t.SearchTree()

	out := make([]byte, len(src))
	copy(out, src)

	if meta.NodeCount == 0 {
		return out, nil
	}

	dec := t.DataDecoder()
	visited := make([]bool, meta.NodeCount)
	blocked := make(map[uint32]bool)

	stack := []frame{{node: 0, depth: 0}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if f.node >= meta.NodeCount {
			return nil, fmt.Errorf("%w: node %d out of range (node_count %d)", geoerr.ErrMalformedDB, f.node, meta.NodeCount)
		}
		if visited[f.node] {
			continue
		}
		visited[f.node] = true

		if f.depth > maxDepth {
			return nil, fmt.Errorf("%w: search tree exceeds max depth %d at node %d", geoerr.ErrMalformedDB, maxDepth, f.node)
		}

		left, right, err := trie.ReadNode(meta, src, f.node)
		if err != nil {
			return nil, err
		}

		children := [2]struct {
			value  uint32
			isLeft bool
		}{
			{left, true},
			{right, false},
		}

		for _, c := range children {
			switch {
			case c.value == meta.NodeCount:
				// no data at this leaf
			case c.value == trie.BlockMarker:
				// already blocked by a prior compaction pass
			case c.value < meta.NodeCount:
				stack = append(stack, frame{node: c.value, depth: f.depth + 1})
			default:
				block, ok := blocked[c.value]
				if !ok {
					record, _, err := dec.Decode(trie.RecordOffset(meta, c.value))
					if err != nil {
						return nil, err
					}
					block, err = predicate(record)
					if err != nil {
						return nil, err
					}
					blocked[c.value] = block
				}
				if block {
					if err := trie.WriteChild(meta, out, f.node, c.isLeft, trie.BlockMarker); err != nil {
						return nil, err
					}
				}
			}
		}
	}

	return out, nil
}
