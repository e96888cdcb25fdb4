// Package fastpath implements component E: the bounded, allocation-free
// search-tree descent the restricted packet-processing environment runs
// on every candidate address. It never decodes a data record — by the
// time an image reaches here, the compactor has already baked every
// blocking decision into trie.BlockMarker, so a descent only needs to
// tell "reached the marker" apart from everything else.
//
// Every exported function here is written to the same discipline a
// verified, no-std execution environment would impose: no heap
// allocation, a statically provable iteration bound, and checked byte
// access that fails open into "not blocked" rather than panicking.
package fastpath

import (
	"net/netip"

	"github.com/ishanjain28/geofw/internal/geodb/trie"
)

// maxDescentSteps bounds the walk at one bit test per address bit: 128
// covers the deepest possible IPv6 tree with no slack left for an
// unbounded loop.
const maxDescentSteps = 128

// ShouldBlock reports whether addr's search-tree descent over image
// reaches trie.BlockMarker. image is expected to be at least
// meta.NodeCount*meta.NodeSize() bytes; a shorter, zero, or otherwise
// malformed image fails open and returns false — a missing or corrupt
// GeoDB must never itself become a reason to drop traffic.
func ShouldBlock(image []byte, meta trie.Metadata, addr netip.Addr) bool {
	nodeSize := meta.NodeSize()
	if nodeSize <= 0 || meta.NodeCount == 0 {
		return false
	}

	searchTreeSize := int(meta.NodeCount) * nodeSize
	if searchTreeSize <= 0 || searchTreeSize > len(image) {
		return false
	}
	tree := image[:searchTreeSize]

	if addr.Is4() {
		a := addr.As4()
		start := uint32(96)
		if meta.IPVersion == 4 || meta.NodeCount <= 96 {
			start = 0
		}
		return descend(tree, meta, a[:], start, 31)
	}
	a := addr.As16()
	return descend(tree, meta, a[:], 0, 127)
}

// descend walks tree starting at startNode/startBit over the bits of
// addrBytes, most significant bit first.
func descend(tree []byte, meta trie.Metadata, addrBytes []byte, startNode uint32, startBit int) bool {
	node := startNode
	widthBits := len(addrBytes) * 8

	for step, bit := 0, startBit; step < maxDescentSteps && bit >= 0 && node < meta.NodeCount; step, bit = step+1, bit-1 {
		left, right, err := trie.ReadNode(meta, tree, node)
		if err != nil {
			return false
		}

		byteIdx := (widthBits - 1 - bit) / 8
		bitPos := uint(bit % 8)
		if byteIdx < 0 || byteIdx >= len(addrBytes) {
			return false
		}

		child := left
		if (addrBytes[byteIdx]>>bitPos)&1 == 1 {
			child = right
		}

		switch {
		case child == trie.BlockMarker:
			return true
		case child == meta.NodeCount:
			return false
		case child < meta.NodeCount:
			node = child
		default:
			// A real, un-blocked data record: present but not blocked.
			return false
		}
	}
	return false
}
