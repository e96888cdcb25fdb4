package fastpath

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ishanjain28/geofw/internal/geodb/trie"
)

func put24(buf []byte, off int, v uint32) {
	buf[off] = byte(v >> 16)
	buf[off+1] = byte(v >> 8)
	buf[off+2] = byte(v)
}

// buildOneNodeImage returns a search tree with a single node: bit 31
// clear descends left into trie.BlockMarker, bit 31 set descends right
// into the "no data" sentinel (== node_count).
func buildOneNodeImage() (trie.Metadata, []byte) {
	meta := trie.Metadata{NodeCount: 1, RecordSize: 24}
	tree := make([]byte, meta.NodeSize())
	put24(tree, 0, trie.BlockMarker)
	put24(tree, 3, meta.NodeCount)
	return meta, tree
}

func TestShouldBlockReachesMarker(t *testing.T) {
	meta, image := buildOneNodeImage()
	require.True(t, ShouldBlock(image, meta, netip.MustParseAddr("0.0.0.0")))
}

func TestShouldBlockNoDataIsNotBlocked(t *testing.T) {
	meta, image := buildOneNodeImage()
	require.False(t, ShouldBlock(image, meta, netip.MustParseAddr("128.0.0.0")))
}

func TestShouldBlockFailsOpenOnShortImage(t *testing.T) {
	meta, image := buildOneNodeImage()
	require.False(t, ShouldBlock(image[:2], meta, netip.MustParseAddr("0.0.0.0")))
}

func TestShouldBlockFailsOpenOnEmptyMetadata(t *testing.T) {
	require.False(t, ShouldBlock(nil, trie.Metadata{}, netip.MustParseAddr("0.0.0.0")))
}

func TestShouldBlockIPv6Descent(t *testing.T) {
	meta := trie.Metadata{NodeCount: 1, RecordSize: 24}
	tree := make([]byte, meta.NodeSize())
	put24(tree, 0, trie.BlockMarker) // bit 127 clear -> left
	put24(tree, 3, meta.NodeCount)   // bit 127 set -> right

	require.True(t, ShouldBlock(tree, meta, netip.MustParseAddr("::")))
	require.False(t, ShouldBlock(tree, meta, netip.MustParseAddr("8000::")))
}
