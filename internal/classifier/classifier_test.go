package classifier

import (
	"net"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/require"

	"github.com/ishanjain28/geofw/internal/geodb/trie"
	"github.com/ishanjain28/geofw/internal/image"
)

// buildIPv4Frame serializes a minimal Ethernet+IPv4+UDP frame with the
// given source address, using gopacket purely as a fixture builder —
// production code never decodes frames with it.
func buildIPv4Frame(t *testing.T, src, dst string) []byte {
	t.Helper()

	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 1},
		DstMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 2},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip4 := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.ParseIP(src).To4(),
		DstIP:    net.ParseIP(dst).To4(),
	}
	udp := &layers.UDP{SrcPort: 1234, DstPort: 5678}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip4))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip4, udp, gopacket.Payload("x")))
	return buf.Bytes()
}

func buildIPv6Frame(t *testing.T, src, dst string) []byte {
	t.Helper()

	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 1},
		DstMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 2},
		EthernetType: layers.EthernetTypeIPv6,
	}
	ip6 := &layers.IPv6{
		Version:    6,
		HopLimit:   64,
		NextHeader: layers.IPProtocolUDP,
		SrcIP:      net.ParseIP(src),
		DstIP:      net.ParseIP(dst),
	}
	udp := &layers.UDP{SrcPort: 1234, DstPort: 5678}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip6))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip6, udp, gopacket.Payload("x")))
	return buf.Bytes()
}

func put24(buf []byte, off int, v uint32) {
	buf[off] = byte(v >> 16)
	buf[off+1] = byte(v >> 8)
	buf[off+2] = byte(v)
}

// newOneNodeChannel wires a Country image that blocks every address
// with its top bit clear (e.g. 1.2.3.4), and leaves ASN empty.
func newOneNodeChannel(t *testing.T) *image.SoftwareChannel {
	t.Helper()

	meta := trie.Metadata{NodeCount: 1, RecordSize: 24}
	tree := make([]byte, meta.NodeSize())
	put24(tree, 0, trie.BlockMarker) // left (bit clear) -> blocked
	put24(tree, 3, meta.NodeCount)   // right (bit set) -> no data

	ch := image.NewSoftwareChannel()
	require.NoError(t, ch.WriteImage(image.Country, tree))
	require.NoError(t, ch.WriteParam(image.ParamCountryNodeCount, meta.NodeCount))
	require.NoError(t, ch.WriteParam(image.ParamCountryRecordSize, meta.RecordSize))
	return ch
}

func TestClassifyDropsBlockedSource(t *testing.T) {
	ch := newOneNodeChannel(t)
	c := New(ch)

	// 1.2.3.4 has its top bit clear -> blocked by the Country image.
	frame := buildIPv4Frame(t, "1.2.3.4", "9.9.9.9")
	require.Equal(t, Drop, c.Classify(frame))
}

func TestClassifyPassesUnblockedSource(t *testing.T) {
	ch := newOneNodeChannel(t)
	c := New(ch)

	// 200.1.1.1 has its top bit set -> no data -> not blocked.
	frame := buildIPv4Frame(t, "200.1.1.1", "9.9.9.9")
	require.Equal(t, Pass, c.Classify(frame))
}

func TestClassifyPassesNonIPEthertype(t *testing.T) {
	ch := image.NewSoftwareChannel()
	c := New(ch)

	frame := make([]byte, 14)
	frame[12] = 0x88
	frame[13] = 0x08 // EAPOL, not IPv4/IPv6
	require.Equal(t, Pass, c.Classify(frame))
}

func TestClassifyAbortsOnShortFrame(t *testing.T) {
	c := New(image.NewSoftwareChannel())
	require.Equal(t, Abort, c.Classify([]byte{1, 2, 3}))
}

func TestClassifyAbortsOnTruncatedIPv4(t *testing.T) {
	c := New(image.NewSoftwareChannel())
	frame := buildIPv4Frame(t, "1.2.3.4", "9.9.9.9")
	require.Equal(t, Abort, c.Classify(frame[:20])) // Ethernet + partial IP header
}

func TestClassifyIPv6(t *testing.T) {
	ch := newOneNodeChannel(t)
	c := New(ch)

	frame := buildIPv6Frame(t, "::1", "::2")
	require.Equal(t, Drop, c.Classify(frame))

	frame2 := buildIPv6Frame(t, "8000::1", "::2")
	require.Equal(t, Pass, c.Classify(frame2))
}

func TestClassifyFailsOpenWithoutImage(t *testing.T) {
	c := New(image.NewSoftwareChannel())
	frame := buildIPv4Frame(t, "1.2.3.4", "9.9.9.9")
	require.Equal(t, Pass, c.Classify(frame))
}
