// Package classifier implements component F: per-packet verdict
// computation over an Ethernet frame. Header parsing is hand-rolled,
// bounds-checked byte access — mirroring the ptr_at/EthHdr/Ipv4Hdr style
// of the original eBPF program — rather than a layer-decoding library,
// because allocation-heavy layer objects are unsuited to the restricted
// hot path the production backend runs on (see DESIGN.md).
package classifier

import (
	"net/netip"

	"github.com/ishanjain28/geofw/internal/fastpath"
	"github.com/ishanjain28/geofw/internal/geodb/trie"
	"github.com/ishanjain28/geofw/internal/image"
)

// Verdict is the classification outcome handed back to the network
// stack (or, in software mode, to the capture loop).
type Verdict int

const (
	// Pass lets the frame through: not IP, or IP but not blocked.
	Pass Verdict = iota
	// Drop means the source address matched a blocked country or ASN.
	Drop
	// Abort means the frame itself could not be safely parsed. The
	// host stack treats this as a drop but counts it separately.
	Abort
)

func (v Verdict) String() string {
	switch v {
	case Pass:
		return "PASS"
	case Drop:
		return "DROP"
	case Abort:
		return "ABORT"
	default:
		return "UNKNOWN"
	}
}

const (
	ethHeaderLen     = 14
	ethTypeOffset    = 12
	etherTypeIPv4    = 0x0800
	etherTypeIPv6    = 0x86dd
	ipv4HeaderLen    = 20
	ipv4SrcOffset    = 12
	ipv6HeaderLen    = 40
	ipv6SrcOffset    = 8
	ipv6AddrByteSize = 16
)

// Classifier holds the shared-image channel component F reads the
// current Country and ASN trees from.
type Classifier struct {
	ch image.Channel
}

// New returns a Classifier reading images and parameters from ch.
func New(ch image.Channel) *Classifier {
	return &Classifier{ch: ch}
}

// Classify returns the verdict for one raw Ethernet frame: Abort if the
// frame's headers can't be safely read, Pass for non-IP traffic or
// traffic whose source isn't blocked, Drop otherwise.
//
// A frame shorter than ethHeaderLen aborts rather than passes: the
// original eBPF program's bounds check on the Ethernet header is itself
// the XDP_ABORTED path (ok_or(XDP_PASS)? only covers parse failures
// past this point), so a frame too short to carry an EtherType is
// ground truth for Abort here too, even though it reads as the
// narrowest exception to fail-open.
func (c *Classifier) Classify(pkt []byte) Verdict {
	if len(pkt) < ethHeaderLen {
		return Abort
	}

	etherType := uint16(pkt[ethTypeOffset])<<8 | uint16(pkt[ethTypeOffset+1])

	var addr netip.Addr
	switch etherType {
	case etherTypeIPv4:
		a, ok := sourceIPv4(pkt)
		if !ok {
			return Abort
		}
		addr = a
	case etherTypeIPv6:
		a, ok := sourceIPv6(pkt)
		if !ok {
			return Abort
		}
		addr = a
	default:
		return Pass
	}

	// ASN then Country, short-circuit OR.
	if c.shouldBlock(image.ASN, addr) {
		return Drop
	}
	if c.shouldBlock(image.Country, addr) {
		return Drop
	}
	return Pass
}

func sourceIPv4(pkt []byte) (netip.Addr, bool) {
	ipStart := ethHeaderLen
	if len(pkt) < ipStart+ipv4HeaderLen {
		return netip.Addr{}, false
	}
	versionIHL := pkt[ipStart]
	if versionIHL>>4 != 4 {
		return netip.Addr{}, false
	}
	headerLen := int(versionIHL&0x0f) * 4
	if headerLen < ipv4HeaderLen || len(pkt) < ipStart+headerLen {
		return netip.Addr{}, false
	}

	srcOff := ipStart + ipv4SrcOffset
	var b [4]byte
	copy(b[:], pkt[srcOff:srcOff+4])
	return netip.AddrFrom4(b), true
}

func sourceIPv6(pkt []byte) (netip.Addr, bool) {
	ipStart := ethHeaderLen
	if len(pkt) < ipStart+ipv6HeaderLen {
		return netip.Addr{}, false
	}
	version := pkt[ipStart] >> 4
	if version != 6 {
		return netip.Addr{}, false
	}

	srcOff := ipStart + ipv6SrcOffset
	var b [16]byte
	copy(b[:], pkt[srcOff:srcOff+ipv6AddrByteSize])
	return netip.AddrFrom16(b), true
}

func (c *Classifier) shouldBlock(kind image.Kind, addr netip.Addr) bool {
	meta, ok := c.metadataFor(kind)
	if !ok {
		return false
	}
	img, ok := c.ch.ReadImage(kind)
	if !ok {
		return false
	}
	return fastpath.ShouldBlock(img, meta, addr)
}

func (c *Classifier) metadataFor(kind image.Kind) (trie.Metadata, bool) {
	var nodeParam, sizeParam image.Parameter
	switch kind {
	case image.Country:
		nodeParam, sizeParam = image.ParamCountryNodeCount, image.ParamCountryRecordSize
	case image.ASN:
		nodeParam, sizeParam = image.ParamASNNodeCount, image.ParamASNRecordSize
	default:
		return trie.Metadata{}, false
	}

	nodeCount, ok := c.ch.ReadParam(nodeParam)
	if !ok {
		return trie.Metadata{}, false
	}
	recordSize, ok := c.ch.ReadParam(sizeParam)
	if !ok {
		return trie.Metadata{}, false
	}
	return trie.Metadata{NodeCount: nodeCount, RecordSize: recordSize}, true
}
