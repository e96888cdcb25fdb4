// Package image implements component D: the shared-memory handoff
// between the control plane, which builds a compacted GeoDB image, and
// the fast plane, which reads it on every packet. Two Channel
// implementations exist: EBPFChannel, backed by cilium/ebpf array maps
// (the shape a real XDP program would read directly), and
// SoftwareChannel, a lock-free in-process stand-in used by the AF_PACKET
// demonstration harness and by tests that cannot assume CAP_BPF.
//
// Both implementations honor the same ordering rule: the parameter
// table (node_count, record_size per DB kind) is written only after the
// image bytes it describes are already visible. A reader that sees a
// fresh parameter table is guaranteed to see an image at least that
// fresh; it may transiently see a newer image with a stale parameter
// table, which a bounded, bounds-checked descent tolerates by simply
// failing to resolve a record (fail open).
package image

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cilium/ebpf"

	geoerr "github.com/ishanjain28/geofw/internal/pkg/errors"
)

// Kind identifies which of the two GeoDB images a map or parameter
// belongs to.
type Kind int

const (
	Country Kind = iota
	ASN
)

func (k Kind) String() string {
	switch k {
	case Country:
		return "country"
	case ASN:
		return "asn"
	default:
		return "unknown"
	}
}

// Parameter names an entry in the shared parameter table. Values match
// the original program's ProgramParameters enumeration so the fast
// plane's parameter layout needs no translation.
type Parameter uint32

const (
	ParamCountryNodeCount  Parameter = 1
	ParamCountryRecordSize Parameter = 2
	ParamASNNodeCount      Parameter = 3
	ParamASNRecordSize     Parameter = 4
)

// imageMapKey is the single entry every image array map holds its
// blob under; each DB kind gets its own map rather than sharing keys
// in one map, so a refresh of one never contends on the other.
const imageMapKey uint32 = 0

// Channel is the control-plane write / fast-plane read contract for
// one pair of GeoDB images (Country, ASN) and their parameter table.
type Channel interface {
	WriteImage(kind Kind, data []byte) error
	ReadImage(kind Kind) ([]byte, bool)
	WriteParam(p Parameter, v uint32) error
	ReadParam(p Parameter) (uint32, bool)
}

// NewImageMapSpec describes the BPF_MAP_TYPE_ARRAY used to hold one
// DB kind's compacted image: a single entry sized to the kind's
// configured capacity.
func NewImageMapSpec(name string, capacityBytes uint32) *ebpf.MapSpec {
	return &ebpf.MapSpec{
		Name:       name,
		Type:       ebpf.Array,
		KeySize:    4,
		ValueSize:  capacityBytes,
		MaxEntries: 1,
	}
}

// NewParamMapSpec describes the BPF_MAP_TYPE_ARRAY backing the shared
// parameter table: one uint32 entry per Parameter.
func NewParamMapSpec(name string) *ebpf.MapSpec {
	return &ebpf.MapSpec{
		Name:       name,
		Type:       ebpf.Array,
		KeySize:    4,
		ValueSize:  4,
		MaxEntries: 8,
	}
}

// EBPFChannel is a Channel backed by real BPF array maps, the shape a
// host-side loader would hand to an attached XDP program. Reads here
// go through a syscall and copy the value; under `geofw run --ebpf` the
// AF_PACKET capture loop's Classifier makes these reads for every frame.
type EBPFChannel struct {
	mu     sync.RWMutex
	images map[Kind]*ebpf.Map
	params *ebpf.Map
}

// NewEBPFChannel wraps already-created maps (one image map per kind,
// one shared parameter map). Map creation and pinning is a host-loader
// concern outside this package's scope.
func NewEBPFChannel(images map[Kind]*ebpf.Map, params *ebpf.Map) *EBPFChannel {
	return &EBPFChannel{images: images, params: params}
}

func (c *EBPFChannel) WriteImage(kind Kind, data []byte) error {
	c.mu.RLock()
	m, ok := c.images[kind]
	c.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: no image map registered for %s", geoerr.ErrMapWrite, kind)
	}
	if err := m.Update(imageMapKey, data, ebpf.UpdateAny); err != nil {
		return fmt.Errorf("%w: writing %s image: %v", geoerr.ErrMapWrite, kind, err)
	}
	return nil
}

func (c *EBPFChannel) ReadImage(kind Kind) ([]byte, bool) {
	c.mu.RLock()
	m, ok := c.images[kind]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	var out []byte
	if err := m.Lookup(imageMapKey, &out); err != nil {
		return nil, false
	}
	return out, true
}

func (c *EBPFChannel) WriteParam(p Parameter, v uint32) error {
	if err := c.params.Update(uint32(p), v, ebpf.UpdateAny); err != nil {
		return fmt.Errorf("%w: writing parameter %d: %v", geoerr.ErrMapWrite, p, err)
	}
	return nil
}

func (c *EBPFChannel) ReadParam(p Parameter) (uint32, bool) {
	var v uint32
	if err := c.params.Lookup(uint32(p), &v); err != nil {
		return 0, false
	}
	return v, true
}

// SoftwareChannel is a Channel implementation with no kernel
// dependency: images are atomically-swapped, immutable byte slices,
// and parameters are individually atomic. A reader always observes a
// complete, self-consistent image — there is nothing to tear, since a
// write never mutates a slice another goroutine might be reading, it
// only swaps the pointer.
type SoftwareChannel struct {
	images [2]atomic.Pointer[[]byte]
	params [5]atomic.Uint32
	isSet  [5]atomic.Bool
}

// NewSoftwareChannel returns an empty channel; ReadImage/ReadParam
// report ok=false until the corresponding Write call has run at least
// once.
func NewSoftwareChannel() *SoftwareChannel {
	return &SoftwareChannel{}
}

func (c *SoftwareChannel) WriteImage(kind Kind, data []byte) error {
	if kind != Country && kind != ASN {
		return fmt.Errorf("%w: unknown image kind %d", geoerr.ErrMapWrite, kind)
	}
	cp := append([]byte(nil), data...)
	c.images[kind].Store(&cp)
	return nil
}

func (c *SoftwareChannel) ReadImage(kind Kind) ([]byte, bool) {
	if kind != Country && kind != ASN {
		return nil, false
	}
	p := c.images[kind].Load()
	if p == nil {
		return nil, false
	}
	return *p, true
}

func (c *SoftwareChannel) WriteParam(p Parameter, v uint32) error {
	if p < ParamCountryNodeCount || p > ParamASNRecordSize {
		return fmt.Errorf("%w: unknown parameter %d", geoerr.ErrMapWrite, p)
	}
	c.params[p].Store(v)
	c.isSet[p].Store(true)
	return nil
}

func (c *SoftwareChannel) ReadParam(p Parameter) (uint32, bool) {
	if p < ParamCountryNodeCount || p > ParamASNRecordSize {
		return 0, false
	}
	if !c.isSet[p].Load() {
		return 0, false
	}
	return c.params[p].Load(), true
}
