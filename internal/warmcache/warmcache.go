// Package warmcache persists the last compacted GeoDB image to disk so
// a restarted control plane can publish a usable image immediately,
// before its first refresh against MaxMind completes. Each image kind
// gets its own sidecar file: a 4-byte big-endian header length, the
// MessagePack-encoded header, then the raw compacted search tree.
package warmcache

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/ishanjain28/geofw/internal/image"
	geoerr "github.com/ishanjain28/geofw/internal/pkg/errors"
)

// headerLenSize is the width of the fixed-size length prefix that
// precedes the MessagePack header in every sidecar file, so Load can
// split header bytes from image bytes without streaming state.
const headerLenSize = 4

// header is the MessagePack-encoded portion of a sidecar file. The
// compacted image bytes follow it directly in the same file, at offset
// headerLenSize plus the encoded header's length.
type header struct {
	NodeCount  uint32 `msgpack:"node_count"`
	RecordSize uint32 `msgpack:"record_size"`
	BuiltAt    int64  `msgpack:"built_at"`
}

// Snapshot is a previously persisted image, ready to publish.
type Snapshot struct {
	Image      []byte
	NodeCount  uint32
	RecordSize uint32
	BuiltAt    int64
}

// Store reads and writes sidecar files under a single directory.
type Store struct {
	dir     string
	nowUnix func() int64
}

// New returns a Store rooted at dir, creating it if necessary. nowUnix
// supplies the BuiltAt timestamp for Save and is normally time.Now().Unix;
// it is a field so tests can supply a fixed clock.
func New(dir string, nowUnix func() int64) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", geoerr.ErrConfig, err)
	}
	return &Store{dir: dir, nowUnix: nowUnix}, nil
}

func (s *Store) path(kind image.Kind) string {
	return filepath.Join(s.dir, kind.String()+".cache")
}

// Save writes compacted's header and bytes to kind's sidecar file,
// replacing any prior contents atomically via a temp-file rename.
func (s *Store) Save(kind image.Kind, compacted []byte, nodeCount, recordSize uint32) error {
	hdr := header{NodeCount: nodeCount, RecordSize: recordSize, BuiltAt: s.nowUnix()}

	encodedHeader, err := msgpack.Marshal(&hdr)
	if err != nil {
		return fmt.Errorf("%w: %v", geoerr.ErrMalformedDB, err)
	}

	out := make([]byte, headerLenSize, headerLenSize+len(encodedHeader)+len(compacted))
	binary.BigEndian.PutUint32(out, uint32(len(encodedHeader)))
	out = append(out, encodedHeader...)
	out = append(out, compacted...)

	dest := s.path(kind)
	tmp := dest + ".tmp"
	if err := os.WriteFile(tmp, out, 0o644); err != nil {
		return fmt.Errorf("%w: %v", geoerr.ErrConfig, err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		return fmt.Errorf("%w: %v", geoerr.ErrConfig, err)
	}
	return nil
}

// Load reads kind's sidecar file, if present. It reports ok=false,
// with no error, when the file does not exist — a cold start is not a
// failure.
func (s *Store) Load(kind image.Kind) (Snapshot, bool, error) {
	raw, err := os.ReadFile(s.path(kind))
	if os.IsNotExist(err) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("%w: %v", geoerr.ErrConfig, err)
	}

	if len(raw) < headerLenSize {
		return Snapshot{}, false, fmt.Errorf("%w: truncated warm-cache file", geoerr.ErrMalformedDB)
	}
	headerLen := int(binary.BigEndian.Uint32(raw))
	if headerLen < 0 || headerLenSize+headerLen > len(raw) {
		return Snapshot{}, false, fmt.Errorf("%w: corrupt warm-cache header", geoerr.ErrMalformedDB)
	}

	var hdr header
	if err := msgpack.Unmarshal(raw[headerLenSize:headerLenSize+headerLen], &hdr); err != nil {
		return Snapshot{}, false, fmt.Errorf("%w: %v", geoerr.ErrMalformedDB, err)
	}

	return Snapshot{
		Image:      append([]byte(nil), raw[headerLenSize+headerLen:]...),
		NodeCount:  hdr.NodeCount,
		RecordSize: hdr.RecordSize,
		BuiltAt:    hdr.BuiltAt,
	}, true, nil
}
