package warmcache

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ishanjain28/geofw/internal/image"
)

func fixedClock(ts int64) func() int64 {
	return func() int64 { return ts }
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	s, err := New(t.TempDir(), fixedClock(1700000000))
	require.NoError(t, err)

	compacted := []byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE}
	require.NoError(t, s.Save(image.Country, compacted, 42, 24))

	snap, ok, err := s.Load(image.Country)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, compacted, snap.Image)
	require.Equal(t, uint32(42), snap.NodeCount)
	require.Equal(t, uint32(24), snap.RecordSize)
	require.Equal(t, int64(1700000000), snap.BuiltAt)
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	s, err := New(t.TempDir(), fixedClock(0))
	require.NoError(t, err)

	_, ok, err := s.Load(image.ASN)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSaveKeepsKindsIndependent(t *testing.T) {
	s, err := New(t.TempDir(), fixedClock(1700000000))
	require.NoError(t, err)

	require.NoError(t, s.Save(image.Country, []byte{1, 2, 3}, 1, 24))
	require.NoError(t, s.Save(image.ASN, []byte{9, 8, 7, 6}, 2, 28))

	country, ok, err := s.Load(image.Country)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte{1, 2, 3}, country.Image)

	asn, ok, err := s.Load(image.ASN)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte{9, 8, 7, 6}, asn.Image)
}

func TestSaveOverwritesPreviousSnapshot(t *testing.T) {
	s, err := New(t.TempDir(), fixedClock(1))
	require.NoError(t, err)

	require.NoError(t, s.Save(image.Country, []byte{1, 1, 1}, 1, 24))
	require.NoError(t, s.Save(image.Country, []byte{2, 2, 2, 2}, 5, 28))

	snap, ok, err := s.Load(image.Country)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte{2, 2, 2, 2}, snap.Image)
	require.Equal(t, uint32(5), snap.NodeCount)
}

func TestLoadRejectsTruncatedFile(t *testing.T) {
	s, err := New(t.TempDir(), fixedClock(0))
	require.NoError(t, err)

	require.NoError(t, s.Save(image.Country, []byte{1, 2, 3}, 1, 24))

	// Truncate to fewer bytes than the length prefix itself.
	require.NoError(t, os.Truncate(s.path(image.Country), 2))

	_, _, err = s.Load(image.Country)
	require.Error(t, err)
}
