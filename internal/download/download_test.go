package download

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func buildTarGz(t *testing.T, entryName string, content []byte) []byte {
	t.Helper()

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	require.NoError(t, tw.WriteHeader(&tar.Header{
		Name:     entryName,
		Typeflag: tar.TypeReg,
		Size:     int64(len(content)),
		Mode:     0o644,
	}))
	_, err := tw.Write(content)
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

// withUpstream points upstreamBase at a test server for the duration
// of the calling test.
func withUpstream(t *testing.T, url string) {
	t.Helper()
	original := upstreamBase
	upstreamBase = url
	t.Cleanup(func() { upstreamBase = original })
}

func TestFetchExtractsMMDBEntry(t *testing.T) {
	content := []byte("fake-mmdb-bytes")
	archive := buildTarGz(t, "GeoLite2-Country_20240101/GeoLite2-Country.mmdb", content)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(archive)
	}))
	defer srv.Close()
	withUpstream(t, srv.URL)

	destDir := t.TempDir()
	path, err := Fetch(context.Background(), http.DefaultClient, destDir, "GeoLite2-Country", "testkey")
	require.NoError(t, err)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, content, got)
}

func TestFetchFallsBackToCacheOnUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	withUpstream(t, srv.URL)

	destDir := t.TempDir()
	cached := filepath.Join(destDir, "GeoLite2-Country.mmdb")
	require.NoError(t, os.WriteFile(cached, []byte("cached-bytes"), 0o644))

	path, err := Fetch(context.Background(), http.DefaultClient, destDir, "GeoLite2-Country", "testkey")
	require.NoError(t, err)
	require.Equal(t, cached, path)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, []byte("cached-bytes"), got)
}

func TestFetchErrorsWithoutCacheOrUpstream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	withUpstream(t, srv.URL)

	destDir := t.TempDir()
	_, err := Fetch(context.Background(), http.DefaultClient, destDir, "GeoLite2-Country", "testkey")
	require.Error(t, err)
}

func TestFetchRejectsNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()
	withUpstream(t, srv.URL)

	destDir := t.TempDir()
	_, err := fetchAndUnpack(context.Background(), http.DefaultClient, destDir, "GeoLite2-Country", "testkey")
	require.Error(t, err)
}
