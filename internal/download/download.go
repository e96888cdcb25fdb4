// Package download implements the refresh pipeline's upstream fetch:
// pull a MaxMind GeoDB release, unpack its tar.gz archive, and land the
// single .mmdb entry at a stable path. Any failure along the way falls
// back to whatever was already cached on disk, per spec.md §6 — a
// network or upstream outage must never stop the control plane from
// running with its last-known-good GeoDB.
package download

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"

	geoerr "github.com/ishanjain28/geofw/internal/pkg/errors"
)

// upstreamBase is a var, not a const, so tests can point it at a local
// httptest server instead of the real MaxMind endpoint.
var upstreamBase = "https://download.maxmind.com/app/geoip_download"

// Fetch downloads edition's current release using licenseKey, unpacks
// its single .mmdb entry, and writes it to <destDir>/<edition>.mmdb.
// On any error it logs a warning and returns the path to the existing
// cached file, if one is present; only when no cache exists either
// does it return an error.
func Fetch(ctx context.Context, client *http.Client, destDir, edition, licenseKey string) (string, error) {
	cachedPath := filepath.Join(destDir, edition+".mmdb")

	fresh, err := fetchAndUnpack(ctx, client, destDir, edition, licenseKey)
	if err != nil {
		if _, statErr := os.Stat(cachedPath); statErr == nil {
			logrus.WithError(err).WithField("edition", edition).Warn("download: falling back to cached GeoDB")
			return cachedPath, nil
		}
		return "", fmt.Errorf("%w: %v", geoerr.ErrDownload, err)
	}
	return fresh, nil
}

func fetchAndUnpack(ctx context.Context, client *http.Client, destDir, edition, licenseKey string) (string, error) {
	if client == nil {
		client = http.DefaultClient
	}

	reqURL, err := buildURL(edition, licenseKey)
	if err != nil {
		return "", fmt.Errorf("%w: %v", geoerr.ErrDownload, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", geoerr.ErrDownload, err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", geoerr.ErrDownload, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: upstream returned %s", geoerr.ErrDownload, resp.Status)
	}

	bar := progressbar.DefaultBytes(resp.ContentLength, fmt.Sprintf("downloading %s", edition))
	body := io.TeeReader(resp.Body, bar)

	gz, err := gzip.NewReader(body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", geoerr.ErrArchive, err)
	}
	defer gz.Close()

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", fmt.Errorf("%w: %v", geoerr.ErrArchive, err)
	}

	return extractMMDB(gz, destDir, edition)
}

func buildURL(edition, licenseKey string) (string, error) {
	u, err := url.Parse(upstreamBase)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("edition_id", edition)
	q.Set("license_key", licenseKey)
	q.Set("suffix", "tar.gz")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// extractMMDB walks a tar stream looking for the first *.mmdb entry
// (MaxMind ships it inside a dated subdirectory) and writes it to
// <destDir>/<edition>.mmdb.
func extractMMDB(r io.Reader, destDir, edition string) (string, error) {
	tr := tar.NewReader(r)
	destPath := filepath.Join(destDir, edition+".mmdb")

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return "", fmt.Errorf("%w: archive has no .mmdb entry", geoerr.ErrArchive)
		}
		if err != nil {
			return "", fmt.Errorf("%w: %v", geoerr.ErrArchive, err)
		}
		if hdr.Typeflag != tar.TypeReg || !strings.HasSuffix(hdr.Name, ".mmdb") {
			continue
		}

		tmp := destPath + ".tmp"
		out, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
		if err != nil {
			return "", fmt.Errorf("%w: %v", geoerr.ErrArchive, err)
		}
		if _, err := io.Copy(out, tr); err != nil {
			out.Close()
			os.Remove(tmp)
			return "", fmt.Errorf("%w: %v", geoerr.ErrArchive, err)
		}
		if err := out.Close(); err != nil {
			return "", fmt.Errorf("%w: %v", geoerr.ErrArchive, err)
		}
		if err := os.Rename(tmp, destPath); err != nil {
			return "", fmt.Errorf("%w: %v", geoerr.ErrArchive, err)
		}
		return destPath, nil
	}
}
