// Package controlplane implements the single cooperative event loop
// that wires components A through D together: download a GeoDB
// release, parse its metadata and search tree, compact it against the
// configured country/ASN block sets, and publish the result to the
// shared image channel the fast plane reads. It runs once at startup
// and then on every refresh_interval tick, cancelled by ctx.
package controlplane

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/ishanjain28/geofw/internal/download"
	"github.com/ishanjain28/geofw/internal/geodb/compactor"
	"github.com/ishanjain28/geofw/internal/geodb/record"
	"github.com/ishanjain28/geofw/internal/geodb/trie"
	"github.com/ishanjain28/geofw/internal/image"
	geoerr "github.com/ishanjain28/geofw/internal/pkg/errors"
	"github.com/ishanjain28/geofw/internal/stats"
	"github.com/ishanjain28/geofw/internal/warmcache"
)

// Config is the subset of the loaded config.json the control plane
// needs to drive a refresh.
type Config struct {
	RefreshInterval time.Duration
	DBPath          string
	MaxMindKey      string
	CountryEdition  string
	ASNEdition      string
	SourceCountries map[string]struct{}
	SourceASN       map[uint32]struct{}
}

// ControlPlane owns the refresh loop and the channel it publishes to.
type ControlPlane struct {
	cfg      Config
	ch       image.Channel
	client   *http.Client
	cache    *warmcache.Store
	counters *stats.Counters
	nowUnix  func() int64
}

// New returns a ControlPlane that publishes to ch. cache may be nil,
// in which case warm-start is skipped. counters may be nil, in which
// case no DB status is reported (status introspection is optional).
func New(cfg Config, ch image.Channel, cache *warmcache.Store, counters *stats.Counters) *ControlPlane {
	return &ControlPlane{
		cfg:      cfg,
		ch:       ch,
		client:   &http.Client{Timeout: 5 * time.Minute},
		cache:    cache,
		counters: counters,
		nowUnix:  func() int64 { return time.Now().Unix() },
	}
}

// Run raises RLIMIT_MEMLOCK, attempts a warm-start from the cache
// sidecar, then refreshes both DB kinds immediately and on every
// subsequent tick until ctx is cancelled.
func (cp *ControlPlane) Run(ctx context.Context) error {
	if err := raiseMemlockRlimit(); err != nil {
		logrus.WithError(err).Warn("controlplane: could not raise RLIMIT_MEMLOCK, continuing with current limit")
	}

	cp.warmStart()

	if err := cp.refreshAll(ctx); err != nil {
		logrus.WithError(err).Error("controlplane: initial refresh failed, fast plane has no image yet")
	}

	ticker := time.NewTicker(cp.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logrus.Info("controlplane: shutting down")
			return nil
		case <-ticker.C:
			if err := cp.refreshAll(ctx); err != nil {
				logrus.WithError(err).Warn("controlplane: refresh failed, keeping previous image")
			}
		}
	}
}

func (cp *ControlPlane) warmStart() {
	if cp.cache == nil {
		return
	}
	for _, kind := range []image.Kind{image.Country, image.ASN} {
		snap, ok, err := cp.cache.Load(kind)
		if err != nil {
			logrus.WithError(err).WithField("kind", kind).Warn("controlplane: warm-start cache read failed")
			continue
		}
		if !ok {
			continue
		}
		if err := cp.publish(kind, snap.Image, snap.NodeCount, snap.RecordSize, snap.BuiltAt); err != nil {
			logrus.WithError(err).WithField("kind", kind).Warn("controlplane: warm-start publish failed")
		}
	}
}

func (cp *ControlPlane) refreshAll(ctx context.Context) error {
	countryErr := cp.refreshKind(ctx, image.Country, cp.cfg.CountryEdition,
		record.CountryPredicate(cp.cfg.SourceCountries))

	asnErr := cp.refreshKind(ctx, image.ASN, cp.cfg.ASNEdition,
		record.ASNPredicate(cp.cfg.SourceASN))

	if countryErr != nil {
		return countryErr
	}
	return asnErr
}

func (cp *ControlPlane) refreshKind(ctx context.Context, kind image.Kind, edition string, predicate compactor.Predicate) error {
	path, err := download.Fetch(ctx, cp.client, cp.cfg.DBPath, edition, cp.cfg.MaxMindKey)
	if err != nil {
		return err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: %v", geoerr.ErrFileNotFound, err)
	}

	tr, err := trie.Parse(raw)
	if err != nil {
		return err
	}

	compacted, err := compactor.Compact(tr, predicate)
	if err != nil {
		return err
	}

	meta := tr.Metadata()
	builtAt := cp.nowUnix()
	if err := cp.publish(kind, compacted, meta.NodeCount, meta.RecordSize, builtAt); err != nil {
		return err
	}

	if cp.cache != nil {
		if err := cp.cache.Save(kind, compacted, meta.NodeCount, meta.RecordSize); err != nil {
			logrus.WithError(err).WithField("kind", kind).Warn("controlplane: warm-start cache write failed")
		}
	}

	logrus.WithFields(logrus.Fields{
		"kind":        kind,
		"node_count":  meta.NodeCount,
		"record_size": meta.RecordSize,
	}).Info("controlplane: refreshed GeoDB image")

	return nil
}

func (cp *ControlPlane) publish(kind image.Kind, compacted []byte, nodeCount, recordSize uint32, builtAt int64) error {
	if err := cp.ch.WriteImage(kind, compacted); err != nil {
		return err
	}

	var nodeParam, sizeParam image.Parameter
	switch kind {
	case image.Country:
		nodeParam, sizeParam = image.ParamCountryNodeCount, image.ParamCountryRecordSize
	case image.ASN:
		nodeParam, sizeParam = image.ParamASNNodeCount, image.ParamASNRecordSize
	}

	if err := cp.ch.WriteParam(nodeParam, nodeCount); err != nil {
		return err
	}
	if err := cp.ch.WriteParam(sizeParam, recordSize); err != nil {
		return err
	}

	if cp.counters != nil {
		cp.counters.SetDBStatus(kind, stats.DBStatus{NodeCount: nodeCount, RecordSize: recordSize, BuiltAt: builtAt})
	}
	return nil
}

// raiseMemlockRlimit mirrors the original program's setrlimit call: BPF
// maps are locked memory, and the default limit is too small to hold a
// multi-megabyte GeoDB image.
func raiseMemlockRlimit() error {
	limit := unix.Rlimit{Cur: unix.RLIM_INFINITY, Max: unix.RLIM_INFINITY}
	return unix.Setrlimit(unix.RLIMIT_MEMLOCK, &limit)
}
