package cli

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/cilium/ebpf"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ishanjain28/geofw/internal/classifier"
	"github.com/ishanjain28/geofw/internal/config"
	"github.com/ishanjain28/geofw/internal/controlplane"
	"github.com/ishanjain28/geofw/internal/image"
	"github.com/ishanjain28/geofw/internal/stats"
	"github.com/ishanjain28/geofw/internal/warmcache"
)

const (
	countryImageCapacityBytes = 50 << 20
	asnImageCapacityBytes     = 20 << 20
)

func newRunCmd() *cobra.Command {
	var (
		useEBPFMaps bool
		httpAddr    string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "start the control plane and fast-plane capture loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMain(cmd.Context(), configPath, useEBPFMaps, httpAddr)
		},
	}

	cmd.Flags().BoolVar(&useEBPFMaps, "ebpf", false, "back the shared image channel with real BPF array maps instead of the in-process software channel")
	cmd.Flags().StringVar(&httpAddr, "http", "", "address to serve read-only JSON stats on, e.g. :9090 (disabled if empty)")

	return cmd
}

func runMain(parent context.Context, configPath string, useEBPFMaps bool, httpAddr string) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ch, err := buildChannel(useEBPFMaps)
	if err != nil {
		return err
	}

	cache, err := warmcache.New(cfg.DB.Path, func() int64 { return time.Now().Unix() })
	if err != nil {
		logrus.WithError(err).Warn("run: warm-start cache unavailable, starting cold")
		cache = nil
	}

	counters := stats.New()
	cp := controlplane.New(controlplane.Config{
		RefreshInterval: cfg.RefreshIntervalDuration(),
		DBPath:          cfg.DB.Path,
		MaxMindKey:      cfg.DB.MaxMindKey,
		CountryEdition:  "GeoLite2-Country",
		ASNEdition:      "GeoLite2-ASN",
		SourceCountries: cfg.CountrySet(),
		SourceASN:       cfg.ASNSet(),
	}, ch, cache, counters)

	clf := classifier.New(ch)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return cp.Run(gctx) })
	g.Go(func() error { return clf.RunAFPacket(gctx, cfg.Interface, counters) })

	if httpAddr != "" {
		srv := stats.NewServer(httpAddr, counters)
		g.Go(func() error { return srv.Run(gctx) })
	}

	return g.Wait()
}

func buildChannel(useEBPFMaps bool) (image.Channel, error) {
	if !useEBPFMaps {
		return image.NewSoftwareChannel(), nil
	}

	countryMap, err := ebpf.NewMap(image.NewImageMapSpec("geofw_country_image", countryImageCapacityBytes))
	if err != nil {
		return nil, err
	}
	asnMap, err := ebpf.NewMap(image.NewImageMapSpec("geofw_asn_image", asnImageCapacityBytes))
	if err != nil {
		return nil, err
	}
	paramMap, err := ebpf.NewMap(image.NewParamMapSpec("geofw_params"))
	if err != nil {
		return nil, err
	}

	images := map[image.Kind]*ebpf.Map{
		image.Country: countryMap,
		image.ASN:     asnMap,
	}
	return image.NewEBPFChannel(images, paramMap), nil
}
