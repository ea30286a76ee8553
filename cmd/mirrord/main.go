// Command mirrord is the daemon entrypoint: it parses configuration, builds
// one subvol.Subvol per configured child, wires them through mirror.New,
// and serves the status/notification HTTP surface and the background
// self-heal crawl until signaled to stop.
/*
 * Copyright (c) 2026, Project Authors. All rights reserved.
 */
package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"github.com/replifs/afr/cmn"
	"github.com/replifs/afr/cmn/nlog"
	"github.com/replifs/afr/event"
	"github.com/replifs/afr/heal"
	"github.com/replifs/afr/mirror"
	"github.com/replifs/afr/subvol"
)

func main() {
	defer nlog.Flush()

	cfg := cmn.Defaults()
	fs := pflag.NewFlagSet("mirrord", pflag.ExitOnError)
	cfg.RegisterFlags(fs)

	var roots string
	var configPath string
	var jwtSecret string
	var healPeriod time.Duration
	fs.StringVar(&roots, "local-roots", "", "comma-separated local-disk roots, one per child, in index order")
	fs.StringVar(&configPath, "config", "", "optional HuJSON config file overlaid on top of flags")
	fs.StringVar(&jwtSecret, "jwt-secret", "", "bearer-JWT secret for the admin endpoints; empty disables auth")
	fs.DurationVar(&healPeriod, "heal-crawl-period", time.Minute, "background self-heal crawl interval")
	_ = fs.Parse(os.Args[1:])

	if configPath != "" {
		if err := cfg.LoadFile(configPath); err != nil {
			nlog.Errorf("mirrord: load config %s: %v", configPath, err)
			os.Exit(1)
		}
	}

	subvols, err := buildSubvols(cfg, roots)
	if err != nil {
		nlog.Errorf("mirrord: %v", err)
		os.Exit(1)
	}

	t, err := mirror.New(cfg, subvols)
	if err != nil {
		nlog.Errorf("mirrord: translator init: %v", err)
		os.Exit(1)
	}

	backlog, err := heal.OpenBacklog(cfg.HealBacklogPath)
	if err != nil {
		nlog.Errorf("mirrord: open heal backlog: %v", err)
		os.Exit(1)
	}
	defer backlog.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if cfg.SelfHealDaemon && len(subvols) > 0 {
		if ld, ok := subvols[0].(*subvol.LocalDisk); ok {
			scheduler := heal.NewScheduler(t.Healer, backlog, ld.Root(), healPeriod, nil)
			go scheduler.Run(ctx)
			go func() {
				ticker := time.NewTicker(healPeriod)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
						scheduler.Drain(ctx, t.Router.LiveChildren())
					}
				}
			}()
		}
	}

	srv := event.NewServer(t.Router, []byte(jwtSecret))

	metricsHandler := fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler())
	metricsSrv := &fasthttp.Server{Handler: metricsHandler}

	nlog.Infof("mirrord: %d children, status endpoint on %s", cfg.ChildCount, cfg.StatusAddr)
	errCh := make(chan error, 2)
	go func() { errCh <- srv.ListenAndServe(cfg.StatusAddr) }()
	go func() { errCh <- metricsSrv.ListenAndServe(cfg.MetricsAddr) }()

	select {
	case <-ctx.Done():
		nlog.Infof("mirrord: shutting down")
	case err := <-errCh:
		if err != nil {
			nlog.Errorf("mirrord: status server: %v", err)
		}
	}

	for _, s := range subvols {
		_ = s.Close()
	}
}

// buildSubvols constructs one LocalDisk child per comma-separated root in
// --local-roots. The other subvol backends (S3, GCS, Azure, HDFS) are wired
// the same way a deployment-specific build would: by constructing them
// directly with subvol.NewS3/NewGCS/NewAzure/NewHDFS and appending to the
// slice below, which this minimal CLI does not expose as flags.
func buildSubvols(cfg *cmn.Config, roots string) ([]subvol.Subvol, error) {
	var out []subvol.Subvol
	for i, root := range strings.Split(roots, ",") {
		root = strings.TrimSpace(root)
		if root == "" {
			continue
		}
		ld, err := subvol.NewLocalDisk(childName(i), root)
		if err != nil {
			return nil, err
		}
		out = append(out, ld)
	}
	if len(out) == 0 {
		nlog.Warningf("mirrord: no --local-roots given, falling back to %d in-memory-less dummy roots under os.TempDir", cfg.ChildCount)
		for i := 0; i < cfg.ChildCount; i++ {
			dir, err := os.MkdirTemp("", "afr-child-*")
			if err != nil {
				return nil, err
			}
			ld, err := subvol.NewLocalDisk(childName(i), dir)
			if err != nil {
				return nil, err
			}
			out = append(out, ld)
		}
	}
	cfg.ChildCount = len(out)
	return out, nil
}

func childName(i int) string { return "child" + strconv.Itoa(i) }
