// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Command snapmon connects to a Snapcast server, prints a summary of its
// state, logs every notification and connection event, and serves
// Prometheus metrics until interrupted.
package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/juju/errors"
	"github.com/juju/gnuflag"
	"github.com/juju/loggo"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/luxfi/snapcast"
)

var logger = loggo.GetLogger("snapmon")

type config struct {
	addr        string
	configPath  string
	metricsAddr string
	logConfig   string
	verbose     bool
}

func parseArgs(args []string, stderr io.Writer) (config, error) {
	var cfg config
	flags := gnuflag.NewFlagSet("snapmon", gnuflag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.StringVar(&cfg.addr, "addr", "localhost:1705", "Snapcast control address")
	flags.StringVar(&cfg.configPath, "config", "", "YAML options file")
	flags.StringVar(&cfg.metricsAddr, "metrics", ":9105", "address to serve /metrics on, empty to disable")
	flags.StringVar(&cfg.logConfig, "log", "<root>=INFO", "logging configuration")
	flags.BoolVar(&cfg.verbose, "verbose", false, "log every message sent and received")
	if err := flags.Parse(true, args); err != nil {
		return config{}, errors.Trace(err)
	}
	if flags.NArg() > 0 {
		return config{}, errors.Errorf("unexpected arguments: %v", flags.Args())
	}
	return cfg, nil
}

func loadOptions(cfg config) (snapcast.Options, error) {
	opts := snapcast.DefaultOptions()
	if cfg.configPath != "" {
		var err error
		if opts, err = snapcast.LoadOptions(cfg.configPath); err != nil {
			return snapcast.Options{}, errors.Trace(err)
		}
	}
	if cfg.verbose {
		opts.EnableVerboseLogging = true
	}
	return opts, nil
}

func setupLogging(spec string) error {
	writer := loggo.NewSimpleWriter(os.Stderr, func(entry loggo.Entry) string {
		ts := entry.Timestamp.In(time.UTC).Format("2006-01-02 15:04:05")
		return fmt.Sprintf("%s %s %s %s", ts, entry.Level, entry.Module, entry.Message)
	})
	if _, err := loggo.ReplaceDefaultWriter(writer); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(loggo.ConfigureLoggers(spec))
}

func main() {
	cfg, err := parseArgs(os.Args[1:], os.Stderr)
	if err != nil {
		os.Exit(2)
	}
	if err := setupLogging(cfg.logConfig); err != nil {
		fmt.Fprintf(os.Stderr, "snapmon: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg); err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config) error {
	opts, err := loadOptions(cfg)
	if err != nil {
		return errors.Trace(err)
	}

	rc, err := snapcast.NewResilientConnection(cfg.addr, snapcast.WithOptions(opts))
	if err != nil {
		return errors.Trace(err)
	}
	rc.OnStateChange(func(ch snapcast.StateChange) {
		logger.Infof("connection %s -> %s", ch.Old, ch.New)
	})
	rc.OnReconnectAttempt(func(a snapcast.ReconnectAttempt) {
		logger.Warningf("connection attempt %d failed: %v", a.Attempt, a.Err)
	})
	rc.CircuitBreaker().OnStateChange(func(ch snapcast.BreakerChange) {
		logger.Warningf("circuit breaker %s -> %s", ch.Old, ch.New)
	})
	if err := rc.Connect(ctx); err != nil {
		_ = rc.Close()
		return errors.Annotatef(err, "connecting to %s", cfg.addr)
	}

	client, err := snapcast.NewClient(rc, snapcast.WithOptions(opts))
	if err != nil {
		_ = rc.Close()
		return errors.Trace(err)
	}
	defer client.Close()
	watch(client)

	if err := summarize(ctx, client); err != nil {
		return errors.Trace(err)
	}

	var srv *http.Server
	if cfg.metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv = &http.Server{Addr: cfg.metricsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Errorf("metrics server: %v", err)
			}
		}()
		logger.Infof("serving metrics on %s", cfg.metricsAddr)
	}

	<-ctx.Done()
	logger.Infof("shutting down")
	if srv != nil {
		sctx, cancel := context.WithTimeout(context.Background(), opts.ShutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}
	return nil
}

func summarize(ctx context.Context, client *snapcast.Client) error {
	version, err := client.ServerGetRPCVersion(ctx)
	if err != nil {
		return errors.Annotate(err, "getting RPC version")
	}
	status, err := client.ServerGetStatus(ctx)
	if err != nil {
		return errors.Annotate(err, "getting server status")
	}
	info := status.Server.SnapServer
	logger.Infof("%s %s on %s, control protocol %d.%d.%d",
		info.Name, info.Version, status.Server.Host.Name, version.Major, version.Minor, version.Patch)
	for _, g := range status.Groups {
		logger.Infof("group %s %q: stream %s, %d client(s), muted %t", g.ID, g.Name, g.StreamID, len(g.Clients), g.Muted)
		for _, c := range g.Clients {
			logger.Infof("  client %s %q: connected %t, volume %d%%, muted %t",
				c.ID, c.Config.Name, c.Connected, c.Config.Volume.Percent, c.Config.Volume.Muted)
		}
	}
	for _, s := range status.Streams {
		logger.Infof("stream %s: %s (%s)", s.ID, s.Status, s.URI.Raw)
	}
	return nil
}

func watch(client *snapcast.Client) {
	client.OnClientConnect(func(ev snapcast.ClientConnection) {
		logger.Infof("client %s connected", ev.ID)
	})
	client.OnClientDisconnect(func(ev snapcast.ClientConnection) {
		logger.Infof("client %s disconnected", ev.ID)
	})
	client.OnClientVolumeChanged(func(ev snapcast.ClientVolumeChange) {
		logger.Infof("client %s volume %d%%, muted %t", ev.ID, ev.Volume.Percent, ev.Volume.Muted)
	})
	client.OnClientLatencyChanged(func(ev snapcast.ClientLatencyChange) {
		logger.Infof("client %s latency %dms", ev.ID, ev.Latency)
	})
	client.OnClientNameChanged(func(ev snapcast.NameChange) {
		logger.Infof("client %s renamed %q", ev.ID, ev.Name)
	})
	client.OnGroupMute(func(ev snapcast.GroupMuteChange) {
		logger.Infof("group %s muted %t", ev.ID, ev.Mute)
	})
	client.OnGroupStreamChanged(func(ev snapcast.GroupStreamChange) {
		logger.Infof("group %s now plays %s", ev.ID, ev.StreamID)
	})
	client.OnGroupNameChanged(func(ev snapcast.NameChange) {
		logger.Infof("group %s renamed %q", ev.ID, ev.Name)
	})
	client.OnStreamProperties(func(ev snapcast.StreamPropertiesChange) {
		logger.Debugf("stream %s properties changed", ev.ID)
	})
	client.OnStreamUpdate(func(ev snapcast.StreamUpdate) {
		logger.Infof("stream %s: %s", ev.ID, ev.Stream.Status)
	})
	client.OnServerUpdate(func(ev snapcast.ServerUpdate) {
		logger.Infof("server update: %d group(s), %d stream(s)", len(ev.Server.Groups), len(ev.Server.Streams))
	})
}
