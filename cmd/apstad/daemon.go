package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"apsta/config"
	"apsta/device"
	"apsta/internal/logging"
	"apsta/substrate"
	"apsta/substrate/netlinkhost"
	"apsta/substrate/sim"

	systemd "github.com/coreos/go-systemd/v22/daemon"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func runDaemon(ctx context.Context, configPath string, debug, simulate bool) error {
	if configPath == "" {
		configPath = config.Path()
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	level := cfg.Log.Level
	if debug {
		level = logging.LevelDebug
	}
	if err := logging.Configure(level, cfg.Log.Format); err != nil {
		return err
	}

	sub, err := newSubstrate(cfg, simulate)
	if err != nil {
		return err
	}

	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(newLogSpanProcessor(slog.Default())))
	defer func() { _ = provider.Shutdown(context.Background()) }()

	dev, err := device.New(cfg, sub, device.WithTracerProvider(provider))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		select {
		case <-dev.Started():
			if _, err := systemd.SdNotify(false, systemd.SdNotifyReady); err != nil {
				slog.Error("notify systemd that the daemon is ready", "err", err)
			}
		case <-ctx.Done():
		}
	}()

	slog.Info("starting device", "config", configPath, "simulate", simulate)
	return dev.Run(ctx)
}

func newSubstrate(cfg config.Config, simulate bool) (substrate.Substrate, error) {
	if simulate {
		return sim.New(sim.Plan{
			Attempts: []sim.Attempt{{Upstream: cfg.Station.SSID}},
			MaxPeers: cfg.AccessPoint.MaxPeers,
		}), nil
	}

	prefix, err := cfg.AccessPoint.Prefix()
	if err != nil {
		return nil, fmt.Errorf("access point address: %w", err)
	}
	return netlinkhost.New(netlinkhost.Config{
		APInterface:      cfg.AccessPoint.Interface,
		StationInterface: cfg.Station.Interface,
		APPrefix:         prefix,
		Upstream:         cfg.Station.SSID,
	}), nil
}
