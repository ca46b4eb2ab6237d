package main

import (
	"context"
	"fmt"
	"os"

	"github.com/matheus3301/deskline/internal/config"
	"github.com/matheus3301/deskline/internal/daemon"
	"github.com/matheus3301/deskline/internal/paths"
	"github.com/spf13/pflag"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	configPath := pflag.String("config", paths.ConfigPath(), "config file")
	dataDir := pflag.String("data-dir", "", "data directory (overrides config)")
	listen := pflag.String("listen", "", "additional TCP address for gRPC (overrides config)")
	httpListen := pflag.String("http-listen", "", "HTTP address for health, metrics and REST (overrides config)")
	redisURL := pflag.String("redis-url", "", "route broadcasts through redis (overrides config)")
	apiKeys := pflag.StringSlice("api-key", nil, "accepted API key, repeatable (overrides config)")
	console := pflag.Bool("console", false, "also log to stderr")
	debug := pflag.Bool("debug", false, "debug logging")
	pflag.Parse()

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: load config: %v\n", err)
		os.Exit(1)
	}

	d := cfg.Daemon
	if *dataDir != "" {
		d.DataDir = *dataDir
	}
	if d.DataDir == "" {
		d.DataDir = paths.DaemonDir()
	}
	if pflag.CommandLine.Changed("listen") {
		d.Listen = *listen
	}
	if pflag.CommandLine.Changed("http-listen") {
		d.HTTPListen = *httpListen
	}
	if pflag.CommandLine.Changed("redis-url") {
		d.RedisURL = *redisURL
	}
	if len(*apiKeys) > 0 {
		d.APIKeys = *apiKeys
	}

	app := fx.New(
		fx.WithLogger(func(l *zap.Logger) fxevent.Logger { return &fxevent.ZapLogger{Logger: l} }),
		daemon.Module(daemon.Params{
			DataDir: d.DataDir,
			Daemon:  d,
			Console: *console,
			Debug:   *debug,
		}),
	)
	if err := app.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	startCtx, cancel := context.WithTimeout(context.Background(), app.StartTimeout())
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		fmt.Fprintf(os.Stderr, "error: start: %v\n", err)
		os.Exit(1)
	}

	sig := <-app.Wait()

	stopCtx, cancelStop := context.WithTimeout(context.Background(), app.StopTimeout())
	defer cancelStop()
	if err := app.Stop(stopCtx); err != nil {
		fmt.Fprintf(os.Stderr, "error: stop: %v\n", err)
		os.Exit(1)
	}
	os.Exit(sig.ExitCode)
}
