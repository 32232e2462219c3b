// Command server runs the LAN relay: browsers on the same network connect
// to it to find each other, share rooms, and pass WebRTC signaling and file
// chunks without any outside service.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/Tyrowin/lanrelay/internal/server"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "lanrelay: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var (
		configPath string
		logLevel   string
		logFormat  string
	)

	cfg := server.NewConfig()

	flagSet := pflag.NewFlagSet("lanrelay", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", os.Getenv("LANRELAY_CONFIG"), "path to a YAML config file")
	flagSet.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	flagSet.StringVar(&logFormat, "log-format", "text", "log format: text or json")
	port := flagSet.StringP("port", "p", "", "listen address, e.g. :8080")
	advertise := flagSet.String("advertise", "", "LAN address reported to clients (detected when empty)")
	origins := flagSet.StringSlice("allowed-origin", nil, "extra browser origin allowed to connect (repeatable, * for any)")
	maxClients := flagSet.Int("max-clients", 0, "maximum concurrent clients")
	maxRooms := flagSet.Int("max-rooms", 0, "maximum concurrent rooms")

	if err := flagSet.Parse(args); err != nil {
		return err
	}

	logger, err := newLogger(logLevel, logFormat)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	if configPath != "" {
		if err := server.LoadConfigFile(cfg, configPath); err != nil {
			return err
		}
	}
	server.ApplyEnv(cfg, os.Getenv)

	if *port != "" {
		cfg.Port = *port
	}
	if *advertise != "" {
		cfg.AdvertiseAddress = *advertise
	}
	if len(*origins) > 0 {
		cfg.AllowedOrigins = append(cfg.AllowedOrigins, *origins...)
	}
	if *maxClients > 0 {
		cfg.Limits.MaxClients = *maxClients
	}
	if *maxRooms > 0 {
		cfg.Limits.MaxRooms = *maxRooms
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	relay := server.New(*cfg, server.WithLogger(logger))
	info, err := relay.Start(ctx)
	if err != nil {
		return err
	}
	logger.Info("lan relay ready", "address", info.Address, "port", info.Port, "http_url", info.HTTPURL, "ws_url", info.WSURL)

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return relay.Stop(shutdownCtx)
}

func newLogger(level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q: %w", level, err)
	}

	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "text":
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	default:
		return nil, fmt.Errorf("invalid --log-format %q", format)
	}
}
