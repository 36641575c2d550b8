// Command gows-server runs a standalone gows engine: it binds a listen
// port, echoes every text and binary message it receives back to the
// sender, and periodically pings every open connection to demonstrate
// the keepalive accounting described by the engine.
package main

import (
	"context"
	"fmt"
	"os"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
	altsrc "github.com/urfave/cli-altsrc/v3"
	"github.com/urfave/cli-altsrc/v3/toml"
	"github.com/urfave/cli/v3"
	"github.com/tzrikka/xdg"

	"github.com/pepnova9/gows/pkg/ws"
)

const (
	configDirName  = "gows"
	configFileName = "config.toml"
)

func main() {
	version := "(devel)"
	if bi, ok := debug.ReadBuildInfo(); ok {
		version = bi.Main.Version
	}

	cmd := &cli.Command{
		Name:    "gows-server",
		Usage:   "standalone RFC 6455 WebSocket echo server",
		Version: version,
		Flags:   flags(),
		Action:  run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func flags() []cli.Flag {
	path := configFile()

	return []cli.Flag{
		&cli.BoolFlag{
			Name:  "pretty-log",
			Usage: "human-readable console logging, instead of JSON",
		},
		&cli.StringFlag{
			Name:  "host",
			Usage: "bind address",
			Value: "0.0.0.0",
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("GOWS_HOST"),
				toml.TOML("host", path),
			),
		},
		&cli.IntFlag{
			Name:  "port",
			Usage: "listen port",
			Value: 8080,
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("GOWS_PORT"),
				toml.TOML("port", path),
			),
		},
		&cli.IntFlag{
			Name:  "max-clients",
			Usage: "maximum number of simultaneous connections",
			Value: ws.DefaultMaxClients,
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("GOWS_MAX_CLIENTS"),
				toml.TOML("max_clients", path),
			),
		},
		&cli.DurationFlag{
			Name:  "send-timeout",
			Usage: "per-frame write deadline, 0 disables it",
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("GOWS_SEND_TIMEOUT"),
				toml.TOML("send_timeout", path),
			),
		},
		&cli.DurationFlag{
			Name:  "ping-interval",
			Usage: "interval between keepalive ping sweeps",
			Value: 10 * time.Second,
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("GOWS_PING_INTERVAL"),
				toml.TOML("ping_interval", path),
			),
		},
		&cli.IntFlag{
			Name:  "ping-threshold",
			Usage: "unacknowledged pings tolerated before a connection is force-closed",
			Value: 2,
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("GOWS_PING_THRESHOLD"),
				toml.TOML("ping_threshold", path),
			),
		},
		&cli.StringFlag{
			Name:  "activity-log",
			Usage: "path to a CSV file recording connection lifecycle events; empty disables it",
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("GOWS_ACTIVITY_LOG"),
				toml.TOML("activity_log", path),
			),
		},
	}
}

// configFile returns the path to gows-server's configuration file,
// creating an empty one on first run.
func configFile() altsrc.StringSourcer {
	path, err := xdg.CreateFile(xdg.ConfigHome, configDirName, configFileName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create config file: %v\n", err)
		os.Exit(1)
	}
	return altsrc.StringSourcer(path)
}

func run(ctx context.Context, cmd *cli.Command) error {
	logger := newLogger(cmd.Bool("pretty-log"))

	var activityFile *os.File
	if p := cmd.String("activity-log"); p != "" {
		f, err := os.OpenFile(p, os.O_APPEND|os.O_CREATE|os.O_WRONLY, xdg.NewFilePermissions)
		if err != nil {
			return fmt.Errorf("opening activity log: %w", err)
		}
		defer f.Close()
		activityFile = f
	}

	cfg := &ws.Config{
		Host:           cmd.String("host"),
		Port:           int(cmd.Int("port")),
		Background:     true,
		SendTimeout:    cmd.Duration("send-timeout"),
		MaxClients:     int(cmd.Int("max-clients")),
		MaxFrameLength: ws.DefaultMaxFrameLength,
		Logger:         logger,
		OnOpen: func(h ws.Handle) {
			logger.Info().Int64("handle", int64(h)).Msg("connection opened")
		},
		OnClose: func(h ws.Handle) {
			logger.Info().Int64("handle", int64(h)).Msg("connection closed")
		},
	}
	if activityFile != nil {
		cfg.ActivityLog = activityFile
	}
	// Echo every message back to its sender. This, and the ping sweep
	// below, is the entire demo application; the engine does not need
	// more than a registered OnMessage to be exercised end to end.
	var server *ws.Server
	cfg.OnMessage = func(h ws.Handle, data []byte, t ws.MessageType) {
		if _, err := server.SendFrame(h, data, t); err != nil {
			logger.Debug().Err(err).Int64("handle", int64(h)).Msg("echo failed")
		}
	}

	var err error
	server, err = ws.Serve(ctx, cfg)
	if err != nil {
		return err
	}
	logger.Info().Str("addr", server.ListenAddr().String()).Msg("gows-server listening")

	threshold := int(cmd.Int("ping-threshold"))
	ticker := time.NewTicker(cmd.Duration("ping-interval"))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return server.Shutdown(context.Background())
		case <-ticker.C:
			server.Ping(0, threshold)
		}
	}
}

func newLogger(pretty bool) zerolog.Logger {
	if pretty {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}
