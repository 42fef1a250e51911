package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"

	altsrc "github.com/urfave/cli-altsrc/v3"
	"github.com/urfave/cli/v3"

	"github.com/tzrikka/gong/internal/logger"
	"github.com/tzrikka/gong/pkg/http/wsgate"
	"github.com/tzrikka/gong/pkg/websocket"
	"github.com/tzrikka/xdg"
)

const (
	ConfigDirName  = "gong"
	ConfigFileName = "config.toml"
)

func main() {
	bi, _ := debug.ReadBuildInfo()

	cmd := &cli.Command{
		Name:    "gong",
		Usage:   "WebSocket server built on an event-loop protocol engine",
		Version: bi.Main.Version,
		Flags:   flags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			initLog(cmd.Bool("dev") || cmd.Bool("pretty-log"))
			ctx = logger.InContext(ctx, slog.Default())

			s := wsgate.NewServer(ctx, cmd, websocket.NewEchoHandler())

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
			defer stop()
			go func() {
				<-ctx.Done()
				s.Shutdown()
			}()

			return s.Run()
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

func flags() []cli.Flag {
	fs := []cli.Flag{
		&cli.BoolFlag{
			Name:  "dev",
			Usage: "simple setup, but unsafe for production",
		},
		&cli.BoolFlag{
			Name:  "pretty-log",
			Usage: "human-readable console logging, instead of JSON",
		},
	}

	return append(fs, wsgate.Flags(configFile())...)
}

// configFile returns the path to the app's configuration file.
// It also creates an empty file if it doesn't already exist.
func configFile() altsrc.StringSourcer {
	path, err := xdg.CreateFile(xdg.ConfigHome, ConfigDirName, ConfigFileName)
	if err != nil {
		logger.FatalError("failed to create config file", err)
	}
	return altsrc.StringSourcer(path)
}

// initLog initializes the logger for gong's WebSocket server,
// based on whether it's running in development mode or not.
func initLog(devMode bool) {
	var handler slog.Handler
	if devMode {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level:     slog.LevelDebug,
			AddSource: true,
		})
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level:     slog.LevelDebug,
			AddSource: true,
		})
	}

	slog.SetDefault(slog.New(handler))
}
