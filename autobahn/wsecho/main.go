// Wsecho tests gong's [WebSocket server] against the
// fuzzing client of the [Autobahn Testsuite]: it serves
// an echo handler on the port the suite's default
// "fuzzingclient.json" configuration points at.
//
// [WebSocket server]: https://pkg.go.dev/github.com/tzrikka/gong/pkg/websocket
// [Autobahn Testsuite]: https://github.com/crossbario/autobahn-testsuite
package main

import (
	"context"
	"log/slog"
	"os"

	altsrc "github.com/urfave/cli-altsrc/v3"
	"github.com/urfave/cli/v3"

	"github.com/tzrikka/gong/internal/logger"
	"github.com/tzrikka/gong/pkg/http/wsgate"
	"github.com/tzrikka/gong/pkg/websocket"
	"github.com/tzrikka/xdg"
)

const (
	port = "9002"
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})))

	path, err := xdg.CreateFile(xdg.ConfigHome, "gong", "config.toml")
	if err != nil {
		logger.FatalError("failed to create config file", err)
	}

	cmd := &cli.Command{
		Name:  "wsecho",
		Flags: wsgate.Flags(altsrc.StringSourcer(path)),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			ctx = logger.InContext(ctx, slog.Default())
			s := wsgate.NewServer(ctx, cmd, websocket.NewEchoHandler())
			return s.Run()
		},
	}

	if err := cmd.Run(context.Background(), []string{"wsecho", "--ws-port", port}); err != nil {
		logger.FatalError("server error", err)
	}
}
