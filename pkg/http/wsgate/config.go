package wsgate

import (
	"errors"

	altsrc "github.com/urfave/cli-altsrc/v3"
	"github.com/urfave/cli-altsrc/v3/toml"
	"github.com/urfave/cli/v3"
)

const (
	DefaultPort = 14490
)

// Flags defines CLI flags to configure the WebSocket server. Usually these
// flags are set using environment variables or the application's
// configuration file.
func Flags(configFilePath altsrc.StringSourcer) []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:  "ws-port",
			Usage: "local port number for WebSocket connections",
			Value: DefaultPort,
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("GONG_WS_PORT"),
				toml.TOML("ws_server.port", configFilePath),
			),
			Validator: validatePort,
		},
		&cli.StringFlag{
			Name:  "auth-secret",
			Usage: "optional HMAC secret; when set, upgrade requests must carry a valid bearer token",
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("GONG_AUTH_SECRET"),
				toml.TOML("ws_server.auth_secret", configFilePath),
			),
		},
		&cli.BoolFlag{
			Name:  "metrics",
			Usage: "record connection and message counters in local CSV files",
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("GONG_METRICS"),
				toml.TOML("ws_server.metrics", configFilePath),
			),
		},
	}
}

func validatePort(p int) error {
	if p < 0 || p > 65535 {
		return errors.New("out of range [0-65535]")
	}
	return nil
}
